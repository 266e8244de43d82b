/* {{{ Copyright (C) 2022 Ali Mosajjal
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>. }}} */

package capture

import (
	"errors"
	"io"

	"github.com/mosajjal/netfeature/internal/util"
)

// Interface is one capture device as shown by --listInterfaces
type Interface struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsUp         bool   `json:"isUp"`
	HasAddresses bool   `json:"hasAddresses"`
	IsLoopback   bool   `json:"isLoopback"`
}

var errNoUsableInterface = errors.New("no interface is up, non-loopback and has an address")

// pickAutoInterface returns the first interface that is up, not loopback and has addresses
func pickAutoInterface(ifaces []Interface) (string, error) {
	for _, i := range ifaces {
		if i.IsUp && !i.IsLoopback && i.HasAddresses {
			return i.Name, nil
		}
	}
	return "", errNoUsableInterface
}

type interfaceListing struct {
	Success    bool        `json:"success"`
	Interfaces []Interface `json:"interfaces"`
}

type interfaceListingError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeInterfaceListing(w io.Writer, ifaces []Interface, listErr error) error {
	var v interface{}
	if listErr != nil {
		v = interfaceListingError{Message: listErr.Error()}
	} else {
		if ifaces == nil {
			ifaces = []Interface{}
		}
		v = interfaceListing{Success: true, Interfaces: ifaces}
	}
	b, err := util.MarshalJSON(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// PrintInterfacesJSON writes the capture devices of this machine to w as one JSON document
func PrintInterfacesJSON(w io.Writer) error {
	ifaces, err := ListInterfaces()
	return writeInterfaceListing(w, ifaces, err)
}

// vim: foldmethod=marker
