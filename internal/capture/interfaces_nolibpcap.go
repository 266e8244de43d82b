//go:build nolibpcap || nocgo
// +build nolibpcap nocgo

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
	"net"
)

// ListInterfaces lists the network interfaces known to the OS
func ListInterfaces() ([]Interface, error) {
	sysIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	ifaces := make([]Interface, 0, len(sysIfaces))
	for _, s := range sysIfaces {
		addrs, _ := s.Addrs()
		ifaces = append(ifaces, Interface{
			ID:           s.Index,
			Name:         s.Name,
			IsUp:         s.Flags&net.FlagUp != 0,
			HasAddresses: len(addrs) > 0,
			IsLoopback:   s.Flags&net.FlagLoopback != 0,
		})
	}
	return ifaces, nil
}

// vim: foldmethod=marker
