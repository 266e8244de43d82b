//go:build !nolibpcap && !nocgo
// +build !nolibpcap,!nocgo

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
	"github.com/gopacket/gopacket/pcap"
)

// libpcap interface flags, see pcap/pcap.h
const (
	pcapIfLoopback = 0x00000001
	pcapIfUp       = 0x00000002
)

// ListInterfaces asks libpcap for the capture devices. ids follow the tcpdump -D numbering.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	ifaces := make([]Interface, 0, len(devs))
	for i, d := range devs {
		ifaces = append(ifaces, Interface{
			ID:           i + 1,
			Name:         d.Name,
			Description:  d.Description,
			IsUp:         d.Flags&pcapIfUp != 0,
			HasAddresses: len(d.Addresses) > 0,
			IsLoopback:   d.Flags&pcapIfLoopback != 0,
		})
	}
	return ifaces, nil
}

// vim: foldmethod=marker
