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

package decoder

import (
	"encoding/binary"
	"net/netip"
	"strconv"
	"strings"

	"github.com/mosajjal/netfeature/internal/feature"
)

// extension header and upper layer numbers the chain walk knows about
const (
	nhHopByHop    = 0
	nhTCP         = 6
	nhUDP         = 17
	nhRouting     = 43
	nhFragment    = 44
	nhICMPv6      = 58
	nhDestOptions = 60
)

func parseIPv6(b []byte) (feature.IPv6, error) {
	if len(b) < ipv6HeaderLen {
		return feature.IPv6{}, ErrHeaderTooShort
	}

	word0 := binary.BigEndian.Uint32(b[0:4])
	h := feature.IPv6{
		Version:       uint8(word0 >> 28),
		TrafficClass:  uint8(word0 >> 20),
		FlowLabel:     word0 & 0x000fffff,
		PayloadLength: binary.BigEndian.Uint16(b[4:6]),
		NextHeader:    b[6],
		HopLimit:      b[7],
		SrcIP:         netip.AddrFrom16([16]byte(b[8:24])).String(),
		DstIP:         netip.AddrFrom16([16]byte(b[24:40])).String(),
	}

	if len(b) > ipv6HeaderLen {
		var chain []uint8
		h.NextHeader, chain = walkExtensions(h.NextHeader, b[ipv6HeaderLen:])
		if len(chain) > 0 {
			h.ExtensionChain = chain
			h.ExtensionHeaders = []string{describeChain(chain)}
		}
	}
	h.ProtocolName = feature.ProtocolName(h.NextHeader)
	return h, nil
}

// walkExtensions follows the extension header chain in rest starting at next. It returns the
// last type it ended on together with the extension types it stepped over, in order.
func walkExtensions(next uint8, rest []byte) (uint8, []uint8) {
	var chain []uint8
	offset := 0
	for offset < len(rest) {
		switch next {
		case nhHopByHop, nhTCP, nhUDP, nhICMPv6:
			return next, chain
		case nhRouting, nhFragment, nhDestOptions:
			if offset+2 > len(rest) {
				return next, chain
			}
			chain = append(chain, next)
			advance := 8
			if next != nhFragment {
				advance += int(rest[offset+1]) * 8
			}
			next = rest[offset]
			offset += advance
		default:
			return next, chain
		}
	}
	return next, chain
}

func describeChain(chain []uint8) string {
	var sb strings.Builder
	for i, t := range chain {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("Header")
		sb.WriteString(strconv.Itoa(int(t)))
	}
	return sb.String()
}

// vim: foldmethod=marker
