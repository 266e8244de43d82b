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

	"github.com/mosajjal/netfeature/internal/feature"
)

func parseIPv4(b []byte) (feature.IPv4, error) {
	if len(b) < ipv4MinHeaderLen {
		return feature.IPv4{}, ErrHeaderTooShort
	}

	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	h := feature.IPv4{
		Version:        b[0] >> 4,
		IHL:            b[0] & 0x0f,
		TOS:            b[1],
		TotalLength:    binary.BigEndian.Uint16(b[2:4]),
		Identification: binary.BigEndian.Uint16(b[4:6]),
		Flags:          uint8(flagsFrag >> 13),
		FragmentOffset: flagsFrag & 0x1fff,
		TTL:            b[8],
		Protocol:       b[9],
		HeaderChecksum: binary.BigEndian.Uint16(b[10:12]),
		SrcIP:          netip.AddrFrom4([4]byte(b[12:16])).String(),
		DstIP:          netip.AddrFrom4([4]byte(b[16:20])).String(),
	}
	h.ProtocolName = feature.ProtocolName(h.Protocol)

	// options only when the declared header fits in what was captured
	if hdrLen := int(h.IHL) * 4; hdrLen > ipv4MinHeaderLen && hdrLen <= len(b) {
		h.Options = make([]byte, hdrLen-ipv4MinHeaderLen)
		copy(h.Options, b[ipv4MinHeaderLen:hdrLen])
	}
	return h, nil
}

// vim: foldmethod=marker
