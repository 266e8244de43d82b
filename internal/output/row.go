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

package output

import (
	"net"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
)

// flatFeature is one feature laid out as a single table row, the shape the database and columnar
// outputs store. Fields with the same meaning in both families share a column: TOS holds the IPv6
// traffic class, Length the IPv6 payload length and Options the extension header chain.
// Narrow header fields are widened to uint32, parquet-go cannot write 8 or 16 bit integers.
type flatFeature struct {
	Timestamp      time.Time `parquet:"timestamp,snappy"`
	IPVersion      uint32    `parquet:"ip_version,snappy,dict"`
	SrcIP          string    `parquet:"src_ip,snappy"`
	DstIP          string    `parquet:"dst_ip,snappy"`
	Protocol       uint32    `parquet:"protocol,snappy,dict"`
	ProtocolName   string    `parquet:"protocol_name,snappy,dict"`
	TTL            uint32    `parquet:"ttl,snappy"`
	FrameLength    uint32    `parquet:"frame_length,snappy"`
	TOS            uint32    `parquet:"tos,snappy"`
	Length         uint32    `parquet:"length,snappy"`
	IHL            uint32    `parquet:"ihl,snappy,dict"`
	Identification uint32    `parquet:"identification,snappy"`
	Flags          uint32    `parquet:"flags,snappy,dict"`
	FragmentOffset uint32    `parquet:"fragment_offset,snappy"`
	HeaderChecksum uint32    `parquet:"header_checksum,snappy"`
	FlowLabel      uint32    `parquet:"flow_label,snappy"`
	Options        string    `parquet:"options,snappy,optional"`
}

func flatten(f feature.Feature) flatFeature {
	row := flatFeature{
		Timestamp:    f.Timestamp,
		IPVersion:    uint32(f.Kind),
		SrcIP:        f.SrcIP(),
		DstIP:        f.DstIP(),
		Protocol:     uint32(f.ProtocolNumber()),
		ProtocolName: f.ProtocolName(),
		TTL:          uint32(f.TTL()),
		FrameLength:  f.FrameLength,
	}
	switch {
	case f.IPv4 != nil:
		h := f.IPv4
		row.TOS = uint32(h.TOS)
		row.Length = uint32(h.TotalLength)
		row.IHL = uint32(h.IHL)
		row.Identification = uint32(h.Identification)
		row.Flags = uint32(h.Flags)
		row.FragmentOffset = uint32(h.FragmentOffset)
		row.HeaderChecksum = uint32(h.HeaderChecksum)
		row.Options = h.OptionsHex()
	case f.IPv6 != nil:
		h := f.IPv6
		row.TOS = uint32(h.TrafficClass)
		row.Length = uint32(h.PayloadLength)
		row.FlowLabel = h.FlowLabel
		row.Options = h.ExtensionHeadersText()
	}
	return row
}

// ip16 renders a textual address as the 16 byte form IPv6 typed database columns take
func ip16(addr string) net.IP {
	return net.ParseIP(addr).To16()
}

// vim: foldmethod=marker
