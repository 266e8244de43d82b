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

package util

import (
	"strconv"
	"strings"

	"github.com/mosajjal/netfeature/internal/feature"
)

// CSVMode selects which address family a CSV dataset carries
type CSVMode uint8

const (
	CSVBoth CSVMode = iota
	CSVIPv4Only
	CSVIPv6Only
)

var csvModes = map[string]CSVMode{
	"csv":      CSVBoth,
	"csv_ipv4": CSVIPv4Only,
	"csv_ipv6": CSVIPv6Only,
}

var csvHeaders = map[CSVMode]string{
	CSVBoth:     "Timestamp,Version,IHL,TOS,TotalLength,Identification,Flags,FragmentOffset,TTL,Protocol,HeaderChecksum,SrcIP,DstIP,OptionsHex,TrafficClass,FlowLabel,PayloadLength,NextHeader,HopLimit,ExtensionHeaders,ProtocolName",
	CSVIPv4Only: "Timestamp,Version,IHL,TOS,TotalLength,Identification,Flags,FragmentOffset,TTL,Protocol,HeaderChecksum,SrcIP,DstIP,OptionsHex,ProtocolName",
	CSVIPv6Only: "Timestamp,Version,TrafficClass,FlowLabel,PayloadLength,NextHeader,HopLimit,SrcIP,DstIP,ExtensionHeaders,ProtocolName",
}

type csvOutput struct {
	Mode CSVMode
}

// csvEscape quotes a field holding a comma, a quote or a newline and doubles the quotes inside it
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func num(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func ipv4Cells(h *feature.IPv4) []string {
	return []string{
		num(uint64(h.Version)),
		num(uint64(h.IHL)),
		num(uint64(h.TOS)),
		num(uint64(h.TotalLength)),
		num(uint64(h.Identification)),
		num(uint64(h.Flags)),
		num(uint64(h.FragmentOffset)),
		num(uint64(h.TTL)),
		num(uint64(h.Protocol)),
		num(uint64(h.HeaderChecksum)),
		csvEscape(h.SrcIP),
		csvEscape(h.DstIP),
		h.OptionsHex(),
	}
}

func ipv6Cells(h *feature.IPv6) []string {
	return []string{
		num(uint64(h.TrafficClass)),
		num(uint64(h.FlowLabel)),
		num(uint64(h.PayloadLength)),
		num(uint64(h.NextHeader)),
		num(uint64(h.HopLimit)),
	}
}

// Marshal renders one dataset row without the trailing newline. Features of a family the mode
// does not carry come back as nil.
func (c csvOutput) Marshal(f feature.Feature) []byte {
	if !f.Valid() {
		return nil
	}
	ts := feature.FormatTimestamp(f.Timestamp)
	var row []string

	switch c.Mode {
	case CSVIPv4Only:
		if f.Kind != feature.KindIPv4 {
			return nil
		}
		row = append([]string{ts}, ipv4Cells(f.IPv4)...)
		row = append(row, csvEscape(f.IPv4.ProtocolName))
	case CSVIPv6Only:
		if f.Kind != feature.KindIPv6 {
			return nil
		}
		h := f.IPv6
		row = []string{ts, num(uint64(h.Version))}
		row = append(row, ipv6Cells(h)...)
		row = append(row, csvEscape(h.SrcIP), csvEscape(h.DstIP), csvEscape(h.ExtensionHeadersText()), csvEscape(h.ProtocolName))
	default:
		// both families share one header, the cells of the other family stay empty
		row = make([]string, 0, 21)
		row = append(row, ts)
		switch f.Kind {
		case feature.KindIPv4:
			row = append(row, ipv4Cells(f.IPv4)...)
			row = append(row, "", "", "", "", "", "", csvEscape(f.IPv4.ProtocolName))
		case feature.KindIPv6:
			h := f.IPv6
			row = append(row, num(uint64(h.Version)), "", "", "", "", "", "", "", "", "", csvEscape(h.SrcIP), csvEscape(h.DstIP), "")
			row = append(row, ipv6Cells(h)...)
			row = append(row, csvEscape(h.ExtensionHeadersText()), csvEscape(h.ProtocolName))
		}
	}
	return []byte(strings.Join(row, ","))
}

// Init returns the header line matching the mode
func (c csvOutput) Init() (string, error) {
	return csvHeaders[c.Mode], nil
}

// CSVHeader is the header line of a csv mode, used by outputs that decide themselves when to write it
func CSVHeader(m CSVMode) string {
	return csvHeaders[m]
}

// CSVModeOf maps a csv output format to its mode, ok is false for every other format
func CSVModeOf(format string) (mode CSVMode, ok bool) {
	if format == "csv_no_header" {
		return CSVBoth, true
	}
	mode, ok = csvModes[format]
	return mode, ok
}

// NewCSVMarshaller returns the dataset row marshaller for a mode
func NewCSVMarshaller(m CSVMode) OutputMarshaller {
	return csvOutput{Mode: m}
}

// vim: foldmethod=marker
