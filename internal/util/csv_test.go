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
	"strings"
	"testing"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
)

var csvTS = time.Date(2023, 11, 5, 22, 1, 2, 345678000, time.UTC)

var csvIPv4 = feature.NewIPv4(csvTS, 74, feature.IPv4{
	Version:        4,
	IHL:            6,
	TOS:            0,
	TotalLength:    60,
	Identification: 7,
	Flags:          2,
	FragmentOffset: 0,
	TTL:            64,
	Protocol:       17,
	HeaderChecksum: 4660,
	SrcIP:          "10.0.0.1",
	DstIP:          "10.0.0.2",
	Options:        []byte{0x94, 0x04, 0x00, 0x00},
	ProtocolName:   "UDP",
})

var csvIPv6 = feature.NewIPv6(csvTS, 94, feature.IPv6{
	Version:          6,
	TrafficClass:     0,
	FlowLabel:        12345,
	PayloadLength:    40,
	NextHeader:       6,
	HopLimit:         64,
	SrcIP:            "2001:db8::1",
	DstIP:            "2001:db8::2",
	ExtensionHeaders: []string{"Header60,Header44"},
	ProtocolName:     "TCP",
})

func TestCSVRows(t *testing.T) {
	tests := []struct {
		name string
		mode CSVMode
		f    feature.Feature
		want string
	}{
		{
			name: "both mode ipv4",
			mode: CSVBoth,
			f:    csvIPv4,
			want: "2023-11-05 22:01:02.345678,4,6,0,60,7,2,0,64,17,4660,10.0.0.1,10.0.0.2,94040000,,,,,,,UDP",
		},
		{
			name: "both mode ipv6",
			mode: CSVBoth,
			f:    csvIPv6,
			want: `2023-11-05 22:01:02.345678,6,,,,,,,,,,2001:db8::1,2001:db8::2,,0,12345,40,6,64,"Header60,Header44",TCP`,
		},
		{
			name: "ipv4 only",
			mode: CSVIPv4Only,
			f:    csvIPv4,
			want: "2023-11-05 22:01:02.345678,4,6,0,60,7,2,0,64,17,4660,10.0.0.1,10.0.0.2,94040000,UDP",
		},
		{
			name: "ipv6 only",
			mode: CSVIPv6Only,
			f:    csvIPv6,
			want: `2023-11-05 22:01:02.345678,6,0,12345,40,6,64,2001:db8::1,2001:db8::2,"Header60,Header44",TCP`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(csvOutput{Mode: tt.mode}.Marshal(tt.f))
			if got != tt.want {
				t.Errorf("Expected\n%s\ngot\n%s", tt.want, got)
			}
			header, _ := csvOutput{Mode: tt.mode}.Init()
			// ipv4 rows hold no quoted commas
			if tt.f.Kind == feature.KindIPv4 && strings.Count(got, ",") != strings.Count(header, ",") {
				t.Errorf("Expected as many separators as the header %q", header)
			}
		})
	}
}

func TestCSVSkipsOtherFamily(t *testing.T) {
	if row := (csvOutput{Mode: CSVIPv4Only}).Marshal(csvIPv6); row != nil {
		t.Errorf("Expected nil for ipv6 in ipv4 mode, got %s", row)
	}
	if row := (csvOutput{Mode: CSVIPv6Only}).Marshal(csvIPv4); row != nil {
		t.Errorf("Expected nil for ipv4 in ipv6 mode, got %s", row)
	}
	if row := (csvOutput{}).Marshal(feature.Feature{}); row != nil {
		t.Errorf("Expected nil for an invalid feature, got %s", row)
	}
}

func TestCSVEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"", ""},
		{"a,b", `"a,b"`},
		{`say "hi"`, `"say ""hi"""`},
		{"two\nlines", "\"two\nlines\""},
	}
	for _, tt := range tests {
		if got := csvEscape(tt.in); got != tt.want {
			t.Errorf("csvEscape(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestCSVHeaders(t *testing.T) {
	if n := len(strings.Split(CSVHeader(CSVBoth), ",")); n != 21 {
		t.Errorf("Expected 21 columns in the combined header, got %d", n)
	}
	if n := len(strings.Split(CSVHeader(CSVIPv4Only), ",")); n != 15 {
		t.Errorf("Expected 15 columns in the ipv4 header, got %d", n)
	}
	if n := len(strings.Split(CSVHeader(CSVIPv6Only), ",")); n != 11 {
		t.Errorf("Expected 11 columns in the ipv6 header, got %d", n)
	}
	for format, want := range map[string]CSVMode{"csv": CSVBoth, "csv_ipv4": CSVIPv4Only, "csv_ipv6": CSVIPv6Only, "csv_no_header": CSVBoth} {
		if got, ok := CSVModeOf(format); !ok || got != want {
			t.Errorf("CSVModeOf(%s): expected %d, got %d (%v)", format, want, got, ok)
		}
	}
	if _, ok := CSVModeOf("json"); ok {
		t.Error("json is not a csv format")
	}
}

func BenchmarkCSVMarshal(b *testing.B) {
	c := csvOutput{Mode: CSVBoth}
	for i := 0; i < b.N; i++ {
		c.Marshal(csvIPv6)
	}
}

// vim: foldmethod=marker
