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
	"bytes"
	"encoding/gob"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONMarshaller(t *testing.T) {
	marshaller := jsonOutput{}
	header, err := marshaller.Init()
	if err != nil || header != "" {
		t.Errorf("jsonOutput.Init() returned %q, %v", header, err)
	}

	data := marshaller.Marshal(csvIPv4)
	var decoded struct {
		Kind        string
		FrameLength uint32
		IPv4        struct {
			SrcIP        string
			TTL          uint8
			ProtocolName string
		}
		IPv6 *struct{}
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal JSON %s: %v", data, err)
	}
	if decoded.Kind != "IPv4" || decoded.FrameLength != 74 || decoded.IPv4.SrcIP != "10.0.0.1" || decoded.IPv4.TTL != 64 || decoded.IPv4.ProtocolName != "UDP" {
		t.Errorf("unexpected JSON content: %s", data)
	}
	if decoded.IPv6 != nil {
		t.Errorf("the ipv6 variant should be omitted: %s", data)
	}
}

func TestGobMarshaller(t *testing.T) {
	g := gobOutput{}
	if _, err := g.Init(); err != nil {
		t.Fatal(err)
	}
	data := g.Marshal(csvIPv6)
	if len(data) == 0 {
		t.Fatal("gobOutput.Marshal() returned empty data")
	}
	var bin FeatureBinary
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&bin); err != nil {
		t.Fatalf("decoding gob: %v", err)
	}
	if diff := cmp.Diff(csvIPv6, bin.Feature()); diff != "" {
		t.Errorf("gob round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGoTemplateMarshaller(t *testing.T) {
	g := goTemplateOutput{RawTemplate: `{{.Kind}} {{.SrcIP}}>{{.DstIP}} {{.ProtocolName}} {{timestamp .Timestamp}} [{{exthdrs .IPv6}}][{{optionshex .IPv4}}]`}
	if _, err := g.Init(); err != nil {
		t.Fatal(err)
	}
	want := "IPv6 2001:db8::1>2001:db8::2 TCP 2023-11-05 22:01:02.345678 [Header60,Header44][]"
	if got := string(g.Marshal(csvIPv6)); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	bad := goTemplateOutput{RawTemplate: "{{.Nope"}
	if _, err := bad.Init(); err == nil {
		t.Error("Expected a parse error for a broken template")
	}
}

func TestOutputFormatToMarshaller(t *testing.T) {
	tests := []struct {
		format     string
		template   string
		wantHeader string
		wantErr    bool
	}{
		{"json", "", "", false},
		{"csv", "", CSVHeader(CSVBoth), false},
		{"csv_ipv4", "", CSVHeader(CSVIPv4Only), false},
		{"csv_ipv6", "", CSVHeader(CSVIPv6Only), false},
		{"csv_no_header", "", "", false},
		{"gotemplate", "{{.Kind}}", "", false},
		{"gotemplate", "{{", "", true},
		{"gob", "", "", false},
		{"xml", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			m, header, err := OutputFormatToMarshaller(tt.format, tt.template)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				return
			}
			if m == nil {
				t.Fatal("Expected a marshaller")
			}
			if header != tt.wantHeader {
				t.Errorf("Expected header %q, got %q", tt.wantHeader, header)
			}
		})
	}
}

func BenchmarkJSONMarshal(b *testing.B) {
	j := jsonOutput{}
	for i := 0; i < b.N; i++ {
		j.Marshal(csvIPv6)
	}
}

// vim: foldmethod=marker
