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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jessevdk/go-flags"
	"github.com/parquet-go/parquet-go"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/mosajjal/netfeature/internal/capture"
	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
)

var (
	testTime = time.Date(2023, 11, 5, 22, 1, 2, 345678000, time.UTC)

	testIPv4 = feature.NewIPv4(testTime, 74, feature.IPv4{
		Version:        4,
		IHL:            5,
		TotalLength:    60,
		Identification: 0x1c46,
		Flags:          2,
		TTL:            64,
		Protocol:       6,
		HeaderChecksum: 0xb1e6,
		SrcIP:          "10.0.0.1",
		DstIP:          "10.0.0.2",
		ProtocolName:   "TCP",
	})

	testIPv6 = feature.NewIPv6(testTime, 94, feature.IPv6{
		Version:       6,
		TrafficClass:  0x20,
		FlowLabel:     0x12345,
		PayloadLength: 40,
		NextHeader:    17,
		HopLimit:      255,
		SrcIP:         "2001:db8::1",
		DstIP:         "2001:db8::2",
		ProtocolName:  "UDP",
	})
)

func counter(name string) int64 {
	return metrics.GetOrRegisterCounter(name, metrics.DefaultRegistry).Count()
}

func TestCheckOutputType(t *testing.T) {
	tests := []struct {
		outputType uint
		wantErr    bool
	}{
		{0, true},
		{1, false},
		{2, false},
		{3, false},
		{4, false},
		{5, true},
	}
	for _, tt := range tests {
		err := checkOutputType(tt.outputType)
		if (err != nil) != tt.wantErr {
			t.Errorf("Expected error %v for output type %d, got %v", tt.wantErr, tt.outputType, err)
		}
	}
}

func TestDisabledOutputsAreDropped(t *testing.T) {
	outputs := map[string]util.GenericOutput{
		"file":       &fileConfig{},
		"stdout":     &stdoutConfig{},
		"syslog":     &syslogConfig{},
		"kafka":      &kafkaConfig{},
		"clickhouse": &clickhouseConfig{},
		"psql":       &psqlConfig{},
		"influx":     newInfluxConfig(),
		"elastic":    newElasticConfig(),
		"splunk":     &splunkConfig{},
		"parquet":    &parquetConfig{},
	}
	for name, o := range outputs {
		if err := o.Initialize(context.Background()); !errors.Is(err, ErrNoOutput) {
			t.Errorf("Expected %s to refuse a disabled output type, got %v", name, err)
		}
	}
}

func TestOutputsRequireEndpoint(t *testing.T) {
	outputs := map[string]util.GenericOutput{
		"kafka":   &kafkaConfig{KafkaOutputType: 1, KafkaOutputFormat: "json", KafkaOutputBroker: []string{""}},
		"psql":    &psqlConfig{PsqlOutputType: 1},
		"influx":  newInfluxConfig().WithOutputType(1),
		"elastic": newElasticConfig().WithOutputType(1),
		"splunk":  &splunkConfig{SplunkOutputType: 1},
		"parquet": &parquetConfig{ParquetOutputType: 1},
		"file":    &fileConfig{FileOutputType: 1, FileOutputFormat: "csv"},
	}
	for name, o := range outputs {
		err := o.Initialize(context.Background())
		if err == nil || errors.Is(err, ErrNoOutput) {
			t.Errorf("Expected %s to report its missing endpoint, got %v", name, err)
		}
		if o.OutputChannel() != nil {
			t.Errorf("Expected %s to stay closed after a failed Initialize", name)
		}
	}
}

func TestNonEmpty(t *testing.T) {
	if diff := cmp.Diff([]string{"a", "b"}, nonEmpty([]string{"", "a", "", "b"})); diff != "" {
		t.Errorf("nonEmpty mismatch (-want +got):\n%s", diff)
	}
	if got := nonEmpty([]string{""}); len(got) != 0 {
		t.Errorf("Expected no entries, got %q", got)
	}
}

func TestOutputBaseCloseWaits(t *testing.T) {
	var b outputBase
	b.open("test")
	flushed := make(chan struct{})
	go func() {
		for range b.OutputChannel() {
		}
		time.Sleep(20 * time.Millisecond)
		close(flushed)
		b.finished()
	}()
	b.OutputChannel() <- testIPv4
	b.Close()
	select {
	case <-flushed:
	default:
		t.Error("Expected Close to wait for the output to flush")
	}
	// a second Close must neither panic nor block
	b.Close()

	// never opened outputs close right away
	var idle outputBase
	idle.Close()
}

func TestCSVModeNarrowing(t *testing.T) {
	tests := []struct {
		format, preset string
		want           util.CSVMode
		wantOK         bool
	}{
		{"csv", "", util.CSVBoth, true},
		{"csv", "both", util.CSVBoth, true},
		{"csv", "ipv4", util.CSVIPv4Only, true},
		{"csv", "ipv6", util.CSVIPv6Only, true},
		{"csv_ipv4", "ipv6", util.CSVIPv4Only, true},
		{"csv_no_header", "ipv4", util.CSVBoth, true},
		{"json", "ipv4", util.CSVBoth, false},
	}
	for _, tt := range tests {
		got, ok := csvMode(tt.format, tt.preset)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("csvMode(%q, %q): Expected %v %v, got %v %v", tt.format, tt.preset, tt.want, tt.wantOK, got, ok)
		}
	}
}

func runFileOutput(t *testing.T, path string, format string, features ...feature.Feature) {
	t.Helper()
	config := &fileConfig{
		FileOutputType:   1,
		FileOutputPath:   flags.Filename(path),
		FileOutputFormat: format,
	}
	if err := config.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, f := range features {
		config.OutputChannel() <- f
	}
	config.Close()
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestFileOutputHeaderOnlyOnNewFile(t *testing.T) {
	preset := capture.GlobalCaptureConfig.FilterPreset
	capture.GlobalCaptureConfig.FilterPreset = "ipv4"
	defer func() { capture.GlobalCaptureConfig.FilterPreset = preset }()

	path := filepath.Join(t.TempDir(), "features.csv")
	skippedBefore := counter("fileSkipped")

	runFileOutput(t, path, "csv", testIPv4, testIPv6)
	runFileOutput(t, path, "csv", testIPv4)

	row := string(util.NewCSVMarshaller(util.CSVIPv4Only).Marshal(testIPv4))
	want := []string{util.CSVHeader(util.CSVIPv4Only), row, row}
	if diff := cmp.Diff(want, readLines(t, path)); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
	if got := counter("fileSkipped") - skippedBefore; got != 1 {
		t.Errorf("Expected the ipv6 feature to be counted as skipped, got %d", got)
	}
}

func TestFileOutputHeaderOnEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	runFileOutput(t, path, "csv_ipv6", testIPv6)

	want := []string{util.CSVHeader(util.CSVIPv6Only), string(util.NewCSVMarshaller(util.CSVIPv6Only).Marshal(testIPv6))}
	if diff := cmp.Diff(want, readLines(t, path)); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestFileOutputNoHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	runFileOutput(t, path, "csv_no_header", testIPv4, testIPv6)
	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 rows, got %d: %q", len(lines), lines)
	}
	if strings.HasPrefix(lines[0], "Timestamp,") {
		t.Errorf("Expected no header, got %s", lines[0])
	}
}

func TestStdoutOutput(t *testing.T) {
	var buf bytes.Buffer
	config := &stdoutConfig{
		StdoutOutputType:        1,
		StdoutOutputFormat:      "csv_ipv6",
		StdoutOutputWorkerCount: 2,
		out:                     &buf,
	}
	if err := config.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	sentBefore := counter("stdoutSentToOutput")
	config.OutputChannel() <- testIPv4
	config.OutputChannel() <- testIPv6
	config.Close()

	want := util.CSVHeader(util.CSVIPv6Only) + "\n" + string(util.NewCSVMarshaller(util.CSVIPv6Only).Marshal(testIPv6)) + "\n"
	if got := buf.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got := counter("stdoutSentToOutput") - sentBefore; got != 1 {
		t.Errorf("Expected 1 feature sent, got %d", got)
	}
}

func TestParseSyslogEndpoint(t *testing.T) {
	tests := []struct {
		endpoint      string
		network, addr string
		wantErr       bool
	}{
		{"udp://127.0.0.1:514", "udp", "127.0.0.1:514", false},
		{"tcp://syslog.local:601", "tcp", "syslog.local:601", false},
		{"unix:///dev/log", "unix", "/dev/log", false},
		{"http://127.0.0.1:514", "", "", true},
		{"udp://", "", "", true},
	}
	for _, tt := range tests {
		network, addr, err := parseSyslogEndpoint(tt.endpoint)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Expected error %v, got %v", tt.endpoint, tt.wantErr, err)
			continue
		}
		if network != tt.network || addr != tt.addr {
			t.Errorf("%s: Expected %s %s, got %s %s", tt.endpoint, tt.network, tt.addr, network, addr)
		}
	}
}

func TestSplunkCollectorURL(t *testing.T) {
	tests := map[string]string{
		"http://127.0.0.1:8088":                      "http://127.0.0.1:8088/services/collector",
		"http://127.0.0.1:8088/":                     "http://127.0.0.1:8088/services/collector",
		"https://hec.local/services/collector":       "https://hec.local/services/collector",
		"https://hec.local:8088/services/collector/": "https://hec.local:8088/services/collector",
	}
	for in, want := range tests {
		if got := splunkCollectorURL(in); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestSplunkConnectionHealth(t *testing.T) {
	conns := newSplunkConnections()
	if _, _, ok := conns.healthy(); ok {
		t.Error("Expected no healthy connection in an empty table")
	}
	if !conns.needsConnect("a") {
		t.Error("Expected an unknown endpoint to need a connection")
	}
	conns.set("a", splunkConnection{})
	conns.set("b", splunkConnection{Unhealthy: 1})
	if conns.needsConnect("a") || !conns.needsConnect("b") {
		t.Error("Expected only the unhealthy endpoint to need a connection")
	}
	id, _, ok := conns.healthy()
	if !ok || id != "a" {
		t.Errorf("Expected endpoint a, got %q %v", id, ok)
	}
	conns.markUnhealthy("a", errors.New("down"))
	if _, _, ok := conns.healthy(); ok {
		t.Error("Expected no healthy connection left")
	}
}

func TestSplunkKeepOrDrop(t *testing.T) {
	config := &splunkConfig{SplunkBatchSize: 2}
	config.open("splunkTest")
	batch := []feature.Feature{testIPv4, testIPv6, testIPv4}
	if got := config.keepOrDrop(batch); len(got) != 3 {
		t.Errorf("Expected a small undelivered batch to stay pending, got %d", len(got))
	}
	batch = append(batch, testIPv6)
	if got := config.keepOrDrop(batch); len(got) != 0 {
		t.Errorf("Expected an oversized undelivered batch to be dropped, got %d", len(got))
	}
	if got := config.failed.Count(); got != 4 {
		t.Errorf("Expected 4 failed features, got %d", got)
	}
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   feature.Feature
		want flatFeature
	}{
		{"ipv4", testIPv4, flatFeature{
			Timestamp: testTime, IPVersion: 4, SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
			Protocol: 6, ProtocolName: "TCP", TTL: 64, FrameLength: 74, Length: 60, IHL: 5,
			Identification: 0x1c46, Flags: 2, HeaderChecksum: 0xb1e6,
		}},
		{"ipv6", testIPv6, flatFeature{
			Timestamp: testTime, IPVersion: 6, SrcIP: "2001:db8::1", DstIP: "2001:db8::2",
			Protocol: 17, ProtocolName: "UDP", TTL: 255, FrameLength: 94, TOS: 0x20, Length: 40,
			FlowLabel: 0x12345,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, flatten(tt.in)); diff != "" {
				t.Errorf("flatten mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIP16(t *testing.T) {
	if got := ip16("10.0.0.1"); len(got) != 16 || got.String() != "10.0.0.1" {
		t.Errorf("Expected a 16 byte 10.0.0.1, got %v", got)
	}
	if got := ip16("not an address"); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}

func TestInfluxPoint(t *testing.T) {
	util.GeneralFlags.ServerName = "sensor1"
	p := influxPoint(testIPv6)
	if p.Name() != "packet" {
		t.Errorf("Expected measurement packet, got %s", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	want := map[string]string{"server": "sensor1", "family": "IPv6", "protocol": "UDP"}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("tag mismatch (-want +got):\n%s", diff)
	}
	if !p.Time().Equal(testTime) {
		t.Errorf("Expected %v, got %v", testTime, p.Time())
	}
}

func TestParquetOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.parquet")
	config := &parquetConfig{
		ParquetOutputType:      1,
		ParquetOutputPath:      flags.Filename(path),
		ParquetFlushBatchSize:  1,
		ParquetWorkerCount:     1,
		ParquetWriteBufferSize: 4096,
	}
	if err := config.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	config.OutputChannel() <- testIPv4
	config.OutputChannel() <- testIPv6
	config.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.Read[flatFeature](bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("reading parquet back: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	for i, want := range []flatFeature{flatten(testIPv4), flatten(testIPv6)} {
		if diff := cmp.Diff(want, rows[i], cmpopts.IgnoreFields(flatFeature{}, "Timestamp")); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
		if !rows[i].Timestamp.Equal(want.Timestamp) {
			t.Errorf("row %d: Expected %v, got %v", i, want.Timestamp, rows[i].Timestamp)
		}
	}
}

func TestParquetWriterFullWidthHeaders(t *testing.T) {
	row := flatFeature{
		Timestamp: testTime, IPVersion: 4, SrcIP: "255.255.255.255", DstIP: "0.0.0.0",
		Protocol: 255, ProtocolName: "Reserved", TTL: 255, FrameLength: 65549, TOS: 255,
		Length: 0xffff, IHL: 15, Identification: 0xffff, Flags: 7, FragmentOffset: 0x1fff,
		HeaderChecksum: 0xffff, Options: "01020304",
	}
	var buf bytes.Buffer
	w := newParquetWriter(&buf, 4096)
	if _, err := w.Write([]flatFeature{row}); err != nil {
		t.Fatalf("Expected the row to be written, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.Read[flatFeature](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if diff := cmp.Diff(row, rows[0], cmpopts.IgnoreFields(flatFeature{}, "Timestamp")); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
}

func BenchmarkFlatten(b *testing.B) {
	for i := 0; i < b.N; i++ {
		flatten(testIPv4)
	}
}

func BenchmarkStdoutOutput(b *testing.B) {
	var buf bytes.Buffer
	config := &stdoutConfig{StdoutOutputType: 1, StdoutOutputFormat: "csv", StdoutOutputWorkerCount: 4, out: &buf}
	if err := config.Initialize(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		config.OutputChannel() <- testIPv4
	}
	config.Close()
}

// vim: foldmethod=marker
