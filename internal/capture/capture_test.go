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
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mosajjal/netfeature/internal/feature"
)

var (
	testMAC1 = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	testMAC2 = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

// testFrame serializes an Ethernet frame around the given network and transport layers
func testFrame(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	ethType := layers.EthernetTypeIPv4
	if _, ok := ls[0].(*layers.IPv6); ok {
		ethType = layers.EthernetTypeIPv6
	}
	eth := &layers.Ethernet{SrcMAC: testMAC1, DstMAC: testMAC2, EthernetType: ethType}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, append([]gopacket.SerializableLayer{eth}, ls...)...); err != nil {
		t.Fatalf("Failed to serialize frame: %v", err)
	}
	return buf.Bytes()
}

func ipv4TCP(t testing.TB, srcPort, dstPort layers.TCPPort) []byte {
	return testFrame(t,
		&layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IPv4(192, 0, 2, 1), DstIP: net.IPv4(198, 51, 100, 7)},
		&layers.TCP{SrcPort: srcPort, DstPort: dstPort, DataOffset: 5},
	)
}

func ipv6TCP(t testing.TB, srcPort, dstPort layers.TCPPort) []byte {
	return testFrame(t,
		&layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP, SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")},
		&layers.TCP{SrcPort: srcPort, DstPort: dstPort, DataOffset: 5},
	)
}

// fakeHandle replays frames in order and then io.EOF. with loop set it never ends.
type fakeHandle struct {
	frames [][]byte
	loop   bool
	delay  time.Duration
	next   int
	reads  atomic.Uint64
	closed atomic.Bool
}

func (h *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.next >= len(h.frames) {
		if !h.loop || len(h.frames) == 0 {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		h.next = 0
	}
	data := append([]byte(nil), h.frames[h.next]...)
	h.next++
	h.reads.Add(1)
	return data, gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}, nil
}

func (h *fakeHandle) ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return h.ReadPacketData()
}

func (h *fakeHandle) Close() { h.closed.Store(true) }

func (h *fakeHandle) Stat() (uint, uint, error) { return uint(h.reads.Load()), 0, nil }

func newTestConfig() *captureConfig {
	return &captureConfig{
		ready:                make(chan struct{}),
		SampleRatio:          "1:1",
		PacketHandlerCount:   2,
		DedupCleanupInterval: time.Minute,
		sampler:              sampler{a: 1, b: 1},
		counters:             newDecodeCounters(),
		processingChannel:    make(chan *rawPacketBytes, 16),
		resultChannel:        make(chan feature.Feature, 16),
	}
}

// drain collects everything from the result channel until it is closed
func drain(c chan feature.Feature) <-chan []feature.Feature {
	out := make(chan []feature.Feature, 1)
	go func() {
		var fs []feature.Feature
		for f := range c {
			fs = append(fs, f)
		}
		out <- fs
	}()
	return out
}

func TestSampleRatioParsing(t *testing.T) {
	tests := []struct {
		name      string
		ratio     string
		wantA     int
		wantB     int
		wantError bool
	}{
		{name: "1:1 ratio (no sampling)", ratio: "1:1", wantA: 1, wantB: 1},
		{name: "1:100 ratio (1% sampling)", ratio: "1:100", wantA: 1, wantB: 100},
		{name: "3:10 ratio", ratio: "3:10", wantA: 3, wantB: 10},
		{name: "Invalid ratio - missing colon", ratio: "1-100", wantError: true},
		{name: "Invalid ratio - A > B", ratio: "100:1", wantError: true},
		{name: "Invalid ratio - zero A", ratio: "0:10", wantError: true},
		{name: "Invalid ratio - non-numeric", ratio: "a:b", wantError: true},
		{name: "Invalid ratio - three parts", ratio: "1:2:3", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b, err := parseSampleRatio(tt.ratio)
			if (err != nil) != tt.wantError {
				t.Fatalf("Expected error %v, got %v", tt.wantError, err)
			}
			if !tt.wantError && (a != tt.wantA || b != tt.wantB) {
				t.Errorf("Got ratio %d:%d, want %d:%d", a, b, tt.wantA, tt.wantB)
			}
		})
	}
}

func TestRatioSampling(t *testing.T) {
	tests := []struct {
		name         string
		ratioA       int
		ratioB       int
		packetCount  int
		wantAccepted int
	}{
		{name: "1:1 ratio - accept all", ratioA: 1, ratioB: 1, packetCount: 100, wantAccepted: 100},
		{name: "1:10 ratio", ratioA: 1, ratioB: 10, packetCount: 100, wantAccepted: 10},
		{name: "3:10 ratio", ratioA: 3, ratioB: 10, packetCount: 100, wantAccepted: 30},
		{name: "1:100 ratio", ratioA: 1, ratioB: 100, packetCount: 1000, wantAccepted: 10},
		{name: "partial window", ratioA: 1, ratioB: 10, packetCount: 15, wantAccepted: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampler{a: tt.ratioA, b: tt.ratioB}
			accepted := 0
			for i := 0; i < tt.packetCount; i++ {
				if s.keep() {
					accepted++
				}
			}
			if accepted != tt.wantAccepted {
				t.Errorf("Expected %d accepted packets, got %d", tt.wantAccepted, accepted)
			}
		})
	}
}

func TestLossPercent(t *testing.T) {
	tests := []struct {
		captured, dropped uint
		want              float64
	}{
		{0, 0, 0},
		{100, 0, 0},
		{75, 25, 25},
		{0, 10, 100},
	}
	for _, tt := range tests {
		if got := lossPercent(tt.captured, tt.dropped); got != tt.want {
			t.Errorf("Expected loss %v for %d/%d, got %v", tt.want, tt.captured, tt.dropped, got)
		}
	}
}

func TestCheckFlagsValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *captureConfig)
	}{
		{name: "no source", modify: func(c *captureConfig) {}},
		{name: "two sources", modify: func(c *captureConfig) { c.DevName = "eth0"; c.PcapFile = "x.pcap" }},
		{name: "no workers", modify: func(c *captureConfig) { c.PcapFile = "x.pcap"; c.PacketHandlerCount = 0 }},
		{name: "bad ratio", modify: func(c *captureConfig) { c.PcapFile = "x.pcap"; c.SampleRatio = "2:1" }},
		{name: "unknown preset", modify: func(c *captureConfig) { c.PcapFile = "x.pcap"; c.FilterPreset = "dns" }},
		{name: "missing file", modify: func(c *captureConfig) { c.PcapFile = filepath.Join(t.TempDir(), "missing.pcap") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			tt.modify(c)
			if err := c.CheckFlagsAndStart(context.Background()); err == nil {
				t.Errorf("Expected an error, got nil")
			}
		})
	}
}

func TestGetResultChannelHonoursContext(t *testing.T) {
	c := newTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ch := c.GetResultChannel(ctx); ch != nil {
		t.Errorf("Expected nil channel on a cancelled context, got %v", ch)
	}
}

func TestOfflineCaptureEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.pcap")
	frames := [][]byte{
		ipv4TCP(t, 1000, 80),
		ipv6TCP(t, 1000, 443),
		ipv4TCP(t, 1001, 80),
		{0x00, 0x01, 0x02}, // shorter than an ethernet header
	}
	writePcap(t, path, frames)

	c := newTestConfig()
	c.PcapFile = path
	errc := make(chan error, 1)
	go func() { errc <- c.CheckFlagsAndStart(context.Background()) }()

	ch := c.GetResultChannel(context.Background())
	if ch == nil {
		t.Fatal("Expected a result channel, got nil")
	}
	got := <-drain(ch)
	if err := <-errc; err != nil {
		t.Fatalf("Expected capture to finish cleanly, got %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 features, got %d", len(got))
	}
	kinds := map[feature.Kind]int{}
	for _, f := range got {
		kinds[f.Kind]++
	}
	if kinds[feature.KindIPv4] != 2 || kinds[feature.KindIPv6] != 1 {
		t.Errorf("Expected 2 IPv4 and 1 IPv6 features, got %v", kinds)
	}
	if c.stats.read.Load() != 4 || c.stats.dropped.Load() != 1 {
		t.Errorf("Expected 4 read and 1 dropped, got %d and %d", c.stats.read.Load(), c.stats.dropped.Load())
	}
}

func TestRunStopsAfterDuration(t *testing.T) {
	c := newTestConfig()
	c.Duration = 100 * time.Millisecond
	h := &fakeHandle{frames: [][]byte{ipv4TCP(t, 1, 2)}, loop: true, delay: time.Millisecond}
	results := drain(c.resultChannel)

	start := time.Now()
	if err := c.run(context.Background(), h); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > readerGracePeriod {
		t.Errorf("Expected the capture to stop shortly after its duration, took %s", elapsed)
	}
	if len(<-results) == 0 {
		t.Errorf("Expected some features before the duration ended, got none")
	}
	if !h.closed.Load() {
		t.Errorf("Expected the handle to be closed")
	}
}

func TestRunStopsOnStopFile(t *testing.T) {
	c := newTestConfig()
	c.StopFile = filepath.Join(t.TempDir(), "stop")
	h := &fakeHandle{frames: [][]byte{ipv6TCP(t, 1, 2)}, loop: true, delay: time.Millisecond}
	results := drain(c.resultChannel)

	time.AfterFunc(100*time.Millisecond, func() {
		os.WriteFile(c.StopFile, nil, 0o600)
	})
	done := make(chan error, 1)
	go func() { done <- c.run(context.Background(), h) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the stop file to end the capture")
	}
	<-results
	if _, err := os.Stat(c.StopFile); !os.IsNotExist(err) {
		t.Errorf("Expected the stop file to be removed, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newTestConfig()
	h := &fakeHandle{frames: [][]byte{ipv4TCP(t, 1, 2)}, loop: true, delay: time.Millisecond}
	results := drain(c.resultChannel)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.run(ctx, h); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	<-results
}

// vim: foldmethod=marker
