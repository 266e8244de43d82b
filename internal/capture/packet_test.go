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
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/mosajjal/netfeature/internal/feature"
)

func TestFNV1A(t *testing.T) {
	tests := []struct {
		input []byte
		want  uint64
	}{
		{[]byte{}, 0xcbf29ce484222325},
		{[]byte("a"), 0xaf63dc4c8601ec8c},
		{[]byte("foobar"), 0x85944171f73967e8},
	}
	for _, tt := range tests {
		if got := FNV1A(tt.input); got != tt.want {
			t.Errorf("Expected FNV1A(%q) = %#x, got %#x", tt.input, tt.want, got)
		}
	}
}

func TestReadLoopDedup(t *testing.T) {
	c := newTestConfig()
	c.Dedup = true
	a := ipv4TCP(t, 1, 2)
	b := ipv4TCP(t, 3, 4)
	h := &fakeHandle{frames: [][]byte{a, a, b, a, b}}
	c.processingChannel = make(chan *rawPacketBytes, 8)

	if err := c.readLoop(h, make(chan struct{})); err != nil {
		t.Fatalf("Expected EOF to end the loop cleanly, got %v", err)
	}
	if got := len(c.processingChannel); got != 2 {
		t.Errorf("Expected 2 unique frames, got %d", got)
	}
	if got := c.stats.read.Load(); got != 5 {
		t.Errorf("Expected 5 frames read, got %d", got)
	}
}

func TestReadLoopSampling(t *testing.T) {
	c := newTestConfig()
	c.sampler = sampler{a: 1, b: 4}
	frames := make([][]byte, 8)
	for i := range frames {
		frames[i] = ipv4TCP(t, 1, 2)
	}
	c.processingChannel = make(chan *rawPacketBytes, 8)

	if err := c.readLoop(&fakeHandle{frames: frames}, make(chan struct{})); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := len(c.processingChannel); got != 2 {
		t.Errorf("Expected 2 sampled frames, got %d", got)
	}
}

func TestReadLoopStop(t *testing.T) {
	c := newTestConfig()
	stop := make(chan struct{})
	close(stop)
	h := &fakeHandle{frames: [][]byte{ipv4TCP(t, 1, 2)}, loop: true}
	if err := c.readLoop(h, stop); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if h.reads.Load() != 0 {
		t.Errorf("Expected no reads after stop, got %d", h.reads.Load())
	}
}

func TestDecodeWorker(t *testing.T) {
	c := newTestConfig()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := [][]byte{ipv4TCP(t, 1, 2), ipv6TCP(t, 3, 4), {0x00}}
	for _, f := range frames {
		c.processingChannel <- &rawPacketBytes{bytes: f, info: gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(f), Length: len(f)}}
	}
	// a zero timestamp is replaced by the decode time
	c.processingChannel <- &rawPacketBytes{bytes: frames[0], info: gopacket.CaptureInfo{CaptureLength: len(frames[0])}}
	close(c.processingChannel)

	if err := c.decodeWorker(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	close(c.resultChannel)

	var got []feature.Feature
	for f := range c.resultChannel {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 features, got %d", len(got))
	}
	if got[0].Kind != feature.KindIPv4 || got[1].Kind != feature.KindIPv6 {
		t.Errorf("Expected IPv4 then IPv6, got %s then %s", got[0].Kind, got[1].Kind)
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %s, got %s", ts, got[0].Timestamp)
	}
	if got[2].Timestamp.IsZero() {
		t.Errorf("Expected a zero capture timestamp to be replaced")
	}
	if c.stats.dropped.Load() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", c.stats.dropped.Load())
	}
}

func TestDecodeWorkerHonoursContext(t *testing.T) {
	c := newTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- c.decodeWorker(ctx) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected the worker to return on a cancelled context")
	}
}

func BenchmarkFNV1A(b *testing.B) {
	frame := ipv4TCP(b, 1000, 80)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FNV1A(frame)
	}
}

func BenchmarkDecodeWorker(b *testing.B) {
	c := newTestConfig()
	frame := ipv4TCP(b, 1000, 80)
	c.processingChannel = make(chan *rawPacketBytes, 1024)
	c.resultChannel = make(chan feature.Feature, 1024)
	go func() {
		for range c.resultChannel {
		}
	}()
	done := make(chan error, 1)
	go func() { done <- c.decodeWorker(context.Background()) }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.processingChannel <- &rawPacketBytes{bytes: frame, info: gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame)}}
	}
	close(c.processingChannel)
	<-done
	close(c.resultChannel)
}

// vim: foldmethod=marker
