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
	"errors"
	"io"
	"time"

	"github.com/mosajjal/netfeature/internal/decoder"
	"github.com/mosajjal/netfeature/internal/feature"
	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

type decodeCounters struct {
	decoded            metrics.Counter
	ipv4               metrics.Counter
	ipv6               metrics.Counter
	hopByHopStops      metrics.Counter
	dropped            metrics.Counter
	frameTooShort      metrics.Counter
	unsupportedVersion metrics.Counter
	headerTooShort     metrics.Counter
	duplicate          metrics.Counter
	overRatio          metrics.Counter
}

func newDecodeCounters() decodeCounters {
	return decodeCounters{
		decoded:            metrics.GetOrRegisterCounter("featuresDecoded", metrics.DefaultRegistry),
		ipv4:               metrics.GetOrRegisterCounter("ipv4Features", metrics.DefaultRegistry),
		ipv6:               metrics.GetOrRegisterCounter("ipv6Features", metrics.DefaultRegistry),
		hopByHopStops:      metrics.GetOrRegisterCounter("ipv6HopByHopStops", metrics.DefaultRegistry),
		dropped:            metrics.GetOrRegisterCounter("decodeDropped", metrics.DefaultRegistry),
		frameTooShort:      metrics.GetOrRegisterCounter("decodeFrameTooShort", metrics.DefaultRegistry),
		unsupportedVersion: metrics.GetOrRegisterCounter("decodeUnsupportedVersion", metrics.DefaultRegistry),
		headerTooShort:     metrics.GetOrRegisterCounter("decodeHeaderTooShort", metrics.DefaultRegistry),
		duplicate:          metrics.GetOrRegisterCounter("packetsDuplicate", metrics.DefaultRegistry),
		overRatio:          metrics.GetOrRegisterCounter("packetsOverRatio", metrics.DefaultRegistry),
	}
}

func (c decodeCounters) countDrop(err error) {
	c.dropped.Inc(1)
	switch {
	case errors.Is(err, decoder.ErrFrameTooShort):
		c.frameTooShort.Inc(1)
	case errors.Is(err, decoder.ErrUnsupportedVersion):
		c.unsupportedVersion.Inc(1)
	case errors.Is(err, decoder.ErrHeaderTooShort):
		c.headerTooShort.Inc(1)
	}
}

func (c decodeCounters) countFeature(f feature.Feature) {
	c.decoded.Inc(1)
	switch f.Kind {
	case feature.KindIPv4:
		c.ipv4.Inc(1)
	case feature.KindIPv6:
		c.ipv6.Inc(1)
		if f.IPv6.StoppedAtHopByHop() {
			c.hopByHopStops.Inc(1)
		}
	}
}

// readLoop pulls frames off the handle until the input ends, a read fails or stop is closed.
// Sampling and deduplication happen here so the workers only see frames that are kept.
func (config *captureConfig) readLoop(handle genericPacketHandler, stop <-chan struct{}) error {
	var dedupHashTable map[uint64]struct{}
	if config.Dedup {
		dedupHashTable = make(map[uint64]struct{})
	}
	lastCleanup := time.Now()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				log.Info("end of capture input")
				return nil
			}
			return err
		}
		config.stats.read.Add(1)

		if !config.sampler.keep() {
			config.counters.overRatio.Inc(1)
			continue
		}

		if dedupHashTable != nil {
			if config.DedupCleanupInterval > 0 && time.Since(lastCleanup) > config.DedupCleanupInterval {
				dedupHashTable = make(map[uint64]struct{})
				lastCleanup = time.Now()
			}
			hash := FNV1A(data)
			if _, ok := dedupHashTable[hash]; ok {
				config.counters.duplicate.Inc(1)
				continue
			}
			dedupHashTable[hash] = struct{}{}
		}

		select {
		case config.processingChannel <- &rawPacketBytes{bytes: data, info: ci}:
		case <-stop:
			return nil
		}
	}
}

// decodeWorker turns raw frames into features until the processing channel is closed
func (config *captureConfig) decodeWorker(ctx context.Context) error {
	for {
		select {
		case packet, ok := <-config.processingChannel:
			if !ok {
				return nil
			}
			ts := packet.info.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			f, err := decoder.DecodeWithReason(packet.bytes, packet.info.CaptureLength, ts)
			if err != nil {
				config.stats.dropped.Add(1)
				config.counters.countDrop(err)
				log.Debugf("dropping frame: %s", err)
				continue
			}
			config.counters.countFeature(f)
			n := config.stats.decoded.Add(1)

			select {
			case config.resultChannel <- f:
			case <-ctx.Done():
				return nil
			}
			if config.ProgressEvery > 0 && n%uint64(config.ProgressEvery) == 0 {
				config.logProgress(n, f)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (config *captureConfig) logProgress(n uint64, f feature.Feature) {
	rate := 0.0
	if elapsed := time.Since(config.stats.start).Seconds(); elapsed > 0 {
		rate = float64(n) / elapsed
	}
	log.Infof("[%d] %s/%s | %s -> %s | Size: %d bytes | Rate: %.1f pps | Total captured: %d",
		n, f.Kind, f.ProtocolName(), f.SrcIP(), f.DstIP(), f.FrameLength, rate, config.stats.read.Load())
}

// FNV1A hashes a byte slice. it's used for deduplication
func FNV1A(input []byte) uint64 {
	var hash uint64 = 0xcbf29ce484222325
	var fnvPrime uint64 = 0x100000001b3
	for _, b := range input {
		hash ^= uint64(b)
		hash *= fnvPrime
	}
	return hash
}

// vim: foldmethod=marker
