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

// Package capture reads Ethernet frames from a live interface or a capture file, samples and
// deduplicates them, and runs the decoding workers that turn them into features.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// snaplen is the capture length requested from every live source
const snaplen = 65536

// how long a stopped capture waits for the reader to notice before abandoning it
const readerGracePeriod = 2 * time.Second

const stopFilePollInterval = 200 * time.Millisecond

var GlobalCaptureConfig *captureConfig

type captureConfig struct {
	DevName              string        `long:"devname"              ini-name:"devname"              env:"NETFEATURE_DEVNAME"              default:""      description:"Device used to capture. auto picks the first interface that is up, not loopback and has an address"`
	PcapFile             string        `long:"pcapfile"             ini-name:"pcapfile"             env:"NETFEATURE_PCAPFILE"             default:""      description:"Pcap or pcapng filename to run. - reads from stdin"`
	Filter               string        `long:"filter"               ini-name:"filter"               env:"NETFEATURE_FILTER"               default:""      description:"BPF filter applied to the packet stream, in tcpdump syntax"`
	FilterPreset         string        `long:"filterpreset"         ini-name:"filterpreset"         env:"NETFEATURE_FILTERPRESET"         default:""      description:"Filter preset overriding --filter. one of ipv4, ipv6, both, all, icmp, bgp"`
	SampleRatio          string        `long:"sampleratio"          ini-name:"sampleratio"          env:"NETFEATURE_SAMPLERATIO"          default:"1:1"   description:"Capture Sampling by a:b. eg sampleRatio of 1:100 will process 1 percent of the incoming packets"`
	Dedup                bool          `long:"dedup"                ini-name:"dedup"                env:"NETFEATURE_DEDUP"                                description:"Deduplicate identical frames using a hash table"`
	DedupCleanupInterval time.Duration `long:"dedupcleanupinterval" ini-name:"dedupcleanupinterval" env:"NETFEATURE_DEDUPCLEANUPINTERVAL" default:"60s"   description:"Cleans up packet hash table used for deduplication"`
	PacketHandlerCount   uint          `long:"packethandlercount"   ini-name:"packethandlercount"   env:"NETFEATURE_PACKETHANDLERCOUNT"   default:"2"     description:"Number of routines used to decode frames into features"`
	PacketChannelSize    uint          `long:"packethandlerchannelsize" ini-name:"packethandlerchannelsize" env:"NETFEATURE_PACKETHANDLERCHANNELSIZE" default:"100000" description:"Size of the packet handler channel"`
	AfpacketBuffersizeMb uint          `long:"afpacketbuffersizemb" ini-name:"afpacketbuffersizemb" env:"NETFEATURE_AFPACKETBUFFERSIZEMB" default:"64"    description:"Afpacket Buffersize in MB"`
	UseAfpacket          bool          `long:"useafpacket"          ini-name:"useafpacket"          env:"NETFEATURE_USEAFPACKET"                          description:"Use AFPacket for live captures. Supported on Linux 3.0+ only"`
	NoPromiscuous        bool          `long:"nopromiscuous"        ini-name:"nopromiscuous"        env:"NETFEATURE_NOPROMISCUOUS"                        description:"Do not put the interface in promiscuous mode"`
	Duration             time.Duration `long:"duration"             ini-name:"duration"             env:"NETFEATURE_DURATION"             default:"0s"    description:"Stop the capture after this long. 0 captures until interrupted or the input ends"`
	StopFile             string        `long:"stopfile"             ini-name:"stopfile"             env:"NETFEATURE_STOPFILE"             default:""      description:"Stop the capture as soon as this file exists. the file is removed on exit"`
	ProgressEvery        uint          `long:"progressevery"        ini-name:"progressevery"        env:"NETFEATURE_PROGRESSEVERY"        default:"0"     description:"Log a progress line every N decoded features. 0 disables it"`

	processingChannel chan *rawPacketBytes
	resultChannel     chan feature.Feature
	ready             chan struct{}
	sampler           sampler
	stats             captureStats
	counters          decodeCounters
}

// captureStats is shared between the reader, the workers and the summary
type captureStats struct {
	start   time.Time
	read    atomic.Uint64
	decoded atomic.Uint64
	dropped atomic.Uint64
}

func init() {
	c := captureConfig{ready: make(chan struct{})}
	if _, err := util.GlobalParser.AddGroup("capture", "Options specific to capture side", &c); err != nil {
		log.Fatalf("error adding capture Module")
	}
	GlobalCaptureConfig = &c
}

type genericPacketHandler interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	Close()
	Stat() (captured uint, dropped uint, err error)
}

type rawPacketBytes struct {
	bytes []byte
	info  gopacket.CaptureInfo
}

// GetResultChannel waits until the capture has started and returns the channel carrying decoded
// features. It returns nil when ctx ends first. The channel is closed once every worker is done.
func (config *captureConfig) GetResultChannel(ctx context.Context) chan feature.Feature {
	select {
	case <-config.ready:
		return config.resultChannel
	case <-ctx.Done():
		return nil
	}
}

// sampler keeps a out of every b frames
type sampler struct {
	a, b int
	n    int
}

func (s *sampler) keep() bool {
	if s.a >= s.b {
		return true
	}
	k := s.n < s.a
	s.n = (s.n + 1) % s.b
	return k
}

func parseSampleRatio(ratio string) (int, int, error) {
	ratioNumbers := strings.Split(ratio, ":")
	if len(ratioNumbers) != 2 {
		return 0, 0, fmt.Errorf("wrong --sampleRatio syntax %q, expected a:b", ratio)
	}
	ratioA, errA := strconv.Atoi(ratioNumbers[0])
	ratioB, errB := strconv.Atoi(ratioNumbers[1])
	if errA != nil || errB != nil {
		return 0, 0, fmt.Errorf("--sampleRatio %q must be two integers", ratio)
	}
	if ratioA < 1 || ratioA > ratioB {
		return 0, 0, fmt.Errorf("--sampleRatio %q: a must be between 1 and b", ratio)
	}
	return ratioA, ratioB, nil
}

// CheckFlagsAndStart validates the capture flags, opens the source and blocks until the capture
// ends. The result channel is closed before it returns.
func (config *captureConfig) CheckFlagsAndStart(ctx context.Context) error {
	if config.DevName == "" && config.PcapFile == "" {
		return errors.New("one of --devName or --pcapFile is required")
	}
	if config.DevName != "" && config.PcapFile != "" {
		return errors.New("only one of --devName or --pcapFile can be used")
	}
	if config.PacketHandlerCount == 0 {
		return errors.New("--packetHandlerCount must be greater than 0")
	}

	ratioA, ratioB, err := parseSampleRatio(config.SampleRatio)
	if err != nil {
		return err
	}
	config.sampler = sampler{a: ratioA, b: ratioB}

	expr, err := resolveFilter(config.FilterPreset, config.Filter)
	if err != nil {
		return err
	}

	if config.DevName == "auto" {
		ifaces, err := ListInterfaces()
		if err != nil {
			return err
		}
		name, err := pickAutoInterface(ifaces)
		if err != nil {
			return err
		}
		log.Infof("auto selected interface %s", name)
		config.DevName = name
	}

	handle, err := config.openHandle(expr)
	if err != nil {
		return err
	}

	config.counters = newDecodeCounters()
	config.processingChannel = make(chan *rawPacketBytes, config.PacketChannelSize)
	config.resultChannel = make(chan feature.Feature, util.GeneralFlags.ResultChannelSize)
	close(config.ready)

	return config.run(ctx, handle)
}

func (config *captureConfig) openHandle(expr string) (genericPacketHandler, error) {
	if config.PcapFile != "" {
		if expr != "" {
			log.Warnf("BPF Filter is not supported in offline mode.")
		}
		return initializeOfflineCapture(config.PcapFile)
	}

	prog, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}
	if prog != nil {
		log.Infof("Filter: %s", expr)
	}
	if config.UseAfpacket {
		h, err := config.initializeLiveAFpacket(config.DevName, prog)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	h, err := initializeLivePcap(config.DevName, prog, !config.NoPromiscuous)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// run drives one capture: the reader, the decoding workers and the stats goroutine.
func (config *captureConfig) run(ctx context.Context, handle genericPacketHandler) error {
	config.stats.start = time.Now()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	g, gCtx := errgroup.WithContext(workerCtx)
	for i := uint(0); i < config.PacketHandlerCount; i++ {
		g.Go(func() error {
			return config.decodeWorker(gCtx)
		})
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	var loopErr, readErr error
	go func() {
		defer close(readerDone)
		loopErr = config.readLoop(handle, stop)
	}()
	go config.statsLoop(handle, readerDone)

	reason := config.waitForStop(ctx, readerDone)
	close(stop)

	grace := time.NewTimer(readerGracePeriod)
	select {
	case <-readerDone:
		grace.Stop()
		readErr = loopErr
		// the reader is the only sender
		close(config.processingChannel)
		handle.Close()
	case <-grace.C:
		log.Warnf("packet reader did not stop within %s, abandoning it", readerGracePeriod)
		cancelWorkers()
	}

	workerErr := g.Wait()
	close(config.resultChannel)

	if config.StopFile != "" {
		if err := os.Remove(config.StopFile); err != nil && !os.IsNotExist(err) {
			log.Warnf("could not remove stop file %s: %s", config.StopFile, err)
		}
	}

	config.logSummary(reason)
	if readErr != nil {
		return fmt.Errorf("reading packets: %w", readErr)
	}
	return workerErr
}

// waitForStop blocks until something ends the capture and says what it was
func (config *captureConfig) waitForStop(ctx context.Context, readerDone <-chan struct{}) string {
	var deadline <-chan time.Time
	if config.Duration > 0 {
		t := time.NewTimer(config.Duration)
		defer t.Stop()
		deadline = t.C
	}
	var poll <-chan time.Time
	if config.StopFile != "" {
		t := time.NewTicker(stopFilePollInterval)
		defer t.Stop()
		poll = t.C
	}
	for {
		select {
		case <-readerDone:
			return "end of input"
		case <-ctx.Done():
			return "interrupted"
		case <-deadline:
			return "duration reached"
		case <-poll:
			if _, err := os.Stat(config.StopFile); err == nil {
				return "stop file found"
			}
		}
	}
}

func (config *captureConfig) statsLoop(handle genericPacketHandler, done <-chan struct{}) {
	delay := util.GeneralFlags.CaptureStatsDelay
	if delay <= 0 {
		return
	}
	captured := metrics.GetOrRegisterGauge("packetsCaptured", metrics.DefaultRegistry)
	dropped := metrics.GetOrRegisterGauge("packetsDropped", metrics.DefaultRegistry)
	loss := metrics.GetOrRegisterGaugeFloat64("packetLossPercent", metrics.DefaultRegistry)
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c, d, err := handle.Stat()
			if err != nil {
				log.Warnf("error reading capture stats: %s", err)
				continue
			}
			captured.Update(int64(c))
			dropped.Update(int64(d))
			loss.Update(lossPercent(c, d))
		}
	}
}

func lossPercent(captured, dropped uint) float64 {
	if captured+dropped == 0 {
		return 0
	}
	return float64(dropped) * 100.0 / float64(captured+dropped)
}

func (config *captureConfig) logSummary(reason string) {
	elapsed := time.Since(config.stats.start)
	read := config.stats.read.Load()
	decoded := config.stats.decoded.Load()
	dropped := config.stats.dropped.Load()

	success := 0.0
	if decoded+dropped > 0 {
		success = float64(decoded) * 100.0 / float64(decoded+dropped)
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(decoded) / elapsed.Seconds()
	}
	log.Infof("capture finished: %s", reason)
	log.Infof("total captured: %d, decoded: %d, dropped: %d, success rate: %.2f%%", read, decoded, dropped, success)
	log.Infof("duration: %s, average rate: %.1f features/s", elapsed.Round(time.Millisecond), rate)
}

// vim: foldmethod=marker
