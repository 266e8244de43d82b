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

// Package output holds the sinks features are dispatched to. Each sink registers its flag group
// and itself in util.GlobalDispatchList at init time.
package output

import (
	"errors"
	"sync"

	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
	metrics "github.com/rcrowley/go-metrics"
)

// ErrNoOutput is returned by Initialize when an output is disabled. the dispatcher drops it quietly
var ErrNoOutput = errors.New("no output")

func checkOutputType(outputType uint) error {
	if outputType > 0 && outputType < 5 {
		return nil
	}
	return ErrNoOutput
}

// nonEmpty drops blank entries, a repeatable flag left at its empty default holds one
func nonEmpty(list []string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// outputBase is the channel plumbing every output embeds. open it in Initialize, then call
// finished once the worker goroutines have drained the channel and flushed.
type outputBase struct {
	outputChannel chan feature.Feature
	done          chan struct{}
	closeOnce     sync.Once
	sent          metrics.Counter
	skipped       metrics.Counter
	failed        metrics.Counter
}

func (b *outputBase) open(name string) {
	b.outputChannel = make(chan feature.Feature, util.GeneralFlags.ResultChannelSize)
	b.done = make(chan struct{})
	b.sent = metrics.GetOrRegisterCounter(name+"SentToOutput", metrics.DefaultRegistry)
	b.skipped = metrics.GetOrRegisterCounter(name+"Skipped", metrics.DefaultRegistry)
	b.failed = metrics.GetOrRegisterCounter(name+"Failed", metrics.DefaultRegistry)
}

func (b *outputBase) OutputChannel() chan feature.Feature {
	return b.outputChannel
}

// Close stops accepting features and blocks until everything queued has been written out
func (b *outputBase) Close() {
	b.closeOnce.Do(func() {
		if b.outputChannel == nil {
			return
		}
		close(b.outputChannel)
		<-b.done
	})
}

func (b *outputBase) finished() {
	close(b.done)
}

// skip applies the skip/allow address logic of outputType and counts what it drops
func (b *outputBase) skip(outputType uint, f feature.Feature) bool {
	if util.CheckIfWeSkip(outputType, f) {
		b.skipped.Inc(1)
		return true
	}
	return false
}

// marshal renders f, counting features the format has no representation for as skipped
func (b *outputBase) marshal(m util.OutputMarshaller, f feature.Feature) []byte {
	out := m.Marshal(f)
	if out == nil {
		b.skipped.Inc(1)
	}
	return out
}

// vim: foldmethod=marker
