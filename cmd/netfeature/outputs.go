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

package main

import (
	"context"
	"errors"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/output"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
)

func removeIndex(s []util.GenericOutput, index int) []util.GenericOutput {
	return append(s[:index], s[index+1:]...)
}

// reloadTicker ticks every interval when a list file is configured, otherwise it never fires
func reloadTicker(name, file string, interval time.Duration) (<-chan time.Time, func()) {
	if file == "" || interval <= 0 {
		log.Infof("skipping %s refresh since it's not provided", name)
		return nil, func() {}
	}
	log.Infof("%s refresh interval is %s", name, interval)
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// dispatch hands a feature to one output. after an interrupt a stalled output no longer blocks
// the rest, its features are dropped instead.
func dispatch(ctx context.Context, o util.GenericOutput, f feature.Feature) {
	select {
	case o.OutputChannel() <- f:
		return
	default:
	}
	select {
	case o.OutputChannel() <- f:
	case <-ctx.Done():
	}
}

// setupOutputs initializes every registered output, fans the result channel out to the ones that
// came up and closes them all once the capture has closed the channel.
func setupOutputs(ctx context.Context, resultChannel chan feature.Feature) error {
	log.Info("Creating the dispatch Channel")
	// go through all the registered outputs, and see if they are configured to push data, otherwise, remove them from the dispatch list
	for i := 0; i < len(util.GlobalDispatchList); i++ {
		if err := util.GlobalDispatchList[i].Initialize(ctx); err != nil {
			if !errors.Is(err, output.ErrNoOutput) {
				log.Errorf("removing output: %s", err)
			}
			// the output does not exist, time to remove the item from our globaldispatcher
			util.GlobalDispatchList = removeIndex(util.GlobalDispatchList, i)
			// since we just removed the item, we should go back one index to keep it consistent
			i--
		}
	}
	if len(util.GlobalDispatchList) == 0 {
		log.Warn("no output is enabled, features are decoded and counted only")
	}

	skipTick, stopSkip := reloadTicker("skipAddressFile", util.GeneralFlags.SkipAddressFile, util.GeneralFlags.SkipAddressRefreshInterval)
	defer stopSkip()
	allowTick, stopAllow := reloadTicker("allowAddressFile", util.GeneralFlags.AllowAddressFile, util.GeneralFlags.AllowAddressRefreshInterval)
	defer stopAllow()

	for {
		select {
		case data, ok := <-resultChannel:
			if !ok {
				log.Info("capture finished, flushing outputs")
				for _, o := range util.GlobalDispatchList {
					o.Close()
				}
				return nil
			}
			for _, o := range util.GlobalDispatchList {
				dispatch(ctx, o, data)
			}
		case <-skipTick:
			if err := util.GeneralFlags.LoadSkipAddress(); err != nil {
				log.Warnf("could not reload the skip list, keeping the previous one: %s", err)
			}
		case <-allowTick:
			if err := util.GeneralFlags.LoadAllowAddress(); err != nil {
				log.Warnf("could not reload the allow list, keeping the previous one: %s", err)
			}
		}
	}
}

// vim: foldmethod=marker
