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

// netfeature captures packets from a pcap file or a live interface and turns every IPv4 and IPv6
// header into a flat feature record. The records are written as a CSV dataset, or streamed to any
// of the supported outputs: stdout, syslog, kafka, clickhouse, postgres, influx, elastic, splunk
// and parquet.
package main

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mosajjal/netfeature/internal/capture"
	"github.com/mosajjal/netfeature/internal/util"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func handleInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	if runtime.GOOS == "linux" {
		signal.Notify(c, syscall.SIGPIPE)
	}
	go func() {
		<-c
		log.Infof("SIGINT Received. Stopping capture...")
		util.GlobalCancel()
		<-time.After(4 * time.Second)
		log.Fatal("emergency exit")
	}()
}

var flagPattern = regexp.MustCompile(`(?m)--(\w+)`)

func main() {
	// flags are case insensitive
	for i := range os.Args {
		os.Args[i] = flagPattern.ReplaceAllStringFunc(os.Args[i], strings.ToLower)
	}

	var ctx context.Context
	ctx, util.GlobalCancel = context.WithCancel(context.Background())
	// process and handle flags
	util.ProcessFlags(ctx)

	if util.GeneralFlags.ListInterfaces {
		if err := capture.PrintInterfacesJSON(os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// debug and profile options
	runtime.GOMAXPROCS(util.GeneralFlags.Gomaxprocs)
	if util.GeneralFlags.Cpuprofile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(util.GeneralFlags.Cpuprofile)).Stop()
	}
	// Setup the memory profile if requested
	if util.GeneralFlags.Memprofile != "" {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(util.GeneralFlags.Memprofile)).Stop()
	}

	// Setup SIGINT handling
	handleInterrupt()

	g, gCtx := errgroup.WithContext(ctx)
	// set up capture
	g.Go(func() error {
		if err := capture.GlobalCaptureConfig.CheckFlagsAndStart(gCtx); err != nil {
			log.Errorf("capture failed: %s", err)
			return err
		}
		return nil
	})

	// Set up output dispatch once the capture is ready
	if c := capture.GlobalCaptureConfig.GetResultChannel(gCtx); c != nil {
		g.Go(func() error { return setupOutputs(gCtx, c) })
	}

	// block until capture and output finish their loop, in order to exit cleanly
	err := g.Wait()
	util.GlobalCancel()

	// print metrics for one last time before exiting the program
	os.Stderr.WriteString("metrics: " + util.FormatMetrics("json") + "\n")
	if err != nil {
		os.Exit(1)
	}
}

// vim: foldmethod=marker
