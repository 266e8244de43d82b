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
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mosajjal/Go-Splunk-HTTP/splunk/v2"
	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
)

type splunkConfig struct {
	SplunkOutputType       uint          `long:"splunkoutputtype"       ini-name:"splunkoutputtype"       env:"NETFEATURE_SPLUNKOUTPUTTYPE"       default:"0"                                    description:"What should be written to HEC. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	SplunkOutputEndpoint   []string      `long:"splunkoutputendpoint"   ini-name:"splunkoutputendpoint"   env:"NETFEATURE_SPLUNKOUTPUTENDPOINT"   default:""                                     description:"splunk endpoint address, example: http://127.0.0.1:8088. Used if splunkOutputType is not none, can be specified multiple times for load balanace and HA"`
	SplunkOutputToken      string        `long:"splunkoutputtoken"      ini-name:"splunkoutputtoken"      env:"NETFEATURE_SPLUNKOUTPUTTOKEN"      default:"00000000-0000-0000-0000-000000000000" description:"Splunk HEC Token"`
	SplunkOutputIndex      string        `long:"splunkoutputindex"      ini-name:"splunkoutputindex"      env:"NETFEATURE_SPLUNKOUTPUTINDEX"      default:"temp"                                 description:"Splunk Output Index"`
	SplunkOutputProxy      string        `long:"splunkoutputproxy"      ini-name:"splunkoutputproxy"      env:"NETFEATURE_SPLUNKOUTPUTPROXY"      default:""                                     description:"Splunk Output Proxy in URI format"`
	SplunkOutputSource     string        `long:"splunkoutputsource"     ini-name:"splunkoutputsource"     env:"NETFEATURE_SPLUNKOUTPUTSOURCE"     default:"netfeature"                           description:"Splunk Output Source"`
	SplunkOutputSourceType string        `long:"splunkoutputsourcetype" ini-name:"splunkoutputsourcetype" env:"NETFEATURE_SPLUNKOUTPUTSOURCETYPE" default:"json"                                 description:"Splunk Output Sourcetype"`
	SplunkBatchSize        uint          `long:"splunkbatchsize"        ini-name:"splunkbatchsize"        env:"NETFEATURE_SPLUNKBATCHSIZE"        default:"1000"                                 description:"Send data to HEC in batch sizes"`
	SplunkBatchDelay       time.Duration `long:"splunkbatchdelay"       ini-name:"splunkbatchdelay"       env:"NETFEATURE_SPLUNKBATCHDELAY"       default:"1s"                                   description:"Interval between sending results to HEC if Batch size is not filled"`
	outputBase
	outputMarshaller util.OutputMarshaller
	connections      *splunkConnections
}

type splunkConnection struct {
	Client    *splunk.Client
	Unhealthy uint
	Err       error
}

// splunkConnections is the endpoint health table, shared by the health checkers and the sender
type splunkConnections struct {
	sync.Mutex
	list map[string]splunkConnection
}

func newSplunkConnections() *splunkConnections {
	return &splunkConnections{list: make(map[string]splunkConnection)}
}

func (s *splunkConnections) set(endpoint string, conn splunkConnection) {
	s.Lock()
	s.list[endpoint] = conn
	s.Unlock()
}

// needsConnect reports whether endpoint is missing or marked unhealthy
func (s *splunkConnections) needsConnect(endpoint string) bool {
	s.Lock()
	defer s.Unlock()
	conn, ok := s.list[endpoint]
	return !ok || conn.Unhealthy != 0
}

// healthy picks any healthy endpoint, ok is false when none is left
func (s *splunkConnections) healthy() (endpoint string, conn splunkConnection, ok bool) {
	s.Lock()
	defer s.Unlock()
	for id, connection := range s.list {
		if connection.Unhealthy == 0 {
			return id, connection, true
		}
	}
	return "", splunkConnection{}, false
}

func (s *splunkConnections) markUnhealthy(endpoint string, err error) {
	s.Lock()
	defer s.Unlock()
	if conn, ok := s.list[endpoint]; ok {
		conn.Unhealthy++
		conn.Err = err
		s.list[endpoint] = conn
	}
}

func init() {
	c := splunkConfig{}
	if _, err := util.GlobalParser.AddGroup("splunk_output", "Splunk Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (spConfig *splunkConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(spConfig.SplunkOutputType); err != nil {
		// we will catch this error in the dispatch loop and remove any output from the registry if they don't have the correct output type
		return err
	}
	spConfig.SplunkOutputEndpoint = nonEmpty(spConfig.SplunkOutputEndpoint)
	if len(spConfig.SplunkOutputEndpoint) == 0 {
		return errors.New("--splunkoutputendpoint is required when splunkoutputtype is not none")
	}
	var err error
	spConfig.outputMarshaller, _, err = util.OutputFormatToMarshaller("json", "")
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	var proxyURL *url.URL
	if spConfig.SplunkOutputProxy != "" {
		if proxyURL, err = url.Parse(spConfig.SplunkOutputProxy); err != nil {
			return fmt.Errorf("invalid splunk proxy: %w", err)
		}
	}
	if spConfig.SplunkBatchSize == 0 {
		spConfig.SplunkBatchSize = 1
	}
	if spConfig.SplunkBatchDelay <= 0 {
		spConfig.SplunkBatchDelay = time.Second
	}

	log.Info("Creating Splunk Output Channel")
	spConfig.connections = newSplunkConnections()
	spConfig.open("splunk")
	go spConfig.Output(ctx, proxyURL)
	return nil
}

func (spConfig *splunkConfig) connectMultiSplunkRetry(stop <-chan struct{}, proxyURL *url.URL) {
	for _, splunkEndpoint := range spConfig.SplunkOutputEndpoint {
		go spConfig.connectSplunkRetry(stop, splunkEndpoint, proxyURL)
	}
}

// connectSplunkRetry (re)connects an endpoint right away and then whenever it turns unhealthy
func (spConfig *splunkConfig) connectSplunkRetry(stop <-chan struct{}, splunkEndpoint string, proxyURL *url.URL) {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		if spConfig.connections.needsConnect(splunkEndpoint) {
			log.Infof("connecting to splunk endpoint %s", splunkEndpoint)
			spConfig.connections.set(splunkEndpoint, spConfig.connectSplunk(splunkEndpoint, proxyURL))
		}
		select {
		case <-tick.C:
		case <-stop:
			return
		}
	}
}

// splunkCollectorURL appends the HEC collector path unless the endpoint already carries it
func splunkCollectorURL(splunkEndpoint string) string {
	splunkEndpoint = strings.TrimSuffix(splunkEndpoint, "/")
	if strings.HasSuffix(splunkEndpoint, "/services/collector") {
		return splunkEndpoint
	}
	return fmt.Sprintf("%s/services/collector", splunkEndpoint)
}

func (spConfig *splunkConfig) connectSplunk(splunkEndpoint string, proxyURL *url.URL) splunkConnection {
	tr := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: util.GeneralFlags.SkipTLSVerification}}
	if proxyURL != nil {
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	httpClient := &http.Client{Timeout: time.Second * 20, Transport: tr}

	// we won't define sourcetype and index here, because we want to be able to do that per write
	client := splunk.NewClient(
		httpClient,
		splunkCollectorURL(splunkEndpoint),
		spConfig.SplunkOutputToken,
		spConfig.SplunkOutputSource,
		spConfig.SplunkOutputSourceType,
		spConfig.SplunkOutputIndex,
	)
	err := client.CheckHealth()
	unhealthy := uint(0)
	if err != nil {
		log.Warnf("splunk endpoint %s is unhealthy: %s", splunkEndpoint, err)
		unhealthy++
	}
	return splunkConnection{Client: client, Unhealthy: unhealthy, Err: err}
}

func (spConfig *splunkConfig) Output(ctx context.Context, proxyURL *url.URL) {
	defer spConfig.finished()
	stop := make(chan struct{})
	defer close(stop)

	log.Infof("Connecting to Splunk endpoints")
	spConfig.connectMultiSplunkRetry(stop, proxyURL)

	batch := make([]feature.Feature, 0, spConfig.SplunkBatchSize)
	ticker := time.NewTicker(spConfig.SplunkBatchDelay)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		select {
		case f, ok := <-spConfig.outputChannel:
			if !ok {
				spConfig.flush(batch)
				return
			}
			if spConfig.skip(spConfig.SplunkOutputType, f) {
				continue
			}
			batch = append(batch, f)
			if uint(len(batch)) >= spConfig.SplunkBatchSize {
				batch = spConfig.flush(batch)
			}
		case <-ticker.C:
			batch = spConfig.flush(batch)
		case <-interrupted:
			// drop the pending batch but keep draining until the dispatcher closes us
			interrupted = nil
			spConfig.failed.Inc(int64(len(batch)))
			batch = batch[:0]
		}
	}
}

// flush sends the batch to a healthy endpoint. A batch that could not be delivered stays pending
// unless it has grown past twice the batch size, then it is dropped and counted as failed.
func (spConfig *splunkConfig) flush(batch []feature.Feature) []feature.Feature {
	if len(batch) == 0 {
		return batch
	}
	healthyID, conn, ok := spConfig.connections.healthy()
	if !ok {
		log.Warn("No more healthy HEC connections left")
		return spConfig.keepOrDrop(batch)
	}
	if err := spConfig.splunkSendData(conn.Client, batch); err != nil {
		log.Warnf("marking connection %s as unhealthy: %s", healthyID, err)
		spConfig.connections.markUnhealthy(healthyID, err)
		return spConfig.keepOrDrop(batch)
	}
	spConfig.sent.Inc(int64(len(batch)))
	return batch[:0]
}

func (spConfig *splunkConfig) keepOrDrop(batch []feature.Feature) []feature.Feature {
	if uint(len(batch)) < 2*spConfig.SplunkBatchSize {
		return batch
	}
	spConfig.failed.Inc(int64(len(batch)))
	return batch[:0]
}

func (spConfig *splunkConfig) splunkSendData(client *splunk.Client, batch []feature.Feature) error {
	events := make([]*splunk.Event, 0, len(batch))
	for _, f := range batch {
		events = append(events,
			client.NewEventWithTime(f.Timestamp, json.RawMessage(spConfig.outputMarshaller.Marshal(f)), spConfig.SplunkOutputSource, spConfig.SplunkOutputSourceType, spConfig.SplunkOutputIndex),
		)
	}
	return client.LogEvents(events)
}

// vim: foldmethod=marker
