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
	"errors"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
)

// InfluxConfig is the configuration and runtime struct for InfluxDB output
type influxConfig struct {
	// Configuration options
	OutputType    uint   `long:"influxoutputtype"    ini-name:"influxoutputtype"    env:"NETFEATURE_INFLUXOUTPUTTYPE"    default:"0"          description:"What should be written to influx. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	OutputServer  string `long:"influxoutputserver"  ini-name:"influxoutputserver"  env:"NETFEATURE_INFLUXOUTPUTSERVER"  default:""           description:"influx Server address, example: http://localhost:8086. Used if influxOutputType is not none"`
	OutputToken   string `long:"influxoutputtoken"   ini-name:"influxoutputtoken"   env:"NETFEATURE_INFLUXOUTPUTTOKEN"   default:"netfeature" description:"Influx Server Auth Token"`
	OutputBucket  string `long:"influxoutputbucket"  ini-name:"influxoutputbucket"  env:"NETFEATURE_INFLUXOUTPUTBUCKET"  default:"netfeature" description:"Influx Server Bucket"`
	OutputOrg     string `long:"influxoutputorg"     ini-name:"influxoutputorg"     env:"NETFEATURE_INFLUXOUTPUTORG"     default:"netfeature" description:"Influx Server Org"`
	OutputWorkers uint   `long:"influxoutputworkers" ini-name:"influxoutputworkers" env:"NETFEATURE_INFLUXOUTPUTWORKERS" default:"8"          description:"Number of Influx output workers"`
	BatchSize     uint   `long:"influxbatchsize"     ini-name:"influxbatchsize"     env:"NETFEATURE_INFLUXBATCHSIZE"     default:"1000"       description:"Number of points the Influx client buffers before writing"`

	// Runtime resources
	outputBase
}

// newInfluxConfig creates an influxConfig with the flag defaults, mostly for tests
func newInfluxConfig() *influxConfig {
	return &influxConfig{
		OutputToken:   "netfeature",
		OutputBucket:  "netfeature",
		OutputOrg:     "netfeature",
		OutputWorkers: 8,
		BatchSize:     1000,
	}
}

// WithOutputType sets the OutputType and returns the config for chaining
func (c *influxConfig) WithOutputType(t uint) *influxConfig {
	c.OutputType = t
	return c
}

// WithOutputServer sets the OutputServer and returns the config for chaining
func (c *influxConfig) WithOutputServer(server string) *influxConfig {
	c.OutputServer = server
	return c
}

// WithOutputWorkers sets the OutputWorkers and returns the config for chaining
func (c *influxConfig) WithOutputWorkers(workers uint) *influxConfig {
	c.OutputWorkers = workers
	return c
}

func init() {
	c := influxConfig{}
	if _, err := util.GlobalParser.AddGroup("influx_output", "Influx Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (c *influxConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(c.OutputType); err != nil {
		return err
	}
	if c.OutputServer == "" {
		return errors.New("--influxoutputserver is required when influxoutputtype is not none")
	}
	if c.OutputWorkers == 0 {
		c.OutputWorkers = 1
	}
	log.Info("Creating Influx Output Channel")
	c.open("influx")
	go c.Output(ctx)
	return nil
}

func (c *influxConfig) connectInflux() influxdb2.Client {
	return influxdb2.NewClientWithOptions(c.OutputServer, c.OutputToken, influxdb2.DefaultOptions().SetBatchSize(c.BatchSize))
}

// influxPoint is a `packet` point tagged with the server, the address family and the protocol
func influxPoint(f feature.Feature) *write.Point {
	r := flatten(f)
	fields := map[string]interface{}{
		"srcip":        r.SrcIP,
		"dstip":        r.DstIP,
		"protocol_num": int64(r.Protocol),
		"ttl":          int64(r.TTL),
		"size":         int64(r.FrameLength),
		"tos":          int64(r.TOS),
		"length":       int64(r.Length),
	}
	if f.Kind == feature.KindIPv6 {
		fields["flowlabel"] = int64(r.FlowLabel)
	} else {
		fields["id"] = int64(r.Identification)
		fields["fragment_offset"] = int64(r.FragmentOffset)
	}
	return influxdb2.NewPoint("packet", map[string]string{
		"server":   util.GeneralFlags.ServerName,
		"family":   f.Kind.String(),
		"protocol": r.ProtocolName,
	}, fields, r.Timestamp)
}

// Output runs the workers on one non-blocking write API. the client batches the points itself
func (c *influxConfig) Output(ctx context.Context) {
	defer c.finished()
	client := c.connectInflux()
	writeAPI := client.WriteAPI(c.OutputOrg, c.OutputBucket)

	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		for err := range writeAPI.Errors() {
			log.Warnf("influx write failed: %s", err)
			c.failed.Inc(1)
		}
	}()

	var wg sync.WaitGroup
	for i := uint(0); i < c.OutputWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range c.outputChannel {
				if c.skip(c.OutputType, f) {
					continue
				}
				writeAPI.WritePoint(influxPoint(f))
				c.sent.Inc(1)
			}
		}()
	}
	wg.Wait()

	// Force all unwritten data to be sent
	writeAPI.Flush()
	// Ensures background processes finishes, which also closes the error channel
	client.Close()
	select {
	case <-errDone:
	case <-ctx.Done():
	}
	log.Debug("Exiting Influx output")
}

// vim: foldmethod=marker
