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
	"time"

	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"

	"github.com/olivere/elastic"
)

// elasticConfig is the configuration and runtime struct for Elastic output.
type elasticConfig struct {
	OutputType  uint          `long:"elasticoutputtype"     ini-name:"elasticoutputtype"     env:"NETFEATURE_ELASTICOUTPUTTYPE"     default:"0"          description:"What should be written to elastic. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	Address     []string      `long:"elasticoutputendpoint" ini-name:"elasticoutputendpoint" env:"NETFEATURE_ELASTICOUTPUTENDPOINT" default:""           description:"elastic endpoint address, example: http://127.0.0.1:9200. Used if elasticOutputType is not none"`
	OutputIndex string        `long:"elasticoutputindex"    ini-name:"elasticoutputindex"    env:"NETFEATURE_ELASTICOUTPUTINDEX"    default:"netfeature" description:"elastic index"`
	BatchSize   uint          `long:"elasticbatchsize"      ini-name:"elasticbatchsize"      env:"NETFEATURE_ELASTICBATCHSIZE"      default:"1000"       description:"Send data to Elastic in batch sizes"`
	BatchDelay  time.Duration `long:"elasticbatchdelay"     ini-name:"elasticbatchdelay"     env:"NETFEATURE_ELASTICBATCHDELAY"     default:"1s"         description:"Interval between sending results to Elastic if Batch size is not filled"`
	outputBase
	outputMarshaller util.OutputMarshaller
}

// newElasticConfig creates an elasticConfig with the flag defaults.
func newElasticConfig() *elasticConfig {
	return &elasticConfig{OutputIndex: "netfeature", BatchSize: 1000, BatchDelay: time.Second}
}

// WithOutputType sets the OutputType and returns the config for chaining.
func (c *elasticConfig) WithOutputType(t uint) *elasticConfig {
	c.OutputType = t
	return c
}

// WithAddress sets the Address and returns the config for chaining.
func (c *elasticConfig) WithAddress(addr []string) *elasticConfig {
	c.Address = addr
	return c
}

func init() {
	c := elasticConfig{}
	if _, err := util.GlobalParser.AddGroup("elastic_output", "Elastic Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (esConfig *elasticConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(esConfig.OutputType); err != nil {
		// we will catch this error in the dispatch loop and remove any output from the registry if they don't have the correct output type
		return err
	}
	esConfig.Address = nonEmpty(esConfig.Address)
	if len(esConfig.Address) == 0 {
		return errors.New("--elasticoutputendpoint is required when elasticoutputtype is not none")
	}
	var err error
	esConfig.outputMarshaller, _, err = util.OutputFormatToMarshaller("json", "")
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	if esConfig.BatchSize == 0 {
		esConfig.BatchSize = 1
	}
	if esConfig.BatchDelay <= 0 {
		esConfig.BatchDelay = time.Second
	}

	log.Info("Creating Elastic Output Channel")
	esConfig.open("elastic")
	go esConfig.Output(ctx)
	return nil
}

func (esConfig *elasticConfig) connectElasticRetry(ctx context.Context) (*elastic.Client, error) {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		conn, err := esConfig.connectElastic(ctx)
		if err == nil {
			return conn, nil
		}
		log.Errorf("Error connecting to Elastic: %s", err)

		// Error getting connection, wait the timer or check if we are exiting
		select {
		case <-tick.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (esConfig *elasticConfig) connectElastic(ctx context.Context) (*elastic.Client, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: util.GeneralFlags.SkipTLSVerification},
	}
	httpClient := &http.Client{Transport: tr}

	client, err := elastic.NewClient(
		elastic.SetHttpClient(httpClient),
		elastic.SetURL(esConfig.Address...),
		elastic.SetSniff(false),
		elastic.SetHealthcheckInterval(10*time.Second),
		elastic.SetGzip(true),
		elastic.SetErrorLog(log.New()),
	)
	if err != nil {
		return nil, err
	}

	// Ping the Elasticsearch server to get e.g. the version number
	info, code, err := client.Ping(esConfig.Address[0]).Do(ctx)
	if err != nil {
		client.Stop()
		return nil, err
	}
	log.Infof("Elasticsearch returned with code %d and version %s", code, info.Version.Number)

	if err := esConfig.ensureIndex(ctx, client); err != nil {
		client.Stop()
		return nil, err
	}
	return client, nil
}

func (esConfig *elasticConfig) ensureIndex(ctx context.Context, client *elastic.Client) error {
	// Use the IndexExists service to check if a specified index exists.
	exists, err := client.IndexExists(esConfig.OutputIndex).Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	createIndex, err := client.CreateIndex(esConfig.OutputIndex).Do(ctx)
	if err != nil {
		return err
	}
	if !createIndex.Acknowledged {
		return fmt.Errorf("creating elastic index %s was not acknowledged", esConfig.OutputIndex)
	}
	return nil
}

func (esConfig *elasticConfig) Output(ctx context.Context) {
	defer esConfig.finished()
	client, err := esConfig.connectElasticRetry(ctx)
	if err != nil {
		for range esConfig.outputChannel {
			esConfig.failed.Inc(1)
		}
		return
	}
	defer client.Stop()

	ticker := time.NewTicker(esConfig.BatchDelay)
	defer ticker.Stop()

	bulk := client.Bulk().Index(esConfig.OutputIndex).Type("_doc")
	for {
		select {
		case f, ok := <-esConfig.outputChannel:
			if !ok {
				esConfig.elasticSendData(bulk)
				return
			}
			if esConfig.skip(esConfig.OutputType, f) {
				continue
			}
			doc := esConfig.outputMarshaller.Marshal(f)
			bulk.Add(elastic.NewBulkIndexRequest().Doc(json.RawMessage(doc)))
			if uint(bulk.NumberOfActions()) >= esConfig.BatchSize {
				esConfig.elasticSendData(bulk)
			}
		case <-ticker.C:
			esConfig.elasticSendData(bulk)
		}
	}
}

// elasticSendData sends what the bulk request holds and flushes the index. the bulk service resets
// itself after Do, so it is reused for the next batch.
func (esConfig *elasticConfig) elasticSendData(bulk *elastic.BulkService) {
	n := bulk.NumberOfActions()
	if n == 0 {
		return
	}
	ctx := context.Background()
	resp, err := bulk.Do(ctx)
	if err != nil {
		log.Warnf("elastic bulk request failed: %s", err)
		esConfig.failed.Inc(int64(n))
		bulk.Reset()
		return
	}
	failed := len(resp.Failed())
	esConfig.failed.Inc(int64(failed))
	esConfig.sent.Inc(int64(n - failed))
}

// vim: foldmethod=marker
