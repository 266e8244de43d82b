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
	"io"
	"os"
	"sync"

	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
)

type stdoutConfig struct {
	StdoutOutputType        uint   `long:"stdoutoutputtype"        ini-name:"stdoutoutputtype"        env:"NETFEATURE_STDOUTOUTPUTTYPE"        default:"0"     description:"What should be written to stdout. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	StdoutOutputFormat      string `long:"stdoutoutputformat"      ini-name:"stdoutoutputformat"      env:"NETFEATURE_STDOUTOUTPUTFORMAT"      default:"json"  description:"Output format for stdout" choice:"json" choice:"csv" choice:"csv_ipv4" choice:"csv_ipv6" choice:"csv_no_header" choice:"gotemplate"`
	StdoutOutputGoTemplate  string `long:"stdoutoutputgotemplate"  ini-name:"stdoutoutputgotemplate"  env:"NETFEATURE_STDOUTOUTPUTGOTEMPLATE"  default:"{{.}}" description:"Go Template to format the output as needed"`
	StdoutOutputWorkerCount uint   `long:"stdoutoutputworkercount" ini-name:"stdoutoutputworkercount" env:"NETFEATURE_STDOUTOUTPUTWORKERCOUNT" default:"8"     description:"Number of workers"`
	outputBase
	outputMarshaller util.OutputMarshaller
	out              io.Writer
	outLock          sync.Mutex
}

func init() {
	c := stdoutConfig{out: os.Stdout}
	if _, err := util.GlobalParser.AddGroup("stdout_output", "Stdout Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (config *stdoutConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(config.StdoutOutputType); err != nil {
		return err
	}
	var err error
	var header string
	config.outputMarshaller, header, err = util.OutputFormatToMarshaller(config.StdoutOutputFormat, config.StdoutOutputGoTemplate)
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	if config.out == nil {
		config.out = os.Stdout
	}
	if header != "" {
		if _, err := io.WriteString(config.out, header+"\n"); err != nil {
			return err
		}
	}
	log.Info("Creating Stdout Output Channel")
	config.open("stdout")
	go config.Output(ctx)
	return nil
}

func (config *stdoutConfig) Output(ctx context.Context) {
	workers := config.StdoutOutputWorkerCount
	if workers == 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := uint(0); i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			config.stdoutOutputWorker()
		}()
	}
	wg.Wait()
	config.finished()
}

func (config *stdoutConfig) stdoutOutputWorker() {
	for f := range config.outputChannel {
		if config.skip(config.StdoutOutputType, f) {
			continue
		}
		line := config.marshal(config.outputMarshaller, f)
		if line == nil {
			continue
		}
		config.outLock.Lock()
		_, err := config.out.Write(append(line, '\n'))
		config.outLock.Unlock()
		if err != nil {
			config.failed.Inc(1)
			continue
		}
		config.sent.Inc(1)
	}
}

// vim: foldmethod=marker
