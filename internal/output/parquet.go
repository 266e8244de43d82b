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
	"io"
	"os"
	"sync"

	"github.com/jessevdk/go-flags"
	"github.com/mosajjal/netfeature/internal/util"
	"github.com/parquet-go/parquet-go"
	log "github.com/sirupsen/logrus"
)

type parquetConfig struct {
	ParquetOutputType      uint           `long:"parquetoutputtype"      ini-name:"parquetoutputtype"      env:"NETFEATURE_PARQUETOUTPUTTYPE"      default:"0"      description:"What should be written to parquet file. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	ParquetOutputPath      flags.Filename `long:"parquetoutputpath"      ini-name:"parquetoutputpath"      env:"NETFEATURE_PARQUETOUTPUTPATH"      default:""       description:"Path to the parquet file. Used if parquetoutputtype is not none. an existing file is replaced"`
	ParquetFlushBatchSize  uint           `long:"parquetflushbatchsize"  ini-name:"parquetflushbatchsize"  env:"NETFEATURE_PARQUETFLUSHBATCHSIZE"  default:"10000"  description:"Number of records to write to parquet file before flushing"`
	ParquetWorkerCount     uint           `long:"parquetworkercount"     ini-name:"parquetworkercount"     env:"NETFEATURE_PARQUETWORKERCOUNT"     default:"4"      description:"Number of workers to write to parquet file"`
	ParquetWriteBufferSize uint           `long:"parquetwritebuffersize" ini-name:"parquetwritebuffersize" env:"NETFEATURE_PARQUETWRITEBUFFERSIZE" default:"256000" description:"Size of the write buffer in bytes"`
	outputBase
	writer            io.WriteCloser
	parquetWriter     *parquet.GenericWriter[flatFeature]
	parquetWriterLock sync.Mutex
}

func init() {
	c := parquetConfig{}
	if _, err := util.GlobalParser.AddGroup("parquet_output", "Parquet Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// newParquetWriter wraps w in a row writer with bloom filters on both address columns
func newParquetWriter(w io.Writer, bufferSize int) *parquet.GenericWriter[flatFeature] {
	return parquet.NewGenericWriter[flatFeature](w,
		parquet.BloomFilters(
			parquet.SplitBlockFilter(10, "src_ip"),
			parquet.SplitBlockFilter(10, "dst_ip"),
		),
		parquet.WriteBufferSize(bufferSize),
		parquet.CreatedBy("netfeature", util.GetCommitHash(), util.GetCommitDate()),
	)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (config *parquetConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(config.ParquetOutputType); err != nil {
		// we will catch this error in the dispatch loop and remove any output from the registry if they don't have the correct output type
		return err
	}
	if config.ParquetOutputPath == "" {
		return errors.New("--parquetoutputpath is required when parquetoutputtype is not none")
	}
	if config.ParquetFlushBatchSize == 0 {
		config.ParquetFlushBatchSize = 1
	}
	if config.ParquetWorkerCount == 0 {
		config.ParquetWorkerCount = 1
	}
	var err error
	// parquet carries its footer at the end, appending to an old file would corrupt it
	config.writer, err = os.OpenFile(string(config.ParquetOutputPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	config.parquetWriter = newParquetWriter(config.writer, int(config.ParquetWriteBufferSize))

	log.Info("Creating Parquet Output Channel")
	config.open("parquet")
	go config.Output()
	return nil
}

func (config *parquetConfig) Output() {
	defer config.finished()
	var wg sync.WaitGroup
	for i := uint(0); i < config.ParquetWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			config.OutputWorker()
		}()
	}
	wg.Wait()

	config.parquetWriterLock.Lock()
	defer config.parquetWriterLock.Unlock()
	if err := config.parquetWriter.Close(); err != nil {
		log.Error(err)
	}
	if err := config.writer.Close(); err != nil {
		log.Error(err)
	}
}

func (config *parquetConfig) writeRows(rows []flatFeature) {
	if len(rows) == 0 {
		return
	}
	config.parquetWriterLock.Lock()
	defer config.parquetWriterLock.Unlock()
	n, err := config.parquetWriter.Write(rows)
	if err != nil {
		log.Warn(err)
		config.failed.Inc(int64(len(rows) - n))
	}
	if err := config.parquetWriter.Flush(); err != nil {
		log.Error(err)
		config.failed.Inc(int64(n))
		return
	}
	config.sent.Inc(int64(n))
}

func (config *parquetConfig) OutputWorker() {
	rows := make([]flatFeature, 0, config.ParquetFlushBatchSize)
	for f := range config.outputChannel {
		if config.skip(config.ParquetOutputType, f) {
			continue
		}
		rows = append(rows, flatten(f))
		if uint(len(rows)) >= config.ParquetFlushBatchSize {
			config.writeRows(rows)
			rows = rows[:0]
		}
	}
	config.writeRows(rows)
	log.Debug("exiting out of parquet output worker")
}

// vim: foldmethod=marker
