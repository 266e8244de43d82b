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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthurkiller/rollingwriter"
	"github.com/jessevdk/go-flags"
	"github.com/mosajjal/netfeature/internal/capture"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
)

type fileConfig struct {
	FileOutputType        uint           `long:"fileoutputtype"        ini-name:"fileoutputtype"        env:"NETFEATURE_FILEOUTPUTTYPE"        default:"0"     description:"What should be written to file. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	FileOutputPath        flags.Filename `long:"fileoutputpath"        ini-name:"fileoutputpath"        env:"NETFEATURE_FILEOUTPUTPATH"        default:""      description:"Path to output file. Used if fileOutputType is not none"`
	FileOutputFormat      string         `long:"fileoutputformat"      ini-name:"fileoutputformat"      env:"NETFEATURE_FILEOUTPUTFORMAT"      default:"csv"   description:"Output format for file. csv writes the dataset header when the file is new or empty" choice:"json" choice:"csv" choice:"csv_ipv4" choice:"csv_ipv6" choice:"csv_no_header" choice:"gotemplate" choice:"gob"`
	FileOutputGoTemplate  string         `long:"fileoutputgotemplate"  ini-name:"fileoutputgotemplate"  env:"NETFEATURE_FILEOUTPUTGOTEMPLATE"  default:"{{.}}" description:"Go Template to format the output as needed"`
	FileOutputRotateSize  string         `long:"fileoutputrotatesize"  ini-name:"fileoutputrotatesize"  env:"NETFEATURE_FILEOUTPUTROTATESIZE"  default:""      description:"Rotate the file once it reaches this size, eg 100mb. Ignored for csv formats, empty disables rotation"`
	FileOutputRotateCount uint           `long:"fileoutputrotatecount" ini-name:"fileoutputrotatecount" env:"NETFEATURE_FILEOUTPUTROTATECOUNT" default:"4"     description:"Number of rotated files to keep"`
	outputBase
	outputMarshaller util.OutputMarshaller
	writer           io.WriteCloser
}

func init() {
	c := fileConfig{}
	if _, err := util.GlobalParser.AddGroup("file_output", "File Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// csvMode picks the dataset mode for a csv format. plain csv narrows to one family when the
// capture filter preset only lets that family through.
func csvMode(format, preset string) (util.CSVMode, bool) {
	mode, ok := util.CSVModeOf(format)
	if !ok || format != "csv" {
		return mode, ok
	}
	switch preset {
	case "ipv4":
		return util.CSVIPv4Only, true
	case "ipv6":
		return util.CSVIPv6Only, true
	}
	return mode, true
}

// openDataset opens a csv file for appending and writes the header only to a new or empty file
func openDataset(path, header string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 && header != "" {
		if _, err := f.WriteString(header + "\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (config *fileConfig) openRolling(path string) (io.WriteCloser, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return rollingwriter.NewWriterFromConfig(&rollingwriter.Config{
		LogPath:                filepath.Dir(path),
		TimeTagFormat:          "20060102150405",
		FileName:               name,
		MaxRemain:              int(config.FileOutputRotateCount),
		RollingPolicy:          rollingwriter.VolumeRolling,
		RollingVolumeSize:      config.FileOutputRotateSize,
		WriterMode:             "lock",
		BufferWriterThershould: 64,
	})
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (config *fileConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(config.FileOutputType); err != nil {
		return err
	}
	if config.FileOutputPath == "" {
		return fmt.Errorf("--fileOutputPath is required when fileOutputType is not none")
	}
	path := string(config.FileOutputPath)

	if mode, ok := csvMode(config.FileOutputFormat, capture.GlobalCaptureConfig.FilterPreset); ok {
		header := ""
		if config.FileOutputFormat != "csv_no_header" {
			header = util.CSVHeader(mode)
		}
		f, err := openDataset(path, header)
		if err != nil {
			return err
		}
		config.outputMarshaller = util.NewCSVMarshaller(mode)
		config.writer = f
	} else {
		var err error
		var header string
		config.outputMarshaller, header, err = util.OutputFormatToMarshaller(config.FileOutputFormat, config.FileOutputGoTemplate)
		if err != nil {
			log.Warnf("Could not initialize output marshaller, removing output: %s", err)
			return err
		}
		if config.FileOutputRotateSize != "" {
			config.writer, err = config.openRolling(path)
		} else {
			config.writer, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		}
		if err != nil {
			return err
		}
		if header != "" {
			if _, err := io.WriteString(config.writer, header+"\n"); err != nil {
				config.writer.Close()
				return err
			}
		}
	}

	log.Infof("Creating File Output Channel for %s", path)
	config.open("file")
	go config.Output(ctx)
	return nil
}

// Output writes every feature as its own line. rows are not buffered, a crash loses at most
// the row being written.
func (config *fileConfig) Output(ctx context.Context) {
	defer config.finished()
	defer config.writer.Close()

	for f := range config.outputChannel {
		if config.skip(config.FileOutputType, f) {
			continue
		}
		row := config.marshal(config.outputMarshaller, f)
		if row == nil {
			continue
		}
		if _, err := config.writer.Write(append(row, '\n')); err != nil {
			log.Errorf("Could not write to %s: %s", config.FileOutputPath, err)
			config.failed.Inc(1)
			continue
		}
		config.sent.Inc(1)
	}
	log.Debug("exiting out of file output")
}

// vim: foldmethod=marker
