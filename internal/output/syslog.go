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
	"net/url"
	"time"

	syslog "github.com/hashicorp/go-syslog"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
)

type syslogConfig struct {
	SyslogOutputType     uint   `long:"syslogoutputtype"     ini-name:"syslogoutputtype"     env:"NETFEATURE_SYSLOGOUTPUTTYPE"     default:"0"                   description:"What should be written to Syslog server. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	SyslogOutputEndpoint string `long:"syslogoutputendpoint" ini-name:"syslogoutputendpoint" env:"NETFEATURE_SYSLOGOUTPUTENDPOINT" default:"udp://127.0.0.1:514" description:"Syslog endpoint address, example: udp://127.0.0.1:514, tcp://127.0.0.1:514. Used if syslogOutputType is not none"`
	outputBase
	outputMarshaller util.OutputMarshaller
	network, address string
}

func init() {
	c := syslogConfig{}
	if _, err := util.GlobalParser.AddGroup("syslog_output", "Syslog Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

func parseSyslogEndpoint(endpoint string) (network, address string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "udp", "tcp", "unix", "unixgram":
	default:
		return "", "", fmt.Errorf("syslog endpoint %q must use udp, tcp, unix or unixgram", endpoint)
	}
	address = u.Host
	if address == "" {
		address = u.Path
	}
	if address == "" {
		return "", "", fmt.Errorf("syslog endpoint %q has no address", endpoint)
	}
	return u.Scheme, address, nil
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (sysConfig *syslogConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(sysConfig.SyslogOutputType); err != nil {
		return err
	}
	var err error
	sysConfig.network, sysConfig.address, err = parseSyslogEndpoint(sysConfig.SyslogOutputEndpoint)
	if err != nil {
		return err
	}
	sysConfig.outputMarshaller, _, err = util.OutputFormatToMarshaller("json", "")
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	log.Info("Creating Syslog Output Channel")
	sysConfig.open("syslog")
	go sysConfig.Output(ctx)
	return nil
}

func (sysConfig *syslogConfig) connectSyslogRetry(ctx context.Context) syslog.Syslogger {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		log.Infof("Connecting to syslog server %v with protocol %v", sysConfig.address, sysConfig.network)
		conn, err := syslog.DialLogger(sysConfig.network, sysConfig.address, syslog.LOG_WARNING, "USER", util.GeneralFlags.ServerName)
		if err == nil {
			return conn
		}
		log.Info(err)

		// Error getting connection, wait the timer or check if we are exiting
		select {
		case <-tick.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (sysConfig *syslogConfig) Output(ctx context.Context) {
	defer sysConfig.finished()
	writer := sysConfig.connectSyslogRetry(ctx)
	if writer != nil {
		defer writer.Close()
	}

	for f := range sysConfig.outputChannel {
		if sysConfig.skip(sysConfig.SyslogOutputType, f) {
			continue
		}
		if writer == nil {
			sysConfig.failed.Inc(1)
			continue
		}
		// don't exit on connection failure, the next write dials again
		if err := writer.WriteLevel(syslog.LOG_INFO, sysConfig.outputMarshaller.Marshal(f)); err != nil {
			log.Info(err)
			sysConfig.failed.Inc(1)
			continue
		}
		sysConfig.sent.Inc(1)
	}
}

// vim: foldmethod=marker
