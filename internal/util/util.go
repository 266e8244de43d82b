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

// Package util provides the general configuration and variable types needed for different parts of netfeature
// Logging, metrics, and the address lists used by skip and allow logic are generated and updated here.
package util

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

var (
	globalMetricConfig metricConfig
	// GlobalParser is the top-level argument parser. each output, capture, metric etc flag is registered
	// under Globalparser. This makes it easier for output modules to incorporate their own flags
	GlobalParser = flags.NewNamedParser("netfeature", flags.PassDoubleDash|flags.PrintErrors)
	// GeneralFlags is an ad-hoc solution to make all the flags available
	// to capture, metrics, util and output plugins.
	GeneralFlags generalConfig
	GlobalCancel context.CancelFunc
)

type generalConfig struct {
	Config                       flags.Filename `long:"config"                       ini-name:"config"                       env:"NETFEATURE_CONFIG"                       default:""        no-ini:"true" description:"path to config file"`
	CaptureStatsDelay            time.Duration  `long:"capturestatsdelay"            ini-name:"capturestatsdelay"            env:"NETFEATURE_CAPTURESTATSDELAY"            default:"1s"      description:"Duration to calculate interface stats"`
	ServerName                   string         `long:"servername"                   ini-name:"servername"                   env:"NETFEATURE_SERVERNAME"                   default:"default" description:"Name of the server used to index the metrics."`
	LogFormat                    string         `long:"logformat"                    ini-name:"logformat"                    env:"NETFEATURE_LOGFORMAT"                    default:"text"    description:"Set debug Log format"                                           choice:"json" choice:"text"`
	LogLevel                     uint           `long:"loglevel"                     ini-name:"loglevel"                     env:"NETFEATURE_LOGLEVEL"                     default:"3"       description:"Set debug Log level, 0:PANIC, 1:ERROR, 2:WARN, 3:INFO, 4:DEBUG" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	ResultChannelSize            uint           `long:"resultchannelsize"            ini-name:"resultchannelsize"            env:"NETFEATURE_RESULTCHANNELSIZE"            default:"100000"  description:"Size of the result processor channel size"`
	Cpuprofile                   string         `long:"cpuprofile"                   ini-name:"cpuprofile"                   env:"NETFEATURE_CPUPROFILE"                   default:""        description:"write cpu profile to file"`
	Memprofile                   string         `long:"memprofile"                   ini-name:"memprofile"                   env:"NETFEATURE_MEMPROFILE"                   default:""        description:"write memory profile to file"`
	Gomaxprocs                   int            `long:"gomaxprocs"                   ini-name:"gomaxprocs"                   env:"NETFEATURE_GOMAXPROCS"                   default:"-1"      description:"GOMAXPROCS variable"`
	SkipAddressFile              string         `long:"skipaddressfile"              ini-name:"skipaddressfile"              env:"NETFEATURE_SKIPADDRESSFILE"              default:""        description:"Skip outputing features whose source or destination matches items in the file. Can accept a URL (http:// or https://) or path"`
	SkipAddressRefreshInterval   time.Duration  `long:"skipaddressrefreshinterval"   ini-name:"skipaddressrefreshinterval"   env:"NETFEATURE_SKIPADDRESSREFRESHINTERVAL"   default:"60s"     description:"Hot-Reload skipaddressfile interval"`
	AllowAddressFile             string         `long:"allowaddressfile"             ini-name:"allowaddressfile"             env:"NETFEATURE_ALLOWADDRESSFILE"             default:""        description:"Allow address logic input file. Can accept a URL (http:// or https://) or path"`
	AllowAddressRefreshInterval  time.Duration  `long:"allowaddressrefreshinterval"  ini-name:"allowaddressrefreshinterval"  env:"NETFEATURE_ALLOWADDRESSREFRESHINTERVAL"  default:"60s"     description:"Hot-Reload allowaddressfile file interval"`
	SkipTLSVerification          bool           `long:"skiptlsverification"          ini-name:"skiptlsverification"          env:"NETFEATURE_SKIPTLSVERIFICATION"          description:"Skip TLS verification when making HTTPS connections"`
	ListInterfaces               bool           `long:"listinterfaces"               ini-name:"listinterfaces"               env:"NETFEATURE_LISTINTERFACES"               no-ini:"true"     description:"print the capture interfaces as JSON and quit."`
	Version                      bool           `long:"version"                      ini-name:"version"                      env:"NETFEATURE_VERSION"                      no-ini:"true"     description:"show version and quit."`
	// swapped wholesale on every reload so readers in output goroutines never see a half built list
	allowList atomic.Pointer[addressList]
	skipList  atomic.Pointer[addressList]
}

// LoadAllowAddress (re)loads the allow list from AllowAddressFile. On failure the previous list stays.
func (g *generalConfig) LoadAllowAddress() error {
	l, err := LoadAddressList(g.AllowAddressFile)
	if err != nil {
		return err
	}
	g.allowList.Store(l)
	return nil
}

// LoadSkipAddress (re)loads the skip list from SkipAddressFile. On failure the previous list stays.
func (g *generalConfig) LoadSkipAddress() error {
	l, err := LoadAddressList(g.SkipAddressFile)
	if err != nil {
		return err
	}
	g.skipList.Store(l)
	return nil
}

var helpOptions struct {
	Help           bool           `long:"help"           ini-name:"help" short:"h" no-ini:"true" description:"Print this help to stdout"`
	ManPage        bool           `long:"manpage"        ini-name:"manpage"        no-ini:"true" description:"Print Manpage for netfeature to stdout"`
	BashCompletion bool           `long:"bashcompletion" ini-name:"bashcompletion" no-ini:"true" description:"Print bash completion script to stdout"`
	FishCompletion bool           `long:"fishcompletion" ini-name:"fishcompletion" no-ini:"true" description:"Print fish completion script to stdout"`
	SystemdService bool           `long:"systemdservice" ini-name:"systemdservice" no-ini:"true" description:"Print a sample systemd service to stdout"`
	WriteConfig    flags.Filename `long:"writeconfig"    ini-name:"writeconfig"    no-ini:"true" description:"generate a config file based on current inputs and write to provided path" default:""`
}

// GetCommitHash retrieves the current commit hash from the build information.
func GetCommitHash() string {
	return buildSetting("vcs.revision")
}

// GetCommitDate retrieves the current commit date from the build information.
func GetCommitDate() string {
	return buildSetting("vcs.time")
}

func buildSetting(key string) string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == key {
				return setting.Value
			}
		}
	}
	return "unknown"
}

// logLevel maps the numeric --loglevel to logrus. anything unknown lands on warn
func logLevel(n uint) log.Level {
	switch n {
	case 0:
		return log.PanicLevel
	case 1:
		return log.ErrorLevel
	case 2:
		return log.WarnLevel
	case 3:
		return log.InfoLevel
	case 4:
		return log.DebugLevel
	}
	return log.WarnLevel
}

// ProcessFlags kickstarts `netfeature`. it adds the basic module's flags
// checks their validity, sets up logging, metrics and loads input files
// associated with skipAddress and allowAddress
func ProcessFlags(ctx context.Context) {
	iniParser := flags.NewIniParser(GlobalParser)
	GlobalParser.AddGroup("general", "General Options", &GeneralFlags)
	GlobalParser.AddGroup("help", "Help Options", &helpOptions)
	GlobalParser.AddGroup("metric", "Metrics", &globalMetricConfig)
	f, err := GlobalParser.Parse()
	if err != nil {
		log.Fatalf("Error parsing flags %v with error %s", f, err)
	}

	// process help options first
	if helpOptions.Help {
		GlobalParser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if helpOptions.ManPage {
		GlobalParser.WriteManPage(os.Stdout)
		os.Exit(0)
	}
	if helpOptions.BashCompletion {
		fmt.Print(bashCompletionTemplate)
		os.Exit(0)
	}
	if helpOptions.SystemdService {
		fmt.Print(systemdServiceTemplate)
		os.Exit(0)
	}
	if helpOptions.FishCompletion {
		for _, g := range GlobalParser.Groups() {
			for _, arg := range g.Options() {
				fmt.Printf("complete -f -c netfeature -o -%s -d %#v\n", arg.LongName, arg.Description)
			}
		}
		os.Exit(0)
	}
	if helpOptions.WriteConfig != "" {
		if err := iniParser.WriteFile(string(helpOptions.WriteConfig), flags.IniIncludeDefaults|flags.IniIncludeComments); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}

	// check for config file option and parse it
	if GeneralFlags.Config != "" {
		if err := iniParser.ParseFile(string(GeneralFlags.Config)); err != nil {
			log.Fatal(err)
		}
		//  re-parse the argument from command line to give them priority
		if _, err := GlobalParser.Parse(); err != nil {
			log.Fatal(err)
		}
	}

	lvl := logLevel(GeneralFlags.LogLevel)
	// debug caller shows the function name
	log.SetReportCaller(lvl == log.DebugLevel)
	log.SetLevel(lvl)

	if GeneralFlags.Version {
		fmt.Printf("netfeature build %s, built at %s\n", GetCommitHash(), GetCommitDate())
		os.Exit(0)
	}

	switch GeneralFlags.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	// listing interfaces is a one-shot command, metrics would only add noise to it
	if GeneralFlags.ListInterfaces {
		return
	}

	if err := globalMetricConfig.SetupMetrics(ctx); err != nil {
		log.Fatal(err)
	}

	if GeneralFlags.SkipAddressFile != "" {
		log.Info("skipAddressFile is provided")
		if err := GeneralFlags.LoadSkipAddress(); err != nil {
			log.Fatal(err)
		}
	}

	if GeneralFlags.AllowAddressFile != "" {
		log.Info("allowAddressFile is provided")
		if err := GeneralFlags.LoadAllowAddress(); err != nil {
			log.Fatal(err)
		}
	}

	if GeneralFlags.ResultChannelSize == 0 {
		log.Fatal("--resultChannelSize must be greater than 0")
	}
}

// vim: foldmethod=marker
