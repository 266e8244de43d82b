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
	"database/sql"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type clickhouseConfig struct {
	ClickhouseAddress       []string      `long:"clickhouseaddress"       ini-name:"clickhouseaddress"       env:"NETFEATURE_CLICKHOUSEADDRESS"       default:"localhost:9000" description:"Address of the clickhouse database to save the results. multiple values can be provided."`
	ClickhouseProtocol      string        `long:"clickhouseprotocol"      ini-name:"clickhouseprotocol"      env:"NETFEATURE_CLICKHOUSEPROTOCOL"      default:"native"         description:"clickhouse connection protocol. options: native, http" choice:"native" choice:"http"`
	ClickhouseUsername      string        `long:"clickhouseusername"      ini-name:"clickhouseusername"      env:"NETFEATURE_CLICKHOUSEUSERNAME"      default:""               description:"Username to connect to the clickhouse database"`
	ClickhousePassword      string        `long:"clickhousepassword"      ini-name:"clickhousepassword"      env:"NETFEATURE_CLICKHOUSEPASSWORD"      default:""               description:"Password to connect to the clickhouse database"`
	ClickhouseDatabase      string        `long:"clickhousedatabase"      ini-name:"clickhousedatabase"      env:"NETFEATURE_CLICKHOUSEDATABASE"      default:"default"        description:"Database to connect to the clickhouse database"`
	ClickhouseDelay         time.Duration `long:"clickhousedelay"         ini-name:"clickhousedelay"         env:"NETFEATURE_CLICKHOUSEDELAY"         default:"0s"             description:"Interval between sending results to ClickHouse. If non-0, a partially filled batch is also sent every interval"`
	ClickhouseCompress      uint8         `long:"clickhousecompress"      ini-name:"clickhousecompress"      env:"NETFEATURE_CLICKHOUSECOMPRESS"                               description:"Clickhouse connection LZ4 compression level, 0 means no compression"`
	ClickhouseDebug         bool          `long:"clickhousedebug"         ini-name:"clickhousedebug"         env:"NETFEATURE_CLICKHOUSEDEBUG"                                  description:"Debug Clickhouse connection"`
	ClickhouseSecure        bool          `long:"clickhousesecure"        ini-name:"clickhousesecure"        env:"NETFEATURE_CLICKHOUSESECURE"                                 description:"Use TLS for Clickhouse connection"`
	ClickhouseSaveFullQuery bool          `long:"clickhousesavefullfeature" ini-name:"clickhousesavefullfeature" env:"NETFEATURE_CLICKHOUSESAVEFULLFEATURE"                    description:"Save the full feature in JSON format next to the flat columns."`
	ClickhouseOutputType    uint          `long:"clickhouseoutputtype"    ini-name:"clickhouseoutputtype"    env:"NETFEATURE_CLICKHOUSEOUTPUTTYPE"    default:"0"              description:"What should be written to clickhouse. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	ClickhouseBatchSize     uint          `long:"clickhousebatchsize"     ini-name:"clickhousebatchsize"     env:"NETFEATURE_CLICKHOUSEBATCHSIZE"     default:"100000"         description:"Minimum capacity of the cache array used to send data to clickhouse. Set close to the packets per second received to prevent allocations"`
	ClickhouseWorkers       uint          `long:"clickhouseworkers"       ini-name:"clickhouseworkers"       env:"NETFEATURE_CLICKHOUSEWORKERS"       default:"1"              description:"Number of Clickhouse output Workers"`
	outputBase
	outputMarshaller util.OutputMarshaller
}

const clickhouseCreateTable = `CREATE TABLE IF NOT EXISTS PACKET_FEATURES (
    Timestamp DateTime64(6),
    IndexTime DateTime64(6),
    Server LowCardinality(String),
    IPVersion UInt8,
    SrcIP IPv6,
    DstIP IPv6,
    Protocol UInt8,
    ProtocolName LowCardinality(String),
    TTL UInt8,
    FrameLength UInt32,
    TOS UInt8,
    Length UInt16,
    IHL UInt8,
    Identification UInt16,
    Flags UInt8,
    FragmentOffset UInt16,
    HeaderChecksum UInt16,
    FlowLabel UInt32,
    Options String,
    FullFeature String
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(Timestamp)
ORDER BY (IPVersion, Protocol, toUnixTimestamp(Timestamp))`

const clickhouseInsert = "INSERT INTO PACKET_FEATURES"

// init function runs at import time
func init() {
	c := clickhouseConfig{}
	if _, err := util.GlobalParser.AddGroup("clickhouse_output", "ClickHouse Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (chConfig *clickhouseConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(chConfig.ClickhouseOutputType); err != nil {
		// we will catch this error in the dispatch loop and remove any output from the registry if they don't have the correct output type
		return err
	}
	var err error
	chConfig.outputMarshaller, _, err = util.OutputFormatToMarshaller("json", "")
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	if chConfig.ClickhouseCompress > 9 {
		log.Warnf("invalid compression level provided. Things might break")
	}
	if chConfig.ClickhouseBatchSize == 0 {
		chConfig.ClickhouseBatchSize = 1
	}
	if chConfig.ClickhouseWorkers == 0 {
		chConfig.ClickhouseWorkers = 1
	}

	log.Info("Creating Clickhouse Output Channel")
	chConfig.open("clickhouse")
	go chConfig.Output(ctx)
	return nil
}

func (chConfig *clickhouseConfig) connectClickhouseRetry(ctx context.Context) (*sql.Conn, error) {
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for {
		c, err := chConfig.connectClickhouse(ctx)
		if err == nil {
			return c, nil
		}
		log.Errorf("Error connecting to Clickhouse: %s", err)

		// Error getting connection, wait the timer or check if we are exiting
		select {
		case <-tick.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (chConfig *clickhouseConfig) connectClickhouse(ctx context.Context) (*sql.Conn, error) {
	compressOption := clickhouse.Compression{Method: clickhouse.CompressionNone, Level: 0}
	if chConfig.ClickhouseCompress > 0 {
		compressOption = clickhouse.Compression{Method: clickhouse.CompressionLZ4, Level: int(chConfig.ClickhouseCompress)}
	}

	tlsOption := &tls.Config{InsecureSkipVerify: util.GeneralFlags.SkipTLSVerification}
	if !chConfig.ClickhouseSecure {
		tlsOption = nil
	}

	protocol := clickhouse.HTTP
	if chConfig.ClickhouseProtocol == "native" {
		log.Debug("Using native protocol for Clickhouse")
		protocol = clickhouse.Native
	} else {
		log.Debug("Using HTTP protocol for Clickhouse")
	}

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr:     chConfig.ClickhouseAddress,
		Protocol: protocol,
		Auth: clickhouse.Auth{
			Database: chConfig.ClickhouseDatabase,
			Username: chConfig.ClickhouseUsername,
			Password: chConfig.ClickhousePassword,
		},
		DialTimeout: time.Second * 5,
		TLS:         tlsOption,
		Debug:       chConfig.ClickhouseDebug,
		Compression: &compressOption,
	})
	db.SetMaxIdleConns(16)
	db.SetMaxOpenConns(32)
	db.SetConnMaxLifetime(time.Hour)

	connection, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := connection.PingContext(ctx); err != nil {
		connection.Close()
		return nil, err
	}
	if _, err := connection.ExecContext(ctx, clickhouseCreateTable); err != nil {
		log.Warnf("could not create PACKET_FEATURES, assuming it exists: %s", err)
	}
	return connection, nil
}

/*
Output brings up the workers. Each worker holds its own connection, collects features into a batch
and INSERTs the batch into PACKET_FEATURES once it is full, when the delay ticks, and one last time
after the output channel is closed.
*/
func (chConfig *clickhouseConfig) Output(ctx context.Context) {
	defer chConfig.finished()
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < int(chConfig.ClickhouseWorkers); i++ {
		g.Go(func() error { return chConfig.clickhouseOutputWorker(gCtx) })
	}
	if err := g.Wait(); err != nil {
		log.Warnf("clickhouse output stopped: %s", err)
	}
}

// clickhouseRow is a flattened feature plus the json rendering saved when full features are on
type clickhouseRow struct {
	flatFeature
	full string
}

func (chConfig *clickhouseConfig) sendBatch(conn *sql.Conn, rows []clickhouseRow) {
	if len(rows) == 0 {
		return
	}
	// the last batch is still sent while shutting down, so it does not follow the capture context
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		log.Warnf("Error while preparing batch: %v", err)
		chConfig.failed.Inc(int64(len(rows)))
		return
	}
	stmt, err := tx.PrepareContext(ctx, clickhouseInsert)
	if err != nil {
		log.Warnf("Error while preparing batch: %v", err)
		chConfig.failed.Inc(int64(len(rows)))
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()
	now := time.Now()
	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.Timestamp,
			now,
			util.GeneralFlags.ServerName,
			uint8(r.IPVersion),
			ip16(r.SrcIP),
			ip16(r.DstIP),
			uint8(r.Protocol),
			r.ProtocolName,
			uint8(r.TTL),
			r.FrameLength,
			uint8(r.TOS),
			uint16(r.Length),
			uint8(r.IHL),
			uint16(r.Identification),
			uint8(r.Flags),
			uint16(r.FragmentOffset),
			uint16(r.HeaderChecksum),
			r.FlowLabel,
			r.Options,
			r.full,
		)
		if err != nil {
			log.Warnf("Error while executing batch: %v", err)
			chConfig.failed.Inc(1)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Warnf("Error while executing batch: %v", err)
		chConfig.failed.Inc(int64(len(rows)))
		return
	}
	chConfig.sent.Inc(int64(len(rows)))
}

func (chConfig *clickhouseConfig) clickhouseOutputWorker(ctx context.Context) error {
	conn, err := chConfig.connectClickhouseRetry(ctx)
	if err != nil {
		// nothing will be written, keep draining so the dispatcher never blocks on us
		for range chConfig.outputChannel {
			chConfig.failed.Inc(1)
		}
		return err
	}
	defer conn.Close()

	var tick <-chan time.Time
	if chConfig.ClickhouseDelay > 0 {
		ticker := time.NewTicker(chConfig.ClickhouseDelay)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]clickhouseRow, 0, chConfig.ClickhouseBatchSize)
	for {
		select {
		case f, ok := <-chConfig.outputChannel:
			if !ok {
				chConfig.sendBatch(conn, batch)
				log.Debug("exiting out of clickhouse output")
				return nil
			}
			if chConfig.skip(chConfig.ClickhouseOutputType, f) {
				continue
			}
			row := clickhouseRow{flatFeature: flatten(f)}
			if chConfig.ClickhouseSaveFullQuery {
				row.full = string(chConfig.outputMarshaller.Marshal(f))
			}
			batch = append(batch, row)
			if uint(len(batch)) >= chConfig.ClickhouseBatchSize {
				chConfig.sendBatch(conn, batch)
				batch = batch[:0]
			}
		case <-tick:
			chConfig.sendBatch(conn, batch)
			batch = batch[:0]
		}
	}
}

// vim: foldmethod=marker
