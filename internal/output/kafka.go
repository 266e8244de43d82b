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
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
	"github.com/mosajjal/netfeature/internal/util"
	log "github.com/sirupsen/logrus"

	"github.com/rogpeppe/fastuuid"
	"github.com/segmentio/kafka-go"
)

type kafkaConfig struct {
	KafkaOutputType         uint          `long:"kafkaoutputtype"         ini-name:"kafkaoutputtype"         env:"NETFEATURE_KAFKAOUTPUTTYPE"         default:"0"          description:"What should be written to kafka. options:\n;\t0: Disable Output\n;\t1: Enable Output without any filters\n;\t2: Enable Output and apply skipaddress logic\n;\t3: Enable Output and apply allowaddress logic\n;\t4: Enable Output and apply both skip and allow address logic" choice:"0" choice:"1" choice:"2" choice:"3" choice:"4"`
	KafkaOutputBroker       []string      `long:"kafkaoutputbroker"       ini-name:"kafkaoutputbroker"       env:"NETFEATURE_KAFKAOUTPUTBROKER"       default:""           description:"kafka broker address(es), example: 127.0.0.1:9092. Used if kafkaOutputType is not none"`
	KafkaOutputTopic        string        `long:"kafkaoutputtopic"        ini-name:"kafkaoutputtopic"        env:"NETFEATURE_KAFKAOUTPUTTOPIC"        default:"netfeature" description:"Kafka topic for logging"`
	KafkaBatchSize          uint          `long:"kafkabatchsize"          ini-name:"kafkabatchsize"          env:"NETFEATURE_KAFKABATCHSIZE"          default:"1000"       description:"Minimum capacity of the cache array used to send data to Kafka"`
	KafkaOutputFormat       string        `long:"kafkaoutputformat"       ini-name:"kafkaoutputformat"       env:"NETFEATURE_KAFKAOUTPUTFORMAT"       default:"json"       description:"Output format. options:json, gob. " choice:"json" choice:"gob"`
	KafkaTimeout            uint          `long:"kafkatimeout"            ini-name:"kafkatimeout"            env:"NETFEATURE_KAFKATIMEOUT"            default:"3"          description:"Kafka connection timeout in seconds"`
	KafkaBatchDelay         time.Duration `long:"kafkabatchdelay"         ini-name:"kafkabatchdelay"         env:"NETFEATURE_KAFKABATCHDELAY"         default:"1s"         description:"Interval between sending results to Kafka if Batch size is not filled"`
	KafkaCompress           bool          `long:"kafkacompress"           ini-name:"kafkacompress"           env:"NETFEATURE_KAFKACOMPRESS"                                description:"Compress Kafka connection"`
	KafkaSecure             bool          `long:"kafkasecure"             ini-name:"kafkasecure"             env:"NETFEATURE_KAFKASECURE"                                  description:"Use TLS for kafka connection"`
	KafkaCACertificatePath  string        `long:"kafkacacertificatepath"  ini-name:"kafkacacertificatepath"  env:"NETFEATURE_KAFKACACERTIFICATEPATH"  default:""           description:"Path of CA certificate that signs Kafka broker certificate"`
	KafkaTLSCertificatePath string        `long:"kafkatlscertificatepath" ini-name:"kafkatlscertificatepath" env:"NETFEATURE_KAFKATLSCERTIFICATEPATH" default:""           description:"Path of TLS certificate to present to broker"`
	KafkaTLSKeyPath         string        `long:"kafkatlskeypath"         ini-name:"kafkatlskeypath"         env:"NETFEATURE_KAFKATLSKEYPATH"         default:""           description:"Path of TLS certificate key"`
	outputBase
	outputMarshaller util.OutputMarshaller
}

func init() {
	c := kafkaConfig{}
	if _, err := util.GlobalParser.AddGroup("kafka_output", "Kafka Output", &c); err != nil {
		log.Fatalf("error adding output Module")
	}
	util.GlobalDispatchList = append(util.GlobalDispatchList, &c)
}

// Initialize function should not block. otherwise the dispatcher will get stuck
func (kafConfig *kafkaConfig) Initialize(ctx context.Context) error {
	if err := checkOutputType(kafConfig.KafkaOutputType); err != nil {
		return err
	}
	kafConfig.KafkaOutputBroker = nonEmpty(kafConfig.KafkaOutputBroker)
	if len(kafConfig.KafkaOutputBroker) == 0 {
		return errors.New("--kafkaOutputBroker is required when kafkaOutputType is not none")
	}
	var err error
	kafConfig.outputMarshaller, _, err = util.OutputFormatToMarshaller(kafConfig.KafkaOutputFormat, "")
	if err != nil {
		log.Warnf("Could not initialize output marshaller, removing output: %s", err)
		return err
	}
	writer, err := kafConfig.getWriter()
	if err != nil {
		return err
	}
	log.Info("Creating Kafka Output Channel")
	kafConfig.open("kafka")
	go kafConfig.Output(ctx, writer)
	return nil
}

func (kafConfig *kafkaConfig) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: util.GeneralFlags.SkipTLSVerification}

	if kafConfig.KafkaCACertificatePath != "" {
		caCert, err := os.ReadFile(kafConfig.KafkaCACertificatePath)
		if err != nil {
			return nil, fmt.Errorf("could not read kafka CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificate found in %s", kafConfig.KafkaCACertificatePath)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if kafConfig.KafkaTLSCertificatePath != "" && kafConfig.KafkaTLSKeyPath != "" {
		clientCert, err := tls.LoadX509KeyPair(kafConfig.KafkaTLSCertificatePath, kafConfig.KafkaTLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("could not read kafka client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}

func (kafConfig *kafkaConfig) getWriter() (*kafka.Writer, error) {
	transport := &kafka.Transport{
		Dial: (&net.Dialer{
			Timeout: time.Duration(kafConfig.KafkaTimeout) * time.Second,
		}).DialContext,
	}

	if kafConfig.KafkaSecure {
		tlsConfig, err := kafConfig.tlsConfig()
		if err != nil {
			return nil, err
		}
		transport.TLS = tlsConfig
	}

	kWriter := &kafka.Writer{
		Addr:         kafka.TCP(kafConfig.KafkaOutputBroker...),
		Async:        true,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    int(kafConfig.KafkaBatchSize),
		BatchTimeout: kafConfig.KafkaBatchDelay,
		ErrorLogger:  log.New(),
		Topic:        kafConfig.KafkaOutputTopic,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				kafConfig.failed.Inc(int64(len(messages)))
			}
		},
	}

	if kafConfig.KafkaCompress {
		kWriter.Compression = kafka.Snappy
	}

	return kWriter, nil
}

var kafkaUUIDGen = fastuuid.MustNewGenerator()

// Output sends features until the channel is closed. the writer is async, Close flushes what it
// still holds.
func (kafConfig *kafkaConfig) Output(ctx context.Context, kWriter *kafka.Writer) {
	defer kafConfig.finished()
	for f := range kafConfig.outputChannel {
		if err := kafConfig.kafkaSendData(ctx, kWriter, f); err != nil {
			log.Errorf("Could not send kafka message: %v", err)
			kafConfig.failed.Inc(1)
		}
	}
	log.Info("Closing kafka connection")
	if err := kWriter.Close(); err != nil {
		log.Warnf("error closing kafka writer: %s", err)
	}
}

func (kafConfig *kafkaConfig) kafkaSendData(ctx context.Context, kWriter *kafka.Writer, f feature.Feature) error {
	if kafConfig.skip(kafConfig.KafkaOutputType, f) {
		return nil
	}
	kafConfig.sent.Inc(1)
	return kWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(kafkaUUIDGen.Hex128()),
		Value: kafConfig.outputMarshaller.Marshal(f),
	})
}

// vim: foldmethod=marker
