package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// Record is the mirrored form of one appended row: the structured fields
// plus the positional row exactly as it went to the sheet.
type Record struct {
	Fields Fields   `json:"fields"`
	Row    []string `json:"row"`
}

// Mirror fans appended records out to downstream consumers. It is strictly
// secondary: the sheet append has already succeeded by the time Publish is
// called, and a mirror failure never fails the webhook response.
type Mirror interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// MirrorDriverFactory builds a watermill publisher for a named driver.
type MirrorDriverFactory func(cfg MirrorConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var mirrorFactories = map[string]MirrorDriverFactory{
	"gochannel": buildGoChannelMirror,
}

// RegisterMirrorDriver makes a custom driver available under name.
func RegisterMirrorDriver(name string, factory MirrorDriverFactory) {
	if name == "" || factory == nil {
		return
	}
	mirrorFactories[strings.ToLower(name)] = factory
}

type mirrorPublisher struct {
	name    string
	pub     message.Publisher
	closeFn func() error
}

type recordMirror struct {
	topic string
	pubs  []mirrorPublisher
}

// NewMirror builds publishers for every configured driver. Unlike the sheet
// sink, a driver that cannot be built is a startup error: a configured
// mirror that silently drops records is worse than none.
func NewMirror(cfg MirrorConfig) (Mirror, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mirror: no drivers configured")
	}
	logger := watermill.NewStdLogger(false, false)

	pubs := make([]mirrorPublisher, 0, len(cfg.Drivers))
	for _, driver := range cfg.Drivers {
		name := strings.ToLower(strings.TrimSpace(driver))
		pub, closeFn, err := buildMirrorDriver(cfg, name, logger)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", name, err)
		}
		pubs = append(pubs, mirrorPublisher{name: name, pub: pub, closeFn: closeFn})
	}
	return &recordMirror{topic: cfg.Topic, pubs: pubs}, nil
}

func buildMirrorDriver(cfg MirrorConfig, driver string, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	switch driver {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, nil, errors.New("kafka brokers are required")
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		})
		return pub, nil, err
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, nil, errors.New("nats cluster_id and client_id are required")
		}
		natsCfg := wmnats.StreamingPublisherConfig{
			ClusterID: cfg.NATS.ClusterID,
			ClientID:  cfg.NATS.ClientID,
			Marshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
		return pub, nil, err
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, nil, err
		}
		pub, err := wmamqp.NewPublisher(amqpCfg, logger)
		return pub, nil, err
	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, nil, errors.New("sql driver and dsn are required")
		}
		schemaAdapter, err := sqlSchemaAdapter(cfg.SQL.Dialect)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        schemaAdapter,
			AutoInitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pub, db.Close, nil
	case "http":
		mode := strings.ToLower(cfg.HTTP.Mode)
		if mode != "topic_url" && mode != "base_url" {
			return nil, nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if mode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, nil, errors.New("http base_url is required for base_url mode")
		}
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		return pub, nil, err
	default:
		if factory, ok := mirrorFactories[driver]; ok {
			return factory(cfg, logger)
		}
		return nil, nil, fmt.Errorf("unsupported mirror driver: %s", driver)
	}
}

// Brokers are often still starting when this service comes up.
func retryBuild(build func() (message.Publisher, error)) (message.Publisher, error) {
	const attempts = 10
	const delay = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}

func (m *recordMirror) Publish(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	var errs error
	for _, target := range m.pubs {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := target.pub.Publish(m.topic, msg); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", target.name, err))
		}
	}
	return errs
}

func (m *recordMirror) Close() error {
	var errs error
	for _, target := range m.pubs {
		errs = errors.Join(errs, target.pub.Close())
		if target.closeFn != nil {
			errs = errors.Join(errs, target.closeFn())
		}
	}
	return errs
}

func buildGoChannelMirror(cfg MirrorConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	pub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: cfg.GoChannel.OutputChannelBuffer,
			Persistent:          cfg.GoChannel.Persistent,
		},
		logger,
	)
	return pub, nil, nil
}

func amqpConfigFromMode(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlSchemaAdapter(dialect string) (wmsql.SchemaAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
