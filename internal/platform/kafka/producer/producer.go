// Package producer publishes records to Kafka with synchronous, acked writes.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer wraps a franz-go client configured for durable produces.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	clientID string
	linger   time.Duration
	logger   *slog.Logger
}

func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

func WithLinger(d time.Duration) Option {
	return func(o *options) { o.linger = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New connects to brokers. Every produce waits for all in-sync replicas.
func New(brokers []string, opts ...Option) (*Producer, error) {
	o := options{clientID: "foodlink", logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(o.clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if o.linger > 0 {
		kopts = append(kopts, kgo.ProducerLinger(o.linger))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{client: client, logger: o.logger}, nil
}

// Publish writes one record and blocks until it is acknowledged.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.logger.WarnContext(ctx, "kafka produce failed", "topic", topic, "key", string(key), "error", err)
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}
