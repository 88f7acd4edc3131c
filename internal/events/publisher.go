package events

import (
	"context"
	"log/slog"
	"sync"

	"foodlink/pkg/requestcontext"
)

//go:generate mockgen -source=publisher.go -destination=mocks/mock_publisher.go -package=mocks Publisher,RecordProducer

// Publisher appends events to the log.
type Publisher interface {
	Publish(ctx context.Context, event DonationEvent) error
}

// RecordProducer is the slice of the Kafka producer the publisher needs.
type RecordProducer interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes events to one topic keyed by donation id.
type KafkaPublisher struct {
	producer RecordProducer
	topic    string
}

func NewKafkaPublisher(producer RecordProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event DonationEvent) error {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	value, err := Encode(event)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, event.Key(), value, map[string]string{"type": string(event.Type)})
}

// Sink receives every event appended to a MemoryLog.
type Sink func(ctx context.Context, event DonationEvent) error

// MemoryLog keeps events in process. Sinks run synchronously after append;
// their errors are logged, not returned.
type MemoryLog struct {
	mu     sync.Mutex
	events []DonationEvent
	sinks  []Sink
	logger *slog.Logger
}

type MemoryOption func(*MemoryLog)

func WithSink(s Sink) MemoryOption {
	return func(l *MemoryLog) { l.sinks = append(l.sinks, s) }
}

func WithLogger(logger *slog.Logger) MemoryOption {
	return func(l *MemoryLog) { l.logger = logger }
}

func NewMemoryLog(opts ...MemoryOption) *MemoryLog {
	l := &MemoryLog{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLog) Publish(ctx context.Context, event DonationEvent) error {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	sinks := l.sinks
	l.mu.Unlock()

	for _, sink := range sinks {
		if err := sink(ctx, event); err != nil {
			l.logger.WarnContext(ctx, "event sink failed",
				"type", event.Type,
				"donation_id", event.DonationID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Events returns a copy of the log in append order.
func (l *MemoryLog) Events() []DonationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DonationEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, DonationEvent) error { return nil }
