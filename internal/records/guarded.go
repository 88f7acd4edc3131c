package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"foodlink/pkg/platform/circuit"
	"foodlink/pkg/platform/sentinel"
)

// Metrics observes record store calls.
type Metrics struct {
	OpDuration   *prometheus.HistogramVec
	OpErrors     *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

// NewMetrics registers store metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foodlink_record_store_op_duration_seconds",
			Help:    "Duration of record store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		OpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_record_store_unavailable_total",
			Help: "Record store calls that failed with an infrastructure error or were rejected by the open breaker",
		}, []string{"op"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "foodlink_record_store_breaker_open",
			Help: "1 while the record store circuit breaker is open",
		}),
	}
}

func (m *Metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) failed(op string) {
	if m == nil {
		return
	}
	m.OpErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) breaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

// GuardedStore wraps an adapter with a circuit breaker. Infrastructure errors
// (anything that is not a sentinel fact or a caller cancellation) count as
// failures and surface as sentinel.ErrUnavailable. While the breaker is open,
// calls fail fast without touching the adapter.
type GuardedStore struct {
	next    Store
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *Metrics
}

type GuardOption func(*GuardedStore)

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *GuardedStore) { g.logger = logger }
}

func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *GuardedStore) { g.metrics = m }
}

func NewGuardedStore(next Store, breaker *circuit.Breaker, opts ...GuardOption) *GuardedStore {
	g := &GuardedStore{next: next, breaker: breaker, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// expected reports errors that describe document state rather than store health.
func expected(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) ||
		errors.Is(err, sentinel.ErrAlreadyUsed) ||
		errors.Is(err, sentinel.ErrConflict) ||
		errors.Is(err, sentinel.ErrInvalidState) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, context.Canceled)
}

func (g *GuardedStore) guard(ctx context.Context, op string, fn func() error) error {
	if !g.breaker.Allow() {
		g.metrics.failed(op)
		return fmt.Errorf("%s: breaker %s open: %w", op, g.breaker.Name(), sentinel.ErrUnavailable)
	}
	start := time.Now()
	err := fn()
	g.metrics.observe(op, start)

	if err == nil || expected(err) {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.metrics.breaker(false)
			g.logger.InfoContext(ctx, "record store breaker closed", "breaker", g.breaker.Name())
		}
		return err
	}

	g.metrics.failed(op)
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.metrics.breaker(true)
		g.logger.WarnContext(ctx, "record store breaker opened", "breaker", g.breaker.Name(), "error", err)
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func (g *GuardedStore) Get(ctx context.Context, key Key) (doc *Document, err error) {
	err = g.guard(ctx, "get", func() error {
		doc, err = g.next.Get(ctx, key)
		return err
	})
	return doc, err
}

func (g *GuardedStore) Create(ctx context.Context, key Key, fields Fields) (doc *Document, err error) {
	err = g.guard(ctx, "create", func() error {
		doc, err = g.next.Create(ctx, key, fields)
		return err
	})
	return doc, err
}

func (g *GuardedStore) Set(ctx context.Context, key Key, fields Fields) (doc *Document, err error) {
	err = g.guard(ctx, "set", func() error {
		doc, err = g.next.Set(ctx, key, fields)
		return err
	})
	return doc, err
}

func (g *GuardedStore) Merge(ctx context.Context, key Key, fields Fields) (doc *Document, err error) {
	err = g.guard(ctx, "merge", func() error {
		doc, err = g.next.Merge(ctx, key, fields)
		return err
	})
	return doc, err
}

func (g *GuardedStore) Update(ctx context.Context, key Key, fields Fields, ifVersion int64) (doc *Document, err error) {
	err = g.guard(ctx, "update", func() error {
		doc, err = g.next.Update(ctx, key, fields, ifVersion)
		return err
	})
	return doc, err
}

func (g *GuardedStore) Delete(ctx context.Context, key Key, ifVersion int64) error {
	return g.guard(ctx, "delete", func() error {
		return g.next.Delete(ctx, key, ifVersion)
	})
}

func (g *GuardedStore) List(ctx context.Context, path Path) (docs []*Document, err error) {
	err = g.guard(ctx, "list", func() error {
		docs, err = g.next.List(ctx, path)
		return err
	})
	return docs, err
}

func (g *GuardedStore) QueryGroup(ctx context.Context, subcollection, field, value string) (docs []*Document, err error) {
	err = g.guard(ctx, "query_group", func() error {
		docs, err = g.next.QueryGroup(ctx, subcollection, field, value)
		return err
	})
	return docs, err
}

func (g *GuardedStore) Watch(ctx context.Context, path Path) (ch <-chan Change, err error) {
	err = g.guard(ctx, "watch", func() error {
		ch, err = g.next.Watch(ctx, path)
		return err
	})
	return ch, err
}
