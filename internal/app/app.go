// Package app composes the process: record backend, event log, services and
// the HTTP surface. cmd/server and the end-to-end tests share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"golang.org/x/sync/errgroup"

	"foodlink/internal/assets"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/internal/feed"
	httpapi "foodlink/internal/http"
	ledgerhandler "foodlink/internal/ledger/handler"
	ledgerservice "foodlink/internal/ledger/service"
	matchinghandler "foodlink/internal/matching/handler"
	matchingmetrics "foodlink/internal/matching/metrics"
	matchingservice "foodlink/internal/matching/service"
	milestonehandler "foodlink/internal/milestone/handler"
	milestonemetrics "foodlink/internal/milestone/metrics"
	milestoneservice "foodlink/internal/milestone/service"
	"foodlink/internal/platform/auth"
	"foodlink/internal/platform/config"
	"foodlink/internal/platform/httpserver"
	"foodlink/internal/platform/kafka"
	"foodlink/internal/platform/kafka/consumer"
	"foodlink/internal/platform/kafka/producer"
	"foodlink/internal/platform/metrics"
	platformredis "foodlink/internal/platform/redis"
	"foodlink/internal/ratelimit"
	"foodlink/internal/records"
	statussynchandler "foodlink/internal/statussync/handler"
	statussyncmetrics "foodlink/internal/statussync/metrics"
	statussyncservice "foodlink/internal/statussync/service"
	"foodlink/pkg/platform/circuit"
)

// App is a fully wired process. Handler serves the public API; Run adds the
// listener and background workers.
type App struct {
	Handler http.Handler
	Records records.Store
	Events  events.Publisher

	cfg     config.Config
	logger  *slog.Logger
	workers []func(ctx context.Context) error
	closers []func()
}

// Build wires every component selected by cfg. Call Close when Run is not
// used.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	m := metrics.New()
	checks := map[string]httpapi.HealthCheck{}

	var rdb *platformredis.Client
	if cfg.Redis.URL != "" {
		var err error
		if rdb, err = platformredis.New(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		checks["redis"] = rdb.Health
	}

	backend, err := a.openRecords(ctx, rdb, checks)
	if err != nil {
		a.Close()
		return nil, err
	}
	breaker := circuit.New("records", circuit.WithFailureThreshold(cfg.Store.BreakerThreshold))
	rs := records.NewGuardedStore(backend, breaker,
		records.WithGuardLogger(logger),
		records.WithGuardMetrics(records.NewMetrics(m.Registry)),
	)
	a.Records = rs

	donations := store.NewDonations(rs)
	requests := store.NewRequests(rs)
	tasks := store.NewTasks(rs)
	notifications := store.NewNotifications(rs)
	milestones := store.NewMilestones(rs)

	projector := events.NewNotificationProjector(notifications,
		events.WithProjectorLogger(logger),
		events.WithProjectorMetrics(m.Registry),
	)
	publisher, err := a.openEvents(ctx, projector, checks)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Events = publisher

	var presigner *assets.Presigner
	if cfg.Assets.Bucket != "" {
		presigner, err = assets.New(ctx, assets.Config{
			Bucket:          cfg.Assets.Bucket,
			Region:          cfg.Assets.Region,
			Endpoint:        cfg.Assets.Endpoint,
			AccessKeyID:     cfg.Assets.AccessKeyID,
			SecretAccessKey: cfg.Assets.SecretAccessKey,
			PresignTTL:      cfg.Assets.PresignTTL,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	ledgerOpts := []ledgerservice.Option{ledgerservice.WithLogger(logger), ledgerservice.WithPublisher(publisher)}
	milestoneOpts := []milestoneservice.Option{
		milestoneservice.WithLogger(logger),
		milestoneservice.WithMetrics(milestonemetrics.New(m.Registry)),
	}
	if presigner != nil {
		ledgerOpts = append(ledgerOpts, ledgerservice.WithImageSigner(presigner))
		milestoneOpts = append(milestoneOpts, milestoneservice.WithIssuer(presigner))
	}

	ledger, err := ledgerservice.New(donations, ledgerOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	matching, err := matchingservice.New(donations, requests, tasks, notifications,
		matchingservice.WithLogger(logger),
		matchingservice.WithMetrics(matchingmetrics.New(m.Registry)),
		matchingservice.WithPublisher(publisher),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	statussync, err := statussyncservice.New(tasks, requests, notifications, donations,
		statussyncservice.WithLogger(logger),
		statussyncservice.WithMetrics(statussyncmetrics.New(m.Registry)),
		statussyncservice.WithPublisher(publisher),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	milestone, err := milestoneservice.New(donations, milestones, milestoneOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Handler = httpapi.NewRouter(httpapi.Config{
		Logger:  logger,
		Metrics: m,
		Tokens:  auth.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer),
		Timeout: cfg.Server.RequestTimeout,
		Checks:  checks,
		Limit:   a.rateLimit(rdb, m),
		API: []httpapi.Routes{
			ledgerhandler.New(ledger, logger),
			matchinghandler.New(matching, logger),
			statussynchandler.New(statussync, logger),
			milestonehandler.New(milestone, logger),
		},
		Stream:   []httpapi.Routes{feed.New(rs, logger)},
		DevToken: cfg.Auth.DevTokens,
	})
	return a, nil
}

func (a *App) openRecords(ctx context.Context, rdb *platformredis.Client, checks map[string]httpapi.HealthCheck) (records.Store, error) {
	cfg := a.cfg.Store
	switch cfg.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := records.NewPostgresStore(db,
			records.WithPostgresLogger(a.logger),
			records.WithPostgresWatchBuffer(cfg.WatchBuffer),
		)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		a.workers = append(a.workers, func(ctx context.Context) error {
			return pg.Listen(ctx, cfg.DSN)
		})
		checks["postgres"] = db.PingContext
		return pg, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis backend requires redis.url")
		}
		return records.NewRedisStore(rdb.Client,
			records.WithRedisLogger(a.logger),
			records.WithRedisWatchBuffer(cfg.WatchBuffer),
		), nil
	default:
		return records.NewInMemoryStore(cfg.WatchBuffer), nil
	}
}

// rateLimit shares windows through Redis when a client is configured.
func (a *App) rateLimit(rdb *platformredis.Client, m *metrics.Metrics) func(http.Handler) http.Handler {
	policy := ratelimit.Policy{Requests: a.cfg.RateLimit.Requests, Window: a.cfg.RateLimit.Window}
	if !policy.Enabled() {
		return nil
	}
	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb.Client, "foodlink:rl")
	} else {
		mem := ratelimit.NewInMemoryLimiter()
		a.workers = append(a.workers, func(ctx context.Context) error {
			ticker := time.NewTicker(policy.Window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					mem.Sweep()
				}
			}
		})
		limiter = mem
	}
	return ratelimit.New(limiter, policy, a.logger, ratelimit.WithMetrics(m.Registry)).PerActor
}

// openEvents returns the donation event log. With Kafka enabled the projector
// consumes the topic in a consumer group; otherwise it runs as an in-process
// sink.
func (a *App) openEvents(ctx context.Context, projector *events.NotificationProjector, checks map[string]httpapi.HealthCheck) (events.Publisher, error) {
	cfg := a.cfg.Kafka
	if !cfg.Enabled {
		return events.NewMemoryLog(events.WithSink(projector.Sink()), events.WithLogger(a.logger)), nil
	}

	if err := kafka.EnsureTopics(ctx, cfg.Brokers, kafka.TopicSpec{
		Name:              cfg.Topic,
		Partitions:        3,
		ReplicationFactor: 1,
	}); err != nil {
		return nil, err
	}
	prod, err := producer.New(cfg.Brokers, producer.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, prod.Close)
	checks["kafka"] = prod.Ping

	router := consumer.NewRouter(a.logger, nil)
	router.Register(cfg.Topic, projector)
	cons, err := consumer.New(cfg.Brokers, cfg.Group, router.Topics(), router,
		consumer.WithLogger(a.logger),
		consumer.WithRetry(3, 200*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	a.workers = append(a.workers, cons.Run)
	return events.NewKafkaPublisher(prod, cfg.Topic), nil
}

// Run serves HTTP and runs background workers until ctx is done or one of
// them fails, then releases every resource.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	g, ctx := errgroup.WithContext(ctx)
	srv := httpserver.New(a.cfg.Server.Addr, a.Handler)
	g.Go(func() error {
		return httpserver.Run(ctx, srv, a.cfg.Server.ShutdownTimeout, a.logger)
	})
	for _, w := range a.workers {
		g.Go(func() error { return w(ctx) })
	}
	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
