package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stocklot-review/internal/aggregate"
	cacheredis "github.com/utafrali/stocklot-review/internal/cache/redis"
	"github.com/utafrali/stocklot-review/internal/client"
	"github.com/utafrali/stocklot-review/internal/config"
	"github.com/utafrali/stocklot-review/internal/eligibility"
	"github.com/utafrali/stocklot-review/internal/event"
	handler "github.com/utafrali/stocklot-review/internal/handler/http"
	"github.com/utafrali/stocklot-review/internal/jobs"
	"github.com/utafrali/stocklot-review/internal/moderation"
	"github.com/utafrali/stocklot-review/internal/reliability"
	"github.com/utafrali/stocklot-review/internal/repository"
	"github.com/utafrali/stocklot-review/internal/repository/memory"
	"github.com/utafrali/stocklot-review/internal/repository/postgres"
	"github.com/utafrali/stocklot-review/internal/service"
	"github.com/utafrali/stocklot-review/migrations"
	"github.com/utafrali/stocklot-review/pkg/database"
	"github.com/utafrali/stocklot-review/pkg/health"
	"github.com/utafrali/stocklot-review/pkg/httpclient"
	pkgkafka "github.com/utafrali/stocklot-review/pkg/kafka"
	"github.com/utafrali/stocklot-review/pkg/tracing"
)

const (
	serviceName    = "review"
	serviceVersion = "0.1.0"

	idempotencyTTL = 24 * time.Hour
)

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	consumers      []*pkgkafka.Consumer
	reviewService  *service.ReviewService
	reconciler     *jobs.Reconciler
	scheduler      *jobs.Scheduler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stop           context.CancelFunc
	wg             sync.WaitGroup
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	store, err := a.openStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	// Redis backs the marketplace mean cache and consumer idempotency. The
	// service runs without it.
	var meanCache aggregate.MeanCache
	if redisCfg, ok := cfg.Redis(); ok {
		rdb, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			logger.Warn("redis unavailable, running without cache",
				slog.String("addr", redisCfg.Addr()),
				slog.String("error", err.Error()),
			)
		} else {
			a.redis = rdb
			meanCache = cacheredis.NewMeanCache(rdb, time.Duration(cfg.MeanCacheTTLMinutes)*time.Minute)
			healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			})
			logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))
		}
	}

	// HTTP client with circuit breaker for the order, dispute and user services.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})
	cbCfg := breakerConfig(cfg, "review-downstream")
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger).
		WithFallback(client.CircuitOpenFallback)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	orders := client.NewOrderClient(cbClient, cfg.OrderServiceURL)
	disputes := client.NewDisputeClient(cbClient, cfg.DisputeServiceURL)
	kyc := client.NewKYCClient(cbClient, cfg.UserServiceURL)

	gateway := a.newModerationGateway()

	checker := eligibility.NewChecker(orders, disputes, kyc, store.Repositories().Reviews, eligibility.Config{
		ReviewWindow: cfg.ReviewWindow(),
		MinKYCLevel:  cfg.MinKYCLevel,
	}, logger)

	scorer := reliability.NewScorer(orders, disputes, reliability.StaticPromptness(cfg.DefaultPromptness))
	means := aggregate.NewMeanResolver(meanCache, aggregate.MeanConfig{
		Default:    cfg.DefaultMarketplaceMean,
		Lookback:   cfg.MeanLookback(),
		StaleAfter: time.Duration(cfg.MeanCacheTTLMinutes) * time.Minute,
	}, logger)
	aggregator := aggregate.NewAggregator(means, scorer, cfg.BayesConfidence, logger)

	// Kafka producer for review lifecycle events.
	var notifier service.Notifier
	if cfg.EventsActive() {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.producer = producer
		notifier = event.NewProducer(producer, logger)
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	a.reviewService = service.NewReviewService(store, checker, gateway, aggregator, notifier, service.Config{
		ToxicityThreshold:     cfg.ToxicityThreshold,
		BlindWindow:           cfg.BlindWindow(),
		EditWindow:            cfg.EditWindow(),
		SecondMoverEditWindow: cfg.SecondMoverEditWindow(),
	}, logger)

	if cfg.EventsActive() {
		a.consumers = a.newConsumers()
	}

	a.reconciler = jobs.NewReconciler(store, aggregator, jobs.Config{
		Concurrency: cfg.RecomputeConcurrency,
	}, logger)
	if cfg.JobsEnabled {
		a.scheduler = jobs.NewScheduler(a.reconciler, cfg.UnblindInterval(), cfg.RecomputeInterval(), logger)
	}

	router := handler.NewRouter(a.reviewService, a.reconciler, healthHandler, handler.RouterConfig{
		JobsJWTSecret: cfg.JobsJWTSecret,
		StatsMaxAge:   cfg.StatsCacheMaxAgeS,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Jobs returns the reconciliation jobs bound to this application's store.
// cmd/reviewjobs runs them once without starting the server.
func (a *App) Jobs() jobs.Runner {
	return a.reconciler
}

// openStore connects the configured review store.
func (a *App) openStore(ctx context.Context, healthHandler *health.Handler) (repository.Store, error) {
	cfg := a.cfg
	if cfg.StorageDriver == config.StorageMemory {
		a.logger.Warn("using in-memory review store, data is lost on restart")
		return memory.NewStore(), nil
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	a.pool = pool
	return postgres.NewStore(pool), nil
}

// breakerConfig applies the configured breaker thresholds to a breaker
// called name.
func breakerConfig(cfg *config.Config, name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
}

// newModerationGateway returns moderation.Open when no endpoint is
// configured.
func (a *App) newModerationGateway() moderation.Gateway {
	cfg := a.cfg
	timeout := time.Duration(cfg.ModerationTimeoutMs) * time.Millisecond

	var provider moderation.Provider
	if cfg.ModerationEndpoint != "" {
		provider = moderation.NewHTTPProvider(moderationDoer(cfg, timeout, a.logger), cfg.ModerationEndpoint, cfg.ModerationAPIKey)
		a.logger.Info("moderation provider configured",
			slog.String("endpoint", cfg.ModerationEndpoint),
			slog.Float64("rps", cfg.ModerationRPS),
		)
	} else {
		a.logger.Warn("no moderation endpoint configured, approving all content")
	}
	return moderation.New(provider, timeout, a.logger)
}

// moderationDoer stacks a breaker over the rate limiter over a client with a
// single quick retry. The gateway timeout bounds the whole stack; an open
// breaker fails at once so the gateway degrades without waiting for it.
func moderationDoer(cfg *config.Config, timeout time.Duration, logger *slog.Logger) httpclient.Doer {
	mc := httpclient.DefaultConfig()
	mc.Timeout = timeout
	mc.MaxRetries = 1
	mc.RetryWaitMin = 100 * time.Millisecond
	mc.RetryWaitMax = 250 * time.Millisecond

	limited := httpclient.NewRateLimitedClient(httpclient.New(mc), cfg.ModerationRPS, max(int(cfg.ModerationRPS), 1))
	return httpclient.NewCircuitBreakerClient(limited, breakerConfig(cfg, "moderation"), logger)
}

// newConsumers subscribes to order and dispute events that change buyer
// reliability.
func (a *App) newConsumers() []*pkgkafka.Consumer {
	var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
	if a.redis != nil {
		store = pkgkafka.NewRedisIdempotencyStore(a.redis, "review:consumed:", idempotencyTTL)
	}

	ec := event.NewConsumer(a.reviewService, a.logger)
	handlers := map[string]pkgkafka.Handler{
		event.TopicOrderCancelled:  ec.HandleOrderCancelled,
		event.TopicDisputeResolved: ec.HandleDisputeResolved,
	}

	consumers := make([]*pkgkafka.Consumer, 0, len(handlers))
	for topic, h := range handlers {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   a.cfg.KafkaBrokers,
			GroupID:   a.cfg.KafkaGroupID,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: true,
		}, pkgkafka.IdempotentHandler(store, h, a.logger), a.logger))
	}
	return consumers
}

// Run starts the HTTP server, consumers and job scheduler and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	// Consumers and the scheduler stop on ctx; Shutdown cancels it first.
	ctx, a.stop = context.WithCancel(ctx)
	defer a.stop()

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := c.Start(ctx); err != nil {
				a.logger.Error("consumer stopped with error", slog.String("error", err.Error()))
			}
		}()
	}

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Pending review notifications
// 3. Scheduler and consumers
// 4. Tracer (flush pending spans)
// 5. Kafka producer
// 6. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Let queued notifications reach the producer before it closes.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := a.reviewService.Drain(drainCtx); err != nil {
		a.logger.Error("notification drain error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Stop background work.
	if a.stop != nil {
		a.stop()
	}
	if a.scheduler != nil {
		a.scheduler.Wait()
	}
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.wg.Wait()

	// 4. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 6. Close Redis and PostgreSQL.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
