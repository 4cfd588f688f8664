// Package bootstrap assembles certguard's components from a loaded configuration.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	appservice "github.com/turtacn/certguard/internal/application/service"
	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/internal/domain/repository"
	domainService "github.com/turtacn/certguard/internal/domain/service"
	"github.com/turtacn/certguard/internal/infrastructure/audit"
	"github.com/turtacn/certguard/internal/infrastructure/monitoring"
	redisstore "github.com/turtacn/certguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/certguard/internal/infrastructure/persistence/sqldb"
	httpapi "github.com/turtacn/certguard/internal/interfaces/http"
	"github.com/turtacn/certguard/internal/interfaces/http/handlers"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

// Container holds the wired application.
type Container struct {
	Config   *config.Config
	Logger   logger.Logger
	Registry *prometheus.Registry
	Metrics  *monitoring.Metrics
	Tracing  *monitoring.TracingManager
	Policies *config.PolicyProvider
	Clock    *domainService.WindowClock

	DB       *sqldb.DBConnection
	Redis    *redisstore.Connection
	Counters repository.CounterRepository
	Logs     repository.LogRepository

	Audit       *audit.AsyncLogger
	Engine      *domainService.PolicyEngine
	Guard       *appservice.GuardService
	Stats       *appservice.StatsService
	Maintenance *appservice.MaintenanceService
	Cleanup     *appservice.CleanupWorker

	kafka *audit.KafkaSink
}

type options struct {
	registry    *prometheus.Registry
	redisClient goredis.UniversalClient
	kafkaWriter audit.MessageWriter
}

// Option customises how the container is built.
type Option func(*options)

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithRedisClient uses client for the redis counter store instead of dialing
// redis.addresses.
func WithRedisClient(client goredis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// WithKafkaWriter replaces the writer of the audit mirror.
func WithKafkaWriter(w audit.MessageWriter) Option {
	return func(o *options) { o.kafkaWriter = w }
}

// New connects to the stores and builds every service. v may be nil, in which
// case the policy cannot be hot reloaded.
func New(ctx context.Context, cfg *config.Config, v *viper.Viper, log logger.Logger, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Container{Config: cfg, Logger: log, Registry: o.registry}

	clock, err := domainService.NewWindowClockFromNames(cfg.Guard.Timezone, cfg.Guard.WeekStart)
	if err != nil {
		return nil, fmt.Errorf("window clock: %w", err)
	}
	c.Clock = clock

	if c.Tracing, err = monitoring.NewTracingManager(&cfg.Tracing, log); err != nil {
		return nil, err
	}
	c.Metrics = monitoring.NewMetrics(o.registry)

	if c.DB, err = sqldb.Open(ctx, &cfg.Database, log); err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Logs = sqldb.NewLogRepository(c.DB.DB(), log)

	switch constants.StoreBackend(cfg.Guard.Store) {
	case constants.StoreBackendRedis:
		if o.redisClient != nil {
			c.Redis = redisstore.NewConnectionFromClient(o.redisClient, log)
		} else if c.Redis, err = redisstore.NewConnection(ctx, &cfg.Redis, log); err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.Counters = redisstore.NewCounterStore(c.Redis, clock, cfg.Cleanup.CounterGrace, log)
	default:
		c.Counters = sqldb.NewCounterRepository(c.DB.DB(), log)
	}

	sinks := []audit.Sink{audit.NewDBSink(c.Logs)}
	if cfg.Audit.KafkaMirror {
		writer := o.kafkaWriter
		if writer == nil {
			writer = audit.NewKafkaWriter(cfg.Kafka)
		}
		c.kafka = audit.NewKafkaSink(writer, cfg.Audit.SigningKey)
		sinks = append(sinks, c.kafka)
	}
	c.Audit = audit.NewAsyncLogger(log, sinks,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithRetry(cfg.Audit.MaxRetries, cfg.Audit.RetryBackoff),
		audit.WithMetrics(c.Metrics),
	)

	if c.Policies, err = config.NewPolicyProvider(cfg, v, log); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.Engine = domainService.NewPolicyEngine(c.Counters, clock, log,
		domainService.WithAuditLogger(c.Audit),
		domainService.WithMetrics(c.Metrics),
	)
	c.Guard = appservice.NewGuardService(c.Engine, c.Policies, log,
		appservice.WithStoreTimeout(cfg.Guard.StoreTimeout),
		appservice.WithTracer(c.Tracing.Tracer()),
	)
	c.Stats = appservice.NewStatsService(domainService.NewStatsAggregator(c.Logs, clock), cfg.Cleanup.StatsCacheTTL, log)
	c.Maintenance = appservice.NewMaintenanceService(c.Counters, c.Logs, appservice.RetentionPolicy{
		CounterGrace:  cfg.Cleanup.CounterGrace,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxLogs:       cfg.Audit.MaxLogs,
	}, c.Metrics, log)
	c.Cleanup = appservice.NewCleanupWorker(c.Maintenance, log, appservice.WithCleanupInterval(cfg.Cleanup.Interval))

	return c, nil
}

// Router builds the HTTP API over the container's services.
func (c *Container) Router() *httpapi.Router {
	checkers := map[string]handlers.HealthChecker{"database": c.DB}
	if c.Redis != nil {
		checkers["redis"] = c.Redis
	}
	return httpapi.NewRouter(c.Config, c.Logger, httpapi.Handlers{
		Health: handlers.NewHealthHandler(checkers, c.Logger),
		Guard:  handlers.NewGuardHandler(c.Guard, c.Logger),
		Admin:  handlers.NewAdminHandler(c.Guard, c.Stats, c.Maintenance, c.Logger),
	}, httpapi.Observability{
		Tracer:   c.Tracing.Tracer(),
		Requests: c.Metrics,
		Gatherer: c.Registry,
	})
}

// Run serves HTTP and runs the background workers until ctx is done or one of
// them fails. The audit queue is drained after everything else has stopped so
// decisions made during shutdown are still written.
func (c *Container) Run(ctx context.Context) error {
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	auditDone := make(chan error, 1)
	go func() { auditDone <- c.Audit.Run(auditCtx) }()

	router := c.Router()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return c.Policies.Watch(gctx) })
	if c.Config.Cleanup.Enabled {
		g.Go(func() error { return c.Cleanup.Start(gctx) })
	}

	err := g.Wait()
	stopAudit()
	return stderrors.Join(err, <-auditDone)
}

// Close releases external resources. It is safe on a partially built container.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.kafka != nil {
		errs = append(errs, c.kafka.Close())
	}
	if c.Tracing != nil {
		errs = append(errs, c.Tracing.Shutdown(ctx))
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return stderrors.Join(errs...)
}
