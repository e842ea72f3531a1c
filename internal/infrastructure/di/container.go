package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/audit"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/daemon"
	"storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/repositories"
	"storage-kit-hub/internal/health"
	"storage-kit-hub/internal/infrastructure/config"
	repo "storage-kit-hub/internal/infrastructure/repository/sqlite"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/metrics"
	"storage-kit-hub/internal/ratelimit"
)

// keyExpirySchedule is how often past-expiry keys are swept to expired.
const keyExpirySchedule = "@every 5m"

// Container provides app-wide singletons for repos, services and usecases.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *database.Database
	Metrics *metrics.Metrics

	// Repositories
	APIKeys     repositories.APIKeyRepository
	Users       repositories.UserRepository
	Roles       repositories.RoleRepository
	Backends    repositories.BackendRepository
	AuditEvents repositories.AuditRepository

	// Services
	Authorizer *authz.Authorizer
	Audit      *audit.Logger
	Retention  *audit.Scheduler
	Limiter    ratelimit.Limiter
	Lotus      *daemon.LotusClient
	IPFS       *daemon.IPFSClient
	Processes  map[string]*daemon.Process
	Health     *health.Aggregator

	// Usecases
	APIKeyUC  *usecases.APIKeyUseCase
	UserUC    *usecases.UserUseCase
	BackendUC *usecases.BackendUseCase

	jobs  *cron.Cron
	redis redis.UniversalClient
}

// New wires every component over an open database. Nothing runs in the
// background until Start.
func New(cfg *config.Config, log *logger.Logger, db *database.Database) (*Container, error) {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Container{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		Metrics:     metrics.New(),
		APIKeys:     repo.NewAPIKeyRepo(db),
		Users:       repo.NewUserRepo(db),
		Roles:       repo.NewRoleRepo(db),
		Backends:    repo.NewBackendRepo(db),
		AuditEvents: repo.NewAuditRepo(db),
		jobs:        cron.New(),
	}

	c.Audit = audit.New(audit.Options{
		QueueSize: cfg.Audit.QueueSize,
		Sinks:     c.auditSinks(),
		Store:     c.AuditEvents,
		Logger:    log.Named("audit"),
		Metrics:   c.Metrics,
	})
	retention, err := audit.NewScheduler(c.Audit, cfg.Audit.RetentionSchedule, cfg.Audit.RetentionDays, log.Named("retention"))
	if err != nil {
		return nil, err
	}
	c.Retention = retention

	enforcer, err := authz.NewEnforcer(db.GetDB())
	if err != nil {
		return nil, fmt.Errorf("build enforcer: %w", err)
	}
	c.Authorizer = authz.NewAuthorizer(enforcer, c.Roles, c.Users, cfg.Authz.DecisionCacheTTL,
		authz.WithAudit(c.Audit),
		authz.WithMetrics(c.Metrics),
		authz.WithLogger(log.Named("authz")),
	)

	switch cfg.RateLimit.Backend {
	case "redis":
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		c.Limiter = ratelimit.NewRedisLimiter(c.redis)
	default:
		c.Limiter = ratelimit.NewMemoryLimiter()
	}

	c.buildDaemons()

	c.APIKeyUC = usecases.NewAPIKeyUseCase(c.APIKeys, c.Users, c.Authorizer, c.Audit)
	c.UserUC = usecases.NewUserUseCase(c.Users, c.APIKeyUC, c.Authorizer, c.Audit)
	c.BackendUC = usecases.NewBackendUseCase(c.Backends, c.Audit)

	if _, err := c.jobs.AddFunc(keyExpirySchedule, c.sweepExpiredKeys); err != nil {
		return nil, fmt.Errorf("schedule key expiry: %w", err)
	}
	return c, nil
}

func (c *Container) auditSinks() []audit.Sink {
	sinks := []audit.Sink{audit.NewDBSink(c.AuditEvents)}
	if path := c.Config.Audit.FilePath; path != "" {
		l := c.Config.Logging
		sinks = append(sinks, audit.NewFileSink(path, l.MaxSizeMB, l.MaxBackups, l.MaxAgeDays))
	}
	if c.Config.Audit.ConsoleSink {
		sinks = append(sinks, audit.NewConsoleSink(c.Logger.Named("audit.console")))
	}
	return sinks
}

func (c *Container) buildDaemons() {
	d := c.Config.Daemons
	retry := daemon.RetryPolicy{MaxAttempts: d.MaxRetries, BaseDelay: d.BackoffBase, MaxDelay: d.BackoffMax}
	opts := func(binary, name string) daemon.ClientOptions {
		return daemon.ClientOptions{
			Retry:      retry,
			Timeout:    d.RequestTimeout,
			Binary:     binary,
			Simulation: d.Simulation,
			Logger:     c.Logger.Named("daemon." + name),
			Events:     c.Logger,
			Metrics:    c.Metrics,
		}
	}
	c.Lotus = daemon.NewLotusClient(d.Lotus.APIURL, d.Lotus.Token, opts(d.Lotus.Binary, "lotus"))
	c.IPFS = daemon.NewIPFSClient(d.IPFS.APIURL, opts(d.IPFS.Binary, "ipfs"))
	c.Processes = map[string]*daemon.Process{
		"lotus": daemon.LotusProcess(d.Lotus.Binary, d.Lotus.RepoPath, d.Simulation, c.Logger.Named("process.lotus")),
		"ipfs":  daemon.IPFSProcess(d.IPFS.Binary, d.IPFS.RepoPath, d.Simulation, c.Logger.Named("process.ipfs")),
	}

	httpClient := &http.Client{Timeout: c.Config.Health.CheckTimeout}
	c.Health = health.NewAggregator(c.Backends, health.DefaultFactory(c.Lotus, c.IPFS, httpClient),
		c.Config.Health.CheckTimeout, c.Metrics, c.Logger.Named("health"))
}

func (c *Container) sweepExpiredKeys() {
	n, err := c.APIKeyUC.CleanupExpired(context.Background())
	if err != nil {
		c.Logger.LogError("api key expiry sweep failed", err, nil)
		return
	}
	if n > 0 {
		c.Logger.Zap().Info("expired api keys", zap.Int64("count", n))
	}
}

// Start launches the retention and key-expiry schedules.
func (c *Container) Start() {
	c.Retention.Start()
	c.jobs.Start()
}

// Close stops the schedules, drains the audit queue and releases the redis
// client. The database is owned by the caller.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if err := c.Retention.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	select {
	case <-c.jobs.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if err := c.Audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain audit: %w", err))
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
