// Package di wires the resolver from configuration. The HTTP server and the
// operator CLI build the same container.
package di

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuition-hub/benefit-resolver/config"
	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/application/command"
	"github.com/tuition-hub/benefit-resolver/internal/application/extraction"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/postgres"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/redis"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/service"
	"github.com/tuition-hub/benefit-resolver/internal/interface/http/handlers"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
	"github.com/tuition-hub/benefit-resolver/pkg/retry"
)

// credentialSet names the stored academic service account.
const credentialSet = "resolver"

// Container holds the wired components.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *postgres.Connection
	Migrator *postgres.Migrator
	Cache    *redis.Cache // nil when Redis is disabled or unreachable

	Academic *academic.Client
	Gateway  *academic.Gateway

	Benefits  *postgres.BenefitRepository
	Catalog   *postgres.CatalogRepository
	Valuation *service.ValuationService

	ResolveCandidate *command.ResolveCandidateHandler
	ResolveBatch     *command.ResolveBatchHandler
	ResolveFamily    *command.ResolveFamilyHandler
	CheckConflicts   *command.CheckConflictsHandler
	CommitBenefits   *command.CommitBenefitsHandler
	SyncCatalog      *command.SyncCatalogHandler

	closers []func()
}

// New connects to Postgres and Redis, applies migrations when configured and
// builds every handler. The academic session is opened lazily by the first
// call that needs it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Container, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}
	c.initCache(ctx)

	creds, err := c.credentialStore()
	if err != nil {
		return nil, err
	}
	if err := c.initAcademic(ctx, creds); err != nil {
		return nil, err
	}

	if err := c.initHandlers(); err != nil {
		return nil, err
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) initDatabase(ctx context.Context) error {
	dbCfg := postgres.DefaultConfig()
	dbCfg.URL = c.Config.Database.URL
	dbCfg.MaxConns = c.Config.Database.MaxConns
	dbCfg.MinConns = c.Config.Database.MinConns
	dbCfg.MaxConnLifetime = c.Config.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = c.Config.Database.ConnMaxIdleTime

	c.Logger.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = conn
	c.closers = append(c.closers, conn.Close)

	c.Migrator = postgres.NewMigrator(conn, c.Logger)
	if c.Config.Database.AutoMigrate {
		if err := c.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Logger.Info("database schema is up to date")
	}

	breaker := postgres.NewStoreBreaker(c.logStateChange)
	c.Benefits = postgres.NewBenefitRepository(conn, breaker)
	c.Catalog = postgres.NewCatalogRepository(conn, breaker)
	return nil
}

func (c *Container) logStateChange(name string, from, to circuitbreaker.State) {
	c.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}

func (c *Container) logRetry(target string) retry.Option {
	return retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		c.Logger.Warn("retrying after transient failure", "target", target, "attempt", attempt, "delay", delay, "error", err)
	})
}

// initCache connects to Redis. Failure is logged and the resolver runs
// without cache.
func (c *Container) initCache(ctx context.Context) {
	rc := c.Config.Redis
	if rc.Disabled {
		c.Logger.Info("redis disabled, caching off")
		return
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = rc.Host
	redisCfg.Port = rc.Port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.MinIdleConns = rc.MinIdleConns
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout

	cache, err := redis.NewCache(redisCfg)
	if err == nil {
		err = cache.Ping(ctx)
		if err != nil {
			_ = cache.Close()
		}
	}
	if err != nil {
		c.Logger.Warn("failed to connect to Redis, caching disabled", "addr", redisCfg.Addr(), "error", err)
		return
	}

	c.Cache = cache
	c.closers = append(c.closers, func() { _ = cache.Close() })
	c.Logger.Info("Redis connection established", "addr", redisCfg.Addr())
}

// credentialStore seals credentials in Redis so replicas share the service
// account; without Redis they stay in process memory.
func (c *Container) credentialStore() (academic.CredentialStore, error) {
	if c.Cache == nil {
		return academic.NewMemoryCredentialStore(), nil
	}
	store, err := redis.NewCredentialStore(c.Cache, credentialSet,
		[]byte(c.Config.Academic.CredentialSecret), c.Config.Academic.CredentialTTL)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	return store, nil
}

func (c *Container) initAcademic(ctx context.Context, creds academic.CredentialStore) error {
	ac := c.Config.Academic
	logger := c.Logger

	clientCfg := academic.DefaultClientConfig(ac.BaseURL)
	clientCfg.Timeout = ac.RequestTimeout
	clientCfg.RateLimiterConfig.RequestsPerSecond = ac.RateLimit
	clientCfg.RateLimiterConfig.BurstSize = ac.RateLimitBurst
	clientCfg.Logger = logger
	clientCfg.Debug = c.Config.App.Debug
	clientCfg.Breaker = circuitbreaker.Academic(academic.IsTransient, c.logStateChange)

	c.Academic = academic.NewClient(clientCfg, academic.NewSessionState(), creds)
	c.Gateway = academic.NewGateway(c.Academic,
		academic.NewInvoker(c.Academic, logger, academic.WithMaxRetries(ac.MaxAuthRetries)))

	// configured credentials win over a stale stored set
	if err := creds.Save(ctx, academic.Credentials{Username: ac.Username, Password: ac.Password}); err != nil {
		return fmt.Errorf("store academic credentials: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

func (c *Container) initHandlers() error {
	pc := c.Config.Pipeline
	logger := c.Logger

	tiers, err := benefit.NewTierTable(c.Config.Policy.FamilyTiers)
	if err != nil {
		return fmt.Errorf("family tier table: %w", err)
	}
	engine := benefit.NewEngine(tiers, c.Config.Policy.Rules())

	var valuationCache service.CatalogCache
	if c.Cache != nil {
		valuationCache = redis.NewCatalogCache(c.Cache, c.Config.Redis.CatalogTTL)
	}
	c.Valuation = service.NewValuationService(c.Catalog, valuationCache, logger)

	matcher := extraction.NewPeriodMatcher(pc.MatchMode)
	resolver := command.NewResolver(
		c.Gateway,
		extraction.NewKardexExtractor(extraction.DefaultKardexLayout(), matcher),
		extraction.NewPaymentPlanResolver(c.Gateway, extraction.DefaultPaymentKeywords(), extraction.DefaultPaymentLayout(), matcher, logger),
		c.Valuation,
		logger,
	)

	orchestrator := batch.NewOrchestrator(pc.BatchSize, logger)
	upstream := retry.Upstream(academic.IsTransient, c.logRetry("academic"))
	database := retry.Database(postgres.IsTransient, c.logRetry("postgres"))
	conflicts := benefit.NewConflictResolver(c.Benefits, logger)

	c.ResolveCandidate = command.NewResolveCandidateHandler(resolver, engine, c.Benefits, logger)
	c.ResolveBatch = command.NewResolveBatchHandler(resolver, engine, c.Benefits, orchestrator, upstream, logger)
	c.ResolveFamily = command.NewResolveFamilyHandler(resolver, engine, c.Benefits, orchestrator, upstream, logger)
	c.CheckConflicts = command.NewCheckConflictsHandler(conflicts)
	c.CommitBenefits = command.NewCommitBenefitsHandler(c.Benefits, conflicts, orchestrator, database, logger)

	var locker command.Locker
	if c.Cache != nil {
		locker = c.Cache
	}
	c.SyncCatalog = command.NewSyncCatalogHandler(c.Gateway, c.Catalog, c.Valuation, locker, 0, upstream, logger)
	return nil
}

// HealthChecker returns the checks of the wired dependencies. The cache is
// optional; the database and the academic breaker are critical.
func (c *Container) HealthChecker() *handlers.HealthChecker {
	checker := handlers.NewHealthChecker(c.Config.App.Version)
	checker.SetTimeout(3 * time.Second)
	checker.AddReportingCheck("postgres", func(ctx context.Context) (any, error) {
		return c.DB.Health(ctx)
	})
	checker.AddReportingCheck("academic", func(context.Context) (any, error) {
		return c.Academic.Status()
	})
	if c.Cache != nil {
		checker.AddOptionalCheck("redis", handlers.NewPingCheck(c.Cache))
	}
	return checker
}

// Close releases connections in reverse order. The academic session is not
// logged out: the stored credentials may be shared with other replicas.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
