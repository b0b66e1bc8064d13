package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"bankanalysis/ratio-server/internal/actions"
	"bankanalysis/ratio-server/internal/analysis"
	"bankanalysis/ratio-server/internal/audit"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/bank"
	"bankanalysis/ratio-server/internal/config"
	"bankanalysis/ratio-server/internal/dispatch"
	"bankanalysis/ratio-server/internal/httpserver"
	"bankanalysis/ratio-server/internal/migrations"
	"bankanalysis/ratio-server/internal/observability"
	"bankanalysis/ratio-server/internal/ratelimit"
	"bankanalysis/ratio-server/internal/server"
	"bankanalysis/ratio-server/internal/session"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	db      *sql.DB
	redis   *redis.Client
	audit   *audit.FileLogger
	metrics *observability.Metrics
	server  *server.Server
	ops     *httpserver.Server
}

type stores struct {
	users   auth.UserStore
	roles   auth.RoleStore
	banks   bank.Store
	reports analysis.ReportStore
	audit   audit.Store
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	return NewWithLogger(ctx, cfg, observability.NewLogger(cfg.LogLevel))
}

// NewWithLogger builds every component; on error everything opened so far
// is closed again.
func NewWithLogger(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: logger, metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var migrationStatus httpserver.MigrationStatus
	if cfg.DatabaseURL != "" {
		if a.db, err = openDatabase(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		m, err := migrations.New(a.db, logger)
		if err != nil {
			return nil, fmt.Errorf("create migration service: %w", err)
		}
		ran, err := m.Apply(ctx)
		if err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database ready", "migrations_applied", len(ran))
		migrationStatus = m
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
	}

	st, err := newStores(a.db)
	if err != nil {
		return nil, err
	}

	sessions, err := a.newSessionStore(ctx)
	if err != nil {
		return nil, err
	}

	hasher, err := auth.NewArgon2Hasher(argon2Config(cfg.Auth))
	if err != nil {
		return nil, fmt.Errorf("create password hasher: %w", err)
	}
	authService, err := auth.NewService(st.users, st.roles, hasher)
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}
	created, err := authService.EnsureBootstrap(ctx, cfg.Auth.BootstrapUsername, cfg.Auth.BootstrapPassword)
	if err != nil {
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}
	if created {
		logger.Info("bootstrap admin created", "username", cfg.Auth.BootstrapUsername)
	}

	a.audit = audit.NewFileLogger(cfg.AuditLogFile)
	recorder, err := audit.NewRecorder(st.audit, a.audit)
	if err != nil {
		return nil, fmt.Errorf("create audit recorder: %w", err)
	}

	bankService, err := bank.NewService(st.banks, analysis.Cascade{Reports: st.reports})
	if err != nil {
		return nil, fmt.Errorf("create bank service: %w", err)
	}
	analysisService, err := analysis.NewService(bankService, st.reports)
	if err != nil {
		return nil, fmt.Errorf("create analysis service: %w", err)
	}

	registry, err := actions.NewRegistry(actions.Deps{
		Auth:     authService,
		Sessions: sessions,
		Banks:    bankService,
		Analysis: analysisService,
		Audit:    recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("create action registry: %w", err)
	}
	dispatcher, err := dispatch.New(registry, dispatch.Deps{
		Sessions: sessions,
		Roles:    authService,
		Audit:    recorder,
		Observer: a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0)
	}
	handler, err := server.NewHandler(server.HandlerConfig{
		MaxFrameBytes: cfg.TCP.MaxFrameBytes,
		ReadTimeout:   cfg.TCP.ReadTimeout,
	}, server.HandlerDeps{
		Frames:   dispatcher,
		Sessions: sessions,
		Limiter:  limiter,
		Observer: a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create connection handler: %w", err)
	}
	a.server, err = server.New(server.Config{
		Addr:      cfg.TCP.Addr,
		Workers:   cfg.TCP.Workers,
		QueueSize: cfg.TCP.QueueSize,
	}, handler, logger)
	if err != nil {
		return nil, fmt.Errorf("create protocol server: %w", err)
	}

	if cfg.OpsAddr != "" {
		deps := httpserver.Deps{
			Migrations:  migrationStatus,
			Sessions:    sessions,
			Connections: a.server,
			Ready:       a.listening,
			Metrics:     a.metrics.Handler(),
			Logger:      logger,
		}
		if a.db != nil {
			deps.DB = a.db
		}
		a.ops = httpserver.New(cfg.OpsAddr, deps)
	}
	return a, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newStores(db *sql.DB) (stores, error) {
	if db == nil {
		return stores{
			users:   auth.NewInMemoryUserStore(),
			roles:   auth.NewInMemoryRoleStore(),
			banks:   bank.NewInMemoryStore(),
			reports: analysis.NewInMemoryReportStore(),
			audit:   audit.NewInMemoryStore(0),
		}, nil
	}
	var (
		st  stores
		err error
	)
	if st.users, err = auth.NewPostgresUserStore(db); err != nil {
		return stores{}, fmt.Errorf("create postgres user store: %w", err)
	}
	if st.roles, err = auth.NewPostgresRoleStore(db); err != nil {
		return stores{}, fmt.Errorf("create postgres role store: %w", err)
	}
	if st.banks, err = bank.NewPostgresStore(db); err != nil {
		return stores{}, fmt.Errorf("create postgres bank store: %w", err)
	}
	if st.reports, err = analysis.NewPostgresReportStore(db); err != nil {
		return stores{}, fmt.Errorf("create postgres report store: %w", err)
	}
	if st.audit, err = audit.NewPostgresStore(db); err != nil {
		return stores{}, fmt.Errorf("create postgres audit store: %w", err)
	}
	return st, nil
}

func (a *App) newSessionStore(ctx context.Context) (session.Store, error) {
	if a.cfg.Session.Backend != config.SessionBackendRedis {
		return session.NewMemoryStore(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Session.RedisAddr,
		Password: a.cfg.Session.RedisPassword,
		DB:       a.cfg.Session.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store, err := session.NewRedisStore(a.redis, a.cfg.Session.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("create redis session store: %w", err)
	}
	a.log.Info("session backend redis", "addr", a.cfg.Session.RedisAddr)
	return store, nil
}

func argon2Config(cfg config.AuthConfig) auth.Argon2Config {
	c := auth.DefaultArgon2Config()
	c.MemoryKB = cfg.Argon2MemoryKB
	c.Time = cfg.Argon2Time
	return c
}

func (a *App) listening() bool {
	select {
	case <-a.server.Ready():
		return true
	default:
		return false
	}
}

// ProtocolAddr blocks until the protocol listener is bound and returns its
// address.
func (a *App) ProtocolAddr(ctx context.Context) (net.Addr, error) {
	select {
	case <-a.server.Ready():
		return a.server.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run serves until ctx is cancelled or a listener fails, then drains both
// servers within the configured shutdown budget.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 2)
	go func() {
		a.log.Info("protocol server starting", "addr", a.cfg.TCP.Addr, "workers", a.cfg.TCP.Workers)
		if err := a.server.ListenAndServe(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errCh <- fmt.Errorf("protocol server: %w", err)
		}
	}()
	if a.ops != nil {
		go func() {
			a.log.Info("ops server starting", "addr", a.ops.Addr())
			if err := a.ops.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-errCh:
		a.log.Error("server exited", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("protocol server drain incomplete", "err", err)
	}
	if a.ops != nil {
		if err := a.ops.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("ops server shutdown", "err", err)
		}
	}
	a.log.Info("shutdown complete")
	return runErr
}

func (a *App) close() {
	if err := a.audit.Close(); err != nil {
		a.log.Warn("close audit log", "err", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
