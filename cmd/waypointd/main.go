// Package main is the entry point for the Waypoint workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/config"
	"github.com/docuflow/waypoint/internal/engine"
	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/internal/rewrite"
	"github.com/docuflow/waypoint/internal/router"
	"github.com/docuflow/waypoint/internal/store"
	"github.com/docuflow/waypoint/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "waypoint", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Storage.
	st, storeCloser, err := buildStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Event bus with an optional JetStream mirror.
	eventBus := bus.New(logger,
		bus.WithHistoryCapacity(cfg.Bus.HistoryCapacity),
		bus.WithPublishHook(func(eventType string) {
			metrics.BusPublishesTotal.WithLabelValues(eventType).Inc()
		}),
		bus.WithHandlerFailureHook(func(eventType string) {
			metrics.BusHandlerFailuresTotal.WithLabelValues(eventType).Inc()
		}),
	)

	var forwarder *bus.NATSForwarder
	if cfg.Bus.NATS.Enabled {
		forwarder, err = bus.NewNATSForwarder(ctx,
			cfg.Bus.NATS.URL, cfg.Bus.NATS.Stream, cfg.Bus.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("NATS forwarder initialization failed", zap.Error(err))
			return 1
		}
		eventBus.SubscribeAll(forwarder.Handle)
	}

	// Workflow engine.
	engineOpts := []engine.Option{
		engine.WithMetrics(metrics),
		engine.WithAtRiskWindow(cfg.SLA.AtRiskWindow),
	}
	idemCloser := func() {}
	if cfg.Idempotency.Enabled {
		idemStore, closer := buildIdempotencyStore(cfg.Idempotency, logger)
		idemCloser = closer
		engineOpts = append(engineOpts,
			engine.WithIdempotencyStore(idemStore, cfg.Idempotency.DefaultTTL))
	}
	wfEngine := engine.NewEngine(st, eventBus, logger, engineOpts...)

	// Task router.
	taskRouter := router.New(st, eventBus, logger, metrics)

	// Rewrite rules.
	ruleSource, ruleCloser, err := buildRuleSource(ctx, cfg.Rules, logger)
	if err != nil {
		logger.Error("rule source initialization failed", zap.Error(err))
		return 1
	}
	ruleStore := rewrite.NewRuleStore(ruleSource)
	rewriteEngine := rewrite.NewEngine(ruleStore, logger, metrics)
	if err := rewriteEngine.ReloadRules(ctx); err != nil {
		logger.Error("initial rule load failed", zap.Error(err))
		return 1
	}
	logger.Info("rules loaded", zap.Int("active_rules", ruleStore.Len()))

	// Background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go wfEngine.RunSLASweeper(bgCtx, cfg.SLA.SweepInterval)
	if cfg.Rules.ReloadInterval > 0 {
		go runRuleReloader(bgCtx, rewriteEngine, cfg.Rules.ReloadInterval, logger)
	}

	// HTTP server.
	handler := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Engine:       wfEngine,
		TaskRouter:   taskRouter,
		Rewrite:      rewriteEngine,
		Rules:        ruleStore,
		Bus:          eventBus,
		Authenticate: transport.JWTAuthenticator(cfg.Identity),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage", cfg.Storage.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if forwarder != nil {
		forwarder.Close()
	}
	if storeCloser != nil {
		storeCloser()
	}
	if ruleCloser != nil {
		ruleCloser()
	}
	idemCloser()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the persistence store based on config.
func buildStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			logger.Warn("database DSN not configured, using in-memory store")
			return store.NewMemoryStore(), nil, nil
		}

		pool, err := newPgPool(ctx, dsn, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

func newPgPool(ctx context.Context, dsn string, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// buildIdempotencyStore creates the idempotency store based on config.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (engine.IdempotencyStore, func()) {
	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return engine.NewMemoryIdempotencyStore(), func() {}
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return engine.NewRedisIdempotencyStore(client), func() { _ = client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return engine.NewMemoryIdempotencyStore(), func() {}
	}
}

// buildRuleSource creates the rewrite rule source based on config.
func buildRuleSource(ctx context.Context, cfg config.RulesConfig, logger *zap.Logger) (rewrite.RuleSource, func(), error) {
	switch cfg.Source {
	case "file", "":
		return &rewrite.FileRuleSource{Path: cfg.Path}, nil, nil
	case "postgres":
		dsn := os.Getenv("WAYPOINT_DATABASE_URL")
		if dsn == "" {
			return nil, nil, fmt.Errorf("rule source: WAYPOINT_DATABASE_URL not set")
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("rule source: parse DSN: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("rule source: connect: %w", err)
		}
		logger.Info("using postgres rule source")
		return rewrite.NewPgRuleSource(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rule source: %q", cfg.Source)
	}
}

// runRuleReloader periodically refreshes the rule snapshot so rule changes
// take effect without a restart.
func runRuleReloader(ctx context.Context, eng *rewrite.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.ReloadRules(ctx); err != nil {
				logger.Error("rule reload failed", zap.Error(err))
			}
		}
	}
}
