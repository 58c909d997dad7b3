// Package main is the entry point for the Atoms workflow engine server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/internal/config"
	"github.com/Chunkys0up7/Atoms-sub002/internal/definition"
	"github.com/Chunkys0up7/Atoms-sub002/internal/engine"
	"github.com/Chunkys0up7/Atoms-sub002/internal/eventbus"
	"github.com/Chunkys0up7/Atoms-sub002/internal/idempotency"
	"github.com/Chunkys0up7/Atoms-sub002/internal/observability"
	"github.com/Chunkys0up7/Atoms-sub002/internal/router"
	"github.com/Chunkys0up7/Atoms-sub002/internal/sla"
	"github.com/Chunkys0up7/Atoms-sub002/internal/store"
	"github.com/Chunkys0up7/Atoms-sub002/internal/transport"
	"github.com/Chunkys0up7/Atoms-sub002/model"
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
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "atoms-engine", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load definitions and escalation rules, validate, build registry.
	loader := definition.NewLoader()
	defs, rules, err := loadDefinitions(loader, cfg)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	registry := definition.NewRegistry(defs, rules)
	metrics.SetDefinitionsLoaded(float64(registry.Count()))

	// Step 5: Initialize the engine store.
	engineStore, storeCloser, err := buildEngineStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("engine store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Start the event bus and fold events into metrics.
	bus := eventbus.New(logger, cfg.Bus.BufferSize, cfg.Bus.RecentEventsLimit)
	if err := bus.SubscribeAll(newMetricsRecorder(metrics).record); err != nil {
		logger.Error("metrics recorder subscription failed", zap.Error(err))
		return 1
	}

	// Step 7: Build task routing from the assignee directory.
	directory, err := router.NewDirectory(cfg.Router.DirectoryFile)
	if err != nil {
		logger.Error("assignee directory load failed", zap.Error(err))
		return 1
	}
	taskRouter := router.New(directory, engineStore)

	// Step 8: Build the engine.
	eng := engine.New(registry, engineStore, taskRouter, bus, logger)

	// Step 9: Start the SLA monitor.
	var monitor *sla.Monitor
	if cfg.SLA.Enabled {
		monitor = sla.New(engineStore, registry, bus, logger, sla.Config{
			ScanInterval:   cfg.SLA.ScanInterval,
			WarningPercent: cfg.SLA.WarningPercent,
			BatchLimit:     cfg.SLA.ScanBatchLimit,
		})
		if err := monitor.Start(); err != nil {
			logger.Error("sla monitor start failed", zap.Error(err))
			return 1
		}
	}

	// Step 10: Initialize the idempotency store (optional).
	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 11: Build authentication.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	// Step 12: Build the HTTP router with readiness checks.
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Count() > 0 },
	}
	if hc, ok := engineStore.(observability.HealthChecker); ok {
		readiness.EngineStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	handler := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       eng,
		Registry:     registry,
		Bus:          bus,
		Metrics:      metrics,
		Idempotency:  idemStore,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 13: Reload definitions on SIGHUP.
	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for range reloadCh {
			reloadDefinitions(loader, cfg, registry, metrics, logger)
		}
	}()

	// Step 14: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("definitions", registry.Count()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop background work before closing what it depends on.
	signal.Stop(reloadCh)
	close(reloadCh)
	if monitor != nil {
		monitor.Stop()
	}
	if err := bus.Close(); err != nil {
		logger.Error("event bus shutdown error", zap.Error(err))
	}

	// Close stores.
	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions loads, normalizes, and validates all process definitions
// plus the optional escalation rules file.
func loadDefinitions(loader *definition.Loader, cfg *config.Config) ([]model.ProcessDefinition, []model.WorkflowRule, error) {
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		return nil, nil, err
	}
	applyDefaultStrategy(defs, cfg.Router.DefaultStrategy)

	validator := definition.NewValidator()
	if verrs := validator.Validate(defs); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, nil, fmt.Errorf("%d validation errors: %s", len(verrs), strings.Join(msgs, "; "))
	}

	var rules []model.WorkflowRule
	if cfg.Definitions.RulesFile != "" {
		rules, err = loader.LoadRules(cfg.Definitions.RulesFile)
		if err != nil {
			return nil, nil, err
		}
	}
	return defs, rules, nil
}

// applyDefaultStrategy fills in the configured assignment method for steps
// that do not name one. Runs before validation so the per-method required
// fields still apply.
func applyDefaultStrategy(defs []model.ProcessDefinition, method string) {
	for di := range defs {
		for si := range defs[di].Steps {
			if defs[di].Steps[si].Assignment.Method == "" {
				defs[di].Steps[si].Assignment.Method = method
			}
		}
	}
}

// reloadDefinitions re-reads the definition directories and swaps the
// registry snapshot. A failed reload keeps the previous snapshot.
func reloadDefinitions(loader *definition.Loader, cfg *config.Config, registry *definition.Registry, metrics *observability.Metrics, logger *zap.Logger) {
	defs, rules, err := loadDefinitions(loader, cfg)
	if err != nil {
		metrics.RecordDefinitionReload("error")
		logger.Error("definition reload failed", zap.Error(err))
		return
	}
	registry.Replace(defs, rules)
	metrics.RecordDefinitionReload("ok")
	metrics.SetDefinitionsLoaded(float64(registry.Count()))
	logger.Info("definitions reloaded", zap.Int("definitions", registry.Count()))
}

// buildEngineStore creates the engine store based on config.
func buildEngineStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory engine store")
		return store.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("engine store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("engine store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("engine store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("engine store: ping: %w", err)
		}
		return store.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported engine store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store",
				zap.String("addr_env", cfg.Store.AddrEnv))
			return idempotency.NewMemoryStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
}

// metricsRecorder folds bus events into Prometheus instruments. Terminal
// process events do not carry a definition ID, so the mapping seen on
// process.started is cached until the process finishes.
type metricsRecorder struct {
	metrics *observability.Metrics

	mu   sync.Mutex
	defs map[string]string // process ID -> definition ID
}

func newMetricsRecorder(m *observability.Metrics) *metricsRecorder {
	return &metricsRecorder{metrics: m, defs: make(map[string]string)}
}

func (r *metricsRecorder) record(_ context.Context, e model.ProcessEvent) {
	r.metrics.RecordEventPublished(e.Type)

	switch e.Type {
	case model.EventProcessStarted:
		defID, _ := e.Payload["definition_id"].(string)
		r.mu.Lock()
		r.defs[e.ProcessID] = defID
		r.mu.Unlock()
		r.metrics.RecordProcessStart(defID)

	case model.EventProcessCompleted, model.EventProcessFailed, model.EventProcessCancelled:
		r.mu.Lock()
		defID := r.defs[e.ProcessID]
		delete(r.defs, e.ProcessID)
		r.mu.Unlock()
		r.metrics.RecordProcessCompletion(defID, strings.TrimPrefix(e.Type, "process."))

	case model.EventTaskCreated:
		r.metrics.RecordTaskTransition(model.TaskStatusAssigned)

	case model.EventTaskStarted:
		r.metrics.RecordTaskTransition(model.TaskStatusInProgress)

	case model.EventTaskCompleted:
		r.metrics.RecordTaskTransition(model.TaskStatusCompleted)
		if raw, ok := e.Payload["duration"].(string); ok {
			if d, err := time.ParseDuration(raw); err == nil {
				r.metrics.RecordTaskDuration(r.definitionID(e.ProcessID), d)
			}
		}

	case model.EventTaskFailed:
		r.metrics.RecordTaskTransition(model.TaskStatusFailed)
		if retry, _ := e.Payload["will_retry"].(bool); retry {
			r.metrics.RecordTaskRetry(r.definitionID(e.ProcessID))
		}

	case model.EventTaskSkipped:
		r.metrics.RecordTaskTransition(model.TaskStatusSkipped)

	case model.EventSLAAtRisk:
		r.metrics.RecordSLAAtRisk()

	case model.EventSLABreached:
		kind, _ := e.Payload["kind"].(string)
		r.metrics.RecordSLABreach(kind)
	}
}

func (r *metricsRecorder) definitionID(processID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defs[processID]
}
