package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dmscode/dmsflow/internal/actions"
	"github.com/dmscode/dmsflow/internal/api"
	"github.com/dmscode/dmsflow/internal/conditions"
	"github.com/dmscode/dmsflow/internal/engine"
	"github.com/dmscode/dmsflow/internal/expressions"
	"github.com/dmscode/dmsflow/internal/extraction"
	"github.com/dmscode/dmsflow/internal/llm"
	"github.com/dmscode/dmsflow/internal/logging"
	"github.com/dmscode/dmsflow/internal/reasoning"
	"github.com/dmscode/dmsflow/internal/scheduler"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/internal/validation"
	"github.com/dmscode/dmsflow/pkg/mcp"
)

const shutdownTimeout = 30 * time.Second

// app is the fully wired service.
type app struct {
	flows      store.FlowStore
	registry   *actions.Registry
	validator  *validation.FlowValidator
	hub        *streaming.MemoryHub
	history    *engine.History
	executor   *engine.Executor
	pool       *engine.WorkerPool
	dispatcher *engine.Dispatcher
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	mcpFlag := fs.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *mcpFlag {
		cfg.MCP = true
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	// stdout carries the MCP protocol, so logs always go to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.flows.Close()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	writePIDFile(logger)
	defer os.Remove(pidPath())
	go watchReload(ctx, cfg, level, logger)

	if cfg.MCP {
		srv := mcp.NewFlowServer(mcp.FlowServerDeps{
			Flows:      a.flows,
			Dispatcher: a.dispatcher,
			History:    a.history,
			Hub:        a.hub,
			Logger:     logger,
		})
		logger.Info("serving MCP over stdio")
		err = srv.Serve(ctx)
	} else {
		err = a.serveHTTP(ctx, cfg.ListenAddr)
	}

	a.shutdown()
	return err
}

// buildApp wires store → validator → collaborators → executor → pool →
// dispatcher → scheduler.
func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	flows, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	completer, err := llm.NewCompleter(cfg.llmConfig(), logger)
	if err != nil {
		flows.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	collab := actions.Collaborators{Completer: completer}
	if cfg.ExtractionURL != "" {
		collab.Extractor = extraction.NewHTTPExtractor(cfg.ExtractionURL, time.Duration(cfg.ExtractionTO))
	}
	if cfg.SMTPAddr != "" {
		collab.Mailer = &actions.SMTPMailer{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	}

	registry := actions.NewRegistry()
	httpCfg := actions.HTTPConfig{
		WebhookTimeout: time.Duration(cfg.WebhookTimeout),
		CalendarURL:    cfg.CalendarURL,
	}
	if err := actions.RegisterBuiltins(registry, collab, httpCfg, actions.FilesConfig{Root: cfg.FilesRoot}, logger); err != nil {
		flows.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	validator, err := validation.NewFlowValidator(registry)
	if err != nil {
		flows.Close()
		return nil, fmt.Errorf("validator: %w", err)
	}
	engines, err := expressions.NewRegistry()
	if err != nil {
		flows.Close()
		return nil, fmt.Errorf("expression engines: %w", err)
	}

	a := &app{
		flows:     flows,
		registry:  registry,
		validator: validator,
		hub:       streaming.NewMemoryHub(),
		history:   engine.NewHistory(cfg.HistorySize),
		logger:    logger,
	}
	a.executor = engine.NewExecutor(engine.ExecutorConfig{
		Conditions: conditions.NewEvaluator(engines, logger),
		Actions:    actions.NewPerformer(registry, actions.NewBreakers(actions.DefaultBreakerConfig()), logger),
		Decisions:  reasoning.NewDecider(completer, logger),
		Hub:        a.hub,
		History:    a.history,
		Logger:     logger,
	})
	a.pool = engine.NewWorkerPool(cfg.PoolSize, cfg.QueueSize, logger)
	a.dispatcher = engine.NewDispatcher(engine.DispatcherConfig{
		Flows:   flows,
		Runner:  a.executor,
		Pool:    a.pool,
		History: a.history,
		Hub:     a.hub,
		Logger:  logger,
	})
	a.scheduler = scheduler.NewScheduler(flows, a.executor, logger)

	logger.Info("dmsflow wired",
		slog.String("store", cfg.StoreDriver),
		slog.String("llm_provider", cfg.LLMProvider),
		slog.Int("actions", registry.Count()),
		slog.Int("pool_size", cfg.PoolSize),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg Config) (store.FlowStore, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPGStore(ctx, cfg.PostgresDSN)
	default:
		if err := os.MkdirAll(dmsflowDir(), 0o700); err != nil {
			return nil, err
		}
		s, err := store.NewLibSQLStore(cfg.libsqlDSN())
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	}
}

func (a *app) serveHTTP(ctx context.Context, addr string) error {
	handler := api.NewServer(api.Deps{
		Flows:      a.flows,
		Validator:  a.validator,
		Dispatcher: a.dispatcher,
		History:    a.history,
		Schedules:  a.scheduler,
		Hub:        a.hub,
		Pool:       a.pool,
		Logger:     a.logger,
	}).Handler()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// shutdown stops the scheduler and drains queued runs.
func (a *app) shutdown() {
	if err := a.scheduler.Stop(); err != nil {
		a.logger.Error("scheduler stop", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.pool.Shutdown(ctx); err != nil {
		a.logger.Error("worker pool drain", slog.String("error", err.Error()))
	}
	m := a.pool.Metrics()
	a.logger.Info("stopped",
		slog.Int64("completed", m.Completed),
		slog.Int64("failed", m.Failed),
		slog.Int64("rejected", m.Rejected),
	)
}

func writePIDFile(logger *slog.Logger) {
	if err := os.MkdirAll(dmsflowDir(), 0o700); err != nil {
		logger.Warn("cannot create config dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("cannot write pid file", slog.String("error", err.Error()))
	}
}

// watchReload re-reads configuration on SIGHUP. The log level applies live;
// other changes are reported as needing a restart.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next, err := loadConfig()
		if err != nil {
			logger.Error("config reload failed", slog.String("error", err.Error()))
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			level.Set(logging.ParseLevel(next.LogLevel))
			logger.Info("log level changed", slog.String("level", next.LogLevel))
		}
		if len(d.RestartNeeded) > 0 {
			logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
		}
		current = next
	}
}
