// Package app assembles the application: it loads composition definitions,
// wires the engine client behind its admission gate, and runs compositions
// either once from the command line or continuously behind the HTTP API.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/hclgrid"
	"github.com/vk/querygrid/internal/limiter"
	"github.com/vk/querygrid/internal/mapping"
	"github.com/vk/querygrid/internal/notify"
	"github.com/vk/querygrid/internal/orchestrator"
	"github.com/vk/querygrid/internal/queryengine"
	"github.com/vk/querygrid/internal/service"
	"github.com/vk/querygrid/internal/store"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config

	compositions *store.Memory
	engine       *queryengine.Client
	svc          *service.Service
	progressSink *notify.SocketIOSink
}

// NewApp builds a fully wired application. Definition files are loaded and
// validated here, so a broken definition fails fast at startup.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	transforms := mapping.NewRegistry()

	loader := hclgrid.NewLoader(transforms)
	graphs, err := loader.Load(ctx, cfg.DefinitionsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load composition definitions: %w", err)
	}
	if len(graphs) == 0 {
		return nil, fmt.Errorf("no compositions found under %s", cfg.DefinitionsPath)
	}
	mem := store.NewMemory()
	for _, g := range graphs {
		mem.AddComposition(g)
	}
	logger.Debug("Composition definitions loaded.", "count", len(graphs))

	gate := limiter.New(limiter.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxInFlight:       cfg.MaxInFlight,
	})
	engine := queryengine.New(queryengine.Config{
		BaseURL:      cfg.EngineURL,
		UserID:       cfg.EngineUserID,
		Token:        cfg.EngineToken,
		PollInterval: cfg.PollInterval,
	}, gate, queryengine.StaticTokenSource{Token: cfg.EngineToken})

	var sink notify.Sink = notify.LogSink{}
	var socketSink *notify.SocketIOSink
	if cfg.ProgressURL != "" {
		socketSink, err = notify.DialSocketIO(ctx, notify.SocketIOConfig{URL: cfg.ProgressURL})
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to connect progress sink: %w", err)
		}
		sink = notify.Multi{notify.LogSink{}, socketSink}
		logger.Debug("Live progress sink connected.", "url", cfg.ProgressURL)
	}

	orch := orchestrator.New(engine, mapping.New(transforms), mem, sink)
	svc := service.New(mem, orch, transforms, service.Config{
		SQLLimits: mapping.DefaultSQLLimits,
	})

	return &App{
		outW:         outW,
		logger:       logger,
		cfg:          cfg,
		compositions: mem,
		engine:       engine,
		svc:          svc,
		progressSink: socketSink,
	}, nil
}

// Service returns the run service. This is primarily for testing.
func (a *App) Service() *service.Service {
	return a.svc
}

// Close releases the engine client and any connected sinks.
func (a *App) Close() error {
	var firstErr error
	if a.progressSink != nil {
		if err := a.progressSink.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
