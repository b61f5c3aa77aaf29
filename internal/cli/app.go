package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pranavk/stockpilot/internal/config"
	"github.com/pranavk/stockpilot/internal/logger"
	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
	"github.com/pranavk/stockpilot/pkg/dispatcher"
	"github.com/pranavk/stockpilot/pkg/dispatchqueue"
	"github.com/pranavk/stockpilot/pkg/driver"
	"github.com/pranavk/stockpilot/pkg/remote"
	"github.com/pranavk/stockpilot/pkg/session"
	"github.com/pranavk/stockpilot/pkg/statestore"
	"github.com/pranavk/stockpilot/pkg/tickers"
	"github.com/pranavk/stockpilot/pkg/workflow"
)

// app holds the assembled service stack for a command invocation
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	states     statestore.Store
	history    *session.HistoryStore
	archiver   *session.Archiver
	queue      *dispatchqueue.Queue
	client     *remote.Client
	dispatcher *dispatcher.Dispatcher
}

// buildApp loads configuration and wires every component together,
// finishing with the worker handshake. Unreachable workers are skipped
// and the service starts with whatever registered.
func buildApp(ctx context.Context) (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("stockpilot"); err != nil {
		zl := log.GetZerolog()
		zl.Warn().Err(err).Msg("tracing disabled")
	}

	states, err := statestore.NewSQLiteStore(filepath.Join(cfg.DataDir, "state.db"), log.GetZerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	history, err := session.NewHistoryStore(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	var archiver *session.Archiver
	if cfg.History.ArchiveEnabled {
		archiver = session.NewArchiver(history, session.ArchiverConfig{
			IdleTimeout:   cfg.History.IdleTimeout,
			SweepSchedule: cfg.History.SweepSchedule,
		})
		if err := archiver.Start(); err != nil {
			return nil, fmt.Errorf("failed to start session archiver: %w", err)
		}
	}

	queue := dispatchqueue.New(dispatchqueue.Config{
		DelegationConcurrency: cfg.Turn.BackgroundPool,
	})

	a := &app{
		cfg:      cfg,
		log:      log,
		states:   states,
		history:  history,
		archiver: archiver,
		queue:    queue,
	}

	endpoints := make([]remote.Endpoint, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		endpoints = append(endpoints, remote.Endpoint{URL: w.URL, Timeout: w.Timeout})
	}
	client, err := remote.NewClient(remote.Config{
		Endpoints:  endpoints,
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		Queue:      queue,
		// Late-bound: the dispatcher does not exist yet at this point.
		OnResponse: func(ctx context.Context, agentName, response string) {
			a.dispatcher.HandleWorkerResponse(ctx, agentName, response)
		},
		Logger: log.GetZerolog(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	a.client = client

	directory := tickers.NewStaticDirectory()
	engine, err := workflow.NewEngine(workflow.Config{
		Resolver:    directory,
		Classifier:  directory,
		Delegator:   client,
		TargetAgent: "stock-analyser",
		Logger:      log.GetZerolog(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow engine: %w", err)
	}

	drv, err := driver.New(cfg.Driver.Provider, cfg.Driver.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning driver: %w", err)
	}

	d, err := dispatcher.New(dispatcher.Config{
		States:       states,
		History:      history,
		Driver:       drv,
		Engine:       engine,
		Queue:        queue,
		AgentSummary: client.AgentSummary,
		Model:        cfg.Driver.Model,
		Temperature:  cfg.Driver.Temperature,
		MaxTokens:    cfg.Driver.MaxTokens,
		MaxSteps:     cfg.Turn.MaxSteps,
		HistoryLimit: cfg.Turn.HistoryLimit,
		Logger:       log.GetZerolog(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.dispatcher = d

	if err := client.Init(ctx); err != nil {
		return nil, fmt.Errorf("worker handshake failed: %w", err)
	}

	// Config file edits retune the log level in place. Everything else
	// in the stack is constructed once and needs a restart.
	loader.Watch(
		func(next *config.Config) {
			zl := log.GetZerolog()
			if err := log.SetLevel(next.Logging.Level); err != nil {
				zl.Warn().Err(err).Msg("Config reloaded with unusable log level")
				return
			}
			zl.Info().
				Str("level", next.Logging.Level).
				Msg("Config reloaded, log level applied")
		},
		func(err error) {
			zl := log.GetZerolog()
			zl.Warn().Err(err).Msg("Ignoring invalid config reload")
		},
	)

	return a, nil
}

// Close shuts the stack down in reverse dependency order
func (a *app) Close(ctx context.Context) {
	if a.archiver != nil {
		a.archiver.Stop()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.states != nil {
		_ = a.states.Close()
	}
	_ = tracing.ShutdownOpenTelemetry(ctx)
	if a.log != nil {
		_ = a.log.Close()
	}
}
