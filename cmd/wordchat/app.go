package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"wordchat/internal/agent"
	"wordchat/internal/arbiter"
	"wordchat/internal/bus"
	"wordchat/internal/command"
	"wordchat/internal/config"
	"wordchat/internal/dispatch"
	"wordchat/internal/domain"
	"wordchat/internal/memory"
	"wordchat/internal/metrics"
	"wordchat/internal/provider"
	"wordchat/internal/reminder"
	"wordchat/internal/weather"
	"wordchat/internal/wiki"
)

const busBufferSize = 100

// app holds the wired components shared by chat and serve.
type app struct {
	cfg       *config.Config
	blobs     domain.BlobStore
	memory    *memory.Manager
	bus       *bus.InMemoryBus
	metrics   *metrics.Metrics
	scheduler *reminder.Scheduler
	loop      *agent.Loop
	closers   []io.Closer
}

// openStorage opens the configured blob store and the conversation manager on top of it.
func openStorage(ctx context.Context, cfg *config.Config) (domain.BlobStore, *memory.Manager, error) {
	blobs, err := memory.OpenBlobs(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	return blobs, memory.NewManager(blobs, cfg.Storage.Namespace, logger), nil
}

// newApp wires storage, providers, handlers, the reminder scheduler and the
// agent loop from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	blobs, mgr, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		blobs:   blobs,
		memory:  mgr,
		bus:     bus.New(busBufferSize, logger),
		metrics: metrics.New(),
		closers: []io.Closer{blobs},
	}

	if cfg.Reminders.Enabled {
		a.scheduler = reminder.New(reminder.Config{
			Blobs:        blobs,
			Bus:          a.bus,
			Key:          cfg.Reminders.Key,
			PollInterval: config.Seconds(cfg.Reminders.PollIntervalSeconds, 0),
			Observer:     a.metrics,
			Logger:       logger,
		})
		if err := a.scheduler.Load(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("reminders: %w", err)
		}
	}

	catalog := dispatch.NewCatalog()
	deps := command.Deps{
		Config: cfg.Commands,
		Logger: logger,
		Wiki: wiki.New(wiki.Config{
			BaseURL: cfg.Commands.Wiki.APIBase,
			Timeout: config.Seconds(cfg.Commands.Wiki.TimeoutSeconds, 0),
			Retry:   lookupRetry(cfg.Commands.Wiki.Retries),
			Logger:  logger,
		}),
	}
	if cfg.Commands.Weather.APIKey != "" {
		deps.Weather = weather.New(weather.Config{
			APIKey:  cfg.Commands.Weather.APIKey,
			BaseURL: cfg.Commands.Weather.APIBase,
			Timeout: config.Seconds(cfg.Commands.Weather.TimeoutSeconds, 0),
			Retry:   lookupRetry(cfg.Commands.Weather.Retries),
			Logger:  logger,
		})
	} else {
		logger.Warn("weather API key not set, weather and snow commands disabled")
	}
	if a.scheduler != nil {
		deps.Scheduler = a.scheduler
	}
	command.Register(catalog, deps)

	registry := dispatch.RegistryFromMap(cfg.Dispatch.Commands)
	dispatcher := dispatch.NewLoop(dispatch.LoopConfig{
		Resolver: dispatch.NewResolver(dispatch.ResolverConfig{Registry: registry, Catalog: catalog, Logger: logger}),
		Timeout:  config.Seconds(cfg.Dispatch.HandlerTimeoutSeconds, 0),
		Observer: a.metrics,
		Logger:   logger,
	})

	factory := provider.NewFactory(cfg.Providers, logger)
	arb := arbiter.New(arbiter.Config{
		Primary:            completer(ctx, factory, provider.RolePrimary),
		Secondary:          completer(ctx, factory, provider.RoleSecondary),
		UnhelpfulPrefixes:  cfg.Arbiter.UnhelpfulPrefixes,
		OfflineMessage:     cfg.Arbiter.OfflineMessage,
		SystemInstructions: cfg.Arbiter.SystemInstructions,
		Observer:           a.metrics,
		Logger:             logger,
	})

	a.loop = agent.NewLoop(agent.LoopConfig{
		Dispatcher:      dispatcher,
		Registry:        registry,
		Catalog:         catalog,
		Arbiter:         arb,
		Memory:          mgr,
		Bus:             a.bus,
		Metrics:         a.metrics,
		Reminders:       a.scheduler,
		Logger:          logger,
		Concurrency:     cfg.Agent.MaxConcurrentMessages,
		ContextMessages: cfg.Arbiter.ContextMessages,
		RatePerMinute:   cfg.Agent.RatePerMinute,
		RateBurst:       cfg.Agent.RateBurst,
	})
	if a.scheduler != nil {
		a.scheduler.SetOnFire(a.loop.ReminderFired)
	}
	return a, nil
}

// completer returns the provider for role, or nil when it is disabled or
// cannot be built. A nil interface makes the arbitrator skip that provider.
func completer(ctx context.Context, f *provider.Factory, role string) domain.Completer {
	c, err := f.Get(ctx, role)
	if err != nil {
		logger.Warn("provider unavailable", "role", role, "err", err)
		return nil
	}
	logger.Info("provider ready", "role", role, "name", c.Name())
	return c
}

// Close stops the scheduler, closes the bus and releases storage.
func (a *app) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.bus.Close()
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// lookupRetry is opt-in; zero retries keeps lookups to a single attempt.
func lookupRetry(retries int) provider.RetryPolicy {
	if retries <= 0 {
		return provider.RetryPolicy{}
	}
	return provider.RetryPolicy{Attempts: retries, Backoff: provider.LookupBackoff}
}
