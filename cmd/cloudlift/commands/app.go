package commands

import (
	"context"
	"fmt"

	"github.com/cloudlift/cloudlift/pkg/cloud"
	"github.com/cloudlift/cloudlift/pkg/config"
	"github.com/cloudlift/cloudlift/pkg/lifecycle"
	"github.com/cloudlift/cloudlift/pkg/plugins/basevm"
	"github.com/cloudlift/cloudlift/pkg/plugins/webapp"
	"github.com/cloudlift/cloudlift/pkg/policy"
	"github.com/cloudlift/cloudlift/pkg/stores"
	"github.com/cloudlift/cloudlift/pkg/telemetry"
)

// app holds the fully wired orchestrator for one command invocation.
type app struct {
	cfg        *config.Config
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	publisher  *telemetry.EventPublisher
	store      *stores.SQLiteStore
	engine     *policy.Engine
	loader     *policy.Loader
	registry   *lifecycle.Registry
	controller *lifecycle.Controller
}

// setupApp loads configuration and wires the store, policy gate, telemetry
// and plugin registry into a lifecycle controller.
func setupApp(ctx context.Context, version string) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if devMode {
		cfg.Provider.Name = "fake"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	if cfg.Telemetry.Metrics.Enabled {
		if err := metrics.StartServer(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	publisher := telemetry.NewEventPublisher(cfg.Telemetry.Events)

	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	engine, err := policy.NewEngine(logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		store.Close()
		return nil, err
	}
	var loader *policy.Loader
	if len(cfg.PolicyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.PolicyPaths); err != nil {
			store.Close()
			return nil, err
		}
		if cfg.PolicyWatch {
			loader = policy.NewLoader(logger.NewComponentLogger("policy-loader").Zerolog())
			err := loader.Watch(ctx, cfg.PolicyPaths, func(_ []policy.Policy) error {
				return engine.ReloadPolicies(ctx, cfg.PolicyPaths)
			})
			if err != nil {
				store.Close()
				return nil, err
			}
		}
	}

	registry, err := buildRegistry(logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	controller, err := lifecycle.NewController(lifecycle.ControllerOptions{
		Registry:           registry,
		Store:              store,
		Provider:           provider,
		Gate:               engine,
		Logger:             logger.NewComponentLogger("lifecycle"),
		Metrics:            metrics,
		Tracer:             tracer,
		Publisher:          publisher,
		ProgressBufferSize: cfg.Launch.ProgressBufferSize,
		ProvisionTimeout:   cfg.Launch.ProvisionTimeout,
		ConfigureTimeout:   cfg.Launch.ConfigureTimeout,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		publisher:  publisher,
		store:      store,
		engine:     engine,
		loader:     loader,
		registry:   registry,
		controller: controller,
	}, nil
}

// close waits for in-flight launches and releases every resource.
func (a *app) close(ctx context.Context) {
	a.controller.Close()
	if a.loader != nil {
		if err := a.loader.StopWatching(); err != nil {
			a.logger.WithError(err).Warn("failed to stop policy watcher")
		}
	}
	a.publisher.Shutdown()
	if err := a.metrics.Shutdown(); err != nil {
		a.logger.WithError(err).Warn("failed to shut down metrics server")
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to shut down tracer")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close store")
	}
}

// buildProvider maps the provider config onto a concrete cloud provider.
// Only the in-memory fake ships with the CLI; real providers are wired by
// embedding deployments.
func buildProvider(cfg config.ProviderConfig) (cloud.Provider, error) {
	switch cfg.Name {
	case "fake":
		return cloud.NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// buildRegistry registers the built-in application plugins and freezes the
// registry before any launch can race plugin registration.
func buildRegistry(logger *telemetry.Logger) (*lifecycle.Registry, error) {
	base, err := basevm.New(basevm.WithLogger(logger.NewComponentLogger("basevm").Zerolog()))
	if err != nil {
		return nil, err
	}
	web, err := webapp.New(base, webapp.WithLogger(logger.NewComponentLogger("webapp").Zerolog()))
	if err != nil {
		return nil, err
	}

	registry := lifecycle.NewRegistry()
	if err := registry.Register(basevm.AppID, base); err != nil {
		return nil, err
	}
	if err := registry.Register(webapp.AppID, web); err != nil {
		return nil, err
	}
	registry.Freeze()
	return registry, nil
}
