package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/data-aggregator/internal/config"
	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/data/adapters"
	"github.com/i474232898/data-aggregator/internal/metrics"
	"github.com/i474232898/data-aggregator/internal/scheduler"
	"github.com/i474232898/data-aggregator/internal/store"
	"github.com/i474232898/data-aggregator/internal/store/postgres"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// app is the wired process: storage, adapters, service and metrics.
type app struct {
	cfg     *config.AppConfig
	log     logger.Logger
	metrics *metrics.Manager
	service *data.Service
	jobs    []scheduler.Job
	storage string
	ping    func(context.Context) error
	close   func() error
}

func newApp(cfg *config.AppConfig) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     logger.Named("app"),
		metrics: metrics.NewManager(metrics.WithRuntimeCollectors()),
		storage: "memory",
		ping:    func(context.Context) error { return nil },
		close:   func() error { return nil },
	}

	var backend store.Backend = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		backend = pg
		a.storage = "postgres"
		a.ping = pg.Ping
		a.close = pg.Close
	}
	repo := store.NewRepository(backend, store.WithMetrics(a.metrics))

	// Shared HTTP client for outbound source calls.
	factory := adapters.NewFactory(
		adapters.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		adapters.WithGeocoder(cfg.GeocoderAPIKey),
	)
	registry, jobs, err := buildAdapters(factory, cfg.Sources, cfg.FetchInterval)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.jobs = jobs
	a.service = data.NewService(repo, registry, data.WithMetrics(a.metrics))

	a.log.Info(context.Background(), "application wired",
		logger.String("storage", a.storage),
		logger.Int("sources", len(jobs)))
	return a, nil
}

// buildAdapters builds every enabled source; an unknown adapter class fails fast.
func buildAdapters(factory *adapters.Factory, sources []config.SourceConfig, interval time.Duration) (*data.Registry, []scheduler.Job, error) {
	registry := data.NewRegistry()
	var jobs []scheduler.Job
	for _, src := range sources {
		if !src.IsEnabled() {
			continue
		}
		adapter, err := factory.Build(src.Adapter, src.Name, src.Settings)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, scheduler.Job{Adapter: adapter, Interval: src.IntervalOr(interval)})
	}
	return registry, jobs, nil
}

func (a *app) Close() {
	if err := a.close(); err != nil {
		a.log.Error(context.Background(), "close storage", logger.Error(err))
	}
}
