package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/config"
	"github.com/Veraticus/budget-autocat/internal/engine"
	"github.com/Veraticus/budget-autocat/internal/llm"
	"github.com/Veraticus/budget-autocat/internal/metrics"
	"github.com/Veraticus/budget-autocat/internal/model"
	"github.com/Veraticus/budget-autocat/internal/storage"
	"github.com/Veraticus/budget-autocat/internal/worker"
)

// shutdownGrace bounds how long in-flight jobs may run after an interrupt.
const shutdownGrace = 10 * time.Second

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// pipeline bundles everything a categorizing command needs.
type pipeline struct {
	store      *storage.SQLiteStorage
	engine     *engine.Engine
	metrics    *metrics.Metrics
	metricsSrv *http.Server
}

// newPipeline wires storage, the completion client and the engine. When
// modelOverride is set, it replaces the configured primary model.
func newPipeline(ctx context.Context, cfg config.Config, modelOverride string) (*pipeline, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, common.NewUserError("No API key configured. Set OPENROUTER_API_KEY or llm.api_key.", err)
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{store: store}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		p.metrics = metrics.New(reg)
		p.metricsSrv = serveMetrics(cfg.Metrics.Addr, reg)
	}

	client, err := llm.NewClient(clientConfig(cfg.LLM),
		llm.WithLogger(slog.Default().With("component", "llm")),
		llm.WithMetrics(p.metrics),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	engineCfg := engine.Config{
		PrimaryModel: cfg.LLM.PrimaryModel,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
	}
	if modelOverride != "" {
		engineCfg.PrimaryModel = modelOverride
	}

	p.engine = engine.New(client, store, engineCfg,
		engine.WithLogger(slog.Default().With("component", "engine")),
		engine.WithMetrics(p.metrics),
	)

	slog.Debug("categorization pipeline ready", "models", p.engine.Models())
	return p, nil
}

// dispatcher creates a background dispatcher backed by the pipeline's store.
func (p *pipeline) dispatcher(cfg config.Config, onFinished func(worker.Outcome)) *worker.Dispatcher {
	workerCfg := worker.DefaultConfig()
	workerCfg.MaxInFlight = cfg.Worker.MaxInFlight
	workerCfg.CompletionRetries = cfg.Worker.CompletionRetries

	opts := []worker.Option{
		worker.WithLogger(slog.Default().With("component", "worker")),
		worker.WithMetrics(p.metrics),
	}
	if onFinished != nil {
		opts = append(opts, worker.WithOnFinished(onFinished))
	}

	return worker.NewDispatcher(p.engine, p.store, p.store, workerCfg, opts...)
}

// Close stops the metrics server and closes the database.
func (p *pipeline) Close() {
	if p.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := p.metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("Failed to stop metrics server", "error", err)
		}
		cancel()
	}
	if err := p.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func clientConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		AppName:   cfg.AppName,
		AppURL:    cfg.AppURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Breaker: llm.BreakerConfig{
			Enabled:          cfg.Breaker.Enabled,
			MinRequests:      uint32(cfg.Breaker.MinRequests), //nolint:gosec // validated non-negative
			FailureRatio:     cfg.Breaker.FailureRatio,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			HalfOpenMaxCalls: 1,
		},
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", addr)
	return srv
}

// drain waits for all scheduled jobs. If ctx is canceled first, in-flight
// jobs get shutdownGrace to finish before they are canceled and forced.
func drain(ctx context.Context, d *worker.Dispatcher) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		return d.Shutdown(context.Background())
	case <-ctx.Done():
		slog.Warn("Interrupted, finishing in-flight categorizations", "grace", shutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := d.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ctx.Err()
	}
}

// categoryByID finds the category with the given ID among categories.
func categoryByID(categories []model.Category, id *int) *model.Category {
	if id == nil {
		return nil
	}
	for i := range categories {
		if categories[i].ID == *id {
			return &categories[i]
		}
	}
	return nil
}
