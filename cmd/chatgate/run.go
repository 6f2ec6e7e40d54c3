package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatgate/chatgate/internal/budget"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/orchestrator"
	"github.com/chatgate/chatgate/internal/pricing"
	"github.com/chatgate/chatgate/internal/provider/anthropic"
	"github.com/chatgate/chatgate/internal/provider/google"
	"github.com/chatgate/chatgate/internal/provider/openai"
	"github.com/chatgate/chatgate/internal/provider/perplexity"
	"github.com/chatgate/chatgate/internal/rag"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/server"
	"github.com/chatgate/chatgate/internal/storage/sqlite"
	"github.com/chatgate/chatgate/internal/telemetry"
	"github.com/chatgate/chatgate/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setLogLevel(cfg.Server.LogLevel)
	slog.Info("starting chatgate", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	// Shared DNS cache for every provider's HTTP client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	providers := make(map[string]core.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.APIKey == "" {
			slog.Info("provider skipped (no api key)", "name", p.Name)
			continue
		}
		var prov core.Provider
		switch p.Name {
		case "openai":
			prov = openai.New(p.APIKey, p.BaseURL, dnsResolver)
		case "anthropic":
			prov = anthropic.New(p.APIKey, p.BaseURL, dnsResolver)
		case "google":
			prov = google.New(p.APIKey, p.BaseURL, dnsResolver)
		case "perplexity":
			prov = perplexity.New(p.APIKey, p.BaseURL, dnsResolver)
		default:
			slog.Warn("unknown provider, skipping", "name", p.Name)
			continue
		}
		providers[p.Name] = prov
		slog.Info("provider registered", "name", p.Name)
	}

	models := make([]core.ModelInfo, len(cfg.Models))
	for i, m := range cfg.Models {
		models[i] = core.ModelInfo{ID: m.ID, Provider: m.Provider, MaxTokens: m.MaxTokens}
	}
	routerSvc := router.New(models, providers)
	slog.Info("model catalog loaded", "models", len(models), "available", len(routerSvc.AvailableModels()))

	rates := make(map[string]pricing.Rate, len(cfg.Pricing))
	for _, p := range cfg.Pricing {
		rates[p.ModelID] = pricing.Rate{
			InputPer1M:      p.InputPer1M,
			OutputPer1M:     p.OutputPer1M,
			PerMinute:       p.PerMinute,
			PerMillionChars: p.PerMillionChars,
		}
	}
	book := pricing.NewBook(rates)

	var ragRetriever rag.Retriever
	if cfg.RAG.BaseURL != "" {
		ragRetriever = rag.New(rag.Config{
			BaseURL:   cfg.RAG.BaseURL,
			K:         cfg.RAG.RetrievalK,
			Threshold: cfg.RAG.Threshold,
		})
		slog.Info("rag retriever configured", "base_url", cfg.RAG.BaseURL, "k", cfg.RAG.RetrievalK)
	}

	gate := budget.New(store, cfg.Budget.DailyCapUSD)
	slog.Info("budget gate configured", "daily_cap_usd", cfg.Budget.DailyCapUSD)

	orch := orchestrator.New(store, routerSvc, ragRetriever, book, gate)

	analyticsRecorder := worker.NewAnalyticsRecorder(store)
	runner := worker.NewRunner(analyticsRecorder)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(context.Background(), endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("chatgate/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	handler := server.New(server.Deps{
		Orchestrator:   orch,
		Router:         routerSvc,
		Store:          store,
		Analytics:      analyticsRecorder,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("chatgate ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("chatgate stopped")
	return nil
}

func setLogLevel(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOpts{Level: lvl})))
}
