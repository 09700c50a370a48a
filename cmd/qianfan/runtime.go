package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qianfan-chat/internal/adapter/embedding"
	"qianfan-chat/internal/adapter/qianfan"
	"qianfan-chat/internal/adapter/tool"
	"qianfan-chat/internal/domain"
	"qianfan-chat/internal/infra/config"
	"qianfan-chat/internal/infra/logger"
	"qianfan-chat/internal/infra/metrics"
	"qianfan-chat/internal/infra/tracer"
	"qianfan-chat/internal/usecase"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	chat     *qianfan.ChatModel
	embedder domain.EmbeddingProvider
	tools    *tool.Registry

	closers []func(context.Context) error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	observer := domain.MultiObserver{tracer.NewObserver(nil)}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		observer = append(observer, metrics.NewObserver(reg, cfg.Metrics.Namespace))
		if cfg.Metrics.ListenAddr != "" {
			a.serveMetrics(reg, cfg.Metrics.ListenAddr)
		}
	}

	a.tools = tool.NewRegistry(log)
	if err := registerBuiltinTools(a.tools); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	transport := newTransport(cfg, log)
	retry := usecase.NewBackoffRetryPolicy(cfg.Retry, log)

	a.chat = qianfan.NewChatModel(transport, log,
		qianfan.WithDefaultOptions(qianfan.OptionsFromConfig(cfg.Chat)),
		qianfan.WithToolCallingManager(tool.NewManager(a.tools, log)),
		qianfan.WithRetryPolicy(retry),
		qianfan.WithObserver(observer),
	)

	embedModel := qianfan.NewEmbeddingModel(transport, cfg.Embedding, log,
		qianfan.WithRetryPolicy(retry),
		qianfan.WithObserver(observer),
	)
	a.embedder = embedding.NewCachedEmbedder(embedModel, cfg.Embedding.CacheSize)

	return a, nil
}

// newTransport builds the primary client and any fallbacks, each behind its
// own circuit breaker when enabled.
func newTransport(cfg *config.Config, log *slog.Logger) qianfan.Transport {
	endpoint := func(name string, opts ...qianfan.ClientOption) qianfan.Transport {
		var t qianfan.Transport = qianfan.NewClient(cfg.Provider, log, opts...)
		if cfg.CircuitBreaker.Enabled {
			t = qianfan.NewCircuitBreakerTransport(t, name, cfg.CircuitBreaker, log)
		}
		return t
	}

	primary := endpoint("primary")
	if len(cfg.Provider.FallbackBaseURLs) == 0 {
		return primary
	}
	fallbacks := make([]qianfan.Transport, 0, len(cfg.Provider.FallbackBaseURLs))
	for i, u := range cfg.Provider.FallbackBaseURLs {
		fallbacks = append(fallbacks, endpoint(fmt.Sprintf("fallback-%d", i+1), qianfan.WithBaseURL(u)))
	}
	return qianfan.NewFailoverTransport(primary, fallbacks, log)
}

func (a *app) serveMetrics(reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("metrics endpoint listening", "addr", addr)
	a.closers = append(a.closers, srv.Shutdown)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
