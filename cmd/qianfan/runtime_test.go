package main

import (
	"io"
	"log/slog"
	"testing"

	"qianfan-chat/internal/adapter/qianfan"
	"qianfan-chat/internal/infra/config"
)

func TestNewTransport(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.CircuitBreaker.Enabled = false
	cfg.Provider.RateLimit = config.RateLimitConfig{RequestsPerSecond: 5, Burst: 2}
	client, ok := newTransport(cfg, log).(*qianfan.Client)
	if !ok {
		t.Fatalf("without breaker or fallbacks, want *qianfan.Client")
	}
	if client.BaseURL() != config.DefaultBaseURL {
		t.Errorf("BaseURL = %q", client.BaseURL())
	}

	cfg.CircuitBreaker.Enabled = true
	if _, ok := newTransport(cfg, log).(*qianfan.CircuitBreakerTransport); !ok {
		t.Errorf("with breaker enabled, want *qianfan.CircuitBreakerTransport")
	}

	cfg.Provider.FallbackBaseURLs = []string{"https://backup.example.com/v2"}
	if _, ok := newTransport(cfg, log).(*qianfan.FailoverTransport); !ok {
		t.Errorf("with fallbacks, want *qianfan.FailoverTransport")
	}
}
