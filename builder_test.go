package authclient

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/MrEthical07/authclient/internal/fakeapi"
)

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithBaseURL("https://api.example.org")
	if _, err := b.Build(); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected missing BaseURL to fail")
	}
}

func TestBuilderDefaults(t *testing.T) {
	c, err := New().WithBaseURL("https://api.example.org").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	if c.store == nil || c.logger == nil || c.exec.client == nil {
		t.Fatal("expected defaults for store, logger and http client")
	}
	if c.events != nil {
		t.Fatal("events are disabled by default")
	}
	if c.Authenticated(context.Background()) {
		t.Fatal("new client must start as guest")
	}
}

func TestBuilderLoggerReceivesRefreshLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	api, err := fakeapi.New(fakeapi.DefaultConfig())
	if err != nil {
		t.Fatalf("fake api: %v", err)
	}
	if _, err := api.AddUser("amina", "correct-horse"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	access, refresh, err := api.IssueExpiredSession("amina")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	api.RevokeRefresh(refresh)

	c, err := New().
		WithConfig(testConfig()).
		WithHTTPClient(&http.Client{Transport: &handlerTransport{h: api}}).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	_ = c.store.Save(context.Background(), sessionWith(access, refresh))

	_, _ = c.Get(context.Background(), "/orders/")
	if !strings.Contains(buf.String(), "refresh failed, continuing as guest") {
		t.Fatalf("expected guest fallback log, got %s", buf.String())
	}
}

func TestBuilderMetricsToggles(t *testing.T) {
	c, err := New().
		WithBaseURL("https://api.example.org").
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if !c.metrics.Enabled() || !c.metrics.LatencyEnabled() {
		t.Fatal("expected metrics and histograms enabled")
	}
}
