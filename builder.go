package authclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authclient/internal/events"
	"github.com/MrEthical07/authclient/session"
)

// Builder assembles a Client. A Builder is single-use.
type Builder struct {
	config     Config
	store      session.Store
	httpClient *http.Client
	eventSink  EventSink
	logger     *slog.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.BaseURL.
func (b *Builder) WithBaseURL(base string) *Builder {
	b.config.BaseURL = base
	return b
}

// WithStore sets the session store. The default is a MemoryStore.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithHTTPClient sets the HTTP client used for every exchange.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithEventSink sets the sink for client events. Events must also be enabled
// in Config.Events.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles Config.Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := b.store
	if store == nil {
		store = session.NewMemoryStore()
	}
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	metrics := NewMetrics(cfg.Metrics)
	dispatcher := events.NewDispatcher(events.Config{
		Enabled:      cfg.Events.Enabled,
		BufferSize:   cfg.Events.BufferSize,
		DropIfFull:   cfg.Events.DropIfFull,
		FlushTimeout: cfg.Events.FlushTimeout,
	}, b.eventSink)
	logouts := &notifier{}
	exec := newExecutor(cfg, httpClient, store, metrics, logger)

	client := &Client{
		config:  cfg,
		store:   store,
		exec:    exec,
		metrics: metrics,
		events:  dispatcher,
		logouts: logouts,
		logger:  logger,
		now:     time.Now,
	}
	shutdown, stop := context.WithCancel(context.Background())
	client.ref = &refresher{
		cfg:      cfg.Refresh,
		path:     cfg.Auth.RefreshPath,
		store:    store,
		exec:     exec,
		metrics:  metrics,
		events:   dispatcher,
		logouts:  logouts,
		logger:   logger,
		shutdown: shutdown,
		stop:     stop,
	}

	b.built = true
	return client, nil
}
