package authclient

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/credstore"
)

// Builder assembles a Client.
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config Config

	backend    credstore.Backend
	bus        *EventBus
	httpClient *http.Client
	logger     *slog.Logger
	locker     RefreshLocker
	storeHook  credstore.ErrorHook

	built bool
}

// New returns a Builder seeded with the default configuration. BaseURL must
// still be provided through WithConfig or WithBaseURL.
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
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithRetry sets Config.Retry.
func (b *Builder) WithRetry(r RetryConfig) *Builder {
	b.config.Retry = r
	return b
}

// WithCredentialBackend sets where credentials persist. Defaults to an
// in-memory backend.
func (b *Builder) WithCredentialBackend(backend credstore.Backend) *Builder {
	b.backend = backend
	return b
}

// WithCredentialErrorHook observes backend failures the store swallows.
func (b *Builder) WithCredentialErrorHook(h credstore.ErrorHook) *Builder {
	b.storeHook = h
	return b
}

// WithEventBus shares an existing bus. Defaults to a private bus.
func (b *Builder) WithEventBus(bus *EventBus) *Builder {
	b.bus = bus
	return b
}

// WithHTTPClient sets the transport. Per-attempt timeouts come from
// Config.Timeout, not http.Client.Timeout.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithLogger sets the structured logger. Defaults to discarding output.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithRefreshLocker coordinates refresh cycles across processes.
func (b *Builder) WithRefreshLocker(l RefreshLocker) *Builder {
	b.locker = l
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Client.
//
// Build may return an error when configuration validation fails or the
// builder was already used.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	bus := b.bus
	if bus == nil {
		bus = NewEventBus(logger)
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	metrics := NewMetrics(cfg.Metrics)

	hook := b.storeHook
	store := credstore.NewStore(b.backend, logger, func(op string, err error) {
		metrics.Inc(MetricCredentialStoreError)
		if hook != nil {
			hook(op, err)
		}
	})

	anonymous := []string{
		strings.TrimRight(cfg.LoginPath, "/"),
		strings.TrimRight(cfg.RegisterPath, "/"),
	}

	c := &Client{
		config:             cfg,
		http:               httpClient,
		store:              store,
		bus:                bus,
		metrics:            metrics,
		logger:             logger,
		authEndpoints:      cfg.authEndpoints(),
		anonymousEndpoints: anonymous,
		sleep:              sleepContext,
		now:                time.Now,
	}
	c.refresher = &refreshCoordinator{
		store:   store,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		locker:  b.locker,
		attempt: c.attempt,
		path:    cfg.RefreshPath,
		timeout: cfg.RefreshTimeout,
		now:     func() time.Time { return c.now() },
	}

	b.built = true
	return c, nil
}
