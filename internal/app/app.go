// Package app wires configuration, the cache store, the upstream client and
// the admin server together and controls their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pagecache/config"
	"pagecache/internal/cache"
	"pagecache/internal/cachekey"
	"pagecache/internal/core"
	"pagecache/internal/fetch"
	"pagecache/internal/httpclient"
	"pagecache/internal/server"
	"pagecache/internal/storage"
	"pagecache/internal/upstream"
)

// App represents the main application with all its dependencies.
type App struct {
	config  *config.Config
	durable *cache.Result
	store   *cache.Store
	client  *upstream.Client
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration
	AppConfig *config.Config
	// HTTPClient overrides the client built from AppConfig.HTTP
	HTTPClient *http.Client
	// Clock overrides the store clock, mainly for tests
	Clock func() time.Time
}

// New creates a new App with all dependencies initialized.
// A durable tier that cannot be opened is logged and replaced by memory-only operation.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg}

	durable, err := cache.NewDurable(ctx, durableConfig(appCfg.Cache.Durable))
	if err != nil {
		slog.Warn("durable cache unavailable, continuing memory-only",
			"type", appCfg.Cache.Durable.Type,
			"error", core.NewStorageError("open", err),
		)
		durable = &cache.Result{}
	}
	app.durable = durable

	opts := []cache.Option{
		cache.WithNamespace(appCfg.Cache.Namespace),
		cache.WithShards(appCfg.Cache.Shards),
	}
	if cfg.Clock != nil {
		opts = append(opts, cache.WithClock(cfg.Clock))
	}
	app.store = cache.NewStore(durable.Durable, opts...)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := httpclient.DefaultConfig().WithOverrides(
			appCfg.HTTP.Timeout,
			appCfg.HTTP.ResponseHeaderTimeout,
			appCfg.HTTP.MaxConnsPerHost,
			appCfg.HTTP.UserAgent,
		)
		httpClient = httpclient.NewHTTPClient(&clientCfg)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:        appCfg.Upstream.BaseURL,
		RequiredFields: appCfg.Upstream.RequiredFields,
		FilterParams:   appCfg.Upstream.FilterParams,
		Headers:        appCfg.Upstream.Headers,
		Estimator:      estimator(appCfg),
	}, httpClient)
	if err != nil {
		closeErr := app.durable.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to create upstream client: %w (also: durable close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	app.client = client

	if appCfg.Metrics.Enabled || appCfg.Admin.Enabled {
		app.server = server.New(app.store, &server.Config{
			MasterKey:       appCfg.Admin.MasterKey,
			MetricsEnabled:  appCfg.Metrics.Enabled,
			MetricsEndpoint: appCfg.Metrics.Endpoint,
			AdminEnabled:    appCfg.Admin.Enabled,
		})
	}

	app.logStartupInfo()
	return app, nil
}

// Store returns the shared cache store.
func (a *App) Store() *cache.Store {
	return a.store
}

// Client returns the upstream API client.
func (a *App) Client() *upstream.Client {
	return a.client
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Handler returns the admin server, or nil when neither metrics nor admin routes are enabled.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server
}

// NewPager creates a Pager over the configured resource using the configured defaults.
func NewPager[T any](a *App, filters core.Filters) *fetch.Pager[T] {
	cfg := a.config
	return fetch.NewPager(a.store, fetch.PagerConfig{
		Resource:    cfg.Upstream.Resource,
		PageSize:    cfg.Defaults.PageSize,
		Filters:     filters,
		TTL:         cfg.Defaults.TTL,
		MemoryOnly:  cfg.Defaults.MemoryOnly,
		MaxRetries:  cfg.Defaults.MaxRetries,
		Dimension:   cfg.Filters.Dimension,
		KnownValues: cfg.Filters.KnownValues,
	}, upstream.PageFetcher[T](a.client, cfg.Upstream.Resource))
}

// NewResource creates a Resource holding the whole filtered collection of resource.
func NewResource[T any](a *App, resource string, filters core.Filters) *fetch.Resource[[]T] {
	cfg := a.config
	return fetch.NewResource(a.store, fetch.ResourceConfig{
		CacheKey:       resource + "_all_" + cachekey.Signature(filters),
		TTL:            cfg.Defaults.TTL,
		StaleThreshold: cfg.Defaults.StaleThreshold,
		MemoryOnly:     cfg.Defaults.MemoryOnly,
	}, upstream.AllFetcher[T](a.client, resource, filters))
}

// Start serves the metrics and admin routes on the configured address.
// This is a blocking call that returns when the server stops.
func (a *App) Start() error {
	if a.server == nil {
		return fmt.Errorf("server is not enabled")
	}
	addr := a.config.Metrics.Address
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the server and then closes the durable tier.
// It is idempotent and returns the joined errors of every step.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.durable != nil {
		if err := a.durable.Close(); err != nil {
			slog.Error("durable cache close error", "error", err)
			errs = append(errs, fmt.Errorf("durable close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("upstream configured",
		"base_url", cfg.Upstream.BaseURL,
		"resource", cfg.Upstream.Resource,
		"estimator", cfg.Upstream.Estimator.Type,
	)
	slog.Info("cache configured",
		"namespace", a.store.Namespace(),
		"durable", a.store.HasDurable(),
		"ttl", cfg.Defaults.TTL,
		"page_size", cfg.Defaults.PageSize,
	)

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "address", cfg.Metrics.Address, "endpoint", cfg.Metrics.Endpoint)
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.MasterKey == "" {
			slog.Warn("admin routes enabled without PAGECACHE_MASTER_KEY",
				"security_risk", "anyone reaching the address can clear the cache")
		} else {
			slog.Info("admin routes enabled", "auth", "master_key")
		}
	}
}

// durableConfig maps the configuration file layout onto the cache factory.
func durableConfig(c config.DurableConfig) cache.DurableConfig {
	return cache.DurableConfig{
		Type:  c.Type,
		File:  c.File,
		Redis: cache.RedisConfig{URL: c.Redis.URL},
		Bolt:  cache.BoltConfig{Path: c.Bolt.Path, Bucket: c.Bolt.Bucket},
		Storage: storage.Config{
			SQLite:     storage.SQLiteConfig{Path: c.SQLite.Path},
			PostgreSQL: storage.PostgreSQLConfig{URL: c.PostgreSQL.URL, MaxConns: c.PostgreSQL.MaxConns},
			MongoDB:    storage.MongoDBConfig{URL: c.MongoDB.URL, Database: c.MongoDB.Database},
		},
	}
}

func estimator(cfg *config.Config) upstream.TotalEstimator {
	switch cfg.Upstream.Estimator.Type {
	case "fixed_per_filter":
		return upstream.FixedPerFilterEstimator{
			Dimension:  cfg.Filters.Dimension,
			PerValue:   cfg.Upstream.Estimator.PerValue,
			Unfiltered: cfg.Upstream.Estimator.Unfiltered,
		}
	default:
		return upstream.ShortPageEstimator{}
	}
}
