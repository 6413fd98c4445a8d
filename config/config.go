// Package config loads the pagecache configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream"`
	HTTP     HTTPConfig     `yaml:"http"`
	Cache    CacheConfig    `yaml:"cache"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Filters  FiltersConfig  `yaml:"filters"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// UpstreamConfig describes the remote paginated API
type UpstreamConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Resource       string            `yaml:"resource"`
	RequiredFields []string          `yaml:"required_fields"`
	FilterParams   map[string]string `yaml:"filter_params"`
	Headers        map[string]string `yaml:"headers"`
	Estimator      EstimatorConfig   `yaml:"estimator"`
}

// EstimatorConfig selects how missing total counts are estimated
type EstimatorConfig struct {
	// Type is short_page or fixed_per_filter
	Type       string `yaml:"type"`
	PerValue   int    `yaml:"per_value"`
	Unfiltered int    `yaml:"unfiltered"`
}

// HTTPConfig overrides the upstream HTTP client settings. Zero keeps the client defaults.
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	UserAgent             string        `yaml:"user_agent"`
}

// CacheConfig configures the two-tier cache store
type CacheConfig struct {
	Namespace string        `yaml:"namespace"`
	Shards    int           `yaml:"shards"`
	Durable   DurableConfig `yaml:"durable"`
}

// DurableConfig selects the durable tier backend
type DurableConfig struct {
	// Type is file, redis, bbolt, sqlite, postgresql, mongodb or none
	Type       string           `yaml:"type"`
	File       string           `yaml:"file"`
	Redis      RedisConfig      `yaml:"redis"`
	Bolt       BoltConfig       `yaml:"bbolt"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BoltConfig holds bbolt settings
type BoltConfig struct {
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// DefaultsConfig holds controller defaults
type DefaultsConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	PageSize       int           `yaml:"page_size"`
	MaxRetries     int           `yaml:"max_retries"`
	MemoryOnly     bool          `yaml:"memory_only"`
}

// FiltersConfig describes the filter dimension used for cross-filter invalidation
type FiltersConfig struct {
	Dimension   string   `yaml:"dimension"`
	KnownValues []string `yaml:"known_values"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Endpoint string `yaml:"endpoint"`
}

// AdminConfig controls the cache admin routes. They are served on the
// metrics address.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	// MasterKey, when set, is required as a Bearer token on admin routes
	MasterKey string `yaml:"master_key"`
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// defaultConfigPaths are tried in order when Load is given no path.
var defaultConfigPaths = []string{"config.yaml", "config/config.yaml"}

// Load reads .env (if present), then the YAML file at path, expands ${VAR}
// placeholders, and finally applies PAGECACHE_* environment overrides.
// An empty path tries config.yaml and config/config.yaml; a missing default
// file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	raw, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return raw, nil
	}
	for _, p := range defaultConfigPaths {
		raw, err := os.ReadFile(p)
		if err == nil {
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", p, err)
		}
	}
	return nil, nil
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:  "https://jsonplaceholder.typicode.com",
			Resource: "posts",
			FilterParams: map[string]string{
				"owner": "userId",
			},
			Estimator: EstimatorConfig{Type: "short_page"},
		},
		Cache: CacheConfig{
			Namespace: "pagecache:",
			Shards:    16,
			Durable: DurableConfig{
				Type: "file",
				File: "data/pagecache.json",
				Bolt: BoltConfig{Path: "data/pagecache.bolt"},
				SQLite: SQLiteConfig{
					Path: "data/pagecache.db",
				},
				PostgreSQL: PostgreSQLConfig{MaxConns: 10},
				MongoDB:    MongoDBConfig{Database: "pagecache"},
			},
		},
		Defaults: DefaultsConfig{
			TTL:            5 * time.Minute,
			StaleThreshold: 30 * time.Second,
			PageSize:       10,
			MaxRetries:     3,
		},
		Filters: FiltersConfig{
			Dimension: "owner",
		},
		Metrics: MetricsConfig{
			Address:  ":9090",
			Endpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

// Validate checks values that would otherwise fail deep inside the controllers.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Defaults.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("defaults.page_size must be positive, got %d", c.Defaults.PageSize))
	}
	if c.Defaults.TTL < time.Millisecond {
		errs = append(errs, fmt.Errorf("defaults.ttl must be at least 1ms, got %s", c.Defaults.TTL))
	}
	if c.Defaults.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("defaults.max_retries must be positive, got %d", c.Defaults.MaxRetries))
	}
	if c.HTTP.MaxConnsPerHost < 0 {
		errs = append(errs, fmt.Errorf("http.max_conns_per_host must not be negative, got %d", c.HTTP.MaxConnsPerHost))
	}
	switch c.Upstream.Estimator.Type {
	case "", "short_page", "fixed_per_filter":
	default:
		errs = append(errs, fmt.Errorf("unknown upstream.estimator.type %q", c.Upstream.Estimator.Type))
	}
	return errors.Join(errs...)
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} placeholders.
// ${VAR} with VAR unset or empty is left untouched; ${VAR:-default} falls back to default.
func expandString(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides reads PAGECACHE_* variables over the loaded values.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"PAGECACHE_UPSTREAM_URL":     &cfg.Upstream.BaseURL,
		"PAGECACHE_RESOURCE":         &cfg.Upstream.Resource,
		"PAGECACHE_CACHE_NAMESPACE":  &cfg.Cache.Namespace,
		"PAGECACHE_CACHE_TYPE":       &cfg.Cache.Durable.Type,
		"PAGECACHE_CACHE_FILE":       &cfg.Cache.Durable.File,
		"PAGECACHE_REDIS_URL":        &cfg.Cache.Durable.Redis.URL,
		"PAGECACHE_BOLT_PATH":        &cfg.Cache.Durable.Bolt.Path,
		"PAGECACHE_SQLITE_PATH":      &cfg.Cache.Durable.SQLite.Path,
		"PAGECACHE_POSTGRES_URL":     &cfg.Cache.Durable.PostgreSQL.URL,
		"PAGECACHE_MONGODB_URL":      &cfg.Cache.Durable.MongoDB.URL,
		"PAGECACHE_MONGODB_DATABASE": &cfg.Cache.Durable.MongoDB.Database,
		"PAGECACHE_FILTER_DIMENSION": &cfg.Filters.Dimension,
		"PAGECACHE_METRICS_ADDRESS":  &cfg.Metrics.Address,
		"PAGECACHE_MASTER_KEY":       &cfg.Admin.MasterKey,
		"PAGECACHE_LOG_FORMAT":       &cfg.Logging.Format,
		"PAGECACHE_LOG_LEVEL":        &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PAGECACHE_CACHE_SHARDS":       &cfg.Cache.Shards,
		"PAGECACHE_POSTGRES_MAX_CONNS": &cfg.Cache.Durable.PostgreSQL.MaxConns,
		"PAGECACHE_PAGE_SIZE":          &cfg.Defaults.PageSize,
		"PAGECACHE_MAX_RETRIES":        &cfg.Defaults.MaxRetries,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"PAGECACHE_TTL":             &cfg.Defaults.TTL,
		"PAGECACHE_STALE_THRESHOLD": &cfg.Defaults.StaleThreshold,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"PAGECACHE_METRICS_ENABLED": &cfg.Metrics.Enabled,
		"PAGECACHE_ADMIN_ENABLED":   &cfg.Admin.Enabled,
		"PAGECACHE_MEMORY_ONLY":     &cfg.Defaults.MemoryOnly,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("PAGECACHE_KNOWN_VALUES"); v != "" {
		var values []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		cfg.Filters.KnownValues = values
	}
	return nil
}
