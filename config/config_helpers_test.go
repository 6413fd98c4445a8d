package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestExpandString tests the expandString function with various scenarios
func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "string without placeholders",
			input:    "simple-string",
			envVars:  map[string]string{},
			expected: "simple-string",
		},
		{
			name:     "simple variable expansion",
			input:    "${API_KEY}",
			envVars:  map[string]string{"API_KEY": "sk-12345"},
			expected: "sk-12345",
		},
		{
			name:     "variable in middle of string",
			input:    "prefix-${API_KEY}-suffix",
			envVars:  map[string]string{"API_KEY": "sk-12345"},
			expected: "prefix-sk-12345-suffix",
		},
		{
			name:     "multiple variables",
			input:    "${SCHEME}://${HOST}:${PORT}",
			envVars:  map[string]string{"SCHEME": "https", "HOST": "api.example.com", "PORT": "8080"},
			expected: "https://api.example.com:8080",
		},
		{
			name:     "variable with default value - env var exists",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{"API_KEY": "sk-real-key"},
			expected: "sk-real-key",
		},
		{
			name:     "variable with default value - env var missing",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{},
			expected: "default-key",
		},
		{
			name:     "variable with default value - env var empty",
			input:    "${API_KEY:-default-key}",
			envVars:  map[string]string{"API_KEY": ""},
			expected: "default-key",
		},
		{
			name:     "unresolved variable - no default",
			input:    "${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "${MISSING_VAR}",
		},
		{
			name:     "partially resolved string",
			input:    "${RESOLVED}-${UNRESOLVED}",
			envVars:  map[string]string{"RESOLVED": "value1"},
			expected: "value1-${UNRESOLVED}",
		},
		{
			name:     "mixed resolved and unresolved with defaults",
			input:    "${RESOLVED}:${UNRESOLVED:-fallback}:${MISSING}",
			envVars:  map[string]string{"RESOLVED": "value1"},
			expected: "value1:fallback:${MISSING}",
		},
		{
			name:     "default value with special characters",
			input:    "${BASE_URL:-https://api.example.com/v1}",
			envVars:  map[string]string{},
			expected: "https://api.example.com/v1",
		},
		{
			name:     "default value with colon in it",
			input:    "${URL:-http://localhost:8080}",
			envVars:  map[string]string{},
			expected: "http://localhost:8080",
		},
		{
			name:     "complex real-world example",
			input:    "${BASE_URL:-https://jsonplaceholder.typicode.com}/posts?_page=1",
			envVars:  map[string]string{},
			expected: "https://jsonplaceholder.typicode.com/posts?_page=1",
		},
		{
			name:     "environment variable set to empty string (no default)",
			input:    "${EMPTY_VAR}",
			envVars:  map[string]string{"EMPTY_VAR": ""},
			expected: "${EMPTY_VAR}",
		},
		{
			name:     "empty default value - env var missing",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "empty default value - env var set",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{"OPTIONAL_VAR": "actual-value"},
			expected: "actual-value",
		},
		{
			name:     "empty default value - env var empty",
			input:    "${OPTIONAL_VAR:-}",
			envVars:  map[string]string{"OPTIONAL_VAR": ""},
			expected: "",
		},
		{
			name:     "redis url pattern - not set should be empty",
			input:    "${PAGECACHE_REDIS_URL:-}",
			envVars:  map[string]string{},
			expected: "",
		},
		{
			name:     "redis url pattern - set to value",
			input:    "${PAGECACHE_REDIS_URL:-}",
			envVars:  map[string]string{"PAGECACHE_REDIS_URL": "redis://cache:6379/1"},
			expected: "redis://cache:6379/1",
		},
		{
			name:     "multiple placeholders some resolved some not",
			input:    "prefix-${VAR1}-${VAR2}-${VAR3}-suffix",
			envVars:  map[string]string{"VAR1": "a", "VAR3": "c"},
			expected: "prefix-a-${VAR2}-c-suffix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				_ = os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					_ = os.Unsetenv(k)
				}
			}()

			result := expandString(tt.input)
			if result != tt.expected {
				t.Errorf("expandString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestApplyEnvOverrides tests the applyEnvOverrides function
func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "upstream overrides",
			envVars: map[string]string{"PAGECACHE_UPSTREAM_URL": "http://localhost:3000", "PAGECACHE_RESOURCE": "comments"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Upstream.BaseURL != "http://localhost:3000" {
					t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://localhost:3000")
				}
				if cfg.Upstream.Resource != "comments" {
					t.Errorf("Upstream.Resource = %q, want %q", cfg.Upstream.Resource, "comments")
				}
			},
		},
		{
			name:    "storage overrides",
			envVars: map[string]string{"PAGECACHE_CACHE_TYPE": "postgresql", "PAGECACHE_POSTGRES_URL": "postgres://localhost/test", "PAGECACHE_POSTGRES_MAX_CONNS": "20"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Cache.Durable.Type != "postgresql" {
					t.Errorf("Cache.Durable.Type = %q, want %q", cfg.Cache.Durable.Type, "postgresql")
				}
				if cfg.Cache.Durable.PostgreSQL.URL != "postgres://localhost/test" {
					t.Errorf("PostgreSQL.URL = %q, want %q", cfg.Cache.Durable.PostgreSQL.URL, "postgres://localhost/test")
				}
				if cfg.Cache.Durable.PostgreSQL.MaxConns != 20 {
					t.Errorf("PostgreSQL.MaxConns = %d, want %d", cfg.Cache.Durable.PostgreSQL.MaxConns, 20)
				}
			},
		},
		{
			name:    "bool overrides",
			envVars: map[string]string{"PAGECACHE_METRICS_ENABLED": "true", "PAGECACHE_MEMORY_ONLY": "1"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Metrics.Enabled {
					t.Error("Metrics.Enabled should be true")
				}
				if !cfg.Defaults.MemoryOnly {
					t.Error("Defaults.MemoryOnly should be true")
				}
			},
		},
		{
			name:    "duration overrides",
			envVars: map[string]string{"PAGECACHE_TTL": "90s", "PAGECACHE_STALE_THRESHOLD": "5s"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Defaults.TTL != 90*time.Second {
					t.Errorf("Defaults.TTL = %v, want 90s", cfg.Defaults.TTL)
				}
				if cfg.Defaults.StaleThreshold != 5*time.Second {
					t.Errorf("Defaults.StaleThreshold = %v, want 5s", cfg.Defaults.StaleThreshold)
				}
			},
		},
		{
			name:    "known values list",
			envVars: map[string]string{"PAGECACHE_KNOWN_VALUES": "1, 2,,3"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, []string{"1", "2", "3"}, cfg.Filters.KnownValues)
			},
		},
		{
			name:    "no env vars set preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Defaults.PageSize != 10 {
					t.Errorf("Defaults.PageSize = %d, want 10", cfg.Defaults.PageSize)
				}
				if cfg.Cache.Durable.Type != "file" {
					t.Errorf("Cache.Durable.Type = %q, want %q", cfg.Cache.Durable.Type, "file")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverridesRejectsInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"PAGECACHE_PAGE_SIZE":       "ten",
		"PAGECACHE_TTL":             "soon",
		"PAGECACHE_METRICS_ENABLED": "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			require.Error(t, applyEnvOverrides(buildDefaultConfig()))
		})
	}
}
