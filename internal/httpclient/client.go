// Package httpclient builds the pooled HTTP client used to reach the upstream API.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// DefaultUserAgent identifies page requests to the upstream API.
const DefaultUserAgent = "pagecache/1"

// ClientConfig tunes the client for many small JSON page requests against one host.
type ClientConfig struct {
	// Timeout bounds a whole page request, body included
	Timeout time.Duration
	// ResponseHeaderTimeout bounds the wait for the upstream to start answering
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration

	// MaxConnsPerHost caps concurrent connections to the upstream so that many
	// controllers loading at once queue instead of flooding it. Zero means no cap.
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// UserAgent is sent on requests that do not set their own
	UserAgent string
}

// getEnvDuration reads a duration from an environment variable, returning the default if not set or invalid.
// Accepts either plain integers (interpreted as seconds) or Go duration strings (e.g., "10s", "1m30s").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

// DefaultConfig returns the page request defaults.
// Timeouts can be overridden via environment variables (seconds, or Go duration format):
//   - PAGECACHE_HTTP_TIMEOUT: overall request timeout (default: 30)
//   - PAGECACHE_HTTP_RESPONSE_HEADER_TIMEOUT: time to wait for response headers (default: 15)
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:               getEnvDuration("PAGECACHE_HTTP_TIMEOUT", 30*time.Second),
		ResponseHeaderTimeout: getEnvDuration("PAGECACHE_HTTP_RESPONSE_HEADER_TIMEOUT", 15*time.Second),
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxConnsPerHost:       16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		UserAgent:             DefaultUserAgent,
	}
}

// WithOverrides returns c with every non-zero override applied.
func (c ClientConfig) WithOverrides(timeout, responseHeaderTimeout time.Duration, maxConnsPerHost int, userAgent string) ClientConfig {
	if timeout > 0 {
		c.Timeout = timeout
	}
	if responseHeaderTimeout > 0 {
		c.ResponseHeaderTimeout = responseHeaderTimeout
	}
	if maxConnsPerHost > 0 {
		c.MaxConnsPerHost = maxConnsPerHost
		if c.MaxIdleConnsPerHost > maxConnsPerHost {
			c.MaxIdleConnsPerHost = maxConnsPerHost
		}
	}
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	return c
}

// NewHTTPClient creates a client for config, or DefaultConfig() when nil.
// Transparent compression is disabled; the upstream client negotiates
// gzip and brotli and decodes bodies itself.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		MaxIdleConns:          config.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}

	var rt http.RoundTripper = transport
	if config.UserAgent != "" {
		rt = &userAgentTransport{next: transport, userAgent: config.UserAgent}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
	}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}

// Transport returns the *http.Transport underneath client, or nil.
func Transport(client *http.Client) *http.Transport {
	switch rt := client.Transport.(type) {
	case *http.Transport:
		return rt
	case *userAgentTransport:
		tr, _ := rt.next.(*http.Transport)
		return tr
	default:
		return nil
	}
}
