package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagecache/config"
	"pagecache/internal/core"
	"pagecache/internal/fetch"
	"pagecache/internal/mockapi"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:      baseURL,
			Resource:     "posts",
			FilterParams: map[string]string{"owner": "userId"},
		},
		Cache: config.CacheConfig{
			Namespace: "test:",
			Durable: config.DurableConfig{
				Type: "bbolt",
				Bolt: config.BoltConfig{Path: filepath.Join(t.TempDir(), "cache.bolt")},
			},
		},
		Defaults: config.DefaultsConfig{
			TTL:            time.Minute,
			StaleThreshold: 30 * time.Second,
			PageSize:       10,
			MaxRetries:     3,
		},
		Filters: config.FiltersConfig{Dimension: "owner"},
		Metrics: config.MetricsConfig{Address: "127.0.0.1:0", Endpoint: "/metrics"},
	}
}

func newMockUpstream(t *testing.T) (*mockapi.Server, string) {
	t.Helper()
	api := mockapi.New(mockapi.Config{Posts: 25, Users: 3})
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewRejectsBadUpstream(t *testing.T) {
	cfg := testConfig(t, "ftp://example.com")
	_, err := New(context.Background(), Config{AppConfig: cfg})
	assert.Error(t, err)
}

func TestPagerPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	api, url := newMockUpstream(t)
	cfg := testConfig(t, url)

	a, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	assert.True(t, a.Store().HasDurable())

	p := NewPager[mockapi.Post](a, nil)
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.LoadMore(ctx))
	st := p.State()
	assert.Len(t, st.Items, 20)
	assert.Equal(t, fetch.StatusReady, st.Status)
	p.Close()
	require.NoError(t, a.Shutdown(ctx))
	requests := api.Requests()

	restarted, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	defer restarted.Shutdown(ctx)

	seeded := NewPager[mockapi.Post](restarted, nil)
	defer seeded.Close()
	st = seeded.State()
	assert.Len(t, st.Items, 20, "pages are seeded from the durable tier")
	assert.Equal(t, 2, st.CurrentPage)
	require.NoError(t, seeded.Start(ctx))
	assert.Equal(t, requests, api.Requests(), "seeded pager must not refetch")
}

func TestDurableFailureDegradesToMemoryOnly(t *testing.T) {
	ctx := context.Background()
	_, url := newMockUpstream(t)
	cfg := testConfig(t, url)

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Cache.Durable.Bolt.Path = filepath.Join(blocker, "cache.bolt")

	a, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	defer a.Shutdown(ctx)
	assert.False(t, a.Store().HasDurable())

	p := NewPager[mockapi.Post](a, core.Filters{"owner": "2"})
	defer p.Close()
	require.NoError(t, p.Start(ctx))
	st := p.State()
	assert.Len(t, st.Items, 9)
	for _, post := range st.Items {
		assert.Equal(t, 2, post.UserID)
	}
}

func TestResourceLoadsWholeCollection(t *testing.T) {
	ctx := context.Background()
	_, url := newMockUpstream(t)
	a, err := New(ctx, Config{AppConfig: testConfig(t, url)})
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	users := NewResource[mockapi.User](a, "users", nil)
	defer users.Close()
	st := users.Load(ctx)
	require.NoError(t, st.Err)
	assert.Len(t, st.Payload, 3)
}

func TestFixedPerFilterEstimator(t *testing.T) {
	ctx := context.Background()
	api := mockapi.New(mockapi.Config{Posts: 30, Users: 3, OmitTotal: true})
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Upstream.Estimator = config.EstimatorConfig{Type: "fixed_per_filter", PerValue: 10}
	a, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	p := NewPager[mockapi.Post](a, core.Filters{"owner": "1"})
	defer p.Close()
	require.NoError(t, p.Start(ctx))
	st := p.State()
	assert.Len(t, st.Items, 10)
	assert.False(t, st.HasMore, "ten items per owner fit on one page")
}

func TestAdminServer(t *testing.T) {
	ctx := context.Background()
	_, url := newMockUpstream(t)

	cfg := testConfig(t, url)
	disabled, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	assert.Nil(t, disabled.Handler())
	assert.Error(t, disabled.Start())
	require.NoError(t, disabled.Shutdown(ctx))

	cfg = testConfig(t, url)
	cfg.Metrics.Enabled = true
	cfg.Admin.Enabled = true
	a, err := New(ctx, Config{AppConfig: cfg})
	require.NoError(t, err)
	defer a.Shutdown(ctx)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"namespace":"test:"`)
}

func TestShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, url := newMockUpstream(t)
	a, err := New(ctx, Config{AppConfig: testConfig(t, url)})
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
}
