//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagecache/config"
	"pagecache/internal/app"
	"pagecache/internal/cache"
	"pagecache/internal/core"
	"pagecache/internal/mockapi"
	"pagecache/internal/storage"
)

// uniquePrefix keeps tests sharing one database apart.
func uniquePrefix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ":"
}

// exerciseDurable runs the contract every durable tier must satisfy.
func exerciseDurable(t *testing.T, d cache.Durable) {
	t.Helper()
	ctx := context.Background()
	ns, other := uniquePrefix(), uniquePrefix()

	_, err := d.Get(ctx, ns+"missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, d.Set(ctx, ns+"a", []byte("alpha"), time.Minute))
	require.NoError(t, d.Set(ctx, ns+"b", []byte("beta"), time.Minute))
	require.NoError(t, d.Set(ctx, other+"c", []byte("gamma"), time.Minute))

	got, err := d.Get(ctx, ns+"a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)

	require.NoError(t, d.Set(ctx, ns+"a", []byte("alpha2"), time.Minute))
	got, err = d.Get(ctx, ns+"a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha2"), got)

	require.NoError(t, d.Delete(ctx, ns+"b"))
	_, err = d.Get(ctx, ns+"b")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	require.NoError(t, d.Delete(ctx, ns+"b"), "deleting a missing key is not an error")

	require.NoError(t, d.DeletePrefix(ctx, ns))
	_, err = d.Get(ctx, ns+"a")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	got, err = d.Get(ctx, other+"c")
	require.NoError(t, err)
	assert.Equal(t, []byte("gamma"), got)

	require.NoError(t, d.Set(ctx, ns+"short", []byte("v"), time.Second))
	time.Sleep(1500 * time.Millisecond)
	_, err = d.Get(ctx, ns+"short")
	assert.ErrorIs(t, err, cache.ErrNotFound, "expired entries must miss")
}

func openDurable(t *testing.T, cfg cache.DurableConfig) *cache.Result {
	t.Helper()
	res, err := cache.NewDurable(testCtx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })
	return res
}

func durableConfigs() map[string]cache.DurableConfig {
	return map[string]cache.DurableConfig{
		"redis": {
			Type:  cache.TypeRedis,
			Redis: cache.RedisConfig{URL: redisURL},
		},
		"postgresql": {
			Type:    cache.TypePostgreSQL,
			Storage: storage.Config{PostgreSQL: storage.PostgreSQLConfig{URL: pgURL, MaxConns: 4}},
		},
		"mongodb": {
			Type:    cache.TypeMongoDB,
			Storage: storage.Config{MongoDB: storage.MongoDBConfig{URL: mongoURL, Database: "pagecache_test"}},
		},
	}
}

func TestDurableContract(t *testing.T) {
	for name, cfg := range durableConfigs() {
		t.Run(name, func(t *testing.T) {
			exerciseDurable(t, openDurable(t, cfg).Durable)
		})
	}
}

func TestRedisPrefixWithGlobCharacters(t *testing.T) {
	ctx := context.Background()
	d := openDurable(t, durableConfigs()["redis"]).Durable
	base := uniquePrefix()

	require.NoError(t, d.Set(ctx, base+"[x]*:1", []byte("a"), time.Minute))
	require.NoError(t, d.Set(ctx, base+"y:1", []byte("b"), time.Minute))
	require.NoError(t, d.DeletePrefix(ctx, base+"[x]*:"))

	_, err := d.Get(ctx, base+"[x]*:1")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = d.Get(ctx, base+"y:1")
	assert.NoError(t, err, "glob characters in the prefix must match literally")
}

func TestSharedStorage(t *testing.T) {
	ctx := context.Background()
	shared, err := storage.New(ctx, storage.Config{
		Type:       storage.TypePostgreSQL,
		PostgreSQL: storage.PostgreSQLConfig{URL: pgURL},
	})
	require.NoError(t, err)
	defer shared.Close()

	res, err := cache.NewDurableWithSharedStorage(ctx, shared)
	require.NoError(t, err)
	assert.Nil(t, res.Storage, "a shared connection is not owned by the result")
	exerciseDurable(t, res.Durable)
	require.NoError(t, res.Close())
	assert.NoError(t, shared.PostgreSQLPool().Ping(ctx), "closing the result must leave the shared pool open")
}

func TestStoreOverDurableTiers(t *testing.T) {
	for name, cfg := range durableConfigs() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ns := uniquePrefix()
			d := openDurable(t, cfg).Durable

			writer := cache.NewStore(d, cache.WithNamespace(ns))
			entry, err := cache.NewSingleEntry([]string{"a", "b"}, writer.Now(), time.Minute)
			require.NoError(t, err)
			writer.Set(ctx, "list", entry)

			reader := cache.NewStore(d, cache.WithNamespace(ns))
			got, ok := reader.Get(ctx, "list")
			require.True(t, ok, "a second store must read through the durable tier")
			decoded, err := cache.DecodeSingle[[]string](got)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, decoded)

			reader.Clear(ctx)
			_, ok = cache.NewStore(d, cache.WithNamespace(ns)).Get(ctx, "list")
			assert.False(t, ok)
		})
	}
}

func TestPagerOverPostgreSQL(t *testing.T) {
	ctx := context.Background()
	api := mockapi.New(mockapi.Config{Posts: 25, Users: 3})
	upstream := httptest.NewServer(api)
	defer upstream.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:      upstream.URL,
			Resource:     "posts",
			FilterParams: map[string]string{"owner": "userId"},
		},
		Cache: config.CacheConfig{
			Namespace: uniquePrefix(),
			Durable: config.DurableConfig{
				Type:       "postgresql",
				PostgreSQL: config.PostgreSQLConfig{URL: pgURL},
			},
		},
		Defaults: config.DefaultsConfig{TTL: time.Minute, PageSize: 10, MaxRetries: 3},
		Filters:  config.FiltersConfig{Dimension: "owner", KnownValues: []string{"1", "2", "3"}},
	}

	first, err := app.New(ctx, app.Config{AppConfig: cfg})
	require.NoError(t, err)
	p := app.NewPager[mockapi.Post](first, core.Filters{"owner": "1"})
	require.NoError(t, p.Start(ctx))
	assert.Len(t, p.State().Items, 9)
	p.Close()
	require.NoError(t, first.Shutdown(ctx))

	served := api.Requests()
	second, err := app.New(ctx, app.Config{AppConfig: cfg})
	require.NoError(t, err)
	defer second.Shutdown(ctx)

	seeded := app.NewPager[mockapi.Post](second, core.Filters{"owner": "1"})
	defer seeded.Close()
	assert.Len(t, seeded.State().Items, 9)
	require.NoError(t, seeded.Start(ctx))
	assert.Equal(t, served, api.Requests(), "pages come from PostgreSQL")
}
