package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pagecache/internal/storage"
)

// Durable backend type names
const (
	TypeFile       = "file"
	TypeRedis      = "redis"
	TypeBolt       = "bbolt"
	TypeSQLite     = storage.TypeSQLite
	TypePostgreSQL = storage.TypePostgreSQL
	TypeMongoDB    = storage.TypeMongoDB
	TypeNone       = "none"
)

// DefaultFilePath is used by the file backend when no path is configured.
const DefaultFilePath = "data/pagecache.json"

// DurableConfig selects and configures the durable tier.
type DurableConfig struct {
	// Type is one of file, redis, bbolt, sqlite, postgresql, mongodb or none (default: file)
	Type    string
	File    string
	Redis   RedisConfig
	Bolt    BoltConfig
	Storage storage.Config
}

// Result holds the opened durable tier and the storage connection it owns, if any.
type Result struct {
	Durable Durable
	Storage storage.Storage
}

// Close releases the durable tier and then its storage connection.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Durable != nil {
		if err := r.Durable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("durable close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// NewDurable opens the configured durable tier. Type "none" yields a Result with a nil Durable.
func NewDurable(ctx context.Context, cfg DurableConfig) (*Result, error) {
	typ := cfg.Type
	if typ == "" {
		typ = TypeFile
	}

	switch typ {
	case TypeNone:
		return &Result{}, nil
	case TypeFile:
		path := cfg.File
		if path == "" {
			path = DefaultFilePath
		}
		slog.Info("using file durable cache", "path", path)
		return &Result{Durable: NewLocalCache(path)}, nil
	case TypeRedis:
		if cfg.Redis.URL == "" {
			return nil, fmt.Errorf("redis URL is required for redis durable cache")
		}
		rc, err := NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Result{Durable: rc}, nil
	case TypeBolt:
		bc, err := OpenBolt(cfg.Bolt)
		if err != nil {
			return nil, err
		}
		slog.Info("using bbolt durable cache", "path", cfg.Bolt.Path)
		return &Result{Durable: bc}, nil
	case TypeSQLite, TypePostgreSQL, TypeMongoDB:
		storageCfg := cfg.Storage
		storageCfg.Type = typ
		store, err := storage.New(ctx, storageCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		d, err := newStorageDurable(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		slog.Info("using database durable cache", "type", typ)
		return &Result{Durable: d, Storage: store}, nil
	default:
		return nil, fmt.Errorf("unknown durable cache type: %s (valid: file, redis, bbolt, sqlite, postgresql, mongodb, none)", typ)
	}
}

// NewDurableWithSharedStorage builds a durable tier on a connection owned by the caller.
func NewDurableWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	d, err := newStorageDurable(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Durable: d}, nil
}

func newStorageDurable(ctx context.Context, store storage.Storage) (Durable, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteCache(store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLCache(ctx, store.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBCache(store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
