package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// DefaultApplicationName tags cache connections in pg_stat_activity.
const DefaultApplicationName = "pagecache"

const defaultPostgreSQLMaxConns = 10

type postgresStorage struct {
	pool *pgxpool.Pool
}

// poolConfig parses cfg.URL and applies pool settings for short cache queries.
// Values set in the URL itself (pool_max_conns, application_name) win over defaults.
func poolConfig(cfg PostgreSQLConfig) (*pgxpool.Config, error) {
	if cfg.URL == "" {
		return nil, errors.New("PostgreSQL URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}

	switch {
	case cfg.MaxConns > 0:
		poolCfg.MaxConns = int32(cfg.MaxConns)
	case !strings.Contains(cfg.URL, "pool_max_conns"):
		poolCfg.MaxConns = defaultPostgreSQLMaxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	name := cfg.ApplicationName
	if name == "" {
		name = DefaultApplicationName
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	return poolCfg, nil
}

// NewPostgreSQL creates a PostgreSQL connection pool and verifies it.
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (Storage, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return &postgresStorage{pool: pool}, nil
}

func (s *postgresStorage) Type() string { return TypePostgreSQL }
func (s *postgresStorage) SQLiteDB() *sql.DB { return nil }
func (s *postgresStorage) PostgreSQLPool() *pgxpool.Pool { return s.pool }
func (s *postgresStorage) MongoDatabase() *mongo.Database { return nil }

func (s *postgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
