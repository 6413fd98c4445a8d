package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	sqliteMemory             = ":memory:"
	defaultSQLiteBusyTimeout = 5 * time.Second
)

type sqliteStorage struct {
	db *sql.DB
}

// sqliteDSN renders the modernc.org/sqlite pragmas for a cache database.
// Cache rows can be refetched, so synchronous is relaxed to NORMAL under WAL.
func sqliteDSN(cfg SQLiteConfig) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultSQLiteBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
	}
	return cfg.Path + "?" + strings.Join(pragmas, "&")
}

// NewSQLite opens the SQLite cache database, creating its directory when needed.
func NewSQLite(cfg SQLiteConfig) (Storage, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultSQLitePath
	}
	if cfg.Path != sqliteMemory {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time; a single connection also keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), defaultSQLiteBusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database %s: %w", cfg.Path, err)
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Type() string { return TypeSQLite }
func (s *sqliteStorage) SQLiteDB() *sql.DB { return s.db }
func (s *sqliteStorage) PostgreSQLPool() *pgxpool.Pool { return nil }
func (s *sqliteStorage) MongoDatabase() *mongo.Database { return nil }

func (s *sqliteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
