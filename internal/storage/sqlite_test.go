package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	if store.Type() != TypeSQLite {
		t.Fatalf("Type() = %q, want %q", store.Type(), TypeSQLite)
	}
	if store.PostgreSQLPool() != nil || store.MongoDatabase() != nil {
		t.Fatal("sqlite storage should not expose other backends")
	}

	db := store.SQLiteDB()
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_pages (id TEXT PRIMARY KEY, data TEXT)`)
	if err != nil {
		t.Fatalf("failed to create test_pages table: %v", err)
	}

	const goroutines = 8
	const insertsPerGoroutine = 40

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*insertsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < insertsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx, `INSERT INTO test_pages (id, data) VALUES (?, ?)`,
					fmt.Sprintf("%d-%d", id, j), "payload")
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d insert %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_pages").Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != goroutines*insertsPerGoroutine {
		t.Errorf("got %d rows, want %d", count, goroutines*insertsPerGoroutine)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New(context.Background(), Config{Type: "cassandra"}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestNewPostgreSQLRequiresURL(t *testing.T) {
	if _, err := NewPostgreSQL(context.Background(), PostgreSQLConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNewMongoDBRequiresURL(t *testing.T) {
	if _, err := NewMongoDB(context.Background(), MongoDBConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestSQLiteAppliesPragmas(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "cache.db"), BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	db := store.SQLiteDB()
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 2000 {
		t.Errorf("busy_timeout = %d, want 2000", busy)
	}
}

func TestSQLiteInMemory(t *testing.T) {
	store, err := NewSQLite(SQLiteConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory SQLite: %v", err)
	}
	defer store.Close()

	db := store.SQLiteDB()
	if _, err := db.Exec(`CREATE TABLE t (k TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO t VALUES ('a')`); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v; the single connection must keep the database", n, err)
	}
}

func TestPostgreSQLPoolConfig(t *testing.T) {
	cfg, err := poolConfig(PostgreSQLConfig{URL: "postgres://cache@localhost:5432/pages"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != 10 {
		t.Errorf("MaxConns = %d, want 10", cfg.MaxConns)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != DefaultApplicationName {
		t.Errorf("application_name = %q, want %q", got, DefaultApplicationName)
	}
	if cfg.MaxConnIdleTime != 5*time.Minute {
		t.Errorf("MaxConnIdleTime = %v", cfg.MaxConnIdleTime)
	}

	cfg, err = poolConfig(PostgreSQLConfig{
		URL:             "postgres://cache@localhost:5432/pages?pool_max_conns=3&application_name=reader",
		ApplicationName: "ignored",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != 3 {
		t.Errorf("MaxConns = %d, want the URL's 3", cfg.MaxConns)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "reader" {
		t.Errorf("application_name = %q, want the URL's reader", got)
	}

	cfg, err = poolConfig(PostgreSQLConfig{URL: "postgres://cache@localhost/pages", MaxConns: 7})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConns != 7 {
		t.Errorf("MaxConns = %d, want 7", cfg.MaxConns)
	}

	if _, err := poolConfig(PostgreSQLConfig{URL: "postgres://cache@localhost:notaport/pages"}); err == nil {
		t.Error("expected parse error")
	}
}
