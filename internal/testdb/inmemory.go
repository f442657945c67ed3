// Package testdb opens throwaway notes databases for tests.
package testdb

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kuitang/yanote/internal/db"
)

var dbCounter atomic.Int64

// NewInMemory creates an isolated in-memory notes database with the schema
// applied. All pool connections share one cache, named uniquely per call.
func NewInMemory(name string) (*db.DB, error) {
	if name == "" {
		name = "test"
	}
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", name, dbCounter.Add(1))

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// The shared-cache database lives as long as one connection stays open.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}

	return db.NewFromSQL(sqlDB, ""), nil
}

// New returns an in-memory database closed at test cleanup.
func New(t testing.TB) *db.DB {
	t.Helper()
	d, err := NewInMemory(t.Name())
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// NewFile returns an encrypted file-backed database under t.TempDir with a
// random key. Use it when a test needs real concurrent connections.
func NewFile(t testing.TB) (*db.DB, string) {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("testdb: generate key: %v", err)
	}
	keyHex := hex.EncodeToString(key)
	path := filepath.Join(t.TempDir(), "yanote.db")
	d, err := db.Open(path, keyHex)
	if err != nil {
		t.Fatalf("testdb: open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, keyHex
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
