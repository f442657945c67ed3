package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns = 2

	// KeyHexLength is the length of a hex encoded 256-bit SQLCipher key.
	KeyHexLength = 64
)

// DB wraps the notes database connection pool and its queries.
// Writes that check-then-insert go through WithWriteTx, which serializes them.
type DB struct {
	db      *sql.DB
	queries *Queries
	keyHex  string

	writeMu sync.Mutex
}

// NewFromSQL wraps an existing sql.DB. keyHex is the SQLCipher key used for
// snapshots; empty means the database is not encrypted.
func NewFromSQL(sqlDB *sql.DB, keyHex string) *DB {
	return &DB{
		db:      sqlDB,
		queries: New(sqlDB),
		keyHex:  keyHex,
	}
}

// Open opens (creating if needed) the encrypted notes database at path.
// keyHex is the 64 character hex SQLCipher key.
func Open(path, keyHex string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if len(keyHex) != KeyHexLength {
		return nil, fmt.Errorf("database key must be %d hex characters, got %d", KeyHexLength, len(keyHex))
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096&...
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, keyHex)
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// A wrong key only surfaces on the first real read.
	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify database connection for %s: %w", path, err)
	}

	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema for %s: %w", path, err)
	}

	return NewFromSQL(sqlDB, keyHex), nil
}

// DB returns the underlying sql.DB for direct access when needed
func (d *DB) DB() *sql.DB {
	return d.db
}

// Queries returns the typed queries bound to the connection pool.
func (d *DB) Queries() *Queries {
	return d.queries
}

// WithWriteTx runs fn inside one write transaction. Concurrent callers are
// serialized, so reads inside fn observe every committed write. The
// transaction is rolled back when fn returns an error.
func (d *DB) WithWriteTx(ctx context.Context, fn func(q *Queries) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(d.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot writes a consistent copy of the database to dest using
// sqlcipher_export. The copy is encrypted with the same key. dest must not exist.
func (d *DB) Snapshot(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot destination %s already exists", dest)
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	keyClause := "''"
	if d.keyHex != "" {
		keyClause = fmt.Sprintf(`'x''%s'''`, d.keyHex)
	}
	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS snapshot KEY "+keyClause, dest); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	defer conn.ExecContext(context.Background(), "DETACH DATABASE snapshot")

	if _, err := conn.ExecContext(ctx, "SELECT sqlcipher_export('snapshot')"); err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	// WAL + NORMAL gives good throughput while preserving safety.
	// _txlock=immediate takes the write lock at BEGIN so check-then-write
	// transactions cannot interleave across processes either.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
