package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/pixelmuse/backend/internal/types"
)

// KVTier reads sessions from the legacy key-value database: a SQLite table
// mapping "session:<id>" keys to JSON blobs. Sessions written before the
// per-session file tier existed live here; new writes never land on this
// tier.
type KVTier struct {
	db *sql.DB
}

// NewKVTier opens the legacy key-value database. The schema is created if
// absent so that a fresh install probing this tier sees clean misses
// instead of query errors.
func NewKVTier(ctx context.Context, dbPath string) (*KVTier, error) {
	// Single writer, WAL for concurrent readers
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	schema := `CREATE TABLE IF NOT EXISTS session_kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize kv schema: %w", err)
	}

	return &KVTier{db: db}, nil
}

// Name identifies the tier in logs and metrics.
func (t *KVTier) Name() string { return "kv" }

// Read fetches and parses the legacy key-value record.
func (t *KVTier) Read(ctx context.Context, id string) (*types.Session, error) {
	var value []byte
	row := t.db.QueryRowContext(ctx, `SELECT value FROM session_kv WHERE key = ?`, t.key(id))
	if err := row.Scan(&value); err != nil {
		return nil, err
	}
	var session types.Session
	if err := json.Unmarshal(value, &session); err != nil {
		return nil, fmt.Errorf("malformed kv record: %w", err)
	}
	return &session, nil
}

// Write stores a session in the legacy format. The backend never calls this
// in normal operation; it exists for data migration tooling and tests.
func (t *KVTier) Write(ctx context.Context, id string, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO session_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		t.key(id), data,
	)
	return err
}

// Close closes the underlying database.
func (t *KVTier) Close() error {
	return t.db.Close()
}

func (t *KVTier) key(id string) string {
	return "session:" + id
}
