// Package docstore provides the document database and auth backend behind
// the task board.
//
// The store keeps JSON documents grouped in collections inside an
// embedded SQLite database (WAL mode), and offers the surface a hosted
// document backend would:
//
//   - Create / Set / Update / Delete / Get on single documents
//   - equality and range filters over top-level fields
//   - push subscriptions that deliver the complete result set of a
//     query every time a document in its collection changes
//   - an index registry: ordered queries that also filter need an index,
//     otherwise they fail with ErrIndexRequired
//   - per-collection access rules that fail unscoped queries with
//     ErrPermissionDenied
//   - email/password accounts hashed with bcrypt
//
// Workflow:
//  1. Open the store and call InitSchema
//  2. Register indexes for ordered queries with EnsureIndex
//  3. Synchronizers subscribe to their collections and write through
//     Create/Update/Delete; every write wakes matching subscriptions
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Config holds store options.
type Config struct {
	// Rules maps a collection to the fields that identify its owners.
	// A query on a ruled collection must filter one of those fields for
	// equality with the actor carried by the context (see WithActor).
	Rules map[string][]string

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns a config with no access rules.
func DefaultConfig() *Config {
	return &Config{
		Rules:  map[string][]string{},
		Logger: log.New(os.Stderr, "[docstore] ", log.LstdFlags),
	}
}

// DB is a document store backed by SQLite.
type DB struct {
	conn   *sql.DB
	path   string
	rules  map[string][]string
	logger *log.Logger

	subsMu  sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
	wg      sync.WaitGroup
	closed  bool
}

// Open creates a new store at the specified path.
//
// The caller MUST call Close() when done; it stops all subscriptions.
//
// Example:
//
//	store, err := docstore.Open(".taskboard/store.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, config *Config) (*DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[docstore] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		rules:  config.Rules,
		logger: config.Logger,
		subs:   make(map[uint64]*subscription),
	}
	if db.rules == nil {
		db.rules = map[string][]string{}
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close stops every subscription and closes the database connection.
func (db *DB) Close() error {
	db.subsMu.Lock()
	if db.closed {
		db.subsMu.Unlock()
		return nil
	}
	db.closed = true
	for id, sub := range db.subs {
		sub.cancel()
		delete(db.subs, id)
	}
	db.subsMu.Unlock()

	db.wg.Wait()

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// InitSchema creates the store tables if they don't exist.
// It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the store tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON object, without the id
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS indexes (
		collection TEXT NOT NULL,
		field TEXT NOT NULL,
		descending INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collection, field, descending)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		uid TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// EnsureIndex registers an ordered index on collection.field.
func (db *DB) EnsureIndex(ctx context.Context, collection, field string, descending bool) error {
	if err := checkField(field); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO indexes (collection, field, descending) VALUES (?, ?, ?)
	ON CONFLICT(collection, field, descending) DO NOTHING
	`, collection, field, boolToInt(descending))
	if err != nil {
		return fmt.Errorf("failed to create index %s.%s: %w", collection, field, err)
	}
	db.logger.Printf("Index ready: %s.%s (desc=%v)", collection, field, descending)
	return nil
}

// DropIndex removes an ordered index.
func (db *DB) DropIndex(ctx context.Context, collection, field string, descending bool) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM indexes WHERE collection = ? AND field = ? AND descending = ?`,
		collection, field, boolToInt(descending))
	if err != nil {
		return fmt.Errorf("failed to drop index %s.%s: %w", collection, field, err)
	}
	return nil
}

func (db *DB) hasIndex(ctx context.Context, collection, field string, descending bool) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexes WHERE collection = ? AND field = ? AND descending = ?`,
		collection, field, boolToInt(descending)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up index: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of documents in a collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
