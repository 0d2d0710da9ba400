package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Create stores data under a generated id and returns the id.
// data may be a struct, a map or Fields.
func (db *DB) Create(ctx context.Context, collection string, data any) (string, error) {
	id := uuid.NewString()
	if err := db.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Set writes a whole document under a caller-chosen id, replacing any
// previous content.
func (db *DB) Set(ctx context.Context, collection, id string, data any) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidQuery)
	}
	writes, err := toFields(data)
	if err != nil {
		return err
	}

	now := time.Now()
	doc := map[string]any{}
	if err := applyFields(doc, writes, now); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	stamp := now.UTC().Format(time.RFC3339Nano)
	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO documents (collection, id, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`, collection, id, string(raw), stamp, stamp)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}

	db.notify(collection)
	return nil
}

// Update merges writes into an existing document.
// Returns ErrNotFound if the document doesn't exist.
func (db *DB) Update(ctx context.Context, collection, id string, writes Fields) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}

	clean := make(Fields, len(writes))
	for k, v := range writes {
		if k != "id" {
			clean[k] = v
		}
	}

	now := time.Now()
	if err := applyFields(doc, clean, now); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), now.UTC().Format(time.RFC3339Nano), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify(collection)
	return nil
}

// Delete removes a document.
// Returns nil if the document doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, collection, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.notify(collection)
	}
	return nil
}
