// Package migrate moves board data in and out of the document store and
// repairs legacy documents.
//
// Exports are JSONL: one Record per line, projects first so an import
// can be replayed top to bottom.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Store is the subset of the document store used by this package.
type Store interface {
	Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, writes docstore.Fields) error
}

// Record kinds.
const (
	KindProject = "project"
	KindTask    = "task"
)

// Record is one line of an export file.
type Record struct {
	Kind    string          `json:"kind"`
	Project *schema.Project `json:"project,omitempty"`
	Task    *schema.Task    `json:"task,omitempty"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	OwnerID string // Only documents created by this identity
	ToJSONL string // Output file path
	Backup  bool   // Keep a copy of an existing output file
}

// ImportOptions configures Import.
type ImportOptions struct {
	OwnerID   string // Identity that will own imported documents
	FromJSONL string // Input file path
	DryRun    bool   // Validate without writing
}

// Result contains statistics about an export or import.
type Result struct {
	Projects      int
	Tasks         int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// Export writes the owner's projects and tasks to a JSONL file.
func Export(ctx context.Context, store Store, opts ExportOptions) (*Result, error) {
	if opts.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if opts.ToJSONL == "" {
		return nil, fmt.Errorf("output path is required")
	}
	ctx = docstore.WithActor(ctx, opts.OwnerID)
	result := &Result{}

	if opts.Backup {
		if existing, err := os.ReadFile(opts.ToJSONL); err == nil {
			backupPath := opts.ToJSONL + ".backup." + time.Now().Format("20060102-150405")
			if err := os.WriteFile(backupPath, existing, 0600); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
			result.BackupCreated = backupPath
		}
	}

	projects, err := store.Query(ctx, docstore.Collection(schema.CollectionProjects).
		Where("createdBy", docstore.OpEqual, opts.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	tasks, err := store.Query(ctx, docstore.Collection(schema.CollectionTasks).
		Where("createdBy", docstore.OpEqual, opts.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var records []Record
	for _, doc := range projects {
		var p schema.Project
		if err := doc.DataTo(&p); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		records = append(records, Record{Kind: KindProject, Project: &p})
		result.Projects++
	}
	for _, doc := range tasks {
		var t schema.Task
		if err := doc.DataTo(&t); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		records = append(records, Record{Kind: KindTask, Task: &t})
		result.Tasks++
	}

	if err := writeJSONL(opts.ToJSONL, records); err != nil {
		return nil, err
	}
	return result, nil
}

// writeJSONL writes records atomically via a temp file.
func writeJSONL(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// FromJSONL reads an export file.
func FromJSONL(path string) ([]Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var records []Record
	decoder := json.NewDecoder(file)
	for line := 1; ; line++ {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Import replays an export file into the store under the owner's
// identity. Document ids are kept so re-importing is idempotent; records
// without an id, with a temporary id or failing validation are skipped
// and reported in Result.Errors.
func Import(ctx context.Context, store Store, opts ImportOptions) (*Result, error) {
	if opts.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	records, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	now := time.Now().UTC()
	skip := func(format string, args ...any) {
		result.Skipped++
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	for i, rec := range records {
		switch rec.Kind {
		case KindProject:
			p := rec.Project
			if p == nil || p.ID == "" {
				skip("record %d: project without id", i+1)
				continue
			}
			p.CreatedBy = opts.OwnerID
			if p.Color == "" {
				p.Color = schema.DefaultProjectColor
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
			if p.UpdatedAt.IsZero() {
				p.UpdatedAt = p.CreatedAt
			}
			if err := p.Validate(); err != nil {
				skip("project %s: %v", p.ID, err)
				continue
			}
			if !opts.DryRun {
				if err := store.Set(ctx, schema.CollectionProjects, p.ID, p); err != nil {
					skip("project %s: %v", p.ID, err)
					continue
				}
			}
			result.Projects++

		case KindTask:
			t := rec.Task
			if t == nil || t.ID == "" || t.IsTemporary() {
				skip("record %d: task without a stored id", i+1)
				continue
			}
			t.CreatedBy = opts.OwnerID
			t.SetDefaults()
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if t.UpdatedAt.IsZero() {
				t.UpdatedAt = t.CreatedAt
			}
			if err := t.Validate(); err != nil {
				skip("task %s: %v", t.ID, err)
				continue
			}
			if !opts.DryRun {
				if err := store.Set(ctx, schema.CollectionTasks, t.ID, t); err != nil {
					skip("task %s: %v", t.ID, err)
					continue
				}
			}
			result.Tasks++

		default:
			skip("record %d: unknown kind %q", i+1, rec.Kind)
		}
	}
	return result, nil
}
