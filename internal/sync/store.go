package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Store is the part of the document store the synchronizers consume.
// *docstore.DB implements it.
type Store interface {
	Subscribe(ctx context.Context, q docstore.Query, onSnap docstore.SnapshotFunc, onErr docstore.ErrorFunc) (docstore.Unsubscribe, error)
	Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)
	Get(ctx context.Context, collection, id string) (*docstore.Document, error)
	Create(ctx context.Context, collection string, data any) (string, error)
	Update(ctx context.Context, collection, id string, writes docstore.Fields) error
	Delete(ctx context.Context, collection, id string) error
}

var _ Store = (*docstore.DB)(nil)

// Scope is the acting identity of a set of synchronizers.
type Scope struct {
	user schema.User
}

// NewScope returns a scope for user. It fails with ErrNotSignedIn if
// user is nil or has no id.
func NewScope(user *schema.User) (*Scope, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}
	return &Scope{user: *user}, nil
}

// User returns a copy of the acting identity's profile.
func (s *Scope) User() schema.User {
	return s.user
}

// UserID returns the acting identity's id.
func (s *Scope) UserID() string {
	return s.user.ID
}

// Context attaches the acting identity to ctx for store access rules.
func (s *Scope) Context(ctx context.Context) context.Context {
	return docstore.WithActor(ctx, s.user.ID)
}

// Config holds intervals and logging for the synchronizers.
type Config struct {
	// TeamRefreshInterval is how often the roster is recomputed.
	TeamRefreshInterval time.Duration

	// InviteRefreshInterval is how often invitation lists are re-fetched.
	InviteRefreshInterval time.Duration

	// Logger receives diagnostics. Each component logs through a copy
	// with its own prefix.
	Logger *log.Logger
}

// DefaultConfig returns the default refresh intervals.
func DefaultConfig() *Config {
	return &Config{
		TeamRefreshInterval:   5 * time.Second,
		InviteRefreshInterval: 5 * time.Second,
		Logger:                log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// componentLogger derives a logger with a component prefix that writes
// where base writes.
func componentLogger(base *log.Logger, name string) *log.Logger {
	var out io.Writer = os.Stderr
	flags := log.LstdFlags
	if base != nil {
		out = base.Writer()
		flags = base.Flags()
	}
	return log.New(out, "["+name+"] ", flags)
}

// decodeAll decodes documents into T, skipping and logging documents
// that do not decode.
func decodeAll[T any](docs []*docstore.Document, logger *log.Logger) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.DataTo(&v); err != nil {
			logger.Printf("Skipping %s/%s: %v", doc.Collection, doc.ID, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeOne fetches and decodes a single document.
func decodeOne[T any](ctx context.Context, store Store, collection, id string) (T, error) {
	var v T
	doc, err := store.Get(ctx, collection, id)
	if err != nil {
		return v, err
	}
	if err := doc.DataTo(&v); err != nil {
		return v, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return v, nil
}
