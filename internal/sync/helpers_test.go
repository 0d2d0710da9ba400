package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

var errInjected = errors.New("injected failure")

// faultStore wraps a real store and fails selected operations.
type faultStore struct {
	*docstore.DB

	mu     sync.Mutex
	fail   map[string]error
	before func(op, collection string)
}

// failOn makes op ("create", "update", "delete", "query") on collection
// return err until cleared with a nil err.
func (f *faultStore) failOn(op, collection string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op+":"+collection)
		return
	}
	f.fail[op+":"+collection] = err
}

// onBefore installs a hook that runs before every write.
func (f *faultStore) onBefore(fn func(op, collection string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

func (f *faultStore) check(op, collection string) error {
	f.mu.Lock()
	hook := f.before
	err := f.fail[op+":"+collection]
	f.mu.Unlock()

	if hook != nil && op != "query" {
		hook(op, collection)
	}
	return err
}

func (f *faultStore) Create(ctx context.Context, collection string, data any) (string, error) {
	if err := f.check("create", collection); err != nil {
		return "", err
	}
	return f.DB.Create(ctx, collection, data)
}

func (f *faultStore) Update(ctx context.Context, collection, id string, writes docstore.Fields) error {
	if err := f.check("update", collection); err != nil {
		return err
	}
	return f.DB.Update(ctx, collection, id, writes)
}

func (f *faultStore) Delete(ctx context.Context, collection, id string) error {
	if err := f.check("delete", collection); err != nil {
		return err
	}
	return f.DB.Delete(ctx, collection, id)
}

func (f *faultStore) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	if err := f.check("query", q.Collection); err != nil {
		return nil, err
	}
	return f.DB.Query(ctx, q)
}

// setupStore opens a store with the access rules the app installs.
func setupStore(t *testing.T) *faultStore {
	t.Helper()

	config := docstore.DefaultConfig()
	config.Logger = quietLogger()

	db, err := docstore.Open(filepath.Join(t.TempDir(), "store.db"), config)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	db.SetRule(schema.CollectionTasks, "createdBy")
	db.SetRule(schema.CollectionProjects, "createdBy")
	db.SetRule(schema.CollectionInvites, "fromUserId", "toUserId")
	db.SetRule(schema.CollectionMemberships, "teamLeaderId", "memberId")

	return &faultStore{DB: db, fail: make(map[string]error)}
}

// addUser stores a profile and returns it.
func addUser(t *testing.T, store *faultStore, id, username, name string) *schema.User {
	t.Helper()
	user := &schema.User{
		ID:       id,
		Email:    username + "@example.com",
		Name:     name,
		Username: username,
		Role:     schema.RoleMember,
	}
	if err := store.DB.Set(context.Background(), schema.CollectionUsers, id, user); err != nil {
		t.Fatalf("Set(user) failed: %v", err)
	}
	return user
}

func mustScope(t *testing.T, user *schema.User) *Scope {
	t.Helper()
	scope, err := NewScope(user)
	if err != nil {
		t.Fatalf("NewScope() failed: %v", err)
	}
	return scope
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ptr[T any](v T) *T {
	return &v
}
