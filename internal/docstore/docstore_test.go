package docstore

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// openTestStore returns an initialized store in a temporary directory.
func openTestStore(t *testing.T) *DB {
	t.Helper()

	config := DefaultConfig()
	config.Logger = log.New(io.Discard, "", 0)

	db, err := Open(filepath.Join(t.TempDir(), "store.db"), config)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

type note struct {
	ID     string   `json:"id"`
	Owner  string   `json:"owner"`
	Text   string   `json:"text"`
	Rank   int      `json:"rank"`
	Labels []string `json:"labels"`
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestStore(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestCreateGet(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	id, err := db.Create(ctx, "notes", note{ID: "ignored", Owner: "u1", Text: "hello"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id == "" || id == "ignored" {
		t.Fatalf("Create() id = %q, want generated id", id)
	}

	doc, err := db.Get(ctx, "notes", id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	var got note
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("DataTo() failed: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Text != "hello" || got.Owner != "u1" {
		t.Errorf("got %+v", got)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGet_NotFound(t *testing.T) {
	db := openTestStore(t)

	_, err := db.Get(context.Background(), "notes", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_Merge(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	id, err := db.Create(ctx, "notes", note{Owner: "u1", Text: "draft", Rank: 1})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := db.Update(ctx, "notes", id, Fields{"text": "final"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	doc, _ := db.Get(ctx, "notes", id)
	var got note
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("DataTo() failed: %v", err)
	}
	if got.Text != "final" {
		t.Errorf("Text = %q, want final", got.Text)
	}
	if got.Rank != 1 || got.Owner != "u1" {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := openTestStore(t)

	err := db.Update(context.Background(), "notes", "missing", Fields{"text": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_ArrayUnion(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	id, err := db.Create(ctx, "notes", Fields{"owner": "u1"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := db.Update(ctx, "notes", id, Fields{"labels": ArrayUnion("a", "b")}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	// "b" is already present and must not be appended twice.
	if err := db.Update(ctx, "notes", id, Fields{"labels": ArrayUnion("b", "c")}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	doc, _ := db.Get(ctx, "notes", id)
	var got note
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("DataTo() failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got.Labels) != len(want) {
		t.Fatalf("Labels = %v, want %v", got.Labels, want)
	}
	for i := range want {
		if got.Labels[i] != want[i] {
			t.Errorf("Labels[%d] = %q, want %q", i, got.Labels[i], want[i])
		}
	}
}

func TestUpdate_ServerTimestampAndDelete(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	id, _ := db.Create(ctx, "notes", Fields{"owner": "u1", "text": "x"})
	before := time.Now().Add(-time.Second)

	if err := db.Update(ctx, "notes", id, Fields{"stampedAt": ServerTimestamp, "text": DeleteField}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	doc, _ := db.Get(ctx, "notes", id)
	stamp, ok := doc.Field("stampedAt").(string)
	if !ok {
		t.Fatalf("stampedAt = %v, want timestamp string", doc.Field("stampedAt"))
	}
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil || parsed.Before(before) {
		t.Errorf("stampedAt = %q, want a current timestamp", stamp)
	}
	if doc.Field("text") != nil {
		t.Errorf("text = %v, want deleted", doc.Field("text"))
	}
}

func TestDelete_Idempotent(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	id, _ := db.Create(ctx, "notes", Fields{"owner": "u1"})
	if err := db.Delete(ctx, "notes", id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, "notes", id); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}

	count, err := db.Count(ctx, "notes")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestQuery_Filters(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	for _, n := range []note{
		{Owner: "u1", Text: "a", Rank: 1},
		{Owner: "u1", Text: "b", Rank: 5},
		{Owner: "u2", Text: "c", Rank: 3},
	} {
		if _, err := db.Create(ctx, "notes", n); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"equality", Collection("notes").Where("owner", OpEqual, "u1"), 2},
		{"two filters", Collection("notes").Where("owner", OpEqual, "u1").Where("rank", OpGreater, 2), 1},
		{"not equal", Collection("notes").Where("owner", OpNotEqual, "u1"), 1},
		{"no match", Collection("notes").Where("owner", OpEqual, "nobody"), 0},
		{"other collection", Collection("other"), 0},
		{"limit", Collection("notes").WithLimit(2), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := db.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query() failed: %v", err)
			}
			if len(docs) != tt.want {
				t.Errorf("len(docs) = %d, want %d", len(docs), tt.want)
			}
		})
	}
}

func TestQuery_TypedStringValue(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	type state string
	if _, err := db.Create(ctx, "notes", Fields{"state": "open"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	docs, err := db.Query(ctx, Collection("notes").Where("state", OpEqual, state("open")))
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("len(docs) = %d, want 1", len(docs))
	}
}

func TestQuery_OrderRequiresIndex(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{time.Hour, 3 * time.Hour, 2 * time.Hour} {
		_, err := db.Create(ctx, "notes", Fields{
			"owner":     "u1",
			"rank":      i,
			"updatedAt": base.Add(offset),
		})
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	q := Collection("notes").Where("owner", OpEqual, "u1").OrderByField("updatedAt", true)

	if _, err := db.Query(ctx, q); !errors.Is(err, ErrIndexRequired) {
		t.Fatalf("Query() without index error = %v, want ErrIndexRequired", err)
	}

	// Ordering without filters needs no index.
	if _, err := db.Query(ctx, Collection("notes").OrderByField("updatedAt", true)); err != nil {
		t.Errorf("unfiltered ordered Query() failed: %v", err)
	}

	if err := db.EnsureIndex(ctx, "notes", "updatedAt", true); err != nil {
		t.Fatalf("EnsureIndex() failed: %v", err)
	}

	docs, err := db.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query() with index failed: %v", err)
	}

	wantRanks := []float64{1, 2, 0}
	for i, doc := range docs {
		if got := doc.Field("rank"); got != wantRanks[i] {
			t.Errorf("docs[%d].rank = %v, want %v", i, got, wantRanks[i])
		}
	}
}

func TestQuery_InvalidField(t *testing.T) {
	db := openTestStore(t)

	_, err := db.Query(context.Background(), Collection("notes").Where(`x") OR 1=1 --`, OpEqual, "y"))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Query() error = %v, want ErrInvalidQuery", err)
	}
}

func TestRules(t *testing.T) {
	db := openTestStore(t)
	db.SetRule("notes", "owner", "reader")

	anon := context.Background()
	alice := WithActor(anon, "alice")

	tests := []struct {
		name    string
		ctx     context.Context
		query   Query
		wantErr bool
	}{
		{"no actor", anon, Collection("notes").Where("owner", OpEqual, "alice"), true},
		{"unscoped", alice, Collection("notes"), true},
		{"scoped to someone else", alice, Collection("notes").Where("owner", OpEqual, "bob"), true},
		{"scoped to owner", alice, Collection("notes").Where("owner", OpEqual, "alice"), false},
		{"scoped to second owner field", alice, Collection("notes").Where("reader", OpEqual, "alice"), false},
		{"unruled collection", anon, Collection("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Query(tt.ctx, tt.query)
			if tt.wantErr && !errors.Is(err, ErrPermissionDenied) {
				t.Errorf("Query() error = %v, want ErrPermissionDenied", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Query() failed: %v", err)
			}
		})
	}
}

// recorder collects subscription callbacks.
type recorder struct {
	mu        sync.Mutex
	snapshots [][]*Document
	errs      []error
}

func (r *recorder) onSnap(docs []*Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, docs)
}

func (r *recorder) onErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) last() ([]*Document, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil, 0
	}
	return r.snapshots[len(r.snapshots)-1], len(r.snapshots)
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscribe_DeliversFullSnapshots(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	unsub, err := db.Subscribe(ctx, Collection("notes").Where("owner", OpEqual, "u1"), rec.onSnap, rec.onErr)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer unsub()

	// Initial (empty) snapshot.
	eventually(t, func() bool { _, n := rec.last(); return n >= 1 })

	if _, err := db.Create(ctx, "notes", note{Owner: "u1", Text: "one"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := db.Create(ctx, "notes", note{Owner: "u2", Text: "not mine"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := db.Create(ctx, "notes", note{Owner: "u1", Text: "two"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	eventually(t, func() bool { docs, _ := rec.last(); return len(docs) == 2 })
}

func TestSubscribe_ErrorEndsSubscription(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	q := Collection("notes").Where("owner", OpEqual, "u1").OrderByField("updatedAt", true)
	if _, err := db.Subscribe(ctx, q, rec.onSnap, rec.onErr); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	eventually(t, func() bool { return rec.errCount() == 1 })
	eventually(t, func() bool { return db.SubscriptionCount() == 0 })

	rec.mu.Lock()
	err := rec.errs[0]
	rec.mu.Unlock()
	if !errors.Is(err, ErrIndexRequired) {
		t.Errorf("error = %v, want ErrIndexRequired", err)
	}
	if _, n := rec.last(); n != 0 {
		t.Errorf("got %d snapshots, want 0", n)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	rec := &recorder{}
	unsub, err := db.Subscribe(ctx, Collection("notes"), rec.onSnap, rec.onErr)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	eventually(t, func() bool { _, n := rec.last(); return n >= 1 })

	unsub()
	unsub()
	eventually(t, func() bool { return db.SubscriptionCount() == 0 })

	_, before := rec.last()
	if _, err := db.Create(ctx, "notes", note{Owner: "u1"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, after := rec.last(); after != before {
		t.Errorf("received %d snapshots after unsubscribe", after-before)
	}
}

func TestAccounts(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	uid, err := db.CreateAccount(ctx, "Alice@Example.com", "secret123")
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}

	if _, err := db.CreateAccount(ctx, "alice@example.com", "another1"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate CreateAccount() error = %v, want ErrEmailTaken", err)
	}
	if _, err := db.CreateAccount(ctx, "bob@example.com", "123"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak CreateAccount() error = %v, want ErrWeakPassword", err)
	}

	got, err := db.VerifyPassword(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("VerifyPassword() failed: %v", err)
	}
	if got != uid {
		t.Errorf("VerifyPassword() uid = %q, want %q", got, uid)
	}

	if _, err := db.VerifyPassword(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := db.VerifyPassword(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"numbers", 1.0, 2.0, -1},
		{"equal numbers", 2.0, 2.0, 0},
		{"strings", "b", "a", 1},
		{"timestamps with fractions", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00.5Z", -1},
		{"nil first", nil, "a", -1},
		{"bools", false, true, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareValues(tt.a, tt.b); got != tt.want {
				t.Errorf("compareValues(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
