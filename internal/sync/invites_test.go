package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

type inviteFixture struct {
	store *faultStore
	alice *schema.User
	bob   *schema.User
	// invites as seen by alice and bob
	fromAlice *InviteSync
	toBob     *InviteSync
}

func setupInvites(t *testing.T) *inviteFixture {
	t.Helper()

	store := setupStore(t)
	f := &inviteFixture{
		store: store,
		alice: addUser(t, store, "u-alice", "alice", "Alice"),
		bob:   addUser(t, store, "u-bob", "bob", "Bob"),
	}

	var err error
	if f.fromAlice, err = NewInviteSync(store, mustScope(t, f.alice), time.Hour, quietLogger()); err != nil {
		t.Fatalf("NewInviteSync() failed: %v", err)
	}
	if f.toBob, err = NewInviteSync(store, mustScope(t, f.bob), time.Hour, quietLogger()); err != nil {
		t.Fatalf("NewInviteSync() failed: %v", err)
	}
	t.Cleanup(f.fromAlice.Close)
	t.Cleanup(f.toBob.Close)
	return f
}

// sendToBob has alice invite bob and returns the invite as bob sees it.
func (f *inviteFixture) sendToBob(t *testing.T) schema.TeamInvite {
	t.Helper()
	if err := f.fromAlice.Send(context.Background(), "bob"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if err := f.toBob.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	pending := f.toBob.Pending()
	if len(pending) != 1 {
		t.Fatalf("len(Pending()) = %d, want 1", len(pending))
	}
	return pending[0]
}

// memberships returns the membership records with member as memberId.
func (f *inviteFixture) memberships(t *testing.T, member string) []schema.TeamMembership {
	t.Helper()
	ctx := docstore.WithActor(context.Background(), member)
	docs, err := f.store.DB.Query(ctx, docstore.Collection(schema.CollectionMemberships).
		Where("memberId", docstore.OpEqual, member))
	if err != nil {
		t.Fatalf("Query(memberships) failed: %v", err)
	}
	return decodeAll[schema.TeamMembership](docs, quietLogger())
}

func (f *inviteFixture) status(t *testing.T, id string) schema.InviteStatus {
	t.Helper()
	invite, err := decodeOne[schema.TeamInvite](context.Background(), f.store, schema.CollectionInvites, id)
	if err != nil {
		t.Fatalf("Get(invite) failed: %v", err)
	}
	return invite.Status
}

func TestInviteSync_SendMatchesUsernameCaseInsensitively(t *testing.T) {
	f := setupInvites(t)

	if err := f.fromAlice.Send(context.Background(), "  Bob "); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	sent := f.fromAlice.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(Sent()) = %d, want 1", len(sent))
	}
	got := sent[0]
	if got.ToUserID != f.bob.ID || got.ToUsername != "bob" {
		t.Errorf("invite target = %s/%s, want %s/bob", got.ToUserID, got.ToUsername, f.bob.ID)
	}
	if got.FromUserID != f.alice.ID || got.FromUsername != "alice" {
		t.Errorf("invite sender = %s/%s", got.FromUserID, got.FromUsername)
	}
	if got.Status != schema.InvitePending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Message != "Alice invited you to join their team" {
		t.Errorf("Message = %q", got.Message)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set by the store")
	}
}

func TestInviteSync_SendValidation(t *testing.T) {
	f := setupInvites(t)

	tests := []struct {
		name     string
		username string
		wantErr  error
	}{
		{"empty", "", ErrEmptyUsername},
		{"blank", "   ", ErrEmptyUsername},
		{"unknown", "nobody", ErrUserNotFound},
		{"self", "alice", ErrSelfInvite},
		{"self uppercase", "ALICE", ErrSelfInvite},
		{"self padded", " Alice ", ErrSelfInvite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.fromAlice.Send(context.Background(), tt.username); !errors.Is(err, tt.wantErr) {
				t.Errorf("Send(%q) error = %v, want %v", tt.username, err, tt.wantErr)
			}
		})
	}

	if err := f.fromAlice.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if n := len(f.fromAlice.Sent()); n != 0 {
		t.Errorf("len(Sent()) = %d after rejected sends, want 0", n)
	}
}

func TestInviteSync_AcceptRecordsMembership(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	if err := f.toBob.Accept(context.Background(), invite.ID); err != nil {
		t.Fatalf("Accept() failed: %v", err)
	}

	if got := f.status(t, invite.ID); got != schema.InviteAccepted {
		t.Errorf("status = %q, want accepted", got)
	}
	if n := len(f.toBob.Pending()); n != 0 {
		t.Errorf("len(Pending()) = %d after accept, want 0", n)
	}

	members := f.memberships(t, f.bob.ID)
	if len(members) != 1 {
		t.Fatalf("len(memberships) = %d, want 1", len(members))
	}
	m := members[0]
	if m.TeamLeaderID != f.alice.ID || m.Status != schema.MembershipActive || m.JoinedAt.IsZero() {
		t.Errorf("membership = %+v", m)
	}

	// Accepting again changes nothing.
	if err := f.toBob.Accept(context.Background(), invite.ID); err != nil {
		t.Errorf("second Accept() failed: %v", err)
	}
	if n := len(f.memberships(t, f.bob.ID)); n != 1 {
		t.Errorf("len(memberships) = %d after second accept, want 1", n)
	}
}

func TestInviteSync_RejectIsIdempotent(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	for i := 0; i < 2; i++ {
		if err := f.toBob.Reject(context.Background(), invite.ID); err != nil {
			t.Fatalf("Reject() #%d failed: %v", i+1, err)
		}
		if got := f.status(t, invite.ID); got != schema.InviteRejected {
			t.Errorf("status after reject #%d = %q, want rejected", i+1, got)
		}
	}

	if n := len(f.memberships(t, f.bob.ID)); n != 0 {
		t.Errorf("len(memberships) = %d after reject, want 0", n)
	}
	if err := f.toBob.Accept(context.Background(), invite.ID); !errors.Is(err, ErrInviteResolved) {
		t.Errorf("Accept() after reject error = %v, want ErrInviteResolved", err)
	}
	if got := f.status(t, invite.ID); got != schema.InviteRejected {
		t.Errorf("status = %q, want rejected", got)
	}
}

func TestInviteSync_RejectAfterAccept(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	if err := f.toBob.Accept(context.Background(), invite.ID); err != nil {
		t.Fatalf("Accept() failed: %v", err)
	}
	if err := f.toBob.Reject(context.Background(), invite.ID); !errors.Is(err, ErrInviteResolved) {
		t.Errorf("Reject() after accept error = %v, want ErrInviteResolved", err)
	}
}

func TestInviteSync_AcceptMembershipFailure(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	f.store.failOn("create", schema.CollectionMemberships, errInjected)

	err := f.toBob.Accept(context.Background(), invite.ID)
	if !errors.Is(err, ErrMembershipNotRecorded) {
		t.Fatalf("Accept() error = %v, want ErrMembershipNotRecorded", err)
	}
	if !errors.Is(err, errInjected) {
		t.Errorf("Accept() error = %v, want it to wrap the store error", err)
	}
	if got := f.status(t, invite.ID); got != schema.InviteAccepted {
		t.Errorf("status = %q, want accepted", got)
	}
}

func TestInviteSync_AcceptStatusFailureWritesNothing(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	f.store.failOn("update", schema.CollectionInvites, errInjected)

	if err := f.toBob.Accept(context.Background(), invite.ID); !errors.Is(err, errInjected) {
		t.Fatalf("Accept() error = %v, want injected failure", err)
	}
	if got := f.status(t, invite.ID); got != schema.InvitePending {
		t.Errorf("status = %q, want pending", got)
	}
	if n := len(f.memberships(t, f.bob.ID)); n != 0 {
		t.Errorf("len(memberships) = %d, want 0", n)
	}
}

func TestInviteSync_OnlyRecipientResolves(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)

	if err := f.fromAlice.Accept(context.Background(), invite.ID); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("sender Accept() error = %v, want ErrInviteNotFound", err)
	}
	if err := f.toBob.Reject(context.Background(), "missing"); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("Reject(missing) error = %v, want ErrInviteNotFound", err)
	}
}

func TestInviteSync_RemoveMember(t *testing.T) {
	f := setupInvites(t)
	invite := f.sendToBob(t)
	if err := f.toBob.Accept(context.Background(), invite.ID); err != nil {
		t.Fatalf("Accept() failed: %v", err)
	}

	// Only the leader's records are removed.
	if err := f.toBob.RemoveMember(context.Background(), f.bob.ID); err != nil {
		t.Fatalf("RemoveMember() by non-leader failed: %v", err)
	}
	if n := len(f.memberships(t, f.bob.ID)); n != 1 {
		t.Fatalf("len(memberships) = %d, want 1", n)
	}

	if err := f.fromAlice.RemoveMember(context.Background(), f.bob.ID); err != nil {
		t.Fatalf("RemoveMember() failed: %v", err)
	}
	if n := len(f.memberships(t, f.bob.ID)); n != 0 {
		t.Errorf("len(memberships) = %d after remove, want 0", n)
	}
}

func TestInviteSync_PollingPicksUpRemoteChanges(t *testing.T) {
	f := setupInvites(t)
	f.toBob.SetInterval(20 * time.Millisecond)
	f.toBob.Start()

	changed := make(chan struct{}, 10)
	f.toBob.OnChange(func() { changed <- struct{}{} })

	if err := f.fromAlice.Send(context.Background(), "bob"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	eventually(t, "pending invite from polling", func() bool { return len(f.toBob.Pending()) == 1 })

	select {
	case <-changed:
	default:
		t.Error("OnChange listener not called")
	}
}

func TestInviteSync_RefreshFailureLeavesListsStale(t *testing.T) {
	f := setupInvites(t)
	f.sendToBob(t)

	f.store.failOn("query", schema.CollectionInvites, errInjected)
	if err := f.toBob.Refresh(context.Background()); !errors.Is(err, errInjected) {
		t.Errorf("Refresh() error = %v, want injected failure", err)
	}
	if n := len(f.toBob.Pending()); n != 1 {
		t.Errorf("len(Pending()) = %d, want stale 1", n)
	}
}
