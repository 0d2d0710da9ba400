package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// InviteSync mirrors the acting identity's received pending invites and
// sent invites. The lists are re-fetched on a fixed interval and after
// every call that changes an invite; nothing is mirrored optimistically.
type InviteSync struct {
	store   Store
	scope   *Scope
	pending *Mirror[schema.TeamInvite]
	sent    *Mirror[schema.TeamInvite]
	poller  *Poller
	logger  *log.Logger
}

// NewInviteSync creates an invite synchronizer. Call Start to begin
// polling.
//
// If logger is nil, a default logger writing to stderr is used.
func NewInviteSync(store Store, scope *Scope, interval time.Duration, logger *log.Logger) (*InviteSync, error) {
	if scope == nil {
		return nil, ErrNotSignedIn
	}
	if logger == nil {
		logger = componentLogger(nil, "invites")
	}

	s := &InviteSync{
		store:   store,
		scope:   scope,
		pending: NewMirror[schema.TeamInvite](nil),
		sent:    NewMirror[schema.TeamInvite](nil),
		logger:  logger,
	}
	s.poller = NewPoller(scope.Context(context.Background()), "invites", interval, s.Refresh, logger)
	return s, nil
}

// Start fetches both lists now and then on every interval.
func (s *InviteSync) Start() {
	s.poller.Start()
}

// SetInterval changes the polling interval.
func (s *InviteSync) SetInterval(d time.Duration) {
	s.poller.SetInterval(d)
}

// Close stops polling and empties both lists.
func (s *InviteSync) Close() {
	s.poller.Stop()
	s.pending.Replace(nil)
	s.sent.Replace(nil)
}

// Pending returns invites addressed to the acting identity that are
// still pending.
func (s *InviteSync) Pending() []schema.TeamInvite {
	return s.pending.List()
}

// Sent returns every invite the acting identity has sent.
func (s *InviteSync) Sent() []schema.TeamInvite {
	return s.sent.List()
}

// OnChange registers fn to be called after either list changes.
func (s *InviteSync) OnChange(fn func()) (remove func()) {
	r1 := s.pending.OnChange(func([]schema.TeamInvite) { fn() })
	r2 := s.sent.OnChange(func([]schema.TeamInvite) { fn() })
	return func() {
		r1()
		r2()
	}
}

// Refresh re-fetches both lists. On error the lists are left as they
// were.
func (s *InviteSync) Refresh(ctx context.Context) error {
	ctx = s.scope.Context(ctx)
	uid := s.scope.UserID()

	pendingDocs, err := s.store.Query(ctx, docstore.Collection(schema.CollectionInvites).
		Where("toUserId", docstore.OpEqual, uid).
		Where("status", docstore.OpEqual, schema.InvitePending))
	if err != nil {
		return fmt.Errorf("failed to fetch pending invites: %w", err)
	}

	sentDocs, err := s.store.Query(ctx, docstore.Collection(schema.CollectionInvites).
		Where("fromUserId", docstore.OpEqual, uid))
	if err != nil {
		return fmt.Errorf("failed to fetch sent invites: %w", err)
	}

	s.pending.Replace(decodeAll[schema.TeamInvite](pendingDocs, s.logger))
	s.sent.Replace(decodeAll[schema.TeamInvite](sentDocs, s.logger))
	return nil
}

// Send invites the identity with username to the acting identity's
// team. The username is matched case-insensitively.
func (s *InviteSync) Send(ctx context.Context, username string) error {
	username = schema.NormalizeUsername(username)
	if username == "" {
		return ErrEmptyUsername
	}

	docs, err := s.store.Query(s.scope.Context(ctx), docstore.Collection(schema.CollectionUsers).
		Where("username", docstore.OpEqual, username).
		WithLimit(1))
	if err != nil {
		s.logger.Printf("Error looking up %q: %v", username, err)
		return fmt.Errorf("failed to look up user: %w", err)
	}
	s.logger.Printf("Searching for username: %q, found %d results", username, len(docs))
	if len(docs) == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	target := docs[0].ID
	actor := s.scope.User()
	if target == actor.ID {
		return ErrSelfInvite
	}

	_, err = s.store.Create(ctx, schema.CollectionInvites, docstore.Fields{
		"fromUserId":   actor.ID,
		"fromUsername": actor.Username,
		"toUserId":     target,
		"toUsername":   username,
		"status":       schema.InvitePending,
		"createdAt":    docstore.ServerTimestamp,
		"message":      schema.InviteMessage(actor.DisplayName()),
	})
	if err != nil {
		s.logger.Printf("Error sending invite to %s: %v", username, err)
		return fmt.Errorf("failed to send invite: %w", err)
	}

	s.logger.Printf("Invite sent to %s", username)
	s.refreshAfterWrite(ctx)
	return nil
}

// Accept marks an invite addressed to the acting identity accepted and
// records the membership with the sender as team leader.
//
// The two writes are not atomic. If the membership write fails the
// invite stays accepted and the returned error wraps
// ErrMembershipNotRecorded. Accepting an already accepted invite does
// nothing; accepting a rejected one returns ErrInviteResolved.
func (s *InviteSync) Accept(ctx context.Context, inviteID string) error {
	invite, err := s.loadReceived(ctx, inviteID)
	if err != nil {
		return err
	}
	switch invite.Status {
	case schema.InviteAccepted:
		return nil
	case schema.InviteRejected:
		return fmt.Errorf("%w: %s was rejected", ErrInviteResolved, inviteID)
	}

	err = s.store.Update(ctx, schema.CollectionInvites, inviteID, docstore.Fields{
		"status":     schema.InviteAccepted,
		"acceptedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		s.logger.Printf("Error accepting invite %s: %v", inviteID, err)
		return fmt.Errorf("failed to accept invite: %w", err)
	}

	_, err = s.store.Create(ctx, schema.CollectionMemberships, docstore.Fields{
		"teamLeaderId": invite.FromUserID,
		"memberId":     s.scope.UserID(),
		"joinedAt":     docstore.ServerTimestamp,
		"status":       schema.MembershipActive,
	})
	if err != nil {
		s.logger.Printf("Invite %s accepted but membership not recorded: %v", inviteID, err)
		s.refreshAfterWrite(ctx)
		return fmt.Errorf("%w: %w", ErrMembershipNotRecorded, err)
	}

	s.logger.Printf("Accepted invite %s from %s", inviteID, invite.FromUsername)
	s.refreshAfterWrite(ctx)
	return nil
}

// Reject marks an invite addressed to the acting identity rejected.
// Rejecting an already rejected invite does nothing; rejecting an
// accepted one returns ErrInviteResolved.
func (s *InviteSync) Reject(ctx context.Context, inviteID string) error {
	invite, err := s.loadReceived(ctx, inviteID)
	if err != nil {
		return err
	}
	switch invite.Status {
	case schema.InviteRejected:
		return nil
	case schema.InviteAccepted:
		return fmt.Errorf("%w: %s was accepted", ErrInviteResolved, inviteID)
	}

	err = s.store.Update(ctx, schema.CollectionInvites, inviteID, docstore.Fields{
		"status":     schema.InviteRejected,
		"rejectedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		s.logger.Printf("Error rejecting invite %s: %v", inviteID, err)
		return fmt.Errorf("failed to reject invite: %w", err)
	}

	s.refreshAfterWrite(ctx)
	return nil
}

// RemoveMember deletes every membership record that has the acting
// identity as leader and memberID as member.
func (s *InviteSync) RemoveMember(ctx context.Context, memberID string) error {
	docs, err := s.store.Query(s.scope.Context(ctx), docstore.Collection(schema.CollectionMemberships).
		Where("teamLeaderId", docstore.OpEqual, s.scope.UserID()).
		Where("memberId", docstore.OpEqual, memberID))
	if err != nil {
		s.logger.Printf("Error finding memberships of %s: %v", memberID, err)
		return fmt.Errorf("failed to find memberships: %w", err)
	}

	for _, doc := range docs {
		if err := s.store.Delete(ctx, schema.CollectionMemberships, doc.ID); err != nil {
			s.logger.Printf("Error removing membership %s: %v", doc.ID, err)
			return fmt.Errorf("failed to remove member: %w", err)
		}
	}

	s.logger.Printf("Removed %d membership(s) of %s", len(docs), memberID)
	return nil
}

// loadReceived fetches an invite and checks it is addressed to the
// acting identity.
func (s *InviteSync) loadReceived(ctx context.Context, inviteID string) (schema.TeamInvite, error) {
	invite, err := decodeOne[schema.TeamInvite](ctx, s.store, schema.CollectionInvites, inviteID)
	if errors.Is(err, docstore.ErrNotFound) {
		return invite, fmt.Errorf("%w: %s", ErrInviteNotFound, inviteID)
	}
	if err != nil {
		return invite, fmt.Errorf("failed to load invite: %w", err)
	}
	if invite.ToUserID != s.scope.UserID() {
		return invite, fmt.Errorf("%w: %s is not addressed to you", ErrInviteNotFound, inviteID)
	}
	return invite, nil
}

// refreshAfterWrite re-fetches both lists; a failure only leaves them
// stale until the next tick.
func (s *InviteSync) refreshAfterWrite(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Printf("Error refreshing invites: %v", err)
	}
}
