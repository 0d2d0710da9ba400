package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Roster is the acting identity's team: itself plus the other side of
// every accepted invite it sent or received. It is recomputed on a
// fixed interval.
type Roster struct {
	store  Store
	scope  *Scope
	mirror *Mirror[schema.User]
	poller *Poller
	logger *log.Logger
}

// NewRoster creates a roster holding only the acting identity. Call
// Start to begin recomputing it.
//
// If logger is nil, a default logger writing to stderr is used.
func NewRoster(store Store, scope *Scope, interval time.Duration, logger *log.Logger) (*Roster, error) {
	if scope == nil {
		return nil, ErrNotSignedIn
	}
	if logger == nil {
		logger = componentLogger(nil, "roster")
	}

	r := &Roster{
		store:  store,
		scope:  scope,
		mirror: NewMirror[schema.User](nil),
		logger: logger,
	}
	r.mirror.Replace([]schema.User{scope.User()})
	r.poller = NewPoller(scope.Context(context.Background()), "roster", interval, r.Refresh, logger)
	return r, nil
}

// Start recomputes the roster now and then on every interval.
func (r *Roster) Start() {
	r.poller.Start()
}

// SetInterval changes the refresh interval.
func (r *Roster) SetInterval(d time.Duration) {
	r.poller.SetInterval(d)
}

// Close stops refreshing and empties the roster.
func (r *Roster) Close() {
	r.poller.Stop()
	r.mirror.Replace(nil)
}

// Members returns the acting identity first, then teammates by username.
func (r *Roster) Members() []schema.User {
	return r.mirror.List()
}

// Lookup returns the roster entry with id.
func (r *Roster) Lookup(id string) (schema.User, bool) {
	return r.mirror.Find(func(u schema.User) bool { return u.ID == id })
}

// OnChange registers fn to receive the roster after every change.
func (r *Roster) OnChange(fn func([]schema.User)) (remove func()) {
	return r.mirror.OnChange(fn)
}

// Refresh recomputes the roster. If the invite collection cannot be
// read for lack of permission the roster degrades to the acting
// identity alone and no error is returned. Other errors leave the
// roster as it was.
func (r *Roster) Refresh(ctx context.Context) error {
	ctx = r.scope.Context(ctx)
	actor := r.scope.User()

	ids, err := r.teammateIDs(ctx)
	if errors.Is(err, docstore.ErrPermissionDenied) {
		r.mirror.Replace([]schema.User{actor})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch team invites: %w", err)
	}

	members := make([]schema.User, 0, len(ids))
	for _, id := range ids {
		user, err := decodeOne[schema.User](ctx, r.store, schema.CollectionUsers, id)
		if errors.Is(err, docstore.ErrNotFound) {
			r.logger.Printf("Skipping teammate %s: no profile", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch profile %s: %w", id, err)
		}
		members = append(members, user)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })

	r.mirror.Replace(append([]schema.User{actor}, members...))
	return nil
}

// teammateIDs returns the counterparts of accepted invites in both
// directions, without the acting identity.
func (r *Roster) teammateIDs(ctx context.Context) ([]string, error) {
	uid := r.scope.UserID()
	seen := map[string]bool{uid: true}
	var ids []string

	for _, field := range []string{"fromUserId", "toUserId"} {
		docs, err := r.store.Query(ctx, docstore.Collection(schema.CollectionInvites).
			Where(field, docstore.OpEqual, uid).
			Where("status", docstore.OpEqual, schema.InviteAccepted))
		if err != nil {
			return nil, err
		}
		for _, invite := range decodeAll[schema.TeamInvite](docs, r.logger) {
			other := invite.Counterpart(uid)
			if other != "" && !seen[other] {
				seen[other] = true
				ids = append(ids, other)
			}
		}
	}
	return ids, nil
}
