package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// IdentitySource pushes the signed-in identity, or nil after sign-out.
// Watch calls fn with the current value before returning.
type IdentitySource interface {
	Watch(fn func(user *schema.User)) (stop func())
}

// EventKind names what changed in a workspace.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
	EventTasks     EventKind = "tasks"
	EventProjects  EventKind = "projects"
	EventInvites   EventKind = "invites"
	EventRoster    EventKind = "roster"
)

// Event is delivered to workspace listeners. Bundle is nil for
// EventSignedOut.
type Event struct {
	Kind   EventKind
	Bundle *Bundle
}

// Bundle is the set of synchronizers of one signed-in identity.
type Bundle struct {
	Scope    *Scope
	Tasks    *TaskSync
	Projects *ProjectSync
	Invites  *InviteSync
	Roster   *Roster

	removers []func()
}

func (b *Bundle) close() {
	for _, remove := range b.removers {
		remove()
	}
	if b.Roster != nil {
		b.Roster.Close()
	}
	if b.Invites != nil {
		b.Invites.Close()
	}
	if b.Projects != nil {
		b.Projects.Close()
	}
	if b.Tasks != nil {
		b.Tasks.Close()
	}
}

// Workspace rebuilds the synchronizers whenever the signed-in identity
// changes. Views read Current and never hold on to a Bundle across an
// EventSignedOut.
type Workspace struct {
	store  Store
	config *Config

	mu      sync.Mutex
	current *Bundle

	listenMu  sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// NewWorkspace creates a signed-out workspace.
func NewWorkspace(store Store, config *Config) *Workspace {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	return &Workspace{
		store:     store,
		config:    config,
		listeners: make(map[int]func(Event)),
	}
}

// Follow signs the workspace in and out as src reports identity
// changes. The returned func stops following; it does not sign out.
func (w *Workspace) Follow(src IdentitySource) (stop func()) {
	return src.Watch(func(user *schema.User) {
		if user == nil {
			w.SignOut()
			return
		}
		if err := w.SignIn(user); err != nil {
			w.config.Logger.Printf("Error starting workspace for %s: %v", user.ID, err)
		}
	})
}

// SignIn builds and starts the synchronizers for user, replacing those
// of any other identity. Signing in the current identity again does
// nothing.
func (w *Workspace) SignIn(user *schema.User) error {
	scope, err := NewScope(user)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.current != nil && w.current.Scope.UserID() == scope.UserID() {
		w.mu.Unlock()
		return nil
	}
	old := w.current
	w.current = nil
	w.mu.Unlock()

	if old != nil {
		old.close()
		w.emit(Event{Kind: EventSignedOut})
	}

	bundle, err := w.build(scope)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = bundle
	w.mu.Unlock()

	w.config.Logger.Printf("Signed in as %s", scope.User().Username)
	w.emit(Event{Kind: EventSignedIn, Bundle: bundle})
	return nil
}

// SignOut closes the synchronizers and leaves the workspace empty.
func (w *Workspace) SignOut() {
	w.mu.Lock()
	old := w.current
	w.current = nil
	w.mu.Unlock()

	if old == nil {
		return
	}
	old.close()
	w.config.Logger.Printf("Signed out %s", old.Scope.User().Username)
	w.emit(Event{Kind: EventSignedOut})
}

// Current returns the active bundle, or nil when signed out.
func (w *Workspace) Current() *Bundle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SetIntervals changes the polling intervals of the active bundle and
// of bundles built later. Non-positive values are ignored.
func (w *Workspace) SetIntervals(team, invite time.Duration) {
	w.mu.Lock()
	if team > 0 {
		w.config.TeamRefreshInterval = team
	}
	if invite > 0 {
		w.config.InviteRefreshInterval = invite
	}
	b := w.current
	w.mu.Unlock()

	if b != nil {
		b.Roster.SetInterval(team)
		b.Invites.SetInterval(invite)
	}
}

// Intervals returns the polling intervals new bundles start with.
func (w *Workspace) Intervals() (team, invite time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config.TeamRefreshInterval, w.config.InviteRefreshInterval
}

// OnChange registers fn for sign-in, sign-out and mirror changes. fn is
// called from store and poller goroutines.
func (w *Workspace) OnChange(fn func(Event)) (remove func()) {
	w.listenMu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.listenMu.Unlock()

	return func() {
		w.listenMu.Lock()
		delete(w.listeners, id)
		w.listenMu.Unlock()
	}
}

// Close signs out.
func (w *Workspace) Close() {
	w.SignOut()
}

func (w *Workspace) emit(ev Event) {
	w.listenMu.Lock()
	defer w.listenMu.Unlock()
	for _, fn := range w.listeners {
		fn(ev)
	}
}

func (w *Workspace) build(scope *Scope) (*Bundle, error) {
	w.mu.Lock()
	teamEvery, inviteEvery := w.config.TeamRefreshInterval, w.config.InviteRefreshInterval
	w.mu.Unlock()

	base := w.config.Logger
	b := &Bundle{Scope: scope}

	var err error
	if b.Tasks, err = NewTaskSync(w.store, scope, componentLogger(base, "tasks")); err != nil {
		return nil, err
	}
	if b.Projects, err = NewProjectSync(w.store, scope, b.Tasks, componentLogger(base, "projects")); err != nil {
		b.close()
		return nil, err
	}
	if b.Invites, err = NewInviteSync(w.store, scope, inviteEvery, componentLogger(base, "invites")); err != nil {
		b.close()
		return nil, err
	}
	if b.Roster, err = NewRoster(w.store, scope, teamEvery, componentLogger(base, "roster")); err != nil {
		b.close()
		return nil, fmt.Errorf("failed to start roster: %w", err)
	}

	b.removers = append(b.removers,
		b.Tasks.OnChange(func([]schema.Task) { w.emit(Event{Kind: EventTasks, Bundle: b}) }),
		b.Projects.OnChange(func([]schema.Project) { w.emit(Event{Kind: EventProjects, Bundle: b}) }),
		b.Invites.OnChange(func() { w.emit(Event{Kind: EventInvites, Bundle: b}) }),
		b.Roster.OnChange(func([]schema.User) { w.emit(Event{Kind: EventRoster, Bundle: b}) }),
	)

	b.Invites.Start()
	b.Roster.Start()
	return b, nil
}
