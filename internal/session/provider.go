// Package session tracks the signed-in identity: sign-up, sign-in,
// sign-out, and a push stream of identity changes for the workspace.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Store is the part of the document store the provider needs.
// *docstore.DB implements it.
type Store interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
	VerifyPassword(ctx context.Context, email, password string) (string, error)
	DeleteAccount(ctx context.Context, uid string) error
	Get(ctx context.Context, collection, id string) (*docstore.Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)
}

var _ Store = (*docstore.DB)(nil)

// SignUpRequest holds the fields of a new account.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
	Username string
}

// Provider holds the current identity and notifies watchers when it
// changes. If a session file path is set, sign-in state survives
// process restarts through Restore.
type Provider struct {
	store  Store
	file   string
	logger *log.Logger

	mu       sync.Mutex
	current  *schema.User
	watchers map[int]func(*schema.User)
	nextID   int
}

// New creates a signed-out provider. sessionFile may be empty to keep
// the session in memory only.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store Store, sessionFile string, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Provider{
		store:    store,
		file:     sessionFile,
		logger:   logger,
		watchers: make(map[int]func(*schema.User)),
	}
}

// SignUp creates an account and its profile and signs it in. The
// username is stored lowercased; the role is member.
func (p *Provider) SignUp(ctx context.Context, req SignUpRequest) (*schema.User, error) {
	user := &schema.User{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Name:     strings.TrimSpace(req.Name),
		Username: schema.NormalizeUsername(req.Username),
		Role:     schema.RoleMember,
	}

	// Validate everything but the id before creating the account.
	probe := *user
	probe.ID = "pending"
	if err := probe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	docs, err := p.store.Query(ctx, docstore.Collection(schema.CollectionUsers).
		Where("username", docstore.OpEqual, user.Username).
		WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if len(docs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, user.Username)
	}

	uid, err := p.store.CreateAccount(ctx, user.Email, req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	user.ID = uid

	err = p.store.Set(ctx, schema.CollectionUsers, uid, docstore.Fields{
		"email":     user.Email,
		"name":      user.Name,
		"username":  user.Username,
		"role":      user.Role,
		"createdAt": time.Now(),
	})
	if err != nil {
		if derr := p.store.DeleteAccount(ctx, uid); derr != nil {
			p.logger.Printf("Warning: failed to roll back account %s: %v", uid, derr)
		}
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}

	p.logger.Printf("Signed up %s (%s)", user.Username, uid)
	if err := p.setCurrent(user, true); err != nil {
		return user, err
	}
	return user, nil
}

// SignIn verifies credentials, loads the profile and signs it in.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*schema.User, error) {
	uid, err := p.store.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	user, err := p.loadProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	p.logger.Printf("Signed in %s", user.Username)
	if err := p.setCurrent(user, true); err != nil {
		return user, err
	}
	return user, nil
}

// Restore signs in the identity recorded in the session file, if any.
// It returns nil and stays signed out when there is no session.
func (p *Provider) Restore(ctx context.Context) (*schema.User, error) {
	if p.file == "" {
		return nil, nil
	}
	f, err := ReadFile(p.file)
	if err != nil || f == nil {
		return nil, err
	}

	user, err := p.loadProfile(ctx, f.UserID)
	if errors.Is(err, ErrProfileMissing) {
		p.logger.Printf("Discarding session of %s: %v", f.UserID, err)
		return nil, RemoveFile(p.file)
	}
	if err != nil {
		return nil, err
	}

	if err := p.setCurrent(user, false); err != nil {
		return user, err
	}
	return user, nil
}

// Reload re-reads the session file and follows sign-ins and sign-outs
// made by other processes. A missing file signs the provider out
// without touching the file.
func (p *Provider) Reload(ctx context.Context) (*schema.User, error) {
	user, err := p.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil && p.Current() != nil {
		if err := p.setCurrent(nil, false); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// SignOut forgets the current identity and removes the session file.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	was := p.current
	p.mu.Unlock()

	if was != nil {
		p.logger.Printf("Signed out %s", was.Username)
	}
	if err := p.setCurrent(nil, false); err != nil {
		return err
	}
	if p.file != "" {
		return RemoveFile(p.file)
	}
	return nil
}

// Current returns a copy of the signed-in identity, or nil.
func (p *Provider) Current() *schema.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

// Require returns the signed-in identity or ErrNotSignedIn.
func (p *Provider) Require() (*schema.User, error) {
	if u := p.Current(); u != nil {
		return u, nil
	}
	return nil, ErrNotSignedIn
}

// Watch calls fn with the current identity now and after every change.
// The returned func stops the notifications.
func (p *Provider) Watch(fn func(user *schema.User)) (stop func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(copyUser(current))
	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) loadProfile(ctx context.Context, uid string) (*schema.User, error) {
	doc, err := p.store.Get(ctx, schema.CollectionUsers, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProfileMissing, uid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var user schema.User
	if err := doc.DataTo(&user); err != nil {
		return nil, err
	}
	if user.Role == "" {
		user.Role = schema.RoleMember
	}
	return &user, nil
}

// setCurrent swaps the identity, persists it if asked, and notifies
// watchers outside the lock.
func (p *Provider) setCurrent(user *schema.User, persist bool) error {
	p.mu.Lock()
	p.current = copyUser(user)
	fns := make([]func(*schema.User), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(user))
	}

	if persist && p.file != "" && user != nil {
		return WriteFile(p.file, &File{UserID: user.ID, Email: user.Email, SignedInAt: time.Now()})
	}
	return nil
}

func copyUser(u *schema.User) *schema.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
