package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/taskboard/internal/config"
	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	"github.com/Mschirtzinger/taskboard/internal/session"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
	"github.com/Mschirtzinger/taskboard/internal/ui"
)

// readyTimeout bounds the wait for the first snapshot of each mirror.
const readyTimeout = 10 * time.Second

// indexes are the ordered indexes the synchronizers subscribe with.
var indexes = []struct {
	collection string
	field      string
}{
	{schema.CollectionTasks, "updatedAt"},
	{schema.CollectionProjects, "updatedAt"},
}

// app is the state shared by one command invocation.
type app struct {
	cfg     *config.Config
	db      *docstore.DB
	session *session.Provider
	logger  *log.Logger
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), fmt.Sprintf(format, args...))
}

// commandLogger logs to stderr with --verbose and nowhere otherwise.
func commandLogger(cmd *cobra.Command, prefix string) *log.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, prefix, 0)
}

func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatalf("%v", err)
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.Store.Path = store
	}
	return cfg
}

// openStore opens the document store with the app's rules and indexes.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*docstore.DB, error) {
	storeConfig := &docstore.Config{Logger: logger}
	if cfg.Store.Rules {
		storeConfig.Rules = schema.OwnerFields()
	}

	db, err := docstore.Open(cfg.Store.Path, storeConfig)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, ix := range indexes {
		if err := db.EnsureIndex(ctx, ix.collection, ix.field, true); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// openApp loads config, opens the store and restores the session.
func openApp(cmd *cobra.Command) *app {
	cfg := loadConfig(cmd)
	logger := commandLogger(cmd, "[tb] ")

	db, err := openStore(cmd.Context(), cfg, commandLogger(cmd, "[docstore] "))
	if err != nil {
		fatalf("%v", err)
	}

	p := session.New(db, cfg.Session.File, commandLogger(cmd, "[session] "))
	if _, err := p.Restore(cmd.Context()); err != nil {
		warnf("could not restore session: %v", err)
	}
	return &app{cfg: cfg, db: db, session: p, logger: logger}
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Printf("Error closing store: %v", err)
	}
}

// bundle starts the synchronizers for the signed-in identity and waits
// for their first snapshots. The returned func closes them.
func (a *app) bundle(ctx context.Context) (*tbsync.Bundle, func()) {
	user, err := a.session.Require()
	if err != nil {
		fatalf("not logged in (run 'tb login' or 'tb signup')")
	}

	ws := tbsync.NewWorkspace(a.db, &tbsync.Config{
		TeamRefreshInterval:   a.cfg.Sync.TeamRefreshInterval,
		InviteRefreshInterval: a.cfg.Sync.InviteRefreshInterval,
		Logger:                a.logger,
	})
	if err := ws.SignIn(user); err != nil {
		fatalf("%v", err)
	}
	b := ws.Current()

	waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := b.Tasks.WaitReady(waitCtx); err != nil {
		ws.Close()
		fatalf("failed to load tasks: %v", err)
	}
	if err := b.Projects.WaitReady(waitCtx); err != nil {
		ws.Close()
		fatalf("failed to load projects: %v", err)
	}
	return b, ws.Close
}

// resolveTask finds a task by id or unique id prefix.
func resolveTask(b *tbsync.Bundle, ref string) schema.Task {
	if t, ok := b.Tasks.Get(ref); ok {
		return t
	}
	var matches []schema.Task
	for _, t := range b.Tasks.List() {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		fatalf("no task matches %q", ref)
	case 1:
		return matches[0]
	}
	fatalf("%q matches %d tasks; use more of the id", ref, len(matches))
	return schema.Task{}
}

// resolveProject finds a project by id, unique id prefix, or name.
func resolveProject(b *tbsync.Bundle, ref string) tbsync.ProjectView {
	if p, ok := b.Projects.Get(ref); ok {
		return p
	}
	var matches []tbsync.ProjectView
	for _, p := range b.Projects.List() {
		if strings.EqualFold(p.Name, ref) {
			return p
		}
		if strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		fatalf("no project matches %q", ref)
	case 1:
		return matches[0]
	}
	fatalf("%q matches %d projects; use more of the id", ref, len(matches))
	return tbsync.ProjectView{}
}

// resolveAssignee maps "me", a teammate's username or a user id to a
// user id. Only members of the roster can be assigned.
func resolveAssignee(ctx context.Context, b *tbsync.Bundle, ref string) string {
	if ref == "" || ref == "none" {
		return ""
	}
	if ref == "me" {
		return b.Scope.UserID()
	}
	if err := b.Roster.Refresh(ctx); err != nil {
		warnf("team roster may be stale: %v", err)
	}
	if u, ok := b.Roster.Lookup(ref); ok {
		return u.ID
	}
	name := schema.NormalizeUsername(ref)
	for _, u := range b.Roster.Members() {
		if u.Username == name {
			return u.ID
		}
	}
	fatalf("%q is not on your team", ref)
	return ""
}

// displayUser names a user id for output.
func displayUser(b *tbsync.Bundle, id string) string {
	if id == "" {
		return "-"
	}
	if u, ok := b.Roster.Lookup(id); ok {
		return u.DisplayName()
	}
	return id
}

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue accepts YYYY-MM-DD or natural language such as "next friday".
// "none" clears the date.
func parseDue(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return "", nil
	}
	if _, err := time.Parse(schema.DateLayout, s); err == nil {
		return s, nil
	}
	r, err := dueParser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized due date %q: use YYYY-MM-DD or e.g. \"next friday\"", s)
	}
	return r.Time.Format(schema.DateLayout), nil
}
