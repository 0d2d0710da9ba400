package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// TaskLister supplies the tasks project counts are derived from.
type TaskLister interface {
	List() []schema.Task
}

// ProjectView is a project with its derived task count.
type ProjectView struct {
	schema.Project
	TaskCount int `json:"taskCount"`
}

// ProjectChanges is a partial project update. Nil fields are left unchanged.
type ProjectChanges struct {
	Name        *string
	Color       *string
	Description *string
}

func (c ProjectChanges) fields(now time.Time) (docstore.Fields, error) {
	f := docstore.Fields{"updatedAt": now}
	if c.Name != nil {
		if strings.TrimSpace(*c.Name) == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		f["name"] = *c.Name
	}
	if c.Color != nil {
		if *c.Color != "" && !strings.HasPrefix(*c.Color, "#") {
			return nil, fmt.Errorf("color must be a hex value like #3b82f6 (got %q)", *c.Color)
		}
		f["color"] = *c.Color
	}
	if c.Description != nil {
		f["description"] = *c.Description
	}
	return f, nil
}

// ProjectSync mirrors the projects created by the acting identity.
//
// Project writes are not optimistic: they go straight to the store and
// the mirror changes when the next snapshot arrives. A failed write
// leaves the mirror as it was.
type ProjectSync struct {
	store  Store
	scope  *Scope
	tasks  TaskLister
	mirror *Mirror[schema.Project]
	feed   *feed[schema.Project]
	logger *log.Logger

	now func() time.Time
}

// NewProjectSync subscribes to the acting identity's projects. Task
// counts are computed from tasks at read time.
//
// If logger is nil, a default logger writing to stderr is used.
func NewProjectSync(store Store, scope *Scope, tasks TaskLister, logger *log.Logger) (*ProjectSync, error) {
	if scope == nil {
		return nil, ErrNotSignedIn
	}
	if logger == nil {
		logger = componentLogger(nil, "projects")
	}

	s := &ProjectSync{
		store:  store,
		scope:  scope,
		tasks:  tasks,
		mirror: NewMirror[schema.Project](nil),
		logger: logger,
		now:    time.Now,
	}

	q := docstore.Collection(schema.CollectionProjects).Where("createdBy", docstore.OpEqual, scope.UserID())
	s.feed = newFeed(scope.Context(context.Background()), "projects", store, q, "updatedAt",
		func(a, b schema.Project) bool { return a.UpdatedAt.After(b.UpdatedAt) },
		s.mirror, logger)

	if err := s.feed.start(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to projects: %w", err)
	}
	return s, nil
}

// List returns the mirrored projects with their task counts.
func (s *ProjectSync) List() []ProjectView {
	projects := s.mirror.List()
	var tasks []schema.Task
	if s.tasks != nil {
		tasks = s.tasks.List()
	}

	views := make([]ProjectView, len(projects))
	for i, p := range projects {
		views[i] = ProjectView{Project: p, TaskCount: schema.CountTasks(tasks, p.ID)}
	}
	return views
}

// Get returns the mirrored project with id and its task count.
func (s *ProjectSync) Get(id string) (ProjectView, bool) {
	for _, v := range s.List() {
		if v.ID == id {
			return v, true
		}
	}
	return ProjectView{}, false
}

// OnChange registers fn to be called after every project snapshot.
func (s *ProjectSync) OnChange(fn func([]schema.Project)) (remove func()) {
	return s.mirror.OnChange(fn)
}

// WaitReady blocks until the first snapshot has been mirrored.
func (s *ProjectSync) WaitReady(ctx context.Context) error {
	return s.feed.waitReady(ctx)
}

// Ordered reports whether the store is serving the updatedAt order.
func (s *ProjectSync) Ordered() bool {
	return s.feed.isOrdered()
}

// Close ends the subscription and empties the mirror.
func (s *ProjectSync) Close() {
	s.feed.close()
}

// Create writes a new project owned by the acting identity and returns
// its id. The mirror picks it up from the next snapshot.
func (s *ProjectSync) Create(ctx context.Context, draft schema.Project) (string, error) {
	now := s.now()

	project := draft
	project.ID = ""
	project.CreatedBy = s.scope.UserID()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.Color == "" {
		project.Color = schema.DefaultProjectColor
	}
	if err := project.Validate(); err != nil {
		return "", fmt.Errorf("invalid project: %w", err)
	}

	id, err := s.store.Create(ctx, schema.CollectionProjects, project)
	if err != nil {
		s.logger.Printf("Error adding project %q: %v", project.Name, err)
		return "", fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Printf("Created project: %s (%s)", id, project.Name)
	return id, nil
}

// Update writes changes to the store.
func (s *ProjectSync) Update(ctx context.Context, id string, changes ProjectChanges) error {
	fields, err := changes.fields(s.now())
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, schema.CollectionProjects, id, fields); err != nil {
		s.logger.Printf("Error updating project %s: %v", id, err)
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// Remove deletes a project from the store. Tasks referencing it keep
// their project id.
func (s *ProjectSync) Remove(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, schema.CollectionProjects, id); err != nil {
		s.logger.Printf("Error deleting project %s: %v", id, err)
		return fmt.Errorf("failed to delete project: %w", err)
	}

	s.logger.Printf("Deleted project: %s", id)
	return nil
}
