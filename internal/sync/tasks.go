package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// TaskChanges is a partial task update. Nil fields are left unchanged.
type TaskChanges struct {
	Title       *string
	Description *string
	Status      *schema.Status
	Priority    *schema.Priority
	AssignedTo  *string
	ProjectID   *string
	DueDate     *string
}

// IsEmpty reports whether no field is set.
func (c TaskChanges) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil &&
		c.Priority == nil && c.AssignedTo == nil && c.ProjectID == nil && c.DueDate == nil
}

// Validate checks the fields that are set.
func (c TaskChanges) Validate() error {
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if c.Status != nil && !c.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", *c.Status)
	}
	if c.Priority != nil && !c.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %q", *c.Priority)
	}
	if c.DueDate != nil && *c.DueDate != "" {
		if _, err := time.Parse(schema.DateLayout, *c.DueDate); err != nil {
			return fmt.Errorf("invalid due date %q: want YYYY-MM-DD", *c.DueDate)
		}
	}
	return nil
}

func (c TaskChanges) applyTo(t *schema.Task, now time.Time) {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.AssignedTo != nil {
		t.AssignedTo = *c.AssignedTo
	}
	if c.ProjectID != nil {
		t.ProjectID = *c.ProjectID
	}
	if c.DueDate != nil {
		t.DueDate = *c.DueDate
	}
	t.UpdatedAt = now
}

// fields is the store payload for the same change.
func (c TaskChanges) fields(now time.Time) docstore.Fields {
	f := docstore.Fields{"updatedAt": now}
	if c.Title != nil {
		f["title"] = *c.Title
	}
	if c.Description != nil {
		f["description"] = *c.Description
	}
	if c.Status != nil {
		f["status"] = *c.Status
	}
	if c.Priority != nil {
		f["priority"] = *c.Priority
	}
	if c.AssignedTo != nil {
		f["assignedTo"] = *c.AssignedTo
	}
	if c.ProjectID != nil {
		f["projectId"] = *c.ProjectID
	}
	if c.DueDate != nil {
		f["dueDate"] = *c.DueDate
	}
	return f
}

// TaskSync mirrors the tasks created by the acting identity, newest
// update first, and applies task edits optimistically.
type TaskSync struct {
	store  Store
	scope  *Scope
	mirror *Mirror[schema.Task]
	feed   *feed[schema.Task]
	logger *log.Logger

	now func() time.Time

	// lastStamp keeps temporary and comment ids unique within a
	// millisecond.
	stampMu   sync.Mutex
	lastStamp int64
}

// NewTaskSync subscribes to the acting identity's tasks.
//
// If logger is nil, a default logger writing to stderr is used.
func NewTaskSync(store Store, scope *Scope, logger *log.Logger) (*TaskSync, error) {
	if scope == nil {
		return nil, ErrNotSignedIn
	}
	if logger == nil {
		logger = componentLogger(nil, "tasks")
	}

	s := &TaskSync{
		store:  store,
		scope:  scope,
		mirror: NewMirror(schema.Task.Clone),
		logger: logger,
		now:    time.Now,
	}

	q := docstore.Collection(schema.CollectionTasks).Where("createdBy", docstore.OpEqual, scope.UserID())
	s.feed = newFeed(scope.Context(context.Background()), "tasks", store, q, "updatedAt",
		func(a, b schema.Task) bool { return a.UpdatedAt.After(b.UpdatedAt) },
		s.mirror, logger)

	if err := s.feed.start(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to tasks: %w", err)
	}
	return s, nil
}

// List returns the mirrored tasks.
func (s *TaskSync) List() []schema.Task {
	return s.mirror.List()
}

// Get returns the mirrored task with id.
func (s *TaskSync) Get(id string) (schema.Task, bool) {
	return s.mirror.Find(func(t schema.Task) bool { return t.ID == id })
}

// OnChange registers fn to receive the task list after every change.
func (s *TaskSync) OnChange(fn func([]schema.Task)) (remove func()) {
	return s.mirror.OnChange(fn)
}

// WaitReady blocks until the first snapshot has been mirrored.
func (s *TaskSync) WaitReady(ctx context.Context) error {
	return s.feed.waitReady(ctx)
}

// Ordered reports whether the store is serving the updatedAt order.
// It turns false for good once the subscription falls back to
// client-side sorting.
func (s *TaskSync) Ordered() bool {
	return s.feed.isOrdered()
}

// Close ends the subscription and empties the mirror. In-flight writes
// are not cancelled.
func (s *TaskSync) Close() {
	s.feed.close()
}

// Create inserts draft at the head of the mirror under a temporary id
// and writes it to the store. The next snapshot replaces the temporary
// entry with the stored task. If the write fails only the temporary
// entry is removed.
//
// Returns the temporary id.
func (s *TaskSync) Create(ctx context.Context, draft schema.Task) (string, error) {
	now := s.now()
	tempID := fmt.Sprintf("%s%d", schema.TempIDPrefix, s.stamp(now))

	task := draft
	task.ID = tempID
	task.CreatedBy = s.scope.UserID()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Comments = []schema.Comment{}
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("invalid task: %w", err)
	}

	err := s.mirror.Mutate(ctx, Mutation[schema.Task]{
		Apply: func(tasks []schema.Task) ([]schema.Task, error) {
			return append([]schema.Task{task}, tasks...), nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.store.Create(ctx, schema.CollectionTasks, task)
			return err
		},
		Revert: func(_, current []schema.Task) []schema.Task {
			return removeTask(current, tempID)
		},
	})
	if err != nil {
		s.logger.Printf("Error creating task %q: %v", task.Title, err)
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Printf("Created task: %s", task.Title)
	return tempID, nil
}

// Update applies changes and bumps UpdatedAt, then writes the same
// payload to the store. On failure the mirror is restored to its state
// before the call.
func (s *TaskSync) Update(ctx context.Context, id string, changes TaskChanges) error {
	if err := changes.Validate(); err != nil {
		return err
	}
	now := s.now()

	err := s.mirror.Mutate(ctx, Mutation[schema.Task]{
		Apply: func(tasks []schema.Task) ([]schema.Task, error) {
			i := indexOfTask(tasks, id)
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			changes.applyTo(&tasks[i], now)
			return tasks, nil
		},
		Remote: func(ctx context.Context) error {
			return s.store.Update(ctx, schema.CollectionTasks, id, changes.fields(now))
		},
	})
	if err != nil {
		s.logger.Printf("Error updating task %s: %v", id, err)
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// Move changes only the status of a task.
func (s *TaskSync) Move(ctx context.Context, id string, status schema.Status) error {
	return s.Update(ctx, id, TaskChanges{Status: &status})
}

// Remove deletes a task from the mirror, then from the store. On
// failure the mirror is restored.
func (s *TaskSync) Remove(ctx context.Context, id string) error {
	err := s.mirror.Mutate(ctx, Mutation[schema.Task]{
		Apply: func(tasks []schema.Task) ([]schema.Task, error) {
			if indexOfTask(tasks, id) < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			return removeTask(tasks, id), nil
		},
		Remote: func(ctx context.Context) error {
			return s.store.Delete(ctx, schema.CollectionTasks, id)
		},
	})
	if err != nil {
		s.logger.Printf("Error deleting task %s: %v", id, err)
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.logger.Printf("Deleted task: %s", id)
	return nil
}

// AddComment appends a comment by the acting identity and bumps
// UpdatedAt. The store write only appends, so it never overwrites
// comments written elsewhere. On failure the mirror is restored.
func (s *TaskSync) AddComment(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyComment
	}

	now := s.now()
	comment := schema.Comment{
		ID:     fmt.Sprintf("comment%d", s.stamp(now)),
		UserID: s.scope.UserID(),
		Text:   text,
		Date:   now,
	}

	err := s.mirror.Mutate(ctx, Mutation[schema.Task]{
		Apply: func(tasks []schema.Task) ([]schema.Task, error) {
			i := indexOfTask(tasks, id)
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			tasks[i].Comments = append(tasks[i].Comments, comment)
			tasks[i].UpdatedAt = now
			return tasks, nil
		},
		Remote: func(ctx context.Context) error {
			return s.store.Update(ctx, schema.CollectionTasks, id, docstore.Fields{
				"comments":  docstore.ArrayUnion(comment),
				"updatedAt": now,
			})
		},
	})
	if err != nil {
		s.logger.Printf("Error adding comment to task %s: %v", id, err)
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// stamp returns now in unix milliseconds, bumped past the last value
// handed out.
func (s *TaskSync) stamp(now time.Time) int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	ms := now.UnixMilli()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}
	s.lastStamp = ms
	return ms
}

func indexOfTask(tasks []schema.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func removeTask(tasks []schema.Task, id string) []schema.Task {
	out := make([]schema.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
