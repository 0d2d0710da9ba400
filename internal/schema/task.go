package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists task states in board column order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// IsValid reports whether s is a known task status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities low < medium < high.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	}
	return -1
}

// MaxDescriptionLength is enforced where descriptions are edited.
const MaxDescriptionLength = 500

// DateLayout is the calendar-date format of Task.DueDate.
const DateLayout = "2006-01-02"

// TempIDPrefix marks tasks that exist only in a local mirror.
const TempIDPrefix = "temp-"

// Comment is an append-only note on a task.
type Comment struct {
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	Text   string    `json:"text"`
	Date   time.Time `json:"date"`
}

// Task is a unit of work owned by its creator.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	ProjectID   string    `json:"projectId,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Comments    []Comment `json:"comments"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %q", t.Priority)
	}
	if t.DueDate != "" {
		if _, err := time.Parse(DateLayout, t.DueDate); err != nil {
			return fmt.Errorf("invalid due date %q: want YYYY-MM-DD", t.DueDate)
		}
	}
	if t.CreatedBy == "" {
		return fmt.Errorf("createdBy is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("updatedAt must not precede createdAt")
	}
	return nil
}

// IsTemporary reports whether the task has not been confirmed by the store yet.
func (t *Task) IsTemporary() bool {
	return strings.HasPrefix(t.ID, TempIDPrefix)
}

// Clone returns a deep copy so mirror snapshots never share comment arrays.
func (t Task) Clone() Task {
	if t.Comments != nil {
		comments := make([]Comment, len(t.Comments))
		copy(comments, t.Comments)
		t.Comments = comments
	}
	return t
}

// ValidateDescription enforces the description length limit at edit time.
func ValidateDescription(desc string) error {
	if n := utf8.RuneCountInString(desc); n > MaxDescriptionLength {
		return fmt.Errorf("description must be %d characters or less (got %d)", MaxDescriptionLength, n)
	}
	return nil
}

// SetDefaults applies default values for omitted fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
}
