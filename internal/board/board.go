// Package board derives the views of a task list: filtering, sorting,
// kanban columns and dashboard statistics. Everything here is a pure
// function of a mirrored task slice.
package board

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Filter selects tasks. Zero fields match everything.
type Filter struct {
	Status     schema.Status
	Priority   schema.Priority
	AssigneeID string
	ProjectID  string
	// Text matches title or description, case-insensitively.
	Text string
}

// Match reports whether t passes every set field of f.
func (f Filter) Match(t schema.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssigneeID != "" && t.AssignedTo != f.AssigneeID {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	return true
}

// Apply returns the tasks matching f, in their original order.
func Apply(tasks []schema.Task, f Filter) []schema.Task {
	out := make([]schema.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// SortField names a sortable task column.
type SortField string

const (
	SortTitle    SortField = "title"
	SortStatus   SortField = "status"
	SortPriority SortField = "priority"
	SortDueDate  SortField = "dueDate"
	SortAssignee SortField = "assignedTo"
	SortUpdated  SortField = "updatedAt"
)

// SortFields lists the accepted sort fields.
var SortFields = []SortField{SortTitle, SortStatus, SortPriority, SortDueDate, SortAssignee, SortUpdated}

// ParseSortField accepts a field name, case-insensitively.
func ParseSortField(s string) (SortField, error) {
	for _, f := range SortFields {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// NameFunc resolves a user id to the name shown for it.
type NameFunc func(userID string) string

// Sort returns a sorted copy of tasks. Statuses sort in board order and
// priorities by rank; tasks without a due date sort last either way.
// Assignees sort by the name names returns (nil compares ids).
func Sort(tasks []schema.Task, field SortField, descending bool, names NameFunc) []schema.Task {
	out := make([]schema.Task, len(tasks))
	copy(out, tasks)

	if names == nil {
		names = func(id string) string { return id }
	}

	cmp := func(a, b schema.Task) int {
		switch field {
		case SortTitle:
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortStatus:
			return statusIndex(a.Status) - statusIndex(b.Status)
		case SortPriority:
			return a.Priority.Rank() - b.Priority.Rank()
		case SortDueDate:
			return strings.Compare(a.DueDate, b.DueDate)
		case SortAssignee:
			return strings.Compare(strings.ToLower(names(a.AssignedTo)), strings.ToLower(names(b.AssignedTo)))
		default:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if field == SortDueDate && (a.DueDate == "") != (b.DueDate == "") {
			return b.DueDate == ""
		}
		c := cmp(a, b)
		if descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

func statusIndex(s schema.Status) int {
	for i, st := range schema.Statuses {
		if st == s {
			return i
		}
	}
	return len(schema.Statuses)
}

// Column is one kanban lane.
type Column struct {
	Status schema.Status
	Tasks  []schema.Task
}

// Kanban groups tasks into one column per status, in board order.
// Tasks keep their relative order within a column.
func Kanban(tasks []schema.Task) []Column {
	cols := make([]Column, len(schema.Statuses))
	for i, s := range schema.Statuses {
		cols[i] = Column{Status: s, Tasks: []schema.Task{}}
	}
	for _, t := range tasks {
		if i := statusIndex(t.Status); i < len(cols) {
			cols[i].Tasks = append(cols[i].Tasks, t)
		}
	}
	return cols
}

// RecentLimit is how many tasks Stats.Recent holds.
const RecentLimit = 5

// Stats are the dashboard counters.
type Stats struct {
	Total        int           `json:"total"`
	DueToday     int           `json:"dueToday"`
	InProgress   int           `json:"inProgress"`
	Completed    int           `json:"completed"`
	Mine         int           `json:"mine"`
	HighPriority int           `json:"highPriority"`
	Recent       []schema.Task `json:"recent"`
}

// Percent returns n as a share of Total, 0 for an empty board.
func (s Stats) Percent(n int) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(s.Total)
}

// Summarize computes dashboard statistics. userID is the identity whose
// assignments count as "mine"; today selects the due-today date in its
// own location.
func Summarize(tasks []schema.Task, userID string, today time.Time) Stats {
	date := today.Format(schema.DateLayout)
	st := Stats{Total: len(tasks)}

	for _, t := range tasks {
		if t.DueDate == date {
			st.DueToday++
		}
		switch t.Status {
		case schema.StatusInProgress:
			st.InProgress++
		case schema.StatusCompleted:
			st.Completed++
		}
		if userID != "" && t.AssignedTo == userID {
			st.Mine++
		}
		if t.Priority == schema.PriorityHigh {
			st.HighPriority++
		}
	}

	recent := Sort(tasks, SortUpdated, true, nil)
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	st.Recent = recent
	return st
}
