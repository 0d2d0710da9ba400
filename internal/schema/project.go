package schema

import (
	"fmt"
	"strings"
	"time"
)

// DefaultProjectColor is used when a project is created without a color.
const DefaultProjectColor = "#3b82f6"

// Project groups tasks. Its task count is derived from the task mirror.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Color != "" && !strings.HasPrefix(p.Color, "#") {
		return fmt.Errorf("color must be a hex value like #3b82f6 (got %q)", p.Color)
	}
	if p.CreatedBy == "" {
		return fmt.Errorf("createdBy is required")
	}
	return nil
}

// CountTasks returns how many tasks reference projectID.
func CountTasks(tasks []Task, projectID string) int {
	n := 0
	for i := range tasks {
		if tasks[i].ProjectID == projectID {
			n++
		}
	}
	return n
}
