package schema

import (
	"fmt"
	"strings"
)

// Role is an identity's permission level.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User is the profile document of an authenticated identity.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// NormalizeUsername trims and lowercases a username. It is applied
// before a username is stored and before it is used in a query.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Validate checks if the User has valid field values.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Username != NormalizeUsername(u.Username) {
		return fmt.Errorf("username must be lowercase (got %q)", u.Username)
	}
	if strings.ContainsAny(u.Username, " \t@") {
		return fmt.Errorf("username must not contain spaces or @ (got %q)", u.Username)
	}
	if u.Role != RoleMember && u.Role != RoleAdmin {
		return fmt.Errorf("invalid role: %q", u.Role)
	}
	return nil
}

// DisplayName prefers the full name and falls back to the username.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
