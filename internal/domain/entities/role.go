package entities

import "time"

// Role is the metadata row for a role; its permissions live in the policy store.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Builtin     bool      `json:"builtin"`
	CreatedAt   time.Time `json:"created_at"`
}

// BackendPermission grants Action on Backend to Role. "*" is a wildcard for either field.
type BackendPermission struct {
	Role    string `json:"role"`
	Backend string `json:"backend"`
	Action  string `json:"action"`
}
