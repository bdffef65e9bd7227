// Package policy owns the layered policy state: global defaults, role
// policies and user overrides, with a Redis cache in front of Postgres.
package policy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// Domain errors wrap the httpx sentinels so handlers can map them to HTTP
// responses with httpx.RespondError.
var (
	// ErrNotFound indicates the requested policy does not exist.
	ErrNotFound = fmt.Errorf("policy: %w", httpx.ErrNotFound)
	// ErrConflict indicates a duplicate policy name on create.
	ErrConflict = fmt.Errorf("policy name: %w", httpx.ErrDuplicate)
	// ErrAlreadyAssigned indicates the role already holds the policy.
	ErrAlreadyAssigned = fmt.Errorf("role assignment: %w", httpx.ErrDuplicate)
	// ErrAssignmentNotFound indicates a missing role/policy edge.
	ErrAssignmentNotFound = fmt.Errorf("role assignment: %w", httpx.ErrNotFound)
)

// Policy is a named, reusable bundle of settings assignable to roles.
// Deletion is logical: inactive policies stay in place for audit continuity.
type Policy struct {
	ID          int64
	Name        string
	Code        string
	Namespace   string
	Description string
	IsActive    bool
	Settings    Settings
	CreatedAt   time.Time
	ModifiedAt  *time.Time
}

// RoleAssignment is the role→policy many-to-many edge. A role may hold at
// most one active policy per namespace; on conflict the last assignment
// wins during resolution.
type RoleAssignment struct {
	RoleID     int64
	PolicyID   int64
	AssignedAt time.Time
}

// UserOverride carries the same settings namespace as a policy but sparse:
// keys absent from Settings defer to the role/global tier.
type UserOverride struct {
	UserID    int64
	Namespace string
	Settings  Settings
	CreatedAt time.Time
}

// Stats summarises the policy inventory for the admin surface.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Inactive   int            `json:"inactive"`
	ByModule   map[string]int `json:"byModule"`
	Overrides  int            `json:"overrides"`
	RolesBound int            `json:"rolesBound"`
}

// Settings is a string-keyed bag of typed values. Values are stored as
// strings and read through the typed accessors; a missing or unparsable
// value yields the caller's default.
type Settings map[string]string

// Clone returns an independent copy.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Bool reads a boolean setting.
func (s Settings) Bool(key string, def bool) bool {
	raw, ok := s[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Int reads an integer setting.
func (s Settings) Int(key string, def int) int {
	raw, ok := s[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Duration reads a duration setting (Go duration syntax).
func (s Settings) Duration(key string, def time.Duration) time.Duration {
	raw, ok := s[key]
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}
