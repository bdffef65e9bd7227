// Package permission implements the canonical permission identifier and the
// resolvers that derive one from an HTTP request.
//
// Format: Module.Resource.Operation[.Scope]
//
// Examples:
//
//	Lookups.LookupType.View
//	Billing.Invoice.Approve
//	EMR.Encounter.View.Department:ED
package permission

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Wildcard is the pattern segment that matches any candidate segment.
const Wildcard = "*"

// ErrMalformed indicates a permission string that cannot be parsed.
var ErrMalformed = errors.New("permission: malformed identifier")

// ID is the canonical identifier for one gated action. Immutable once built.
type ID struct {
	Module    string
	Resource  string
	Operation string
	Scope     string // empty means global, no scope segment
}

// String renders the dotted canonical form.
func (id ID) String() string {
	s := id.Module + "." + id.Resource + "." + id.Operation
	if id.Scope != "" {
		s += "." + id.Scope
	}
	return s
}

// HasScope reports whether the identifier carries a scope qualifier.
func (id ID) HasScope() bool {
	return id.Scope != ""
}

// Matches reports whether the identifier satisfies the given pattern.
func (id ID) Matches(pattern string) bool {
	return Matches(id.String(), pattern)
}

// Parse splits a canonical permission string into its components.
// Anything past the third segment is treated as the scope, so scopes
// containing dots survive a round trip.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 3 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	for _, p := range parts[:3] {
		if strings.TrimSpace(p) == "" {
			return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
	}
	id := ID{Module: parts[0], Resource: parts[1], Operation: parts[2]}
	if len(parts) > 3 {
		id.Scope = strings.Join(parts[3:], ".")
	}
	return id, nil
}

// IsValid reports whether s is a well-formed permission string.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Matches compares a candidate permission against a pattern segment by
// segment. A pattern segment of "*" matches anything. A pattern longer than
// the candidate never matches. Candidate segments beyond the pattern length
// are ignored, so "Lookups.LookupType" matches "Lookups.LookupType.View".
// That trailing-segment permissiveness mirrors the behavior the policy data
// was authored against; see the matching tests before tightening it.
func Matches(candidate, pattern string) bool {
	if candidate == pattern {
		return true
	}
	candidateParts := strings.Split(candidate, ".")
	patternParts := strings.Split(pattern, ".")
	for i, part := range patternParts {
		if i >= len(candidateParts) {
			return false
		}
		if part == Wildcard {
			continue
		}
		if part != candidateParts[i] {
			return false
		}
	}
	return true
}

// Permutations yields one identifier per standard operation for the given
// module and resource, followed by the wildcard variant. Intended for
// administrative seeding, not the request hot path.
func Permutations(module, resource string) iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for _, op := range StandardOperations {
			if !yield(ID{Module: module, Resource: resource, Operation: op}) {
				return
			}
		}
		yield(ID{Module: module, Resource: resource, Operation: Wildcard})
	}
}
