// Package authz gates HTTP requests on dynamically resolved permissions.
package authz

import (
	"context"
	"fmt"

	"github.com/meridian-his/meridian-his/internal/permission"
	"github.com/meridian-his/meridian-his/internal/policy"
)

// Requirement is a closed set of authorization demands. The middleware
// dispatches on the concrete type in a single switch; adding a kind means
// extending that switch.
type Requirement interface {
	isRequirement()
	fmt.Stringer
}

// PermissionRequirement demands one concrete permission identifier.
type PermissionRequirement struct {
	Permission string
}

func (PermissionRequirement) isRequirement() {}

func (r PermissionRequirement) String() string { return r.Permission }

// ModuleOperationRequirement demands the operation on any resource of the
// module.
type ModuleOperationRequirement struct {
	Module    string
	Operation string
}

func (ModuleOperationRequirement) isRequirement() {}

func (r ModuleOperationRequirement) String() string {
	return r.Module + ".*." + r.Operation
}

// DatabasePolicyRequirement demands that one of the subject's roles holds
// the named active policy.
type DatabasePolicyRequirement struct {
	PolicyName string
}

func (DatabasePolicyRequirement) isRequirement() {}

func (r DatabasePolicyRequirement) String() string { return "policy:" + r.PolicyName }

// PolicySource is the slice of the policy store the middleware consults on
// the slow path.
type PolicySource interface {
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	UserHasPermission(ctx context.Context, userID int64, required string) (bool, error)
	PoliciesForRole(ctx context.Context, roleID int64) ([]policy.Policy, error)
}

// satisfies evaluates one requirement for the subject. Claim permissions are
// checked first; the store is only consulted on a claims miss.
func (m *Middleware) satisfies(ctx context.Context, subject Subject, req Requirement) (bool, error) {
	switch r := req.(type) {
	case PermissionRequirement:
		if holdsPermission(subject.Permissions, r.Permission) {
			return true, nil
		}
		return m.store.UserHasPermission(ctx, subject.UserID, r.Permission)
	case ModuleOperationRequirement:
		if anyGrantCovers(subject.Permissions, r.Module, r.Operation) {
			return true, nil
		}
		granted, err := m.store.UserPermissions(ctx, subject.UserID)
		if err != nil {
			return false, err
		}
		return anyGrantCovers(granted, r.Module, r.Operation), nil
	case DatabasePolicyRequirement:
		for _, roleID := range subject.Roles {
			policies, err := m.store.PoliciesForRole(ctx, roleID)
			if err != nil {
				return false, err
			}
			for _, p := range policies {
				if p.IsActive && p.Name == r.PolicyName {
					return true, nil
				}
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("authz: unknown requirement %T", req)
	}
}

func holdsPermission(granted []string, required string) bool {
	for _, g := range granted {
		if g == required || permission.Matches(required, g) {
			return true
		}
	}
	return false
}

// anyGrantCovers reports whether any granted permission reaches the module
// and operation, treating wildcards in the grant as covering.
func anyGrantCovers(granted []string, module, operation string) bool {
	for _, g := range granted {
		id, err := permission.Parse(g)
		if err != nil {
			continue
		}
		moduleOK := id.Module == module || id.Module == permission.Wildcard
		operationOK := id.Operation == operation || id.Operation == permission.Wildcard
		if moduleOK && operationOK {
			return true
		}
	}
	return false
}
