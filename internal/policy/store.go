package policy

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-his/meridian-his/internal/permission"
)

// Storage is the durable store behind the cache. *Repository satisfies it;
// tests substitute stubs.
type Storage interface {
	GetPolicyByName(ctx context.Context, name string) (Policy, error)
	GetPolicyByID(ctx context.Context, id int64) (Policy, error)
	ListPolicies(ctx context.Context, includeInactive bool) ([]Policy, error)
	PoliciesForRole(ctx context.Context, roleID int64) ([]Policy, error)
	CreatePolicy(ctx context.Context, p Policy) (int64, error)
	UpdatePolicy(ctx context.Context, p Policy) error
	DeactivatePolicy(ctx context.Context, id int64) error
	AssignPolicyToRole(ctx context.Context, roleID, policyID int64) error
	RemovePolicyFromRole(ctx context.Context, roleID, policyID int64) error
	UserRoles(ctx context.Context, userID int64) ([]int64, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	GetUserOverride(ctx context.Context, userID int64, namespace string) (UserOverride, error)
	SetUserOverride(ctx context.Context, o UserOverride) error
	RemoveUserOverride(ctx context.Context, userID int64, namespace string) error
	GlobalSettings(ctx context.Context, namespace string) (Settings, error)
	SetGlobalSettings(ctx context.Context, namespace string, settings Settings) error
	PolicyStats(ctx context.Context) (Stats, error)
}

// Store is the cache-fronted source of truth for policies, permission
// grants and settings. Reads are cache-aside with a fixed TTL; a cache hit
// never re-validates before the TTL expires. Writers needing strict
// consistency invalidate in the same administrative operation, which the
// Store's own write methods do.
type Store struct {
	repo     Storage
	cache    *Cache
	defaults Defaults
	logger   *slog.Logger
	group    singleflight.Group
}

// NewStore constructs a Store.
func NewStore(repo Storage, cache *Cache, defaults Defaults, logger *slog.Logger) *Store {
	if defaults == nil {
		defaults = BuiltinDefaults()
	}
	return &Store{repo: repo, cache: cache, defaults: defaults, logger: logger}
}

// Defaults exposes the namespace baseline registry.
func (s *Store) Defaults() Defaults {
	return s.defaults
}

// fetch runs a cache-aside load, collapsing concurrent misses for the same
// key into one store round trip.
func (s *Store) fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	return s.cache.FetchJSON(ctx, key, dest, func(ctx context.Context) (any, error) {
		value, err, _ := s.group.Do(key, func() (any, error) {
			return loader(ctx)
		})
		return value, err
	})
}

// GetPolicy returns a policy by name, cache-aside.
func (s *Store) GetPolicy(ctx context.Context, name string) (Policy, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "policy", name)
	if err != nil {
		return Policy{}, err
	}
	var p Policy
	err = s.fetch(ctx, key, &p, func(ctx context.Context) (any, error) {
		return s.repo.GetPolicyByName(ctx, name)
	})
	return p, err
}

// GetPolicyByID bypasses the cache; it only serves administrative reads.
func (s *Store) GetPolicyByID(ctx context.Context, id int64) (Policy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

// ListPolicies bypasses the cache; it only serves administrative reads.
func (s *Store) ListPolicies(ctx context.Context, includeInactive bool) ([]Policy, error) {
	return s.repo.ListPolicies(ctx, includeInactive)
}

// PoliciesForRole returns a role's active policies, cache-aside.
func (s *Store) PoliciesForRole(ctx context.Context, roleID int64) ([]Policy, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "role_policies", strconv.FormatInt(roleID, 10))
	if err != nil {
		return nil, err
	}
	var policies []Policy
	err = s.fetch(ctx, key, &policies, func(ctx context.Context) (any, error) {
		return s.repo.PoliciesForRole(ctx, roleID)
	})
	return policies, err
}

// UserRoles returns the role ids held by a user, cache-aside.
func (s *Store) UserRoles(ctx context.Context, userID int64) ([]int64, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "user_roles", strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}
	var roles []int64
	err = s.fetch(ctx, key, &roles, func(ctx context.Context) (any, error) {
		return s.repo.UserRoles(ctx, userID)
	})
	return roles, err
}

// UserPermissions returns the permission strings granted to a user through
// their roles, cache-aside.
func (s *Store) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "user_perms", strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}
	var perms []string
	err = s.fetch(ctx, key, &perms, func(ctx context.Context) (any, error) {
		return s.repo.UserPermissions(ctx, userID)
	})
	return perms, err
}

// UserHasPermission checks a required permission against the user's grants,
// exact first, then wildcard-aware.
func (s *Store) UserHasPermission(ctx context.Context, userID int64, required string) (bool, error) {
	if required == "" {
		return false, nil
	}
	granted, err := s.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range granted {
		if g == required || permission.Matches(required, g) {
			return true, nil
		}
	}
	return false, nil
}

// overrideEnvelope caches override absence alongside presence so a user
// without an override does not hit Postgres on every resolution.
type overrideEnvelope struct {
	Found    bool         `json:"found"`
	Override UserOverride `json:"override"`
}

// GetUserOverride returns the user's sparse override for a namespace. The
// second return reports presence.
func (s *Store) GetUserOverride(ctx context.Context, userID int64, namespace string) (UserOverride, bool, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "override", strconv.FormatInt(userID, 10), namespace)
	if err != nil {
		return UserOverride{}, false, err
	}
	var env overrideEnvelope
	err = s.fetch(ctx, key, &env, func(ctx context.Context) (any, error) {
		o, err := s.repo.GetUserOverride(ctx, userID, namespace)
		if errors.Is(err, ErrNotFound) {
			return overrideEnvelope{}, nil
		}
		if err != nil {
			return nil, err
		}
		return overrideEnvelope{Found: true, Override: o}, nil
	})
	if err != nil {
		return UserOverride{}, false, err
	}
	return env.Override, env.Found, nil
}

// GlobalSettings returns the deployment-level defaults for a namespace
// layered over the compiled-in baseline, cache-aside.
func (s *Store) GlobalSettings(ctx context.Context, namespace string) (Settings, error) {
	key, err := s.cache.BuildKey(ctx, "authz", "globals", namespace)
	if err != nil {
		return nil, err
	}
	var stored Settings
	err = s.fetch(ctx, key, &stored, func(ctx context.Context) (any, error) {
		return s.repo.GlobalSettings(ctx, namespace)
	})
	if err != nil {
		return nil, err
	}
	merged := s.defaults[namespace].Clone()
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}

// CreatePolicy inserts a new policy. No cached entry can exist for a new
// name, so no invalidation is needed.
func (s *Store) CreatePolicy(ctx context.Context, p Policy) (int64, error) {
	return s.repo.CreatePolicy(ctx, p)
}

// UpdatePolicy writes through and clears the whole cache: role policy lists
// embed policy content for arbitrarily many roles.
func (s *Store) UpdatePolicy(ctx context.Context, p Policy) error {
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	return s.InvalidateAll(ctx)
}

// DeactivatePolicy logically deletes and clears the whole cache.
func (s *Store) DeactivatePolicy(ctx context.Context, id int64) error {
	if err := s.repo.DeactivatePolicy(ctx, id); err != nil {
		return err
	}
	return s.InvalidateAll(ctx)
}

// AssignPolicyToRole writes the edge and evicts the role's policy list.
func (s *Store) AssignPolicyToRole(ctx context.Context, roleID, policyID int64) error {
	if err := s.repo.AssignPolicyToRole(ctx, roleID, policyID); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// RemovePolicyFromRole deletes the edge and evicts the role's policy list.
func (s *Store) RemovePolicyFromRole(ctx context.Context, roleID, policyID int64) error {
	if err := s.repo.RemovePolicyFromRole(ctx, roleID, policyID); err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// SetUserOverride upserts the override and evicts the subject's entries.
func (s *Store) SetUserOverride(ctx context.Context, o UserOverride) error {
	if err := s.repo.SetUserOverride(ctx, o); err != nil {
		return err
	}
	return s.InvalidateSubject(ctx, o.UserID)
}

// RemoveUserOverride deletes the override and evicts the subject's entries.
func (s *Store) RemoveUserOverride(ctx context.Context, userID int64, namespace string) error {
	if err := s.repo.RemoveUserOverride(ctx, userID, namespace); err != nil {
		return err
	}
	return s.InvalidateSubject(ctx, userID)
}

// SetGlobalSettings upserts namespace defaults and clears the whole cache.
func (s *Store) SetGlobalSettings(ctx context.Context, namespace string, settings Settings) error {
	if err := s.repo.SetGlobalSettings(ctx, namespace, settings); err != nil {
		return err
	}
	return s.InvalidateAll(ctx)
}

// PolicyStats reads aggregate counts straight from the store.
func (s *Store) PolicyStats(ctx context.Context) (Stats, error) {
	return s.repo.PolicyStats(ctx)
}

// InvalidateSubject evicts one subject's cached permission and settings
// entries. Override keys are evicted by pattern: namespaces are open-ended,
// so the exact key set is unknown here. Running it twice is a no-op the
// second time.
func (s *Store) InvalidateSubject(ctx context.Context, userID int64) error {
	if s.logger != nil {
		s.logger.Info("invalidating subject cache", slog.Int64("user_id", userID))
	}
	uid := strconv.FormatInt(userID, 10)
	keys := make([]string, 0, 2)
	for _, suffix := range []string{"user_perms", "user_roles"} {
		key, err := s.cache.BuildKey(ctx, "authz", suffix, uid)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return err
	}
	return s.cache.DeleteMatching(ctx, "authz:override:"+uid+":*")
}

// InvalidateAll clears every cached entry by bumping the cache version.
func (s *Store) InvalidateAll(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("invalidating policy cache")
	}
	return s.cache.Bump(ctx)
}

func (s *Store) invalidateRole(ctx context.Context, roleID int64) error {
	key, err := s.cache.BuildKey(ctx, "authz", "role_policies", strconv.FormatInt(roleID, 10))
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}
