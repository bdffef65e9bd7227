package policy

import (
	"context"
	"fmt"
)

// EffectiveSettings is the merged configuration for one subject after
// cascading Global → Policy → UserOverride. Sources records the tier that
// supplied each field; AppliedFrom is the highest tier that contributed
// anything.
type EffectiveSettings struct {
	Namespace   string            `json:"namespace"`
	Values      Settings          `json:"values"`
	Sources     map[string]string `json:"sources"`
	AppliedFrom string            `json:"appliedFrom"`
}

// SettingsResolver cascades the three precedence tiers into one effective
// value set. Each tier is applied independently in ascending precedence
// order: a user override applies whether or not a role policy exists, and a
// subject with neither still resolves to valid global settings.
type SettingsResolver struct {
	store *Store
}

// NewSettingsResolver constructs a resolver over the given store.
func NewSettingsResolver(store *Store) *SettingsResolver {
	return &SettingsResolver{store: store}
}

// Resolve produces the effective settings for a subject and namespace.
// Absence of a role policy or override is not an error; store failures are.
func (r *SettingsResolver) Resolve(ctx context.Context, userID int64, namespace string) (EffectiveSettings, error) {
	globals, err := r.store.GlobalSettings(ctx, namespace)
	if err != nil {
		return EffectiveSettings{}, fmt.Errorf("policy: resolve globals: %w", err)
	}
	effective := EffectiveSettings{
		Namespace:   namespace,
		Values:      globals.Clone(),
		Sources:     make(map[string]string, len(globals)),
		AppliedFrom: TierGlobal,
	}
	for k := range effective.Values {
		effective.Sources[k] = TierGlobal
	}

	rolePolicy, err := r.rolePolicy(ctx, userID, namespace)
	if err != nil {
		return EffectiveSettings{}, err
	}
	if rolePolicy != nil {
		for k, v := range rolePolicy.Settings {
			effective.Values[k] = v
			effective.Sources[k] = TierPolicy
		}
		if len(rolePolicy.Settings) > 0 {
			effective.AppliedFrom = TierPolicy
		}
	}

	override, found, err := r.store.GetUserOverride(ctx, userID, namespace)
	if err != nil {
		return EffectiveSettings{}, fmt.Errorf("policy: resolve override: %w", err)
	}
	if found {
		// Sparse patch: only the keys present on the override apply.
		for k, v := range override.Settings {
			effective.Values[k] = v
			effective.Sources[k] = TierOverride
		}
		if len(override.Settings) > 0 {
			effective.AppliedFrom = TierOverride
		}
	}

	return effective, nil
}

// rolePolicy picks the subject's governing policy for a namespace. Roles
// are walked in order and assignments oldest-first, so the last assigned
// active policy wins when more than one matches.
func (r *SettingsResolver) rolePolicy(ctx context.Context, userID int64, namespace string) (*Policy, error) {
	roles, err := r.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve roles: %w", err)
	}
	var winner *Policy
	for _, roleID := range roles {
		policies, err := r.store.PoliciesForRole(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("policy: resolve role %d: %w", roleID, err)
		}
		for i := range policies {
			if policies[i].Namespace == namespace && policies[i].IsActive {
				winner = &policies[i]
			}
		}
	}
	return winner, nil
}
