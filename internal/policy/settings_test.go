package policy

import (
	"context"
	"testing"
)

func resolverFixture(t *testing.T) (*stubStorage, *SettingsResolver, func()) {
	t.Helper()
	repo := newStubStorage()
	store, cleanup := newTestStore(t, repo)
	return repo, NewSettingsResolver(store), cleanup
}

func TestResolveDefaultsOnly(t *testing.T) {
	_, resolver, cleanup := resolverFixture(t)
	defer cleanup()

	// No roles, no policy, no override: the global tier must never fail.
	effective, err := resolver.Resolve(context.Background(), 42, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if effective.AppliedFrom != TierGlobal {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}
	if got := effective.Values.Int(SettingOTPExpiryMinutes, 0); got != 10 {
		t.Fatalf("expiry: got %d", got)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 5 {
		t.Fatalf("attempts: got %d", got)
	}
	if !effective.Values.Bool(SettingEnabled, false) {
		t.Fatal("enabled should default true")
	}
}

func TestResolveCascadePrecedence(t *testing.T) {
	repo, resolver, cleanup := resolverFixture(t)
	defer cleanup()

	repo.userRoles[7] = []int64{3}
	repo.rolePolicies[3] = []Policy{{
		ID: 1, Name: "clinical", Namespace: Namespace2FA, IsActive: true,
		Settings: Settings{SettingMaxOTPAttempts: "3", SettingRequired: "true"},
	}}
	repo.overrides[7] = map[string]UserOverride{
		Namespace2FA: {UserID: 7, Namespace: Namespace2FA, Settings: Settings{SettingMaxOTPAttempts: "8"}},
	}

	ctx := context.Background()
	effective, err := resolver.Resolve(ctx, 7, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Override beats policy on the contested field.
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 8 {
		t.Fatalf("attempts: got %d want 8", got)
	}
	if effective.Sources[SettingMaxOTPAttempts] != TierOverride {
		t.Fatalf("source: %q", effective.Sources[SettingMaxOTPAttempts])
	}
	// Policy-only field survives underneath the override.
	if !effective.Values.Bool(SettingRequired, false) {
		t.Fatal("required should come from policy tier")
	}
	if effective.Sources[SettingRequired] != TierPolicy {
		t.Fatalf("source: %q", effective.Sources[SettingRequired])
	}
	// Untouched field stays global.
	if got := effective.Values.Int(SettingOTPExpiryMinutes, 0); got != 10 {
		t.Fatalf("expiry: got %d", got)
	}
	if effective.AppliedFrom != TierOverride {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}

	// Removing the override exposes the policy value.
	delete(repo.overrides[7], Namespace2FA)
	if err := resolver.store.InvalidateSubject(ctx, 7); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	effective, err = resolver.Resolve(ctx, 7, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 3 {
		t.Fatalf("attempts after override removal: got %d want 3", got)
	}
	if effective.AppliedFrom != TierPolicy {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}

	// Removing the policy as well falls back to the global tier.
	repo.rolePolicies[3] = nil
	if err := resolver.store.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	effective, err = resolver.Resolve(ctx, 7, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 5 {
		t.Fatalf("attempts after policy removal: got %d want 5", got)
	}
	if effective.AppliedFrom != TierGlobal {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}
}

// The override tier applies independently of the policy tier: a subject with
// an override but no role policy still gets the override on top of globals.
func TestResolveOverrideWithoutPolicy(t *testing.T) {
	repo, resolver, cleanup := resolverFixture(t)
	defer cleanup()

	repo.overrides[9] = map[string]UserOverride{
		Namespace2FA: {UserID: 9, Namespace: Namespace2FA, Settings: Settings{SettingOTPExpiryMinutes: "15"}},
	}
	effective, err := resolver.Resolve(context.Background(), 9, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := effective.Values.Int(SettingOTPExpiryMinutes, 0); got != 15 {
		t.Fatalf("expiry: got %d want 15", got)
	}
	if effective.AppliedFrom != TierOverride {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 5 {
		t.Fatalf("attempts must stay global, got %d", got)
	}
}

// Role "Manager" holds a policy capping attempts at 5; the user override
// only stretches the OTP expiry. Every other field must equal the globals.
func TestResolveManagerScenario(t *testing.T) {
	repo, resolver, cleanup := resolverFixture(t)
	defer cleanup()

	repo.userRoles[21] = []int64{4}
	repo.rolePolicies[4] = []Policy{{
		ID: 2, Name: "manager-2fa", Namespace: Namespace2FA, IsActive: true,
		Settings: Settings{SettingMaxOTPAttempts: "5"},
	}}
	repo.overrides[21] = map[string]UserOverride{
		Namespace2FA: {UserID: 21, Namespace: Namespace2FA, Settings: Settings{SettingOTPExpiryMinutes: "15"}},
	}

	effective, err := resolver.Resolve(context.Background(), 21, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 5 {
		t.Fatalf("attempts: got %d", got)
	}
	if got := effective.Values.Int(SettingOTPExpiryMinutes, 0); got != 15 {
		t.Fatalf("expiry: got %d", got)
	}
	if effective.AppliedFrom != TierOverride {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}
	if !effective.Values.Bool(SettingEnabled, false) {
		t.Fatal("enabled must equal global default")
	}
	if effective.Values.Bool(SettingRequired, true) {
		t.Fatal("required must equal global default")
	}
}

// Two active policies for one namespace on the same role: the later
// assignment wins. Flagged for product clarification; the resolver picks
// last-assigned deterministically.
func TestResolveLastAssignedWins(t *testing.T) {
	repo, resolver, cleanup := resolverFixture(t)
	defer cleanup()

	repo.userRoles[5] = []int64{2}
	repo.rolePolicies[2] = []Policy{
		{ID: 1, Name: "first", Namespace: Namespace2FA, IsActive: true, Settings: Settings{SettingMaxOTPAttempts: "3"}},
		{ID: 2, Name: "second", Namespace: Namespace2FA, IsActive: true, Settings: Settings{SettingMaxOTPAttempts: "7"}},
	}
	effective, err := resolver.Resolve(context.Background(), 5, Namespace2FA)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := effective.Values.Int(SettingMaxOTPAttempts, 0); got != 7 {
		t.Fatalf("attempts: got %d want 7", got)
	}
}
