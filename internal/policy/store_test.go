package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubStorage struct {
	policies        map[string]Policy
	rolePolicies    map[int64][]Policy
	userRoles       map[int64][]int64
	userPerms       map[int64][]string
	overrides       map[int64]map[string]UserOverride
	globals         map[string]Settings
	err             error
	policyCalls     int
	permCalls       int
	overrideCalls   int
	globalCalls     int
	rolePolicyCalls int
}

func newStubStorage() *stubStorage {
	return &stubStorage{
		policies:     make(map[string]Policy),
		rolePolicies: make(map[int64][]Policy),
		userRoles:    make(map[int64][]int64),
		userPerms:    make(map[int64][]string),
		overrides:    make(map[int64]map[string]UserOverride),
		globals:      make(map[string]Settings),
	}
}

func (s *stubStorage) GetPolicyByName(ctx context.Context, name string) (Policy, error) {
	s.policyCalls++
	if s.err != nil {
		return Policy{}, s.err
	}
	p, ok := s.policies[name]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return p, nil
}

func (s *stubStorage) GetPolicyByID(ctx context.Context, id int64) (Policy, error) {
	for _, p := range s.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return Policy{}, ErrNotFound
}

func (s *stubStorage) ListPolicies(ctx context.Context, includeInactive bool) ([]Policy, error) {
	var out []Policy
	for _, p := range s.policies {
		if p.IsActive || includeInactive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStorage) PoliciesForRole(ctx context.Context, roleID int64) ([]Policy, error) {
	s.rolePolicyCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rolePolicies[roleID], nil
}

func (s *stubStorage) CreatePolicy(ctx context.Context, p Policy) (int64, error) {
	if _, ok := s.policies[p.Name]; ok {
		return 0, ErrConflict
	}
	p.ID = int64(len(s.policies) + 1)
	p.IsActive = true
	s.policies[p.Name] = p
	return p.ID, nil
}

func (s *stubStorage) UpdatePolicy(ctx context.Context, p Policy) error {
	for name, existing := range s.policies {
		if existing.ID == p.ID {
			existing.Code = p.Code
			existing.Description = p.Description
			existing.Settings = p.Settings
			s.policies[name] = existing
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubStorage) DeactivatePolicy(ctx context.Context, id int64) error {
	for name, p := range s.policies {
		if p.ID == id && p.IsActive {
			p.IsActive = false
			s.policies[name] = p
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubStorage) AssignPolicyToRole(ctx context.Context, roleID, policyID int64) error {
	p, err := s.GetPolicyByID(ctx, policyID)
	if err != nil {
		return err
	}
	for _, held := range s.rolePolicies[roleID] {
		if held.ID == policyID {
			return ErrAlreadyAssigned
		}
	}
	s.rolePolicies[roleID] = append(s.rolePolicies[roleID], p)
	return nil
}

func (s *stubStorage) RemovePolicyFromRole(ctx context.Context, roleID, policyID int64) error {
	held := s.rolePolicies[roleID]
	for i, p := range held {
		if p.ID == policyID {
			s.rolePolicies[roleID] = append(held[:i], held[i+1:]...)
			return nil
		}
	}
	return ErrAssignmentNotFound
}

func (s *stubStorage) UserRoles(ctx context.Context, userID int64) ([]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.userRoles[userID], nil
}

func (s *stubStorage) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	s.permCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.userPerms[userID], nil
}

func (s *stubStorage) GetUserOverride(ctx context.Context, userID int64, namespace string) (UserOverride, error) {
	s.overrideCalls++
	if s.err != nil {
		return UserOverride{}, s.err
	}
	o, ok := s.overrides[userID][namespace]
	if !ok {
		return UserOverride{}, ErrNotFound
	}
	return o, nil
}

func (s *stubStorage) SetUserOverride(ctx context.Context, o UserOverride) error {
	if s.overrides[o.UserID] == nil {
		s.overrides[o.UserID] = make(map[string]UserOverride)
	}
	s.overrides[o.UserID][o.Namespace] = o
	return nil
}

func (s *stubStorage) RemoveUserOverride(ctx context.Context, userID int64, namespace string) error {
	if _, ok := s.overrides[userID][namespace]; !ok {
		return ErrNotFound
	}
	delete(s.overrides[userID], namespace)
	return nil
}

func (s *stubStorage) GlobalSettings(ctx context.Context, namespace string) (Settings, error) {
	s.globalCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.globals[namespace].Clone(), nil
}

func (s *stubStorage) SetGlobalSettings(ctx context.Context, namespace string, settings Settings) error {
	s.globals[namespace] = settings.Clone()
	return nil
}

func (s *stubStorage) PolicyStats(ctx context.Context) (Stats, error) {
	return Stats{Total: len(s.policies)}, nil
}

func newTestStore(t *testing.T, repo Storage) (*Store, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(repo, NewCache(client, time.Minute), BuiltinDefaults(), nil)
	return store, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestGetPolicyCaches(t *testing.T) {
	repo := newStubStorage()
	repo.policies["clinical"] = Policy{ID: 1, Name: "clinical", Namespace: Namespace2FA, IsActive: true}
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.GetPolicy(ctx, "clinical"); err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if _, err := store.GetPolicy(ctx, "clinical"); err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if repo.policyCalls != 1 {
		t.Fatalf("expected 1 store call, got %d", repo.policyCalls)
	}
}

func TestUserHasPermissionWildcard(t *testing.T) {
	repo := newStubStorage()
	repo.userPerms[7] = []string{"Lookups.*.*", "Billing.Invoice.View"}
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	cases := []struct {
		required string
		want     bool
	}{
		{"Lookups.LookupType.View", true},
		{"Lookups.LookupType.Delete", true},
		{"Billing.Invoice.View", true},
		{"Billing.Invoice.Approve", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := store.UserHasPermission(ctx, 7, tc.required)
		if err != nil {
			t.Fatalf("check %q: %v", tc.required, err)
		}
		if got != tc.want {
			t.Fatalf("check %q: got %v want %v", tc.required, got, tc.want)
		}
	}
	if repo.permCalls != 1 {
		t.Fatalf("expected permissions loaded once, got %d calls", repo.permCalls)
	}
}

func TestInvalidateSubjectIsIdempotent(t *testing.T) {
	repo := newStubStorage()
	repo.userPerms[7] = []string{"Billing.Invoice.View"}
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.UserPermissions(ctx, 7); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.InvalidateSubject(ctx, 7); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	// Second invalidation is a no-op, not an error.
	if err := store.InvalidateSubject(ctx, 7); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
	repo.userPerms[7] = []string{"Billing.Invoice.View", "Billing.Invoice.Approve"}
	perms, err := store.UserPermissions(ctx, 7)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected repopulated grants, got %v", perms)
	}
	if repo.permCalls != 2 {
		t.Fatalf("expected exactly one reload, got %d calls", repo.permCalls)
	}
}

func TestOverrideWriteEvictsAnyNamespace(t *testing.T) {
	repo := newStubStorage()
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	// Prime the cached "no override" envelope for a namespace outside the
	// compiled-in defaults.
	if _, found, err := store.GetUserOverride(ctx, 7, "sms"); err != nil || found {
		t.Fatalf("expected cached miss, got found=%v err=%v", found, err)
	}

	if err := store.SetUserOverride(ctx, UserOverride{UserID: 7, Namespace: "sms",
		Settings: Settings{"SenderID": "MERIDIAN"}}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	o, found, err := store.GetUserOverride(ctx, 7, "sms")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !found || o.Settings["SenderID"] != "MERIDIAN" {
		t.Fatalf("write did not evict the cached miss: found=%v settings=%v", found, o.Settings)
	}

	if err := store.RemoveUserOverride(ctx, 7, "sms"); err != nil {
		t.Fatalf("remove override: %v", err)
	}
	if _, found, err = store.GetUserOverride(ctx, 7, "sms"); err != nil || found {
		t.Fatalf("remove did not evict the cached entry: found=%v err=%v", found, err)
	}
}

func TestUpdatePolicyClearsCache(t *testing.T) {
	repo := newStubStorage()
	repo.policies["clinical"] = Policy{ID: 1, Name: "clinical", Namespace: Namespace2FA, IsActive: true,
		Settings: Settings{SettingMaxOTPAttempts: "3"}}
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.GetPolicy(ctx, "clinical"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	updated := repo.policies["clinical"]
	updated.Settings = Settings{SettingMaxOTPAttempts: "9"}
	if err := store.UpdatePolicy(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, err := store.GetPolicy(ctx, "clinical")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Settings.Int(SettingMaxOTPAttempts, 0) != 9 {
		t.Fatalf("expected refreshed settings, got %v", p.Settings)
	}
}

func TestCreatePolicyConflict(t *testing.T) {
	repo := newStubStorage()
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.CreatePolicy(ctx, Policy{Name: "clinical", Namespace: Namespace2FA}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreatePolicy(ctx, Policy{Name: "clinical", Namespace: Namespace2FA}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	repo := newStubStorage()
	repo.err = errors.New("connection refused")
	store, cleanup := newTestStore(t, repo)
	defer cleanup()

	if _, err := store.UserHasPermission(context.Background(), 7, "Billing.Invoice.View"); err == nil {
		t.Fatal("expected store failure to propagate")
	}
}
