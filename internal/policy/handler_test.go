package policy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T) (*stubStorage, http.Handler, func()) {
	t.Helper()
	repo := newStubStorage()
	store, cleanup := newTestStore(t, repo)
	handler := NewHandler(nil, store, NewSettingsResolver(store))
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return repo, router, cleanup
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetAndConflict(t *testing.T) {
	_, router, cleanup := newTestHandler(t)
	defer cleanup()

	payload := map[string]any{
		"name":      "clinical-2fa",
		"namespace": Namespace2FA,
		"settings":  map[string]string{SettingMaxOTPAttempts: "3"},
	}
	rec := doJSON(t, router, http.MethodPost, "/admin/policies/", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/admin/policies/", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/policies/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clinical-2fa") {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	_, router, cleanup := newTestHandler(t)
	defer cleanup()

	rec := doJSON(t, router, http.MethodPost, "/admin/policies/", map[string]any{"name": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateKeepsNameAndActivation(t *testing.T) {
	repo, router, cleanup := newTestHandler(t)
	defer cleanup()

	repo.policies["clinical"] = Policy{ID: 1, Name: "clinical", Namespace: Namespace2FA, IsActive: true}

	rec := doJSON(t, router, http.MethodPut, "/admin/policies/1", map[string]any{
		"description": "tightened for clinical staff",
		"settings":    map[string]string{SettingMaxOTPAttempts: "3"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	p := repo.policies["clinical"]
	if p.Name != "clinical" || !p.IsActive {
		t.Fatalf("update touched immutable fields: %+v", p)
	}
	if p.Description != "tightened for clinical staff" || p.Settings[SettingMaxOTPAttempts] != "3" {
		t.Fatalf("mutable fields not written: %+v", p)
	}
}

func TestAssignAndUnassign(t *testing.T) {
	repo, router, cleanup := newTestHandler(t)
	defer cleanup()

	repo.policies["clinical"] = Policy{ID: 1, Name: "clinical", Namespace: Namespace2FA, IsActive: true}

	rec := doJSON(t, router, http.MethodPost, "/admin/roles/3/policies/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/admin/roles/3/policies/1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-assign: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/admin/roles/3/policies/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unassign: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/admin/roles/3/policies/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("re-unassign: %d", rec.Code)
	}
}

func TestOverrideLifecycle(t *testing.T) {
	_, router, cleanup := newTestHandler(t)
	defer cleanup()

	rec := doJSON(t, router, http.MethodGet, "/admin/users/7/overrides/2fa", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing override: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPut, "/admin/users/7/overrides/2fa",
		map[string]any{"settings": map[string]string{SettingOTPExpiryMinutes: "15"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set override: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/users/7/overrides/2fa", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get override: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/admin/users/7/settings/2fa", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("effective settings: %d", rec.Code)
	}
	var effective EffectiveSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &effective); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if effective.Values[SettingOTPExpiryMinutes] != "15" {
		t.Fatalf("values: %v", effective.Values)
	}
	if effective.AppliedFrom != TierOverride {
		t.Fatalf("applied from %q", effective.AppliedFrom)
	}

	rec = doJSON(t, router, http.MethodDelete, "/admin/users/7/overrides/2fa", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove override: %d", rec.Code)
	}
}

func TestBadPathParam(t *testing.T) {
	_, router, cleanup := newTestHandler(t)
	defer cleanup()

	rec := doJSON(t, router, http.MethodGet, "/admin/users/abc/permissions", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
