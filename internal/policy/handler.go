package policy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// Handler exposes the administrative policy API.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	resolver  *SettingsResolver
	validator *validator.Validate
}

// NewHandler constructs the admin handler.
func NewHandler(logger *slog.Logger, store *Store, resolver *SettingsResolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		store:     store,
		resolver:  resolver,
		validator: validator.New(),
	}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/stats", h.handleStats)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDeactivate)
	})
	r.Route("/roles/{roleID}/policies", func(r chi.Router) {
		r.Get("/", h.handleRolePolicies)
		r.Post("/{policyID}", h.handleAssign)
		r.Delete("/{policyID}", h.handleUnassign)
	})
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/permissions", h.handleUserPermissions)
		r.Get("/settings/{namespace}", h.handleEffectiveSettings)
		r.Get("/overrides/{namespace}", h.handleGetOverride)
		r.Put("/overrides/{namespace}", h.handleSetOverride)
		r.Delete("/overrides/{namespace}", h.handleRemoveOverride)
	})
	r.Route("/settings/{namespace}", func(r chi.Router) {
		r.Get("/", h.handleGetGlobal)
		r.Put("/", h.handleSetGlobal)
	})
	r.Route("/cache", func(r chi.Router) {
		r.Post("/refresh", h.handleRefreshAll)
		r.Post("/users/{userID}/refresh", h.handleRefreshSubject)
	})
}

type policyPayload struct {
	Name        string            `json:"name" validate:"required,min=2,max=120"`
	Code        string            `json:"code" validate:"omitempty,max=60"`
	Namespace   string            `json:"namespace" validate:"required,min=2,max=60"`
	Description string            `json:"description" validate:"max=500"`
	Settings    map[string]string `json:"settings"`
}

// policyUpdatePayload carries the mutable policy fields. Name and namespace
// are fixed at creation; activation is owned by the delete endpoint.
type policyUpdatePayload struct {
	Code        string            `json:"code" validate:"omitempty,max=60"`
	Description string            `json:"description" validate:"max=500"`
	Settings    map[string]string `json:"settings"`
}

type overridePayload struct {
	Settings map[string]string `json:"settings" validate:"required,min=1"`
}

type settingsPayload struct {
	Settings map[string]string `json:"settings" validate:"required,min=1"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	policies, err := h.store.ListPolicies(r.Context(), includeInactive)
	if err != nil {
		h.serverError(w, "list policies", err)
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload policyPayload
	if !h.decode(w, r, &payload) {
		return
	}
	id, err := h.store.CreatePolicy(r.Context(), Policy{
		Name:        payload.Name,
		Code:        payload.Code,
		Namespace:   payload.Namespace,
		Description: payload.Description,
		Settings:    Settings(payload.Settings),
	})
	if err != nil {
		h.respondError(w, "create policy", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.store.GetPolicyByID(r.Context(), id)
	if err != nil {
		h.respondError(w, "get policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload policyUpdatePayload
	if !h.decode(w, r, &payload) {
		return
	}
	err := h.store.UpdatePolicy(r.Context(), Policy{
		ID:          id,
		Code:        payload.Code,
		Description: payload.Description,
		Settings:    Settings(payload.Settings),
	})
	if err != nil {
		h.respondError(w, "update policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeactivatePolicy(r.Context(), id); err != nil {
		h.respondError(w, "deactivate policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.PolicyStats(r.Context())
	if err != nil {
		h.serverError(w, "policy stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRolePolicies(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	policies, err := h.store.PoliciesForRole(r.Context(), roleID)
	if err != nil {
		h.serverError(w, "role policies", err)
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	policyID, ok := h.pathID(w, r, "policyID")
	if !ok {
		return
	}
	if err := h.store.AssignPolicyToRole(r.Context(), roleID, policyID); err != nil {
		h.respondError(w, "assign policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	policyID, ok := h.pathID(w, r, "policyID")
	if !ok {
		return
	}
	if err := h.store.RemovePolicyFromRole(r.Context(), roleID, policyID); err != nil {
		h.respondError(w, "unassign policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	perms, err := h.store.UserPermissions(r.Context(), userID)
	if err != nil {
		h.serverError(w, "user permissions", err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) handleEffectiveSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	namespace := chi.URLParam(r, "namespace")
	effective, err := h.resolver.Resolve(r.Context(), userID, namespace)
	if err != nil {
		h.serverError(w, "resolve settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, effective)
}

func (h *Handler) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	namespace := chi.URLParam(r, "namespace")
	override, found, err := h.store.GetUserOverride(r.Context(), userID, namespace)
	if err != nil {
		h.serverError(w, "get override", err)
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no override for this namespace")
		return
	}
	httpx.JSON(w, http.StatusOK, override)
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	namespace := chi.URLParam(r, "namespace")
	var payload overridePayload
	if !h.decode(w, r, &payload) {
		return
	}
	err := h.store.SetUserOverride(r.Context(), UserOverride{
		UserID:    userID,
		Namespace: namespace,
		Settings:  Settings(payload.Settings),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.respondError(w, "set override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	namespace := chi.URLParam(r, "namespace")
	if err := h.store.RemoveUserOverride(r.Context(), userID, namespace); err != nil {
		h.respondError(w, "remove override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetGlobal(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	settings, err := h.store.GlobalSettings(r.Context(), namespace)
	if err != nil {
		h.serverError(w, "global settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"namespace": namespace, "settings": settings})
}

func (h *Handler) handleSetGlobal(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	var payload settingsPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.store.SetGlobalSettings(r.Context(), namespace, Settings(payload.Settings)); err != nil {
		h.respondError(w, "set global settings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.InvalidateAll(r.Context()); err != nil {
		h.serverError(w, "invalidate all", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshSubject(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.store.InvalidateSubject(r.Context(), userID); err != nil {
		h.serverError(w, "invalidate subject", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := httpx.DecodeJSON(r, payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrDuplicate) {
		httpx.RespondError(w, err)
		return
	}
	h.serverError(w, action, err)
}

func (h *Handler) serverError(w http.ResponseWriter, action string, err error) {
	h.logger.Error(action, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
