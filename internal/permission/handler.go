package permission

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// Handler exposes the resource-mapping table and permission enumeration
// for administration and UI seeding.
type Handler struct {
	resources *ResourceResolver
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(resources *ResourceResolver) *Handler {
	return &Handler{resources: resources, validator: validator.New()}
}

// Routes mounts the mapping endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/mappings", h.handleListMappings)
	r.Put("/mappings", h.handleUpsertMapping)
	r.Get("/modules", h.handleModules)
	r.Get("/permutations", h.handlePermutations)
}

type mappingPayload struct {
	Token    string `json:"token" validate:"required,min=2,max=80"`
	Module   string `json:"module" validate:"required,min=2,max=80"`
	Resource string `json:"resource" validate:"required,min=2,max=80"`
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"mappings": h.resources.Mappings()})
}

func (h *Handler) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var payload mappingPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.resources.Upsert(payload.Token, payload.Module, payload.Resource)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleModules(w http.ResponseWriter, r *http.Request) {
	modules := h.resources.Modules()
	byModule := make(map[string][]string, len(modules))
	for _, module := range modules {
		byModule[module] = h.resources.ResourcesByModule(module)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": modules, "resources": byModule})
}

// handlePermutations lists every standard permission for a module/resource
// pair, for seeding role-permission grids.
func (h *Handler) handlePermutations(w http.ResponseWriter, r *http.Request) {
	module := strings.TrimSpace(r.URL.Query().Get("module"))
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	if module == "" || resource == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "module and resource are required")
		return
	}
	var ids []string
	for id := range Permutations(module, resource) {
		ids = append(ids, id.String())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": ids})
}
