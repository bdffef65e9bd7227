package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

const maxTimelineRange = 90 * 24 * time.Hour

// Handler exposes the read-only decision log API.
type Handler struct {
	service *Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler constructs the audit handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, now: time.Now}
}

// Routes mounts the audit endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/access-log", h.handleTimeline)
	r.Get("/access-log/stats", h.handleStats)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load access log", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if result.Rows == nil {
		result.Rows = []Record{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := strings.TrimSpace(r.URL.Query().Get("since")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.RespondError(w, errBadFilter("since"))
			return
		}
		since = parsed
	}
	counts, err := h.service.Stats(r.Context(), since)
	if err != nil {
		h.logger.Error("load access stats", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": counts})
}

func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Decision: strings.ToLower(strings.TrimSpace(q.Get("decision"))),
	}
	switch filters.Decision {
	case "", string(DecisionAllow), string(DecisionDeny):
	default:
		return TimelineFilters{}, errBadFilter("decision")
	}
	if v := strings.TrimSpace(q.Get("user_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return TimelineFilters{}, errBadFilter("user_id")
		}
		filters.UserID = id
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return TimelineFilters{}, errBadFilter("from")
		}
		filters.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return TimelineFilters{}, errBadFilter("to")
		}
		// Include the whole "to" day.
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return TimelineFilters{}, errBadFilter("range")
		}
		if filters.To.Sub(filters.From) > maxTimelineRange {
			return TimelineFilters{}, errBadFilter("range")
		}
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return TimelineFilters{}, errBadFilter("page")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return TimelineFilters{}, errBadFilter("page_size")
		}
		filters.PageSize = size
	}
	return filters, nil
}

// errBadFilter wraps the validation sentinel so handlers can respond
// through httpx.RespondError.
func errBadFilter(name string) error {
	return fmt.Errorf("invalid filter %s: %w", name, httpx.ErrValidation)
}
