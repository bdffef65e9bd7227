package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(repo *stubTimelineRepo) http.Handler {
	h := NewHandler(NewService(repo), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubTimelineRepo{records: makeRecords(3)})

	cases := []struct {
		name   string
		target string
	}{
		{"unknown decision", "/access-log?decision=maybe"},
		{"bad user id", "/access-log?user_id=zero"},
		{"bad date", "/access-log?from=01-03-2026"},
		{"inverted range", "/access-log?from=2026-03-02&to=2026-03-01"},
		{"range too wide", "/access-log?from=2025-01-01&to=2026-01-01"},
		{"bad page", "/access-log?page=0"},
		{"bad since", "/access-log/stats?since=yesterday"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestTimelineAcceptsValidFilters(t *testing.T) {
	repo := &stubTimelineRepo{records: makeRecords(3)}
	router := newTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet,
		"/access-log?decision=allow&user_id=7&from=2026-03-01&to=2026-03-02&page=1&page_size=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if repo.calls != 1 {
		t.Fatalf("expected one repository call, got %d", repo.calls)
	}
}
