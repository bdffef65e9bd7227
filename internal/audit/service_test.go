package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	records []Record
	err     error
	calls   int
	lastOff int
	lastLim int
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]Record, error) {
	s.calls++
	s.lastOff = offset
	s.lastLim = limit
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

func (s *stubTimelineRepo) DecisionCounts(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]map[string]int{"Billing": {"allow": 3, "deny": 1}}, nil
}

func makeRecords(n int) []Record {
	out := make([]Record, n)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = Record{
			UserID:     int64(i + 1),
			Permission: "Billing.Invoice.View",
			Decision:   DecisionAllow,
			OccurredAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestTimelineDefaultsAndPaging(t *testing.T) {
	repo := &stubTimelineRepo{records: makeRecords(25)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 20 {
		t.Fatalf("expected default page size 20, got %d rows", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page, got %+v", result.Paging)
	}
	if repo.lastLim != 21 {
		t.Fatalf("expected limit pageSize+1, got %d", repo.lastLim)
	}

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2})
	if err != nil {
		t.Fatalf("timeline page 2: %v", err)
	}
	if len(result.Rows) != 5 {
		t.Fatalf("expected 5 rows on last page, got %d", len(result.Rows))
	}
	if result.Paging.HasNext {
		t.Fatal("last page must not report next")
	}
	if result.Paging.PrevPage != 1 {
		t.Fatalf("expected prev page 1, got %d", result.Paging.PrevPage)
	}
}

func TestTimelinePageSizeClamp(t *testing.T) {
	repo := &stubTimelineRepo{records: makeRecords(150)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 100 {
		t.Fatalf("expected clamp to 100, got %d", len(result.Rows))
	}
}

func TestTimelineRepoError(t *testing.T) {
	repo := &stubTimelineRepo{err: errors.New("connection refused")}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err == nil {
		t.Fatal("expected repo error to propagate")
	}
}

func TestStats(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	counts, err := svc.Stats(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if counts["Billing"]["allow"] != 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
