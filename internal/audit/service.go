package audit

import (
	"context"
	"fmt"
	"time"
)

// TimelineRepository is the slice of Repository the timeline service reads.
type TimelineRepository interface {
	TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]Record, error)
	DecisionCounts(ctx context.Context, since time.Time) (map[string]map[string]int, error)
}

// PagingInfo carries pagination metadata for the timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result bundles one page of records with paging metadata.
type Result struct {
	Rows   []Record   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Service coordinates read-only access to the decision log.
type Service struct {
	repo TimelineRepository
}

// NewService constructs the timeline service.
func NewService(repo TimelineRepository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of decisions, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Stats aggregates allow and deny totals per module since the given time.
// A zero time means all recorded history.
func (s *Service) Stats(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.DecisionCounts(ctx, since)
}
