package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for access records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one record.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_access_log (id, user_id, permission, path, method, decision, reason, client_addr, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, COALESCE($10, NOW()))`,
		rec.ID, rec.UserID, rec.Permission, rec.Path, rec.Method, string(rec.Decision),
		rec.Reason, rec.ClientAddr, rec.UserAgent, rec.OccurredAt)
	return err
}

// TimelineFilters narrows the access-log window.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	UserID   int64
	Decision string
	Page     int
	PageSize int
}

// TimelineWindow returns up to limit+1 records for paging detection.
func (r *Repository) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]Record, error) {
	query := `
		SELECT id, user_id, permission, path, method, decision, COALESCE(reason, ''), client_addr, user_agent, occurred_at
		FROM auth_access_log
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3::bigint = 0 OR user_id = $3)
		  AND ($4::text = '' OR decision = $4)
		ORDER BY occurred_at DESC
		OFFSET $5 LIMIT $6`
	rows, err := r.pool.Query(ctx, query,
		nullTime(f.From), nullTime(f.To), f.UserID, strings.ToLower(f.Decision), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			rec      Record
			decision string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Permission, &rec.Path, &rec.Method,
			&decision, &rec.Reason, &rec.ClientAddr, &rec.UserAgent, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.Decision = Decision(decision)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DecisionCounts aggregates allow/deny totals per module for the stats view.
func (r *Repository) DecisionCounts(ctx context.Context, since time.Time) (map[string]map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT split_part(permission, '.', 1) AS module, decision, COUNT(*)
		FROM auth_access_log
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		GROUP BY 1, 2`, nullTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]map[string]int)
	for rows.Next() {
		var (
			module, decision string
			count            int
		)
		if err := rows.Scan(&module, &decision, &count); err != nil {
			return nil, err
		}
		if out[module] == nil {
			out[module] = make(map[string]int)
		}
		out[module][decision] = count
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
