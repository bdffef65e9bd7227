// Package audit persists access decisions into the append-only
// auth_access_log. Records are write-once: nothing in this package updates
// or deletes them.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome recorded for one request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Record is one authorization decision. Reason is only set on deny.
type Record struct {
	ID         uuid.UUID `json:"id"`
	UserID     int64     `json:"userId"`
	Permission string    `json:"permission"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Decision   Decision  `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	ClientAddr string    `json:"clientAddr"`
	UserAgent  string    `json:"userAgent"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorder accepts decision records. Implementations are fire-and-forget:
// losing a record must never block or fail the request being audited.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}
