package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskRecordAccess is the asynq task type carrying one access record.
const TaskRecordAccess = "audit:record_access"

// QueueRecorder enqueues records onto Redis for the worker to persist.
// Enqueue failures are logged and swallowed: audit loss must not fail the
// request that produced the record.
type QueueRecorder struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueueRecorder constructs a recorder over an asynq client.
func NewQueueRecorder(client *asynq.Client, logger *slog.Logger) *QueueRecorder {
	return &QueueRecorder{client: client, logger: logger}
}

// Record enqueues the record, stamping id and timestamp when missing.
func (q *QueueRecorder) Record(ctx context.Context, rec Record) {
	if q == nil || q.client == nil {
		return
	}
	rec = stamp(rec)
	payload, err := json.Marshal(rec)
	if err != nil {
		q.warn("marshal audit record", err)
		return
	}
	task := asynq.NewTask(TaskRecordAccess, payload, asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		q.warn("enqueue audit record", err)
	}
}

func (q *QueueRecorder) warn(msg string, err error) {
	if q.logger != nil {
		q.logger.Warn(msg, slog.Any("error", err))
	}
}

// NewRecordHandler returns the asynq handler that persists queued records.
func NewRecordHandler(repo *Repository, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var rec Record
		if err := json.Unmarshal(t.Payload(), &rec); err != nil {
			return asynq.SkipRetry
		}
		if err := repo.Insert(ctx, rec); err != nil {
			if logger != nil {
				logger.Error("persist audit record", slog.Any("error", err))
			}
			return err
		}
		return nil
	}
}

// SyncRecorder persists directly, bypassing the queue. Used by tests and
// single-process deployments without a worker.
type SyncRecorder struct {
	repo   *Repository
	logger *slog.Logger
}

// NewSyncRecorder constructs a direct recorder.
func NewSyncRecorder(repo *Repository, logger *slog.Logger) *SyncRecorder {
	return &SyncRecorder{repo: repo, logger: logger}
}

// Record inserts immediately; failures are logged and swallowed.
func (s *SyncRecorder) Record(ctx context.Context, rec Record) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Insert(ctx, stamp(rec)); err != nil && s.logger != nil {
		s.logger.Warn("persist audit record", slog.Any("error", err))
	}
}

func stamp(rec Record) Record {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	return rec
}
