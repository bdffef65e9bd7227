package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/meridian-his/meridian-his/jobs"
)

// QueueCLI wraps manual management helpers for the audit task queue.
type QueueCLI struct {
	inspector *asynq.Inspector
}

// NewQueueCLI initialises the CLI helpers using the provided Redis address.
func NewQueueCLI(redisAddr string) *QueueCLI {
	return &QueueCLI{inspector: asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})}
}

// Close releases underlying resources.
func (c *QueueCLI) Close() error {
	if c.inspector != nil {
		return c.inspector.Close()
	}
	return nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// Stats reports the queue metrics for the default queue.
func (c *QueueCLI) Stats(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("queue cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
		stats.Archived = int(info.Archived)
	}
	return stats, nil
}

// ListRetry returns tasks currently in the retry set.
func (c *QueueCLI) ListRetry(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("queue cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// RequeueArchived moves every archived task back into the pending state.
// Used after a database outage to replay audit records that exhausted
// their retries.
func (c *QueueCLI) RequeueArchived(ctx context.Context) (int, error) {
	if c == nil || c.inspector == nil {
		return 0, errors.New("queue cli: inspector not configured")
	}
	return c.inspector.RunAllArchivedTasks(jobs.QueueDefault)
}

// PurgeArchived permanently deletes all archived tasks.
func (c *QueueCLI) PurgeArchived(ctx context.Context) (int, error) {
	if c == nil || c.inspector == nil {
		return 0, errors.New("queue cli: inspector not configured")
	}
	return c.inspector.DeleteAllArchivedTasks(jobs.QueueDefault)
}
