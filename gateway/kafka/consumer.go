package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ecociel/remind/domain"
	"github.com/ecociel/remind/lib/queue"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TaskEvent is the value of a task changed record. Records without a JSON
// value are keyed by the task id instead.
type TaskEvent struct {
	TaskID string `json:"task_id"`
}

// Fetcher is the consuming side of kgo.Client.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// TaskConsumer keeps reminders in line with task changes published by the
// task service. Each record triggers a sync of the task's reminder.
type TaskConsumer struct {
	client   Fetcher
	syncTask func(ctx context.Context, taskID string) error
	retry    queue.RetryPolicy
	logger   *slog.Logger
}

func NewTaskConsumer(client Fetcher, syncTask func(ctx context.Context, taskID string) error, retry queue.RetryPolicy, logger *slog.Logger) *TaskConsumer {
	return &TaskConsumer{client: client, syncTask: syncTask, retry: retry, logger: logger}
}

func (c *TaskConsumer) Run(ctx context.Context) {
	c.logger.Info("task consumer started")
	defer c.logger.Info("task consumer stopped")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("fetch error", "topic", e.Topic, "partition", e.Partition, "error", e.Err)
			}
			continue
		}
		for _, rec := range fetches.Records() {
			if ctx.Err() != nil {
				return
			}
			c.handle(ctx, rec)
			if err := c.client.CommitRecords(ctx, rec); err != nil {
				c.logger.Error("commit task event", "offset", rec.Offset, "error", err)
			}
		}
	}
}

// handle syncs the task of rec. Transient failures are retried with the
// consumer's policy; afterwards the record is dropped, the next change of the
// task syncs it again.
func (c *TaskConsumer) handle(ctx context.Context, rec *kgo.Record) {
	taskID := recToTaskID(rec)
	logger := c.logger.With("task_id", taskID, "partition", rec.Partition, "offset", rec.Offset)
	if taskID == "" {
		logger.Warn("task event without task id, skipping")
		return
	}

	for attempt := 1; ; attempt++ {
		err := c.syncTask(ctx, taskID)
		if err == nil {
			logger.Debug("task reminders synced")
			return
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			logger.Warn("task event skipped", "error", err)
			return
		}
		delay, ok := c.retry.Next(attempt)
		if !ok {
			logger.Error("task sync failed, dropping event", "attempts", attempt, "error", err)
			return
		}
		logger.Warn("task sync failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func recToTaskID(rec *kgo.Record) string {
	var evt TaskEvent
	if len(rec.Value) > 0 && json.Unmarshal(rec.Value, &evt) == nil && evt.TaskID != "" {
		return evt.TaskID
	}
	return string(rec.Key)
}
