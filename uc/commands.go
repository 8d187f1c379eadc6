package uc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecociel/remind/domain"
	"github.com/google/uuid"
)

// QueueReminders is the job store queue reminder jobs are scheduled on.
const QueueReminders = "reminders"

// Payload is the body of a reminder job.
type Payload struct {
	ReminderID string    `json:"reminder_id"`
	TaskID     string    `json:"task_id"`
	TriggerAt  time.Time `json:"trigger_at"`
}

// DedupKey is the job store dedup key of a reminder. It never changes across
// reschedules, unlike the job id.
func DedupKey(reminderID string) string {
	return "reminder:" + reminderID
}

type JobQueue interface {
	Upsert(ctx context.Context, queue string, payload []byte, due time.Time, dedupKey string) (int64, error)
	Cancel(ctx context.Context, queue string, id int64) error
}

type ReminderRepo interface {
	FindReminder(ctx context.Context, id string) (domain.Reminder, error)
	FindOpenReminderForTask(ctx context.Context, taskID string) (domain.Reminder, error)
	SaveReminder(ctx context.Context, r domain.Reminder) error
	RescheduleReminder(ctx context.Context, id string, at time.Time) error
	SetReminderJob(ctx context.Context, id string, jobID int64) error
	MarkReminderSent(ctx context.Context, id string, triggerAt time.Time) (bool, error)
	DismissReminder(ctx context.Context, id string) error
}

type TaskRepo interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
	CompleteTask(ctx context.Context, id string) error
}

type ScheduleUseCase = func(ctx context.Context, reminderID, taskID string, at time.Time) error
type RescheduleUseCase = func(ctx context.Context, reminderID string, minutes int) (time.Time, error)
type CancelUseCase = func(ctx context.Context, reminderID string) error
type DismissUseCase = func(ctx context.Context, reminderID string) error
type SyncTaskUseCase = func(ctx context.Context, taskID string) error

// normalize drops what Postgres timestamps cannot hold, so trigger times
// compare equal after a round trip through the store.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// MakeScheduleUseCase returns the operation that makes reminderID fire at at.
// The reminder row is updated before the job so a job can never carry a
// trigger time the reminder does not know about yet.
func MakeScheduleUseCase(reminders ReminderRepo, jobs JobQueue, logger *slog.Logger) ScheduleUseCase {
	return func(ctx context.Context, reminderID, taskID string, at time.Time) error {
		r, err := reminders.FindReminder(ctx, reminderID)
		if err != nil {
			return fmt.Errorf("load reminder %s: %w", reminderID, err)
		}
		if r.TaskID != taskID {
			return &domain.ValidationError{Field: "task_id", Message: "does not belong to reminder " + reminderID}
		}
		at = normalize(at)
		if err := reminders.RescheduleReminder(ctx, reminderID, at); err != nil {
			return fmt.Errorf("update reminder %s: %w", reminderID, err)
		}
		return enqueue(ctx, reminders, jobs, logger, r, at)
	}
}

// MakeRescheduleUseCase returns the snooze operation: the reminder fires again
// minutes from now, whatever its current status.
func MakeRescheduleUseCase(reminders ReminderRepo, jobs JobQueue, now func() time.Time, logger *slog.Logger) RescheduleUseCase {
	return func(ctx context.Context, reminderID string, minutes int) (time.Time, error) {
		if minutes <= 0 {
			return time.Time{}, &domain.ValidationError{Field: "mins", Message: "must be a positive integer"}
		}
		r, err := reminders.FindReminder(ctx, reminderID)
		if err != nil {
			return time.Time{}, fmt.Errorf("load reminder %s: %w", reminderID, err)
		}
		at := normalize(now().Add(time.Duration(minutes) * time.Minute))
		if err := reminders.RescheduleReminder(ctx, reminderID, at); err != nil {
			return time.Time{}, fmt.Errorf("update reminder %s: %w", reminderID, err)
		}
		if err := enqueue(ctx, reminders, jobs, logger, r, at); err != nil {
			return time.Time{}, err
		}
		logger.Info("reminder snoozed", "reminder_id", reminderID, "minutes", minutes, "trigger_at", at)
		return at, nil
	}
}

// MakeCancelUseCase returns the operation cancelling a reminder's job. The
// reminder status is left as is.
func MakeCancelUseCase(reminders ReminderRepo, jobs JobQueue) CancelUseCase {
	return func(ctx context.Context, reminderID string) error {
		r, err := reminders.FindReminder(ctx, reminderID)
		if err != nil {
			return fmt.Errorf("load reminder %s: %w", reminderID, err)
		}
		if r.JobID == 0 {
			return nil
		}
		return jobs.Cancel(ctx, QueueReminders, r.JobID)
	}
}

// MakeDismissUseCase returns the "done" operation: the reminder is dismissed
// and its task completed. Repeating it is harmless.
func MakeDismissUseCase(reminders ReminderRepo, tasks TaskRepo, jobs JobQueue, logger *slog.Logger) DismissUseCase {
	return func(ctx context.Context, reminderID string) error {
		r, err := reminders.FindReminder(ctx, reminderID)
		if err != nil {
			return fmt.Errorf("load reminder %s: %w", reminderID, err)
		}
		if err := reminders.DismissReminder(ctx, reminderID); err != nil {
			return fmt.Errorf("dismiss reminder %s: %w", reminderID, err)
		}
		cancelBestEffort(ctx, jobs, logger, r.ID, r.JobID)

		err = tasks.CompleteTask(ctx, r.TaskID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("dismissed reminder of unknown task", "reminder_id", reminderID, "task_id", r.TaskID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete task %s: %w", r.TaskID, err)
		}
		return nil
	}
}

// MakeSyncTaskUseCase returns the operation run after a task's schedule or
// completion changed. The trigger time is the defer date if set, else the due
// date. Completed or unscheduled tasks lose their open reminder.
func MakeSyncTaskUseCase(reminders ReminderRepo, tasks TaskRepo, jobs JobQueue, now func() time.Time, logger *slog.Logger) SyncTaskUseCase {
	schedule := MakeScheduleUseCase(reminders, jobs, logger)
	return func(ctx context.Context, taskID string) error {
		task, err := tasks.FindTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("load task %s: %w", taskID, err)
		}
		r, err := reminders.FindOpenReminderForTask(ctx, taskID)
		hasReminder := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load reminder of task %s: %w", taskID, err)
		}

		trigger := task.DeferDate
		if trigger == nil {
			trigger = task.DueDate
		}

		if task.Completed || trigger == nil {
			if !hasReminder {
				return nil
			}
			cancelBestEffort(ctx, jobs, logger, r.ID, r.JobID)
			if err := reminders.DismissReminder(ctx, r.ID); err != nil {
				return fmt.Errorf("dismiss reminder %s: %w", r.ID, err)
			}
			return nil
		}

		at := normalize(*trigger)
		if !at.After(now()) {
			logger.Debug("task trigger time passed, no reminder", "task_id", taskID, "trigger_at", at)
			return nil
		}
		if hasReminder && r.Status == domain.StatusScheduled && r.TriggerAt.Equal(at) && r.JobID != 0 {
			return nil
		}
		if !hasReminder {
			r = domain.Reminder{
				ID:        uuid.NewString(),
				TaskID:    task.ID,
				OwnerID:   task.OwnerID,
				TriggerAt: at,
				Status:    domain.StatusScheduled,
			}
			if err := reminders.SaveReminder(ctx, r); err != nil {
				return fmt.Errorf("create reminder for task %s: %w", taskID, err)
			}
		}
		return schedule(ctx, r.ID, task.ID, at)
	}
}

// enqueue upserts the reminder's job by dedup key, which atomically replaces
// a still pending job. A previous handle pointing elsewhere is cancelled.
//
// Row and job are written in separate steps, so a concurrent reschedule may
// upsert in between. After each upsert the row is read again and the job
// follows it until both carry the same trigger time; whoever upserts last
// sees the final row.
func enqueue(ctx context.Context, reminders ReminderRepo, jobs JobQueue, logger *slog.Logger, r domain.Reminder, at time.Time) error {
	for {
		id, err := upsertJob(ctx, jobs, r, at)
		if err != nil {
			return err
		}
		if r.JobID != 0 && r.JobID != id {
			cancelBestEffort(ctx, jobs, logger, r.ID, r.JobID)
		}
		if err := reminders.SetReminderJob(ctx, r.ID, id); err != nil {
			return fmt.Errorf("store job of reminder %s: %w", r.ID, err)
		}

		cur, err := reminders.FindReminder(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("reload reminder %s: %w", r.ID, err)
		}
		if cur.Status != domain.StatusScheduled || cur.TriggerAt.Equal(at) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("reminder moved concurrently, following", "reminder_id", r.ID, "trigger_at", cur.TriggerAt)
		cur.JobID = id
		r, at = cur, cur.TriggerAt
	}
}

func upsertJob(ctx context.Context, jobs JobQueue, r domain.Reminder, at time.Time) (int64, error) {
	payload, err := json.Marshal(Payload{ReminderID: r.ID, TaskID: r.TaskID, TriggerAt: at})
	if err != nil {
		return 0, fmt.Errorf("serialize payload of reminder %s: %w", r.ID, err)
	}
	id, err := jobs.Upsert(ctx, QueueReminders, payload, at, DedupKey(r.ID))
	if err != nil {
		return 0, fmt.Errorf("schedule reminder %s: %w", r.ID, err)
	}
	return id, nil
}

func cancelBestEffort(ctx context.Context, jobs JobQueue, logger *slog.Logger, reminderID string, jobID int64) {
	if jobID == 0 {
		return
	}
	if err := jobs.Cancel(ctx, QueueReminders, jobID); err != nil {
		logger.Warn("cancel reminder job", "reminder_id", reminderID, "job_id", jobID, "error", err)
	}
}
