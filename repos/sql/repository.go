package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecociel/remind/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo is the relational store of tasks, reminders and
// subscriptions. All reminder mutations are single conditional statements,
// nothing is cached between calls.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("query %s %s: %w", what, id, err)
}

func (repo *PostgresRepo) FindTask(ctx context.Context, id string) (t domain.Task, err error) {
	const q = `
    SELECT id, owner_id, title, completed, due_date, defer_date
    FROM task WHERE id = $1`
	err = repo.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.OwnerID, &t.Title, &t.Completed, &t.DueDate, &t.DeferDate)
	if err != nil {
		return domain.Task{}, notFound(err, "task", id)
	}
	return t, nil
}

func (repo *PostgresRepo) CompleteTask(ctx context.Context, id string) error {
	const q = `UPDATE task SET completed = TRUE WHERE id = $1`
	tag, err := repo.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

const reminderColumns = `id, task_id, owner_id, trigger_at, status, COALESCE(job_id, 0)`

func scanReminder(row pgx.Row) (r domain.Reminder, err error) {
	err = row.Scan(&r.ID, &r.TaskID, &r.OwnerID, &r.TriggerAt, &r.Status, &r.JobID)
	return r, err
}

func (repo *PostgresRepo) FindReminder(ctx context.Context, id string) (domain.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminder WHERE id = $1`
	r, err := scanReminder(repo.pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.Reminder{}, notFound(err, "reminder", id)
	}
	return r, nil
}

func (repo *PostgresRepo) FindOpenReminderForTask(ctx context.Context, taskID string) (domain.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminder
    WHERE task_id = $1 AND status <> 'dismissed'
    ORDER BY trigger_at DESC
    LIMIT 1`
	r, err := scanReminder(repo.pool.QueryRow(ctx, q, taskID))
	if err != nil {
		return domain.Reminder{}, notFound(err, "open reminder of task", taskID)
	}
	return r, nil
}

func (repo *PostgresRepo) SaveReminder(ctx context.Context, r domain.Reminder) error {
	const q = `
        INSERT INTO reminder
          (id, task_id, owner_id, trigger_at, status, job_id)
        VALUES
          ($1, $2, $3, $4, $5, NULLIF($6::bigint, 0))
        ON CONFLICT (id) DO UPDATE
          SET trigger_at = EXCLUDED.trigger_at, status = EXCLUDED.status, job_id = EXCLUDED.job_id
        `
	if _, err := repo.pool.Exec(ctx, q, r.ID, r.TaskID, r.OwnerID, r.TriggerAt, r.Status, r.JobID); err != nil {
		return fmt.Errorf("save reminder %s: %w", r.ID, err)
	}
	return nil
}

func (repo *PostgresRepo) exec(ctx context.Context, q, id string, args ...any) error {
	tag, err := repo.pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update reminder %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (repo *PostgresRepo) RescheduleReminder(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE reminder SET trigger_at = $2, status = 'scheduled' WHERE id = $1`
	return repo.exec(ctx, q, id, at)
}

func (repo *PostgresRepo) SetReminderJob(ctx context.Context, id string, jobID int64) error {
	const q = `UPDATE reminder SET job_id = $2 WHERE id = $1`
	return repo.exec(ctx, q, id, jobID)
}

// MarkReminderSent only succeeds while the reminder is still scheduled for
// triggerAt.
func (repo *PostgresRepo) MarkReminderSent(ctx context.Context, id string, triggerAt time.Time) (bool, error) {
	const q = `
      UPDATE reminder SET status = 'sent'
      WHERE id = $1 AND status = 'scheduled' AND trigger_at = $2`
	tag, err := repo.pool.Exec(ctx, q, id, triggerAt)
	if err != nil {
		return false, fmt.Errorf("mark reminder %s sent: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (repo *PostgresRepo) DismissReminder(ctx context.Context, id string) error {
	const q = `UPDATE reminder SET status = 'dismissed' WHERE id = $1`
	return repo.exec(ctx, q, id)
}

func (repo *PostgresRepo) ActiveSubscriptions(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	const q = `
    SELECT id, owner_id, kind, topic, endpoint, p256dh, auth, active
    FROM notification_subscription
    WHERE owner_id = $1 AND active
    ORDER BY id
     `
	rows, err := repo.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions of %s: %w", ownerID, err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Kind, &s.Topic, &s.Endpoint, &s.P256dh, &s.Auth, &s.Active); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows subscriptions of %s: %w", ownerID, err)
	}
	return subs, nil
}

func (repo *PostgresRepo) DeactivateSubscription(ctx context.Context, id string) error {
	const q = `UPDATE notification_subscription SET active = FALSE WHERE id = $1`
	if _, err := repo.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("deactivate subscription %s: %w", id, err)
	}
	return nil
}
