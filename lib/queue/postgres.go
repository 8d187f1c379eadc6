package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecociel/remind/lib/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Postgres keeps jobs in the job table. The partial unique index on
// (queue, dedup_key) WHERE state = 'pending' makes dedup collisions atomic.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Enqueue inserts a job. If a pending job with the same dedup key exists
// already, its id is returned with created set to false.
func (s *Postgres) Enqueue(ctx context.Context, queue string, payload []byte, due time.Time, dedupKey string) (id int64, created bool, err error) {
	const insert = `
        INSERT INTO job
          (queue, payload, due, dedup_key)
        VALUES
          ($1, $2, $3, NULLIF($4, ''))
        ON CONFLICT (queue, dedup_key) WHERE state = 'pending' DO NOTHING
        RETURNING id
        `
	const existing = `
        SELECT id FROM job
        WHERE queue = $1 AND dedup_key = $2 AND state = 'pending'
        `
	// The pending duplicate may be claimed between both statements, in which
	// case the insert is simply tried again.
	for range 3 {
		err = s.pool.QueryRow(ctx, insert, queue, payload, due, dedupKey).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("insert job: %w", err)
		}
		err = s.pool.QueryRow(ctx, existing, queue, dedupKey).Scan(&id)
		if err == nil {
			return id, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("select duplicate job: %w", err)
		}
	}
	return 0, false, fmt.Errorf("enqueue %s/%s: dedup key kept changing", queue, dedupKey)
}

// Upsert creates a pending job for dedupKey or atomically moves the existing
// pending job to the new due time and payload.
func (s *Postgres) Upsert(ctx context.Context, queue string, payload []byte, due time.Time, dedupKey string) (id int64, err error) {
	if dedupKey == "" {
		return 0, ErrNoDedupKey
	}
	const q = `
        INSERT INTO job
          (queue, payload, due, dedup_key)
        VALUES
          ($1, $2, $3, $4)
        ON CONFLICT (queue, dedup_key) WHERE state = 'pending' DO UPDATE
          SET payload = EXCLUDED.payload,
              due = EXCLUDED.due,
              attempts = 0,
              last_error = NULL,
              updated_at = now()
        RETURNING id
        `
	if err = s.pool.QueryRow(ctx, q, queue, payload, due, dedupKey).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert job %s/%s: %w", queue, dedupKey, err)
	}
	return id, nil
}

// Cancel cancels a pending job. Unknown, running or finished jobs are left
// alone and no error is reported.
func (s *Postgres) Cancel(ctx context.Context, queue string, id int64) error {
	const q = `
        UPDATE job SET state = 'cancelled', updated_at = now()
        WHERE queue = $1 AND id = $2 AND state = 'pending'
        `
	if _, err := s.pool.Exec(ctx, q, queue, id); err != nil {
		return fmt.Errorf("cancel job %s/%d: %w", queue, id, err)
	}
	return nil
}

// Claim leases up to limit due jobs of the given queues to owner. Jobs whose
// previous lease expired are claimed again.
func (s *Postgres) Claim(ctx context.Context, now time.Time, queues []string, limit int, owner string, lease time.Duration) ([]domain.Job, error) {
	const q = `
    UPDATE job SET
      state = 'claimed',
      lease_owner = $3,
      lease_until = $4,
      attempts = attempts + 1,
      updated_at = now()
    WHERE id IN (
      SELECT id FROM job
      WHERE queue = ANY($1)
        AND ((state = 'pending' AND due <= $5) OR (state = 'claimed' AND lease_until < $5))
      ORDER BY due
      LIMIT $2
      FOR UPDATE SKIP LOCKED)
    RETURNING id, queue, payload, due, COALESCE(dedup_key, ''), state, attempts,
      COALESCE(last_error, ''), COALESCE(lease_owner, ''), lease_until
     `
	rows, err := s.pool.Query(ctx, q, queues, limit, owner, now.Add(lease), now)
	if err != nil {
		return nil, fmt.Errorf("query claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		var until *time.Time
		if err := rows.Scan(&job.ID, &job.Queue, &job.Payload, &job.Due, &job.DedupKey, &job.State,
			&job.Attempts, &job.LastError, &job.LeaseOwner, &until); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		if until != nil {
			job.LeaseUntil = *until
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows claim due jobs: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) Complete(ctx context.Context, job domain.Job) error {
	const q = `
      UPDATE job SET state = 'done', lease_until = NULL, updated_at = now()
      WHERE id = $1 AND lease_owner = $2 AND state = 'claimed'`
	tag, err := s.pool.Exec(ctx, q, job.ID, job.LeaseOwner)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %d: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// Fail releases a claimed job. With final set the job is marked failed,
// otherwise it becomes pending again at next, unless a newer pending job for
// the same dedup key exists, which then supersedes it.
func (s *Postgres) Fail(ctx context.Context, job domain.Job, reason string, next time.Time, final bool) error {
	const q = `
      UPDATE job AS j SET
        state = CASE
          WHEN $5::boolean THEN 'failed'
          WHEN j.dedup_key IS NOT NULL AND EXISTS (
            SELECT 1 FROM job p
            WHERE p.queue = j.queue AND p.dedup_key = j.dedup_key AND p.state = 'pending') THEN 'cancelled'
          ELSE 'pending'
        END,
        due = $3,
        last_error = $4,
        lease_owner = NULL,
        lease_until = NULL,
        updated_at = now()
      WHERE j.id = $1 AND j.lease_owner = $2 AND j.state = 'claimed'`
	tag, err := s.pool.Exec(ctx, q, job.ID, job.LeaseOwner, next, reason, final)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// A pending job for the same key appeared concurrently.
		return s.supersede(ctx, job, reason)
	}
	if err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail job %d: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

func (s *Postgres) supersede(ctx context.Context, job domain.Job, reason string) error {
	const q = `
      UPDATE job SET state = 'cancelled', last_error = $3, lease_owner = NULL, lease_until = NULL, updated_at = now()
      WHERE id = $1 AND lease_owner = $2 AND state = 'claimed'`
	if _, err := s.pool.Exec(ctx, q, job.ID, job.LeaseOwner, reason); err != nil {
		return fmt.Errorf("supersede job %d: %w", job.ID, err)
	}
	return nil
}
