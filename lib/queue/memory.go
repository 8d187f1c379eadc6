package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ecociel/remind/lib/domain"
)

// Memory is an in-process job store with the same semantics as Postgres.
// It is meant for tests and single process setups.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[int64]*domain.Job)}
}

func (s *Memory) pendingByKey(queue, dedupKey string) *domain.Job {
	if dedupKey == "" {
		return nil
	}
	for _, job := range s.jobs {
		if job.Queue == queue && job.DedupKey == dedupKey && job.State == domain.StatePending {
			return job
		}
	}
	return nil
}

func (s *Memory) insert(queue string, payload []byte, due time.Time, dedupKey string) int64 {
	s.nextID++
	s.jobs[s.nextID] = &domain.Job{
		ID:       s.nextID,
		Queue:    queue,
		Payload:  slices.Clone(payload),
		Due:      due,
		DedupKey: dedupKey,
		State:    domain.StatePending,
	}
	return s.nextID
}

func (s *Memory) Enqueue(_ context.Context, queue string, payload []byte, due time.Time, dedupKey string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job := s.pendingByKey(queue, dedupKey); job != nil {
		return job.ID, false, nil
	}
	return s.insert(queue, payload, due, dedupKey), true, nil
}

func (s *Memory) Upsert(_ context.Context, queue string, payload []byte, due time.Time, dedupKey string) (int64, error) {
	if dedupKey == "" {
		return 0, ErrNoDedupKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job := s.pendingByKey(queue, dedupKey); job != nil {
		job.Payload = slices.Clone(payload)
		job.Due = due
		job.Attempts = 0
		job.LastError = ""
		return job.ID, nil
	}
	return s.insert(queue, payload, due, dedupKey), nil
}

func (s *Memory) Cancel(_ context.Context, queue string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.Queue == queue && job.State == domain.StatePending {
		job.State = domain.StateCancelled
	}
	return nil
}

func (s *Memory) Claim(_ context.Context, now time.Time, queues []string, limit int, owner string, lease time.Duration) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Job
	for _, job := range s.jobs {
		if !slices.Contains(queues, job.Queue) {
			continue
		}
		pending := job.State == domain.StatePending && !job.Due.After(now)
		expired := job.State == domain.StateClaimed && job.LeaseUntil.Before(now)
		if pending || expired {
			due = append(due, job)
		}
	}
	slices.SortFunc(due, func(a, b *domain.Job) int {
		if c := a.Due.Compare(b.Due); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.Job, 0, len(due))
	for _, job := range due {
		job.State = domain.StateClaimed
		job.LeaseOwner = owner
		job.LeaseUntil = now.Add(lease)
		job.Attempts++
		claimed = append(claimed, copyJob(job))
	}
	return claimed, nil
}

func (s *Memory) owned(job domain.Job) (*domain.Job, error) {
	stored, ok := s.jobs[job.ID]
	if !ok || stored.State != domain.StateClaimed || stored.LeaseOwner != job.LeaseOwner {
		return nil, fmt.Errorf("job %d: %w", job.ID, ErrLeaseLost)
	}
	return stored, nil
}

func (s *Memory) Complete(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.owned(job)
	if err != nil {
		return err
	}
	stored.State = domain.StateDone
	stored.LeaseUntil = time.Time{}
	return nil
}

func (s *Memory) Fail(_ context.Context, job domain.Job, reason string, next time.Time, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.owned(job)
	if err != nil {
		return err
	}
	switch {
	case final:
		stored.State = domain.StateFailed
	case s.pendingByKey(stored.Queue, stored.DedupKey) != nil:
		stored.State = domain.StateCancelled
	default:
		stored.State = domain.StatePending
	}
	stored.Due = next
	stored.LastError = reason
	stored.LeaseOwner = ""
	stored.LeaseUntil = time.Time{}
	return nil
}

// Jobs returns a snapshot of all jobs ordered by id.
func (s *Memory) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, copyJob(job))
	}
	slices.SortFunc(jobs, func(a, b domain.Job) int { return int(a.ID - b.ID) })
	return jobs
}

func copyJob(job *domain.Job) domain.Job {
	c := *job
	c.Payload = slices.Clone(job.Payload)
	return c
}
