// Package memory holds tasks, reminders and subscriptions in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ecociel/remind/domain"
)

type Repo struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	reminders map[string]domain.Reminder
	subs      map[string]domain.Subscription
}

func New() *Repo {
	return &Repo{
		tasks:     make(map[string]domain.Task),
		reminders: make(map[string]domain.Reminder),
		subs:      make(map[string]domain.Subscription),
	}
}

func (repo *Repo) SaveTask(_ context.Context, t domain.Task) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.tasks[t.ID] = t
	return nil
}

func (repo *Repo) SaveSubscription(_ context.Context, s domain.Subscription) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.subs[s.ID] = s
	return nil
}

func (repo *Repo) FindTask(_ context.Context, id string) (domain.Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	t, ok := repo.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (repo *Repo) CompleteTask(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	t, ok := repo.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Completed = true
	repo.tasks[id] = t
	return nil
}

func (repo *Repo) FindReminder(_ context.Context, id string) (domain.Reminder, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	r, ok := repo.reminders[id]
	if !ok {
		return domain.Reminder{}, fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (repo *Repo) FindOpenReminderForTask(_ context.Context, taskID string) (domain.Reminder, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var found *domain.Reminder
	for _, r := range repo.reminders {
		if r.TaskID != taskID || r.Status == domain.StatusDismissed {
			continue
		}
		if found == nil || r.TriggerAt.After(found.TriggerAt) {
			found = &r
		}
	}
	if found == nil {
		return domain.Reminder{}, fmt.Errorf("open reminder of task %s: %w", taskID, domain.ErrNotFound)
	}
	return *found, nil
}

func (repo *Repo) SaveReminder(_ context.Context, r domain.Reminder) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.reminders[r.ID] = r
	return nil
}

func (repo *Repo) update(id string, fn func(r *domain.Reminder)) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	r, ok := repo.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %s: %w", id, domain.ErrNotFound)
	}
	fn(&r)
	repo.reminders[id] = r
	return nil
}

func (repo *Repo) RescheduleReminder(_ context.Context, id string, at time.Time) error {
	return repo.update(id, func(r *domain.Reminder) {
		r.TriggerAt = at
		r.Status = domain.StatusScheduled
	})
}

func (repo *Repo) SetReminderJob(_ context.Context, id string, jobID int64) error {
	return repo.update(id, func(r *domain.Reminder) {
		r.JobID = jobID
	})
}

func (repo *Repo) MarkReminderSent(_ context.Context, id string, triggerAt time.Time) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	r, ok := repo.reminders[id]
	if !ok || r.Status != domain.StatusScheduled || !r.TriggerAt.Equal(triggerAt) {
		return false, nil
	}
	r.Status = domain.StatusSent
	repo.reminders[id] = r
	return true, nil
}

func (repo *Repo) DismissReminder(_ context.Context, id string) error {
	return repo.update(id, func(r *domain.Reminder) {
		r.Status = domain.StatusDismissed
	})
}

func (repo *Repo) ActiveSubscriptions(_ context.Context, ownerID string) ([]domain.Subscription, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var subs []domain.Subscription
	for _, s := range repo.subs {
		if s.OwnerID == ownerID && s.Active {
			subs = append(subs, s)
		}
	}
	slices.SortFunc(subs, func(a, b domain.Subscription) int { return strings.Compare(a.ID, b.ID) })
	return subs, nil
}

func (repo *Repo) DeactivateSubscription(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	s, ok := repo.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	s.Active = false
	repo.subs[id] = s
	return nil
}
