package uc

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ecociel/remind/domain"
	jobs "github.com/ecociel/remind/lib/domain"
	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/lib/token"
	"github.com/ecociel/remind/metrics"
	"github.com/ecociel/remind/repos/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockChannel records deliveries and fails them with deliverFunc's error.
type mockChannel struct {
	mu          sync.Mutex
	deliverFunc func(ctx context.Context, sub domain.Subscription) error
	delivered   []domain.Notification
	subs        []string
}

func (m *mockChannel) Deliver(ctx context.Context, sub domain.Subscription, msg domain.Notification) error {
	if m.deliverFunc != nil {
		if err := m.deliverFunc(ctx, sub); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, msg)
	m.subs = append(m.subs, sub.ID)
	return nil
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock      *clock
	repo       *memory.Repo
	jobs       *queue.Memory
	tokens     *token.Authority
	channel    *mockChannel
	dispatcher *Dispatcher
	schedule   ScheduleUseCase
	reschedule RescheduleUseCase
	cancel     CancelUseCase
	dismiss    DismissUseCase
	sync       SyncTaskUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &clock{now: t0},
		repo:    memory.New(),
		jobs:    queue.NewMemory(),
		channel: &mockChannel{},
	}
	var err error
	f.tokens, err = token.New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}
	logger := testLogger()
	f.dispatcher = NewDispatcher(f.repo, f.repo, f.repo, f.tokens,
		DispatchConfig{BaseURL: "https://remind.example/", SnoozeMinutes: 15, DeliveryTimeout: time.Second},
		metrics.Nop{}, logger)
	f.dispatcher.RegisterChannel(domain.ChannelNtfy, f.channel)
	f.schedule = MakeScheduleUseCase(f.repo, f.jobs, logger)
	f.reschedule = MakeRescheduleUseCase(f.repo, f.jobs, f.clock.Now, logger)
	f.cancel = MakeCancelUseCase(f.repo, f.jobs)
	f.dismiss = MakeDismissUseCase(f.repo, f.repo, f.jobs, logger)
	f.sync = MakeSyncTaskUseCase(f.repo, f.repo, f.jobs, f.clock.Now, logger)

	ctx := context.Background()
	f.repo.SaveTask(ctx, domain.Task{ID: "t1", OwnerID: "u1", Title: "Water plants"})
	f.repo.SaveSubscription(ctx, domain.Subscription{ID: "s1", OwnerID: "u1", Kind: domain.ChannelNtfy, Topic: "u1", Active: true})
	f.repo.SaveReminder(ctx, domain.Reminder{ID: "r1", TaskID: "t1", OwnerID: "u1", TriggerAt: t0.Add(time.Hour), Status: domain.StatusScheduled})
	return f
}

// fire claims and handles every job due at the fixture's clock.
func (f *fixture) fire(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	claimed, err := f.jobs.Claim(ctx, f.clock.Now(), []string{QueueReminders}, 100, "test", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, job := range claimed {
		if err := f.dispatcher.Handle(ctx, job); err != nil {
			t.Fatalf("handle job %d: %v", job.ID, err)
		}
		if err := f.jobs.Complete(ctx, job); err != nil {
			t.Fatalf("complete job %d: %v", job.ID, err)
		}
	}
	return len(claimed)
}

func (f *fixture) reminder(t *testing.T, id string) domain.Reminder {
	t.Helper()
	r, err := f.repo.FindReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("find reminder %s: %v", id, err)
	}
	return r
}

func pendingJobs(s *queue.Memory) []jobs.Job {
	var out []jobs.Job
	for _, job := range s.Jobs() {
		if job.State == jobs.StatePending {
			out = append(out, job)
		}
	}
	return out
}
