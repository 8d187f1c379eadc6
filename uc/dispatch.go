package uc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ecociel/remind/domain"
	jobs "github.com/ecociel/remind/lib/domain"
	"github.com/ecociel/remind/metrics"
)

// Channel delivers a notification to one subscription.
type Channel interface {
	Deliver(ctx context.Context, sub domain.Subscription, msg domain.Notification) error
}

type SubscriptionRepo interface {
	ActiveSubscriptions(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	DeactivateSubscription(ctx context.Context, id string) error
}

type Signer interface {
	Sign(reminderID string) string
}

type DispatchConfig struct {
	// BaseURL is the public URL the callback route is reachable under.
	BaseURL         string
	SnoozeMinutes   int
	DeliveryTimeout time.Duration
}

// Dispatcher is the job handler of the reminders queue.
type Dispatcher struct {
	reminders ReminderRepo
	tasks     TaskRepo
	subs      SubscriptionRepo
	signer    Signer
	channels  map[domain.ChannelKind]Channel
	cfg       DispatchConfig
	metrics   metrics.DeliveryMetrics
	logger    *slog.Logger
}

func NewDispatcher(reminders ReminderRepo, tasks TaskRepo, subs SubscriptionRepo, signer Signer, cfg DispatchConfig, m metrics.DeliveryMetrics, logger *slog.Logger) *Dispatcher {
	if cfg.SnoozeMinutes <= 0 {
		cfg.SnoozeMinutes = 15
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	return &Dispatcher{
		reminders: reminders,
		tasks:     tasks,
		subs:      subs,
		signer:    signer,
		channels:  make(map[domain.ChannelKind]Channel),
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

func (d *Dispatcher) RegisterChannel(kind domain.ChannelKind, ch Channel) {
	d.channels[kind] = ch
}

// Handle delivers the reminder of a fired job. Errors are returned only when
// the reminder or task state could not be read or written, so the job store
// retries. Replaying a job is safe: a reminder that is no longer scheduled
// for the job's trigger time is left alone.
func (d *Dispatcher) Handle(ctx context.Context, job jobs.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload of job %d: %w", job.ID, err)
	}
	logger := d.logger.With("job_id", job.ID, "reminder_id", p.ReminderID, "task_id", p.TaskID)

	r, err := d.reminders.FindReminder(ctx, p.ReminderID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("reminder gone, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", p.ReminderID, err)
	}
	if r.Status != domain.StatusScheduled {
		logger.Info("reminder not scheduled, skipping", "status", r.Status)
		return nil
	}
	if !r.TriggerAt.Equal(p.TriggerAt) {
		logger.Info("reminder rescheduled, skipping stale job", "trigger_at", r.TriggerAt)
		return nil
	}

	task, err := d.tasks.FindTask(ctx, r.TaskID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load task %s: %w", r.TaskID, err)
	}
	if err != nil || task.Completed {
		logger.Info("task completed or gone, dismissing reminder")
		if err := d.reminders.DismissReminder(ctx, r.ID); err != nil {
			return fmt.Errorf("dismiss reminder %s: %w", r.ID, err)
		}
		return nil
	}

	subs, err := d.subs.ActiveSubscriptions(ctx, r.OwnerID)
	if err != nil {
		return fmt.Errorf("load subscriptions of %s: %w", r.OwnerID, err)
	}
	if len(subs) == 0 {
		logger.Warn("no active subscriptions", "owner_id", r.OwnerID)
	} else {
		d.fanOut(ctx, logger, subs, d.notification(r, task))
	}

	sent, err := d.reminders.MarkReminderSent(ctx, r.ID, r.TriggerAt)
	if err != nil {
		return fmt.Errorf("mark reminder %s sent: %w", r.ID, err)
	}
	if !sent {
		logger.Info("reminder changed during delivery, not marked sent")
	}
	return nil
}

// fanOut sends msg to every subscription concurrently and waits for all of
// them. Each send is bounded by the delivery timeout.
func (d *Dispatcher) fanOut(ctx context.Context, logger *slog.Logger, subs []domain.Subscription, msg domain.Notification) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		ch, ok := d.channels[sub.Kind]
		if !ok {
			logger.Warn("no channel for subscription kind", "subscription_id", sub.ID, "kind", sub.Kind)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliver(ctx, logger, ch, sub, msg)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, ch Channel, sub domain.Subscription, msg domain.Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	logger = logger.With("subscription_id", sub.ID, "kind", sub.Kind)
	err := ch.Deliver(ctx, sub, msg)
	if err == nil {
		d.metrics.Delivered(string(sub.Kind))
		logger.Debug("notification delivered")
		return
	}
	d.metrics.DeliveryFailed(string(sub.Kind))
	logger.Warn("notification delivery failed", "error", err)

	if errors.Is(err, domain.ErrSubscriptionGone) {
		// Fresh context, the delivery one may have timed out.
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DeliveryTimeout)
		defer dcancel()
		if err := d.subs.DeactivateSubscription(dctx, sub.ID); err != nil {
			logger.Error("deactivate subscription", "error", err)
			return
		}
		logger.Info("subscription deactivated")
	}
}

func (d *Dispatcher) notification(r domain.Reminder, task domain.Task) domain.Notification {
	title := task.Title
	if title == "" {
		title = "Reminder"
	}
	body := "Reminder for your task"
	if task.DueDate != nil {
		body = "Due " + task.DueDate.UTC().Format("2006-01-02 15:04 MST")
	}
	mins := strconv.Itoa(d.cfg.SnoozeMinutes)
	return domain.Notification{
		ReminderID: r.ID,
		TaskID:     task.ID,
		Title:      title,
		Body:       body,
		Actions: []domain.Action{
			{Label: "Snooze " + mins + " min", URL: d.CallbackURL(r.ID, "mins", mins)},
			{Label: "Done", URL: d.CallbackURL(r.ID, "done", "true")},
		},
	}
}

// CallbackURL builds a signed callback link for reminderID carrying one
// action parameter.
func (d *Dispatcher) CallbackURL(reminderID, param, value string) string {
	q := url.Values{}
	q.Set("id", reminderID)
	q.Set("token", d.signer.Sign(reminderID))
	q.Set(param, value)
	return strings.TrimRight(d.cfg.BaseURL, "/") + "/callback?" + q.Encode()
}
