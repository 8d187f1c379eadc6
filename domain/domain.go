package domain

import "time"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusDismissed Status = "dismissed"
)

// Task is the part of a user's task the reminder subsystem cares about.
type Task struct {
	ID        string
	OwnerID   string
	Title     string
	Completed bool
	DueDate   *time.Time
	DeferDate *time.Time
}

// Reminder fires a notification for one task at TriggerAt.
// JobID is the handle of the job store entry last scheduled for it, 0 if none.
type Reminder struct {
	ID        string
	TaskID    string
	OwnerID   string
	TriggerAt time.Time
	Status    Status
	JobID     int64
}

type ChannelKind string

const (
	ChannelNtfy    ChannelKind = "ntfy"
	ChannelWebPush ChannelKind = "webpush"
	ChannelKafka   ChannelKind = "kafka"
)

// Subscription is one notification sink of an actor. Topic is used by
// topic based channels, Endpoint/P256dh/Auth by browser push.
type Subscription struct {
	ID       string
	OwnerID  string
	Kind     ChannelKind
	Topic    string
	Endpoint string
	P256dh   string
	Auth     string
	Active   bool
}

type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is the channel independent message delivered for a reminder.
type Notification struct {
	ReminderID string   `json:"reminder_id"`
	TaskID     string   `json:"task_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Actions    []Action `json:"actions"`
}
