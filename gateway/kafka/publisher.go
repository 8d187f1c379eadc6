package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecociel/remind/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	HeaderReminderID = "reminder_id"
	HeaderTaskID     = "task_id"
)

// Producer defines the interface for producing messages to Kafka
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher delivers notifications to the topic of a kafka subscription,
// falling back to the default topic when the subscription has none.
type Publisher struct {
	client       Producer
	defaultTopic string
}

func NewPublisher(client Producer, topic string) *Publisher {
	return &Publisher{client: client, defaultTopic: topic}
}

func (p *Publisher) Deliver(ctx context.Context, sub domain.Subscription, msg domain.Notification) error {
	rec, err := notificationToRec(sub, msg)
	if err != nil {
		return err
	}
	if rec.Topic == "" {
		rec.Topic = p.defaultTopic
	}
	if err := p.client.ProduceSync(ctx, &rec).FirstErr(); err != nil {
		return fmt.Errorf("publish notification %s: %w", msg.ReminderID, err)
	}
	return nil
}

func notificationToRec(sub domain.Subscription, msg domain.Notification) (rec kgo.Record, err error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return rec, fmt.Errorf("serialize notification %s: %w", msg.ReminderID, err)
	}
	rec.Topic = sub.Topic
	rec.Key = []byte(sub.OwnerID)
	rec.Value = value
	rec.Headers = []kgo.RecordHeader{
		{Key: HeaderReminderID, Value: []byte(msg.ReminderID)},
		{Key: HeaderTaskID, Value: []byte(msg.TaskID)},
	}
	return rec, nil
}
