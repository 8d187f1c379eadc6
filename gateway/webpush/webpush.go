// Package webpush delivers notifications to browser push subscriptions
// using VAPID authentication.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/ecociel/remind/domain"
)

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (mailto: or https: URL) sent to push services.
	Subscriber string
	TTL        int
}

type Sender struct {
	cfg    Config
	client webpush.HTTPClient
}

func New(cfg Config, client webpush.HTTPClient) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	return &Sender{cfg: cfg, client: client}
}

func (s *Sender) Deliver(ctx context.Context, sub domain.Subscription, msg domain.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serialize notification %s: %w", msg.ReminderID, err)
	}
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send web push to subscription %s: %w", sub.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusError(sub.ID, resp.StatusCode)
}

// statusError maps a push service response code. 404 and 410 mean the
// browser dropped the subscription.
func statusError(subID string, status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("web push subscription %s: status %d: %w", subID, status, domain.ErrSubscriptionGone)
	case status >= 300:
		return fmt.Errorf("web push subscription %s: unexpected status %d", subID, status)
	}
	return nil
}
