// Package ntfy delivers notifications to ntfy topics over HTTP. Callback
// actions are sent as ntfy "http" actions so clients issue a POST without
// opening a browser.
package ntfy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ecociel/remind/domain"
)

type Client struct {
	server string
	http   *http.Client
}

func New(server string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{server: strings.TrimRight(server, "/"), http: client}
}

func (c *Client) Deliver(ctx context.Context, sub domain.Subscription, msg domain.Notification) error {
	if sub.Topic == "" {
		return fmt.Errorf("ntfy subscription %s has no topic: %w", sub.ID, domain.ErrSubscriptionGone)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/"+sub.Topic, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Title", msg.Title)
	req.Header.Set("Tags", "alarm_clock")
	if actions := formatActions(msg.Actions); actions != "" {
		req.Header.Set("Actions", actions)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post to ntfy topic %s: %w", sub.Topic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("ntfy topic %s: status %d: %w", sub.Topic, resp.StatusCode, domain.ErrSubscriptionGone)
	case resp.StatusCode >= 300:
		return fmt.Errorf("ntfy topic %s: unexpected status %d", sub.Topic, resp.StatusCode)
	}
	return nil
}

// formatActions renders actions in ntfy's short header format, one
// "http, <label>, <url>, method=POST, clear=true" entry per action.
func formatActions(actions []domain.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		label := strings.NewReplacer(",", " ", ";", " ").Replace(a.Label)
		parts = append(parts, "http, "+label+", "+a.URL+", method=POST, clear=true")
	}
	return strings.Join(parts, "; ")
}
