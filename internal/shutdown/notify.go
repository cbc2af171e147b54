package shutdown

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"overwatch/internal/config"
)

const defaultNotifyTimeout = 5 * time.Second

// Notifier posts halt alerts to the configured webhooks. Delivery is
// best-effort; failures are joined and reported, never retried.
type Notifier struct {
	Webhooks []config.WebhookConfig
	Client   *http.Client
}

func NewNotifier(hooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultNotifyTimeout},
	}
}

type alertEvent struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
	State  string `json:"state"`
	TS     string `json:"ts"`
}

// Alert delivers a shutdown alert to every enabled webhook.
func (n *Notifier) Alert(ctx context.Context, reason, state string) error {
	if n == nil || len(n.Webhooks) == 0 {
		return nil
	}
	body := alertEvent{
		Event:  "shutdown",
		Reason: reason,
		State:  state,
		TS:     time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var all error
	for _, hook := range n.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := n.post(ctx, hook, data); err != nil {
			all = errors.Join(all, fmt.Errorf("deliver to %s: %w", hook.URL, err))
		}
	}
	return all
}

func (n *Notifier) post(ctx context.Context, hook config.WebhookConfig, data []byte) error {
	client := n.Client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Overwatch-Event", "shutdown")
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Overwatch-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
