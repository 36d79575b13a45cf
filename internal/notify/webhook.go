package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier announces newly created approval requests to the consent surface.
// Notification is fire-and-forget: a failure must never fail the request
// creation, since the surface can also be opened through the listing API.
type Notifier interface {
	ApprovalCreated(ctx context.Context, id, kind string)
}

// Noop is the Notifier used when no consent-surface endpoint is configured.
type Noop struct{}

// ApprovalCreated implements Notifier.
func (Noop) ApprovalCreated(context.Context, string, string) {}

// Webhook POSTs approval announcements to a configured HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
	log    *zap.SugaredLogger
}

// NewWebhook creates a webhook notifier for the given URL.
func NewWebhook(url string, log *zap.SugaredLogger) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// approvalEvent is the webhook payload.
type approvalEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ApprovalCreated implements Notifier. Failures are logged and swallowed.
func (w *Webhook) ApprovalCreated(ctx context.Context, id, kind string) {
	body, err := json.Marshal(approvalEvent{ID: id, Kind: kind})
	if err != nil {
		w.log.Warnw("failed to marshal approval event", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warnw("failed to build approval notification", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warnw("failed to notify consent surface", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		w.log.Warnw("consent surface rejected notification",
			"err", fmt.Sprintf("status %d", resp.StatusCode))
	}
}
