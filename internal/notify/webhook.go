package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WebhookNotifier posts the mismatch digest as JSON to a webhook URL, for
// deployments that route operator alerts through chat integrations instead
// of email.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMismatchDigest implements Notifier.
func (n *WebhookNotifier) SendMismatchDigest(ctx context.Context, d Digest) error {
	if n.url == "" {
		return eris.New("notify: webhook url not configured")
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "notify: marshal digest")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("mismatch digest sent",
		zap.String("run_id", d.RunID),
		zap.Int("mismatches", len(d.Mismatches)),
	)
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
