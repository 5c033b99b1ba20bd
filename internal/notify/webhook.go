package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookBackend POSTs notifications to an HTTP(S) endpoint.
type WebhookBackend struct {
	url    string
	client *http.Client
}

func NewWebhookBackend(url string, timeout time.Duration) *WebhookBackend {
	return &WebhookBackend{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookBackend) Name() string {
	return "webhook"
}

func (w *WebhookBackend) Publish(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpError{statusCode: resp.StatusCode}
	}
	return nil
}

func (w *WebhookBackend) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.statusCode)
}
