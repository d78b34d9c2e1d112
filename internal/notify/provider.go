package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider pushes notifications through an HTTP relay that forwards them
// to the platform push services. The relay owns the platform credentials; the
// gateway only speaks this one JSON shape.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider posting to the given relay URL.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type pushRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Badge int    `json:"badge,omitempty"`
}

// Push sends one notification. An unconfigured relay URL drops pushes
// silently so local development works without a relay.
func (p *HTTPProvider) Push(ctx context.Context, deviceToken, title, body string, badge int) error {
	if p.url == "" {
		return nil
	}

	payload, err := json.Marshal(pushRequest{
		Token: deviceToken,
		Title: title,
		Body:  body,
		Badge: badge,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: push relay returned status %d", resp.StatusCode)
	}
	return nil
}
