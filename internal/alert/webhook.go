// Package alert delivers moderation alerts to an operator chat channel via an
// incoming webhook. Delivery is fire-and-forget: the gate never waits on the
// webhook and failures are logged, not propagated.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/roomtalk/chat-app/internal/moderation"
)

// WebhookSink posts moderation alerts to a webhook URL. It implements
// moderation.AlertSink. An empty URL disables delivery, which keeps local
// development quiet.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to the given webhook URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// payload is the webhook message format: a headline plus one colored
// attachment carrying the flagged text and its context as fields.
type payload struct {
	Username    string       `json:"username"`
	IconEmoji   string       `json:"icon_emoji"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Pretext  string  `json:"pretext"`
	Fallback string  `json:"fallback"`
	Color    string  `json:"color"`
	Fields   []field `json:"fields"`
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// SendModerationAlert builds and posts the alert in a background goroutine.
func (s *WebhookSink) SendModerationAlert(alert moderation.Alert) {
	if s.url == "" {
		log.Printf("alert: webhook URL not configured, dropping %s alert for %s",
			alert.Decision, alert.SenderID)
		return
	}

	go func() {
		if err := s.post(buildPayload(alert)); err != nil {
			log.Printf("alert: webhook delivery failed: %v", err)
		}
	}()
}

func (s *WebhookSink) post(p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildPayload(alert moderation.Alert) payload {
	sender := alert.SenderName
	if sender == "" {
		sender = alert.SenderID
	}

	var headline, pretext, color string
	switch alert.Decision {
	case moderation.DecisionTaboo:
		headline = ":no_entry_sign: *Taboo content alert* :no_entry_sign:"
		pretext = fmt.Sprintf("*%s* posted taboo content and has been frozen automatically. "+
			"Lift the freeze if the content turns out to be safe.", sender)
		color = "#d9534f"
	default:
		headline = ":warning: *Warning content alert* :warning:"
		pretext = fmt.Sprintf("*%s* posted content matching a warning term. "+
			"Review it and decide whether to freeze the account.", sender)
		color = "#f0ad4e"
	}

	kind := "Message"
	if alert.IsRoomName {
		kind = "Room name"
	}

	fields := []field{
		{Title: fmt.Sprintf("[%s]", kind), Value: alert.Text},
		{Title: "[Matched word]", Value: alert.MatchedWord},
		{Title: "[Sender]", Value: fmt.Sprintf("%s (%s)", sender, alert.SenderID)},
	}
	if alert.RoomID != "" {
		fields = append(fields, field{
			Title: "[Room]",
			Value: fmt.Sprintf("%s (%s)", alert.RoomName, alert.RoomID),
		})
	}

	return payload{
		Username:  "moderation alert",
		IconEmoji: ":rotating_light:",
		Text:      headline,
		Attachments: []attachment{{
			Pretext:  pretext,
			Fallback: pretext,
			Color:    color,
			Fields:   fields,
		}},
	}
}
