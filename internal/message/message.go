// Package message implements chat message persistence and per-account
// delivery tracking. Every message carries two independent delivery marks per
// recipient: stored (the device has written it to local storage) and read (the
// account has seen it). Marks only ever advance; marking twice is a no-op.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roomtalk/chat-app/internal/protocol"
)

// MaxTextLength is the maximum message length in runes.
const MaxTextLength = 1000

// ErrDuplicateID is returned when a message id has already been persisted.
// Client-supplied ids make retries visible as duplicates rather than silent
// double sends.
var ErrDuplicateID = errors.New("message: duplicate message id")

// ErrNotFound is returned when the referenced message does not exist.
var ErrNotFound = errors.New("message: not found")

// Message is a single chat message. Leave messages are system-generated on
// room departure and skip the moderation gate.
type Message struct {
	ID             string
	RoomID         string
	SenderID       string
	Text           string
	IsLeaveMessage bool
	CreatedAt      time.Time
}

// Data renders the message in its wire form.
func (m *Message) Data() protocol.MessageData {
	return protocol.MessageData{
		ID:       m.ID,
		Text:     m.Text,
		SenderID: m.SenderID,
		Time:     m.CreatedAt.Format(protocol.TimeLayout),
	}
}

// ValidateText rejects empty and over-long message text. The limit applies to
// leave messages too, although generated text never comes close to it.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message: text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return fmt.Errorf("message: text length %d exceeds limit of %d", n, MaxTextLength)
	}
	return nil
}
