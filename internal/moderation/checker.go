// Package moderation provides the inline content gate run on every chat
// message before it is persisted or broadcast. Text is classified against two
// ordered word lists: taboo terms freeze the sender immediately, warning terms
// flag the message for operator review. Both outcomes raise an alert; safe
// text passes through untouched.
package moderation

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Decision is the outcome of classifying a piece of user text.
type Decision int

const (
	DecisionSafe Decision = iota
	DecisionWarning
	DecisionTaboo
)

// String returns the lowercase wire/log label for the decision.
func (d Decision) String() string {
	switch d {
	case DecisionTaboo:
		return "taboo"
	case DecisionWarning:
		return "warning"
	default:
		return "safe"
	}
}

// Result carries the decision and, for non-safe decisions, the trigger word
// that matched first. Results are transient and never persisted.
type Result struct {
	Decision    Decision
	MatchedWord string
}

// WordLists holds the ordered taboo and warning trigger substrings. Order
// matters: the first match in list order wins within a category.
type WordLists struct {
	Taboo   []string
	Warning []string
}

// Category keys expected in the word-list source. Absence of either key is a
// hard load failure.
const (
	categoryTaboo   = "taboo"
	categoryWarning = "warning"
)

// LoadWordLists reads the two-category word-list CSV at path. Each record's
// first field is the category key ("taboo" or "warning") and the remaining
// fields are the trigger substrings for that category, in order. Records with
// other keys are ignored so the file can carry comments or future categories.
func LoadWordLists(path string) (*WordLists, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: open word list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // rows have differing word counts

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("moderation: parse word list: %w", err)
	}

	lists := &WordLists{}
	seen := map[string]bool{}
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		key := strings.TrimSpace(record[0])
		// Trigger words are normalized once here so Check only has to
		// normalize the incoming text.
		words := make([]string, 0, len(record)-1)
		for _, w := range record[1:] {
			w = Normalize(strings.TrimSpace(w))
			if w != "" {
				words = append(words, w)
			}
		}
		switch key {
		case categoryTaboo:
			lists.Taboo = append(lists.Taboo, words...)
			seen[categoryTaboo] = true
		case categoryWarning:
			lists.Warning = append(lists.Warning, words...)
			seen[categoryWarning] = true
		}
	}

	if !seen[categoryTaboo] {
		return nil, fmt.Errorf("moderation: word list %s is missing the %q category", path, categoryTaboo)
	}
	if !seen[categoryWarning] {
		return nil, fmt.Errorf("moderation: word list %s is missing the %q category", path, categoryWarning)
	}
	return lists, nil
}

// Alert is the context handed to the alert sink when a message trips the
// gate. SenderID/RoomID identify the connection the checker is bound to.
type Alert struct {
	Decision    Decision
	SenderID    string
	SenderName  string
	RoomID      string
	RoomName    string
	MessageID   string
	Text        string // original, un-normalized text
	MatchedWord string
	IsRoomName  bool // true when the flagged text is a room name, not a message
}

// AlertSink receives moderation alerts. Implementations must not block the
// caller; dispatch failures are theirs to log and swallow.
type AlertSink interface {
	SendModerationAlert(alert Alert)
}

// Checker classifies text for a single sender/room pair. It is created once
// per connection during the auth handshake so every alert carries the sender
// and room context without further lookups.
type Checker struct {
	lists      *WordLists
	sink       AlertSink // nil disables alerting
	senderID   string
	senderName string
	roomID     string
	roomName   string
}

// NewChecker binds the given word lists and alert sink to a sender/room pair.
// A nil sink disables alerting; classification behaves identically either way.
func NewChecker(lists *WordLists, sink AlertSink, senderID, senderName, roomID, roomName string) *Checker {
	return &Checker{
		lists:      lists,
		sink:       sink,
		senderID:   senderID,
		senderName: senderName,
		roomID:     roomID,
		roomName:   roomName,
	}
}

// Check classifies a chat message. Taboo is always checked before warning, so
// text matching both categories is classified taboo. The messageID is only
// used to enrich alerts.
func (c *Checker) Check(text, messageID string) Result {
	result := classify(c.lists, text)
	if result.Decision != DecisionSafe && c.sink != nil {
		c.sink.SendModerationAlert(Alert{
			Decision:    result.Decision,
			SenderID:    c.senderID,
			SenderName:  c.senderName,
			RoomID:      c.roomID,
			RoomName:    c.roomName,
			MessageID:   messageID,
			Text:        text,
			MatchedWord: result.MatchedWord,
		})
	}
	return result
}

// CheckRoomName classifies a prospective room name with the same lists. The
// alert is marked as a room-name alert so operators see it is not a message.
func (c *Checker) CheckRoomName(name string) Result {
	result := classify(c.lists, name)
	if result.Decision != DecisionSafe && c.sink != nil {
		c.sink.SendModerationAlert(Alert{
			Decision:    result.Decision,
			SenderID:    c.senderID,
			SenderName:  c.senderName,
			Text:        name,
			MatchedWord: result.MatchedWord,
			IsRoomName:  true,
		})
	}
	return result
}

// classify runs the two-pass scan over normalized text. It is deterministic
// for fixed lists.
func classify(lists *WordLists, text string) Result {
	normalized := Normalize(text)

	if word, ok := searchWords(normalized, lists.Taboo); ok {
		return Result{Decision: DecisionTaboo, MatchedWord: word}
	}
	if word, ok := searchWords(normalized, lists.Warning); ok {
		return Result{Decision: DecisionWarning, MatchedWord: word}
	}
	return Result{Decision: DecisionSafe}
}

// searchWords returns the first list entry found as a substring of text, in
// list order.
func searchWords(text string, words []string) (string, bool) {
	for _, word := range words {
		if strings.Contains(text, word) {
			return word, true
		}
	}
	return "", false
}
