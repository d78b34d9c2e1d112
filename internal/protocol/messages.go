// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth        = "auth"
	TypeChatMessage = "chat_message"
	TypeStore       = "store"
	TypeStoreByRoom = "store_by_room"
	TypeRead        = "read"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeAuthResponse     = "auth"
	TypeChatMessageEvent = "chat_message"
	TypeChatTabooMessage = "chat_taboo_message"
	TypeEndTalk          = "end_talk"
	TypePong             = "pong"
)

// CloseCodeUnauthenticated is the WebSocket close status code sent when a
// connection fails the auth handshake or never completes it within the grace
// period. It is distinct from the standard close codes so clients can tell an
// auth rejection apart from a transport failure.
const CloseCodeUnauthenticated = 4001

// TimeLayout is the wall-clock format used for message timestamps on the wire.
const TimeLayout = "2006/01/02 15:04:05"

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg is the first envelope a client must send after connecting. It
// carries the bearer token that identifies the account.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ChatMessageMsg is a text message sent by the client into its room. The
// message id is client-supplied so the client can render an optimistic local
// echo and reconcile it with the broadcast.
type ChatMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// StoreMsg marks a single message as stored on the sending client's device.
type StoreMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// StoreByRoomMsg marks every message in the connection's room as stored for
// this account.
type StoreByRoomMsg struct {
	Type string `json:"type"`
}

// ReadMsg marks every message in the connection's room as read for this
// account. Sent by the client when the room view gains focus.
type ReadMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RoomData is the room snapshot embedded in auth responses and end_talk
// events.
type RoomData struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	OwnerID                  string   `json:"owner_id"`
	ParticipantIDs           []string `json:"participant_ids"`
	LeftMemberIDs            []string `json:"left_member_ids"`
	ClosedMemberIDs          []string `json:"closed_member_ids"`
	MaxParticipants          int      `json:"max_num_participants"`
	IsPrivate                bool     `json:"is_private"`
	IsExcludeDifferentGender bool     `json:"is_exclude_different_gender"`
	CreatedAt                string   `json:"created_at"`
	IsEnd                    bool     `json:"is_end"`
	IsActive                 bool     `json:"is_active"`
}

// MessageData is a single chat message as rendered on the wire.
type MessageData struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	SenderID string `json:"sender_id"`
	Time     string `json:"time"`
}

// AuthResponseMsg is sent by the server after a successful auth handshake. It
// carries the current room snapshot, the backlog of messages the account has
// not stored yet (ascending by time), and whether the talk already ended
// while the client was away.
type AuthResponseMsg struct {
	Type              string        `json:"type"`
	RoomID            string        `json:"room_id"`
	Room              *RoomData     `json:"room"`
	NotStoredMessages []MessageData `json:"not_stored_messages"`
	IsAlreadyEnded    bool          `json:"is_already_ended"`
}

// ChatMessageEventMsg is a message broadcast to every connection in the room,
// including the sender.
type ChatMessageEventMsg struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"room_id"`
	Message MessageData `json:"message"`
}

// ChatTabooMessageMsg is sent to the sender only when their message was
// classified taboo. Nothing is persisted or broadcast for such a message.
type ChatTabooMessageMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// EndTalkMsg notifies every member that the room has ended. The embedded
// snapshot reflects the post-transition state.
type EndTalkMsg struct {
	Type string    `json:"type"`
	Room *RoomData `json:"room"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStore:
		var m StoreMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStoreByRoom:
		var m StoreByRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRead:
		var m ReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
