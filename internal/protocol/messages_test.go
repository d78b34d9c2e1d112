package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","token":"eyJhbGciOiJIUzI1NiJ9.x.y"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}

	am, ok := msg.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", msg)
	}
	if am.Token != "eyJhbGciOiJIUzI1NiJ9.x.y" {
		t.Errorf("token: got %q", am.Token)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMessage(t *testing.T) {
	input := []byte(`{"type":"chat_message","message_id":"c2a9d5e0-1111-4222-8333-444455556666","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChatMessage {
		t.Fatalf("expected type %q, got %q", TypeChatMessage, msgType)
	}

	cm, ok := msg.(ChatMessageMsg)
	if !ok {
		t.Fatalf("expected ChatMessageMsg, got %T", msg)
	}
	if cm.MessageID != "c2a9d5e0-1111-4222-8333-444455556666" {
		t.Errorf("message_id: got %q", cm.MessageID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("text: got %q", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing store / store_by_room / read messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_DeliveryMarks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantTyp string
	}{
		{"store", `{"type":"store","message_id":"m-1"}`, TypeStore},
		{"store_by_room", `{"type":"store_by_room"}`, TypeStoreByRoom},
		{"read", `{"type":"read"}`, TypeRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tt.wantTyp {
				t.Fatalf("expected type %q, got %q", tt.wantTyp, msgType)
			}
			if msg == nil {
				t.Fatal("expected non-nil message")
			}
		})
	}

	_, msg, err := ParseClientMessage([]byte(`{"type":"store","message_id":"m-7"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(StoreMsg)
	if !ok {
		t.Fatalf("expected StoreMsg, got %T", msg)
	}
	if sm.MessageID != "m-7" {
		t.Errorf("message_id: got %q", sm.MessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed and unknown input
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"token":"abc"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_EmptyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":""}`)); err == nil {
		t.Fatal("expected error for empty type field")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"end_talk"}`))
	if err == nil {
		t.Fatal("expected error for server-only message type")
	}
	if msgType != "end_talk" {
		t.Errorf("expected returned type %q, got %q", "end_talk", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Server message construction
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeChatTabooMessage, ChatTabooMessageMsg{
		RoomID:    "r-1",
		MessageID: "m-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeChatTabooMessage {
		t.Errorf("type: got %v", m["type"])
	}
	if m["room_id"] != "r-1" {
		t.Errorf("room_id: got %v", m["room_id"])
	}
	if m["message_id"] != "m-1" {
		t.Errorf("message_id: got %v", m["message_id"])
	}
}

func TestNewServerMessage_AuthResponseRoundTrip(t *testing.T) {
	payload := AuthResponseMsg{
		RoomID: "r-9",
		Room: &RoomData{
			ID:              "r-9",
			Name:            "late night worries",
			OwnerID:         "a-1",
			ParticipantIDs:  []string{"a-2"},
			MaxParticipants: 1,
			IsEnd:           true,
			IsActive:        true,
		},
		NotStoredMessages: []MessageData{
			{ID: "m-1", Text: "hi", SenderID: "a-1", Time: "2026/08/30 10:00:00"},
		},
		IsAlreadyEnded: true,
	}

	data, err := NewServerMessage(TypeAuthResponse, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded AuthResponseMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded.Type != TypeAuthResponse {
		t.Errorf("type: got %q", decoded.Type)
	}
	if !decoded.IsAlreadyEnded {
		t.Error("is_already_ended flag lost")
	}
	if len(decoded.NotStoredMessages) != 1 || decoded.NotStoredMessages[0].ID != "m-1" {
		t.Errorf("not_stored_messages: got %+v", decoded.NotStoredMessages)
	}
	if decoded.Room == nil || !decoded.Room.IsEnd {
		t.Errorf("room snapshot: got %+v", decoded.Room)
	}
}
