package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cocina/chat-app/internal/message"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Send(t *testing.T) {
	input := []byte(`{"type":"send","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSend {
		t.Fatalf("expected type %q, got %q", TypeSend, msgType)
	}

	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", sm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid delete message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Delete(t *testing.T) {
	input := []byte(`{"type":"delete","id":"abc-123"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeDelete {
		t.Fatalf("expected type %q, got %q", TypeDelete, msgType)
	}

	dm, ok := msg.(DeleteMsg)
	if !ok {
		t.Fatalf("expected DeleteMsg, got %T", msg)
	}
	if dm.ID != "abc-123" {
		t.Errorf("expected id %q, got %q", "abc-123", dm.ID)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed messages are rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"snapshot"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for server-only message type, got nil")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"text":"no type here"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{"type":"send",`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server message construction stamps the type field
// ---------------------------------------------------------------------------

func TestNewServerMessage_Snapshot(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := SnapshotMsg{
		Messages: []message.Message{{
			ID:        "m1",
			Content:   "hola",
			AuthorID:  "u1",
			Author:    message.Author{Handle: "ana@cocina.app", Role: "user"},
			CreatedAt: created,
		}},
		Typing: []string{"ana@cocina.app"},
	}

	data, err := NewServerMessage(TypeSnapshot, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded SnapshotMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if decoded.Type != TypeSnapshot {
		t.Errorf("expected type %q, got %q", TypeSnapshot, decoded.Type)
	}
	if len(decoded.Messages) != 1 || decoded.Messages[0].ID != "m1" {
		t.Errorf("messages not round-tripped: %+v", decoded.Messages)
	}
	if len(decoded.Typing) != 1 || decoded.Typing[0] != "ana@cocina.app" {
		t.Errorf("typing set not round-tripped: %+v", decoded.Typing)
	}
}
