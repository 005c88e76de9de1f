package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:        "msg-123",
		SessionID: "session-456",
		Role:      RoleAssistant,
		Content:   "Hello!",
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID || decoded.SessionID != original.SessionID ||
		decoded.Role != original.Role || decoded.Content != original.Content {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
	if decoded.Metadata["source"] != "test" {
		t.Errorf("Metadata[source] = %v, want test", decoded.Metadata["source"])
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "tc-123",
		Name:  "web_search",
		Input: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Content: "Search results here"}
	if tr.IsError {
		t.Error("IsError should default to false")
	}

	trError := ToolResult{ToolCallID: "tc-456", Content: "Error occurred", IsError: true}
	if !trError.IsError {
		t.Error("IsError should be true")
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:        "session-123",
		AgentID:   "agent-456",
		Key:       "unique-key",
		Metadata:  map[string]any{"test": true},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if session.AgentID != "agent-456" {
		t.Errorf("AgentID = %q, want %q", session.AgentID, "agent-456")
	}
}
