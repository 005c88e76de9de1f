// Package models defines the core data types shared across the agent
// execution core: messages, tool calls and results, sessions, and the
// memory entries consulted during a run.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in a session's transcript. Once appended it
// is immutable; it is produced by the agent loop or an external caller.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool. ID is opaque
// and unique per model turn; it is echoed back on the matching ToolResult.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. There is exactly
// one result per call, and ordering is preserved when backfilled.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents one conversation thread driven by an agent loop.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Key       string         `json:"key"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
