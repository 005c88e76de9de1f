// Package backend defines the model-backend abstraction every worker
// calls through: a single interface implemented once per provider, and
// a failover composite that makes calls reliable across transient
// errors and multiple backends.
package backend

import (
	"context"

	"github.com/haasonsaas/agentor/pkg/models"
)

// Backend is implemented once per model provider (Anthropic, OpenAI,
// Bedrock, Gemini, ...) and wrapped transparently by Failover, which
// implements the same interface. The agent loop never branches on
// provider identity; it only ever talks to a Backend.
type Backend interface {
	// Chat sends one turn and blocks for the complete ModelResponse.
	Chat(ctx context.Context, req Request) (ModelResponse, error)

	// ChatStream sends one turn and returns a channel of StreamEvent
	// plus a function that, once the stream is drained, yields the
	// same aggregated ModelResponse Chat would have returned.
	ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, func() (ModelResponse, error), error)

	// Name identifies the backend for metrics, logs, and error messages.
	Name() string
}

// Request is the provider-agnostic shape of one turn.
type Request struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []ToolDescriptor
	MaxTokens    int
	Temperature  float32
}

// ToolDescriptor is the subset of a skill descriptor a backend needs to
// advertise tool-calling capability to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ResponseKind discriminates the ModelResponse variant. Exactly one
// variant is populated per completed turn.
type ResponseKind int

const (
	// KindText is a non-terminal assistant utterance; the loop continues.
	KindText ResponseKind = iota
	// KindDone is a terminal assistant utterance; the loop returns.
	KindDone
	// KindToolUse carries zero or more tool calls the loop must dispatch.
	KindToolUse
)

// ModelResponse is the tagged union §4 names as ModelResponse. Only the
// fields relevant to Kind are meaningful.
type ModelResponse struct {
	Kind      ResponseKind
	Text      string
	ToolCalls []models.ToolCall

	InputTokens  int
	OutputTokens int
}

// StreamEventKind discriminates StreamEvent.
type StreamEventKind int

const (
	EventTextDelta StreamEventKind = iota
	EventToolCallStart
	EventToolCallDelta
	EventToolCallEnd
	EventDone
	EventError
)

// StreamEvent is the tagged union a streaming Backend emits. An
// EventToolCallDelta carries only a fragment of a call's argument JSON;
// the complete arguments of every call are in the ToolCalls of the
// ModelResponse returned by the stream's final function.
type StreamEvent struct {
	Kind StreamEventKind

	Text string // EventTextDelta

	ToolCallID   string // EventToolCallStart / Delta / End
	ToolCallName string // EventToolCallStart

	ArgumentsDelta string // EventToolCallDelta

	Err error // EventError
}
