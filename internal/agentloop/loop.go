// Package agentloop drives one worker to completion of one task: it
// ties together a context window, a model backend, and the tool-call
// proxy in the turn-by-turn state machine described by the runtime's
// execution contract.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentor/internal/agentctx"
	"github.com/haasonsaas/agentor/internal/audit"
	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/proxy"
	"github.com/haasonsaas/agentor/pkg/models"
)

// ErrMaxTurnsExceeded is returned when the loop exhausts its turn
// budget without reaching a terminal Done response.
var ErrMaxTurnsExceeded = errors.New("agentloop: max turns exceeded")

// Sink receives streaming events verbatim during a streaming run. A
// nil Sink never aborts the worker: emit discards every event when the
// sink is nil. A non-nil Sink is called synchronously for each event.
type Sink interface {
	Send(evt backend.StreamEvent)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(evt backend.StreamEvent)

func (f SinkFunc) Send(evt backend.StreamEvent) { f(evt) }

// Config configures one Loop instance.
type Config struct {
	MaxTurns     int
	SystemPrompt string
	AgentID      string
	Tools        []backend.ToolDescriptor
	Logger       *slog.Logger
	// Permissions scopes this loop's tool dispatches below the proxy's
	// own grant set. Nil uses the proxy's default.
	Permissions *capability.Set
}

func sanitize(cfg Config) Config {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Loop drives one agent's conversation to completion, or until the
// turn budget is exhausted.
type Loop struct {
	backend  backend.Backend
	proxy    *proxy.Proxy
	auditLog *audit.Log
	cfg      Config
}

// New constructs a Loop. auditLog may be nil to disable audit entries.
func New(b backend.Backend, p *proxy.Proxy, auditLog *audit.Log, cfg Config) *Loop {
	return &Loop{backend: b, proxy: p, auditLog: auditLog, cfg: sanitize(cfg)}
}

// toolResultPayload is the structured blob backfilled as a User
// message after a tool call completes.
type toolResultPayload struct {
	Type       string `json:"type"`
	ToolUseID  string `json:"tool_use_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Stats reports how many turns and tool calls a Run/RunStream call
// consumed, so callers can feed the monitor's per-role turn counters.
type Stats struct {
	Turns     int
	ToolCalls int
}

// Run drives the non-streaming contract: append user_input, seed a
// fresh context window from the session's history, then loop turns
// until Done, MaxTurnsExceeded, or a transport error.
func (l *Loop) Run(ctx context.Context, session *models.Session, history []models.Message, userInput string) (string, Stats, error) {
	window := agentctx.NewWindow(agentctx.DefaultCapacity)
	window.SetSystemPrompt(l.cfg.SystemPrompt)
	window.Seed(history)
	window.Push(models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   userInput,
	})

	var stats Stats
	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		stats.Turns++
		req := backend.Request{
			SystemPrompt: window.SystemPrompt(),
			Messages:     window.Messages(),
			Tools:        l.cfg.Tools,
		}
		resp, err := l.backend.Chat(ctx, req)
		if err != nil {
			return "", stats, fmt.Errorf("agentloop: chat: %w", err)
		}

		switch resp.Kind {
		case backend.KindDone:
			window.Push(assistantMessage(session.ID, resp.Text))
			l.logAudit(session.ID, "agent_response", "", map[string]any{"turn": turn}, "success")
			return resp.Text, stats, nil

		case backend.KindText:
			window.Push(assistantMessage(session.ID, resp.Text))
			continue

		case backend.KindToolUse:
			if resp.Text != "" {
				window.Push(assistantMessage(session.ID, resp.Text))
			}
			stats.ToolCalls += l.dispatchToolCalls(ctx, session, window, resp.ToolCalls)
			continue
		}
	}

	return "", stats, ErrMaxTurnsExceeded
}

// RunStream drives the streaming contract: identical state machine,
// but consumes backend.ChatStream and forwards every StreamEvent to
// sink as it arrives. sink may be nil.
func (l *Loop) RunStream(ctx context.Context, session *models.Session, history []models.Message, userInput string, sink Sink) (string, Stats, error) {
	window := agentctx.NewWindow(agentctx.DefaultCapacity)
	window.SetSystemPrompt(l.cfg.SystemPrompt)
	window.Seed(history)
	window.Push(models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   userInput,
	})

	var stats Stats
	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		stats.Turns++
		req := backend.Request{
			SystemPrompt: window.SystemPrompt(),
			Messages:     window.Messages(),
			Tools:        l.cfg.Tools,
		}
		events, final, err := l.backend.ChatStream(ctx, req)
		if err != nil {
			return "", stats, fmt.Errorf("agentloop: chat_stream: %w", err)
		}
		for evt := range events {
			emit(sink, evt)
		}
		resp, err := final()
		if err != nil {
			return "", stats, fmt.Errorf("agentloop: chat_stream: %w", err)
		}

		switch resp.Kind {
		case backend.KindDone:
			window.Push(assistantMessage(session.ID, resp.Text))
			l.logAudit(session.ID, "agent_response", "", map[string]any{"turn": turn}, "success")
			return resp.Text, stats, nil

		case backend.KindText:
			window.Push(assistantMessage(session.ID, resp.Text))
			continue

		case backend.KindToolUse:
			if resp.Text != "" {
				window.Push(assistantMessage(session.ID, resp.Text))
			}
			stats.ToolCalls += l.dispatchToolCalls(ctx, session, window, resp.ToolCalls)
			continue
		}
	}

	return "", stats, ErrMaxTurnsExceeded
}

// emit forwards evt to sink, discarding it if sink is nil. A dropped
// sink never aborts execution.
func emit(sink Sink, evt backend.StreamEvent) {
	if sink == nil {
		return
	}
	sink.Send(evt)
}

func assistantMessage(sessionID, text string) models.Message {
	return models.Message{ID: uuid.NewString(), SessionID: sessionID, Role: models.RoleAssistant, Content: text}
}

func (l *Loop) dispatchToolCalls(ctx context.Context, session *models.Session, window *agentctx.Window, calls []models.ToolCall) int {
	for _, call := range calls {
		l.logAudit(session.ID, "tool_call", call.Name, map[string]any{"tool_call_id": call.ID}, "pending")

		result, err := l.proxy.Execute(ctx, call, l.cfg.AgentID, l.cfg.Permissions)
		if err != nil {
			l.logAudit(session.ID, "tool_error", call.Name, map[string]any{"tool_call_id": call.ID, "error": err.Error()}, "failure")
			window.Push(models.Message{
				ID:        uuid.NewString(),
				SessionID: session.ID,
				Role:      models.RoleUser,
				Content:   fmt.Sprintf("Tool error: %v", err),
			})
			continue
		}

		outcome := "success"
		if result.IsError {
			outcome = "failure"
		}
		l.logAudit(session.ID, "tool_result", call.Name, map[string]any{"tool_call_id": call.ID}, outcome)

		payload, _ := json.Marshal(toolResultPayload{
			Type:      "tool_result",
			ToolUseID: call.ID,
			Content:   result.Content,
			IsError:   result.IsError,
		})
		window.Push(models.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   string(payload),
		})
	}
	return len(calls)
}

func (l *Loop) logAudit(sessionID, action, skill string, details map[string]any, outcome string) {
	if l.auditLog == nil {
		return
	}
	l.auditLog.LogAction(sessionID, action, skill, details, outcome)
}
