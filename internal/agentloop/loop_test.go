package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/proxy"
	"github.com/haasonsaas/agentor/internal/skill"
	"github.com/haasonsaas/agentor/pkg/models"
)

type scriptedBackend struct {
	turns []backend.ModelResponse
	i     int
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	if s.i >= len(s.turns) {
		return backend.ModelResponse{}, errors.New("scriptedBackend: script exhausted")
	}
	r := s.turns[s.i]
	s.i++
	return r, nil
}

func (s *scriptedBackend) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	return nil, nil, errors.New("not implemented")
}

type echoTool struct{}

func (echoTool) Descriptor() skill.Descriptor { return skill.Descriptor{Name: "echo"} }

func (echoTool) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	return models.ToolResult{ToolCallID: call.ID, Content: "echoed"}, nil
}

func newTestLoop(t *testing.T, b backend.Backend) *Loop {
	t.Helper()
	reg := skill.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	p := proxy.New(reg, capability.New())
	return New(b, p, nil, Config{MaxTurns: 5, SystemPrompt: "you are a test agent"})
}

func TestLoop_Run_Done(t *testing.T) {
	b := &scriptedBackend{turns: []backend.ModelResponse{
		{Kind: backend.KindDone, Text: "final answer"},
	}}
	loop := newTestLoop(t, b)

	text, _, err := loop.Run(context.Background(), &models.Session{ID: "s1"}, nil, "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "final answer" {
		t.Errorf("Run() = %q, want %q", text, "final answer")
	}
}

func TestLoop_Run_ToolUseThenDone(t *testing.T) {
	input, _ := json.Marshal(map[string]string{})
	b := &scriptedBackend{turns: []backend.ModelResponse{
		{Kind: backend.KindToolUse, ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo", Input: input}}},
		{Kind: backend.KindDone, Text: "done after tool"},
	}}
	loop := newTestLoop(t, b)

	text, stats, err := loop.Run(context.Background(), &models.Session{ID: "s1"}, nil, "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "done after tool" {
		t.Errorf("Run() = %q, want %q", text, "done after tool")
	}
	if stats.Turns != 2 || stats.ToolCalls != 1 {
		t.Errorf("stats = %+v, want Turns=2 ToolCalls=1", stats)
	}
}

func TestLoop_Run_MaxTurnsExceeded(t *testing.T) {
	turns := make([]backend.ModelResponse, 5)
	for i := range turns {
		turns[i] = backend.ModelResponse{Kind: backend.KindText, Text: "still thinking"}
	}
	b := &scriptedBackend{turns: turns}
	loop := newTestLoop(t, b)

	_, _, err := loop.Run(context.Background(), &models.Session{ID: "s1"}, nil, "hello")
	if !errors.Is(err, ErrMaxTurnsExceeded) {
		t.Errorf("Run() error = %v, want ErrMaxTurnsExceeded", err)
	}
}

func TestLoop_Run_UnknownToolBackfillsToolError(t *testing.T) {
	input, _ := json.Marshal(map[string]string{})
	b := &scriptedBackend{turns: []backend.ModelResponse{
		{Kind: backend.KindToolUse, ToolCalls: []models.ToolCall{{ID: "t1", Name: "missing", Input: input}}},
		{Kind: backend.KindDone, Text: "recovered"},
	}}
	loop := newTestLoop(t, b)

	text, _, err := loop.Run(context.Background(), &models.Session{ID: "s1"}, nil, "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "recovered" {
		t.Errorf("Run() = %q, want %q", text, "recovered")
	}
}

func TestLoop_RunStream_ForwardsEventsAndDiscardsNilSink(t *testing.T) {
	events := make(chan backend.StreamEvent, 2)
	events <- backend.StreamEvent{Kind: backend.EventTextDelta, Text: "partial"}
	close(events)
	b := &streamingBackend{events: events, final: backend.ModelResponse{Kind: backend.KindDone, Text: "stream done"}}
	loop := newTestLoop(t, b)

	var got []backend.StreamEvent
	sink := SinkFunc(func(evt backend.StreamEvent) { got = append(got, evt) })

	text, _, err := loop.RunStream(context.Background(), &models.Session{ID: "s1"}, nil, "hello", sink)
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	if text != "stream done" {
		t.Errorf("RunStream() = %q, want %q", text, "stream done")
	}
	if len(got) != 1 || got[0].Text != "partial" {
		t.Errorf("sink received %+v, want one text-delta event", got)
	}

	// Nil sink must not panic and must not abort the run.
	b2 := &streamingBackend{events: closedEventsChan(), final: backend.ModelResponse{Kind: backend.KindDone, Text: "ok"}}
	loop2 := newTestLoop(t, b2)
	text2, _, err := loop2.RunStream(context.Background(), &models.Session{ID: "s1"}, nil, "hello", nil)
	if err != nil {
		t.Fatalf("RunStream() with nil sink error = %v", err)
	}
	if text2 != "ok" {
		t.Errorf("RunStream() with nil sink = %q, want %q", text2, "ok")
	}
}

type streamingBackend struct {
	events chan backend.StreamEvent
	final  backend.ModelResponse
}

func (s *streamingBackend) Name() string { return "streaming" }

func (s *streamingBackend) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	return backend.ModelResponse{}, errors.New("not implemented")
}

func (s *streamingBackend) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	return s.events, func() (backend.ModelResponse, error) { return s.final, nil }, nil
}

func closedEventsChan() chan backend.StreamEvent {
	ch := make(chan backend.StreamEvent)
	close(ch)
	return ch
}
