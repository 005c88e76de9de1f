// Package providers implements the backend.Backend interface once per
// model provider. Each file owns the conversion between our
// provider-agnostic Request/ModelResponse/StreamEvent shapes and one
// vendor SDK; no provider-specific branching leaks into the agent loop
// or the failover composite, which only ever see backend.Backend.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/pkg/models"
)

// AnthropicConfig configures an Anthropic-backed Backend.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Anthropic adapts Anthropic's Messages API to backend.Backend.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic constructs an Anthropic backend from the given config.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	params := a.buildParams(req)
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return backend.ModelResponse{}, fmt.Errorf("anthropic: %w", err)
	}
	return a.toModelResponse(msg), nil
}

func (a *Anthropic) buildParams(req backend.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokensOr(req.MaxTokens, 4096)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}
	for _, t := range req.Tools {
		schema, _ := json.Marshal(t.Parameters)
		params.Tools = append(params.Tools, anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: json.RawMessage(schema),
			},
		}.ToParamUnion())
	}
	return params
}

func toAnthropicMessage(m models.Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == models.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role:    role,
		Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
	}
}

func (a *Anthropic) toModelResponse(msg *anthropic.Message) backend.ModelResponse {
	var text string
	var calls []models.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			calls = append(calls, models.ToolCall{ID: b.ID, Name: b.Name, Input: json.RawMessage(b.Input)})
		}
	}
	resp := backend.ModelResponse{
		Text:         text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	switch {
	case len(calls) > 0:
		resp.Kind = backend.KindToolUse
		resp.ToolCalls = calls
	case msg.StopReason == anthropic.StopReasonEndTurn:
		resp.Kind = backend.KindDone
	default:
		resp.Kind = backend.KindText
	}
	return resp
}

// ChatStream uses the SDK's native SSE decoder (ssestream) rather than
// our generic scanSSEFrames helper, since anthropic-sdk-go already
// parses the wire frames for us; we only need to translate its event
// union into backend.StreamEvent.
func (a *Anthropic) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	params := a.buildParams(req)
	stream := a.client.Messages.NewStreaming(ctx, params)

	events := make(chan backend.StreamEvent, 256)
	acc := anthropic.Message{}
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		for stream.Next() {
			evt := stream.Current()
			if err := acc.Accumulate(evt); err != nil {
				events <- backend.StreamEvent{Kind: backend.EventError, Err: err}
				errCh <- err
				return
			}
			switch e := evt.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := e.Delta.AsAny().(anthropic.TextDelta); ok {
					events <- backend.StreamEvent{Kind: backend.EventTextDelta, Text: delta.Text}
				}
			case anthropic.ContentBlockStartEvent:
				if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					events <- backend.StreamEvent{Kind: backend.EventToolCallStart, ToolCallID: tu.ID, ToolCallName: tu.Name}
				}
			case anthropic.ContentBlockStopEvent:
				// Correlated to the most recent ToolCallStart by the caller.
				events <- backend.StreamEvent{Kind: backend.EventToolCallEnd}
			}
		}
		if err := stream.Err(); err != nil {
			events <- backend.StreamEvent{Kind: backend.EventError, Err: err}
			errCh <- err
			return
		}
		events <- backend.StreamEvent{Kind: backend.EventDone}
		errCh <- nil
	}()

	final := func() (backend.ModelResponse, error) {
		if err := <-errCh; err != nil {
			return backend.ModelResponse{}, fmt.Errorf("anthropic: %w", err)
		}
		return a.toModelResponse(&acc), nil
	}
	return events, final, nil
}

func maxTokensOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
