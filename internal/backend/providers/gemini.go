package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/pkg/models"
)

// GeminiConfig configures a Google Gemini-backed Backend.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini adapts the Gemini GenerateContent API to backend.Backend.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a Gemini backend from the given config.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) buildContents(req backend.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokensOr(req.MaxTokens, 4096)),
		Temperature:     genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)}}
	}
	for _, t := range req.Tools {
		schema, _ := json.Marshal(t.Parameters)
		var jsonSchema genai.Schema
		_ = json.Unmarshal(schema, &jsonSchema)
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  &jsonSchema,
			}},
		})
	}
	return contents, cfg
}

func (g *Gemini) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	contents, cfg := g.buildContents(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return backend.ModelResponse{}, fmt.Errorf("gemini: %w", err)
	}
	return g.toModelResponse(resp), nil
}

func (g *Gemini) toModelResponse(resp *genai.GenerateContentResponse) backend.ModelResponse {
	var out backend.ModelResponse
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		out.Kind = backend.KindDone
		return out
	}
	cand := resp.Candidates[0]
	var text string
	var calls []models.ToolCall
	for i, part := range cand.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			calls = append(calls, models.ToolCall{
				ID:    fmt.Sprintf("%s-%d", part.FunctionCall.Name, i),
				Name:  part.FunctionCall.Name,
				Input: args,
			})
		}
	}
	out.Text = text
	switch {
	case len(calls) > 0:
		out.Kind = backend.KindToolUse
		out.ToolCalls = calls
	case cand.FinishReason == genai.FinishReasonStop:
		out.Kind = backend.KindDone
	default:
		out.Kind = backend.KindText
	}
	return out
}

// ChatStream uses the SDK's native streaming iterator; the gemini SDK
// already buffers and decodes the transport framing for us.
func (g *Gemini) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	contents, cfg := g.buildContents(req)
	iter := g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg)

	events := make(chan backend.StreamEvent, 256)
	var final backend.ModelResponse
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		var text string
		var inputTokens, outputTokens int
		var calls []models.ToolCall
		var streamErr error
		for resp, err := range iter {
			if err != nil {
				streamErr = err
				break
			}
			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for i, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					text += part.Text
					events <- backend.StreamEvent{Kind: backend.EventTextDelta, Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					id := fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
					calls = append(calls, models.ToolCall{ID: id, Name: part.FunctionCall.Name, Input: args})
					events <- backend.StreamEvent{Kind: backend.EventToolCallStart, ToolCallID: id, ToolCallName: part.FunctionCall.Name}
					events <- backend.StreamEvent{Kind: backend.EventToolCallDelta, ToolCallID: id, ArgumentsDelta: string(args)}
				}
			}
		}
		if streamErr != nil {
			events <- backend.StreamEvent{Kind: backend.EventError, Err: streamErr}
			errCh <- streamErr
			return
		}
		final = backend.ModelResponse{Text: text, InputTokens: inputTokens, OutputTokens: outputTokens}
		if len(calls) > 0 {
			final.Kind = backend.KindToolUse
			final.ToolCalls = calls
		} else {
			final.Kind = backend.KindDone
		}
		events <- backend.StreamEvent{Kind: backend.EventDone}
		errCh <- nil
	}()

	finalFn := func() (backend.ModelResponse, error) {
		if err := <-errCh; err != nil {
			return backend.ModelResponse{}, fmt.Errorf("gemini: %w", err)
		}
		return final, nil
	}
	return events, finalFn, nil
}
