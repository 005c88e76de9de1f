package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/pkg/models"
)

// BedrockConfig configures an AWS Bedrock-backed Backend.
type BedrockConfig struct {
	Region  string
	ModelID string
}

// Bedrock adapts Bedrock's Converse/InvokeModel APIs to backend.Backend.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock constructs a Bedrock backend. It loads AWS credentials the
// same way the rest of the SDK does (environment, shared config, IAM
// role), matching the teacher's aws-sdk-go-v2 usage.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(awsCfg), modelID: modelID}, nil
}

func (b *Bedrock) Name() string { return "bedrock" }

type bedrockAnthropicRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	MaxTokens        int                  `json:"max_tokens"`
	System           string               `json:"system,omitempty"`
	Messages         []bedrockMessage     `json:"messages"`
	Tools            []bedrockToolSchema  `json:"tools,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockAnthropicResponse struct {
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *Bedrock) buildBody(req backend.Request) ([]byte, error) {
	body := bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokensOr(req.MaxTokens, 4096),
		System:           req.SystemPrompt,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, bedrockMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, bedrockToolSchema{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return json.Marshal(body)
}

func (b *Bedrock) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	payload, err := b.buildBody(req)
	if err != nil {
		return backend.ModelResponse{}, fmt.Errorf("bedrock: encode request: %w", err)
	}
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return backend.ModelResponse{}, fmt.Errorf("bedrock: %w", err)
	}
	var parsed bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return backend.ModelResponse{}, fmt.Errorf("bedrock: decode response: %w", err)
	}
	return toBedrockModelResponse(parsed), nil
}

func toBedrockModelResponse(p bedrockAnthropicResponse) backend.ModelResponse {
	resp := backend.ModelResponse{InputTokens: p.Usage.InputTokens, OutputTokens: p.Usage.OutputTokens}
	var calls []models.ToolCall
	for _, c := range p.Content {
		switch c.Type {
		case "text":
			resp.Text += c.Text
		case "tool_use":
			calls = append(calls, models.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input})
		}
	}
	switch {
	case len(calls) > 0:
		resp.Kind = backend.KindToolUse
		resp.ToolCalls = calls
	case p.StopReason == "end_turn":
		resp.Kind = backend.KindDone
	default:
		resp.Kind = backend.KindText
	}
	return resp
}

// ChatStream consumes Bedrock's event stream, one JSON chunk per event.
// bedrockruntime's InvokeModelWithResponseStream hands back the raw
// bytes of each chunk, so ChatStream decodes each chunk's JSON payload
// itself; it does not use the scanSSEFrames helper.
func (b *Bedrock) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	payload, err := b.buildBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("bedrock: encode request: %w", err)
	}
	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bedrock: %w", err)
	}

	events := make(chan backend.StreamEvent, 256)
	var text string
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		stream := out.GetStream()
		defer stream.Close()
		for e := range stream.Events() {
			chunk, ok := e.(*types.ResponseStreamMemberChunk)
			if !ok || chunk == nil {
				continue
			}
			var delta struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(chunk.Value.Bytes, &delta); err == nil && delta.Delta.Text != "" {
				text += delta.Delta.Text
				events <- backend.StreamEvent{Kind: backend.EventTextDelta, Text: delta.Delta.Text}
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
			return backend.ModelResponse{}, err
		}
		return backend.ModelResponse{Kind: backend.KindDone, Text: text}, nil
	}
	return events, final, nil
}
