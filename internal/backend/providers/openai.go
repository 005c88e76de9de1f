package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/pkg/models"
)

// OpenAIConfig configures an OpenAI-backed Backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAI adapts the Chat Completions API to backend.Backend.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI constructs an OpenAI backend from the given config.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(conf), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) buildRequest(req backend.Request, stream bool) openai.ChatCompletionRequest {
	var msgs []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	var tools []openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   maxTokensOr(req.MaxTokens, 4096),
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (o *OpenAI) Chat(ctx context.Context, req backend.Request) (backend.ModelResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return backend.ModelResponse{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return backend.ModelResponse{}, fmt.Errorf("openai: empty choices")
	}
	return toModelResponse(resp.Choices[0], resp.Usage), nil
}

func toModelResponse(choice openai.ChatCompletionChoice, usage openai.Usage) backend.ModelResponse {
	resp := backend.ModelResponse{
		Text:         choice.Message.Content,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	if len(choice.Message.ToolCalls) > 0 {
		resp.Kind = backend.KindToolUse
		for _, tc := range choice.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			})
		}
		return resp
	}
	if choice.FinishReason == openai.FinishReasonStop {
		resp.Kind = backend.KindDone
	} else {
		resp.Kind = backend.KindText
	}
	return resp
}

func (o *OpenAI) ChatStream(ctx context.Context, req backend.Request) (<-chan backend.StreamEvent, func() (backend.ModelResponse, error), error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(req, true))
	if err != nil {
		return nil, nil, fmt.Errorf("openai: %w", err)
	}

	events := make(chan backend.StreamEvent, 256)
	var text string
	toolArgs := map[int]*models.ToolCall{}
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				events <- backend.StreamEvent{Kind: backend.EventDone}
				errCh <- nil
				return
			}
			if err != nil {
				events <- backend.StreamEvent{Kind: backend.EventError, Err: err}
				errCh <- err
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				text += delta.Content
				events <- backend.StreamEvent{Kind: backend.EventTextDelta, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				cur, ok := toolArgs[idx]
				if !ok {
					cur = &models.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolArgs[idx] = cur
					events <- backend.StreamEvent{Kind: backend.EventToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name}
				}
				if tc.Function.Arguments != "" {
					cur.Input = append(cur.Input, tc.Function.Arguments...)
					events <- backend.StreamEvent{Kind: backend.EventToolCallDelta, ToolCallID: cur.ID, ArgumentsDelta: tc.Function.Arguments}
				}
			}
		}
	}()

	final := func() (backend.ModelResponse, error) {
		if err := <-errCh; err != nil {
			return backend.ModelResponse{}, fmt.Errorf("openai: %w", err)
		}
		resp := backend.ModelResponse{Text: text}
		if len(toolArgs) > 0 {
			resp.Kind = backend.KindToolUse
			idxs := make([]int, 0, len(toolArgs))
			for idx := range toolArgs {
				idxs = append(idxs, idx)
			}
			sort.Ints(idxs)
			for _, idx := range idxs {
				resp.ToolCalls = append(resp.ToolCalls, *toolArgs[idx])
			}
		} else {
			resp.Kind = backend.KindDone
		}
		return resp, nil
	}
	return events, final, nil
}
