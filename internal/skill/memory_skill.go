package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/memory"
	"github.com/haasonsaas/agentor/pkg/models"
)

// NewMemoryRememberSkill wraps store.Remember as a callable skill so a
// worker can persist a note into hybrid memory mid-session.
func NewMemoryRememberSkill(store *memory.Store) Skill {
	return &memoryRememberSkill{store: store}
}

type memoryRememberSkill struct{ store *memory.Store }

func (s *memoryRememberSkill) Descriptor() Descriptor {
	return Descriptor{
		Name:        "memory_remember",
		Description: "Store a note in hybrid vector/BM25 memory for later recall in this or a future session.",
		Group:       "memory",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"session_id", "content"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
				"content":    map[string]any{"type": "string"},
			},
		},
	}
}

type rememberInput struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (s *memoryRememberSkill) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	var in rememberInput
	if err := json.Unmarshal(call.Input, &in); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	entry, err := s.store.Remember(ctx, in.SessionID, in.Content)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("remember failed: %v", err), IsError: true}, nil
	}
	return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("stored as %s", entry.ID)}, nil
}

// NewMemoryRecallSkill wraps store.Recall as a callable skill so a
// worker can retrieve prior notes ranked by hybrid RRF relevance.
func NewMemoryRecallSkill(store *memory.Store) Skill {
	return &memoryRecallSkill{store: store}
}

type memoryRecallSkill struct{ store *memory.Store }

func (s *memoryRecallSkill) Descriptor() Descriptor {
	return Descriptor{
		Name:        "memory_recall",
		Description: "Search hybrid vector/BM25 memory for notes relevant to a query.",
		Group:       "memory",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
				"query":      map[string]any{"type": "string"},
				"top_k":      map[string]any{"type": "integer"},
			},
		},
		Requires: []capability.Capability{},
	}
}

type recallInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

func (s *memoryRecallSkill) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	var in recallInput
	if err := json.Unmarshal(call.Input, &in); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if in.TopK <= 0 {
		in.TopK = 5
	}
	results, err := s.store.Recall(ctx, in.Query, in.TopK, in.SessionID)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("recall failed: %v", err), IsError: true}, nil
	}
	if len(results) == 0 {
		return models.ToolResult{ToolCallID: call.ID, Content: "no matching memories"}, nil
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%.4f] %s", r.Score, r.Entry.Content)
	}
	return models.ToolResult{ToolCallID: call.ID, Content: b.String()}, nil
}
