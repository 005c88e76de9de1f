package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentor/internal/approval"
	"github.com/haasonsaas/agentor/pkg/models"
)

// NewApprovalRequestSkill wraps an approval.Channel as a callable
// skill so a worker can pause for a human decision before taking a
// sensitive action, instead of the decision being forced at the proxy
// layer for every call.
func NewApprovalRequestSkill(ch approval.Channel, defaultTimeout time.Duration) Skill {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &approvalRequestSkill{channel: ch, timeout: defaultTimeout}
}

type approvalRequestSkill struct {
	channel approval.Channel
	timeout time.Duration
}

func (s *approvalRequestSkill) Descriptor() Descriptor {
	return Descriptor{
		Name:        "request_approval",
		Description: "Ask a human to approve or deny a sensitive action before proceeding.",
		Group:       "approval",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"tool_name", "reason"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
				"agent_id":   map[string]any{"type": "string"},
				"tool_name":  map[string]any{"type": "string"},
				"reason":     map[string]any{"type": "string"},
			},
		},
	}
}

type approvalRequestInput struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	ToolName  string `json:"tool_name"`
	Reason    string `json:"reason"`
}

func (s *approvalRequestSkill) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	var in approvalRequestInput
	if err := json.Unmarshal(call.Input, &in); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}

	req := approval.Request{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		AgentID:   in.AgentID,
		ToolName:  in.ToolName,
		Reason:    in.Reason,
		CreatedAt: time.Now(),
	}
	decision, err := s.channel.RequestApproval(ctx, req, s.timeout)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("approval request failed: %v", err), IsError: true}, nil
	}
	if !decision.Approved {
		return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("denied: %s", decision.Reason), IsError: true}, nil
	}
	return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("approved: %s", decision.Reason)}, nil
}
