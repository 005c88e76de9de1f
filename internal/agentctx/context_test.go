package agentctx

import (
	"testing"

	"github.com/haasonsaas/agentor/pkg/models"
)

func TestWindow_FIFOEviction(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 4; i++ {
		w.Push(models.Message{ID: string(rune('a' + i)), Content: "msg"})
	}
	got := w.Messages()
	if len(got) != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", len(got))
	}
	if got[0].ID != "b" || got[2].ID != "d" {
		t.Errorf("retained wrong window: %+v", got)
	}
}

func TestWindow_SystemPromptNeverEvicted(t *testing.T) {
	w := NewWindow(1)
	w.SetSystemPrompt("you are an assistant")
	w.Push(models.Message{ID: "1"})
	w.Push(models.Message{ID: "2"})

	if w.SystemPrompt() != "you are an assistant" {
		t.Fatalf("SystemPrompt() = %q, want preserved value", w.SystemPrompt())
	}
	if len(w.Messages()) != 1 {
		t.Fatalf("len(Messages()) = %d, want 1", len(w.Messages()))
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	if w.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", w.capacity, DefaultCapacity)
	}
}

func TestWindow_EstimatedTokens(t *testing.T) {
	w := NewWindow(10)
	w.Push(models.Message{Content: "12345678"})
	if got := w.EstimatedTokens(); got != 2 {
		t.Errorf("EstimatedTokens() = %d, want 2", got)
	}
}

func TestWindow_Clear(t *testing.T) {
	w := NewWindow(10)
	w.Push(models.Message{ID: "1"})
	w.Clear()
	if len(w.Messages()) != 0 {
		t.Errorf("expected empty window after Clear")
	}
}

func TestWindow_Seed(t *testing.T) {
	w := NewWindow(2)
	w.Seed([]models.Message{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	got := w.Messages()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Errorf("Seed did not truncate to capacity: %+v", got)
	}
}
