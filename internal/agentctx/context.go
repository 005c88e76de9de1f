// Package agentctx implements the bounded conversational buffer an agent
// loop hands to a model backend on every turn: a capacity-limited FIFO
// of messages plus a system prompt that is never evicted.
package agentctx

import (
	"sync"

	"github.com/haasonsaas/agentor/pkg/models"
)

// DefaultCapacity is used when a Window is constructed with capacity <= 0.
const DefaultCapacity = 60

// Window is a bounded, thread-safe conversational buffer. The system
// prompt is stored separately from the message sequence and never
// counts against capacity or eviction.
type Window struct {
	mu           sync.Mutex
	capacity     int
	systemPrompt string
	messages     []models.Message
}

// NewWindow creates a Window with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity}
}

// SetSystemPrompt replaces the held system prompt.
func (w *Window) SetSystemPrompt(prompt string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.systemPrompt = prompt
}

// SystemPrompt returns the held system prompt, if any.
func (w *Window) SystemPrompt() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.systemPrompt
}

// Push appends a message, evicting the oldest message first (FIFO) if
// the buffer would exceed capacity. The system prompt is never evicted
// because it is not part of the message sequence.
func (w *Window) Push(msg models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	if over := len(w.messages) - w.capacity; over > 0 {
		w.messages = w.messages[over:]
	}
}

// Messages returns a copy of the current message sequence, oldest first.
func (w *Window) Messages() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Clear empties the message sequence. The system prompt is untouched.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
}

// EstimatedTokens approximates token count as character count / 4, the
// same cheap proxy the teacher's context packer uses for budgeting.
func (w *Window) EstimatedTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	chars := len(w.systemPrompt)
	for _, m := range w.messages {
		chars += messageChars(m)
	}
	return chars / 4
}

func messageChars(m models.Message) int {
	chars := len(m.Content)
	for k, v := range m.Metadata {
		chars += len(k)
		if s, ok := v.(string); ok {
			chars += len(s)
		}
	}
	return chars
}

// Seed replaces the message sequence with the given history, evicting
// from the front if it exceeds capacity. Used by the agent loop to
// prime a fresh Window from a session's persisted messages.
func (w *Window) Seed(history []models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if over := len(history) - w.capacity; over > 0 {
		history = history[over:]
	}
	w.messages = append([]models.Message(nil), history...)
}
