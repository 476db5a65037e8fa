// Package memory keeps per-thread conversation history between agent runs.
package memory

import (
	"context"
	"sync"

	"EventSync-Agent/internal/llm"
)

// Checkpointer loads and saves the message history of a thread.
type Checkpointer interface {
	Load(ctx context.Context, threadID string) ([]llm.Message, error)
	Save(ctx context.Context, threadID string, messages []llm.Message) error
	Close() error
}

// InMemory is a process-local Checkpointer.
type InMemory struct {
	mu      sync.RWMutex
	limit   int
	threads map[string][]llm.Message
}

// NewInMemory creates a checkpointer keeping at most limit messages per
// thread. A non-positive limit keeps everything.
func NewInMemory(limit int) *InMemory {
	return &InMemory{limit: limit, threads: make(map[string][]llm.Message)}
}

// Load returns a copy of the thread history.
func (m *InMemory) Load(_ context.Context, threadID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.threads[threadID]), nil
}

// Save replaces the thread history.
func (m *InMemory) Save(_ context.Context, threadID string, messages []llm.Message) error {
	trimmed := Trim(messages, m.limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = clone(trimmed)
	return nil
}

// Close is a no-op.
func (m *InMemory) Close() error { return nil }

// Trim keeps the newest limit messages. The kept window always starts at a
// user message so no tool result is separated from the call that produced it.
func Trim(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	window := messages[len(messages)-limit:]
	for i, m := range window {
		if m.Role == llm.RoleUser {
			return window[i:]
		}
	}
	return nil
}

func clone(messages []llm.Message) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
