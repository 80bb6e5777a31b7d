package engine

import (
	"context"
	"sync"

	"github.com/Veraticus/budget-autocat/internal/llm"
)

// MockCall records a single completion request seen by MockCompleter.
type MockCall struct {
	Model      string
	Mode       string
	UserPrompt string
}

// MockCompleter is a scripted llm.Completer for tests and dry runs. The respond
// function decides the message content (or error) for each request.
type MockCompleter struct {
	respond func(req llm.Request) (string, error)
	calls   []MockCall
	mu      sync.Mutex
}

// NewMockCompleter creates a MockCompleter driven by respond.
func NewMockCompleter(respond func(req llm.Request) (string, error)) *MockCompleter {
	return &MockCompleter{respond: respond}
}

// Complete implements llm.Completer.
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	mode := llm.ModeLoose
	if req.Contract != nil {
		mode = req.Contract.Mode()
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Model: req.Model, Mode: mode, UserPrompt: req.UserPrompt})
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Completion{}, &llm.TransportError{Model: req.Model, Err: err}
	}

	content, err := m.respond(req)
	if err != nil {
		return llm.Completion{}, err
	}
	return llm.Completion{Model: req.Model, Content: content, FinishReason: "stop"}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockCompleter) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of Complete calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
