// Package testutil provides a scripted LLM client for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// MockClient is a thread-safe scripted llm.Client. Responses are served
// in order; role-specific scripts take precedence over the shared list.
//
//	mock := &MockClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"result": "ok"}`, Model: "test-model"},
//	    },
//	}
type MockClient struct {
	mu sync.Mutex

	// Responses are returned in sequence for roles without a script.
	Responses []*llm.Response

	// ByRole scripts responses per role, served in sequence.
	ByRole map[model.Role][]*llm.Response

	// Err, when set, is returned for every call.
	Err error

	// ErrByRole returns an error for specific roles.
	ErrByRole map[model.Role]error

	calls         []llm.Request
	responseIndex int
	roleIndex     map[model.Role]int
}

// Complete implements llm.Client.
func (m *MockClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if err, ok := m.ErrByRole[req.Role]; ok {
		return nil, err
	}

	if script, ok := m.ByRole[req.Role]; ok {
		if m.roleIndex == nil {
			m.roleIndex = make(map[model.Role]int)
		}
		i := m.roleIndex[req.Role]
		if i < len(script) {
			m.roleIndex[req.Role] = i + 1
			return script[i], nil
		}
		// Script exhausted: repeat the last entry so idempotent retries
		// observe stable output.
		if len(script) > 0 {
			return script[len(script)-1], nil
		}
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// Calls returns a copy of all requests seen.
func (m *MockClient) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Complete calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and script positions.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.responseIndex = 0
	m.roleIndex = nil
}
