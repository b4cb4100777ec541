package model

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hupe1980/underwriter/core"
)

// Role of a message author.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Request is a single completion request.
type Request struct {
	Instructions string    `json:"instructions"` // System prompt
	Messages     []Message `json:"messages"`
	JSON         bool      `json:"json,omitempty"` // Ask the provider for a JSON-only answer where supported
}

// LastUserText returns the text of the final user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text
		}
	}

	return ""
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's answer.
type Response struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info describes a model.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "gemini", "mock"
}

// Model generates completions. Errors are classified with the core taxonomy
// so callers can decide whether to retry.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Info() Info
}

// ClassifyStatus wraps err with core.ErrTransient or core.ErrPermanent based
// on the HTTP status a vendor API answered with. A zero status means no
// response was received. The vendor message is not carried along.
func ClassifyStatus(provider string, status int, err error) error {
	switch {
	case status == 0:
		return fmt.Errorf("%s: %w: request failed", provider, core.ErrTransient)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%s: %w: status %d", provider, core.ErrTransient, status)
	default:
		return fmt.Errorf("%s: %w: status %d", provider, core.ErrPermanent, status)
	}
}

// MockModel is a scripted Model for tests and offline runs. Queued replies
// are consumed first, then replies registered per prompt, then a default.
type MockModel struct {
	info Info

	mu        sync.Mutex
	queue     []mockReply
	responses map[string]string
	requests  []Request
}

type mockReply struct {
	text string
	err  error
}

// NewMockModel creates a new mock model.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers the reply for prompts containing the given text.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Enqueue appends a scripted reply; a non-nil err is returned instead of text.
func (m *MockModel) Enqueue(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, mockReply{text: text, err: err})
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Generate returns the next scripted reply.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]

		if next.err != nil {
			return Response{}, next.err
		}

		return Response{Text: next.text, FinishReason: "stop"}, nil
	}

	input := req.LastUserText()
	for prompt, resp := range m.responses {
		if strings.Contains(input, prompt) {
			return Response{Text: resp, FinishReason: "stop"}, nil
		}
	}

	return Response{Text: fmt.Sprintf("Mock response to: %s", input), FinishReason: "stop"}, nil
}

// Info returns the model description.
func (m *MockModel) Info() Info { return m.info }
