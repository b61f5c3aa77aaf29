// Package driver abstracts the reasoning model behind the dispatcher: a
// conversation plus operation specs go in, text and operation calls come
// out. The dispatcher depends only on the Driver interface.
package driver

import (
	"context"
	"fmt"
)

// Message is one turn of driver conversation context
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

// ToolCall is an operation invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption per call
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one model invocation
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
}

// Response is the model's reply: text, requested operations, or both
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Driver is a reasoning model client
type Driver interface {
	Call(ctx context.Context, request Request) (*Response, error)
	Provider() string
}

// New creates a driver for the named provider
func New(provider, apiKey string) (Driver, error) {
	switch provider {
	case "openai":
		return NewOpenAIDriver(apiKey), nil
	case "anthropic":
		return NewAnthropicDriver(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported driver provider: %s", provider)
	}
}
