// Package llm provides unified LLM provider interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// ErrTimeout wraps a completion call that exceeded its deadline. The
// caller surfaces it as retryable; retry policy belongs to the UI layer.
var ErrTimeout = errors.New("llm request timed out")

// Provider is the unified interface for remote completion backends.
// Implementations: AnthropicProvider, OpenAIProvider
type Provider interface {
	Name() string  // Provider type name (e.g., "anthropic", "openai")
	Model() string // Current model name

	// SendMessage sends the conversation and optional tool schema to the
	// completion endpoint and returns either final text or tool calls.
	//
	// onDelta, when non-nil, receives text chunks as they stream in.
	// Callers must pass a nil onDelta whenever toolDefs is non-empty: a
	// complete response is required to parse tool-call structures, so
	// schema-bearing requests are non-streaming by contract.
	SendMessage(
		ctx context.Context,
		turns []types.Turn,
		toolDefs []types.ToolDefinition,
		systemPrompt string,
		onDelta func(delta string),
	) (*Response, error)
}

// Response represents one completion from the model
type Response struct {
	Text       string           // accumulated text response
	ToolCalls  []types.ToolCall // requested tool invocations, in order
	StopReason string           // "end_turn", "tool_use", "stop", etc.

	InputTokens  int
	OutputTokens int
}

// HasToolCalls returns true if the model requested tool execution
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Config is the provider configuration resolved from settings
type Config struct {
	Type     string        // "anthropic" or "openai"
	Endpoint string        // Base URL; empty = provider default
	Model    string
	APIKey   string
	Timeout  time.Duration // Per-request deadline (default 120s)
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return c.Timeout
}
