// Package types defines shared data types used across tabclaw components.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured tool invocation request from the model
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Turn is one message in a tab conversation. Turns are immutable after
// creation except for Streaming, which is cleared once a streamed
// assistant turn completes.
type Turn struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix ms

	// Assistant turns that requested tool calls carry them here so the
	// next round can replay the full exchange to the model.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// Tool turns carry the executed call and its outcome
	ToolCallID  string          `json:"toolCallId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ToolResult  string          `json:"toolResult,omitempty"`
	ToolIsError bool            `json:"toolIsError,omitempty"`

	// Streaming marks an assistant turn whose content is still arriving
	Streaming bool `json:"streaming,omitempty"`
}

// TabConversation is the ordered turn history scoped to one browser tab
type TabConversation struct {
	Turns []Turn `json:"turns"`

	// ToolsOffered records that the tool schema was sent at least once in
	// this thread. Kept for UI display; the orchestrator re-derives the
	// decision from the turn history itself.
	ToolsOffered bool `json:"toolsOffered"`
}

// NewTurnID creates a unique turn ID. Ordering comes from Timestamp, not
// from the ID.
func NewTurnID() string {
	return uuid.NewString()
}

// NewUserTurn creates a user turn
func NewUserTurn(content string) Turn {
	return Turn{
		ID:        NewTurnID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAssistantTurn creates an assistant turn with final or partial text
func NewAssistantTurn(content string, calls []ToolCall) Turn {
	return Turn{
		ID:        NewTurnID(),
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewToolTurn creates a tool turn recording one executed call
func NewToolTurn(call ToolCall, result string, isError bool) Turn {
	return Turn{
		ID:          NewTurnID(),
		Role:        RoleTool,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		ToolInput:   call.Arguments,
		ToolResult:  result,
		ToolIsError: isError,
		Timestamp:   time.Now().UnixMilli(),
	}
}
