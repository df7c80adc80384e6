package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/tabclaw/internal/types"
)

func TestNewProviderDispatch(t *testing.T) {
	if _, err := NewProvider(Config{Type: "bogus"}); err == nil {
		t.Error("unknown provider type should fail")
	}
	if _, err := NewProvider(Config{Type: "anthropic"}); err == nil {
		t.Error("anthropic without API key should fail")
	}
	p, err := NewProvider(Config{Type: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewProvider(openai) failed: %v", err)
	}
	if p.Name() != "openai" || p.Model() != "gpt-4o-mini" {
		t.Errorf("provider identity = %s/%s", p.Name(), p.Model())
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "find", Arguments: json.RawMessage(`{"pattern":"button"}`)}
	turns := []types.Turn{
		types.NewUserTurn("Find all buttons"),
		types.NewAssistantTurn("", []types.ToolCall{call}),
		types.NewToolTurn(call, "3 matches", false),
		types.NewAssistantTurn("I found 3 buttons.", nil),
	}

	msgs := convertToOpenAIMessages(turns, "You are a page assistant.")
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5 (system + 4 turns)", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant tool calls not carried: %+v", msgs[2].ToolCalls)
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "c1" {
		t.Errorf("tool result not paired with its call: %+v", msgs[3])
	}
	if msgs[4].Content != "I found 3 buttons." {
		t.Errorf("final assistant content = %q", msgs[4].Content)
	}
}

func TestConvertToOpenAIToolsEmptyResult(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "click"}
	msgs := convertToOpenAIMessages([]types.Turn{
		types.NewToolTurn(call, "", true),
	}, "")
	if msgs[0].Content != "[empty result]" {
		t.Errorf("empty tool result should be stubbed, got %q", msgs[0].Content)
	}
}

func TestConvertTurnsAnthropic(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "extract", Arguments: json.RawMessage(`{"selector":"#a"}`)}
	turns := []types.Turn{
		types.NewUserTurn("extract"),
		types.NewAssistantTurn("", []types.ToolCall{call}),
		types.NewToolTurn(call, "value", false),
	}
	msgs := convertTurns(turns)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Assistant turn with no text and no calls is skipped
	msgs = convertTurns([]types.Turn{types.NewAssistantTurn("", nil)})
	if len(msgs) != 0 {
		t.Errorf("empty assistant turn produced %d messages, want 0", len(msgs))
	}
}
