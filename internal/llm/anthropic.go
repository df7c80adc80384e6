package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// AnthropicProvider implements Provider for Anthropic's Claude API.
// Also works with Anthropic-compatible endpoints via a custom base URL.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewAnthropicProvider creates an Anthropic provider from config
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	L_debug("anthropic provider created", "model", cfg.Model, "endpoint", cfg.Endpoint)
	return &AnthropicProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: 8192,
		timeout:   cfg.timeout(),
	}, nil
}

func (c *AnthropicProvider) Name() string  { return "anthropic" }
func (c *AnthropicProvider) Model() string { return c.model }

// SendMessage sends the conversation to the Anthropic API. Requests that
// carry tool definitions are made non-streaming so tool-call structures
// arrive complete; text-only requests stream when onDelta is provided.
func (c *AnthropicProvider) SendMessage(
	ctx context.Context,
	turns []types.Turn,
	toolDefs []types.ToolDefinition,
	systemPrompt string,
	onDelta func(delta string),
) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	L_info("llm: request started", "provider", "anthropic", "model", c.model,
		"turns", len(turns), "tools", len(toolDefs), "streaming", onDelta != nil && len(toolDefs) == 0)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  convertTurns(turns),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(toolDefs) > 0 {
		params.Tools = convertTools(toolDefs)
	}

	var message *anthropic.Message
	if len(toolDefs) == 0 && onDelta != nil {
		msg, err := c.stream(ctx, params, onDelta)
		if err != nil {
			return nil, c.wrapErr(err)
		}
		message = msg
	} else {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, c.wrapErr(err)
		}
		message = msg
	}

	response := &Response{
		StopReason:   string(message.StopReason),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			response.Text += variant.Text
		case anthropic.ToolUseBlock:
			inputBytes, _ := json.Marshal(variant.Input)
			response.ToolCalls = append(response.ToolCalls, types.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: inputBytes,
			})
			L_info("llm: tool call requested", "tool", variant.Name, "id", variant.ID)
		}
	}

	L_elapsed(start, "llm: request completed", "provider", "anthropic",
		"stopReason", response.StopReason,
		"inputTokens", response.InputTokens, "outputTokens", response.OutputTokens)
	return response, nil
}

func (c *AnthropicProvider) stream(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*anthropic.Message, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate error: %w", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

func (c *AnthropicProvider) wrapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("anthropic request failed: %w", err)
}

// convertTurns converts conversation turns to Anthropic message params
func convertTurns(turns []types.Turn) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))

		case types.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if t.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			for _, call := range t.ToolCalls {
				var input map[string]any
				json.Unmarshal(call.Arguments, &input)
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: input,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case types.RoleTool:
			content := t.ToolResult
			if content == "" {
				content = "[empty result]"
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(t.ToolCallID, content, t.ToolIsError),
			))
		}
	}
	return result
}

// convertTools converts tool definitions to Anthropic format
func convertTools(defs []types.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var properties any
		if props, ok := def.InputSchema["properties"]; ok {
			properties = props
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
			},
		})
	}
	return result
}
