package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/types"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs.
// Works with OpenAI, OpenRouter, LM Studio and other compatible endpoints
// via a custom base URL.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIProvider creates an OpenAI-compatible provider from config
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	L_debug("openai provider created", "model", cfg.Model, "endpoint", cfg.Endpoint)
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.timeout(),
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// SendMessage sends the conversation to the completion endpoint. Requests
// carrying tool definitions are non-streaming; text-only requests stream
// when onDelta is provided.
func (p *OpenAIProvider) SendMessage(
	ctx context.Context,
	turns []types.Turn,
	toolDefs []types.ToolDefinition,
	systemPrompt string,
	onDelta func(delta string),
) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	streaming := onDelta != nil && len(toolDefs) == 0
	L_info("llm: request started", "provider", "openai", "model", p.model,
		"turns", len(turns), "tools", len(toolDefs), "streaming", streaming)

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertToOpenAIMessages(turns, systemPrompt),
	}
	if len(toolDefs) > 0 {
		req.Tools = convertToOpenAITools(toolDefs)
	}

	var response *Response
	var err error
	if streaming {
		response, err = p.streamCompletion(ctx, req, onDelta)
	} else {
		response, err = p.completion(ctx, req)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	L_elapsed(start, "llm: request completed", "provider", "openai",
		"stopReason", response.StopReason,
		"inputTokens", response.InputTokens, "outputTokens", response.OutputTokens)
	return response, nil
}

func (p *OpenAIProvider) completion(ctx context.Context, req openai.ChatCompletionRequest) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	choice := resp.Choices[0]
	response := &Response{
		Text:         choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
		L_info("llm: tool call requested", "tool", tc.Function.Name, "id", tc.ID)
	}
	return response, nil
}

func (p *OpenAIProvider) streamCompletion(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string)) (*Response, error) {
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	response := &Response{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk.Usage != nil {
			response.InputTokens = chunk.Usage.PromptTokens
			response.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			onDelta(choice.Delta.Content)
			response.Text += choice.Delta.Content
		}
		if choice.FinishReason != "" {
			response.StopReason = string(choice.FinishReason)
		}
	}
	return response, nil
}

// convertToOpenAIMessages converts conversation turns to OpenAI format,
// pairing tool turns with the assistant tool calls that produced them
func convertToOpenAIMessages(turns []types.Turn, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: t.Content,
			})

		case types.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: t.Content,
			}
			for _, call := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			result = append(result, msg)

		case types.RoleTool:
			content := t.ToolResult
			if content == "" {
				content = "[empty result]"
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: t.ToolCallID,
				Content:    content,
			})
		}
	}
	return result
}

// convertToOpenAITools converts tool definitions to OpenAI format
func convertToOpenAITools(defs []types.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return result
}
