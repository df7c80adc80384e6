// Package tools defines the fixed page-automation capability set and the
// executor boundary. The coordinator never performs DOM work itself; it
// validates names here and hands execution to an Executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// The fixed operation surface. Tool names are case-sensitive.
const (
	Find            = "find"
	Click           = "click"
	Type            = "type"
	Extract         = "extract"
	Describe        = "describe"
	Summary         = "summary"
	Screenshot      = "screenshot"
	GetResponsePage = "getResponsePage"
)

// asyncOps keep the reply channel open: the executor answers from a later
// message rather than the handler's return value.
var asyncOps = map[string]bool{
	Screenshot:      true,
	GetResponsePage: true,
}

var knownOps = map[string]bool{
	Find:            true,
	Click:           true,
	Type:            true,
	Extract:         true,
	Describe:        true,
	Summary:         true,
	Screenshot:      true,
	GetResponsePage: true,
}

// IsKnown reports whether name is part of the capability set
func IsKnown(name string) bool {
	return knownOps[name]
}

// IsAsync reports whether the operation replies asynchronously by contract
func IsAsync(name string) bool {
	return asyncOps[name]
}

// UnknownError builds the error text surfaced to the model when it invents
// a tool name, so it can self-correct on the next round.
func UnknownError(name string) string {
	return fmt.Sprintf("Function '%s' not found. Available functions: find, click, type, extract, describe, summary, screenshot, getResponsePage", name)
}

// Result is one tool execution outcome
type Result struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Executor runs a named operation inside the page context owning tabID.
// Implementations: executor.Proxy (remote tab via message passing),
// browser.Executor (local Chromium).
type Executor interface {
	Execute(ctx context.Context, tabID string, function string, args json.RawMessage) (*Result, error)
}

// Definitions returns the tool schema offered to the model. The set is
// fixed; it is (re-)offered at the start of a thread and not re-sent once
// the model has exercised a tool in that thread.
func Definitions() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        Find,
			Description: "Find elements on the page matching a pattern. Returns matching elements with selectors, text and attributes.",
			InputSchema: objectSchema(map[string]any{
				"pattern": stringProp("Text, CSS selector or element description to search for"),
				"options": map[string]any{
					"type":        "object",
					"description": "Optional search options (limit, visibleOnly)",
				},
			}, "pattern"),
		},
		{
			Name:        Click,
			Description: "Click an element identified by CSS selector, optionally disambiguated by its visible text.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the element to click"),
				"text":     stringProp("Visible text to disambiguate between multiple matches"),
			}, "selector"),
		},
		{
			Name:        Type,
			Description: "Type text into an input or editable element.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the target input"),
				"text":     stringProp("Text to type"),
				"options": map[string]any{
					"type":        "object",
					"description": "Optional typing options (clear, submit)",
				},
			}, "selector", "text"),
		},
		{
			Name:        Extract,
			Description: "Extract text or an attribute/property value from an element.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the element"),
				"property": stringProp("Property or attribute to read (default: text content)"),
			}, "selector"),
		},
		{
			Name:        Describe,
			Description: "Describe an element: tag, attributes, visibility, position and text.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector of the element"),
			}, "selector"),
		},
		{
			Name:        Summary,
			Description: "Summarize the readable content of the current page.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        Screenshot,
			Description: "Capture a screenshot of the visible page as base64 image data.",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        GetResponsePage,
			Description: "Fetch one page of a previously paginated tool result by its responseId.",
			InputSchema: objectSchema(map[string]any{
				"responseId": stringProp("Identifier returned with a paginated result"),
				"page":       map[string]any{"type": "integer", "description": "0-based page number"},
			}, "responseId", "page"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
