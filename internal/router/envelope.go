// Package router routes typed message envelopes between execution contexts
// and guarantees exactly one response per request.
package router

import "encoding/json"

// MessageType identifies an envelope's payload shape
type MessageType string

// Request types
const (
	TypeGetSettings          MessageType = "GET_SETTINGS"
	TypeSaveSettings         MessageType = "SAVE_SETTINGS"
	TypeSendMessage          MessageType = "SEND_MESSAGE"
	TypeClearTabConversation MessageType = "CLEAR_TAB_CONVERSATION"
	TypeExecuteFunction      MessageType = "EXECUTE_FUNCTION"
)

// Response types
const (
	TypeSettingsResponse MessageType = "SETTINGS_RESPONSE"
	TypeMessageResponse  MessageType = "MESSAGE_RESPONSE"
	TypeFunctionResponse MessageType = "FUNCTION_RESPONSE"
	TypeError            MessageType = "ERROR"
)

// Envelope is the typed request/response unit crossing context boundaries.
// Immutable once sent. RequestID correlates a response to its request on
// the same logical channel.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Payload shapes

// SendMessagePayload starts (or continues) a conversation on a tab
type SendMessagePayload struct {
	Message string `json:"message"`
	TabID   string `json:"tabId"`
}

// MessageResponsePayload carries the model's final text
type MessageResponsePayload struct {
	Content string `json:"content"`
}

// ClearTabPayload names the tab whose conversation is cleared
type ClearTabPayload struct {
	TabID string `json:"tabId"`
}

// ExecuteFunctionPayload addresses one operation to a tab's executor
type ExecuteFunctionPayload struct {
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// FunctionResponsePayload is the executor's exactly-one reply
type FunctionResponsePayload struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrorPayload carries a human-readable failure description
type ErrorPayload struct {
	Error string `json:"error"`
}

// SaveSettingsAckPayload acknowledges a persisted save
type SaveSettingsAckPayload struct {
	Success bool `json:"success"`
}
