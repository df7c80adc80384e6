package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
)

// Handler processes one request payload for the tab that sent it and
// returns the response payload. Handlers may block (storage, LLM calls,
// executor round-trips): the router keeps the logical channel open and
// delivers the single reply when the handler returns.
type Handler func(ctx context.Context, payload json.RawMessage, tabID string) (any, error)

type registration struct {
	handler      Handler
	responseType MessageType
}

// Router looks up the handler for an envelope's type and converts its
// outcome into exactly one response envelope. One handler per type;
// fan-out is not supported.
type Router struct {
	mu       sync.RWMutex
	handlers map[MessageType]registration
}

// New creates an empty router
func New() *Router {
	return &Router{handlers: make(map[MessageType]registration)}
}

// Handle installs the handler for a request type and the response type its
// replies carry. Registering a type twice replaces the previous handler.
func (r *Router) Handle(reqType, respType MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[reqType]; exists {
		L_warn("router: replacing handler", "type", reqType)
	}
	r.handlers[reqType] = registration{handler: h, responseType: respType}
}

// Dispatch runs the handler for env and returns the single response
// envelope. Returns ok=false only for an unknown type, which is logged and
// receives no reply. Every other outcome, including handler errors and
// panics, produces exactly one envelope: errors become ERROR responses.
func (r *Router) Dispatch(ctx context.Context, env Envelope) (resp Envelope, ok bool) {
	r.mu.RLock()
	reg, known := r.handlers[env.Type]
	r.mu.RUnlock()

	if !known {
		L_warn("router: unknown message type, dropping", "type", env.Type, "tab", env.TabID)
		return Envelope{}, false
	}

	start := time.Now()
	result, err := r.invoke(ctx, reg.handler, env)
	L_debug("router: dispatched", "type", env.Type, "tab", env.TabID,
		"ok", err == nil, "latency", time.Since(start).String())

	if err != nil {
		L_error("router: handler failed", "type", env.Type, "tab", env.TabID, "error", err)
		payload, _ := json.Marshal(ErrorPayload{Error: err.Error()})
		return Envelope{
			Type:      TypeError,
			RequestID: env.RequestID,
			TabID:     env.TabID,
			Payload:   payload,
		}, true
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload, _ = json.Marshal(ErrorPayload{Error: fmt.Sprintf("failed to encode response: %v", err)})
		return Envelope{Type: TypeError, RequestID: env.RequestID, TabID: env.TabID, Payload: payload}, true
	}

	return Envelope{
		Type:      reg.responseType,
		RequestID: env.RequestID,
		TabID:     env.TabID,
		Payload:   payload,
	}, true
}

// invoke runs the handler with panic capture so a crashed handler still
// yields its one reply.
func (r *Router) invoke(ctx context.Context, h Handler, env Envelope) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, env.Payload, env.TabID)
}
