// Package executor bridges the orchestrator to the page-context tool
// executor through message passing. The coordinator never touches the DOM;
// it sends EXECUTE_FUNCTION envelopes to the tab that owns the
// conversation and awaits exactly one reply per request.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/router"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
)

// ErrTabUnreachable indicates the addressed tab has no connected executor
// context (closed, navigated away, never attached).
var ErrTabUnreachable = errors.New("tab executor unreachable")

// TabSender delivers a request envelope to a tab's executor context and
// returns its single reply. Implemented by the websocket hub.
type TabSender interface {
	SendRequest(ctx context.Context, tabID string, env router.Envelope) (router.Envelope, error)

	// TabConnected reports whether an executor context is attached for tabID
	TabConnected(tabID string) bool
}

// Proxy implements tools.Executor over a TabSender
type Proxy struct {
	sender TabSender
}

// NewProxy creates an executor proxy over the given sender
func NewProxy(sender TabSender) *Proxy {
	return &Proxy{sender: sender}
}

// Execute sends one operation to the tab's executor. A send failure (tab
// not attached at all) is returned as an error wrapping ErrTabUnreachable;
// a reply describing an in-page failure, or a tab that disconnected while
// the call was pending, becomes an unsuccessful Result so the model can
// see what happened and adapt.
func (p *Proxy) Execute(ctx context.Context, tabID string, function string, args json.RawMessage) (*tools.Result, error) {
	if !p.sender.TabConnected(tabID) {
		return nil, fmt.Errorf("%w: tab %s", ErrTabUnreachable, tabID)
	}

	payload, err := json.Marshal(router.ExecuteFunctionPayload{
		Function:  function,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode function call: %w", err)
	}

	env := router.Envelope{
		Type:      router.TypeExecuteFunction,
		RequestID: uuid.New().String(),
		TabID:     tabID,
		Payload:   payload,
	}

	start := time.Now()
	L_debug("executor: dispatching function", "tab", tabID, "function", function,
		"async", tools.IsAsync(function), "requestId", env.RequestID)

	reply, err := p.sender.SendRequest(ctx, tabID, env)
	if err != nil {
		// The tab vanished while the call was in flight. Not a crash:
		// the outcome is a failed tool execution the model can react to.
		L_warn("executor: tab lost during pending call", "tab", tabID,
			"function", function, "error", err)
		return &tools.Result{
			Success: false,
			Error:   fmt.Sprintf("tab %s closed before the executor replied: %v", tabID, err),
		}, nil
	}

	L_debug("executor: function replied", "tab", tabID, "function", function,
		"latency", time.Since(start).String())

	if reply.Type == router.TypeError {
		var ep router.ErrorPayload
		_ = json.Unmarshal(reply.Payload, &ep)
		return &tools.Result{Success: false, Error: ep.Error}, nil
	}

	var result tools.Result
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		return nil, fmt.Errorf("malformed executor reply for %s: %w", function, err)
	}
	return &result, nil
}
