package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/router"
	"github.com/roelfdiedericks/tabclaw/internal/settings"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// RegisterHandlers wires the orchestrator's operations into the router.
// Each request type gets exactly one handler and exactly one reply.
func (o *Orchestrator) RegisterHandlers(r *router.Router) {
	r.Handle(router.TypeGetSettings, router.TypeSettingsResponse, o.handleGetSettings)
	r.Handle(router.TypeSaveSettings, router.TypeSettingsResponse, o.handleSaveSettings)
	r.Handle(router.TypeSendMessage, router.TypeMessageResponse, o.handleSendMessage)
	r.Handle(router.TypeClearTabConversation, router.TypeSettingsResponse, o.handleClearTab)
	r.Handle(router.TypeExecuteFunction, router.TypeFunctionResponse, o.handleExecuteFunction)
}

func (o *Orchestrator) handleGetSettings(ctx context.Context, _ json.RawMessage, _ string) (any, error) {
	return o.settings.Load(ctx)
}

// handleSaveSettings replaces the provider configuration, leaving all
// conversation state in the document untouched. The full document reaches
// clients through the settings-change echo; the reply is just an ack.
func (o *Orchestrator) handleSaveSettings(ctx context.Context, payload json.RawMessage, _ string) (any, error) {
	var incoming settings.ProviderSettings
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return nil, fmt.Errorf("invalid settings payload: %w", err)
	}
	if _, err := o.settings.Update(ctx, func(doc *settings.Settings) error {
		doc.Provider = incoming
		return nil
	}); err != nil {
		return nil, err
	}
	L_info("settings saved", "provider", incoming.Type, "model", incoming.Model)
	return router.SaveSettingsAckPayload{Success: true}, nil
}

func (o *Orchestrator) handleSendMessage(ctx context.Context, payload json.RawMessage, tabID string) (any, error) {
	var req router.SendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid sendMessage payload: %w", err)
	}
	if req.TabID != "" {
		tabID = req.TabID
	}
	text, err := o.SendMessage(ctx, tabID, req.Message, nil)
	if err != nil {
		return nil, err
	}
	return router.MessageResponsePayload{Content: text}, nil
}

func (o *Orchestrator) handleClearTab(ctx context.Context, payload json.RawMessage, tabID string) (any, error) {
	var req router.ClearTabPayload
	if err := json.Unmarshal(payload, &req); err == nil && req.TabID != "" {
		tabID = req.TabID
	}
	return o.ClearConversation(ctx, tabID)
}

// handleExecuteFunction serves direct (panel-initiated) function calls.
// Unknown names are rejected here without contacting the tab, and no
// conversation turn is recorded for direct calls.
func (o *Orchestrator) handleExecuteFunction(ctx context.Context, payload json.RawMessage, tabID string) (any, error) {
	var req router.ExecuteFunctionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid executeFunction payload: %w", err)
	}
	if !tools.IsKnown(req.Function) {
		return router.FunctionResponsePayload{Success: false, Error: tools.UnknownError(req.Function)}, nil
	}
	if req.Function == tools.GetResponsePage {
		turn := o.servePagedResult(toToolCall(req))
		return router.FunctionResponsePayload{
			Success: !turn.ToolIsError,
			Result:  rawOrNil(!turn.ToolIsError, turn.ToolResult),
			Error:   errOrEmpty(turn.ToolIsError, turn.ToolResult),
		}, nil
	}
	result, err := o.exec.Execute(ctx, tabID, req.Function, req.Arguments)
	if err != nil {
		return nil, err
	}
	return router.FunctionResponsePayload{Success: result.Success, Result: result.Result, Error: result.Error}, nil
}

func toToolCall(req router.ExecuteFunctionPayload) types.ToolCall {
	return types.ToolCall{Name: req.Function, Arguments: req.Arguments}
}

func rawOrNil(ok bool, content string) json.RawMessage {
	if !ok {
		return nil
	}
	return json.RawMessage(content)
}

func errOrEmpty(isErr bool, content string) string {
	if !isErr {
		return ""
	}
	return content
}
