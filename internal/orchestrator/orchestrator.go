// Package orchestrator drives the multi-turn tool-calling loop between the
// model and the page-automation executor for one tab conversation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roelfdiedericks/tabclaw/internal/convo"
	"github.com/roelfdiedericks/tabclaw/internal/llm"
	. "github.com/roelfdiedericks/tabclaw/internal/logging"
	"github.com/roelfdiedericks/tabclaw/internal/pager"
	"github.com/roelfdiedericks/tabclaw/internal/settings"
	"github.com/roelfdiedericks/tabclaw/internal/tokens"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// ErrRoundBudgetExceeded terminates a run whose tool-calling loop will not
// converge. The budget is a config knob, not a hard-coded constant.
var ErrRoundBudgetExceeded = errors.New("tool round budget exceeded")

// Config tunes the orchestrator
type Config struct {
	// MaxToolRounds bounds the (ask model -> run tools -> ask again) loop
	// per user message. Default 12.
	MaxToolRounds int

	// LLMTimeout is the per-request completion deadline. Default 120s.
	LLMTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 12
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 120 * time.Second
	}
}

// ProviderFactory builds an LLM provider from resolved config. Tests
// substitute a fake; production uses llm.NewProvider.
type ProviderFactory func(cfg llm.Config) (llm.Provider, error)

// Orchestrator coordinates conversation state, the LLM client and the
// tool executor for every tab.
type Orchestrator struct {
	state       *convo.State
	settings    *settings.Manager
	pager       *pager.Pager
	exec        tools.Executor
	newProvider ProviderFactory
	cfg         Config
}

// New creates an orchestrator
func New(state *convo.State, mgr *settings.Manager, pg *pager.Pager, exec tools.Executor, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		state:       state,
		settings:    mgr,
		pager:       pg,
		exec:        exec,
		newProvider: llm.NewProvider,
		cfg:         cfg,
	}
}

// WithProviderFactory overrides provider construction (tests)
func (o *Orchestrator) WithProviderFactory(f ProviderFactory) *Orchestrator {
	o.newProvider = f
	return o
}

// SendMessage runs one user message through the tool-calling loop and
// returns the model's final text. History is persisted as far as the run
// progressed even when the run fails: partial progress is kept, never
// fabricated beyond what actually happened.
//
// onDelta, when non-nil, receives streamed text chunks. Streaming only
// happens on rounds where no tool schema is attached.
func (o *Orchestrator) SendMessage(ctx context.Context, tabID, message string, onDelta func(delta string)) (string, error) {
	doc, err := o.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	provider, err := o.newProvider(llm.Config{
		Type:     doc.Provider.Type,
		Endpoint: doc.Provider.Endpoint,
		Model:    doc.Provider.Model,
		APIKey:   doc.Provider.APIKey,
		Timeout:  o.cfg.LLMTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("provider not configured: %w", err)
	}

	if err := o.state.AppendTurns(ctx, tabID, types.NewUserTurn(message)); err != nil {
		return "", err
	}

	L_info("orchestrator: run started", "tab", tabID, "provider", provider.Name(), "model", provider.Model())

	systemPrompt := buildSystemPrompt()
	rounds := 0
	for {
		history, err := o.state.GetHistory(ctx, tabID)
		if err != nil {
			return "", err
		}

		// The schema is offered at the start of a thread and dropped once
		// the model has exercised a tool in it, re-derived from the
		// history itself. Schema attached means a complete response is
		// required to parse tool calls, so streaming is off.
		attachSchema := !convo.HasToolTurn(history)
		var toolDefs []types.ToolDefinition
		deltas := onDelta
		if attachSchema {
			toolDefs = tools.Definitions()
			deltas = nil
		}

		L_debug("orchestrator: calling model", "tab", tabID, "round", rounds,
			"turns", len(history), "schema", attachSchema,
			"estTokens", tokens.Get().CountTurns(history))

		resp, err := provider.SendMessage(ctx, history, toolDefs, systemPrompt, deltas)
		if err != nil {
			L_error("orchestrator: model call failed", "tab", tabID, "round", rounds, "error", err)
			return "", err
		}

		if attachSchema {
			if err := o.state.MarkToolsOffered(ctx, tabID); err != nil {
				L_warn("orchestrator: failed to mark tools offered", "tab", tabID, "error", err)
			}
		}

		if !resp.HasToolCalls() {
			if err := o.state.AppendTurns(ctx, tabID, types.NewAssistantTurn(resp.Text, nil)); err != nil {
				return "", err
			}
			L_info("orchestrator: run completed", "tab", tabID, "rounds", rounds, "responseLen", len(resp.Text))
			return resp.Text, nil
		}

		rounds++
		if rounds > o.cfg.MaxToolRounds {
			L_error("orchestrator: run aborted", "tab", tabID, "rounds", rounds, "budget", o.cfg.MaxToolRounds)
			return "", fmt.Errorf("%w: %d rounds", ErrRoundBudgetExceeded, o.cfg.MaxToolRounds)
		}

		// Record the model's request, then execute the calls strictly in
		// the order received: later calls may depend on the DOM state
		// left by earlier ones.
		if err := o.state.AppendTurns(ctx, tabID, types.NewAssistantTurn(resp.Text, resp.ToolCalls)); err != nil {
			return "", err
		}
		for _, call := range resp.ToolCalls {
			turn, err := o.executeCall(ctx, tabID, call)
			if err != nil {
				return "", err
			}
			if err := o.state.AppendTurns(ctx, tabID, turn); err != nil {
				return "", err
			}
		}
	}
}

// executeCall runs one tool call and returns its tool turn. Validation
// failures and in-page errors become error turns the model can react to;
// only an unreachable tab escalates to a run failure.
func (o *Orchestrator) executeCall(ctx context.Context, tabID string, call types.ToolCall) (types.Turn, error) {
	if !tools.IsKnown(call.Name) {
		L_warn("orchestrator: model requested unknown tool", "tab", tabID, "tool", call.Name)
		return types.NewToolTurn(call, tools.UnknownError(call.Name), true), nil
	}

	if call.Name == tools.GetResponsePage {
		return o.servePagedResult(call), nil
	}

	start := time.Now()
	result, err := o.exec.Execute(ctx, tabID, call.Name, call.Arguments)
	if err != nil {
		return types.Turn{}, fmt.Errorf("tool %s failed to reach tab %s: %w", call.Name, tabID, err)
	}
	L_debug("orchestrator: tool executed", "tab", tabID, "tool", call.Name,
		"success", result.Success, "duration", time.Since(start).String())

	if !result.Success {
		return types.NewToolTurn(call, result.Error, true), nil
	}

	content := string(result.Result)
	if id, total, stored := o.pager.Store(tabID, content); stored {
		first := ""
		if page, pErr := o.pager.GetPage(id, 0); pErr == nil {
			first = page.Content
		}
		stub, _ := json.Marshal(map[string]any{
			"responseId": id,
			"totalPages": total,
			"page":       0,
			"content":    first,
			"note":       "result truncated; call getResponsePage with this responseId for further pages",
		})
		content = string(stub)
		L_info("orchestrator: tool result paginated", "tab", tabID, "tool", call.Name,
			"responseId", id, "totalPages", total)
	}
	return types.NewToolTurn(call, content, false), nil
}

func (o *Orchestrator) servePagedResult(call types.ToolCall) types.Turn {
	var args struct {
		ResponseID string `json:"responseId"`
		Page       int    `json:"page"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return types.NewToolTurn(call, fmt.Sprintf("invalid getResponsePage arguments: %v", err), true)
	}
	page, err := o.pager.GetPage(args.ResponseID, args.Page)
	if err != nil {
		return types.NewToolTurn(call, fmt.Sprintf("response page not found: id=%s page=%d", args.ResponseID, args.Page), true)
	}
	content, _ := json.Marshal(page)
	return types.NewToolTurn(call, string(content), false)
}

// ClearConversation removes a tab's history and invalidates its paged
// results, returning the resulting settings document.
func (o *Orchestrator) ClearConversation(ctx context.Context, tabID string) (*settings.Settings, error) {
	doc, err := o.state.Clear(ctx, tabID)
	if err != nil {
		return nil, err
	}
	o.pager.InvalidateTab(tabID)
	return doc, nil
}

func buildSystemPrompt() string {
	return `You are a page assistant embedded in the user's browser tab. You can inspect and interact with the page through the provided tools. Prefer reading the page (find, extract, summary) before acting on it (click, type). Tool results may be paginated; use getResponsePage to fetch further pages when a result says it was truncated. Answer concisely with what you did and found.`
}
