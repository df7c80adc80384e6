package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/roelfdiedericks/tabclaw/internal/convo"
	"github.com/roelfdiedericks/tabclaw/internal/llm"
	"github.com/roelfdiedericks/tabclaw/internal/pager"
	"github.com/roelfdiedericks/tabclaw/internal/router"
	"github.com/roelfdiedericks/tabclaw/internal/settings"
	"github.com/roelfdiedericks/tabclaw/internal/store"
	"github.com/roelfdiedericks/tabclaw/internal/tools"
	"github.com/roelfdiedericks/tabclaw/internal/types"
)

// scriptedProvider replays canned responses and records what each request
// carried.
type scriptedProvider struct {
	responses []llm.Response
	calls     []providerCall
	err       error
}

type providerCall struct {
	turns     int
	hadSchema bool
	streaming bool
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) SendMessage(_ context.Context, turns []types.Turn, toolDefs []types.ToolDefinition, _ string, onDelta func(string)) (*llm.Response, error) {
	p.calls = append(p.calls, providerCall{
		turns:     len(turns),
		hadSchema: len(toolDefs) > 0,
		streaming: onDelta != nil,
	})
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &llm.Response{Text: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return &resp, nil
}

// recordingExecutor returns canned results per function name and records
// call order.
type recordingExecutor struct {
	results map[string]*tools.Result
	err     error
	order   []string
}

func (e *recordingExecutor) Execute(_ context.Context, _ string, function string, _ json.RawMessage) (*tools.Result, error) {
	e.order = append(e.order, function)
	if e.err != nil {
		return nil, e.err
	}
	if r, ok := e.results[function]; ok {
		return r, nil
	}
	return &tools.Result{Success: true, Result: json.RawMessage(`"ok"`)}, nil
}

func newTestOrchestrator(t *testing.T, provider *scriptedProvider, exec tools.Executor, pagerCfg pager.Config) (*Orchestrator, *convo.State) {
	t.Helper()
	mgr := settings.NewManager(store.NewMemoryStore())
	t.Cleanup(func() { mgr.Close() })
	state := convo.NewState(mgr)
	o := New(state, mgr, pager.New(pagerCfg), exec, Config{MaxToolRounds: 3})
	o.WithProviderFactory(func(llm.Config) (llm.Provider, error) { return provider, nil })
	return o, state
}

func toolCall(name, args string) types.ToolCall {
	return types.ToolCall{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestToolRoundAppendsFourTurns(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Find, `{"query":"login"}`)}},
		{Text: "The login button is top right."},
	}}
	exec := &recordingExecutor{}
	o, state := newTestOrchestrator(t, provider, exec, pager.Config{})

	got, err := o.SendMessage(context.Background(), "tab-1", "where is the login button?", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got != "The login button is top right." {
		t.Fatalf("unexpected final text %q", got)
	}

	history, _ := state.GetHistory(context.Background(), "tab-1")
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
	wantRoles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant}
	for i, want := range wantRoles {
		if history[i].Role != want {
			t.Errorf("turn %d: role = %s, want %s", i, history[i].Role, want)
		}
	}
	if len(history[1].ToolCalls) != 1 {
		t.Errorf("assistant turn should carry the tool call request")
	}
	if history[2].ToolIsError {
		t.Errorf("tool turn unexpectedly marked as error: %s", history[2].ToolResult)
	}
}

func TestSchemaAttachedOnlyUntilFirstToolTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Extract, `{"selector":"h1"}`)}},
		{Text: "first answer"},
	}}
	o, _ := newTestOrchestrator(t, provider, &recordingExecutor{}, pager.Config{})

	if _, err := o.SendMessage(context.Background(), "tab-1", "hi", nil); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	if _, err := o.SendMessage(context.Background(), "tab-1", "again", nil); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	if len(provider.calls) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(provider.calls))
	}
	if !provider.calls[0].hadSchema {
		t.Errorf("first request must attach the tool schema")
	}
	if provider.calls[1].hadSchema || provider.calls[2].hadSchema {
		t.Errorf("schema must not be re-attached once the history contains a tool turn")
	}
}

func TestStreamingSuppressedWhileSchemaAttached(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Summary, `{}`)}},
		{Text: "summary"},
	}}
	o, _ := newTestOrchestrator(t, provider, &recordingExecutor{}, pager.Config{})

	onDelta := func(string) {}
	if _, err := o.SendMessage(context.Background(), "tab-1", "summarize", onDelta); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if provider.calls[0].streaming {
		t.Errorf("round with schema must not stream")
	}
	if !provider.calls[1].streaming {
		t.Errorf("schema-free round should stream when a delta sink is supplied")
	}
}

func TestSequentialExecutionOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{
			toolCall(tools.Find, `{"query":"form"}`),
			toolCall(tools.Type, `{"selector":"#q","text":"go"}`),
			toolCall(tools.Click, `{"selector":"#submit"}`),
		}},
		{Text: "submitted"},
	}}
	exec := &recordingExecutor{}
	o, _ := newTestOrchestrator(t, provider, exec, pager.Config{})

	if _, err := o.SendMessage(context.Background(), "tab-1", "search for go", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	want := []string{tools.Find, tools.Type, tools.Click}
	if len(exec.order) != len(want) {
		t.Fatalf("executed %v, want %v", exec.order, want)
	}
	for i := range want {
		if exec.order[i] != want[i] {
			t.Fatalf("executed %v, want %v", exec.order, want)
		}
	}
}

func TestUnknownToolBecomesErrorTurnWithoutExecutor(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall("unknown_tool", `{}`)}},
		{Text: "recovered"},
	}}
	exec := &recordingExecutor{}
	o, state := newTestOrchestrator(t, provider, exec, pager.Config{})

	if _, err := o.SendMessage(context.Background(), "tab-1", "do something", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(exec.order) != 0 {
		t.Fatalf("executor must not be contacted for an unknown function, got %v", exec.order)
	}
	history, _ := state.GetHistory(context.Background(), "tab-1")
	toolTurn := history[2]
	if !toolTurn.ToolIsError {
		t.Fatalf("unknown function should yield an error turn")
	}
	if !strings.Contains(toolTurn.ToolResult, "'unknown_tool' not found") {
		t.Errorf("error turn should name the missing function: %s", toolTurn.ToolResult)
	}
}

func TestToolErrorResultPropagatesAsErrorTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Click, `{"selector":"#gone"}`)}},
		{Text: "element was missing"},
	}}
	exec := &recordingExecutor{results: map[string]*tools.Result{
		tools.Click: {Success: false, Error: "element not found: #gone"},
	}}
	o, state := newTestOrchestrator(t, provider, exec, pager.Config{})

	if _, err := o.SendMessage(context.Background(), "tab-1", "click it", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	history, _ := state.GetHistory(context.Background(), "tab-1")
	if !history[2].ToolIsError || history[2].ToolResult != "element not found: #gone" {
		t.Errorf("tool failure should become an error turn, got %+v", history[2])
	}
}

func TestRoundBudgetAborts(t *testing.T) {
	// Never returns a text-only response.
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Find, `{"query":"a"}`)}},
		{ToolCalls: []types.ToolCall{toolCall(tools.Find, `{"query":"b"}`)}},
		{ToolCalls: []types.ToolCall{toolCall(tools.Find, `{"query":"c"}`)}},
		{ToolCalls: []types.ToolCall{toolCall(tools.Find, `{"query":"d"}`)}},
	}}
	o, _ := newTestOrchestrator(t, provider, &recordingExecutor{}, pager.Config{})

	_, err := o.SendMessage(context.Background(), "tab-1", "loop forever", nil)
	if !errors.Is(err, ErrRoundBudgetExceeded) {
		t.Fatalf("expected ErrRoundBudgetExceeded, got %v", err)
	}
}

func TestUnreachableTabFailsRunKeepingProgress(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Extract, `{"selector":"p"}`)}},
	}}
	exec := &recordingExecutor{err: errors.New("tab tab-1 has no connected executor")}
	o, state := newTestOrchestrator(t, provider, exec, pager.Config{})

	_, err := o.SendMessage(context.Background(), "tab-1", "read the page", nil)
	if err == nil {
		t.Fatalf("expected run failure")
	}
	// Progress up to the failure stays persisted.
	history, _ := state.GetHistory(context.Background(), "tab-1")
	if len(history) != 2 {
		t.Fatalf("expected user + assistant turns persisted, got %d", len(history))
	}
}

func TestLargeResultIsPaginatedAndServed(t *testing.T) {
	big := strings.Repeat("x", 600)
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{toolCall(tools.Extract, `{"selector":"body"}`)}},
		{Text: "summarized page one"},
	}}
	exec := &recordingExecutor{results: map[string]*tools.Result{
		tools.Extract: {Success: true, Result: json.RawMessage(`"` + big + `"`)},
	}}
	o, state := newTestOrchestrator(t, provider, exec, pager.Config{ThresholdBytes: 256, PageSizeBytes: 128})

	if _, err := o.SendMessage(context.Background(), "tab-1", "extract everything", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	history, _ := state.GetHistory(context.Background(), "tab-1")
	var stub struct {
		ResponseID string `json:"responseId"`
		TotalPages int    `json:"totalPages"`
		Content    string `json:"content"`
	}
	if err := json.Unmarshal([]byte(history[2].ToolResult), &stub); err != nil {
		t.Fatalf("tool turn is not a pagination stub: %v", err)
	}
	if stub.ResponseID == "" || stub.TotalPages < 2 {
		t.Fatalf("stub incomplete: %+v", stub)
	}

	// A follow-up getResponsePage round is served from the pager, not the tab.
	provider.responses = []llm.Response{
		{ToolCalls: []types.ToolCall{{
			ID:        "call_page",
			Name:      tools.GetResponsePage,
			Arguments: json.RawMessage(`{"responseId":"` + stub.ResponseID + `","page":1}`),
		}}},
		{Text: "got page 1"},
	}
	before := len(exec.order)
	if _, err := o.SendMessage(context.Background(), "tab-1", "next page", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(exec.order) != before {
		t.Errorf("getResponsePage must not reach the tab executor")
	}
}

func TestGetResponsePageUnknownIDIsErrorTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []types.ToolCall{{
			ID:        "call_page",
			Name:      tools.GetResponsePage,
			Arguments: json.RawMessage(`{"responseId":"nope","page":0}`),
		}}},
		{Text: "ok"},
	}}
	o, state := newTestOrchestrator(t, provider, &recordingExecutor{}, pager.Config{})

	if _, err := o.SendMessage(context.Background(), "tab-1", "page please", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	history, _ := state.GetHistory(context.Background(), "tab-1")
	if !history[2].ToolIsError {
		t.Errorf("unknown response id should yield an error turn")
	}
}

func TestDirectExecuteFunctionRejectsUnknownName(t *testing.T) {
	exec := &recordingExecutor{}
	o, state := newTestOrchestrator(t, &scriptedProvider{}, exec, pager.Config{})

	payload, _ := json.Marshal(router.ExecuteFunctionPayload{Function: "unknown_tool"})
	got, err := o.handleExecuteFunction(context.Background(), payload, "tab-1")
	if err != nil {
		t.Fatalf("handleExecuteFunction: %v", err)
	}
	resp := got.(router.FunctionResponsePayload)
	if resp.Success {
		t.Fatalf("unknown function must be rejected")
	}
	if !strings.Contains(resp.Error, "'unknown_tool' not found") {
		t.Errorf("rejection should name the function: %s", resp.Error)
	}
	if len(exec.order) != 0 {
		t.Errorf("executor must not be contacted")
	}
	history, _ := state.GetHistory(context.Background(), "tab-1")
	if len(history) != 0 {
		t.Errorf("direct function calls must not append conversation turns")
	}
}

func TestClearConversationInvalidatesPagedResults(t *testing.T) {
	o, state := newTestOrchestrator(t, &scriptedProvider{}, &recordingExecutor{}, pager.Config{ThresholdBytes: 8, PageSizeBytes: 8})

	id, _, stored := o.pager.Store("tab-1", strings.Repeat("y", 64))
	if !stored {
		t.Fatalf("payload should exceed the inline threshold")
	}
	if err := state.AppendTurns(context.Background(), "tab-1", types.NewUserTurn("hi")); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}

	if _, err := o.ClearConversation(context.Background(), "tab-1"); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	if history, _ := state.GetHistory(context.Background(), "tab-1"); len(history) != 0 {
		t.Errorf("history should be empty after clear")
	}
	if _, err := o.pager.GetPage(id, 0); !errors.Is(err, pager.ErrNotFound) {
		t.Errorf("paged results should be invalidated on clear, got %v", err)
	}
}

func TestSaveSettingsPreservesConversations(t *testing.T) {
	o, state := newTestOrchestrator(t, &scriptedProvider{}, &recordingExecutor{}, pager.Config{})
	if err := state.AppendTurns(context.Background(), "tab-1", types.NewUserTurn("hello")); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}

	payload, _ := json.Marshal(settings.ProviderSettings{Type: "anthropic", Model: "claude-sonnet-4-20250514"})
	got, err := o.handleSaveSettings(context.Background(), payload, "")
	if err != nil {
		t.Fatalf("handleSaveSettings: %v", err)
	}
	if ack := got.(router.SaveSettingsAckPayload); !ack.Success {
		t.Errorf("save should acknowledge success")
	}
	doc, _ := o.settings.Load(context.Background())
	if doc.Provider.Type != "anthropic" {
		t.Errorf("provider not updated: %+v", doc.Provider)
	}
	if history, _ := state.GetHistory(context.Background(), "tab-1"); len(history) != 1 {
		t.Errorf("saving settings must not discard conversations")
	}
}
