package browser

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/roelfdiedericks/tabclaw/internal/tools"
)

func TestDispatchRefusesCoordinatorOps(t *testing.T) {
	e := NewExecutor(Config{ControlURL: "ws://unused"})
	// getResponsePage never touches the page, so a nil page is fine here.
	result := e.dispatch(nil, tools.GetResponsePage, json.RawMessage(`{"responseId":"x","page":0}`))
	if result.Success {
		t.Fatalf("getResponsePage must not be served by the page executor")
	}
	if !strings.Contains(result.Error, "coordinator") {
		t.Errorf("error should point at the coordinator: %s", result.Error)
	}
}

func TestDispatchUnknownFunction(t *testing.T) {
	e := NewExecutor(Config{ControlURL: "ws://unused"})
	result := e.dispatch(nil, "frobnicate", nil)
	if result.Success || !strings.Contains(result.Error, "'frobnicate' not found") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestTabConnectedLifecycle(t *testing.T) {
	e := NewExecutor(Config{ControlURL: "ws://unused"})
	if e.TabConnected("tab-1") {
		t.Fatalf("no tab should be connected before attach")
	}
	if err := e.AttachTab("tab-1", ""); err == nil {
		t.Fatalf("attach must fail before Connect")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("short strings pass through, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello…" {
		t.Errorf("truncate = %q", got)
	}
	// A byte cut through a multibyte rune backs up to the rune boundary.
	if got := truncate("aaaaéé", 5); got != "aaaa…" {
		t.Errorf("truncate on rune boundary = %q", got)
	}
	if !utf8.ValidString(truncate(strings.Repeat("é", 10), 7)) {
		t.Error("truncated string is not valid UTF-8")
	}
}
