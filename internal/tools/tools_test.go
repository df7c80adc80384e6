package tools

import (
	"strings"
	"testing"
)

func TestDefinitionsCoverCapabilitySet(t *testing.T) {
	defs := Definitions()
	if len(defs) != 8 {
		t.Fatalf("got %d definitions, want 8", len(defs))
	}
	for _, d := range defs {
		if !IsKnown(d.Name) {
			t.Errorf("definition %q not in known set", d.Name)
		}
		if d.Description == "" {
			t.Errorf("definition %q missing description", d.Name)
		}
		if d.InputSchema["type"] != "object" {
			t.Errorf("definition %q schema type = %v, want object", d.Name, d.InputSchema["type"])
		}
	}
}

func TestIsKnown(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"find", true},
		{"click", true},
		{"getResponsePage", true},
		{"Find", false}, // case-sensitive
		{"unknown_tool", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsKnown(tt.name); got != tt.want {
			t.Errorf("IsKnown(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsAsync(t *testing.T) {
	if !IsAsync(Screenshot) || !IsAsync(GetResponsePage) {
		t.Error("screenshot and getResponsePage must be async by contract")
	}
	for _, name := range []string{Find, Click, Type, Extract, Describe, Summary} {
		if IsAsync(name) {
			t.Errorf("%s should be synchronous", name)
		}
	}
}

func TestUnknownError(t *testing.T) {
	msg := UnknownError("unknown_tool")
	if !strings.Contains(msg, "Function 'unknown_tool' not found") {
		t.Errorf("UnknownError = %q, want it to name the missing function", msg)
	}
}
