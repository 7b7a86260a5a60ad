package tools

import (
	"strings"
	"testing"
)

func TestPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := NewPolicy(nil, nil)

	for _, name := range []string{"memory_search", "reminder_create", "agent_delegate"} {
		if !p.Permitted(name) {
			t.Errorf("Permitted(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"file_write", "shell_exec", "deploy", "unknown_tool"} {
		if p.Permitted(name) {
			t.Errorf("Permitted(%q) = true, want false", name)
		}
	}
}

func TestPolicy_ConfiguredAllowReplacesDefault(t *testing.T) {
	t.Parallel()

	p := NewPolicy([]string{"weather_lookup"}, nil)

	if !p.Permitted("weather_lookup") {
		t.Error("configured allow entry not permitted")
	}
	if p.Permitted("memory_search") {
		t.Error("default allow entry survived a configured allow list")
	}
}

func TestPolicy_DenyWinsOverAllow(t *testing.T) {
	t.Parallel()

	p := NewPolicy([]string{"shell_exec", "weather_lookup"}, []string{"weather_lookup"})

	if p.Permitted("shell_exec") {
		t.Error("default deny entry permitted despite explicit allow")
	}
	if p.Permitted("weather_lookup") {
		t.Error("configured deny entry permitted despite explicit allow")
	}
}

func TestPolicy_Filter(t *testing.T) {
	t.Parallel()

	p := NewPolicy(nil, nil)
	defs := []Definition{
		{Name: "memory_search"},
		{Name: "shell_exec"},
		{Name: "reminder_list"},
	}

	got := p.Filter(defs)
	if len(got) != 2 {
		t.Fatalf("Filter returned %d defs, want 2", len(got))
	}
	for _, d := range got {
		if d.Name == "shell_exec" {
			t.Error("denied tool passed the filter")
		}
	}
}

func TestClampResult(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2*MaxResultChars)
	if got := ClampResult(long); len(got) != MaxResultChars {
		t.Errorf("clamped length = %d, want %d", len(got), MaxResultChars)
	}
	if got := ClampResult(42); got != "42" {
		t.Errorf("ClampResult(42) = %q, want \"42\"", got)
	}
	if got := ClampResult(nil); got != "" {
		t.Errorf("ClampResult(nil) = %q, want empty", got)
	}
}
