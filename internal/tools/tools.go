// Package tools defines the host tool-executor contract and the voice-safety
// policy that filters which tools a voice session may advertise.
//
// The bridge never owns a tool registry; the embedding host injects an
// Executor at construction and the bridge only filters, invokes, and clamps.
package tools

import (
	"context"
	"fmt"
)

// MaxResultChars is the clamp applied to stringified tool results before
// they are returned to the model. Voice responses read results aloud, so
// longer payloads add latency without value.
const MaxResultChars = 1000

// ExecutionContext identifies the call and conversation a tool invocation
// belongs to.
type ExecutionContext struct {
	CallID     string
	ToolCallID string
	UserID     string
	SessionID  string
	SessionKey string
	AgentID    string
}

// Definition describes one tool the host can execute.
type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// Executor runs host-owned tools on behalf of the model.
//
// Execute receives the tool name, its decoded arguments, and the execution
// context, and returns an arbitrary result that the bridge stringifies.
// Definitions lists every tool the host can actually run; tools without an
// executor entry are never advertised to the model.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any, ec ExecutionContext) (any, error)
	Definitions() []Definition
}

// ClampResult stringifies a tool result and clamps it to MaxResultChars.
func ClampResult(result any) string {
	var s string
	switch v := result.(type) {
	case string:
		s = v
	case nil:
		s = ""
	default:
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > MaxResultChars {
		s = s[:MaxResultChars]
	}
	return s
}
