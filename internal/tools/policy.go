package tools

// Default tool sets for voice sessions. The allow side covers fast,
// read-mostly operations a caller can reasonably wait through; the deny side
// covers anything interactive, destructive, or long-running.
var (
	defaultAllow = []string{
		"memory_search",
		"context_lookup",
		"knowledge_lookup",
		"agent_delegate",
		"reminder_create",
		"reminder_list",
	}

	defaultDeny = []string{
		"file_read",
		"file_write",
		"shell_exec",
		"code_execute",
		"browser_open",
		"browser_interact",
		"git_commit",
		"git_push",
		"deploy",
	}
)

// Policy decides which tools may be advertised to a voice session.
//
// A configured allow list replaces the default allow set; a configured deny
// list is unioned with the default deny set. Deny always wins over allow.
type Policy struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewPolicy builds a Policy from the configured allow and deny lists. Nil or
// empty slices keep the defaults.
func NewPolicy(allow, deny []string) *Policy {
	p := &Policy{
		allow: make(map[string]bool),
		deny:  make(map[string]bool),
	}

	src := defaultAllow
	if len(allow) > 0 {
		src = allow
	}
	for _, name := range src {
		p.allow[name] = true
	}

	for _, name := range defaultDeny {
		p.deny[name] = true
	}
	for _, name := range deny {
		p.deny[name] = true
	}
	return p
}

// Permitted reports whether a tool may be advertised.
func (p *Policy) Permitted(name string) bool {
	if p.deny[name] {
		return false
	}
	return p.allow[name]
}

// Filter returns the subset of defs that pass the policy. Tools the host
// cannot execute never reach this point: defs must come from the executor's
// own Definitions.
func (p *Policy) Filter(defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if p.Permitted(d.Name) {
			out = append(out, d)
		}
	}
	return out
}
