// Package toolspec describes the boundary this runtime shares with external
// tool-protocol servers. The servers themselves, and the concrete tools they
// expose, are out of scope for the core — only the shapes of a capability, a
// call and its result (with an optional file diff), a capability registry,
// and the allow/deny pattern match applied before each tool call live here.
package toolspec

import "encoding/json"

// Capability describes one tool exposed by an external tool-protocol server.
// The core never executes a Capability; it only needs enough shape to
// surface a tool_use block and forward a call to whatever server advertised
// it.
type Capability struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Call is one invocation the SessionManager observed on the LLM client's
// stream: a tool name plus its (possibly still-streaming) input.
type Call struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
	// CWD is the session's working directory; tools that touch the
	// filesystem run relative to it.
	CWD string `json:"cwd,omitempty"`
}

// CallResult is the outcome of dispatching a Call to its owning server.
// The core only threads this back into the transcript; it never produces
// one itself. Diff is set by dispatchers whose tool rewrote a file.
type CallResult struct {
	CallID  string    `json:"callId"`
	Output  string    `json:"output"`
	IsError bool      `json:"isError"`
	Diff    *FileDiff `json:"diff,omitempty"`
}

// Registry tracks the capability list advertised by external tool-protocol
// servers for one session's working directory. It is populated by whatever
// adapter talks to those servers; the core's permission checks do not
// consult it, they match tool names with Allowed.
type Registry struct {
	capabilities map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]Capability)}
}

// Register records a capability advertised by an external server.
func (r *Registry) Register(c Capability) {
	r.capabilities[c.Name] = c
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.capabilities[name]
	return c, ok
}

// Names returns every registered capability name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.capabilities))
	for n := range r.capabilities {
		names = append(names, n)
	}
	return names
}
