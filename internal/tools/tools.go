// Package tools defines the tool interface and registry for nsbox.
// Tools declare their arguments as Schema descriptors; the dispatcher runs
// one generic validator against them before any handler executes.
package tools

import (
	"context"
	"sync"
)

// Tool is the interface all nsbox tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "unshare_exec").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Args returns the argument descriptors. The dispatcher validates
	// incoming params against them and renders them as the tool's
	// inputSchema in tools/list.
	Args() Schema

	// Execute runs the tool. Params have already passed Args().Validate.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	// Payload is the tool-specific result object returned to the caller
	// (e.g. exit_code/stdout/stderr for the exec tool).
	Payload map[string]any

	// Success is the tool's own notion of success, used for logging and
	// metrics. A sandboxed binary exiting nonzero is still a successful
	// call; its Success is false.
	Success bool
}

// MaxOutputBytes is the default cap for captured output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds available tools keyed by name, remembering registration
// order so tools/list is stable across calls.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}
