// Package tools implements a reference in-process tool server: a
// Registry of named executors that a stdio JSON-RPC front end (see
// cmd/demo-tool-server) exposes to the bot's toolserver.Manager exactly
// like any other MCP-style child process.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutorFunc runs one tool invocation against decoded arguments.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Def is a tool's declared capability plus its executor, mirroring the
// shape the manager's tools/list discovery expects over the wire.
type Def struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Exec        ExecutorFunc
}

// Registry stores tool definitions keyed by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Def
}

// DefaultRegistry is the registry cmd/demo-tool-server serves by default.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Def)}
}

// Register adds a tool definition.
func (r *Registry) Register(def Def) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("executor already registered for %s", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// List returns every registered tool definition, for answering tools/list.
func (r *Registry) List() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Def, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Execute runs the named tool's executor.
func (r *Registry) Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	def, ok := r.defs[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for %s", toolName)
	}
	return def.Exec(ctx, args)
}

// Register adds a tool definition to DefaultRegistry.
func Register(def Def) error {
	return DefaultRegistry.Register(def)
}

// MustRegister adds a tool definition to DefaultRegistry or panics.
func MustRegister(def Def) {
	if err := Register(def); err != nil {
		panic(err)
	}
}
