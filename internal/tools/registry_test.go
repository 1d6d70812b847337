package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryExecutesRegisteredTool(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Def{
		Name: "echo",
		Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	out, err := r.Execute(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(out) != `{"x":1}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRegistryRejectsUnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	def := Def{Name: "dup", Exec: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}}
	if err := r.Register(def); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Fatalf("expected error registering duplicate tool")
	}
}

func TestBuiltinToolsAreDiscoverable(t *testing.T) {
	defs := DefaultRegistry.List()
	found := map[string]bool{}
	for _, d := range defs {
		found[d.Name] = true
	}
	for _, name := range []string{"query", "transfer", "run_shell_command"} {
		if !found[name] {
			t.Fatalf("expected builtin tool %q to be registered", name)
		}
	}
}
