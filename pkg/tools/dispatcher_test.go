package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/mcp"
)

type staticTool struct {
	name string
	out  string
}

func (t *staticTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: "static"}
}

func (t *staticTool) Execute(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
	return []ResultPart{TextPart(t.out)}, nil
}

func newTestDispatcher(cfg DispatcherConfig) *Dispatcher {
	cfg.Logger = zerolog.Nop()
	return NewDispatcher(cfg)
}

func TestDispatchUnknownToolIsFatal(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{})
	_, err := d.Dispatch(context.Background(), CallRequest{ToolName: "nope"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDispatchServerPinNeverFallsBack(t *testing.T) {
	// A pin to a server that is not connected must fail the call, even
	// when a local tool shares the name.
	d := newTestDispatcher(DispatcherConfig{
		MCP:      mcp.NewManager(zerolog.Nop()),
		Builtins: []Tool{&staticTool{name: "search", out: "local result"}},
	})

	_, err := d.Dispatch(context.Background(), CallRequest{
		ToolName:  "search",
		MCPServer: "ghost",
	})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool for a dead server pin, got %v", err)
	}

	// Without the pin the local tool still serves the name.
	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "search"})
	if err != nil || parts[0].Text != "local result" {
		t.Fatalf("got %v, %v", parts, err)
	}
}

func TestDispatchServerPinWithoutManagerIsFatal(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{})
	_, err := d.Dispatch(context.Background(), CallRequest{
		ToolName:  "anything",
		MCPServer: "fs",
	})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDispatchHandlerErrorBecomesErrorPart(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{
		Custom: []CustomTool{{
			Spec: llm.ToolSpec{Name: "failing"},
			Handler: func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				return nil, errors.New("disk on fire")
			},
		}},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "failing"})
	if err != nil {
		t.Fatalf("handler failure must not escape the dispatcher: %v", err)
	}
	if len(parts) == 0 {
		t.Fatal("expected at least one result part")
	}
	if !parts[0].IsError() {
		t.Fatalf("expected an error part, got %+v", parts[0])
	}
	if parts[0].Value["errorMessage"] != "disk on fire" {
		t.Fatalf("got %v", parts[0].Value)
	}
}

func TestDispatchHandlerPanicBecomesErrorPart(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{
		Overrides: map[string]Handler{
			"panicky": func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				panic("boom")
			},
		},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "panicky"})
	if err != nil {
		t.Fatalf("panic must not escape the dispatcher: %v", err)
	}
	if len(parts) != 1 || !parts[0].IsError() {
		t.Fatalf("expected a single error part, got %+v", parts)
	}
}

func TestDispatchOverrideBeatsBuiltinAndCustom(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{
		Overrides: map[string]Handler{
			"echo": func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				return []ResultPart{TextPart("override")}, nil
			},
		},
		Builtins: []Tool{&staticTool{name: "echo", out: "builtin"}},
		Custom: []CustomTool{{
			Spec: llm.ToolSpec{Name: "echo"},
			Handler: func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				return []ResultPart{TextPart("custom")}, nil
			},
		}},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if Encode(parts) != "override" {
		t.Fatalf("expected the override to win, got %q", Encode(parts))
	}
}

func TestDispatchBuiltinBeatsCustom(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{
		Builtins: []Tool{&staticTool{name: "echo", out: "builtin"}},
		Custom: []CustomTool{{
			Spec: llm.ToolSpec{Name: "echo"},
			Handler: func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				return []ResultPart{TextPart("custom")}, nil
			},
		}},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if Encode(parts) != "builtin" {
		t.Fatalf("expected the built-in to win, got %q", Encode(parts))
	}
}

func TestDispatchCustomInputValidation(t *testing.T) {
	invoked := false
	d := newTestDispatcher(DispatcherConfig{
		Custom: []CustomTool{{
			Spec: llm.ToolSpec{
				Name: "adder",
				Schema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"n": map[string]interface{}{"type": "integer"},
					},
					"required": []string{"n"},
				},
			},
			Handler: func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				invoked = true
				return []ResultPart{TextPart("ok")}, nil
			},
		}},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{
		ToolName: "adder",
		Input:    json.RawMessage(`{"n":"seven"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !parts[0].IsError() {
		t.Fatal("schema mismatch should produce an error part")
	}
	if invoked {
		t.Fatal("handler must not run on invalid input")
	}

	parts, err = d.Dispatch(context.Background(), CallRequest{
		ToolName: "adder",
		Input:    json.RawMessage(`{"n":7}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if Encode(parts) != "ok" || !invoked {
		t.Fatal("valid input should reach the handler")
	}
}

func TestDispatchEmptyResultNormalized(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{
		Custom: []CustomTool{{
			Spec: llm.ToolSpec{Name: "silent"},
			Handler: func(ctx context.Context, input json.RawMessage) ([]ResultPart, error) {
				return nil, nil
			},
		}},
	})

	parts, err := d.Dispatch(context.Background(), CallRequest{ToolName: "silent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 {
		t.Fatalf("every call must yield a result list, got %d parts", len(parts))
	}
}

func TestEncodeSingleTextIsRaw(t *testing.T) {
	if got := Encode([]ResultPart{TextPart("plain")}); got != "plain" {
		t.Fatalf("got %q", got)
	}

	got := Encode([]ResultPart{JSONPart(map[string]any{"k": "v"})})
	var decoded []ResultPart
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("multi/structured results should encode as JSON: %v", err)
	}
	if decoded[0].Value["k"] != "v" {
		t.Fatalf("got %v", decoded)
	}
}
