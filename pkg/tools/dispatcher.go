package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/mcp"
)

// ErrUnknownTool marks a call to a tool nothing in the run provides. This
// is a configuration error and terminates the run; every other failure is
// reported in-band as a result part.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatcher routes validated tool calls to their implementation. For each
// call, resolution walks in order: the MCP tool index, caller-supplied
// overrides, built-in tools, then custom tool definitions.
type Dispatcher struct {
	log       zerolog.Logger
	mcp       *mcp.Manager
	overrides map[string]Handler
	builtins  map[string]Tool
	custom    map[string]CustomTool
}

// DispatcherConfig assembles a dispatcher. Any field may be nil.
type DispatcherConfig struct {
	MCP       *mcp.Manager
	Overrides map[string]Handler
	Builtins  []Tool
	Custom    []CustomTool
	Logger    zerolog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		log:       cfg.Logger,
		mcp:       cfg.MCP,
		overrides: cfg.Overrides,
		builtins:  make(map[string]Tool),
		custom:    make(map[string]CustomTool),
	}
	for _, t := range cfg.Builtins {
		d.builtins[t.Spec().Name] = t
	}
	for _, t := range cfg.Custom {
		d.custom[t.Spec.Name] = t
	}
	return d
}

// Specs returns the tool specs the model should be offered: built-ins,
// custom definitions, and MCP-advertised tools. Overrides replace the
// execution of a name, not its advertised spec.
func (d *Dispatcher) Specs() []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, t := range d.builtins {
		specs = append(specs, t.Spec())
	}
	for _, t := range d.custom {
		specs = append(specs, t.Spec)
	}
	if d.mcp != nil {
		for _, t := range d.mcp.Tools() {
			specs = append(specs, llm.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Schema:      t.Schema,
			})
		}
	}
	return specs
}

// Dispatch executes one tool call. The returned error is non-nil only for
// ErrUnknownTool; execution failures of a resolved tool come back as an
// error part so the model can react to them.
func (d *Dispatcher) Dispatch(ctx context.Context, call CallRequest) ([]ResultPart, error) {
	if call.MCPServer != "" {
		// A pinned server is honored or failed; silently falling back to a
		// local tool of the same name would run the wrong implementation.
		if d.mcp != nil {
			if client, ok := d.mcp.Client(call.MCPServer); ok {
				return d.dispatchMCP(ctx, client, call), nil
			}
		}
		return nil, fmt.Errorf("%w: %s (MCP server %q not connected)", ErrUnknownTool, call.ToolName, call.MCPServer)
	}
	if d.mcp != nil {
		if client, ok := d.mcp.Route(call.ToolName); ok {
			return d.dispatchMCP(ctx, client, call), nil
		}
	}
	if handler, ok := d.overrides[call.ToolName]; ok {
		return d.runHandler(ctx, call, handler), nil
	}
	if tool, ok := d.builtins[call.ToolName]; ok {
		return d.runHandler(ctx, call, tool.Execute), nil
	}
	if custom, ok := d.custom[call.ToolName]; ok {
		if parts := validateInput(call, custom.Spec.Schema); parts != nil {
			return parts, nil
		}
		return d.runHandler(ctx, call, custom.Handler), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolName)
}

// dispatchMCP delegates to the owning MCP server. Remote results pass
// through untouched; a remote IsError flag becomes an error part.
func (d *Dispatcher) dispatchMCP(ctx context.Context, client *mcp.Client, call CallRequest) []ResultPart {
	result, err := client.CallTool(ctx, call.ToolName, call.Input)
	if err != nil {
		d.log.Warn().Err(err).Str("tool", call.ToolName).Str("server", client.Name()).
			Msg("MCP tool call failed")
		return []ResultPart{ErrorPart(err.Error())}
	}
	if result.IsError {
		return []ResultPart{ErrorPart(result.Content)}
	}
	parts := []ResultPart{TextPart(result.Content)}
	for _, img := range result.Images {
		parts = append(parts, ImagePart(img.Data, img.MIMEType))
	}
	return parts
}

// runHandler invokes a handler and converts every failure mode, panics
// included, into an error part.
func (d *Dispatcher) runHandler(ctx context.Context, call CallRequest, handler Handler) (parts []ResultPart) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", call.ToolName).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("tool handler panicked")
			parts = []ResultPart{ErrorPart(fmt.Sprintf("tool %s panicked: %v", call.ToolName, r))}
		}
	}()

	result, err := handler(ctx, call.Input)
	if err != nil {
		return []ResultPart{ErrorPart(err.Error())}
	}
	if len(result) == 0 {
		return []ResultPart{TextPart("")}
	}
	return result
}

// validateInput checks a custom tool's input against its declared schema.
// Built-ins validate their own input when decoding; overrides are trusted
// to handle whatever the model produced.
func validateInput(call CallRequest, schema map[string]any) []ResultPart {
	if len(schema) == 0 {
		return nil
	}
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(input),
	)
	if err != nil {
		return []ResultPart{ErrorPart(fmt.Sprintf("invalid tool input: %v", err))}
	}
	if !result.Valid() {
		return []ResultPart{ErrorPart(fmt.Sprintf("tool input failed validation: %v", result.Errors()))}
	}
	return nil
}
