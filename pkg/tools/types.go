// Package tools resolves and executes tool calls requested by the model:
// caller-supplied overrides, custom tool definitions, built-in file and
// shell tools, and remote MCP tools. Execution is total: every call yields
// a result list, with handler failures encoded in-band rather than raised.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loomworks/loom/pkg/llm"
)

// ResultPartType tags one entry of a tool result.
type ResultPartType string

const (
	ResultJSON  ResultPartType = "json"
	ResultText  ResultPartType = "text"
	ResultImage ResultPartType = "image"
)

// ResultPart is one typed entry in a tool call's result list.
type ResultPart struct {
	Type ResultPartType `json:"type"`
	Text string         `json:"text,omitempty"`
	// Value carries structured output for json parts. Failed executions
	// are a json part whose Value has an "errorMessage" key.
	Value map[string]any `json:"value,omitempty"`
	// Data and MediaType carry base64 image content for image parts,
	// as returned by MCP servers.
	Data      string `json:"data,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// ErrorPart encodes a failure as a result part, keeping the agent's view
// of tool execution total.
func ErrorPart(message string) ResultPart {
	return ResultPart{
		Type:  ResultJSON,
		Value: map[string]any{"errorMessage": message},
	}
}

// JSONPart wraps a structured value.
func JSONPart(value map[string]any) ResultPart {
	return ResultPart{Type: ResultJSON, Value: value}
}

// TextPart wraps plain text output.
func TextPart(text string) ResultPart {
	return ResultPart{Type: ResultText, Text: text}
}

// ImagePart wraps base64-encoded image data.
func ImagePart(data, mediaType string) ResultPart {
	return ResultPart{Type: ResultImage, Data: data, MediaType: mediaType}
}

// IsError reports whether the part carries an errorMessage.
func (p ResultPart) IsError() bool {
	if p.Type != ResultJSON || p.Value == nil {
		return false
	}
	_, ok := p.Value["errorMessage"]
	return ok
}

// Encode renders a result list as the string content fed back to the
// model.
func Encode(parts []ResultPart) string {
	if len(parts) == 1 && parts[0].Type == ResultText {
		return parts[0].Text
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return fmt.Sprintf("[unencodable tool result: %v]", err)
	}
	return string(data)
}

// CallRequest is a validated tool invocation handed to the dispatcher.
type CallRequest struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	// MCPServer pins the call to a named remote server, bypassing tool-name
	// routing. A pin to a server that is not connected fails the call.
	MCPServer string
}

// Handler is the contract for caller-supplied overrides and custom tool
// handlers. The dispatcher always awaits it and catches its failure.
type Handler func(ctx context.Context, input json.RawMessage) ([]ResultPart, error)

// CustomTool is a caller-defined tool: a spec the model sees plus the
// handler that serves it.
type CustomTool struct {
	Spec    llm.ToolSpec
	Handler Handler
}

// Tool is a built-in implementation.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, input json.RawMessage) ([]ResultPart, error)
}

// resolveWithinRoot joins path against root and rejects results escaping
// it. Built-ins require a working-directory root; tool output must never
// reference files outside of it.
func resolveWithinRoot(root, path string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no working directory root configured")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", path)
	}
	return resolved, nil
}
