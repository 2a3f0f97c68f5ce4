package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/gobwas/glob"

	"github.com/loomworks/loom/pkg/llm"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 5 * time.Minute
	maxShellOutput      = 64 * 1024
)

// ShellTool executes a command through the shell, subject to an allowlist
// of command patterns.
type ShellTool struct {
	root  string
	allow []glob.Glob
}

// NewShellTool creates a shell tool rooted at root. allowPatterns are glob
// patterns matched against the full command line; an empty list permits
// everything.
func NewShellTool(root string, allowPatterns []string) (*ShellTool, error) {
	t := &ShellTool{root: root}
	for _, p := range allowPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid shell allow pattern %q: %w", p, err)
		}
		t.allow = append(t.allow, g)
	}
	return t, nil
}

// ShellArgs are the arguments for the shell tool.
type ShellArgs struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ShellResult is the structured outcome of a command.
type ShellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *ShellTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ShellToolName,
		Description: "Execute a shell command in the project root. Returns stdout, stderr, and exit code.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 30, max: 300)",
					"default":     30,
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a ShellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if !t.allowed(a.Command) {
		return nil, fmt.Errorf("command not permitted by configuration: %s", truncateCommand(a.Command))
	}

	timeout := defaultShellTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = t.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := ShellResult{
		Stdout:   capOutput(stdout.String()),
		Stderr:   capOutput(stderr.String()),
		TimedOut: ctx.Err() == context.DeadlineExceeded,
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else if !result.TimedOut {
			return nil, runErr
		} else {
			result.ExitCode = -1
		}
	}

	return []ResultPart{JSONPart(map[string]any{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	})}, nil
}

func (t *ShellTool) allowed(command string) bool {
	if len(t.allow) == 0 {
		return true
	}
	for _, g := range t.allow {
		if g.Match(command) {
			return true
		}
	}
	return false
}

func truncateCommand(command string) string {
	if len(command) > 50 {
		return command[:47] + "..."
	}
	return command
}

func capOutput(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + fmt.Sprintf("\n[output truncated at %d bytes]", maxShellOutput)
}

// DefaultBuiltins assembles the standard built-in tool set for a project
// root.
func DefaultBuiltins(root string, shellAllow []string) ([]Tool, error) {
	shell, err := NewShellTool(root, shellAllow)
	if err != nil {
		return nil, err
	}
	return []Tool{
		NewReadFileTool(root),
		NewWriteFileTool(root),
		NewEditFileTool(root),
		NewListDirectoryTool(root),
		NewGlobTool(root),
		NewGrepTool(root),
		shell,
	}, nil
}
