package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/loom/pkg/llm"
)

// Built-in tool names.
const (
	ReadFileToolName      = "read_file"
	WriteFileToolName     = "write_file"
	EditFileToolName      = "edit_file"
	ListDirectoryToolName = "list_directory"
	GlobToolName          = "glob"
	GrepToolName          = "grep"
	ShellToolName         = "shell"
)

const (
	// maxReadBytes caps how much of one file a read returns.
	maxReadBytes = 256 * 1024
	// maxListEntries caps directory listing size.
	maxListEntries = 500
)

// ReadFileTool returns file contents, optionally a line range.
type ReadFileTool struct {
	root string
}

func NewReadFileTool(root string) *ReadFileTool { return &ReadFileTool{root: root} }

// ReadFileArgs are the arguments for read_file.
type ReadFileArgs struct {
	Path      string `json:"path"`
	Offset    int    `json:"offset,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read a file from the project. Optionally pass a 1-based line offset and a line count to read a slice of a large file.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path, absolute or relative to the project root",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-based line number to start reading from",
				},
				"line_count": map[string]any{
					"type":        "integer",
					"description": "Number of lines to read from offset",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a ReadFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	path, err := resolveWithinRoot(t.root, a.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	content := string(data)

	if a.Offset > 0 || a.LineCount > 0 {
		lines := strings.Split(content, "\n")
		start := a.Offset - 1
		if start < 0 {
			start = 0
		}
		if start >= len(lines) {
			return []ResultPart{TextPart("")}, nil
		}
		end := len(lines)
		if a.LineCount > 0 && start+a.LineCount < end {
			end = start + a.LineCount
		}
		content = strings.Join(lines[start:end], "\n")
	}

	if truncated {
		content += fmt.Sprintf("\n[truncated at %d bytes]", maxReadBytes)
	}
	return []ResultPart{TextPart(content)}, nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	root string
}

func NewWriteFileTool(root string) *WriteFileTool { return &WriteFileTool{root: root} }

// WriteFileArgs are the arguments for write_file.
type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteFileToolName,
		Description: "Write content to a file, creating it and any missing parent directories. Overwrites existing content.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path, absolute or relative to the project root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	path, err := resolveWithinRoot(t.root, a.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return nil, err
	}

	return []ResultPart{JSONPart(map[string]any{
		"path":          a.Path,
		"bytes_written": len(a.Content),
	})}, nil
}

// ListDirectoryTool lists one directory level.
type ListDirectoryTool struct {
	root string
}

func NewListDirectoryTool(root string) *ListDirectoryTool { return &ListDirectoryTool{root: root} }

// ListDirectoryArgs are the arguments for list_directory.
type ListDirectoryArgs struct {
	Path string `json:"path,omitempty"`
}

func (t *ListDirectoryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ListDirectoryToolName,
		Description: "List the entries of a directory. Directories are suffixed with a slash.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list (defaults to the project root)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a ListDirectoryArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	target := a.Path
	if target == "" {
		target = "."
	}

	path, err := resolveWithinRoot(t.root, target)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	truncated := false
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
		if len(names) >= maxListEntries {
			truncated = true
			break
		}
	}
	sort.Strings(names)
	if truncated {
		names = append(names, fmt.Sprintf("[truncated at %d entries]", maxListEntries))
	}

	if len(names) == 0 {
		return []ResultPart{TextPart("(empty directory)")}, nil
	}
	return []ResultPart{TextPart(strings.Join(names, "\n"))}, nil
}
