package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/loomworks/loom/pkg/llm"
)

// EditFileTool performs exact string replacement in a file and reports the
// change as a unified diff.
type EditFileTool struct {
	root string
}

func NewEditFileTool(root string) *EditFileTool { return &EditFileTool{root: root} }

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditFileToolName,
		Description: "Replace an exact string in a file. old_string must appear exactly once unless replace_all is set. Returns a unified diff of the change.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path, absolute or relative to the project root",
				},
				"old_string": map[string]any{
					"type":        "string",
					"description": "Exact text to replace, including indentation",
				},
				"new_string": map[string]any{
					"type":        "string",
					"description": "Replacement text",
				},
				"replace_all": map[string]any{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring uniqueness",
				},
			},
			"required":             []string{"path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if a.OldString == a.NewString {
		return nil, fmt.Errorf("old_string and new_string are identical")
	}

	path, err := resolveWithinRoot(t.root, a.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)

	count := strings.Count(content, a.OldString)
	switch {
	case count == 0:
		return nil, fmt.Errorf("old_string not found in %s", a.Path)
	case count > 1 && !a.ReplaceAll:
		return nil, fmt.Errorf("old_string appears %d times in %s; pass replace_all or make it unique", count, a.Path)
	}

	var updated string
	if a.ReplaceAll {
		updated = strings.ReplaceAll(content, a.OldString, a.NewString)
	} else {
		updated = strings.Replace(content, a.OldString, a.NewString, 1)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return nil, err
	}

	patch := diff.Diff(a.Path, []byte(content), a.Path, []byte(updated))
	return []ResultPart{
		JSONPart(map[string]any{
			"path":         a.Path,
			"replacements": count,
		}),
		TextPart(string(patch)),
	}, nil
}
