package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/loomworks/loom/pkg/llm"
)

const (
	maxGlobResults = 200
	maxGrepMatches = 200
	// Lines longer than this are skipped by grep; they are almost always
	// minified or generated content.
	maxGrepLineBytes = 4096
)

// GlobTool finds files by glob pattern.
type GlobTool struct {
	root string
}

func NewGlobTool(root string) *GlobTool { return &GlobTool{root: root} }

// GlobArgs are the arguments for glob.
type GlobArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func (t *GlobTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching). Results are sorted by modification time, newest first.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern supporting ** for recursive matching, e.g. '**/*.go' or 'src/**/*.ts'",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory for the search (defaults to the project root)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

type globEntry struct {
	path    string
	modTime time.Time
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a GlobArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	base := a.Path
	if base == "" {
		base = "."
	}
	basePath, err := resolveWithinRoot(t.root, base)
	if err != nil {
		return nil, err
	}

	var entries []globEntry
	err = filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != basePath {
			return filepath.SkipDir
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, rel)
		if err != nil || !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, globEntry{path: rel, modTime: info.ModTime()})
		if len(entries) >= maxGlobResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return []ResultPart{TextPart("No files matched the pattern.")}, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.path)
		sb.WriteByte('\n')
	}
	if len(entries) >= maxGlobResults {
		sb.WriteString(fmt.Sprintf("[results truncated at %d files]\n", maxGlobResults))
	}
	return []ResultPart{TextPart(strings.TrimSuffix(sb.String(), "\n"))}, nil
}

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	root string
}

func NewGrepTool(root string) *GrepTool { return &GrepTool{root: root} }

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"`
}

func (t *GrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents with a Go regular expression. Returns matching lines as path:line:text.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression to search for",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory for the search (defaults to the project root)",
				},
				"include": map[string]any{
					"type":        "string",
					"description": "Glob limiting which files are searched, e.g. '**/*.go'",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) ([]ResultPart, error) {
	var a GrepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	base := a.Path
	if base == "" {
		base = "."
	}
	basePath, err := resolveWithinRoot(t.root, base)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != basePath {
			return filepath.SkipDir
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		if a.Include != "" {
			ok, err := doublestar.Match(a.Include, rel)
			if err != nil || !ok {
				return nil
			}
		}

		found, err := grepFile(re, path, rel, &matches)
		if err != nil {
			return nil
		}
		if found && len(matches) >= maxGrepMatches {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return []ResultPart{TextPart("No matches found.")}, nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= maxGrepMatches {
		out += fmt.Sprintf("\n[results truncated at %d matches]", maxGrepMatches)
	}
	return []ResultPart{TextPart(out)}, nil
}

func grepFile(re *regexp.Regexp, path, rel string, matches *[]string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	found := false
	reader := bufio.NewReaderSize(f, 64*1024)
	lineNum := 0
	for {
		line, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			return found, nil
		}
		if err != nil {
			return found, err
		}
		lineNum++

		// A line that overflows the reader buffer is drained and skipped
		// whole; matching a partial line would report garbage.
		tooLong := isPrefix
		for isPrefix {
			if _, isPrefix, err = reader.ReadLine(); err != nil {
				return found, nil
			}
		}
		if tooLong || len(line) > maxGrepLineBytes {
			continue
		}

		text := string(line)
		if !re.MatchString(text) {
			continue
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d:%s", rel, lineNum, text))
		found = true
		if len(*matches) >= maxGrepMatches {
			return true, nil
		}
	}
}
