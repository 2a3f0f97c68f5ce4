package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":          "package main\nfunc main() {}\n",
		"util/strings.go":  "package util\nfunc Upper() {}\n",
		"util/strings.txt": "not go\n",
		".hidden/skip.go":  "package hidden\n",
	}
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestGlobRecursive(t *testing.T) {
	tool := NewGlobTool(seedTree(t))
	parts := mustExecute(t, tool, `{"pattern":"**/*.go"}`)

	out := parts[0].Text
	if !strings.Contains(out, "main.go") || !strings.Contains(out, filepath.Join("util", "strings.go")) {
		t.Fatalf("got %q", out)
	}
	if strings.Contains(out, "strings.txt") {
		t.Fatalf("non-matching file listed: %q", out)
	}
	if strings.Contains(out, "skip.go") {
		t.Fatalf("hidden directory should be skipped: %q", out)
	}
}

func TestGlobNoMatches(t *testing.T) {
	tool := NewGlobTool(seedTree(t))
	parts := mustExecute(t, tool, `{"pattern":"**/*.rs"}`)
	if parts[0].Text != "No files matched the pattern." {
		t.Fatalf("got %q", parts[0].Text)
	}
}

func TestGrepFindsLines(t *testing.T) {
	tool := NewGrepTool(seedTree(t))
	parts := mustExecute(t, tool, `{"pattern":"func \\w+","include":"**/*.go"}`)

	out := parts[0].Text
	if !strings.Contains(out, "main.go:2:func main() {}") {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, "strings.go:2:func Upper() {}") {
		t.Fatalf("got %q", out)
	}
	if strings.Contains(out, "strings.txt") {
		t.Fatalf("include filter ignored: %q", out)
	}
}

func TestGrepSkipsLongLinesAndContinues(t *testing.T) {
	root := t.TempDir()
	long := "needle " + strings.Repeat("x", 200*1024)
	content := long + "\nshort needle line\n"
	if err := os.WriteFile(filepath.Join(root, "mixed.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewGrepTool(root)
	parts := mustExecute(t, tool, `{"pattern":"needle"}`)

	out := parts[0].Text
	if !strings.Contains(out, "mixed.txt:2:short needle line") {
		t.Fatalf("scan must continue past an over-long line, got %q", out)
	}
	if strings.Count(out, "needle") != 1 {
		t.Fatalf("over-long line must be skipped, not matched: %q", out)
	}
}

func TestGrepInvalidPattern(t *testing.T) {
	tool := NewGrepTool(seedTree(t))
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"(unclosed"}`)); err == nil {
		t.Fatal("expected error for invalid regexp")
	}
}

func TestShellRunsCommand(t *testing.T) {
	tool, err := NewShellTool(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	parts := mustExecute(t, tool, `{"command":"echo hello"}`)
	if parts[0].Value["stdout"] != "hello\n" {
		t.Fatalf("got %v", parts[0].Value)
	}
	if parts[0].Value["exit_code"] != 0 {
		t.Fatalf("got %v", parts[0].Value)
	}
}

func TestShellNonZeroExit(t *testing.T) {
	tool, err := NewShellTool(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	parts := mustExecute(t, tool, `{"command":"exit 3"}`)
	if parts[0].Value["exit_code"] != 3 {
		t.Fatalf("got %v", parts[0].Value)
	}
}

func TestShellAllowlist(t *testing.T) {
	tool, err := NewShellTool(t.TempDir(), []string{"git *", "ls*"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"rm -rf /"}`)); err == nil {
		t.Fatal("disallowed command must be rejected")
	}
	if parts := mustExecute(t, tool, `{"command":"ls"}`); parts[0].IsError() {
		t.Fatalf("allowed command failed: %v", parts[0].Value)
	}
}
