package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustExecute(t *testing.T, tool Tool, input string) []ResultPart {
	t.Helper()
	parts, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatalf("%s: %v", tool.Spec().Name, err)
	}
	return parts
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("line1\nline2\nline3"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(root)
	parts := mustExecute(t, tool, `{"path":"hello.txt"}`)
	if parts[0].Text != "line1\nline2\nline3" {
		t.Fatalf("got %q", parts[0].Text)
	}

	parts = mustExecute(t, tool, `{"path":"hello.txt","offset":2,"line_count":1}`)
	if parts[0].Text != "line2" {
		t.Fatalf("got %q", parts[0].Text)
	}
}

func TestReadFileMissing(t *testing.T) {
	tool := NewReadFileTool(t.TempDir())
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"absent.txt"}`)); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	root := t.TempDir()
	tool := NewWriteFileTool(root)

	input, _ := json.Marshal(WriteFileArgs{Path: "a/b/c.txt", Content: "nested"})
	parts := mustExecute(t, tool, string(input))
	if parts[0].Value["bytes_written"] != 6 {
		t.Fatalf("got %v", parts[0].Value)
	}

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "nested" {
		t.Fatalf("got %q", data)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	root := t.TempDir()
	for _, tool := range []Tool{
		NewReadFileTool(root),
		NewWriteFileTool(root),
		NewListDirectoryTool(root),
	} {
		input := `{"path":"../../etc/passwd","content":"x"}`
		if _, err := tool.Execute(context.Background(), json.RawMessage(input)); err == nil {
			t.Errorf("%s: expected root escape to be rejected", tool.Spec().Name)
		}
	}
}

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	os.Mkdir(filepath.Join(root, "sub"), 0o755)

	tool := NewListDirectoryTool(root)
	parts := mustExecute(t, tool, `{}`)
	lines := strings.Split(parts[0].Text, "\n")
	want := []string{"a.txt", "b.txt", "sub/"}
	if len(lines) != len(want) {
		t.Fatalf("got %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("got %v want %v", lines, want)
		}
	}
}

func TestListDirectoryTruncationMarkerSortsLast(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < maxListEntries+10; i++ {
		name := fmt.Sprintf("file-%04d.txt", i)
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tool := NewListDirectoryTool(root)
	parts := mustExecute(t, tool, `{}`)
	lines := strings.Split(parts[0].Text, "\n")

	if len(lines) != maxListEntries+1 {
		t.Fatalf("expected %d entries plus marker, got %d", maxListEntries, len(lines))
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "[truncated") {
		t.Fatalf("truncation marker must be the final line, got %q", last)
	}
	for _, line := range lines[:len(lines)-1] {
		if strings.HasPrefix(line, "[truncated") {
			t.Fatal("truncation marker sorted into the listing")
		}
	}
}

func TestEditFileSingleReplacement(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "code.go")
	os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644)

	tool := NewEditFileTool(root)
	input, _ := json.Marshal(EditFileArgs{Path: "code.go", OldString: "beta", NewString: "BETA"})
	parts := mustExecute(t, tool, string(input))

	data, _ := os.ReadFile(path)
	if string(data) != "alpha\nBETA\ngamma\n" {
		t.Fatalf("got %q", data)
	}
	if parts[0].Value["replacements"] != 1 {
		t.Fatalf("got %v", parts[0].Value)
	}
	// The second part is a unified diff of the change.
	if len(parts) != 2 || !strings.Contains(parts[1].Text, "-beta") || !strings.Contains(parts[1].Text, "+BETA") {
		t.Fatalf("expected unified diff, got %+v", parts)
	}
}

func TestEditFileAmbiguousWithoutReplaceAll(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "f.txt"), []byte("x x x"), 0o644)

	tool := NewEditFileTool(root)
	input, _ := json.Marshal(EditFileArgs{Path: "f.txt", OldString: "x", NewString: "y"})
	if _, err := tool.Execute(context.Background(), json.RawMessage(input)); err == nil {
		t.Fatal("ambiguous old_string must be rejected")
	}

	input, _ = json.Marshal(EditFileArgs{Path: "f.txt", OldString: "x", NewString: "y", ReplaceAll: true})
	mustExecute(t, tool, string(input))
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "y y y" {
		t.Fatalf("got %q", data)
	}
}
