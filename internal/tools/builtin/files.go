// Package builtin provides the small set of filesystem-exploration tools
// Muninn registers by default, mirroring the read/list primitives a coding
// agent's own tool surface exposes — useful as the RLM engine's tool
// dispatch target without requiring a caller to define any tools of its
// own.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/colliery-io/muninn/internal/tools"
)

// MaxReadBytes bounds how much of a file ReadFile returns, so a single
// tool call can't smuggle an unbounded amount of text into the
// conversation.
const MaxReadBytes = 256 * 1024

// ReadFile reads a UTF-8 text file relative to Root and returns its
// contents as a file result.
type ReadFile struct {
	Root string
}

func (ReadFile) Name() string        { return "read_file" }
func (ReadFile) Description() string { return "Read the contents of a file within the project." }
func (ReadFile) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the project root."},
		},
		"required": []any{"path"},
	}
}

func (t ReadFile) Execute(_ context.Context, input any) (tools.ResultContent, error) {
	path, ok := inputString(input, "path")
	if !ok {
		return tools.ErrorResult("read_file: missing required field \"path\"", true), nil
	}
	full, err := resolveWithin(t.Root, path)
	if err != nil {
		return tools.ErrorResult(err.Error(), true), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("read_file: %v", err), true), nil
	}
	if len(data) > MaxReadBytes {
		data = data[:MaxReadBytes]
	}
	return tools.FileResult(path, string(data), languageFor(path)), nil
}

// ListDirectory lists the immediate entries of a directory relative to
// Root, directories first, alphabetical within each group.
type ListDirectory struct {
	Root string
}

func (ListDirectory) Name() string { return "list_directory" }
func (ListDirectory) Description() string {
	return "List the immediate entries of a directory within the project."
}
func (ListDirectory) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path relative to the project root; \"\" for the root."},
		},
	}
}

func (t ListDirectory) Execute(_ context.Context, input any) (tools.ResultContent, error) {
	path, _ := inputString(input, "path")
	full, err := resolveWithin(t.Root, path)
	if err != nil {
		return tools.ErrorResult(err.Error(), true), nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("list_directory: %v", err), true), nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	names := make([]any, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return tools.JSONResult(names), nil
}

func inputString(input any, key string) (string, bool) {
	m, ok := input.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok && v != ""
}

// resolveWithin joins rel onto root and rejects any path that escapes it,
// since tool input comes from a model and must not be trusted to stay
// inside the project.
func resolveWithin(root, rel string) (string, error) {
	if root == "" {
		root = "."
	}
	full := filepath.Join(root, rel)
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	cleanFull, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", rel, err)
	}
	if cleanFull != cleanRoot && !strings.HasPrefix(cleanFull, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return cleanFull, nil
}

func languageFor(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}
