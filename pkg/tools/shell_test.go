package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellToolRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o644))

	tool := NewShellTool(dir)
	res, err := tool.Exec(context.Background(), map[string]any{"command": "cat marker.txt"})
	require.NoError(t, err)
	assert.Equal(t, "here", res.Content)
}

func TestShellToolReportsExitCode(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	res, err := tool.Exec(context.Background(), map[string]any{"command": "echo failing >&2; exit 3"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "failing")
	assert.Contains(t, res.Content, "[exit code 3]")
}

func TestShellToolTimeout(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	res, err := tool.Exec(context.Background(), map[string]any{
		"command":         "sleep 5",
		"timeout_seconds": 1,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "timed out")
}

func TestShellToolArgValidation(t *testing.T) {
	tool := NewShellTool(t.TempDir())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing command", map[string]any{}},
		{"empty command", map[string]any{"command": "   "}},
		{"wrong type", map[string]any{"command": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Exec(context.Background(), tt.args)
			require.Error(t, err)
		})
	}
}

func TestShellToolTruncatesLongOutput(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	res, err := tool.Exec(context.Background(), map[string]any{
		"command": "head -c 100000 /dev/zero | tr '\\0' 'x'",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Content), maxShellOutputBytes+100)
	assert.Contains(t, res.Content, "[output truncated]")
}
