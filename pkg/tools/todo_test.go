package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTodoReadEmpty(t *testing.T) {
	tool := NewTodoTool()
	res, err := tool.Exec(context.Background(), map[string]any{"action": "read"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "empty")
}

func TestTodoWriteThenRead(t *testing.T) {
	tool := NewTodoTool()

	res, err := tool.Exec(context.Background(), map[string]any{
		"action":  "write",
		"content": "- [ ] add tests\n- [x] wire registry",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "updated")

	res, err = tool.Exec(context.Background(), map[string]any{"action": "read"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "add tests")
	assert.Contains(t, res.Content, "wire registry")
}

func TestTodoUnknownAction(t *testing.T) {
	tool := NewTodoTool()
	_, err := tool.Exec(context.Background(), map[string]any{"action": "append"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append")
}
