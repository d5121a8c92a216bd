package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	agent  string
	prompt string
	result string
	err    error
}

func (r *stubRunner) RunSubagent(_ context.Context, agent, prompt string) (string, error) {
	r.agent = agent
	r.prompt = prompt
	return r.result, r.err
}

func TestTaskToolDelegates(t *testing.T) {
	runner := &stubRunner{result: "summary of findings"}
	tool := NewTaskTool(runner)

	res, err := tool.Exec(context.Background(), map[string]any{
		"agent":  "explorer",
		"prompt": "map the repository layout",
	})
	require.NoError(t, err)
	assert.Equal(t, "summary of findings", res.Content)
	assert.Equal(t, "explorer", runner.agent)
	assert.Equal(t, "map the repository layout", runner.prompt)
}

func TestTaskToolPropagatesRunnerError(t *testing.T) {
	runner := &stubRunner{err: errors.New("subagent depth limit reached")}
	tool := NewTaskTool(runner)

	_, err := tool.Exec(context.Background(), map[string]any{
		"agent":  "explorer",
		"prompt": "anything",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth limit")
}

func TestTaskToolArgValidation(t *testing.T) {
	tool := NewTaskTool(&stubRunner{})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing agent", map[string]any{"prompt": "p"}},
		{"missing prompt", map[string]any{"agent": "a"}},
		{"wrong type", map[string]any{"agent": 7, "prompt": "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Exec(context.Background(), tt.args)
			require.Error(t, err)
		})
	}
}
