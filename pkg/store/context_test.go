package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCounter counts one token per byte so estimates are easy to check.
type stubCounter struct{}

func (stubCounter) Count(text string) int { return len(text) }

func testEstimator() *Estimator { return NewEstimator(stubCounter{}) }

func TestEstimatorCountsParts(t *testing.T) {
	e := testEstimator()

	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Text: &TextPart{Text: "hello"}},
			{Thinking: &ThinkingPart{Text: "hmm"}},
			{ToolCall: &ToolCallPart{ID: "tc-1", Tool: "shell"}},
		},
	}

	want := perMessageOverhead + len("hello") + len("hmm") + len("shell")
	assert.Equal(t, want, e.EstimateMessage(&msg))
}

func TestEstimatorCountsToolResults(t *testing.T) {
	e := testEstimator()

	msg := Message{
		Role:  RoleTool,
		Parts: []Part{{ToolResult: &ToolResultPart{ToolCallID: "tc-1", Tool: "shell", Output: "ok"}}},
	}
	assert.Equal(t, perMessageOverhead+len("ok"), e.EstimateMessage(&msg))
}

func TestContextAppendKeepsEstimateIncremental(t *testing.T) {
	e := testEstimator()
	ctx := NewContext(e)

	ctx.Append(NewUserMessage("first question", time.Now()))
	ctx.Append(Message{Role: RoleAssistant, Parts: []Part{{Text: &TextPart{Text: "an answer"}}}})
	require.NoError(t, ctx.AppendPartToLast(Part{Text: &TextPart{Text: " and more"}}))

	assert.Equal(t, e.Estimate(ctx.Messages()), ctx.Estimate())
	assert.Equal(t, 2, ctx.Len())
}

func TestContextAppendPartToLastEmpty(t *testing.T) {
	ctx := NewContext(testEstimator())
	err := ctx.AppendPartToLast(Part{Text: &TextPart{Text: "orphan"}})
	require.Error(t, err)
}

func TestContextCompactPrefix(t *testing.T) {
	e := testEstimator()
	ctx := NewContext(e)
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		ctx.Append(NewUserMessage(text, time.Now()))
	}

	summary := NewSummaryMessage("earlier: one through three", time.Now())
	require.NoError(t, ctx.CompactPrefix(3, summary))

	msgs := ctx.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Summary)
	assert.Equal(t, "earlier: one through three", msgs[0].TextContent())
	assert.Equal(t, "four", msgs[1].TextContent())
	assert.Equal(t, "five", msgs[2].TextContent())
	assert.Equal(t, 1, ctx.Compactions())
	assert.Equal(t, e.Estimate(msgs), ctx.Estimate())
}

func TestContextCompactPrefixOutOfRange(t *testing.T) {
	ctx := NewContext(testEstimator())
	ctx.Append(NewUserMessage("only", time.Now()))

	tests := []struct {
		name     string
		replaced int
	}{
		{"zero", 0},
		{"negative", -1},
		{"beyond end", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ctx.CompactPrefix(tt.replaced, NewSummaryMessage("s", time.Now()))
			require.Error(t, err)
		})
	}
}

func TestMessagesReturnsCopies(t *testing.T) {
	ctx := NewContext(testEstimator())
	ctx.Append(Message{
		Role:  RoleAssistant,
		Parts: []Part{{ToolCall: &ToolCallPart{ID: "tc-1", Tool: "shell", Arguments: map[string]any{"cmd": "ls"}}}},
	})

	out := ctx.Messages()
	out[0].Parts[0].ToolCall.Arguments["cmd"] = "rm"

	again := ctx.Messages()
	assert.Equal(t, "ls", again[0].Parts[0].ToolCall.Arguments["cmd"])
}

func TestMessageToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Text: &TextPart{Text: "running two tools"}},
			{ToolCall: &ToolCallPart{ID: "tc-1", Tool: "read_file"}},
			{ToolCall: &ToolCallPart{ID: "tc-2", Tool: "shell"}},
		},
	}
	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "tc-1", calls[0].ID)
	assert.Equal(t, "tc-2", calls[1].ID)
}
