package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"agentcore/pkg/wire"
)

// renderToString feeds one message through a fresh renderer and returns what
// it printed.
func renderToString(msg *wire.Message) string {
	var buf bytes.Buffer
	newRenderer(&buf).Deliver(msg)
	return buf.String()
}

func eventMsg(ev *wire.Event) *wire.Message {
	return wire.NewEvent("sess-render", ev)
}

func TestRendererToolCallLines(t *testing.T) {
	started := eventMsg(&wire.Event{
		Kind: wire.EventToolCallStarted,
		ToolCallStarted: &wire.ToolCallStarted{
			Tool:      "shell",
			Arguments: map[string]any{"command": "ls -la"},
		},
	})
	assert.Equal(t, "🔧 shell {\"command\":\"ls -la\"}\n", renderToString(started))

	noArgs := eventMsg(&wire.Event{
		Kind:            wire.EventToolCallStarted,
		ToolCallStarted: &wire.ToolCallStarted{Tool: "todo"},
	})
	assert.Equal(t, "🔧 todo\n", renderToString(noArgs))
}

func TestRendererToolResultLines(t *testing.T) {
	cases := []struct {
		name   string
		result wire.ToolCallResult
		want   string
	}{
		{
			name:   "completed single line",
			result: wire.ToolCallResult{Tool: "shell", Status: wire.ResultCompleted, Output: "ok"},
			want:   "   ✅ ok\n",
		},
		{
			name:   "completed multi line counts the rest",
			result: wire.ToolCallResult{Tool: "shell", Status: wire.ResultCompleted, Output: "one\ntwo\nthree"},
			want:   "   ✅ one … (+2 lines)\n",
		},
		{
			name:   "completed empty output",
			result: wire.ToolCallResult{Tool: "write_file", Status: wire.ResultCompleted},
			want:   "   ✅ done\n",
		},
		{
			name:   "failed shows the error text",
			result: wire.ToolCallResult{Tool: "shell", Status: wire.ResultFailed, Output: "exit status 1"},
			want:   "   ❌ exit status 1\n",
		},
		{
			name:   "denied",
			result: wire.ToolCallResult{Tool: "shell", Status: wire.ResultDenied, Output: "The user denied this tool call."},
			want:   "   🚫 denied\n",
		},
		{
			name:   "interrupted",
			result: wire.ToolCallResult{Tool: "shell", Status: wire.ResultInterrupted},
			want:   "   ⚠️  interrupted\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.result
			msg := eventMsg(&wire.Event{Kind: wire.EventToolCallResult, ToolCallResult: &res})
			assert.Equal(t, tc.want, renderToString(msg))
		})
	}
}

func TestRendererAssistantText(t *testing.T) {
	thinking := eventMsg(&wire.Event{
		Kind:           wire.EventAssistantDelta,
		AssistantDelta: &wire.AssistantDelta{Text: "weighing options\nmore detail", Thinking: true},
	})
	assert.Equal(t, "💭 weighing options …\n", renderToString(thinking))

	content := eventMsg(&wire.Event{
		Kind:           wire.EventAssistantDelta,
		AssistantDelta: &wire.AssistantDelta{Text: "Hello.\nAll done.\n"},
	})
	assert.Equal(t, "Hello.\nAll done.\n", renderToString(content))

	empty := eventMsg(&wire.Event{
		Kind:           wire.EventAssistantDelta,
		AssistantDelta: &wire.AssistantDelta{Text: ""},
	})
	assert.Empty(t, renderToString(empty))
}

func TestRendererTurnBoundaries(t *testing.T) {
	begin := eventMsg(&wire.Event{
		Kind:      wire.EventTurnBegin,
		TurnBegin: &wire.TurnBegin{UserInput: "do the thing"},
	})
	assert.Empty(t, renderToString(begin), "top-level turn begin echoes nothing: the user typed it")

	completed := eventMsg(&wire.Event{
		Kind:    wire.EventTurnEnd,
		TurnEnd: &wire.TurnEnd{Outcome: wire.OutcomeCompleted},
	})
	assert.Empty(t, renderToString(completed))

	failed := eventMsg(&wire.Event{
		Kind:    wire.EventTurnEnd,
		TurnEnd: &wire.TurnEnd{Outcome: wire.OutcomeFailed, Cause: "model unreachable"},
	})
	assert.Equal(t, "❌ turn failed: model unreachable\n", renderToString(failed))

	interrupted := eventMsg(&wire.Event{
		Kind:    wire.EventTurnEnd,
		TurnEnd: &wire.TurnEnd{Outcome: wire.OutcomeInterrupted, Cause: "interrupted by user"},
	})
	assert.Equal(t, "⚠️  turn interrupted\n", renderToString(interrupted))
}

func TestRendererStatusAndError(t *testing.T) {
	status := eventMsg(&wire.Event{
		Kind:         wire.EventStatusUpdate,
		StatusUpdate: &wire.StatusUpdate{Stage: wire.StageCompaction, Detail: "replaced 12 messages"},
	})
	assert.Equal(t, "ℹ️  compaction: replaced 12 messages\n", renderToString(status))

	errEvent := eventMsg(&wire.Event{
		Kind:  wire.EventError,
		Error: &wire.ErrorEvent{Message: "input dropped: turn queue full"},
	})
	assert.Equal(t, "❌ input dropped: turn queue full\n", renderToString(errEvent))
}

func TestRendererIndentsSubagentTraffic(t *testing.T) {
	begin := eventMsg(&wire.Event{
		Kind:      wire.EventTurnBegin,
		TurnBegin: &wire.TurnBegin{UserInput: "summarize the diff"},
	}).WithParent("tc-7")
	assert.Equal(t, "    ◦ subagent task: summarize the diff\n", renderToString(begin))

	started := eventMsg(&wire.Event{
		Kind:            wire.EventToolCallStarted,
		ToolCallStarted: &wire.ToolCallStarted{Tool: "read_file", Arguments: map[string]any{"path": "a.go"}},
	}).WithParent("tc-7")
	assert.Equal(t, "    🔧 read_file {\"path\":\"a.go\"}\n", renderToString(started))

	content := eventMsg(&wire.Event{
		Kind:           wire.EventAssistantDelta,
		AssistantDelta: &wire.AssistantDelta{Text: "line one\nline two"},
	}).WithParent("tc-7")
	assert.Equal(t, "    line one\n    line two\n", renderToString(content))
}

func TestRendererSkipsNonEvents(t *testing.T) {
	req := wire.NewApprovalRequestMsg("sess-render", &wire.ApprovalRequest{
		ID:   "apr-1",
		Tool: "shell",
	})
	assert.Empty(t, renderToString(req), "the terminal gate owns the approval exchange")

	resp := wire.NewApprovalResponseMsg("sess-render", &wire.ApprovalResponse{
		RequestID: "apr-1",
		Decision:  wire.DecisionApprove,
	})
	assert.Empty(t, renderToString(resp))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "short", oneLine("short", 20))
	assert.Equal(t, "cut here …", oneLine("cut here\nrest", 20))
	assert.Equal(t, "abcde…", oneLine("abcdefgh", 5))
}

func TestSummarizeOutput(t *testing.T) {
	assert.Equal(t, "done", summarizeOutput(""))
	assert.Equal(t, "done", summarizeOutput("   \n  "))
	assert.Equal(t, "trimmed", summarizeOutput("  trimmed  "))
	assert.Equal(t, "head … (+3 lines)", summarizeOutput("head\na\nb\nc"))
}
