package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/store"
	"agentcore/pkg/tokens"
	"agentcore/pkg/wire"
)

// newLoggedStore wires a store to a fresh session log and returns both.
func newLoggedStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	log, err := wire.OpenLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	emitter := wire.NewEmitter("sess-tap", log, 0)
	st := store.NewStore(store.NewContext(store.NewEstimator(tokens.NewFallbackCounter())), emitter)
	return st, log.Path()
}

// writeHealthySession records one complete approved-tool-call turn.
func writeHealthySession(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.BeginTurn("turn-1", "inspect the repo"))
	require.NoError(t, st.AppendAssistantText("Looking around.", false))
	require.NoError(t, st.AppendToolCall(store.ToolCallPart{
		ID: "tc-1", Tool: "shell", Arguments: map[string]any{"command": "ls"},
	}))

	req := wire.NewApprovalRequestMsg("", &wire.ApprovalRequest{ID: "apr-1", Tool: "shell"}).
		WithTurn("turn-1").WithToolCall("tc-1")
	require.NoError(t, st.Emitter().Emit(req))
	resp := wire.NewApprovalResponseMsg("", &wire.ApprovalResponse{RequestID: "apr-1", Decision: wire.DecisionApprove}).
		WithTurn("turn-1").WithToolCall("tc-1")
	require.NoError(t, st.Emitter().Emit(resp))

	require.NoError(t, st.AppendToolResult(store.ToolResultPart{
		ToolCallID: "tc-1", Tool: "shell", Output: "main.go",
	}, wire.ResultCompleted))
	require.NoError(t, st.AppendAssistantText("One file: main.go.", false))
	require.NoError(t, st.EndTurn(wire.OutcomeCompleted, ""))
}

func TestWiretapPassesHealthyLog(t *testing.T) {
	st, logPath := newLoggedStore(t)
	writeHealthySession(t, st)

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: logPath}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	report := out.String()
	assert.Contains(t, report, "Sequence continuous: 1..8")
	assert.Contains(t, report, "1 begun (1 completed, 0 failed, 0 interrupted)")
	assert.Contains(t, report, "1 started (1 completed")
	assert.Contains(t, report, "Replay deterministic: 4 context messages")
	assert.Contains(t, report, "Inspection PASSED")
}

func TestWiretapDumpListsTraffic(t *testing.T) {
	st, logPath := newLoggedStore(t)
	writeHealthySession(t, st)

	child := store.NewSubagentStore(
		store.NewContext(store.NewEstimator(tokens.NewFallbackCounter())), st.Emitter(), "tc-1")
	require.NoError(t, child.BeginTurn("sub-1", "dig deeper"))
	require.NoError(t, child.EndTurn(wire.OutcomeCompleted, ""))

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: logPath, Dump: true}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	report := out.String()
	assert.Contains(t, report, `turn_begin         "inspect the repo"`)
	assert.Contains(t, report, "tool_call_started  tc-1 shell")
	assert.Contains(t, report, "approval_request   apr-1 shell")
	assert.Contains(t, report, "approval_response  apr-1 approve")
	assert.Contains(t, report, "turn_end           completed")
	assert.Contains(t, report, "↳", "subagent traffic carries the child marker")
	assert.Contains(t, report, "2 subagent")
}

func TestWiretapVerboseListsTurns(t *testing.T) {
	st, logPath := newLoggedStore(t)
	writeHealthySession(t, st)

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: logPath, Verbose: true}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	report := out.String()
	assert.Contains(t, report, "Turns:")
	assert.Contains(t, report, `✅ turn-1  "inspect the repo"`)
}

func TestWiretapReportsUnfinishedTurn(t *testing.T) {
	st, logPath := newLoggedStore(t)
	require.NoError(t, st.BeginTurn("turn-1", "run the build"))
	require.NoError(t, st.AppendToolCall(store.ToolCallPart{ID: "tc-1", Tool: "shell"}))
	req := wire.NewApprovalRequestMsg("", &wire.ApprovalRequest{ID: "apr-1", Tool: "shell"}).
		WithTurn("turn-1").WithToolCall("tc-1")
	require.NoError(t, st.Emitter().Emit(req))

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: logPath}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code, "an unfinished turn is a fact, not a defect")

	report := out.String()
	assert.Contains(t, report, "Log ends inside turn turn-1 with 1 unresolved call(s)")
	assert.Contains(t, report, "tc-1 (shell, awaiting approval)")
	assert.Contains(t, report, "Inspection PASSED")
}

func stampedEvent(seq uint64, turnID string, ev *wire.Event) *wire.Message {
	msg := wire.NewEvent("sess-tap", ev).WithTurn(turnID)
	msg.Seq = seq
	msg.Timestamp = time.Date(2026, 3, 14, 10, 0, int(seq), 0, time.UTC)
	return msg
}

func writeRawLog(t *testing.T, msgs ...*wire.Message) string {
	t.Helper()
	var buf bytes.Buffer
	for _, msg := range msgs {
		data, err := msg.ToJSON()
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "wire.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestWiretapFlagsSequenceGap(t *testing.T) {
	logPath := writeRawLog(t,
		stampedEvent(1, "turn-1", &wire.Event{
			Kind:      wire.EventTurnBegin,
			TurnBegin: &wire.TurnBegin{UserInput: "hello"},
		}),
		stampedEvent(3, "turn-1", &wire.Event{
			Kind:    wire.EventTurnEnd,
			TurnEnd: &wire.TurnEnd{Outcome: wire.OutcomeCompleted},
		}),
	)

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: logPath}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	report := out.String()
	assert.Contains(t, report, "sequence gap: seq 3 follows 1")
	assert.Contains(t, report, "Inspection FAILED")
}

func TestWiretapRejectsEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wire.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: path}, &out)
	require.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestWiretapMissingFile(t *testing.T) {
	var out bytes.Buffer
	code, err := runWiretap(TapConfig{LogFile: filepath.Join(t.TempDir(), "absent.jsonl")}, &out)
	require.Error(t, err)
	assert.Equal(t, 1, code)
}
