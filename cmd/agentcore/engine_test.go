package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/config"
	"agentcore/pkg/hub"
	"agentcore/pkg/session"
	"agentcore/pkg/soul"
	"agentcore/pkg/store"
	"agentcore/pkg/tokens"
	"agentcore/pkg/wire"
)

// approveAll is a gate for tests that never prompts.
//
//nolint:gochecknoglobals // shared test fixture
var approveAll = hub.GateFunc(func(_ context.Context, _ *wire.ApprovalRequest) (wire.Decision, error) {
	return wire.DecisionApprove, nil
})

// setupEngineTestConfig installs a config whose provider needs no API key so
// buildEngine runs without prompts or network.
func setupEngineTestConfig(t *testing.T) (shareDir, workDir string) {
	t.Helper()
	shareDir, workDir = t.TempDir(), t.TempDir()
	config.SetConfigForTesting(&config.Config{
		DefaultModel: "qwen3",
		Models: map[string]config.ModelConfig{
			"qwen3": {Provider: "local", Model: "qwen3", MaxContextWindow: 32768},
		},
		Providers: map[string]config.ProviderConfig{
			"local": {Type: config.ProviderOllama, BaseURL: "http://127.0.0.1:1"},
		},
		Loop:       config.LoopConfig{MaxStepsPerRun: 10, MaxRetriesPerStep: 1, MaxSubagentDepth: 2},
		Compaction: config.CompactionConfig{ThresholdRatio: 0.8, ProtectedTail: 2},
	})
	config.SetShareDirForTesting(shareDir)
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
	return shareDir, workDir
}

func freshEngine(t *testing.T, shareDir, workDir string) *engine {
	t.Helper()
	eng, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.NoError(t, err)
	return eng
}

func resumeEngine(t *testing.T, shareDir, workDir, sessionID string) *engine {
	t.Helper()
	eng, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir, SessionID: sessionID},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.NoError(t, err)
	return eng
}

func TestBuildEngineFreshSession(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	eng := freshEngine(t, shareDir, workDir)
	defer eng.Close()

	assert.False(t, eng.sess.Resumed)
	assert.Equal(t, soul.StateIdle, eng.soul.State())
	assert.Equal(t, "main", eng.spec.Name)
	assert.Equal(t, "qwen3", eng.client.ModelName())
	assert.Zero(t, eng.store.Context().Len())
	assert.FileExists(t, eng.sess.LogPath())
}

func TestBuildEngineUnknownModel(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	_, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir, Model: "nope"},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model 'nope'")
}

// interruptedSession writes a session that stops mid-turn: one answered
// always-allow approval, one unanswered one, neither call resolved. Returns
// the session id.
func interruptedSession(t *testing.T, shareDir, workDir string) string {
	t.Helper()
	eng := freshEngine(t, shareDir, workDir)
	id := eng.sess.ID

	require.NoError(t, eng.store.BeginTurn("turn-1", "scan the logs"))
	require.NoError(t, eng.store.AppendAssistantText("Scanning now.", false))
	require.NoError(t, eng.store.AppendToolCall(store.ToolCallPart{
		ID: "tc-1", Tool: "shell", Arguments: map[string]any{"command": "grep ERROR app.log"},
	}))
	require.NoError(t, eng.store.AppendToolCall(store.ToolCallPart{
		ID: "tc-2", Tool: "write_file", Arguments: map[string]any{"path": "report.txt"},
	}))

	// Approval traffic as the hub would emit it: the first request answered
	// with always-allow, the second never answered.
	emitter := eng.store.Emitter()
	require.NoError(t, emitter.Emit(wire.NewApprovalRequestMsg("", &wire.ApprovalRequest{
		ID: "apr-1", Tool: "shell",
	}).WithTurn("turn-1").WithToolCall("tc-1")))
	require.NoError(t, emitter.Emit(wire.NewApprovalResponseMsg("", &wire.ApprovalResponse{
		RequestID: "apr-1", Decision: wire.DecisionAlwaysAllow,
	}).WithTurn("turn-1").WithToolCall("tc-1")))
	require.NoError(t, emitter.Emit(wire.NewApprovalRequestMsg("", &wire.ApprovalRequest{
		ID: "apr-2", Tool: "write_file",
	}).WithTurn("turn-1").WithToolCall("tc-2")))

	// Stop without EndTurn, as a kill mid-dispatch would.
	eng.Close()
	return id
}

func TestResumeReconciliation(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)
	id := interruptedSession(t, shareDir, workDir)

	eng := resumeEngine(t, shareDir, workDir, id)
	defer eng.Close()

	// The always-allow grant from the previous run carries over; the
	// unanswered one does not.
	assert.True(t, eng.policy.Allowed("shell"))
	assert.False(t, eng.policy.Allowed("write_file"))

	// The unfinished turn is closed; the engine is ready for a fresh one.
	assert.Empty(t, eng.store.TurnID())
	assert.Equal(t, soul.StateIdle, eng.soul.State())

	// Both dangling calls got interrupted results, in announcement order,
	// with the approval-waiting one labeled as such.
	msgs := eng.store.Context().Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	require.Equal(t, store.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Parts, 3)
	assert.Equal(t, "Scanning now.", msgs[1].Parts[0].Text.Text)
	assert.Equal(t, "tc-1", msgs[1].Parts[1].ToolCall.ID)
	assert.Equal(t, "tc-2", msgs[1].Parts[2].ToolCall.ID)

	require.Equal(t, store.RoleTool, msgs[2].Role)
	first := msgs[2].Parts[0].ToolResult
	assert.Equal(t, "tc-1", first.ToolCallID)
	assert.Equal(t, "Interrupted before completion.", first.Output)

	require.Equal(t, store.RoleTool, msgs[3].Role)
	second := msgs[3].Parts[0].ToolResult
	assert.Equal(t, "tc-2", second.ToolCallID)
	assert.Equal(t, "Interrupted while awaiting approval.", second.Output)

	// The log gained the reconciliation records in order and without a
	// sequence gap, ending on the resume notice.
	logged, err := wire.ReadMessages(eng.sess.LogPath())
	require.NoError(t, err)
	for i, msg := range logged {
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
	n := len(logged)
	require.GreaterOrEqual(t, n, 4)
	assert.Equal(t, wire.EventToolCallResult, logged[n-4].EventKind())
	assert.Equal(t, wire.ResultInterrupted, logged[n-4].Event.ToolCallResult.Status)
	assert.Equal(t, wire.EventToolCallResult, logged[n-3].EventKind())
	assert.Equal(t, wire.EventTurnEnd, logged[n-2].EventKind())
	assert.Equal(t, wire.OutcomeInterrupted, logged[n-2].Event.TurnEnd.Outcome)
	assert.Equal(t, "interrupted by shutdown", logged[n-2].Event.TurnEnd.Cause)
	assert.Equal(t, wire.EventStatusUpdate, logged[n-1].EventKind())
	assert.Equal(t, wire.StageResume, logged[n-1].Event.StatusUpdate.Stage)

	// Replaying the extended log lands on the same context the reconciled
	// engine holds, so the next resume needs no special cases.
	replayed, err := store.Replay(eng.sess.LogPath(), store.NewEstimator(tokens.NewFallbackCounter()))
	require.NoError(t, err)
	assert.Equal(t, eng.store.Context().Messages(), replayed.Context.Messages())
	assert.Empty(t, replayed.Interrupted)
	assert.Empty(t, replayed.LastTurnID)
	assert.Equal(t, []string{"shell"}, replayed.AlwaysAllowed)
}

func TestContinueResumesLatestSession(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	first := freshEngine(t, shareDir, workDir)
	firstID := first.sess.ID
	first.Close()

	eng, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir, ContinueLast: true},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.NoError(t, err)
	defer eng.Close()

	assert.Equal(t, firstID, eng.sess.ID)
	assert.True(t, eng.sess.Resumed)
}

func TestResumeRefusedWhileLocked(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	eng := freshEngine(t, shareDir, workDir)
	defer eng.Close()

	_, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir, SessionID: eng.sess.ID},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrLocked)
}

func TestResumeCleanSessionEmitsNoReconciliation(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	first := freshEngine(t, shareDir, workDir)
	id := first.sess.ID
	require.NoError(t, first.store.BeginTurn("turn-1", "hello"))
	require.NoError(t, first.store.AppendAssistantText("Hi. What should I work on?", false))
	require.NoError(t, first.store.EndTurn(wire.OutcomeCompleted, ""))
	first.Close()

	eng := resumeEngine(t, shareDir, workDir, id)
	defer eng.Close()

	assert.Equal(t, 2, eng.store.Context().Len())

	logged, err := wire.ReadMessages(eng.sess.LogPath())
	require.NoError(t, err)
	var kinds []wire.EventKind
	for _, msg := range logged {
		if msg.Type == wire.TypeEvent {
			kinds = append(kinds, msg.EventKind())
		}
	}
	// A clean resume adds only the resume notice: no synthetic results, no
	// extra turn end.
	assert.Equal(t, []wire.EventKind{
		wire.EventTurnBegin,
		wire.EventAssistantDelta,
		wire.EventTurnEnd,
		wire.EventStatusUpdate,
	}, kinds)
	assert.Equal(t, wire.StageResume, logged[len(logged)-1].Event.StatusUpdate.Stage)
}

func TestUnknownSessionID(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	_, err := buildEngine(engineOptions{
		cliOptions: cliOptions{WorkDir: workDir, SessionID: "no-such-session"},
		ShareDir:   shareDir,
		Gate:       approveAll,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestInterruptReportsTurnActivity(t *testing.T) {
	shareDir, workDir := setupEngineTestConfig(t)

	eng := freshEngine(t, shareDir, workDir)
	defer eng.Close()

	// Idle engine: nothing to interrupt.
	assert.False(t, eng.Interrupt())
}

func TestExitMessageUnwrapsKnownErrors(t *testing.T) {
	locked := exitMessage(session.ErrLocked)
	assert.Contains(t, locked, "Another agentcore process")

	none := exitMessage(session.ErrNoSessions)
	assert.Contains(t, none, "without --continue")

	missing := exitMessage(session.ErrSessionNotFound)
	assert.Contains(t, missing, "--list-sessions")

	plain := exitMessage(errors.New("boom"))
	assert.Equal(t, "boom", plain)
}
