package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/store"
	"agentcore/pkg/tools"
	"agentcore/pkg/wire"
)

type execFn func(ctx context.Context, args map[string]any) (*tools.ExecResult, error)

// testExec lets each test swap in the behavior for a registered test tool.
// Without an override a tool answers "ok:<name>".
var testExec sync.Map //nolint:gochecknoglobals // per-test tool behavior

type stubTool struct{ name string }

func (t *stubTool) Definition() tools.ToolDefinition { return tools.ToolDefinition{Name: t.name} }

func (t *stubTool) Exec(ctx context.Context, args map[string]any) (*tools.ExecResult, error) {
	if fn, ok := testExec.Load(t.name); ok {
		return fn.(execFn)(ctx, args)
	}
	return &tools.ExecResult{Content: "ok:" + t.name}, nil
}

//nolint:gochecknoinits // test tools must land in the registry before it seals
func init() {
	for _, tt := range []struct {
		name     string
		approval tools.ApprovalPolicy
		parallel bool
	}{
		{"echo", tools.ApprovalNever, false},
		{"scan", tools.ApprovalNever, true},
		{"deploy", tools.ApprovalSession, false},
		{"destroy", tools.ApprovalAlways, false},
	} {
		name := tt.name
		tools.Register(tools.ToolDefinition{
			Name:         name,
			Description:  "hub test tool",
			InputSchema:  tools.InputSchema{Type: "object"},
			Approval:     tt.approval,
			ParallelSafe: tt.parallel,
		}, func(_ tools.ToolContext) (tools.Tool, error) {
			return &stubTool{name: name}, nil
		})
	}
}

func setExec(t *testing.T, name string, fn execFn) {
	t.Helper()
	testExec.Store(name, fn)
	t.Cleanup(func() { testExec.Delete(name) })
}

type scriptedGate struct {
	mu        sync.Mutex
	decisions []wire.Decision
	requests  []*wire.ApprovalRequest
}

func (g *scriptedGate) Decide(_ context.Context, req *wire.ApprovalRequest) (wire.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.decisions) == 0 {
		return wire.DecisionApprove, nil
	}
	d := g.decisions[0]
	g.decisions = g.decisions[1:]
	return d, nil
}

func (g *scriptedGate) asked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) / 4 }

type fixture struct {
	hub     *Hub
	store   *store.Store
	policy  *SessionPolicy
	gate    *scriptedGate
	logPath string
}

func newFixture(t *testing.T, yolo bool, decisions ...wire.Decision) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, err := wire.OpenLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	emitter := wire.NewEmitter("sess-1", log, 0)
	st := store.NewStore(store.NewContext(store.NewEstimator(charCounter{})), emitter)
	require.NoError(t, st.BeginTurn("turn-1", "work"))

	gate := &scriptedGate{decisions: decisions}
	policy := NewSessionPolicy(yolo)
	h := New(Config{
		Provider: tools.NewProvider(tools.ToolContext{WorkDir: dir},
			[]string{"echo", "scan", "deploy", "destroy"}),
		Store:  st,
		Gate:   gate,
		Policy: policy,
	})
	return &fixture{hub: h, store: st, policy: policy, gate: gate, logPath: log.Path()}
}

func (f *fixture) loggedKinds(t *testing.T) []wire.EventKind {
	t.Helper()
	msgs, err := wire.ReadMessages(f.logPath)
	require.NoError(t, err)
	kinds := make([]wire.EventKind, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Type {
		case wire.TypeEvent:
			kinds = append(kinds, msg.EventKind())
		case wire.TypeRequest:
			kinds = append(kinds, "request")
		case wire.TypeResponse:
			kinds = append(kinds, "response")
		}
	}
	return kinds
}

func TestDispatchEmptyBatch(t *testing.T) {
	f := newFixture(t, false)
	results, err := f.hub.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestDispatchSingleCall(t *testing.T) {
	f := newFixture(t, false)

	calls := []Call{{ID: "tc-1", Tool: "echo", Arguments: map[string]any{"text": "hi"}}}
	results, err := f.hub.Dispatch(context.Background(), calls)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, wire.ResultCompleted, results[0].Status)
	assert.Equal(t, "ok:echo", results[0].Output)
	assert.Equal(t, StatusCompleted, calls[0].Status)

	assert.Equal(t, []wire.EventKind{
		wire.EventTurnBegin,
		wire.EventToolCallStarted,
		wire.EventToolCallResult,
	}, f.loggedKinds(t))

	msgs := f.store.Context().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Parts[0].ToolCall)
	assert.Equal(t, store.RoleTool, msgs[2].Role)
	assert.Equal(t, "ok:echo", msgs[2].Parts[0].ToolResult.Output)
}

func TestDispatchResultsKeepRequestOrder(t *testing.T) {
	f := newFixture(t, false)
	setExec(t, "scan", func(_ context.Context, args map[string]any) (*tools.ExecResult, error) {
		time.Sleep(time.Duration(args["ms"].(int)) * time.Millisecond)
		return &tools.ExecResult{Content: args["tag"].(string)}, nil
	})

	calls := []Call{
		{ID: "tc-1", Tool: "scan", Arguments: map[string]any{"ms": 40, "tag": "slow"}},
		{ID: "tc-2", Tool: "scan", Arguments: map[string]any{"ms": 1, "tag": "quick"}},
	}
	results, err := f.hub.Dispatch(context.Background(), calls)
	require.NoError(t, err)

	assert.Equal(t, "slow", results[0].Output)
	assert.Equal(t, "quick", results[1].Output)

	msgs, err := wire.ReadMessages(f.logPath)
	require.NoError(t, err)
	var resultIDs []string
	for _, msg := range msgs {
		if msg.EventKind() == wire.EventToolCallResult {
			resultIDs = append(resultIDs, msg.ToolCallID)
		}
	}
	assert.Equal(t, []string{"tc-1", "tc-2"}, resultIDs)
}

func TestDispatchParallelRunExecutesConcurrently(t *testing.T) {
	f := newFixture(t, false)
	pair := make(chan struct{})
	setExec(t, "scan", func(_ context.Context, _ map[string]any) (*tools.ExecResult, error) {
		select {
		case pair <- struct{}{}:
		case <-pair:
		case <-time.After(2 * time.Second):
			return nil, fmt.Errorf("no concurrent partner showed up")
		}
		return &tools.ExecResult{Content: "met"}, nil
	})

	results, err := f.hub.Dispatch(context.Background(), []Call{
		{ID: "tc-1", Tool: "scan"},
		{ID: "tc-2", Tool: "scan"},
	})
	require.NoError(t, err)
	assert.Equal(t, "met", results[0].Output)
	assert.Equal(t, "met", results[1].Output)
}

func TestDispatchSerialCallSplitsParallelRuns(t *testing.T) {
	f := newFixture(t, false)

	var mu sync.Mutex
	var order []string
	record := func(_ context.Context, args map[string]any) (*tools.ExecResult, error) {
		mu.Lock()
		order = append(order, args["tag"].(string))
		mu.Unlock()
		return &tools.ExecResult{Content: "done"}, nil
	}
	setExec(t, "scan", record)
	setExec(t, "echo", record)

	_, err := f.hub.Dispatch(context.Background(), []Call{
		{ID: "tc-1", Tool: "scan", Arguments: map[string]any{"tag": "a"}},
		{ID: "tc-2", Tool: "scan", Arguments: map[string]any{"tag": "b"}},
		{ID: "tc-3", Tool: "echo", Arguments: map[string]any{"tag": "c"}},
		{ID: "tc-4", Tool: "scan", Arguments: map[string]any{"tag": "d"}},
	})
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := map[string]int{}
	for i, tag := range order {
		pos[tag] = i
	}
	assert.Greater(t, pos["c"], pos["a"])
	assert.Greater(t, pos["c"], pos["b"])
	assert.Greater(t, pos["d"], pos["c"])
}

func TestDispatchSessionApprovalAsksEachTime(t *testing.T) {
	f := newFixture(t, false, wire.DecisionApprove, wire.DecisionApprove)

	calls := []Call{{ID: "tc-1", Tool: "deploy"}}
	results, err := f.hub.Dispatch(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, wire.ResultCompleted, results[0].Status)
	assert.Equal(t, 1, f.gate.asked())
	assert.Equal(t, "deploy", f.gate.requests[0].Tool)

	_, err = f.hub.Dispatch(context.Background(), []Call{{ID: "tc-2", Tool: "deploy"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gate.asked())

	assert.Equal(t, []wire.EventKind{
		wire.EventTurnBegin,
		wire.EventToolCallStarted, "request", "response", wire.EventToolCallResult,
		wire.EventToolCallStarted, "request", "response", wire.EventToolCallResult,
	}, f.loggedKinds(t))
}

func TestDispatchAlwaysAllowGrantsSessionTool(t *testing.T) {
	f := newFixture(t, false, wire.DecisionAlwaysAllow)

	_, err := f.hub.Dispatch(context.Background(), []Call{{ID: "tc-1", Tool: "deploy"}})
	require.NoError(t, err)
	assert.True(t, f.policy.Allowed("deploy"))
	assert.Equal(t, []string{"deploy"}, f.policy.Grants())

	results, err := f.hub.Dispatch(context.Background(), []Call{{ID: "tc-2", Tool: "deploy"}})
	require.NoError(t, err)
	assert.Equal(t, wire.ResultCompleted, results[0].Status)
	assert.Equal(t, 1, f.gate.asked())
}

func TestDispatchAlwaysPolicyToolIsNeverGranted(t *testing.T) {
	f := newFixture(t, false, wire.DecisionAlwaysAllow, wire.DecisionApprove)

	_, err := f.hub.Dispatch(context.Background(), []Call{{ID: "tc-1", Tool: "destroy"}})
	require.NoError(t, err)
	assert.False(t, f.policy.Allowed("destroy"))

	_, err = f.hub.Dispatch(context.Background(), []Call{{ID: "tc-2", Tool: "destroy"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gate.asked())
}

func TestDispatchDeniedCallNeverExecutes(t *testing.T) {
	f := newFixture(t, false, wire.DecisionDeny)

	executed := 0
	setExec(t, "deploy", func(_ context.Context, _ map[string]any) (*tools.ExecResult, error) {
		executed++
		return &tools.ExecResult{Content: "deployed"}, nil
	})

	calls := []Call{{ID: "tc-1", Tool: "deploy"}}
	results, err := f.hub.Dispatch(context.Background(), calls)
	require.NoError(t, err)

	assert.Zero(t, executed)
	assert.Equal(t, StatusDenied, calls[0].Status)
	assert.Equal(t, wire.ResultDenied, results[0].Status)
	assert.Contains(t, results[0].Output, "denied")

	msgs := f.store.Context().Messages()
	res := msgs[2].Parts[0].ToolResult
	require.NotNil(t, res)
	assert.True(t, res.Denied)
	assert.False(t, res.IsError)

	logged, err := wire.ReadMessages(f.logPath)
	require.NoError(t, err)
	var deniedLogged bool
	for _, msg := range logged {
		if msg.Type == wire.TypeResponse {
			assert.Equal(t, wire.DecisionDeny, msg.Response.Approval.Decision)
			deniedLogged = true
		}
	}
	assert.True(t, deniedLogged)
}

func TestDispatchYOLOBypassesAllApproval(t *testing.T) {
	f := newFixture(t, true)

	results, err := f.hub.Dispatch(context.Background(), []Call{
		{ID: "tc-1", Tool: "deploy"},
		{ID: "tc-2", Tool: "destroy"},
	})
	require.NoError(t, err)
	assert.Zero(t, f.gate.asked())
	assert.Equal(t, wire.ResultCompleted, results[0].Status)
	assert.Equal(t, wire.ResultCompleted, results[1].Status)
}

func TestDispatchUnknownToolFailsBeforeAnnouncing(t *testing.T) {
	f := newFixture(t, false)

	results, err := f.hub.Dispatch(context.Background(), []Call{
		{ID: "tc-1", Tool: "echo"},
		{ID: "tc-2", Tool: "vanish"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vanish")
	assert.Nil(t, results)

	// Nothing was announced, so the transcript carries no dangling calls.
	assert.Equal(t, []wire.EventKind{wire.EventTurnBegin}, f.loggedKinds(t))
}

func TestDispatchHandlerErrorIsNonFatal(t *testing.T) {
	f := newFixture(t, false)
	setExec(t, "echo", func(_ context.Context, args map[string]any) (*tools.ExecResult, error) {
		if args["boom"] == true {
			return nil, fmt.Errorf("handler exploded")
		}
		return &tools.ExecResult{Content: "fine"}, nil
	})

	calls := []Call{
		{ID: "tc-1", Tool: "echo", Arguments: map[string]any{"boom": true}},
		{ID: "tc-2", Tool: "echo", Arguments: map[string]any{}},
	}
	results, err := f.hub.Dispatch(context.Background(), calls)
	require.NoError(t, err)

	assert.Equal(t, wire.ResultFailed, results[0].Status)
	assert.Equal(t, "handler exploded", results[0].Output)
	assert.Equal(t, StatusFailed, calls[0].Status)
	assert.Equal(t, wire.ResultCompleted, results[1].Status)

	msgs := f.store.Context().Messages()
	assert.True(t, msgs[2].Parts[0].ToolResult.IsError)
}

func TestDispatchInterruptResolvesEveryCall(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	setExec(t, "echo", func(ctx context.Context, _ map[string]any) (*tools.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	calls := []Call{
		{ID: "tc-1", Tool: "echo"},
		{ID: "tc-2", Tool: "deploy"},
	}
	results, err := f.hub.Dispatch(ctx, calls)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, wire.ResultInterrupted, results[0].Status)
	assert.Equal(t, wire.ResultInterrupted, results[1].Status)
	assert.Zero(t, f.gate.asked())
	assert.False(t, calls[0].Status.Terminal())
	assert.False(t, calls[1].Status.Terminal())

	// Both announced calls carry a terminal record in the log.
	assert.Equal(t, []wire.EventKind{
		wire.EventTurnBegin,
		wire.EventToolCallStarted,
		wire.EventToolCallStarted,
		wire.EventToolCallResult,
		wire.EventToolCallResult,
	}, f.loggedKinds(t))
}

func TestDispatchInterruptWhileAwaitingApproval(t *testing.T) {
	dir := t.TempDir()
	log, err := wire.OpenLog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	emitter := wire.NewEmitter("sess-1", log, 0)
	st := store.NewStore(store.NewContext(store.NewEstimator(charCounter{})), emitter)
	require.NoError(t, st.BeginTurn("turn-1", "work"))

	h := New(Config{
		Provider: tools.NewProvider(tools.ToolContext{WorkDir: dir}, []string{"deploy"}),
		Store:    st,
		Gate: GateFunc(func(ctx context.Context, _ *wire.ApprovalRequest) (wire.Decision, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		Policy: NewSessionPolicy(false),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	calls := []Call{{ID: "tc-1", Tool: "deploy"}}
	results, err := h.Dispatch(ctx, calls)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, wire.ResultInterrupted, results[0].Status)
	assert.Equal(t, StatusAwaitingApproval, calls[0].Status)

	// The request went out but no response ever arrived; the interrupted
	// result is what closes the call in the log.
	logged, err := wire.ReadMessages(log.Path())
	require.NoError(t, err)
	var sawRequest, sawResponse, sawResult bool
	for _, msg := range logged {
		switch {
		case msg.Type == wire.TypeRequest:
			sawRequest = true
		case msg.Type == wire.TypeResponse:
			sawResponse = true
		case msg.EventKind() == wire.EventToolCallResult:
			sawResult = true
			assert.Equal(t, wire.ResultInterrupted, msg.Event.ToolCallResult.Status)
		}
	}
	assert.True(t, sawRequest)
	assert.False(t, sawResponse)
	assert.True(t, sawResult)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusDenied, StatusCompleted, StatusFailed} {
		assert.True(t, s.Terminal(), string(s))
		assert.True(t, s.Valid(), string(s))
	}
	for _, s := range []Status{StatusPending, StatusAwaitingApproval, StatusApproved, StatusExecuting} {
		assert.False(t, s.Terminal(), string(s))
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("gone").Valid())
}

func TestSessionPolicy(t *testing.T) {
	p := NewSessionPolicy(false)
	assert.False(t, p.YOLO())
	assert.False(t, p.Allowed("shell"))

	p.Allow("shell")
	p.Allow("deploy")
	assert.True(t, p.Allowed("shell"))
	assert.Equal(t, []string{"deploy", "shell"}, p.Grants())

	assert.True(t, NewSessionPolicy(true).YOLO())
}
