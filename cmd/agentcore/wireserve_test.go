package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/logx"
	"agentcore/pkg/wire"
)

type gateResult struct {
	decision wire.Decision
	err      error
}

// decideAsync parks a Decide call on its own goroutine and returns the channel
// that will carry its outcome.
func decideAsync(ctx context.Context, g *wireGate, id string) <-chan gateResult {
	done := make(chan gateResult, 1)
	go func() {
		decision, err := g.Decide(ctx, &wire.ApprovalRequest{ID: id, Tool: "shell"})
		done <- gateResult{decision: decision, err: err}
	}()
	return done
}

// awaitPending waits until the gate has parked the given request.
func awaitPending(t *testing.T, g *wireGate, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		_, ok := g.pending[id]
		return ok
	}, time.Second, time.Millisecond)
}

func TestWireGateResolvesDecision(t *testing.T) {
	g := newWireGate()
	done := decideAsync(context.Background(), g, "apr-1")
	awaitPending(t, g, "apr-1")

	g.Resolve(&wire.ApprovalResponse{RequestID: "apr-1", Decision: wire.DecisionAlwaysAllow})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, wire.DecisionAlwaysAllow, res.decision)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.pending, "resolved request should be unregistered")
}

func TestWireGateSanitizesUnknownDecision(t *testing.T) {
	g := newWireGate()
	done := decideAsync(context.Background(), g, "apr-2")
	awaitPending(t, g, "apr-2")

	g.Resolve(&wire.ApprovalResponse{RequestID: "apr-2", Decision: wire.Decision("shrug")})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, wire.DecisionDeny, res.decision)
}

func TestWireGateDropsResponseForUnknownRequest(t *testing.T) {
	g := newWireGate()

	// Nobody is waiting on this id; the response must vanish without
	// touching gate state.
	g.Resolve(&wire.ApprovalResponse{RequestID: "ghost", Decision: wire.DecisionApprove})

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.pending)
}

func TestWireGateContextCancelUnblocks(t *testing.T) {
	g := newWireGate()
	ctx, cancel := context.WithCancel(context.Background())
	done := decideAsync(ctx, g, "apr-3")
	awaitPending(t, g, "apr-3")

	cancel()

	res := <-done
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Empty(t, res.decision)

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.pending) == 0
	}, time.Second, time.Millisecond, "canceled request should be unregistered")
}

func TestWireGateKeepsConcurrentRequestsApart(t *testing.T) {
	g := newWireGate()
	first := decideAsync(context.Background(), g, "apr-a")
	second := decideAsync(context.Background(), g, "apr-b")
	awaitPending(t, g, "apr-a")
	awaitPending(t, g, "apr-b")

	g.Resolve(&wire.ApprovalResponse{RequestID: "apr-b", Decision: wire.DecisionDeny})
	g.Resolve(&wire.ApprovalResponse{RequestID: "apr-a", Decision: wire.DecisionApprove})

	resA := <-first
	require.NoError(t, resA.err)
	assert.Equal(t, wire.DecisionApprove, resA.decision)

	resB := <-second
	require.NoError(t, resB.err)
	assert.Equal(t, wire.DecisionDeny, resB.decision)
}

// wireTestEngine builds an engine with just enough wiring for transport-level
// paths that never start a turn.
func wireTestEngine(t *testing.T) *engine {
	t.Helper()
	log, err := wire.OpenLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return &engine{
		log:     log,
		emitter: wire.NewEmitter("sess-wire", log, 0),
		logger:  logx.NewLogger("test"),
	}
}

func TestDropInputEmitsSequencedErrorEvent(t *testing.T) {
	eng := wireTestEngine(t)

	eng.dropInput()
	eng.dropInput()

	msgs, err := wire.ReadMessages(eng.log.Path())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for i, msg := range msgs {
		assert.Equal(t, uint64(i+1), msg.Seq)
		require.Equal(t, wire.EventError, msg.EventKind())
		assert.Contains(t, msg.Event.Error.Message, "turn queue full")
	}
}

func TestServeWireEndsCleanlyAtEOF(t *testing.T) {
	eng := wireTestEngine(t)
	var out strings.Builder

	err := serveWire(context.Background(), eng, newWireGate(), strings.NewReader(""), &out)
	require.NoError(t, err)
}

func TestServeWireRoutesInboundApproval(t *testing.T) {
	eng := wireTestEngine(t)
	gate := newWireGate()

	done := decideAsync(context.Background(), gate, "apr-9")
	awaitPending(t, gate, "apr-9")

	in := `{"type":"response","response":{"kind":"approval","approval":{"request_id":"apr-9","decision":"approve"}}}` + "\n"
	var out strings.Builder
	err := serveWire(context.Background(), eng, gate, strings.NewReader(in), &out)
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, wire.DecisionApprove, res.decision)
}

func TestServeWireReportsProtocolError(t *testing.T) {
	eng := wireTestEngine(t)
	var out strings.Builder

	err := serveWire(context.Background(), eng, newWireGate(), strings.NewReader("not json\n"), &out)
	require.ErrorIs(t, err, wire.ErrProtocol)
}
