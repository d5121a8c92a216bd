package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"agentcore/pkg/logx"
	"agentcore/pkg/wire"
)

// turnQueueDepth bounds buffered turn submissions in wire mode. The reader
// must never block on the engine, so submissions past the bound are dropped
// with an error event rather than stalling approvals.
const turnQueueDepth = 16

// wireGate resolves approvals from inbound protocol responses. Decide parks
// the dispatching goroutine until the matching ApprovalResponse arrives or
// the turn is interrupted.
type wireGate struct {
	mu      sync.Mutex
	pending map[string]chan wire.Decision
	logger  *logx.Logger
}

func newWireGate() *wireGate {
	return &wireGate{
		pending: make(map[string]chan wire.Decision),
		logger:  logx.NewLogger("wiregate"),
	}
}

// Decide implements hub.Gate.
func (g *wireGate) Decide(ctx context.Context, req *wire.ApprovalRequest) (wire.Decision, error) {
	ch := make(chan wire.Decision, 1)
	g.mu.Lock()
	g.pending[req.ID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers an inbound decision to the call waiting on it. Responses
// for unknown requests are dropped; a decision value outside the protocol
// becomes a denial so a broken consumer cannot take the engine down.
func (g *wireGate) Resolve(resp *wire.ApprovalResponse) {
	decision := resp.Decision
	switch decision {
	case wire.DecisionApprove, wire.DecisionDeny, wire.DecisionAlwaysAllow:
	default:
		g.logger.Warn("unknown approval decision %q for request %s, treating as deny", decision, resp.RequestID)
		decision = wire.DecisionDeny
	}

	g.mu.Lock()
	ch, ok := g.pending[resp.RequestID]
	g.mu.Unlock()
	if !ok {
		g.logger.Debug("approval response for unknown request %s dropped", resp.RequestID)
		return
	}
	select {
	case ch <- decision:
	default:
	}
}

// runWireMode builds the engine and serves the protocol over stdio. Stdout
// carries only wire messages; everything human-facing goes to stderr.
func runWireMode(ctx context.Context, opts cliOptions, shareDir string) int {
	gate := newWireGate()
	eng, err := buildEngine(engineOptions{
		cliOptions: opts,
		ShareDir:   shareDir,
		Gate:       gate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %s\n", exitMessage(err))
		return 1
	}
	defer eng.Close()

	// The consumer needs these to find the durable log; stdout is protocol.
	fmt.Fprintf(os.Stderr, "session %s\n", eng.sess.ID)
	fmt.Fprintf(os.Stderr, "log %s\n", eng.sess.LogPath())

	if err := serveWire(ctx, eng, gate, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Wire session ended with error: %v\n", err)
		return 1
	}
	return 0
}

// serveWire pumps the duplex channel: inbound lines feed approvals and the
// turn queue, every emitted message goes out as one line. Turns run one at a
// time in submission order. The serve loop ends at inbound EOF, a protocol
// error, context cancellation, or an engine-fatal turn error.
func serveWire(ctx context.Context, eng *engine, gate *wireGate, in io.Reader, out io.Writer) error {
	transport := wire.NewTransport(in, out)
	transport.OnApproval(gate.Resolve)

	turns := make(chan string, turnQueueDepth)
	transport.OnUserInput(func(text string) {
		select {
		case turns <- text:
		default:
			eng.logger.Warn("turn queue full, dropping input")
			eng.dropInput()
		}
	})

	eng.emitter.Attach(transport)

	readDone := make(chan error, 1)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		readDone <- transport.ReadLoop(readCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			// Teardown signal. Any running turn already saw the cancellation
			// through its own context.
			return nil

		case err := <-readDone:
			// Drain turns already accepted before the channel closed.
			for {
				select {
				case text := <-turns:
					if runErr := eng.runWireTurn(ctx, text); runErr != nil {
						return runErr
					}
					continue
				default:
				}
				break
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case text := <-turns:
			if err := eng.runWireTurn(ctx, text); err != nil {
				return err
			}
		}
	}
}

// runWireTurn executes one queued submission. Outcomes travel on the wire;
// only engine-fatal errors surface here.
func (e *engine) runWireTurn(ctx context.Context, text string) error {
	if ctx.Err() != nil {
		return nil
	}
	if _, err := e.RunTurn(ctx, text); err != nil {
		return fmt.Errorf("turn failed fatally: %w", err)
	}
	return nil
}

// dropInput tells the consumer a submission was discarded. Emitted like any
// other event so the notice is sequenced and durable; replay ignores error
// events.
func (e *engine) dropInput() {
	msg := wire.NewEvent("", &wire.Event{
		Kind:  wire.EventError,
		Error: &wire.ErrorEvent{Message: "input dropped: turn queue full"},
	})
	if err := e.emitter.Emit(msg); err != nil {
		e.logger.Warn("failed to emit drop notice: %v", err)
	}
}
