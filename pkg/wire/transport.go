package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"agentcore/pkg/logx"
)

// ErrProtocol marks a corrupted inbound channel. The channel is closed; the
// engine and its session log are unaffected.
var ErrProtocol = errors.New("wire protocol error")

// Transport is the duplex line channel between the engine and one external
// consumer: every emitted message goes out as one JSON line, and approval
// decisions or user input come back the same way. In wire server mode the
// reader is stdin and the writer stdout.
type Transport struct {
	w           io.Writer
	wmu         sync.Mutex
	r           *bufio.Reader
	logger      *logx.Logger
	onApproval  func(*ApprovalResponse)
	onUserInput func(string)
	broken      atomic.Bool
}

// NewTransport wraps a reader/writer pair as a duplex channel.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		w:      w,
		r:      bufio.NewReader(r),
		logger: logx.NewLogger("wire"),
	}
}

// OnApproval registers the handler for inbound approval responses.
func (t *Transport) OnApproval(fn func(*ApprovalResponse)) {
	t.onApproval = fn
}

// OnUserInput registers the handler for inbound turn submissions.
func (t *Transport) OnUserInput(fn func(string)) {
	t.onUserInput = fn
}

// Deliver implements Sink: it writes the message as one line. A write failure
// marks the outbound side broken and is logged once; the durable log already
// holds the message, so delivery failures never fail the engine.
func (t *Transport) Deliver(msg *Message) {
	if t.broken.Load() {
		return
	}

	jsonData, err := msg.ToJSON()
	if err != nil {
		t.logger.Error("failed to serialize outbound message seq %d: %v", msg.Seq, err)
		return
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(append(jsonData, '\n')); err != nil {
		if t.broken.CompareAndSwap(false, true) {
			t.logger.Warn("outbound channel broken, suppressing further writes: %v", err)
		}
	}
}

// ReadLoop consumes inbound lines until EOF, context cancellation, or a
// protocol error. Unknown message kinds are ignored for additive protocol
// evolution; a line that is not a wire message at all corrupts the channel and
// returns an error wrapping ErrProtocol.
func (t *Transport) ReadLoop(ctx context.Context) error {
	for {
		line, err := t.r.ReadString('\n')
		if len(line) > 0 {
			if handleErr := t.handleLine(strings.TrimRight(line, "\r\n")); handleErr != nil {
				return handleErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("inbound channel read failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (t *Transport) handleLine(line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	msg, err := FromJSON([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: malformed inbound line: %v", ErrProtocol, err)
	}

	switch msg.Type {
	case TypeResponse:
		if msg.Response == nil || msg.Response.Kind != ResponseApproval || msg.Response.Approval == nil {
			t.logger.Debug("ignoring unknown response kind")
			return nil
		}
		if t.onApproval != nil {
			t.onApproval(msg.Response.Approval)
		}
	case TypeRequest:
		if msg.Request == nil || msg.Request.Kind != RequestUserInput || msg.Request.UserInput == nil {
			t.logger.Debug("ignoring unknown request kind")
			return nil
		}
		if t.onUserInput != nil {
			t.onUserInput(msg.Request.UserInput.Text)
		}
	case TypeEvent:
		// Events only flow outward; an inbound event is tolerated noise.
		t.logger.Debug("ignoring inbound event message")
	default:
		t.logger.Debug("ignoring unknown message type %q", msg.Type)
	}
	return nil
}
