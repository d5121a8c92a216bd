package wire

import (
	"fmt"
	"sync"
	"time"

	"agentcore/pkg/logx"
)

// Sink receives every emitted message in emission order. Delivery runs inside
// the emitter's critical section; implementations should hand work off quickly.
type Sink interface {
	Deliver(msg *Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg *Message)

// Deliver implements Sink.
func (f SinkFunc) Deliver(msg *Message) { f(msg) }

// Emitter is the single point through which a session's messages leave the
// engine. It assigns the per-session sequence number, appends to the durable
// log before anything else observes the message, then fans out to live sinks.
// The log append is the commit point: if it fails, the message was never
// emitted and Emit returns the error.
type Emitter struct {
	mu        sync.Mutex
	seq       uint64
	sessionID string
	log       *Log
	sinks     []Sink
	logger    *logx.Logger
}

// NewEmitter creates an emitter for a session. startSeq is the last sequence
// number already in the log (0 for a fresh session); the next emitted message
// gets startSeq+1.
func NewEmitter(sessionID string, log *Log, startSeq uint64) *Emitter {
	return &Emitter{
		seq:       startSeq,
		sessionID: sessionID,
		log:       log,
		logger:    logx.NewLogger("wire"),
	}
}

// Attach registers a live consumer. Messages emitted before Attach are only in
// the log; new sinks typically read the log first, then attach.
func (e *Emitter) Attach(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Emit stamps, commits, and delivers one message. The message's Seq and
// Timestamp fields are overwritten; SessionID is filled in when empty.
func (e *Emitter) Emit(msg *Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.SessionID == "" {
		msg.SessionID = e.sessionID
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("refusing to emit invalid message: %w", err)
	}

	msg.Seq = e.seq + 1
	msg.Timestamp = time.Now().UTC()

	if err := e.log.Append(msg); err != nil {
		return fmt.Errorf("wire log append failed at seq %d: %w", msg.Seq, err)
	}
	e.seq = msg.Seq

	for _, sink := range e.sinks {
		sink.Deliver(msg)
	}
	return nil
}

// Seq returns the sequence number of the most recently emitted message.
func (e *Emitter) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// SessionID returns the session this emitter belongs to.
func (e *Emitter) SessionID() string {
	return e.sessionID
}
