package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures delivered messages in order.
type recordingSink struct {
	messages []*Message
}

func (r *recordingSink) Deliver(msg *Message) {
	r.messages = append(r.messages, msg)
}

func TestEmitAssignsContiguousSequence(t *testing.T) {
	log, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	emitter := NewEmitter("sess", log, 0)
	sink := &recordingSink{}
	emitter.Attach(sink)

	for i := 0; i < 5; i++ {
		err := emitter.Emit(NewEvent("", &Event{
			Kind:           EventAssistantDelta,
			AssistantDelta: &AssistantDelta{Text: "chunk"},
		}))
		require.NoError(t, err)
	}

	require.Len(t, sink.messages, 5)
	for i, msg := range sink.messages {
		assert.Equal(t, uint64(i+1), msg.Seq, "sequence must increase by exactly one")
		assert.Equal(t, "sess", msg.SessionID)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestEmitWritesLogBeforeSinks(t *testing.T) {
	log, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	emitter := NewEmitter("sess", log, 0)

	var seenInLog int
	emitter.Attach(SinkFunc(func(msg *Message) {
		// By the time a sink sees the message it must already be durable.
		messages, readErr := ReadMessages(log.Path())
		require.NoError(t, readErr)
		seenInLog = len(messages)
	}))

	require.NoError(t, emitter.Emit(NewEvent("", &Event{
		Kind:      EventTurnBegin,
		TurnBegin: &TurnBegin{UserInput: "hi"},
	})))

	assert.Equal(t, 1, seenInLog, "log append must precede sink delivery")
}

func TestEmitResumesSequenceFromLog(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenLog(dir)
	require.NoError(t, err)

	emitter := NewEmitter("sess", log, 0)
	require.NoError(t, emitter.Emit(NewEvent("", &Event{Kind: EventTurnBegin, TurnBegin: &TurnBegin{}})))
	require.NoError(t, emitter.Emit(NewEvent("", &Event{Kind: EventTurnEnd, TurnEnd: &TurnEnd{Outcome: OutcomeCompleted}})))
	require.NoError(t, log.Close())

	last, err := LastSeq(log.Path() /* same file */)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	reopened, err := OpenLog(dir)
	require.NoError(t, err)
	defer reopened.Close()

	resumed := NewEmitter("sess", reopened, last)
	require.NoError(t, resumed.Emit(NewEvent("", &Event{Kind: EventStatusUpdate, StatusUpdate: &StatusUpdate{Stage: "resume"}})))
	assert.Equal(t, uint64(3), resumed.Seq())
}

func TestEmitRejectsInvalidMessage(t *testing.T) {
	log, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	emitter := NewEmitter("sess", log, 0)
	err = emitter.Emit(&Message{Type: TypeEvent}) // no event payload
	assert.Error(t, err)
	assert.Equal(t, uint64(0), emitter.Seq(), "failed emit must not consume a sequence number")
}

func TestEmitFailsWhenLogClosed(t *testing.T) {
	log, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, log.Close())

	emitter := NewEmitter("sess", log, 0)
	sink := &recordingSink{}
	emitter.Attach(sink)

	err = emitter.Emit(NewEvent("", &Event{Kind: EventTurnBegin, TurnBegin: &TurnBegin{}}))
	require.Error(t, err)
	assert.Empty(t, sink.messages, "uncommitted messages must not reach sinks")
}
