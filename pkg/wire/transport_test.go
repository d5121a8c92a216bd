package wire

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportDeliverWritesLines(t *testing.T) {
	var out bytes.Buffer
	transport := NewTransport(strings.NewReader(""), &out)

	msg := testEvent("sess", 1, EventTurnBegin)
	transport.Deliver(msg)
	transport.Deliver(testEvent("sess", 2, EventTurnEnd))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	first, err := FromJSON([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, EventTurnBegin, first.EventKind())
}

func TestTransportReadsApprovalResponse(t *testing.T) {
	resp := NewApprovalResponseMsg("sess", &ApprovalResponse{RequestID: "req-1", Decision: DecisionApprove})
	data, err := resp.ToJSON()
	require.NoError(t, err)

	transport := NewTransport(strings.NewReader(string(data)+"\n"), &bytes.Buffer{})

	var got *ApprovalResponse
	transport.OnApproval(func(r *ApprovalResponse) { got = r })

	require.NoError(t, transport.ReadLoop(context.Background()))
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, DecisionApprove, got.Decision)
}

func TestTransportReadsUserInput(t *testing.T) {
	input := &Message{
		SessionID: "sess",
		Type:      TypeRequest,
		Request:   &Request{Kind: RequestUserInput, UserInput: &UserInput{Text: "run the tests"}},
	}
	data, err := input.ToJSON()
	require.NoError(t, err)

	transport := NewTransport(strings.NewReader(string(data)+"\n"), &bytes.Buffer{})

	var got string
	transport.OnUserInput(func(text string) { got = text })

	require.NoError(t, transport.ReadLoop(context.Background()))
	assert.Equal(t, "run the tests", got)
}

func TestTransportIgnoresUnknownKinds(t *testing.T) {
	lines := `{"session_id":"s","type":"response","response":{"kind":"future_thing"}}
{"session_id":"s","type":"event","event":{"kind":"turn_begin","turn_begin":{"user_input":"x"}}}
`
	transport := NewTransport(strings.NewReader(lines), &bytes.Buffer{})

	called := false
	transport.OnApproval(func(*ApprovalResponse) { called = true })

	require.NoError(t, transport.ReadLoop(context.Background()))
	assert.False(t, called, "unknown kinds must be skipped, not dispatched")
}

func TestTransportMalformedLineIsProtocolError(t *testing.T) {
	transport := NewTransport(strings.NewReader("this is not json\n"), &bytes.Buffer{})

	err := transport.ReadLoop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTransportSkipsBlankLines(t *testing.T) {
	transport := NewTransport(strings.NewReader("\n\n\n"), &bytes.Buffer{})
	assert.NoError(t, transport.ReadLoop(context.Background()))
}

// failingWriter always errors to exercise the broken-outbound path.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, assert.AnError
}

func TestTransportSuppressesWritesAfterBreak(t *testing.T) {
	transport := NewTransport(strings.NewReader(""), failingWriter{})

	transport.Deliver(testEvent("sess", 1, EventTurnBegin))
	// Second delivery must be silently suppressed rather than spamming errors.
	transport.Deliver(testEvent("sess", 2, EventTurnEnd))

	assert.True(t, transport.broken.Load())
}
