package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// perMessageOverhead approximates the framing tokens providers wrap around
// each message.
const perMessageOverhead = 4

// TextCounter counts tokens in a text fragment. Satisfied by tokens.Counter.
type TextCounter interface {
	Count(text string) int
}

// Estimator converts messages into an approximate token footprint. Estimates
// only ever gate compaction, so approximate is fine; exact provider-side
// counts are not available before a request anyway.
type Estimator struct {
	counter TextCounter
}

func NewEstimator(counter TextCounter) *Estimator {
	return &Estimator{counter: counter}
}

// EstimatePart counts one content part.
func (e *Estimator) EstimatePart(p *Part) int {
	switch {
	case p.Text != nil:
		return e.counter.Count(p.Text.Text)
	case p.Thinking != nil:
		return e.counter.Count(p.Thinking.Text)
	case p.ToolCall != nil:
		n := e.counter.Count(p.ToolCall.Tool)
		if len(p.ToolCall.Arguments) > 0 {
			if raw, err := json.Marshal(p.ToolCall.Arguments); err == nil {
				n += e.counter.Count(string(raw))
			}
		}
		return n
	case p.ToolResult != nil:
		return e.counter.Count(p.ToolResult.Output)
	default:
		return 0
	}
}

// EstimateMessage counts one message including framing overhead.
func (e *Estimator) EstimateMessage(m *Message) int {
	n := perMessageOverhead
	for i := range m.Parts {
		n += e.EstimatePart(&m.Parts[i])
	}
	return n
}

// Estimate counts a whole transcript.
func (e *Estimator) Estimate(msgs []Message) int {
	n := 0
	for i := range msgs {
		n += e.EstimateMessage(&msgs[i])
	}
	return n
}

// Context is the ordered conversation transcript for one session. The token
// estimate is maintained incrementally on append and recomputed from scratch
// after compaction.
type Context struct {
	mu          sync.Mutex
	messages    []Message
	estimate    int
	compactions int
	estimator   *Estimator
}

func NewContext(estimator *Estimator) *Context {
	return &Context{estimator: estimator}
}

// Append adds a message to the end of the transcript.
func (c *Context) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.estimate += c.estimator.EstimateMessage(&msg)
}

// AppendPartToLast extends the most recent message with one more part. Used
// while an assistant message is still being accumulated from deltas.
func (c *Context) AppendPartToLast(part Part) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return fmt.Errorf("append part: context is empty")
	}
	last := &c.messages[len(c.messages)-1]
	last.Parts = append(last.Parts, part)
	c.estimate += c.estimator.EstimatePart(&part)
	return nil
}

// Messages returns a copy of the transcript.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i := range c.messages {
		out[i] = c.messages[i].Clone()
	}
	return out
}

// Len reports the number of messages.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// LastRole reports the role of the final message, or "" when empty.
func (c *Context) LastRole() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].Role
}

// Estimate reports the cached token estimate for the whole transcript.
func (c *Context) Estimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate
}

// Compactions reports how many prefix replacements have been applied.
func (c *Context) Compactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compactions
}

// CompactPrefix replaces the oldest replaced messages with the given summary
// message. The caller decides what to replace; this only applies it. The
// token estimate is recomputed in full since the removed prefix's cached
// contribution is gone.
func (c *Context) CompactPrefix(replaced int, summary Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if replaced < 1 || replaced > len(c.messages) {
		return fmt.Errorf("compact: replaced %d out of range for %d messages", replaced, len(c.messages))
	}
	tail := c.messages[replaced:]
	next := make([]Message, 0, len(tail)+1)
	next = append(next, summary)
	next = append(next, tail...)
	c.messages = next
	c.estimate = c.estimator.Estimate(c.messages)
	c.compactions++
	return nil
}
