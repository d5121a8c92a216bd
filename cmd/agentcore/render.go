package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"agentcore/pkg/wire"
)

// maxArgPreview caps tool argument previews in terminal output.
const maxArgPreview = 120

// renderer prints wire traffic as human-readable terminal lines. It
// implements wire.Sink so the interactive mode can attach it straight to the
// session emitter. Approval requests are skipped: the terminal gate owns
// that exchange. Subagent traffic renders indented under the call that
// spawned it.
type renderer struct {
	out io.Writer
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Deliver implements wire.Sink.
func (r *renderer) Deliver(msg *wire.Message) {
	if msg.Type != wire.TypeEvent || msg.Event == nil {
		return
	}

	indent := ""
	if msg.ParentID != "" {
		indent = "    "
	}

	ev := msg.Event
	switch ev.Kind {
	case wire.EventTurnBegin:
		// The user just typed this; echo only for subagents, where the
		// prompt came from the model.
		if msg.ParentID != "" && ev.TurnBegin != nil {
			fmt.Fprintf(r.out, "%s◦ subagent task: %s\n", indent, oneLine(ev.TurnBegin.UserInput, maxArgPreview))
		}

	case wire.EventAssistantDelta:
		if ev.AssistantDelta == nil {
			return
		}
		if ev.AssistantDelta.Thinking {
			fmt.Fprintf(r.out, "%s💭 %s\n", indent, oneLine(ev.AssistantDelta.Text, maxArgPreview))
			return
		}
		r.writeBlock(indent, ev.AssistantDelta.Text)

	case wire.EventToolCallStarted:
		if ev.ToolCallStarted == nil {
			return
		}
		line := ev.ToolCallStarted.Tool
		if args := renderArgs(ev.ToolCallStarted.Arguments); args != "" {
			line += " " + args
		}
		fmt.Fprintf(r.out, "%s🔧 %s\n", indent, line)

	case wire.EventToolCallResult:
		if ev.ToolCallResult == nil {
			return
		}
		res := ev.ToolCallResult
		switch res.Status {
		case wire.ResultCompleted:
			fmt.Fprintf(r.out, "%s   ✅ %s\n", indent, summarizeOutput(res.Output))
		case wire.ResultFailed:
			fmt.Fprintf(r.out, "%s   ❌ %s\n", indent, oneLine(res.Output, maxArgPreview))
		case wire.ResultDenied:
			fmt.Fprintf(r.out, "%s   🚫 denied\n", indent)
		case wire.ResultInterrupted:
			fmt.Fprintf(r.out, "%s   ⚠️  interrupted\n", indent)
		}

	case wire.EventStatusUpdate:
		if ev.StatusUpdate == nil {
			return
		}
		fmt.Fprintf(r.out, "%sℹ️  %s: %s\n", indent, ev.StatusUpdate.Stage, ev.StatusUpdate.Detail)

	case wire.EventTurnEnd:
		if ev.TurnEnd == nil {
			return
		}
		switch ev.TurnEnd.Outcome {
		case wire.OutcomeFailed:
			fmt.Fprintf(r.out, "%s❌ turn failed: %s\n", indent, ev.TurnEnd.Cause)
		case wire.OutcomeInterrupted:
			fmt.Fprintf(r.out, "%s⚠️  turn interrupted\n", indent)
		case wire.OutcomeCompleted:
			// The assistant's closing text already printed.
		}

	case wire.EventError:
		if ev.Error == nil {
			return
		}
		fmt.Fprintf(r.out, "%s❌ %s\n", indent, ev.Error.Message)
	}
}

// writeBlock prints multi-line assistant text with the indent applied to
// every line.
func (r *renderer) writeBlock(indent, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(r.out, "%s%s\n", indent, line)
	}
}

// renderArgs flattens tool arguments into one bounded JSON-ish line.
func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("(%d args)", len(args))
	}
	return oneLine(string(data), maxArgPreview)
}

// summarizeOutput reduces tool output to a short first-line preview.
func summarizeOutput(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "done"
	}
	lines := strings.Count(output, "\n") + 1
	preview := oneLine(output, maxArgPreview)
	if lines > 1 {
		return fmt.Sprintf("%s (+%d lines)", preview, lines-1)
	}
	return preview
}

// oneLine collapses text to a single line truncated at max bytes.
func oneLine(text string, max int) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i] + " …"
	}
	if len(text) > max {
		text = text[:max] + "…"
	}
	return text
}
