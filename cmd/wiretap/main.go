// Wiretap is the offline inspector for session wire logs. It prints traffic
// statistics, verifies that sequence numbers are gapless, and replays the log
// twice to confirm the reconstructed context is deterministic.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"agentcore/pkg/store"
	"agentcore/pkg/tokens"
	"agentcore/pkg/wire"
)

// TapConfig holds configuration for the inspector.
type TapConfig struct {
	LogFile string
	Dump    bool
	Verbose bool
}

func main() {
	var config TapConfig
	var showHelp bool

	flag.StringVar(&config.LogFile, "log", "", "Path to session wire.jsonl log file")
	flag.BoolVar(&config.Dump, "dump", false, "Print every logged message as a readable line")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose output")
	flag.BoolVar(&showHelp, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Wiretap - Offline Session Log Inspector\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s -log <wire.jsonl> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Description:\n")
		fmt.Fprintf(os.Stderr, "  Reads a session wire log, prints traffic statistics, checks that the\n")
		fmt.Fprintf(os.Stderr, "  message sequence is gapless, and replays the log twice to confirm the\n")
		fmt.Fprintf(os.Stderr, "  reconstructed context is deterministic.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -log ~/.agentcore/sessions/3f8a/0198c2/wire.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -log wire.jsonl -dump -verbose\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if config.LogFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -log flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	exitCode, err := runWiretap(config, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func runWiretap(config TapConfig, out io.Writer) (int, error) {
	messages, err := wire.ReadMessages(config.LogFile)
	if err != nil {
		return 1, fmt.Errorf("failed to read log: %w", err)
	}
	if len(messages) == 0 {
		return 1, fmt.Errorf("log %s contains no messages", config.LogFile)
	}

	if config.Dump {
		dumpMessages(out, messages)
		fmt.Fprintf(out, "\n")
	}

	printStats(out, config.LogFile, collectStats(messages))

	if config.Verbose {
		printTurns(out, messages)
	}

	problems := 0

	if gaps := sequenceGaps(messages); len(gaps) > 0 {
		problems += len(gaps)
		for _, gap := range gaps {
			fmt.Fprintf(out, "🚨 %s\n", gap)
		}
	} else {
		fmt.Fprintf(out, "✅ Sequence continuous: %d..%d\n", messages[0].Seq, messages[len(messages)-1].Seq)
	}

	res, err := replayTwice(config.LogFile)
	if err != nil {
		problems++
		fmt.Fprintf(out, "🚨 Replay check failed: %v\n", err)
	} else {
		fmt.Fprintf(out, "✅ Replay deterministic: %d context messages, last seq %d\n",
			res.Context.Len(), res.LastSeq)
		printReplayDetail(out, res, config.Verbose)
	}

	fmt.Fprintf(out, "\n")
	if problems > 0 {
		fmt.Fprintf(out, "🚨 Inspection FAILED: %d problem(s) found\n", problems)
		return 1, nil
	}
	fmt.Fprintf(out, "✅ Inspection PASSED: %d messages verified\n", len(messages))
	return 0, nil
}

// sequenceGaps reports every break in the strict +1 sequence contract.
func sequenceGaps(messages []*wire.Message) []string {
	var gaps []string
	if messages[0].Seq != 1 {
		gaps = append(gaps, fmt.Sprintf("log starts at seq %d, expected 1", messages[0].Seq))
	}
	prev := messages[0].Seq
	for _, msg := range messages[1:] {
		if msg.Seq != prev+1 {
			gaps = append(gaps, fmt.Sprintf("sequence gap: seq %d follows %d", msg.Seq, prev))
		}
		prev = msg.Seq
	}
	return gaps
}

// replayTwice reconstructs the context twice with independent estimators and
// confirms both passes agree. Replay must be a pure function of the log.
func replayTwice(logFile string) (*store.ReplayResult, error) {
	first, err := store.Replay(logFile, store.NewEstimator(tokens.NewFallbackCounter()))
	if err != nil {
		return nil, err
	}
	second, err := store.Replay(logFile, store.NewEstimator(tokens.NewFallbackCounter()))
	if err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(first.Context.Messages(), second.Context.Messages()) {
		return nil, fmt.Errorf("two replay passes reconstructed different contexts")
	}
	if first.LastSeq != second.LastSeq || first.LastTurnID != second.LastTurnID {
		return nil, fmt.Errorf("two replay passes disagree on the log position")
	}
	return first, nil
}

func printReplayDetail(out io.Writer, res *store.ReplayResult, verbose bool) {
	if res.LastTurnID != "" {
		fmt.Fprintf(out, "⚠️  Log ends inside turn %s with %d unresolved call(s)\n",
			res.LastTurnID, len(res.Interrupted))
		for _, call := range res.Interrupted {
			state := "executing"
			if call.AwaitingApproval {
				state = "awaiting approval"
			}
			fmt.Fprintf(out, "   • %s (%s, %s)\n", call.ToolCallID, call.Tool, state)
		}
	}
	if verbose && len(res.AlwaysAllowed) > 0 {
		fmt.Fprintf(out, "🔓 Always-allowed tools: %s\n", strings.Join(res.AlwaysAllowed, ", "))
	}
}

// logStats are the counters printed in the summary block.
type logStats struct {
	Messages    int
	Requests    int
	Responses   int
	Subagent    int
	TurnsBegun  int
	TurnsEnded  map[wire.TurnOutcome]int
	ToolCalls   int
	Results     map[wire.ResultStatus]int
	Compactions int
	Resumes     int
	Errors      int
	First, Last time.Time
}

//nolint:cyclop // flat counting switch
func collectStats(messages []*wire.Message) *logStats {
	stats := &logStats{
		TurnsEnded: make(map[wire.TurnOutcome]int),
		Results:    make(map[wire.ResultStatus]int),
		First:      messages[0].Timestamp,
		Last:       messages[len(messages)-1].Timestamp,
	}

	for _, msg := range messages {
		stats.Messages++
		if msg.ParentID != "" {
			stats.Subagent++
		}
		if msg.Type == wire.TypeRequest {
			stats.Requests++
			continue
		}
		if msg.Type == wire.TypeResponse {
			stats.Responses++
			continue
		}

		switch msg.EventKind() {
		case wire.EventTurnBegin:
			if msg.ParentID == "" {
				stats.TurnsBegun++
			}
		case wire.EventTurnEnd:
			if msg.ParentID == "" && msg.Event.TurnEnd != nil {
				stats.TurnsEnded[msg.Event.TurnEnd.Outcome]++
			}
		case wire.EventToolCallStarted:
			stats.ToolCalls++
		case wire.EventToolCallResult:
			if msg.Event.ToolCallResult != nil {
				stats.Results[msg.Event.ToolCallResult.Status]++
			}
		case wire.EventStatusUpdate:
			if msg.Event.StatusUpdate == nil {
				continue
			}
			switch msg.Event.StatusUpdate.Stage {
			case wire.StageCompaction:
				stats.Compactions++
			case wire.StageResume:
				stats.Resumes++
			}
		case wire.EventError:
			stats.Errors++
		}
	}
	return stats
}

func printStats(out io.Writer, logFile string, stats *logStats) {
	fmt.Fprintf(out, "📊 %s\n", logFile)
	fmt.Fprintf(out, "   messages:   %d (%d requests, %d responses, %d subagent)\n",
		stats.Messages, stats.Requests, stats.Responses, stats.Subagent)
	fmt.Fprintf(out, "   span:       %s → %s\n",
		stats.First.Format(time.RFC3339), stats.Last.Format(time.RFC3339))
	fmt.Fprintf(out, "   turns:      %d begun (%d completed, %d failed, %d interrupted)\n",
		stats.TurnsBegun,
		stats.TurnsEnded[wire.OutcomeCompleted],
		stats.TurnsEnded[wire.OutcomeFailed],
		stats.TurnsEnded[wire.OutcomeInterrupted])
	fmt.Fprintf(out, "   tool calls: %d started (%d completed, %d failed, %d denied, %d interrupted)\n",
		stats.ToolCalls,
		stats.Results[wire.ResultCompleted],
		stats.Results[wire.ResultFailed],
		stats.Results[wire.ResultDenied],
		stats.Results[wire.ResultInterrupted])
	if stats.Compactions > 0 || stats.Resumes > 0 {
		fmt.Fprintf(out, "   lifecycle:  %d compaction(s), %d resume(s)\n", stats.Compactions, stats.Resumes)
	}
	if stats.Errors > 0 {
		fmt.Fprintf(out, "   errors:     %d\n", stats.Errors)
	}
	fmt.Fprintf(out, "\n")
}

// printTurns lists each closed top-level turn with its outcome and input.
func printTurns(out io.Writer, messages []*wire.Message) {
	fmt.Fprintf(out, "Turns:\n")
	inputs := make(map[string]string)
	for _, msg := range messages {
		if msg.ParentID != "" || msg.Type != wire.TypeEvent {
			continue
		}
		switch msg.EventKind() {
		case wire.EventTurnBegin:
			if msg.Event.TurnBegin != nil {
				inputs[msg.TurnID] = msg.Event.TurnBegin.UserInput
			}
		case wire.EventTurnEnd:
			if msg.Event.TurnEnd == nil {
				continue
			}
			icon := "✅"
			switch msg.Event.TurnEnd.Outcome {
			case wire.OutcomeFailed:
				icon = "❌"
			case wire.OutcomeInterrupted:
				icon = "⚠️ "
			case wire.OutcomeCompleted:
			}
			fmt.Fprintf(out, "  %s %s  %q\n", icon, msg.TurnID, preview(inputs[msg.TurnID], 60))
		}
	}
	fmt.Fprintf(out, "\n")
}

func dumpMessages(out io.Writer, messages []*wire.Message) {
	for _, msg := range messages {
		marker := " "
		if msg.ParentID != "" {
			marker = "↳"
		}
		fmt.Fprintf(out, "%6d %s %s %s\n",
			msg.Seq, msg.Timestamp.Format("15:04:05"), marker, describe(msg))
	}
}

// describe renders one message as a single dump line. Payloads that fail the
// union contract degrade to their kind instead of crashing the inspector.
//
//nolint:cyclop // flat formatting switch
func describe(msg *wire.Message) string {
	switch msg.Type {
	case wire.TypeRequest:
		if msg.Request != nil && msg.Request.Approval != nil {
			return fmt.Sprintf("approval_request   %s %s", msg.Request.Approval.ID, msg.Request.Approval.Tool)
		}
		if msg.Request != nil && msg.Request.UserInput != nil {
			return fmt.Sprintf("user_input         %q", preview(msg.Request.UserInput.Text, 60))
		}
		return "request"
	case wire.TypeResponse:
		if msg.Response != nil && msg.Response.Approval != nil {
			return fmt.Sprintf("approval_response  %s %s", msg.Response.Approval.RequestID, msg.Response.Approval.Decision)
		}
		return "response"
	case wire.TypeEvent:
		// Fall through to the event switch below.
	default:
		return string(msg.Type)
	}

	ev := msg.Event
	if ev == nil {
		return "event"
	}
	switch ev.Kind {
	case wire.EventTurnBegin:
		if ev.TurnBegin != nil {
			return fmt.Sprintf("turn_begin         %q", preview(ev.TurnBegin.UserInput, 60))
		}
	case wire.EventAssistantDelta:
		if ev.AssistantDelta != nil {
			label := "assistant"
			if ev.AssistantDelta.Thinking {
				label = "thinking"
			}
			return fmt.Sprintf("%-18s %q", label, preview(ev.AssistantDelta.Text, 60))
		}
	case wire.EventToolCallStarted:
		if ev.ToolCallStarted != nil {
			return fmt.Sprintf("tool_call_started  %s %s %s",
				msg.ToolCallID, ev.ToolCallStarted.Tool, previewArgs(ev.ToolCallStarted.Arguments))
		}
	case wire.EventToolCallResult:
		if ev.ToolCallResult != nil {
			return fmt.Sprintf("tool_call_result   %s %s %s %q",
				msg.ToolCallID, ev.ToolCallResult.Tool, ev.ToolCallResult.Status,
				preview(ev.ToolCallResult.Output, 60))
		}
	case wire.EventStatusUpdate:
		if ev.StatusUpdate != nil {
			return fmt.Sprintf("status_update      %s %s", ev.StatusUpdate.Stage, preview(ev.StatusUpdate.Detail, 60))
		}
	case wire.EventTurnEnd:
		if ev.TurnEnd != nil {
			if ev.TurnEnd.Cause != "" {
				return fmt.Sprintf("turn_end           %s: %s", ev.TurnEnd.Outcome, preview(ev.TurnEnd.Cause, 60))
			}
			return fmt.Sprintf("turn_end           %s", ev.TurnEnd.Outcome)
		}
	case wire.EventError:
		if ev.Error != nil {
			return fmt.Sprintf("error              %s", preview(ev.Error.Message, 80))
		}
	}
	return string(ev.Kind)
}

// preview collapses text to one bounded line.
func preview(text string, max int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > max {
		text = text[:max] + "…"
	}
	return text
}

func previewArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("(%d args)", len(args))
	}
	return preview(string(data), 60)
}
