package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"agentcore/pkg/config"
	"agentcore/pkg/wire"
)

// ctrlC is the raw-mode byte for Ctrl-C; raw terminals deliver it as input
// instead of raising SIGINT.
const ctrlC = 0x03

// terminalIO is the single reader for interactive stdin. The prompt loop and
// the approval gate both read through it, so type-ahead is never split
// between two buffers.
type terminalIO struct {
	in  *os.File
	rd  *bufio.Reader
	out io.Writer
}

func newTerminalIO(in *os.File, out io.Writer) *terminalIO {
	return &terminalIO{in: in, rd: bufio.NewReader(in), out: out}
}

// ReadLine reads one line in cooked mode. io.EOF with no content means the
// input closed (Ctrl-D at an empty prompt).
func (t *terminalIO) ReadLine() (string, error) {
	line, err := t.rd.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

// ReadKey reads a single keystroke in raw mode. Without a terminal (piped
// input) it degrades to reading a line and using its first byte.
func (t *terminalIO) ReadKey() (byte, error) {
	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer func() { _ = term.Restore(fd, oldState) }()
			return t.rd.ReadByte()
		}
	}

	line, err := t.ReadLine()
	if err != nil {
		return 0, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}
	return line[0], nil
}

// terminalGate resolves approvals at the terminal with one keystroke:
// y approves, a approves and grants always-allow, anything else denies.
// Ctrl-C at the prompt interrupts the turn.
type terminalGate struct {
	io          *terminalIO
	onInterrupt func()
}

// Decide implements hub.Gate.
func (g *terminalGate) Decide(ctx context.Context, req *wire.ApprovalRequest) (wire.Decision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(g.io.out, "\n🔐 approval needed: %s %s\n", req.Tool, renderArgs(req.Arguments))
	fmt.Fprintf(g.io.out, "   [y] approve  [a] always allow  [n] deny: ")

	key, err := g.io.ReadKey()
	if err != nil {
		fmt.Fprintln(g.io.out)
		return "", fmt.Errorf("approval prompt: %w", err)
	}

	switch key {
	case ctrlC:
		fmt.Fprintln(g.io.out, "^C")
		if g.onInterrupt != nil {
			g.onInterrupt()
		}
		return "", context.Canceled
	case 'y', 'Y':
		fmt.Fprintln(g.io.out, "approve")
		return wire.DecisionApprove, nil
	case 'a', 'A':
		fmt.Fprintln(g.io.out, "always allow")
		return wire.DecisionAlwaysAllow, nil
	default:
		fmt.Fprintln(g.io.out, "deny")
		return wire.DecisionDeny, nil
	}
}

// promptAPIKey asks for a provider key with hidden input and offers to store
// it in the config, encrypted when a passphrase is in the environment.
func promptAPIKey(tio *terminalIO, providerName string) (string, error) {
	fmt.Fprintf(tio.out, "🔑 No API key configured for provider '%s'.\n", providerName)
	fmt.Fprintf(tio.out, "Enter API key (input hidden): ")

	var (
		key string
		err error
	)
	if term.IsTerminal(syscall.Stdin) {
		var raw []byte
		raw, err = term.ReadPassword(syscall.Stdin)
		fmt.Fprintln(tio.out)
		key = string(raw)
	} else {
		key, err = tio.ReadLine()
	}
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("no API key entered")
	}

	fmt.Fprintf(tio.out, "Store it in config.json for next time? [y/N]: ")
	answer, err := tio.ReadLine()
	if err == nil && strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		storeAPIKey(tio.out, providerName, key)
	}
	return key, nil
}

func storeAPIKey(out io.Writer, providerName, key string) {
	stored := key
	encrypted := false
	if passphrase := os.Getenv(config.EnvPassphrase); passphrase != "" {
		blob, err := config.EncryptAPIKey(key, passphrase)
		if err != nil {
			fmt.Fprintf(out, "⚠️  Encryption failed, not storing the key: %v\n", err)
			return
		}
		stored = blob
		encrypted = true
	}

	if err := config.UpdateProviderKey(providerName, stored); err != nil {
		fmt.Fprintf(out, "⚠️  Failed to store API key: %v\n", err)
		return
	}
	if encrypted {
		fmt.Fprintln(out, "✅ Stored encrypted.")
	} else {
		fmt.Fprintf(out, "✅ Stored in plaintext. Set %s to store keys encrypted.\n", config.EnvPassphrase)
	}
}

// runInteractiveMode is the default terminal experience: a prompt loop that
// runs one turn per input line, rendering events as they happen.
func runInteractiveMode(ctx context.Context, opts cliOptions, shareDir string) int {
	tio := newTerminalIO(os.Stdin, os.Stdout)
	gate := &terminalGate{io: tio}

	fmt.Println("⏳ Starting up...")
	eng, err := buildEngine(engineOptions{
		cliOptions: opts,
		ShareDir:   shareDir,
		Gate:       gate,
		KeyPrompt: func(providerName string) (string, error) {
			return promptAPIKey(tio, providerName)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %s\n", exitMessage(err))
		return 1
	}
	defer eng.Close()
	gate.onInterrupt = func() { eng.Interrupt() }

	eng.emitter.Attach(newRenderer(os.Stdout))

	fmt.Printf("🤖 agent %s | model %s | session %s\n", eng.spec.Name, eng.client.ModelName(), eng.sess.ID)
	if eng.sess.Resumed {
		fmt.Printf("🔄 resumed with %d context messages\n", eng.store.Context().Len())
	}
	fmt.Println("Type a task. 'exit' quits; Ctrl-C interrupts a running turn.")

	// Ctrl-C during a turn interrupts the turn; at an idle prompt it exits.
	// Raw-mode prompts never get here, the gate sees the byte directly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if eng.Interrupt() {
				fmt.Println("\n⚠️  Interrupting...")
				continue
			}
			fmt.Println("\nBye.")
			eng.Close()
			os.Exit(130)
		}
	}()

	return promptLoop(ctx, eng, tio)
}

func promptLoop(ctx context.Context, eng *engine, tio *terminalIO) int {
	for {
		if ctx.Err() != nil {
			return 0
		}
		fmt.Fprint(tio.out, "\n> ")

		line, err := tio.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(tio.out, "Bye.")
				return 0
			}
			fmt.Fprintf(os.Stderr, "Input error: %v\n", err)
			return 1
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(tio.out, "Bye.")
			return 0
		}

		if _, err := eng.RunTurn(ctx, line); err != nil {
			// Engine-fatal: the session log can no longer be trusted.
			fmt.Fprintf(os.Stderr, "❌ engine failure: %v\n", err)
			return 1
		}
	}
}
