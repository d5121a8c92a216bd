// Command agentcore runs the coding agent against a working directory.
//
// The default mode is an interactive terminal session: events print as lines
// and tool approvals prompt on the terminal. With --wire the process instead
// serves the line-delimited protocol over stdio for an external UI; all
// diagnostics go to stderr so stdout stays a clean protocol channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agentcore/pkg/config"
	"agentcore/pkg/logx"
	"agentcore/pkg/session"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliOptions is the parsed command line.
type cliOptions struct {
	WorkDir      string
	Model        string
	AgentFile    string
	SessionID    string
	ContinueLast bool
	Wire         bool
	Yolo         bool
}

func main() {
	var (
		opts          cliOptions
		listSessions  bool
		deleteSession string
		debug         bool
		showVersion   bool
	)
	flag.StringVar(&opts.WorkDir, "workdir", ".", "Working directory the agent operates in")
	flag.StringVar(&opts.Model, "model", "", "Model name (default: configured default_model)")
	flag.StringVar(&opts.AgentFile, "agent", "", "Agent spec YAML file (default: embedded spec)")
	flag.StringVar(&opts.SessionID, "session", "", "Resume the session with this id")
	flag.BoolVar(&opts.ContinueLast, "continue", false, "Resume the most recent session for this working directory")
	flag.BoolVar(&opts.Wire, "wire", false, "Serve the wire protocol over stdio instead of the interactive terminal")
	flag.BoolVar(&opts.Yolo, "yolo", false, "Skip all tool approvals for this session")
	flag.BoolVar(&listSessions, "list-sessions", false, "List sessions for this working directory and exit")
	flag.StringVar(&deleteSession, "delete-session", "", "Delete the session with this id and exit")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "agentcore - interactive coding agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s --workdir ~/src/myproject\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --continue\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --wire --session 2f1c... --workdir ~/src/myproject\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("agentcore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}
	if debug {
		logx.SetDebug(true)
	}

	os.Exit(run(opts, listSessions, deleteSession))
}

// run contains the main application logic and returns an exit code. This
// allows defers to execute before os.Exit is called.
func run(opts cliOptions, listSessions bool, deleteSession string) int {
	if opts.SessionID != "" && opts.ContinueLast {
		fmt.Fprintln(os.Stderr, "Error: --session and --continue are mutually exclusive")
		return 1
	}

	shareDir, err := config.DefaultShareDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := config.LoadConfig(shareDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if listSessions {
		return runListSessions(shareDir, opts.WorkDir)
	}
	if deleteSession != "" {
		return runDeleteSession(shareDir, opts.WorkDir, deleteSession)
	}

	// SIGTERM always tears the process down; SIGINT is handled per mode so
	// an interactive Ctrl-C can interrupt the turn instead of the process.
	signals := []os.Signal{syscall.SIGTERM}
	if opts.Wire {
		signals = append(signals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	if opts.Wire {
		return runWireMode(ctx, opts, shareDir)
	}
	return runInteractiveMode(ctx, opts, shareDir)
}

func runListSessions(shareDir, workDir string) int {
	mgr, err := session.NewManager(shareDir, workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = mgr.Close() }()

	records, err := mgr.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Printf("No sessions for %s\n", mgr.WorkDir())
		return 0
	}

	fmt.Printf("Sessions for %s (newest first):\n", mgr.WorkDir())
	for _, rec := range records {
		fmt.Printf("  %s  created %s  last used %s  %d turns\n",
			rec.ID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.UpdatedAt.Local().Format("2006-01-02 15:04"),
			rec.Turns)
	}
	return 0
}

func runDeleteSession(shareDir, workDir, id string) int {
	mgr, err := session.NewManager(shareDir, workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = mgr.Close() }()

	if err := mgr.Delete(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted session %s\n", id)
	return 0
}

// exitMessage renders a startup failure for the terminal, unwrapping the
// errors users can act on.
func exitMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrLocked):
		return fmt.Sprintf("%v\nAnother agentcore process owns this session. Close it first or start a new session.", err)
	case errors.Is(err, session.ErrNoSessions):
		return fmt.Sprintf("%v\nRun without --continue to start a new one.", err)
	case errors.Is(err, session.ErrSessionNotFound):
		return fmt.Sprintf("%v\nUse --list-sessions to see what exists.", err)
	default:
		return err.Error()
	}
}
