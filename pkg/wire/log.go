package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agentcore/pkg/logx"
)

// LogFileName is the session log file inside a session directory.
const LogFileName = "wire.jsonl"

// Log is the append-only durable record of one session. Every line is one
// Message; a message counts as committed only after Append returned, so the
// writer syncs before reporting success. One Log has exactly one writer, which
// the session lock enforces at directory granularity.
type Log struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	logger *logx.Logger
}

// OpenLog opens (or creates) the session log for appending.
func OpenLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log %s: %w", path, err)
	}

	return &Log{
		path:   path,
		file:   file,
		logger: logx.NewLogger("wire"),
	}, nil
}

// Append writes one message as a JSON line and syncs it to disk. On any error
// the message is not committed and the caller must not apply the mutation it
// records.
func (l *Log) Append(msg *Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("session log %s is closed", l.path)
	}

	jsonData, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize wire message: %w", err)
	}

	if _, err := l.file.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write wire message: %w", err)
	}
	if _, err := l.file.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session log: %w", err)
	}

	return nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Close releases the underlying file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// ReadMessages reads every parseable message from a session log in file order.
// A torn trailing line (crash mid-append) and lines that fail to parse are
// skipped with a warning rather than failing the whole replay; the sync
// discipline means such lines were never committed.
func ReadMessages(logFilePath string) ([]*Message, error) {
	data, err := os.ReadFile(logFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	if len(data) == 0 {
		return []*Message{}, nil
	}

	logger := logx.NewLogger("wire")
	var messages []*Message
	line := make([]byte, 0, 256)
	lineNo := 0

	flush := func(complete bool) {
		if len(line) == 0 {
			return
		}
		lineNo++
		msg, err := FromJSON(line)
		if err != nil {
			if complete {
				logger.Warn("skipping unparseable log line %d in %s: %v", lineNo, logFilePath, err)
			} else {
				logger.Warn("skipping torn trailing line in %s", logFilePath)
			}
		} else {
			messages = append(messages, msg)
		}
		line = line[:0]
	}

	for _, b := range data {
		if b == '\n' {
			flush(true)
		} else {
			line = append(line, b)
		}
	}
	flush(false)

	return messages, nil
}

// LastSeq returns the highest sequence number recorded in a session log, or 0
// for an empty log. Resumed emitters continue the series from this value.
func LastSeq(logFilePath string) (uint64, error) {
	messages, err := ReadMessages(logFilePath)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, msg := range messages {
		if msg.Seq > last {
			last = msg.Seq
		}
	}
	return last, nil
}
