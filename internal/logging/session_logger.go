package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const logDir = "review_logs"

// SessionLogger writes structured logs for a single review session to a
// per-session file under review_logs/ and, optionally, to the console.
type SessionLogger struct {
	zerolog.Logger

	file *os.File
}

// NewSessionLogger creates the session log file and returns a logger tagged
// with the session id. Console output goes through zerolog's console writer.
func NewSessionLogger(sessionID string, console bool) (*SessionLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("review_%s_%s.log", sessionID, time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(logDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	var w io.Writer = file
	if console {
		w = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("session_id", sessionID).
		Logger()

	return &SessionLogger{Logger: logger, file: file}, nil
}

// Component returns a child logger tagged with a component name.
func (l *SessionLogger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close flushes and closes the underlying log file.
func (l *SessionLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
