// Package logger provides the service's zerolog logger and the in-memory
// buffer of recent lines served by /api/logs.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxLogs = 100

// New returns a logger writing JSON to stdout and to buf (if non-nil), and
// installs it as the zerolog global.
func New(serviceName, level string, buf *Buffer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if buf != nil {
		w = zerolog.MultiLevelWriter(os.Stdout, buf)
	}

	l := zerolog.New(w).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(lvl)
	log.Logger = l
	return l
}

// Buffer keeps the last maxLogs log lines.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
	limit int
}

func NewBuffer() *Buffer {
	return &Buffer{limit: maxLogs}
}

func (b *Buffer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, msg)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
