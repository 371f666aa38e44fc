package dashboard

import (
	"bytes"
	"sync"
)

const logBufferLines = 100

// LogBuffer is an io.Writer keeping the most recent log lines for the
// dashboard's /logs endpoint. Wire it into zerolog with a multi-level
// writer next to the console writer.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{lines: make([]string, 0, logBufferLines)}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))
	if line == "" {
		return len(p), nil
	}

	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > logBufferLines {
		b.lines = b.lines[len(b.lines)-logBufferLines:]
	}
	b.mu.Unlock()
	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
