package logging

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
)

// LogBuffer keeps the most recent log lines in memory. It is safe for
// concurrent use and implements io.Writer so it can back a zap core.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write splits p into lines. A trailing fragment without a newline is held
// until the next Write completes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append([]byte(b.partial), p...)
	b.partial = ""

	complete := data
	if i := bytes.LastIndexByte(data, '\n'); i < 0 {
		b.partial = string(data)
		return len(p), nil
	} else if i < len(data)-1 {
		b.partial = string(data[i+1:])
		complete = data[:i+1]
	}

	scanner := bufio.NewScanner(bytes.NewReader(complete))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.appendLineLocked(scanner.Text())
	}
	return len(p), nil
}

// Sync satisfies zapcore.WriteSyncer.
func (b *LogBuffer) Sync() error { return nil }

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

// Snapshot returns up to tail of the newest lines (200 when tail <= 0) and
// the number of lines evicted so far.
func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped = b.dropped
	if tail <= 0 {
		tail = 200
	}
	if tail > len(b.lines) {
		tail = len(b.lines)
	}
	lines = append([]string(nil), b.lines[len(b.lines)-tail:]...)
	return lines, dropped
}
