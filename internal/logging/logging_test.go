package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogBuffer_JoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("first li"))
	_, _ = b.Write([]byte("ne\nsecond\nthi"))

	lines, _ := b.Snapshot(0)
	if len(lines) != 2 || lines[0] != "first line" || lines[1] != "second" {
		t.Fatalf("lines=%q", lines)
	}

	_, _ = b.Write([]byte("rd\r\n"))
	lines, _ = b.Snapshot(0)
	if len(lines) != 3 || lines[2] != "third" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBuffer_EvictsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		_, _ = fmt.Fprintf(b, "line %d\n", i)
	}
	lines, dropped := b.Snapshot(10)
	if dropped != 2 {
		t.Fatalf("dropped=%d want 2", dropped)
	}
	if len(lines) != 3 || lines[0] != "line 2" || lines[2] != "line 4" {
		t.Fatalf("lines=%q", lines)
	}

	lines, _ = b.Snapshot(1)
	if len(lines) != 1 || lines[0] != "line 4" {
		t.Fatalf("tail=%q", lines)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"", zapcore.InfoLevel, true},
		{"info", zapcore.InfoLevel, true},
		{"DEBUG", zapcore.DebugLevel, true},
		{" warn ", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"fatal", 0, false},
		{"verbose", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseLevel(%q) = %v, %v want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseLevel(%q) expected error", tc.in)
		}
	}
}

func TestNew_TeesToBuffer(t *testing.T) {
	var stderr bytes.Buffer
	buf := NewLogBuffer(100)
	log := newWith(zapcore.InfoLevel, zapcore.AddSync(&stderr), buf)

	log.Debug("hidden")
	log.Info("batch stored", zap.Int("records", 2))
	_ = log.Sync()

	lines, _ := buf.Snapshot(0)
	if len(lines) != 1 || !strings.Contains(lines[0], "batch stored") || !strings.Contains(lines[0], `"records": 2`) {
		t.Fatalf("buffer lines=%q", lines)
	}
	if !strings.Contains(stderr.String(), "batch stored") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", nil); err == nil {
		t.Fatal("expected error")
	}
}
