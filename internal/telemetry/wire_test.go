package telemetry

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestReadBatch_StopsAtTerminator(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("1;2;3;4;5;100:6;7;8;9;10;200zTRAILING"))
	b, err := ReadBatch(r, 0)
	if err != nil {
		t.Fatalf("ReadBatch() error: %v", err)
	}
	if got, want := string(b), "1;2;3;4;5;100:6;7;8;9;10;200"; got != want {
		t.Fatalf("payload=%q want %q", got, want)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "TRAILING" {
		t.Fatalf("rest=%q", rest)
	}
}

func TestReadBatch_EmptyBatch(t *testing.T) {
	b, err := ReadBatch(bufio.NewReader(strings.NewReader("z")), 16)
	if err != nil {
		t.Fatalf("ReadBatch() error: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("payload=%q want empty", b)
	}
}

func TestReadBatch_EOFBeforeTerminator(t *testing.T) {
	_, err := ReadBatch(bufio.NewReader(strings.NewReader("1;2;3")), 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want io.EOF", err)
	}
}

func TestReadBatch_TooLarge(t *testing.T) {
	// Larger than the bufio buffer so the ErrBufferFull path is exercised.
	long := strings.Repeat("1", 8192) + "z"
	_, err := ReadBatch(bufio.NewReaderSize(strings.NewReader(long), 16), 1024)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("err=%v want ErrBatchTooLarge", err)
	}

	_, err = ReadBatch(bufio.NewReader(strings.NewReader("12345z")), 4)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("err=%v want ErrBatchTooLarge", err)
	}
}

func TestReadBatch_LargeWithinLimit(t *testing.T) {
	long := strings.Repeat("1;2;3;4;5;6:", 1000)
	b, err := ReadBatch(bufio.NewReaderSize(strings.NewReader(long+"z"), 16), len(long))
	if err != nil {
		t.Fatalf("ReadBatch() error: %v", err)
	}
	if string(b) != long {
		t.Fatalf("payload length=%d want %d", len(b), len(long))
	}
}

func TestReadBatch_BlocksUntilTerminator(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan string, 1)
	go func() {
		b, _ := ReadBatch(bufio.NewReader(server), 0)
		done <- string(b)
	}()

	_, _ = client.Write([]byte("1;2;3;4;5;100"))
	select {
	case <-done:
		t.Fatal("ReadBatch returned before terminator")
	case <-time.After(50 * time.Millisecond):
	}

	_, _ = client.Write([]byte("z"))
	select {
	case got := <-done:
		if got != "1;2;3;4;5;100" {
			t.Fatalf("payload=%q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadBatch did not return after terminator")
	}
}
