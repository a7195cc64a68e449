package plot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gpsserver/internal/telemetry"
)

func sampleTrack() []telemetry.Record {
	return []telemetry.Record{
		{Time: 1000, Latitude: 45.0, Longitude: -122.0, Altitude: 100, Distance: 0, Speed: 0},
		{Time: 2000, Latitude: 45.001, Longitude: -122.0, Altitude: 110, Distance: 111, Speed: 111},
		{Time: 3000, Latitude: 45.001, Longitude: -122.002, Altitude: 105, Distance: 157, Speed: 157},
	}
}

func TestRender_WritesJPEGs(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir, 200, 150)
	if err := r.Render(sampleTrack()); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	for _, name := range Files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		// JPEG SOI marker.
		if !bytes.HasPrefix(b, []byte{0xFF, 0xD8}) {
			t.Fatalf("%s is not a jpeg", name)
		}
	}
	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	if len(entries) != len(Files) {
		t.Fatalf("dir has %d entries want %d", len(entries), len(Files))
	}
}

func TestRender_SinglePoint(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir, 100, 100)
	if err := r.Render(sampleTrack()[:1]); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, PathFile)); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestRender_EmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	if err := NewRenderer(dir, 100, 100).Render(nil); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
}

func TestSeries_CumulativeDistance(t *testing.T) {
	path, speed, alt := series(sampleTrack())
	if got := speed[2].X; got != 268 {
		t.Fatalf("cumulative distance=%v want 268", got)
	}
	if alt[1].X != 111 || alt[1].Y != 110 {
		t.Fatalf("alt[1]=%+v", alt[1])
	}
	if path[2].X != -122.002 || path[2].Y != 45.001 {
		t.Fatalf("path[2]=%+v", path[2])
	}
}

type sliceSource struct {
	mu    sync.Mutex
	recs  []telemetry.Record
	calls atomic.Int32
}

func (s *sliceSource) Values() []telemetry.Record {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Record(nil), s.recs...)
}

func TestQueue_RendersOnNotify(t *testing.T) {
	dir := t.TempDir()
	src := &sliceSource{}
	q := NewQueue(src, NewRenderer(dir, 100, 100), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	src.mu.Lock()
	src.recs = sampleTrack()
	src.mu.Unlock()
	q.Notify()

	deadline := time.Now().Add(5 * time.Second)
	for q.Snapshot().Renders == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no render after Notify")
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap := q.Snapshot()
	if snap.LastRecords != 3 || snap.LastRenderUTC == "" || snap.LastError != "" {
		t.Fatalf("snapshot=%+v", snap)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestQueue_NotifyCoalesces(t *testing.T) {
	src := &sliceSource{}
	q := NewQueue(src, NewRenderer(t.TempDir(), 100, 100), nil)
	// Without a running loop, Notify must not block and only one request
	// is buffered.
	for i := 0; i < 100; i++ {
		q.Notify()
	}
	if len(q.wake) != 1 {
		t.Fatalf("pending=%d want 1", len(q.wake))
	}
}

func TestQueue_RecordsFailure(t *testing.T) {
	// A regular file where the plot dir should be makes MkdirAll fail.
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &sliceSource{recs: sampleTrack()}
	q := NewQueue(src, NewRenderer(filepath.Join(blocker, "plots"), 100, 100), nil)
	q.render()
	snap := q.Snapshot()
	if snap.Failures != 1 || snap.LastError == "" || snap.Renders != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}
