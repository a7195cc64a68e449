package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"gpsserver/internal/client"
	"gpsserver/internal/config"
	"gpsserver/internal/plot"
	"gpsserver/internal/telemetry"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Listen.Addr = "127.0.0.1:0"
	cfg.Listen.ReadTimeout = 2 * time.Second
	cfg.Store.Path = filepath.Join(dir, "data.txt")
	cfg.Plot.Dir = filepath.Join(dir, "plots")
	cfg.Plot.WidthPx = 200
	cfg.Plot.HeightPx = 200
	return cfg
}

func startRun(t *testing.T, cfg config.Config) (string, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, nil, zap.NewNop(), func(addr string) { addrCh <- addr })
	}()
	select {
	case addr := <-addrCh:
		return addr, cancel, done
	case err := <-done:
		cancel()
		t.Fatalf("run() exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("run() did not become ready")
	}
	return "", cancel, done
}

func TestRun_StoresAndPlots(t *testing.T) {
	cfg := testConfig(t)
	addr, cancel, done := startRun(t, cfg)

	recs := []telemetry.Record{
		{Time: 100, Longitude: 10, Latitude: 20, Altitude: 5, Distance: 0, Speed: 0},
		{Time: 200, Longitude: 10.001, Latitude: 20.001, Altitude: 6, Distance: 150, Speed: 150},
	}
	reply, err := client.Send(context.Background(), addr, recs, client.Options{})
	if err != nil || reply != telemetry.AckReceived {
		t.Fatalf("Send() = %q, %v", reply, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, err := os.Stat(filepath.Join(cfg.Plot.Dir, plot.AltitudeFile))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("plots not rendered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not stop")
	}

	b, err := os.ReadFile(cfg.Store.Path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || lines[0] != "10.0;20.0;5.0;0.0;0.0;100" {
		t.Fatalf("store lines=%q", lines)
	}
}

func TestRun_ReloadsOnRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plot.Enable = false
	if err := os.WriteFile(cfg.Store.Path, []byte("1.0;2.0;3.0;4.0;5.0;50\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	addr, cancel, done := startRun(t, cfg)
	if _, err := client.Send(context.Background(), addr, []telemetry.Record{{Time: 60}}, client.Options{}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run() error: %v", err)
	}

	b, err := os.ReadFile(cfg.Store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(b), "\n"); got != 2 {
		t.Fatalf("store has %d lines want 2", got)
	}
}

func TestRun_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Listen.Addr = ln.Addr().String()
	err = run(context.Background(), cfg, nil, zap.NewNop(), nil)
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("err=%v want listen error", err)
	}
}

func TestRun_StoreLocked(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plot.Enable = false
	_, cancel, done := startRun(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	second := cfg
	second.Listen.Addr = "127.0.0.1:0"
	ctx, stop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stop()
	err := run(ctx, second, nil, zap.NewNop(), nil)
	if err == nil {
		t.Skip("store locking unavailable on this platform")
	}
	if !strings.Contains(err.Error(), "open store") {
		t.Fatalf("err=%v want open store error", err)
	}
}
