// Package client is the device side of the telemetry protocol: it sends one
// batch per connection and reads the server's reply.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"gpsserver/internal/telemetry"
)

// ErrRejected is returned when the server replies "Error".
var ErrRejected = errors.New("batch rejected by server")

type Options struct {
	DialTimeout time.Duration
	// ReplyTimeout bounds the write and the wait for the reply.
	ReplyTimeout time.Duration
	// Retries is the number of extra attempts after a transport failure.
	// A rejected batch is never retried.
	Retries    int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

const maxReplyBytes = 256

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Send delivers records as a single batch and returns the server's reply.
// Transport failures are retried with a doubling delay. Resending a batch is
// safe because the server keys records by time.
func Send(ctx context.Context, addr string, records []telemetry.Record, opts Options) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("client addr is required")
	}
	opts = opts.withDefaults()
	payload := telemetry.EncodeBatch(records)

	delay := opts.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			opts.Logger.Warn("send failed, retrying",
				zap.String("addr", addr),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if !sleepCtx(ctx, delay) {
				return "", ctx.Err()
			}
			delay *= 2
		}

		reply, err := sendOnce(ctx, addr, payload, opts)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		switch reply {
		case telemetry.AckReceived:
			return reply, nil
		case telemetry.AckError:
			return reply, ErrRejected
		default:
			return reply, fmt.Errorf("unexpected reply %q", reply)
		}
	}
	return "", fmt.Errorf("send to %s: %w", addr, lastErr)
}

func sendOnce(ctx context.Context, addr string, payload []byte, opts Options) (string, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(opts.ReplyTimeout))
	if _, err := conn.Write(payload); err != nil {
		return "", fmt.Errorf("write batch: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	b, err := io.ReadAll(io.LimitReader(conn, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("connection closed without reply")
	}
	return strings.TrimSpace(string(b)), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
