package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"gpsserver/internal/telemetry"
)

// ReadRecords parses a data file in the store's line format. Blank lines and
// lines starting with '#' are ignored; any other malformed line is an error.
func ReadRecords(r io.Reader) ([]telemetry.Record, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]telemetry.Record, 0, 1024)
	n := 0
	for s.Scan() {
		n++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := telemetry.ParseUnit(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

type ReplayOptions struct {
	// BatchSize is the number of records per connection.
	BatchSize int
	// Speed scales the gaps between record times. 2 plays twice as fast;
	// 0 sends batches back to back.
	Speed float64
	Send  Options
}

type ReplayStats struct {
	Batches  int
	Records  int
	Rejected int
}

// Replay sends records in order, BatchSize at a time. With Speed > 0 each
// batch waits for the time gap since the previous batch's first record.
// A rejected batch is counted and skipped; transport errors stop the replay.
func Replay(ctx context.Context, addr string, records []telemetry.Record, opts ReplayOptions) (ReplayStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	logger := opts.Send.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var st ReplayStats
	var prev int64
	for i := 0; i < len(records); i += opts.BatchSize {
		end := i + opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		if opts.Speed > 0 && i > 0 {
			gap := time.Duration(float64(batch[0].Time-prev) / opts.Speed * float64(time.Millisecond))
			if !sleepCtx(ctx, gap) {
				return st, ctx.Err()
			}
		}
		prev = batch[0].Time

		_, err := Send(ctx, addr, batch, opts.Send)
		switch {
		case err == nil:
			st.Batches++
			st.Records += len(batch)
		case errors.Is(err, ErrRejected):
			st.Rejected++
			logger.Warn("batch rejected", zap.Int64("first_time", batch[0].Time), zap.Int("records", len(batch)))
		default:
			return st, err
		}
	}
	return st, nil
}
