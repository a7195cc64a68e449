package plot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gpsserver/internal/telemetry"
)

// Source supplies the full record set in time order.
type Source interface {
	Values() []telemetry.Record
}

// Queue serializes renders. Notify requests coalesce: any number of calls
// while a render is running result in at most one further render.
type Queue struct {
	src    Source
	r      *Renderer
	logger *zap.Logger
	wake   chan struct{}

	mu       sync.RWMutex
	renders  uint64
	failures uint64
	lastErr  string
	lastAt   time.Time
	lastN    int
}

type Snapshot struct {
	Dir           string `json:"dir"`
	Renders       uint64 `json:"renders"`
	Failures      uint64 `json:"failures"`
	LastError     string `json:"last_error,omitempty"`
	LastRenderUTC string `json:"last_render_utc,omitempty"`
	LastRecords   int    `json:"last_records"`
}

func NewQueue(src Source, r *Renderer, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{src: src, r: r, logger: logger, wake: make(chan struct{}, 1)}
}

// Notify requests a render. It never blocks.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run renders once at startup, then on each coalesced request, until ctx is
// cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
			q.render()
		}
	}
}

func (q *Queue) render() {
	records := q.src.Values()
	if len(records) == 0 {
		return
	}
	start := time.Now()
	err := q.r.Render(records)

	q.mu.Lock()
	if err != nil {
		q.failures++
		q.lastErr = err.Error()
	} else {
		q.renders++
		q.lastErr = ""
		q.lastAt = time.Now()
		q.lastN = len(records)
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("plot render failed", zap.Error(err), zap.Int("records", len(records)))
		return
	}
	q.logger.Debug("plots rendered", zap.Int("records", len(records)), zap.Duration("took", time.Since(start)))
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := Snapshot{
		Dir:         q.r.Dir,
		Renders:     q.renders,
		Failures:    q.failures,
		LastError:   q.lastErr,
		LastRecords: q.lastN,
	}
	if !q.lastAt.IsZero() {
		out.LastRenderUTC = q.lastAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}
