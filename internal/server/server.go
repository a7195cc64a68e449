// Package server accepts GPS telemetry connections.
//
// Each connection carries exactly one batch: the client writes units and the
// terminator, the server replies "Received" or "Error" and closes. Batches are
// committed to the store all-or-nothing.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"gpsserver/internal/telemetry"
)

type Config struct {
	Addr string
	// MaxConns bounds concurrently served connections. Connections arriving
	// while the server is full are closed without a reply.
	MaxConns int
	// ReadTimeout bounds the wait for a complete batch. Negative disables the
	// deadline (block until the terminator or disconnect).
	ReadTimeout   time.Duration
	MaxBatchBytes int
}

// Appender commits a parsed batch.
type Appender interface {
	Append(records []telemetry.Record) error
}

// Notifier is told when new records have been committed.
type Notifier interface {
	Notify()
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Server) {
		s.notify = n
	}
}

type Server struct {
	cfg    Config
	store  Appender
	notify Notifier
	logger *zap.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	addr      atomic.Value // string
	ready     chan struct{}
	readyOnce sync.Once

	accepted      atomic.Uint64
	rejected      atomic.Uint64
	dropped       atomic.Uint64
	batchesOK     atomic.Uint64
	batchesBad    atomic.Uint64
	persistErrors atomic.Uint64
	records       atomic.Uint64
	acceptErrors  atomic.Uint64
}

// Stats is a point-in-time copy of the server counters.
type Stats struct {
	Addr          string `json:"addr"`
	Accepted      uint64 `json:"accepted"`
	Rejected      uint64 `json:"rejected"`
	Dropped       uint64 `json:"dropped"`
	BatchesOK     uint64 `json:"batches_ok"`
	BatchesBad    uint64 `json:"batches_bad"`
	PersistErrors uint64 `json:"persist_errors"`
	Records       uint64 `json:"records"`
	AcceptErrors  uint64 `json:"accept_errors"`
}

func New(cfg Config, store Appender, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":5555"
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = 1 << 20
	}
	s := &Server{
		cfg:   cfg,
		store: store,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConns)),
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.addr.Store("")
	return s
}

// ListenAndServe binds cfg.Addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Ready is closed once the server has a bound listener. Addr is valid from
// then on.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve accepts on ln until ctx is cancelled, then waits for in-flight
// connections to finish. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.store == nil {
		_ = ln.Close()
		return errors.New("server store is nil")
	}
	s.addr.Store(ln.Addr().String())
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("gps server listening", zap.String("addr", ln.Addr().String()), zap.Int("max_conns", s.cfg.MaxConns))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("gps server stopping")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient accept failures (e.g. EMFILE) back off and continue.
			s.acceptErrors.Add(1)
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		if !s.sem.TryAcquire(1) {
			s.rejected.Add(1)
			s.logger.Warn("connection rejected: server full", zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		s.accepted.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.logger.With(
		zap.String("conn", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	payload, err := telemetry.ReadBatch(bufio.NewReader(conn), s.cfg.MaxBatchBytes)
	if err != nil {
		s.dropped.Add(1)
		log.Info("connection dropped before terminator", zap.Error(err))
		_ = conn.Close()
		return
	}

	ack, committed := s.commit(payload, log)

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	if _, err := conn.Write([]byte(ack)); err != nil {
		log.Info("reply failed", zap.Error(err))
	}
	_ = conn.Close()
	log.Debug("connection done", zap.String("ack", ack), zap.Int("records", committed))

	if committed > 0 && s.notify != nil {
		s.notify.Notify()
	}
}

// commit parses and stores one batch, returning the reply and the number of
// records committed.
func (s *Server) commit(payload []byte, log *zap.Logger) (string, int) {
	records, err := telemetry.ParseBatch(string(payload))
	if err != nil {
		s.batchesBad.Add(1)
		log.Info("malformed batch", zap.Error(err), zap.Int("bytes", len(payload)))
		return telemetry.AckError, 0
	}
	if err := s.store.Append(records); err != nil {
		s.persistErrors.Add(1)
		log.Error("batch not persisted", zap.Error(err), zap.Int("records", len(records)))
		return telemetry.AckError, 0
	}
	s.batchesOK.Add(1)
	s.records.Add(uint64(len(records)))
	log.Info("batch stored", zap.Int("records", len(records)))
	return telemetry.AckReceived, len(records)
}

// Addr returns the bound listen address once Serve has started.
func (s *Server) Addr() string {
	return s.addr.Load().(string)
}

func (s *Server) Stats() Stats {
	return Stats{
		Addr:          s.Addr(),
		Accepted:      s.accepted.Load(),
		Rejected:      s.rejected.Load(),
		Dropped:       s.dropped.Load(),
		BatchesOK:     s.batchesOK.Load(),
		BatchesBad:    s.batchesBad.Load(),
		PersistErrors: s.persistErrors.Load(),
		Records:       s.records.Load(),
		AcceptErrors:  s.acceptErrors.Load(),
	}
}
