// Package store persists telemetry records to an append-only text file and
// keeps a time-ordered in-memory index that is rebuilt from the file when
// the store is opened.
package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"gpsserver/internal/lock"
	"gpsserver/internal/telemetry"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// PersistError reports a failed write to the backing file. When Append
// returns one, the in-memory index has not been modified.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// LoadStats describes what Open found in the backing file.
type LoadStats struct {
	Lines   int `json:"lines"`
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

type Option func(*options)

type options struct {
	logger *zap.Logger
	noLock bool
}

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithoutLock skips the <path>.lock file.
func WithoutLock() Option {
	return func(o *options) {
		o.noLock = true
	}
}

// Store is safe for concurrent use. Appends hold the write lock across both
// the file write and the index update, so concurrent batches never interleave
// lines and readers never see a record that is not on disk.
type Store struct {
	path   string
	logger *zap.Logger
	lock   *lock.Lock

	mu     sync.RWMutex
	index  btree.Map[int64, telemetry.Record]
	stats  LoadStats
	closed bool
}

// Open loads path (a missing file is an empty store) and, unless WithoutLock
// is given, takes an exclusive lock on path+".lock".
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Store{path: path, logger: o.logger}
	if !o.noLock {
		l, err := lock.Acquire(path + ".lock")
		if err != nil {
			return nil, err
		}
		s.lock = l
	}

	if err := s.load(); err != nil {
		_ = s.lock.Release()
		return nil, err
	}
	s.logger.Info("store loaded",
		zap.String("path", path),
		zap.Int("records", s.index.Len()),
		zap.Int("skipped", s.stats.Skipped),
	)
	return s, nil
}

// load rebuilds the index from the backing file. Malformed lines are skipped
// and logged; only I/O errors fail the load.
func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, tooLong, err := readLine(br, maxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read store: %w", err)
		}
		if errors.Is(err, io.EOF) && len(raw) == 0 && !tooLong {
			return nil
		}
		lineNo++
		s.loadLine(lineNo, raw, tooLong)
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (s *Store) loadLine(lineNo int, raw []byte, tooLong bool) {
	if tooLong {
		s.stats.Lines++
		s.stats.Skipped++
		s.logger.Warn("skipping oversize store line",
			zap.String("path", s.path),
			zap.Int("line", lineNo),
			zap.Int("max_bytes", maxLineBytes),
		)
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	s.stats.Lines++
	r, err := telemetry.ParseUnit(line)
	if err != nil {
		s.stats.Skipped++
		s.logger.Warn("skipping malformed store line",
			zap.String("path", s.path),
			zap.Int("line", lineNo),
			zap.Error(err),
		)
		return
	}
	s.index.Set(r.Time, r)
	s.stats.Loaded++
}

// maxLineBytes bounds one line of the backing file. Longer lines are
// consumed and skipped.
const maxLineBytes = 64 * 1024

// readLine returns the next line without its newline. A line longer than limit
// is read to its end and reported as tooLong with no content.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSuffix(line, []byte{'\n'}), tooLong, err
	}
}

// Put inserts r into the index without persisting it. An existing record
// with the same time is replaced.
func (s *Store) Put(r telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.index.Set(r.Time, r)
	return nil
}

// Append writes one line per record to the backing file and then indexes
// them. Each call is its own durability unit: the file is synced before the
// index changes, and on failure the index is left untouched.
func (s *Store) Append(records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	for _, r := range records {
		b.WriteString(telemetry.FormatUnit(r))
		b.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.writeLocked(b.String()); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	for _, r := range records {
		s.index.Set(r.Time, r)
	}
	return nil
}

func (s *Store) writeLocked(lines string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(lines); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Values returns every record in ascending time order.
func (s *Store) Values() []telemetry.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Record, 0, s.index.Len())
	s.index.Scan(func(_ int64, r telemetry.Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Since returns up to limit records with Time >= since, ascending. A limit
// <= 0 means no limit.
func (s *Store) Since(since int64, limit int) []telemetry.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []telemetry.Record
	s.index.Ascend(since, func(_ int64, r telemetry.Record) bool {
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Last returns the record with the greatest time.
func (s *Store) Last() (telemetry.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, r, ok := s.index.Max()
	return r, ok
}

func (s *Store) Path() string { return s.path }

func (s *Store) LoadStats() LoadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Close releases the store lock. Reads keep working on the loaded index;
// writes return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Release()
}
