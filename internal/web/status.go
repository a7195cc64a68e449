package web

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"gpsserver/internal/plot"
	"gpsserver/internal/server"
	"gpsserver/internal/store"
	"gpsserver/internal/telemetry"
)

// Status aggregates live state from the running components. Sources are
// optional; missing ones are omitted from the snapshot.
type Status struct {
	startUnixNano int64
	records       atomic.Value // Records
	serverStats   atomic.Value // func() server.Stats
	plotStats     atomic.Value // func() plot.Snapshot
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	return s
}

func (s *Status) SetRecords(r Records) {
	if r != nil {
		s.records.Store(r)
	}
}

func (s *Status) SetServerStats(f func() server.Stats) {
	if f != nil {
		s.serverStats.Store(f)
	}
}

func (s *Status) SetPlotStats(f func() plot.Snapshot) {
	if f != nil {
		s.plotStats.Store(f)
	}
}

type StoreSnapshot struct {
	Path       string            `json:"path"`
	Records    int               `json:"records"`
	LastRecord *telemetry.Record `json:"last_record,omitempty"`
	// Load is what the store found in its file at startup.
	Load       store.LoadStats   `json:"load"`
}

type StatusSnapshot struct {
	Service   string         `json:"service"`
	NowUTC    string         `json:"now_utc"`
	UptimeSec int64          `json:"uptime_sec"`
	Store     *StoreSnapshot `json:"store,omitempty"`
	Server    *server.Stats  `json:"server,omitempty"`
	Plot      *plot.Snapshot `json:"plot,omitempty"`
	Disk      *DiskSnapshot  `json:"disk,omitempty"`
}

// DiskSnapshot reports free space on the filesystem holding the store.
type DiskSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	AvailBytes uint64 `json:"avail_bytes"`
	LastError  string `json:"last_error,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "gpsserver",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
	}
	if r, ok := s.records.Load().(Records); ok {
		st := &StoreSnapshot{Path: r.Path(), Records: r.Len(), Load: r.LoadStats()}
		if last, ok := r.Last(); ok {
			st.LastRecord = &last
		}
		snap.Store = st
		snap.Disk = snapshotDisk(filepath.Dir(r.Path()))
	}
	if f, ok := s.serverStats.Load().(func() server.Stats); ok {
		st := f()
		snap.Server = &st
	}
	if f, ok := s.plotStats.Load().(func() plot.Snapshot); ok {
		ps := f()
		snap.Plot = &ps
	}
	return snap
}
