// Package web serves a small read-only HTTP API over the running server:
// status, stored records, recent logs and the rendered plots.
package web

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gpsserver/internal/logging"
	"gpsserver/internal/plot"
	"gpsserver/internal/store"
	"gpsserver/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Records is the read side of the telemetry store.
type Records interface {
	Len() int
	Last() (telemetry.Record, bool)
	Since(since int64, limit int) []telemetry.Record
	Path() string
	LoadStats() store.LoadStats
}

type Deps struct {
	Status  *Status
	Records Records
	Logs    *logging.LogBuffer
	// PlotDir is where rendered images are read from. Empty disables /plots.
	PlotDir string
	Logger  *zap.Logger
}

// httpError carries a status code out of a handler.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type route struct {
	path    string
	handler func(w http.ResponseWriter, r *http.Request) error
}

func withErrorHandle(logger *zap.Logger, h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			http.Error(w, he.msg, he.code)
			return
		}
		logger.Warn("http handler failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const maxRecordsLimit = 10000

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	routes := []route{
		{"/api/status", func(w http.ResponseWriter, r *http.Request) error {
			return writeJSON(w, d.Status.Snapshot(time.Now().UTC()))
		}},
		{"/api/about", func(w http.ResponseWriter, r *http.Request) error {
			return writeJSON(w, about())
		}},
		{"/api/records", func(w http.ResponseWriter, r *http.Request) error {
			return serveRecords(w, r, d.Records)
		}},
		{"/api/logs", func(w http.ResponseWriter, r *http.Request) error {
			return serveLogs(w, r, d.Logs)
		}},
		{"/plots/{name}", func(w http.ResponseWriter, r *http.Request) error {
			return servePlot(w, r, d.PlotDir)
		}},
	}

	router := mux.NewRouter()
	for _, rt := range routes {
		router.HandleFunc(rt.path, withErrorHandle(d.Logger, rt.handler)).Methods(http.MethodGet)
	}
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return router
}

func writeJSON(w http.ResponseWriter, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
	return nil
}

func serveRecords(w http.ResponseWriter, r *http.Request, recs Records) error {
	if recs == nil {
		return &httpError{code: http.StatusNotFound, msg: "records unavailable"}
	}
	q := r.URL.Query()

	// Times are opaque keys and may be negative.
	since := int64(math.MinInt64)
	if s := strings.TrimSpace(q.Get("since")); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return badRequest("since must be an integer time")
		}
		since = v
	}
	limit := 1000
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxRecordsLimit {
			return badRequest("limit must be an integer in [1,%d]", maxRecordsLimit)
		}
		limit = v
	}

	out := recs.Since(since, limit)
	if out == nil {
		out = []telemetry.Record{}
	}
	return writeJSON(w, out)
}

func servePlot(w http.ResponseWriter, r *http.Request, dir string) error {
	name := mux.Vars(r)["name"]
	if dir == "" || !slices.Contains(plot.Files, name) {
		http.NotFound(w, r)
		return nil
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(dir, name))
	return nil
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web listen %s: %w", listenAddr, err)
	}
}
