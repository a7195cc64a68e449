package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gpsserver/internal/logging"
)

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

func serveLogs(w http.ResponseWriter, r *http.Request, b *logging.LogBuffer) error {
	if b == nil {
		return &httpError{code: http.StatusNotFound, msg: "logs unavailable"}
	}

	n := 200
	if s := strings.TrimSpace(r.URL.Query().Get("n")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 5000 {
			return badRequest("n must be an integer in [1,5000]")
		}
		n = v
	}

	lines, dropped := b.Snapshot(n)
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if dropped > 0 {
			_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line))
			_, _ = w.Write([]byte("\n"))
		}
		return nil
	}

	return writeJSON(w, LogsResponse{
		NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
		Dropped: dropped,
		Lines:   lines,
	})
}
