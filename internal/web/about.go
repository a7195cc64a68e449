package web

import (
	"runtime"
	"runtime/debug"
	"time"
)

type AboutResponse struct {
	Service    string `json:"service"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

func about() AboutResponse {
	resp := AboutResponse{
		Service:   "gpsserver",
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return resp
	}
	resp.ModulePath = bi.Main.Path
	resp.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			resp.Commit = s.Value
		case "vcs.modified":
			resp.Dirty = s.Value == "true"
		}
	}
	return resp
}
