package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const routeYAML = `
start: 2025-12-20T19:00:00Z
step: 1s
keyframes:
  - t: 0s
    lat: 0
    lon: 0
    alt: 0
  - t: 10s
    lat: 10
    lon: 20
    alt: 1000
`

func TestRoute_ParseAndInterpolate(t *testing.T) {
	script, err := ParseRouteScriptYAML([]byte(routeYAML))
	if err != nil {
		t.Fatalf("ParseRouteScriptYAML: %v", err)
	}
	r, err := NewRoute(script)
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	if r.Duration() != 10*time.Second {
		t.Fatalf("duration: got %s want 10s", r.Duration())
	}

	lat, lon, alt := r.At(5 * time.Second)
	if lat != 5 || lon != 10 || alt != 500 {
		t.Fatalf("At(5s) = %v,%v,%v", lat, lon, alt)
	}
	// Clamped past the end.
	lat, _, _ = r.At(time.Minute)
	if lat != 10 {
		t.Fatalf("At(1m) lat=%v want 10", lat)
	}
}

func TestRoute_Samples(t *testing.T) {
	script, err := ParseRouteScriptYAML([]byte(routeYAML))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRoute(script)
	if err != nil {
		t.Fatal(err)
	}
	recs := r.Samples()
	if len(recs) != 11 {
		t.Fatalf("len=%d want 11", len(recs))
	}
	start := time.Date(2025, 12, 20, 19, 0, 0, 0, time.UTC).UnixMilli()
	if recs[0].Time != start || recs[10].Time != start+10_000 {
		t.Fatalf("times %d..%d", recs[0].Time, recs[10].Time)
	}
	if recs[10].Latitude != 10 || recs[10].Altitude != 1000 {
		t.Fatalf("last=%+v", recs[10])
	}
	if recs[1].Distance <= 0 || recs[1].Speed != recs[1].Distance {
		t.Fatalf("second sample=%+v", recs[1])
	}
}

func TestNewRoute_Validation(t *testing.T) {
	if _, err := NewRoute(RouteScript{}); err == nil {
		t.Fatal("expected error for empty keyframes")
	}
	_, err := NewRoute(RouteScript{Keyframes: []Keyframe{{T: 5 * time.Second}, {T: time.Second}}})
	if err == nil {
		t.Fatal("expected error for unsorted keyframes")
	}
}

func TestLoadRouteScript(t *testing.T) {
	p := filepath.Join(t.TempDir(), "route.yaml")
	if err := os.WriteFile(p, []byte(routeYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadRouteScript(p)
	if err != nil {
		t.Fatalf("LoadRouteScript: %v", err)
	}
	if len(s.Keyframes) != 2 || s.Step != time.Second {
		t.Fatalf("script=%+v", s)
	}
}
