package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"gpsserver/internal/telemetry"
)

// RouteScript is a keyframed path. Positions between keyframes are linearly
// interpolated.
//
// YAML schema:
//
//	start: 2025-12-20T19:00:00Z
//	step: 1s
//	keyframes:
//	  - t: 0s
//	    lat: 45.0
//	    lon: -122.0
//	    alt: 100
//	  - t: 60s
//	    lat: 45.01
//	    lon: -122.0
//	    alt: 150
type RouteScript struct {
	Start     time.Time     `yaml:"start"`
	Step      time.Duration `yaml:"step"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

type Keyframe struct {
	T   time.Duration `yaml:"t"`
	Lat float64       `yaml:"lat"`
	Lon float64       `yaml:"lon"`
	Alt float64       `yaml:"alt"`
}

// Route is a validated RouteScript.
type Route struct {
	script   RouteScript
	duration time.Duration
}

func LoadRouteScript(path string) (RouteScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RouteScript{}, err
	}
	return ParseRouteScriptYAML(b)
}

func ParseRouteScriptYAML(b []byte) (RouteScript, error) {
	var s RouteScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return RouteScript{}, err
	}
	return s, nil
}

func NewRoute(script RouteScript) (*Route, error) {
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}
	if script.Step <= 0 {
		script.Step = time.Second
	}
	if script.Start.IsZero() {
		script.Start = time.Unix(0, 0)
	}
	return &Route{script: script, duration: script.Keyframes[len(script.Keyframes)-1].T}, nil
}

func (r *Route) Duration() time.Duration {
	if r == nil {
		return 0
	}
	return r.duration
}

// At returns the interpolated position at elapsed, clamped to the route.
func (r *Route) At(elapsed time.Duration) (lat, lon, alt float64) {
	k0, k1, alpha := r.segment(elapsed)
	return lerp(k0.Lat, k1.Lat, alpha), lerp(k0.Lon, k1.Lon, alpha), lerp(k0.Alt, k1.Alt, alpha)
}

// Samples walks the route every Step from 0 through Duration inclusive.
func (r *Route) Samples() []telemetry.Record {
	step := r.script.Step
	n := int(r.duration/step) + 1
	out := make([]telemetry.Record, 0, n)
	for i := 0; i < n; i++ {
		d := time.Duration(i) * step
		lat, lon, alt := r.At(d)
		rec := telemetry.Record{
			Time:      r.script.Start.Add(d).UnixMilli(),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  alt,
		}
		if i > 0 {
			prev := out[i-1]
			rec.Distance = telemetry.HaversineMeters(prev.Latitude, prev.Longitude, lat, lon)
			rec.Speed = rec.Distance / step.Seconds()
		}
		out = append(out, rec)
	}
	return out
}

func (r *Route) segment(t time.Duration) (Keyframe, Keyframe, float64) {
	kfs := r.script.Keyframes
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	return k0, k1, float64(t-k0.T) / float64(dt)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
