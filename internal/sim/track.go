// Package sim generates deterministic synthetic telemetry for exercising a
// server without a real device.
package sim

import (
	"math"
	"time"

	"gpsserver/internal/telemetry"
)

// Track describes a figure-eight around a center point with a sinusoidal
// altitude profile.
type Track struct {
	CenterLat float64
	CenterLon float64
	RadiusM   float64
	BaseAltM  float64
	Period    time.Duration
	Start     time.Time
	// Step is the sample interval. Defaults to one second.
	Step time.Duration
}

const metersPerDegLat = 111_320.0

func (t Track) withDefaults() Track {
	if t.RadiusM <= 0 {
		t.RadiusM = 500
	}
	if t.BaseAltM == 0 {
		t.BaseAltM = 100
	}
	if t.Period <= 0 {
		t.Period = 120 * time.Second
	}
	if t.Step <= 0 {
		t.Step = time.Second
	}
	if t.Start.IsZero() {
		t.Start = time.Unix(0, 0)
	}
	return t
}

// Position returns the point at elapsed time d into the track.
func (t Track) Position(d time.Duration) (lat, lon, alt float64) {
	t = t.withDefaults()

	phase := float64(d%t.Period) / float64(t.Period)
	w := 2 * math.Pi * phase

	// x east-west, y north-south. y stays within half the radius.
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	radiusDeg := t.RadiusM / metersPerDegLat
	lat = t.CenterLat + radiusDeg*y
	lon = t.CenterLon + radiusDeg*x/math.Cos(t.CenterLat*math.Pi/180)

	// Vertical period is decoupled from horizontal.
	vp := t.Period / 2
	if vp < 30*time.Second {
		vp = 30 * time.Second
	}
	vphase := float64(d%vp) / float64(vp)
	alt = t.BaseAltM + 0.1*t.RadiusM*math.Sin(2*math.Pi*vphase)
	return lat, lon, alt
}

// Samples returns n records Step apart starting at Start. Distance is the
// great-circle distance from the previous sample and speed is that distance
// over the step in m/s. The first sample has zero distance and speed.
func (t Track) Samples(n int) []telemetry.Record {
	if n <= 0 {
		return nil
	}
	t = t.withDefaults()

	out := make([]telemetry.Record, n)
	for i := range out {
		d := time.Duration(i) * t.Step
		lat, lon, alt := t.Position(d)
		rec := telemetry.Record{
			Time:      t.Start.Add(d).UnixMilli(),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  alt,
		}
		if i > 0 {
			prev := out[i-1]
			rec.Distance = telemetry.HaversineMeters(prev.Latitude, prev.Longitude, lat, lon)
			rec.Speed = rec.Distance / t.Step.Seconds()
		}
		out[i] = rec
	}
	return out
}
