package gps

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gpsserver/internal/telemetry"
)

const knotsToMPS = 1852.0 / 3600.0

type sentence struct {
	Type string
	// Fields is the comma-split payload (excluding $ and checksum).
	Fields []string
}

func parseSentence(line string) (sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return sentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return sentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return sentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return sentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return sentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return sentence{}, fmt.Errorf("nmea: short type")
	}
	// GPRMC, GNRMC etc. normalize to the last three characters.
	t := parts[0][len(parts[0])-3:]
	return sentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// track accumulates state across sentences and emits a record per RMC fix.
type track struct {
	alt   float64
	prev  telemetry.Record
	fixes int
}

// applyGGA records altitude in meters. Fields: 6 fix quality, 9 altitude.
func (t *track) applyGGA(f []string) {
	if len(f) < 11 {
		return
	}
	if q := strings.TrimSpace(f[6]); q == "" || q == "0" {
		return
	}
	if alt, ok := parseFloat(f[9]); ok {
		t.alt = alt
	}
}

// applyRMC returns a record for an active fix. Fields: 1 time hhmmss.sss,
// 2 status, 3-6 lat/lon, 7 speed (knots), 9 date ddmmyy.
func (t *track) applyRMC(f []string) (telemetry.Record, bool) {
	if len(f) < 10 || strings.TrimSpace(f[2]) != "A" {
		return telemetry.Record{}, false
	}
	lat, latOK := parseLatLon(f[3], f[4])
	lon, lonOK := parseLatLon(f[5], f[6])
	ts, tsOK := parseDateTime(f[9], f[1])
	if !latOK || !lonOK || !tsOK {
		return telemetry.Record{}, false
	}

	rec := telemetry.Record{
		Time:      ts.UnixMilli(),
		Latitude:  lat,
		Longitude: lon,
		Altitude:  t.alt,
	}
	if kt, ok := parseFloat(f[7]); ok {
		rec.Speed = kt * knotsToMPS
	}
	if t.fixes > 0 {
		rec.Distance = telemetry.HaversineMeters(t.prev.Latitude, t.prev.Longitude, lat, lon)
	}
	t.prev = rec
	t.fixes++
	return rec, true
}

// ReadNMEA converts an NMEA log into records, one per active RMC fix.
// Lines that are not valid sentences are skipped; the count is returned.
func ReadNMEA(r io.Reader) ([]telemetry.Record, int, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 64*1024)

	var (
		t       track
		out     []telemetry.Record
		skipped int
	)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		sent, err := parseSentence(line)
		if err != nil {
			skipped++
			continue
		}
		switch sent.Type {
		case "GGA":
			t.applyGGA(sent.Fields)
		case "RMC":
			if rec, ok := t.applyRMC(sent.Fields); ok {
				out = append(out, rec)
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseDateTime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	ts, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, false
	}
	if frac := clock[6:]; frac != "" {
		v, err := strconv.ParseFloat("0"+frac, 64)
		if err != nil {
			return time.Time{}, false
		}
		ts = ts.Add(time.Duration(v * float64(time.Second)).Round(time.Millisecond))
	}
	return ts, true
}

// parseLatLon parses ddmm.mmmm / dddmm.mmmm plus hemisphere.
func parseLatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
