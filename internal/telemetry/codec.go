package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrExtraField   = errors.New("unexpected extra field")
)

var fieldNames = [FieldCount]string{"longitude", "latitude", "altitude", "distance", "speed", "time"}

// FieldError reports a field that is present but not a valid number.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("error parsing %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// BatchError names the unit that made a batch invalid.
type BatchError struct {
	Unit int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Unit, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// tokens splits s on sep and drops empty tokens.
func tokens(s string, sep byte) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == rune(sep) })
}

// hasHexPrefix reports whether s is a 0x float literal, which ParseFloat
// would otherwise accept.
func hasHexPrefix(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// ParseUnit parses one longitude;latitude;altitude;distance;speed;time unit.
func ParseUnit(s string) (Record, error) {
	parts := tokens(s, FieldSep)
	if len(parts) < FieldCount {
		return Record{}, fmt.Errorf("%w: %s", ErrMissingField, fieldNames[len(parts)])
	}
	if len(parts) > FieldCount {
		return Record{}, fmt.Errorf("%w: got %d fields", ErrExtraField, len(parts))
	}

	var vals [FieldCount - 1]float64
	for i := 0; i < FieldCount-1; i++ {
		raw := strings.TrimSpace(parts[i])
		if hasHexPrefix(raw) {
			return Record{}, &FieldError{Field: fieldNames[i], Value: raw, Err: errors.New("not a decimal number")}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Record{}, &FieldError{Field: fieldNames[i], Value: raw, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, &FieldError{Field: fieldNames[i], Value: raw, Err: errors.New("not a finite number")}
		}
		vals[i] = v
	}

	raw := strings.TrimSpace(parts[FieldCount-1])
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Record{}, &FieldError{Field: "time", Value: raw, Err: err}
	}

	return Record{
		Time:      ts,
		Longitude: vals[0],
		Latitude:  vals[1],
		Altitude:  vals[2],
		Distance:  vals[3],
		Speed:     vals[4],
	}, nil
}

// ParseBatch parses the text received before the terminator. Empty units are
// skipped, so an empty batch and a trailing ':' are both valid. Any bad unit
// fails the whole batch and no records are returned.
func ParseBatch(s string) ([]Record, error) {
	units := tokens(s, UnitSep)
	out := make([]Record, 0, len(units))
	for i, u := range units {
		if strings.TrimSpace(u) == "" {
			continue
		}
		r, err := ParseUnit(u)
		if err != nil {
			return nil, &BatchError{Unit: i, Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

// FormatUnit renders r in the unit/line encoding. Floats use the shortest
// representation that parses back to the same value.
func FormatUnit(r Record) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(formatFloat(r.Longitude))
	b.WriteByte(FieldSep)
	b.WriteString(formatFloat(r.Latitude))
	b.WriteByte(FieldSep)
	b.WriteString(formatFloat(r.Altitude))
	b.WriteByte(FieldSep)
	b.WriteString(formatFloat(r.Distance))
	b.WriteByte(FieldSep)
	b.WriteString(formatFloat(r.Speed))
	b.WriteByte(FieldSep)
	b.WriteString(strconv.FormatInt(r.Time, 10))
	return b.String()
}

// EncodeBatch renders records as a complete wire batch including the
// terminator.
func EncodeBatch(records []Record) []byte {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte(UnitSep)
		}
		b.WriteString(FormatUnit(r))
	}
	b.WriteByte(Terminator)
	return []byte(b.String())
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
