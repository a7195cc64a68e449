// Package telemetry defines the GPS sample record and its text encodings.
//
// A unit is six ';'-separated fields in the fixed order
//
//	longitude;latitude;altitude;distance;speed;time
//
// and a batch is units separated by ':' and terminated by 'z'. The same
// unit encoding is used one-per-line in the store's backing file.
package telemetry

import "math"

const (
	Terminator byte = 'z'
	UnitSep    byte = ':'
	FieldSep   byte = ';'

	AckReceived = "Received"
	AckError    = "Error"

	// FieldCount is the fixed arity of a unit.
	FieldCount = 6
)

// Record is a single GPS sample. Time is the ordering key (milliseconds since
// the Unix epoch as sent by the device).
type Record struct {
	Time      int64   `json:"time"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Distance  float64 `json:"distance"`
	Speed     float64 `json:"speed"`
}

const earthRadiusM = 6371008.8

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	dlat := lat2Rad - lat1Rad
	dlon := lon2Rad - lon1Rad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}
