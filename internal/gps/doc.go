// Package gps converts NMEA 0183 logs from a GNSS receiver into telemetry
// records.
//
// RMC sentences supply position, ground speed and the UTC timestamp. GGA
// sentences supply altitude, which is carried onto the next RMC fix.
package gps
