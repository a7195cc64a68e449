// Command gpssend sends telemetry to a gpsserver. Records come from one of a
// data file, an NMEA receiver log, a keyframed route script or a synthetic
// figure-eight track.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gpsserver/internal/client"
	"gpsserver/internal/gps"
	"gpsserver/internal/logging"
	"gpsserver/internal/sim"
	"gpsserver/internal/telemetry"
)

type options struct {
	addr    string
	file    string
	nmea    string
	route   string
	simN    int
	lat     float64
	lon     float64
	batch   int
	speed   float64
	retries int
	level   string
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", "127.0.0.1:5555", "Server address")
	flag.StringVar(&o.file, "file", "", "Replay records from a data file")
	flag.StringVar(&o.nmea, "nmea", "", "Send fixes from an NMEA 0183 log")
	flag.StringVar(&o.route, "route", "", "Send samples along a YAML route script")
	flag.IntVar(&o.simN, "sim", 0, "Send N samples of a synthetic track")
	flag.Float64Var(&o.lat, "lat", 45.0, "Synthetic track center latitude")
	flag.Float64Var(&o.lon, "lon", -122.0, "Synthetic track center longitude")
	flag.IntVar(&o.batch, "batch", 10, "Records per connection")
	flag.Float64Var(&o.speed, "speed", 0, "Replay pacing multiplier (0 sends as fast as possible)")
	flag.IntVar(&o.retries, "retries", 3, "Retries per batch on transport failure")
	flag.StringVar(&o.level, "log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(o.level, nil)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, logger); err != nil {
		logger.Error("gpssend failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger *zap.Logger) error {
	records, err := loadRecords(o, logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("no records to send")
	}

	st, err := client.Replay(ctx, o.addr, records, client.ReplayOptions{
		BatchSize: o.batch,
		Speed:     o.speed,
		Send: client.Options{
			Retries: o.retries,
			Logger:  logger,
		},
	})
	logger.Info("gpssend done",
		zap.String("addr", o.addr),
		zap.Int("batches", st.Batches),
		zap.Int("records", st.Records),
		zap.Int("rejected", st.Rejected))
	if err != nil {
		return err
	}
	if st.Rejected > 0 {
		return fmt.Errorf("%d batches rejected", st.Rejected)
	}
	return nil
}

func loadRecords(o options, logger *zap.Logger) ([]telemetry.Record, error) {
	sources := 0
	for _, set := range []bool{o.file != "", o.nmea != "", o.route != "", o.simN > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of -file, -nmea, -route or -sim is required")
	}

	switch {
	case o.file != "":
		f, err := os.Open(o.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return client.ReadRecords(f)
	case o.nmea != "":
		f, err := os.Open(o.nmea)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		recs, skipped, err := gps.ReadNMEA(f)
		if err != nil {
			return nil, fmt.Errorf("read nmea: %w", err)
		}
		if skipped > 0 {
			logger.Warn("nmea lines skipped", zap.Int("count", skipped))
		}
		return recs, nil
	case o.route != "":
		script, err := sim.LoadRouteScript(o.route)
		if err != nil {
			return nil, fmt.Errorf("load route: %w", err)
		}
		r, err := sim.NewRoute(script)
		if err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
		return r.Samples(), nil
	default:
		tr := sim.Track{CenterLat: o.lat, CenterLon: o.lon, Start: time.Now().UTC().Truncate(time.Second)}
		return tr.Samples(o.simN), nil
	}
}
