// Package plot renders the collected track into three JPEG images: an
// overhead path, speed over cumulative distance, and altitude over
// cumulative distance.
package plot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"gpsserver/internal/telemetry"
)

const (
	PathFile     = "Plot.jpg"
	SpeedFile    = "Speed.jpg"
	AltitudeFile = "Altitude.jpg"
)

// Files lists the images written by Render.
var Files = []string{PathFile, SpeedFile, AltitudeFile}

// dpi is the raster resolution used by gonum's image backend.
const dpi = 96

type Renderer struct {
	Dir    string
	Width  int // pixels
	Height int // pixels
}

func NewRenderer(dir string, width, height int) *Renderer {
	if dir == "" {
		dir = "."
	}
	if width <= 0 {
		width = 1200
	}
	if height <= 0 {
		height = 1200
	}
	return &Renderer{Dir: dir, Width: width, Height: height}
}

// Render redraws all three images from records, which must be in ascending
// time order. With no records nothing is written.
func (r *Renderer) Render(records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}

	path, speed, alt := series(records)

	p := plot.New()
	p.Title.Text = "Path"
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	squareAxes(p, path)
	if err := addLine(p, path); err != nil {
		return err
	}
	if err := r.save(p, PathFile); err != nil {
		return err
	}

	p = plot.New()
	p.Title.Text = "Speed"
	p.X.Label.Text = "Distance"
	p.Y.Label.Text = "Speed"
	if err := addLine(p, speed); err != nil {
		return err
	}
	if err := r.save(p, SpeedFile); err != nil {
		return err
	}

	p = plot.New()
	p.Title.Text = "Altitude"
	p.X.Label.Text = "Distance"
	p.Y.Label.Text = "Altitude"
	if err := addLine(p, alt); err != nil {
		return err
	}
	return r.save(p, AltitudeFile)
}

// series derives the three plotted point sets. Distance is the running sum
// of per-sample distances.
func series(records []telemetry.Record) (path, speed, alt plotter.XYs) {
	path = make(plotter.XYs, len(records))
	speed = make(plotter.XYs, len(records))
	alt = make(plotter.XYs, len(records))

	var dist float64
	for i, rec := range records {
		dist += rec.Distance
		path[i].X, path[i].Y = rec.Longitude, rec.Latitude
		speed[i].X, speed[i].Y = dist, rec.Speed
		alt[i].X, alt[i].Y = dist, rec.Altitude
	}
	return path, speed, alt
}

// squareAxes gives both axes the same span so the path is not distorted.
func squareAxes(p *plot.Plot, xys plotter.XYs) {
	xmin, xmax, ymin, ymax := plotter.XYRange(xys)
	span := xmax - xmin
	if ys := ymax - ymin; ys > span {
		span = ys
	}
	if span == 0 {
		span = 1e-6
	}
	xc := (xmin + xmax) / 2
	yc := (ymin + ymax) / 2
	p.X.Min, p.X.Max = xc-span/2, xc+span/2
	p.Y.Min, p.Y.Max = yc-span/2, yc+span/2
}

func addLine(p *plot.Plot, xys plotter.XYs) error {
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("build line: %w", err)
	}
	line.Color = color.Black
	p.Add(line, plotter.NewGrid())
	return nil
}

// save writes to a temp file in Dir and renames it over name.
func (r *Renderer) save(p *plot.Plot, name string) error {
	w := vg.Length(r.Width) * vg.Inch / dpi
	h := vg.Length(r.Height) * vg.Inch / dpi
	wt, err := p.WriterTo(w, h, "jpg")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	tmp, err := os.CreateTemp(r.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, err := wt.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(r.Dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
