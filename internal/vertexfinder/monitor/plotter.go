// Package monitor renders vertex finder events for debugging: PNG plots of
// track z against vertex rank, interactive HTML charts, and a debug web
// server holding the last processed event.
package monitor

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/zvertex/internal/fsutil"
	"github.com/banshee-data/zvertex/internal/vertexfinder"
)

// noiseRow is the y position of tracks without a vertex.
const noiseRow = -1

// Plotter writes one PNG per event into a directory.
type Plotter struct {
	fs        fsutil.FileSystem
	outputDir string

	Width, Height vg.Length
}

// NewPlotter creates a plotter writing to outputDir through fs.
func NewPlotter(fs fsutil.FileSystem, outputDir string) *Plotter {
	return &Plotter{
		fs:        fs,
		outputDir: outputDir,
		Width:     14 * vg.Inch,
		Height:    6 * vg.Inch,
	}
}

// eventSeries splits an event into assigned tracks, noise tracks and
// vertex markers, each as (z, vertex rank) points.
func eventSeries(res *vertexfinder.Result, tracks []vertexfinder.Track) (assigned, noise, vertices plotter.XYs) {
	for i, id := range res.Assignments {
		if i >= len(tracks) {
			break
		}
		pt := plotter.XY{X: float64(tracks[i].Z), Y: float64(id)}
		if id == vertexfinder.NoVertex {
			pt.Y = noiseRow
			noise = append(noise, pt)
			continue
		}
		assigned = append(assigned, pt)
	}
	for _, v := range res.Vertices {
		vertices = append(vertices, plotter.XY{X: v.Z, Y: float64(v.ID)})
	}
	return assigned, noise, vertices
}

// Plot renders the event and returns the path of the written file.
func (p *Plotter) Plot(name string, res *vertexfinder.Result, tracks []vertexfinder.Track) (string, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s - %d vertices, %d/%d tracks selected, %d noise",
		name, len(res.Vertices), res.Selected, len(tracks), res.Noise)
	pl.X.Label.Text = "z (cm)"
	pl.Y.Label.Text = "Vertex (by pt²), -1 = none"

	assigned, noise, vertices := eventSeries(res, tracks)
	layers := []struct {
		label string
		pts   plotter.XYs
		style draw.GlyphStyle
	}{
		{"tracks", assigned, draw.GlyphStyle{Color: color.RGBA{R: 31, G: 119, B: 180, A: 255}, Radius: vg.Points(2), Shape: draw.CircleGlyph{}}},
		{"noise", noise, draw.GlyphStyle{Color: color.RGBA{R: 150, G: 150, B: 150, A: 255}, Radius: vg.Points(2), Shape: draw.RingGlyph{}}},
		{"vertices", vertices, draw.GlyphStyle{Color: color.RGBA{R: 214, G: 39, B: 40, A: 255}, Radius: vg.Points(5), Shape: draw.CrossGlyph{}}},
	}
	for _, l := range layers {
		if len(l.pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(l.pts)
		if err != nil {
			return "", fmt.Errorf("%s series: %w", l.label, err)
		}
		s.GlyphStyle = l.style
		pl.Add(s)
		pl.Legend.Add(l.label, s)
	}
	pl.Add(plotter.NewGrid())
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	wt, err := pl.WriterTo(p.Width, p.Height, "png")
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	if err := p.fs.MkdirAll(p.outputDir, 0755); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}
	path := filepath.Join(p.outputDir, name+".png")
	f, err := p.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
