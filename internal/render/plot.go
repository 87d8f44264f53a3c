package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
	"github.com/banshee-data/sonar.tracker/internal/units"
)

// Supported static image formats.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
)

var confidenceRGBA = map[string]color.RGBA{
	sonar.ColorNoSensors:    {R: 220, G: 20, B: 20, A: 255},
	sonar.ColorOneSensor:    {R: 235, G: 200, B: 0, A: 255},
	sonar.ColorTwoSensors:   {R: 255, G: 140, B: 0, A: 255},
	sonar.ColorThreeSensors: {R: 30, G: 160, B: 60, A: 255},
}

var (
	sensorColor = color.RGBA{A: 255}
	trailColor  = color.RGBA{B: 255, A: 80}
	ringColor   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// NewPlot builds the gonum plot for a scene.
func NewPlot(s Scene) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Sonar Object Tracking"
	p.X.Label.Text = "X " + units.Label(s.Unit)
	p.Y.Label.Text = "Y " + units.Label(s.Unit)
	p.X.Min, p.X.Max = s.XRange()
	p.Y.Min, p.Y.Max = s.YRange()
	p.Add(plotter.NewGrid())

	for _, r := range s.Rings {
		pts := make(plotter.XYs, 0, ringPoints+1)
		for i := 0; i <= ringPoints; i++ {
			theta := math.Pi * float64(i) / ringPoints
			pts = append(pts, plotter.XY{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
		}
		ring, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("range ring %g: %w", r, err)
		}
		ring.Color = ringColor
		ring.Width = vg.Points(0.5)
		ring.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(ring)
	}

	sensorPts := make(plotter.XYs, len(s.Sensors))
	for i, pos := range s.Sensors {
		sensorPts[i] = plotter.XY{X: pos.X, Y: pos.Y}
	}
	sensors, err := plotter.NewScatter(sensorPts)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}
	sensors.GlyphStyle = draw.GlyphStyle{Color: sensorColor, Radius: vg.Points(4), Shape: draw.BoxGlyph{}}
	p.Add(sensors)
	p.Legend.Add("Sensors", sensors)

	if len(s.Trail) > 0 {
		trailPts := make(plotter.XYs, len(s.Trail))
		for i, pos := range s.Trail {
			trailPts[i] = plotter.XY{X: pos.X, Y: pos.Y}
		}
		trail, err := plotter.NewScatter(trailPts)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		trail.GlyphStyle = draw.GlyphStyle{Color: trailColor, Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
		p.Add(trail)
		p.Legend.Add("History", trail)
	}

	if s.HasCurrent {
		pos := s.Current.Position
		current, err := plotter.NewScatter(plotter.XYs{{X: pos.X, Y: pos.Y}})
		if err != nil {
			return nil, fmt.Errorf("current position: %w", err)
		}
		current.GlyphStyle = draw.GlyphStyle{
			Color:  confidenceRGBA[sonar.ConfidenceColor(s.Current.SensorCount)],
			Radius: vg.Points(7),
			Shape:  draw.CircleGlyph{},
		}
		p.Add(current)
		p.Legend.Add(fmt.Sprintf("Current Position (%d sensors)", s.Current.SensorCount), current)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// RenderImage writes the scene as a PNG or SVG image of the given size.
func RenderImage(w io.Writer, s Scene, format string, width, height vg.Length) error {
	switch format {
	case FormatPNG, FormatSVG:
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}

	p, err := NewPlot(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", format, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write %s: %w", format, err)
	}
	return nil
}
