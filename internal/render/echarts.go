package render

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
	"github.com/banshee-data/sonar.tracker/internal/units"
)

// ringPoints is the number of points used to draw each range ring.
const ringPoints = 90

// ChartOptions controls the HTML page around the chart.
type ChartOptions struct {
	Width  string
	Height string
	// AssetsHost overrides where the echarts javascript is loaded from.
	AssetsHost string
}

func (o ChartOptions) withDefaults() ChartOptions {
	if o.Width == "" {
		o.Width = "900px"
	}
	if o.Height == "" {
		o.Height = "700px"
	}
	return o
}

func scatterPoint(p sonar.Position) opts.ScatterData {
	return opts.ScatterData{Value: []interface{}{p.X, p.Y}}
}

// ringArc samples the upper half of a circle of radius r centred on the
// middle sensor.
func ringArc(r float64) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, ringPoints+1)
	for i := 0; i <= ringPoints; i++ {
		theta := math.Pi * float64(i) / ringPoints
		data = append(data, scatterPoint(sonar.Position{X: r * math.Cos(theta), Y: r * math.Sin(theta)}))
	}
	return data
}

// NewLiveChart builds the go-echarts scatter chart for a scene.
func NewLiveChart(s Scene, o ChartOptions) *charts.Scatter {
	o = o.withDefaults()
	xMin, xMax := s.XRange()
	yMin, yMax := s.YRange()

	subtitle := "waiting for readings"
	if s.HasCurrent {
		subtitle = fmt.Sprintf("x=%.1f y=%.1f %s, %d sensor(s)",
			s.Current.Position.X, s.Current.Position.Y, s.Unit, s.Current.SensorCount)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:  "Sonar Object Tracking",
			Width:      o.Width,
			Height:     o.Height,
			AssetsHost: o.AssetsHost,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Sonar Object Tracking", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "value", Min: xMin, Max: xMax,
			Name: "X " + units.Label(s.Unit), NameLocation: "middle", NameGap: 25,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "value", Min: yMin, Max: yMax,
			Name: "Y " + units.Label(s.Unit), NameLocation: "middle", NameGap: 35,
		}),
	)

	for _, r := range s.Rings {
		scatter.AddSeries(fmt.Sprintf("%g %s", r, s.Unit), ringArc(r),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 1}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "rgba(128,128,128,0.5)"}),
		)
	}

	sensors := make([]opts.ScatterData, 0, len(s.Sensors))
	for i, p := range s.Sensors {
		d := scatterPoint(p)
		d.Name = sonar.Sensors[i].String()
		d.Symbol = "rect"
		sensors = append(sensors, d)
	}
	scatter.AddSeries("Sensors", sensors,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "black"}),
	)

	trail := make([]opts.ScatterData, 0, len(s.Trail))
	for _, p := range s.Trail {
		trail = append(trail, scatterPoint(p))
	}
	scatter.AddSeries("History", trail,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "rgba(0,0,255,0.3)"}),
	)

	var current []opts.ScatterData
	if s.HasCurrent {
		current = append(current, scatterPoint(s.Current.Position))
	}
	scatter.AddSeries("Current Position", current,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 20}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: sonar.ConfidenceColor(s.Current.SensorCount)}),
	)

	return scatter
}

// RenderLiveChart writes the scene as a standalone HTML page.
func RenderLiveChart(w io.Writer, s Scene, o ChartOptions) error {
	if err := NewLiveChart(s, o).Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
