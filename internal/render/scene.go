// Package render draws the tracking display: the sensor line, range rings,
// the history trail and the current estimate coloured by confidence. It
// produces an interactive go-echarts page and a static gonum/plot image from
// the same Scene.
package render

import (
	"github.com/banshee-data/sonar.tracker/internal/sonar"
	"github.com/banshee-data/sonar.tracker/internal/units"
)

const (
	// RingStep is the spacing of the dashed range rings, in centimetres.
	RingStep = 10.0

	// halfWidthRatio sizes the x axis relative to the maximum distance;
	// a 60 cm range gives the familiar [-40, 40] window.
	halfWidthRatio = 2.0 / 3.0
)

// Scene is one frame of the display. Coordinates are already converted to
// Unit.
type Scene struct {
	Unit        string
	MaxDistance float64
	Sensors     [sonar.SensorCount]sonar.Position
	Rings       []float64
	Trail       []sonar.Position
	Current     sonar.EstimationResult
	HasCurrent  bool
}

// NewScene builds a Scene from the estimator configuration, a history
// snapshot (oldest first) and the latest result. Distances are converted from
// centimetres to unit; an unknown unit is treated as centimetres.
func NewScene(est sonar.Estimator, trail []sonar.EstimationResult, latest *sonar.EstimationResult, unit string) Scene {
	if !units.IsValid(unit) {
		unit = units.CM
	}
	conv := func(p sonar.Position) sonar.Position {
		return sonar.Position{
			X: units.ConvertDistance(p.X, unit),
			Y: units.ConvertDistance(p.Y, unit),
		}
	}

	s := Scene{
		Unit:        unit,
		MaxDistance: units.ConvertDistance(est.MaxDistance, unit),
		Trail:       make([]sonar.Position, len(trail)),
	}
	for i, p := range est.Geometry.Positions() {
		s.Sensors[i] = conv(p)
	}
	for r := RingStep; r < est.MaxDistance; r += RingStep {
		s.Rings = append(s.Rings, units.ConvertDistance(r, unit))
	}
	for i, r := range trail {
		s.Trail[i] = conv(r.Position)
	}
	if latest != nil {
		s.Current = *latest
		s.Current.Position = conv(latest.Position)
		s.HasCurrent = true
	}
	return s
}

// XRange returns the symmetric x axis limits.
func (s Scene) XRange() (min, max float64) {
	half := s.MaxDistance * halfWidthRatio
	return -half, half
}

// YRange returns the y axis limits.
func (s Scene) YRange() (min, max float64) {
	return 0, s.MaxDistance
}
