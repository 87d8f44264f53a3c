package sonar

import (
	"fmt"
	"math"
)

// Subset is the set of sensors that contributed to an estimate. Each of the
// eight values selects exactly one formula in Estimate.
type Subset uint8

const (
	SubsetNone        Subset = 0
	SubsetLeft        Subset = 1 << Left
	SubsetCenter      Subset = 1 << Center
	SubsetRight       Subset = 1 << Right
	SubsetLeftCenter         = SubsetLeft | SubsetCenter
	SubsetCenterRight        = SubsetCenter | SubsetRight
	SubsetLeftRight          = SubsetLeft | SubsetRight
	SubsetAll                = SubsetLeft | SubsetCenter | SubsetRight
)

func subsetOf(s Sensor) Subset {
	return Subset(1) << s
}

// Has reports whether sensor s is part of the subset.
func (s Subset) Has(sensor Sensor) bool {
	return s&subsetOf(sensor) != 0
}

// Count returns the number of sensors in the subset.
func (s Subset) Count() int {
	n := 0
	for _, sensor := range Sensors {
		if s.Has(sensor) {
			n++
		}
	}
	return n
}

func (s Subset) String() string {
	switch s {
	case SubsetNone:
		return "none"
	case SubsetLeft:
		return "left"
	case SubsetCenter:
		return "center"
	case SubsetRight:
		return "right"
	case SubsetLeftCenter:
		return "left+center"
	case SubsetCenterRight:
		return "center+right"
	case SubsetLeftRight:
		return "left+right"
	case SubsetAll:
		return "left+center+right"
	default:
		return fmt.Sprintf("subset(%#x)", uint8(s))
	}
}

// MarshalText encodes the subset by name.
func (s Subset) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Position is a point in the plane of the array, in the same units as the
// distances. The origin is the center sensor and y points away from the
// sensor line.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EstimationResult is a position together with the number of sensors that
// produced it. SensorCount is the confidence signal shown to users.
type EstimationResult struct {
	Position    Position `json:"position"`
	SensorCount int      `json:"sensor_count"`
	Subset      Subset   `json:"subset"`
}

// Fallback reports whether the result is the no-data default rather than a
// measurement.
func (r EstimationResult) Fallback() bool {
	return r.SensorCount == 0
}

// Estimate computes the position of the object from a validated reading.
//
// The bearing is always taken from the differential between two sensors and
// the range from a single radial magnitude; this is a bearing/range
// decomposition, not trilateration. With no usable samples the object is
// assumed straight ahead at maxDistance.
func Estimate(v ValidatedReading, g SensorGeometry, maxDistance float64) EstimationResult {
	set := v.Subset()
	res := EstimationResult{SensorCount: v.Len(), Subset: set}
	s := g.Spacing()

	switch set {
	case SubsetNone:
		res.Position = Position{X: 0, Y: maxDistance}

	case SubsetLeft, SubsetCenter, SubsetRight:
		sample := v.samples[0]
		res.Position = Position{X: g.X(sample.Sensor), Y: sample.Distance}

	case SubsetLeftCenter:
		r, _ := v.Distance(Center)
		d, _ := v.Distance(Left)
		res.Position = polar(r, math.Atan2(d-r, s))

	case SubsetCenterRight:
		r, _ := v.Distance(Center)
		d, _ := v.Distance(Right)
		res.Position = polar(r, math.Atan2(r-d, s))

	case SubsetLeftRight:
		d1, _ := v.Distance(Left)
		d3, _ := v.Distance(Right)
		// Mean of the side ranges stands in for the radial distance.
		res.Position = polar((d1+d3)/2, math.Atan2(d1-d3, 2*s))

	case SubsetAll:
		d1, _ := v.Distance(Left)
		d2, _ := v.Distance(Center)
		d3, _ := v.Distance(Right)
		res.Position = polar(d2, math.Atan2(d1-d3, 2*s))
	}

	return res
}

// polar converts a range and a bearing measured from the y axis (positive
// toward the right) into a Position.
func polar(r, angle float64) Position {
	return Position{X: r * math.Sin(angle), Y: r * math.Cos(angle)}
}

// Estimator bundles the fixed array configuration so a tracking loop can run
// Validate and Estimate without repeating it.
type Estimator struct {
	Geometry    SensorGeometry
	MaxDistance float64
}

// NewEstimator validates the configuration.
func NewEstimator(spacing, maxDistance float64) (Estimator, error) {
	g, err := NewSensorGeometry(spacing)
	if err != nil {
		return Estimator{}, err
	}
	if !(maxDistance > 0) {
		return Estimator{}, fmt.Errorf("max distance must be positive, got %v", maxDistance)
	}
	return Estimator{Geometry: g, MaxDistance: maxDistance}, nil
}

// Validate filters raw against the configured maximum distance.
func (e Estimator) Validate(raw RawReading) ValidatedReading {
	return Validate(raw, e.MaxDistance)
}

// Estimate runs the estimator against the configured geometry.
func (e Estimator) Estimate(v ValidatedReading) EstimationResult {
	return Estimate(v, e.Geometry, e.MaxDistance)
}

// Process validates raw and estimates a position from it.
func (e Estimator) Process(raw RawReading) EstimationResult {
	return e.Estimate(e.Validate(raw))
}
