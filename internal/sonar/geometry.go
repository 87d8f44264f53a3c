// Package sonar estimates the planar position of a single object from the
// range readings of a three-element ultrasonic array mounted on a line.
//
// The array is described by a SensorGeometry. Each update cycle feeds one
// RawReading through Validate and Estimate, and the resulting Position is
// appended to a History trail that renderers read with Snapshot.
package sonar

import "fmt"

// Sensor identifies a physical slot in the array, ordered left to right.
type Sensor int

const (
	Left Sensor = iota
	Center
	Right
)

// SensorCount is the number of slots in the array.
const SensorCount = 3

// Sensors lists every slot in reading order.
var Sensors = [SensorCount]Sensor{Left, Center, Right}

func (s Sensor) String() string {
	switch s {
	case Left:
		return "left"
	case Center:
		return "center"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("sensor(%d)", int(s))
	}
}

// Valid reports whether s names one of the three slots.
func (s Sensor) Valid() bool {
	return s >= Left && s <= Right
}

// SensorGeometry holds the fixed x-coordinates of the array. The center
// sensor sits at the origin and the outer sensors are spacing away on either
// side. A SensorGeometry is a value and is never mutated after construction.
type SensorGeometry struct {
	spacing float64
	x       [SensorCount]float64
}

// NewSensorGeometry builds the geometry for an array with the given spacing
// between adjacent sensors.
func NewSensorGeometry(spacing float64) (SensorGeometry, error) {
	if !(spacing > 0) {
		return SensorGeometry{}, fmt.Errorf("sensor spacing must be positive, got %v", spacing)
	}
	return SensorGeometry{
		spacing: spacing,
		x:       [SensorCount]float64{-spacing, 0, spacing},
	}, nil
}

// Spacing returns the distance between adjacent sensors.
func (g SensorGeometry) Spacing() float64 {
	return g.spacing
}

// X returns the x-coordinate of sensor s.
func (g SensorGeometry) X(s Sensor) float64 {
	return g.x[s]
}

// Positions returns the sensor locations on the y = 0 line, for renderers.
func (g SensorGeometry) Positions() [SensorCount]Position {
	var out [SensorCount]Position
	for i, x := range g.x {
		out[i] = Position{X: x, Y: 0}
	}
	return out
}
