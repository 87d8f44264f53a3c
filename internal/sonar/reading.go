package sonar

import (
	"math"
	"strconv"
	"strings"
)

// NoEcho is the distance recorded for a sensor that reported nothing. The
// firmware leaves the field empty in that case.
const NoEcho = -1.0

// RawReading is one distance per sensor slot, in Sensors order. Values
// outside (0, maxDistance) mean the sensor has no usable echo.
type RawReading [SensorCount]float64

// NewRawReading checks the shape of a decoded reading.
func NewRawReading(values []float64) (RawReading, error) {
	var r RawReading
	if len(values) != SensorCount {
		return r, &ShapeError{Got: len(values)}
	}
	copy(r[:], values)
	return r, nil
}

// ParseReading decodes one line of the serial protocol: comma separated
// distances for the left, center and right sensors. An empty field is a
// missing echo and decodes to NoEcho. Any other token that is not a number
// is rejected with a ParseError, as are NaN and infinities; the shape is
// checked after decoding.
func ParseReading(line string) (RawReading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	values := make([]float64, 0, len(fields))
	for i, f := range fields {
		tok := strings.TrimSpace(f)
		if tok == "" {
			values = append(values, NoEcho)
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return RawReading{}, &ParseError{Index: i, Token: tok, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RawReading{}, &ParseError{Index: i, Token: tok, Err: errNonFinite}
		}
		values = append(values, v)
	}
	return NewRawReading(values)
}

// String formats the reading in the same form ParseReading accepts.
func (r RawReading) String() string {
	parts := make([]string, SensorCount)
	for i, v := range r {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Sample is a distance that passed validation, tagged with the sensor it
// came from.
type Sample struct {
	Sensor   Sensor
	Distance float64
}

// ValidatedReading is the usable subset of a RawReading, in ascending sensor
// order. The zero value holds no samples.
type ValidatedReading struct {
	samples [SensorCount]Sample
	n       int
}

// Validate keeps the values strictly inside (0, maxDistance). Values outside
// the interval, including NoEcho, zero and NaN, are dropped rather than
// clamped.
func Validate(raw RawReading, maxDistance float64) ValidatedReading {
	var v ValidatedReading
	for i, d := range raw {
		if d > 0 && d < maxDistance {
			v.samples[v.n] = Sample{Sensor: Sensor(i), Distance: d}
			v.n++
		}
	}
	return v
}

// Len returns the number of usable samples.
func (v ValidatedReading) Len() int {
	return v.n
}

// Samples returns a copy of the usable samples.
func (v ValidatedReading) Samples() []Sample {
	out := make([]Sample, v.n)
	copy(out, v.samples[:v.n])
	return out
}

// Distance returns the validated distance for sensor s, if present.
func (v ValidatedReading) Distance(s Sensor) (float64, bool) {
	for _, sample := range v.samples[:v.n] {
		if sample.Sensor == s {
			return sample.Distance, true
		}
	}
	return 0, false
}

// Subset identifies which sensors contributed.
func (v ValidatedReading) Subset() Subset {
	var set Subset
	for _, sample := range v.samples[:v.n] {
		set |= subsetOf(sample.Sensor)
	}
	return set
}
