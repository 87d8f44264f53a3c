package render

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

// TrailStats summarises a history snapshot.
type TrailStats struct {
	Count       int     `json:"count"`
	Fallbacks   int     `json:"fallbacks"`
	MeanX       float64 `json:"mean_x"`
	MeanY       float64 `json:"mean_y"`
	StdDevX     float64 `json:"stddev_x"`
	StdDevY     float64 `json:"stddev_y"`
	MeanSensors float64 `json:"mean_sensors"`
	// SensorCounts[n] is the number of estimates made from n sensors.
	SensorCounts [sonar.SensorCount + 1]int `json:"sensor_counts"`
}

// ComputeTrailStats returns position statistics over trail. Standard
// deviations are zero for fewer than two estimates.
func ComputeTrailStats(trail []sonar.EstimationResult) TrailStats {
	positions := make([]sonar.Position, len(trail))
	ns := make([]float64, len(trail))
	for i, r := range trail {
		positions[i] = r.Position
		ns[i] = float64(r.SensorCount)
	}

	ts := ComputePositionStats(positions)
	if len(trail) == 0 {
		return ts
	}
	for _, r := range trail {
		if r.Fallback() {
			ts.Fallbacks++
		}
		if r.SensorCount >= 0 && r.SensorCount <= sonar.SensorCount {
			ts.SensorCounts[r.SensorCount]++
		}
	}
	ts.MeanSensors = stat.Mean(ns, nil)
	return ts
}

// ComputePositionStats fills only the positional fields, for trails that
// carry no sensor counts.
func ComputePositionStats(trail []sonar.Position) TrailStats {
	ts := TrailStats{Count: len(trail)}
	if len(trail) == 0 {
		return ts
	}

	xs := make([]float64, len(trail))
	ys := make([]float64, len(trail))
	for i, p := range trail {
		xs[i], ys[i] = p.X, p.Y
	}
	if len(trail) < 2 {
		ts.MeanX, ts.MeanY = xs[0], ys[0]
	} else {
		ts.MeanX, ts.StdDevX = stat.MeanStdDev(xs, nil)
		ts.MeanY, ts.StdDevY = stat.MeanStdDev(ys, nil)
	}
	return ts
}

// Scale converts the positional fields with f, leaving counts unchanged.
func (ts TrailStats) Scale(f func(float64) float64) TrailStats {
	ts.MeanX, ts.MeanY = f(ts.MeanX), f(ts.MeanY)
	ts.StdDevX, ts.StdDevY = f(ts.StdDevX), f(ts.StdDevY)
	return ts
}
