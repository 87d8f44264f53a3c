package sonar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sonar.tracker/internal/monitoring"
	"github.com/banshee-data/sonar.tracker/internal/timeutil"
)

func newTestTracker(t *testing.T, capacity int, opts ...TrackerOption) *Tracker {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	h, err := NewHistory(capacity)
	require.NoError(t, err)
	return NewTracker(testEstimator(t), h, opts...)
}

func TestTracker_StepAppendsToHistory(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	var seen []Cycle
	tr := newTestTracker(t, 3, WithClock(clock), WithSink(CycleSinkFunc(func(c Cycle) {
		seen = append(seen, c)
	})))

	_, ok := tr.Latest()
	assert.False(t, ok)

	c := tr.Step(RawReading{-1, 20, -1})
	assert.Equal(t, uint64(1), c.Seq)
	assert.Equal(t, clock.Now(), c.Time)
	assert.Equal(t, EstimationResult{Position: Position{X: 0, Y: 20}, SensorCount: 1, Subset: SubsetCenter}, c.Result)

	clock.Advance(100 * time.Millisecond)
	tr.Step(RawReading{-1, -1, -1})

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Seq)
	assert.True(t, latest.Result.Fallback())

	assert.Equal(t, []Position{{X: 0, Y: 20}, {X: 0, Y: 60}}, tr.History().Snapshot())
	require.Len(t, seen, 2)
	assert.Equal(t, latest, seen[1])
	assert.Equal(t, TrackerStats{Cycles: 2, Fallbacks: 1}, tr.Stats())
}

func TestTracker_HandleLineSkipsBadCycles(t *testing.T) {
	tr := newTestTracker(t, 5)

	_, err := tr.HandleLine("25,30")
	assert.True(t, errors.Is(err, ErrShape))

	_, err = tr.HandleLine("25,x,30")
	assert.True(t, errors.Is(err, ErrParse))

	c, err := tr.HandleLine("18,20,22")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Result.SensorCount)

	assert.Equal(t, 1, tr.History().Len())
	assert.Equal(t, TrackerStats{Cycles: 1, ShapeErrors: 1, ParseErrors: 1}, tr.Stats())
}

func TestTracker_HandleLineSkipsNonFiniteDistances(t *testing.T) {
	var seen []Cycle
	tr := newTestTracker(t, 5, WithSink(CycleSinkFunc(func(c Cycle) {
		seen = append(seen, c)
	})))

	for _, line := range []string{"inf,20,nan", "NaN,,", "18,+Inf,22"} {
		_, err := tr.HandleLine(line)
		assert.True(t, errors.Is(err, ErrParse), "%q: got %v", line, err)
	}

	_, ok := tr.Latest()
	assert.False(t, ok)
	assert.Empty(t, seen)
	assert.Zero(t, tr.History().Len())
	assert.Equal(t, TrackerStats{ParseErrors: 3}, tr.Stats())
}

func TestTracker_RunStopsWhenLinesClose(t *testing.T) {
	tr := newTestTracker(t, 50)

	lines := make(chan string, 4)
	lines <- "-1,20,-1"
	lines <- "bad"
	lines <- ",,"
	close(lines)

	require.NoError(t, tr.Run(context.Background(), lines))
	assert.Equal(t, []Position{{X: 0, Y: 20}, {X: 0, Y: 60}}, tr.History().Snapshot())
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	tr := newTestTracker(t, 50)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, make(chan string)) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
