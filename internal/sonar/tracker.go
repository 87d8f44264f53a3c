package sonar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/sonar.tracker/internal/monitoring"
	"github.com/banshee-data/sonar.tracker/internal/timeutil"
)

// Cycle is the outcome of one update: the reading that was accepted and the
// estimate derived from it.
type Cycle struct {
	Seq    uint64           `json:"seq"`
	Time   time.Time        `json:"time"`
	Raw    RawReading       `json:"raw"`
	Result EstimationResult `json:"result"`
}

// CycleSink receives every completed cycle, in order, on the tracking
// goroutine. Implementations must return promptly.
type CycleSink interface {
	HandleCycle(Cycle)
}

// CycleSinkFunc adapts a function to CycleSink.
type CycleSinkFunc func(Cycle)

func (f CycleSinkFunc) HandleCycle(c Cycle) { f(c) }

// TrackerStats counts cycles by outcome.
type TrackerStats struct {
	Cycles      uint64 `json:"cycles"`
	Fallbacks   uint64 `json:"fallbacks"`
	ShapeErrors uint64 `json:"shape_errors"`
	ParseErrors uint64 `json:"parse_errors"`
}

// Tracker is the tracking loop state: the fixed estimator, the owned history
// trail and the most recent result. Step and HandleLine must be called from a
// single goroutine; Latest, Stats and History().Snapshot are safe from any.
type Tracker struct {
	estimator Estimator
	history   *History
	clock     timeutil.Clock
	sinks     []CycleSink

	mu        sync.RWMutex
	latest    Cycle
	hasLatest bool
	stats     TrackerStats
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the clock used to timestamp cycles.
func WithClock(c timeutil.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithSink registers a sink that sees every completed cycle.
func WithSink(s CycleSink) TrackerOption {
	return func(t *Tracker) { t.sinks = append(t.sinks, s) }
}

// NewTracker creates a tracking loop around an estimator and the history it
// will append to.
func NewTracker(est Estimator, history *History, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		estimator: est,
		history:   history,
		clock:     timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Estimator returns the fixed array configuration.
func (t *Tracker) Estimator() Estimator {
	return t.estimator
}

// History returns the trail owned by the tracker. Callers should only read it.
func (t *Tracker) History() *History {
	return t.history
}

// Step runs one update cycle on a reading that already has the right shape.
func (t *Tracker) Step(raw RawReading) Cycle {
	v := t.estimator.Validate(raw)
	res := t.estimator.Estimate(v)
	if res.Fallback() {
		monitoring.Debugf("no valid sensor readings in %s", raw)
	} else {
		monitoring.Debugf("using %d sensors (%s): x=%.2f y=%.2f", res.SensorCount, res.Subset, res.Position.X, res.Position.Y)
	}

	t.history.Append(res.Position)

	t.mu.Lock()
	t.stats.Cycles++
	if res.Fallback() {
		t.stats.Fallbacks++
	}
	c := Cycle{
		Seq:    t.stats.Cycles,
		Time:   t.clock.Now(),
		Raw:    raw,
		Result: res,
	}
	t.latest = c
	t.hasLatest = true
	t.mu.Unlock()

	for _, s := range t.sinks {
		s.HandleCycle(c)
	}
	return c
}

// HandleLine decodes one serial line and runs a cycle on it. Shape and parse
// failures skip the cycle: they are counted, logged and returned, and the
// history is left untouched.
func (t *Tracker) HandleLine(line string) (Cycle, error) {
	raw, err := ParseReading(line)
	if err != nil {
		t.mu.Lock()
		switch {
		case errors.Is(err, ErrShape):
			t.stats.ShapeErrors++
		case errors.Is(err, ErrParse):
			t.stats.ParseErrors++
		}
		t.mu.Unlock()
		monitoring.Logf("skipping reading %q: %v", line, err)
		return Cycle{}, err
	}
	return t.Step(raw), nil
}

// Run consumes lines until ctx is done or lines is closed. A closed channel
// ends the loop without error.
func (t *Tracker) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			// errors are per-cycle and already logged
			_, _ = t.HandleLine(line)
		}
	}
}

// Latest returns the most recent cycle, if any cycle has completed.
func (t *Tracker) Latest() (Cycle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasLatest
}

// Stats returns the running counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
