package db

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sonar.tracker/internal/monitoring"
	"github.com/banshee-data/sonar.tracker/internal/sonar"
)

// Session describes one run of the tracker.
type Session struct {
	ID          string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	Spacing     float64   `json:"spacing_cm"`
	MaxDistance float64   `json:"max_distance_cm"`
	Source      string    `json:"source"`
}

// Estimate is one logged tracking cycle. Raw distances keep the sensor's
// reported value, including -1 for no echo.
type Estimate struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Seq         uint64    `json:"seq"`
	LeftCM      float64   `json:"left_cm"`
	CenterCM    float64   `json:"center_cm"`
	RightCM     float64   `json:"right_cm"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	SensorCount int       `json:"sensor_count"`
	Subset      string    `json:"subset"`
	Timestamp   time.Time `json:"timestamp"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

// StartSession records a new tracker session.
func (db *DB) StartSession(s Session) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, spacing_cm, max_distance_cm, source)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, unixSeconds(s.StartedAt), s.Spacing, s.MaxDistance, s.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// Sessions returns all recorded sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, started_at, spacing_cm, max_distance_cm, source
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started float64
		if err := rows.Scan(&s.ID, &started, &s.Spacing, &s.MaxDistance, &s.Source); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixSeconds(started)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordCycle appends one tracking cycle to the log.
func (db *DB) RecordCycle(sessionID string, c sonar.Cycle) error {
	_, err := db.Exec(
		`INSERT INTO estimates (
			session_id, seq, left_cm, center_cm, right_cm, x, y,
			sensor_count, subset, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(c.Seq),
		c.Raw[sonar.Left], c.Raw[sonar.Center], c.Raw[sonar.Right],
		c.Result.Position.X, c.Result.Position.Y,
		c.Result.SensorCount, c.Result.Subset.String(),
		unixSeconds(c.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %d: %w", c.Seq, err)
	}
	return nil
}

// RecentEstimates returns up to limit logged estimates, newest first.
func (db *DB) RecentEstimates(limit int) ([]Estimate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := db.Query(
		`SELECT estimate_id, session_id, seq, left_cm, center_cm, right_cm,
			x, y, sensor_count, subset, timestamp
		 FROM estimates
		 ORDER BY timestamp DESC, estimate_id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var estimates []Estimate
	for rows.Next() {
		var e Estimate
		var seq int64
		var ts float64
		if err := rows.Scan(
			&e.ID, &e.SessionID, &seq, &e.LeftCM, &e.CenterCM, &e.RightCM,
			&e.X, &e.Y, &e.SensorCount, &e.Subset, &ts,
		); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Timestamp = fromUnixSeconds(ts)
		estimates = append(estimates, e)
	}
	return estimates, rows.Err()
}

// Recorder is a sonar.CycleSink that writes every cycle to the log under a
// fresh session id. Write failures are logged and counted, never fatal to
// the tracking loop.
type Recorder struct {
	db        *DB
	sessionID string
	failures  atomic.Uint64
}

// NewRecorder starts a new session for est and returns its recorder.
func NewRecorder(db *DB, est sonar.Estimator, source string) (*Recorder, error) {
	s := Session{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		Spacing:     est.Geometry.Spacing(),
		MaxDistance: est.MaxDistance,
		Source:      source,
	}
	if err := db.StartSession(s); err != nil {
		return nil, err
	}
	return &Recorder{db: db, sessionID: s.ID}, nil
}

// SessionID returns the id cycles are recorded under.
func (r *Recorder) SessionID() string { return r.sessionID }

// Failures returns the number of cycles that could not be written.
func (r *Recorder) Failures() uint64 { return r.failures.Load() }

func (r *Recorder) HandleCycle(c sonar.Cycle) {
	if err := r.db.RecordCycle(r.sessionID, c); err != nil {
		if n := r.failures.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("estimate log: %v (%d failures)", err, n)
		}
	}
}
