// Package tracking associates detections across frames into
// persistent tracks and selects the active target.
package tracking

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a track.
type State int

const (
	// StateNew marks a track created from an unmatched detection
	// this cycle.
	StateNew State = iota
	// StateMatched marks a track that found its detection again.
	StateMatched
	// StateLost marks a track that missed at least one cycle and is
	// counting down to eviction.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateMatched:
		return "matched"
	case StateLost:
		return "lost"
	default:
		return "invalid"
	}
}

// Observation is one matched detection in a track's history.
type Observation struct {
	Center     image.Point
	Box        image.Rectangle
	Time       time.Time
	Confidence float64
}

// Velocity is a planar rate in pixels per second.
type Velocity struct {
	X float64
	Y float64
}

// Track is one object followed across frames. IDs are unique for the
// process lifetime. All fields are owned by the Tracker; nothing else
// mutates them.
type Track struct {
	ID    int64
	UID   uuid.UUID
	Class string
	State State

	// History holds the most recent matched observations, newest
	// last, bounded by tracking.history_size.
	History []Observation

	// Velocity is the centroid displacement between the two most
	// recent matches divided by their elapsed time.
	Velocity Velocity

	Confidence float64
	LastSeen   time.Time
	Missed     int

	filter *PointFilter
}

// Center returns the most recently observed centroid.
func (t *Track) Center() image.Point {
	if len(t.History) == 0 {
		return image.Point{}
	}
	return t.History[len(t.History)-1].Center
}

// PredictedCenter extrapolates the centroid forward by lookahead
// using the filtered velocity estimate.
func (t *Track) PredictedCenter(lookahead time.Duration) image.Point {
	if t.filter == nil || !t.filter.Ready() {
		return t.Center()
	}
	x, y := t.filter.Predict(lookahead)
	return image.Pt(int(x+0.5), int(y+0.5))
}

// EstimatedVelocity returns the filtered velocity once the filter has
// converged, falling back to the raw two-point rate before that. The
// filtered estimate damps single-frame jumps that would otherwise
// whip the aim point around.
func (t *Track) EstimatedVelocity() Velocity {
	if t.filter == nil || !t.filter.Ready() {
		return t.Velocity
	}
	vx, vy := t.filter.Velocity()
	return Velocity{X: vx, Y: vy}
}

// observe appends a matched observation and refreshes the derived
// fields.
func (t *Track) observe(obs Observation, historySize int) {
	if n := len(t.History); n > 0 {
		prev := t.History[n-1]
		if dt := obs.Time.Sub(prev.Time).Seconds(); dt > 0 {
			t.Velocity = Velocity{
				X: float64(obs.Center.X-prev.Center.X) / dt,
				Y: float64(obs.Center.Y-prev.Center.Y) / dt,
			}
		}
	}

	t.History = append(t.History, obs)
	if len(t.History) > historySize {
		t.History = t.History[len(t.History)-historySize:]
	}

	t.Confidence = obs.Confidence
	t.LastSeen = obs.Time
	t.Missed = 0

	if t.filter != nil {
		t.filter.Update(float64(obs.Center.X), float64(obs.Center.Y), obs.Time)
	}
}
