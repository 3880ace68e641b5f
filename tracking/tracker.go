package tracking

import (
	"image"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"screenpilot/config"
	"screenpilot/detection"
)

// Tracker maintains the set of live tracks across inference cycles.
// All mutation happens inside Update; reads take the same lock so a
// status endpoint can snapshot safely from another goroutine.
type Tracker struct {
	logger *slog.Logger

	mu     sync.Mutex
	tracks map[int64]*Track
	nextID int64
}

// NewTracker returns an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With("component", "tracking"),
		tracks: make(map[int64]*Track),
	}
}

// Update absorbs one cycle of detections taken at now and advances
// every track's lifecycle. Detections outside the configured class
// list or the centered field-of-view window never reach matching.
func (tr *Tracker) Update(dets []detection.Detection, frameBounds image.Rectangle, now time.Time, detCfg config.DetectionConfig, trkCfg config.TrackingConfig) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	eligible := filterDetections(dets, frameBounds, detCfg)

	matched := make([]bool, len(eligible))

	// Iterate tracks in ID order so matching is deterministic for a
	// given detection sequence.
	for _, t := range tr.sortedTracksLocked() {
		best := -1
		bestDist := trkCfg.GateDistance
		for i, det := range eligible {
			if matched[i] || det.Class != t.Class {
				continue
			}
			if d := pointDistance(t.Center(), det.Center()); d <= bestDist {
				best = i
				bestDist = d
			}
		}
		if best < 0 {
			t.Missed++
			t.State = StateLost
			continue
		}

		det := eligible[best]
		matched[best] = true
		t.observe(Observation{
			Center:     det.Center(),
			Box:        det.Box,
			Time:       now,
			Confidence: det.Confidence,
		}, trkCfg.HistorySize)
		t.State = StateMatched
	}

	for i, det := range eligible {
		if matched[i] {
			continue
		}
		tr.nextID++
		t := &Track{
			ID:     tr.nextID,
			UID:    uuid.New(),
			Class:  det.Class,
			State:  StateNew,
			filter: NewPointFilter(),
		}
		t.observe(Observation{
			Center:     det.Center(),
			Box:        det.Box,
			Time:       now,
			Confidence: det.Confidence,
		}, trkCfg.HistorySize)
		tr.tracks[t.ID] = t
	}

	for id, t := range tr.tracks {
		if t.Missed > trkCfg.TTLFrames {
			tr.logger.Debug("track evicted", "id", id, "class", t.Class, "missed", t.Missed)
			delete(tr.tracks, id)
		}
	}
}

// ActiveTarget picks the matched track with the highest confidence,
// breaking ties by distance to the frame center. Returns nil when no
// track qualifies.
func (tr *Tracker) ActiveTarget(frameBounds image.Rectangle) *Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	center := image.Pt(
		frameBounds.Min.X+frameBounds.Dx()/2,
		frameBounds.Min.Y+frameBounds.Dy()/2,
	)

	var best *Track
	var bestDist float64
	for _, t := range tr.sortedTracksLocked() {
		if t.State != StateMatched {
			continue
		}
		dist := pointDistance(t.Center(), center)
		if best == nil || t.Confidence > best.Confidence ||
			(t.Confidence == best.Confidence && dist < bestDist) {
			best = t
			bestDist = dist
		}
	}
	return best
}

// Tracks returns a snapshot of the live tracks in ID order.
func (tr *Tracker) Tracks() []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sortedTracksLocked()
}

// Len reports the number of live tracks.
func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.tracks)
}

func (tr *Tracker) sortedTracksLocked() []*Track {
	out := make([]*Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// filterDetections drops detections whose class is not targeted or
// whose centroid falls outside the centered field-of-view window.
func filterDetections(dets []detection.Detection, frameBounds image.Rectangle, cfg config.DetectionConfig) []detection.Detection {
	window := fovWindow(frameBounds, cfg.FOVPercentage)

	var out []detection.Detection
	for _, d := range dets {
		if len(cfg.TargetClasses) > 0 && !containsClass(cfg.TargetClasses, d.Class) {
			continue
		}
		if !d.Center().In(window) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// fovWindow returns the centered sub-rectangle covering the given
// percentage of each frame dimension.
func fovWindow(frame image.Rectangle, percentage float64) image.Rectangle {
	fraction := percentage / 100
	if fraction <= 0 || fraction >= 1 {
		return frame
	}
	w := int(float64(frame.Dx()) * fraction)
	h := int(float64(frame.Dy()) * fraction)
	cx := frame.Min.X + frame.Dx()/2
	cy := frame.Min.Y + frame.Dy()/2
	return image.Rect(cx-w/2, cy-h/2, cx-w/2+w, cy-h/2+h)
}

func containsClass(classes []string, class string) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

func pointDistance(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
