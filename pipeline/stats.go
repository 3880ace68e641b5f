package pipeline

import (
	"sync"
	"time"
)

// Stats aggregates per-stage timing for the running pipeline. Cycle
// rate and latency are exponential moving averages so a single slow
// frame does not whipsaw the reported numbers.
type Stats struct {
	mu sync.Mutex

	captureCount int64
	captureTotal time.Duration
	inferCount   int64
	inferTotal   time.Duration
	trackCount   int64
	trackTotal   time.Duration
	actuateCount int64
	actuateTotal time.Duration

	lastCycle  time.Time
	emaFPS     float64
	emaLatency time.Duration
}

const emaAlpha = 0.2

// StatsSnapshot is one immutable read of the aggregates.
type StatsSnapshot struct {
	FPS        float64
	Latency    time.Duration
	AvgCapture time.Duration
	AvgInfer   time.Duration
	AvgTrack   time.Duration
	AvgActuate time.Duration
}

// NewStats returns an empty aggregator.
func NewStats() *Stats {
	return &Stats{}
}

// RecordCapture adds one capture stage sample.
func (s *Stats) RecordCapture(d time.Duration) {
	s.mu.Lock()
	s.captureCount++
	s.captureTotal += d
	s.mu.Unlock()
}

// RecordInference adds one inference stage sample.
func (s *Stats) RecordInference(d time.Duration) {
	s.mu.Lock()
	s.inferCount++
	s.inferTotal += d
	s.mu.Unlock()
}

// RecordTracking adds one tracking stage sample.
func (s *Stats) RecordTracking(d time.Duration) {
	s.mu.Lock()
	s.trackCount++
	s.trackTotal += d
	s.mu.Unlock()
}

// RecordActuation adds one actuation stage sample.
func (s *Stats) RecordActuation(d time.Duration) {
	s.mu.Lock()
	s.actuateCount++
	s.actuateTotal += d
	s.mu.Unlock()
}

// RecordCycle folds one completed cycle into the moving averages.
// now is the cycle's frame timestamp; latency is capture-to-command.
func (s *Stats) RecordCycle(now time.Time, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastCycle.IsZero() {
		if dt := now.Sub(s.lastCycle).Seconds(); dt > 0 {
			inst := 1.0 / dt
			if s.emaFPS == 0 {
				s.emaFPS = inst
			} else {
				s.emaFPS = emaAlpha*inst + (1-emaAlpha)*s.emaFPS
			}
		}
	}
	s.lastCycle = now

	if s.emaLatency == 0 {
		s.emaLatency = latency
	} else {
		s.emaLatency = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(s.emaLatency))
	}
}

// Snapshot reads the aggregates and resets the stage totals, keeping
// the moving averages.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		FPS:     s.emaFPS,
		Latency: s.emaLatency,
	}
	if s.captureCount > 0 {
		snap.AvgCapture = s.captureTotal / time.Duration(s.captureCount)
	}
	if s.inferCount > 0 {
		snap.AvgInfer = s.inferTotal / time.Duration(s.inferCount)
	}
	if s.trackCount > 0 {
		snap.AvgTrack = s.trackTotal / time.Duration(s.trackCount)
	}
	if s.actuateCount > 0 {
		snap.AvgActuate = s.actuateTotal / time.Duration(s.actuateCount)
	}

	s.captureCount, s.captureTotal = 0, 0
	s.inferCount, s.inferTotal = 0, 0
	s.trackCount, s.trackTotal = 0, 0
	s.actuateCount, s.actuateTotal = 0, 0
	return snap
}
