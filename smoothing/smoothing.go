// Package smoothing turns raw target positions into damped pointer
// movement commands.
package smoothing

import (
	"image"
	"math"
	"time"

	"screenpilot/config"
)

// Command is one absolute pointer movement. Seq increases by one per
// emitted command.
type Command struct {
	Point image.Point
	Time  time.Time
	Seq   uint64
}

// Smoother holds the commanded pointer position between cycles. All
// time comes from the caller, so identical target sequences with
// identical timestamps produce identical commands.
type Smoother struct {
	pos      pointF
	seeded   bool
	lastTime time.Time
	seq      uint64
}

type pointF struct {
	x float64
	y float64
}

// NewSmoother returns a smoother with no seeded position; the first
// call to NextCommand seeds it at the center of the screen bounds.
func NewSmoother() *Smoother {
	return &Smoother{}
}

// Seed sets the current pointer position explicitly.
func (s *Smoother) Seed(p image.Point) {
	s.pos = pointF{float64(p.X), float64(p.Y)}
	s.seeded = true
}

// Position returns the last commanded position.
func (s *Smoother) Position() image.Point {
	return image.Pt(int(s.pos.x+0.5), int(s.pos.y+0.5))
}

// NextCommand computes the movement toward target for one cycle. The
// velocity arguments are the target's estimated motion in pixels per
// second, used only when prediction is enabled. A false return means
// the step fell below the jitter threshold and no command is emitted.
func (s *Smoother) NextCommand(target image.Point, velX, velY float64, now time.Time,
	mov config.MovementConfig, sm config.SmoothingConfig, bounds image.Rectangle) (Command, bool) {

	if !s.seeded {
		s.Seed(image.Pt(bounds.Min.X+bounds.Dx()/2, bounds.Min.Y+bounds.Dy()/2))
	}

	elapsed := time.Duration(0)
	if !s.lastTime.IsZero() && now.After(s.lastTime) {
		elapsed = now.Sub(s.lastTime)
	}
	s.lastTime = now

	aim := pointF{float64(target.X), float64(target.Y)}
	if mov.EnablePrediction {
		lead := mov.PredictionDuration().Seconds()
		aim.x += velX * lead
		aim.y += velY * lead
	}

	dx := aim.x - s.pos.x
	dy := aim.y - s.pos.y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return Command{}, false
	}

	stepX := dx * mov.SmoothingFactor
	stepY := dy * mov.SmoothingFactor
	stepMag := math.Hypot(stepX, stepY)

	if stepMag < sm.JitterThreshold {
		return Command{}, false
	}

	// Velocity cap only applies once a cycle interval is known.
	if sm.MaxVelocity > 0 && elapsed > 0 {
		if limit := sm.MaxVelocity * elapsed.Seconds(); stepMag > limit {
			scale := limit / stepMag
			stepX *= scale
			stepY *= scale
			stepMag = limit
		}
	}

	if fn, err := EasingByName(sm.EasingFunction); err == nil {
		progress := stepMag / dist
		if progress > 1 {
			progress = 1
		}
		if eased := fn(progress); progress > 0 {
			scale := eased / progress
			stepX *= scale
			stepY *= scale
		}
	}

	s.pos.x = clampF(s.pos.x+stepX, float64(bounds.Min.X), float64(bounds.Max.X-1))
	s.pos.y = clampF(s.pos.y+stepY, float64(bounds.Min.Y), float64(bounds.Max.Y-1))

	s.seq++
	return Command{Point: s.Position(), Time: now, Seq: s.seq}, true
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
