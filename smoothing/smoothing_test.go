package smoothing

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenpilot/config"
)

var (
	screen   = image.Rect(0, 0, 1920, 1080)
	baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func movCfg() config.MovementConfig {
	return config.MovementConfig{
		Method:          config.MovementSimulation,
		SmoothingFactor: 0.5,
	}
}

func smCfg() config.SmoothingConfig {
	return config.SmoothingConfig{
		JitterThreshold: 2.0,
		MaxVelocity:     0, // unbounded
		EasingFunction:  "linear",
	}
}

func TestNextCommandHalfwayStep(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(400, 400))

	cmd, ok := s.NextCommand(image.Pt(500, 500), 0, 0, baseTime, movCfg(), smCfg(), screen)
	require.True(t, ok)
	assert.Equal(t, image.Pt(450, 450), cmd.Point)
	assert.Equal(t, uint64(1), cmd.Seq)
	assert.Equal(t, baseTime, cmd.Time)
}

func TestNextCommandConverges(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(0, 0))
	target := image.Pt(1000, 500)
	dist0 := math.Hypot(1000, 500)

	ts := baseTime
	for n := 1; n <= 8; n++ {
		ts = ts.Add(33 * time.Millisecond)
		_, ok := s.NextCommand(target, 0, 0, ts, movCfg(), smCfg(), screen)
		require.True(t, ok)

		p := s.Position()
		dist := math.Hypot(float64(target.X-p.X), float64(target.Y-p.Y))
		bound := dist0 * math.Pow(0.5, float64(n))
		assert.LessOrEqual(t, dist, bound+1.0, "cycle %d", n)
	}
}

func TestNextCommandJitterSuppressed(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(500, 500))

	// Delta (2,0), step (1,0): below the 2 px jitter threshold.
	_, ok := s.NextCommand(image.Pt(502, 500), 0, 0, baseTime, movCfg(), smCfg(), screen)
	assert.False(t, ok)
	assert.Equal(t, image.Pt(500, 500), s.Position())
}

func TestNextCommandAtTarget(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(500, 500))
	_, ok := s.NextCommand(image.Pt(500, 500), 0, 0, baseTime, movCfg(), smCfg(), screen)
	assert.False(t, ok)
}

func TestNextCommandVelocityCap(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(0, 0))
	sm := smCfg()
	sm.MaxVelocity = 100 // px/s

	// First call has no elapsed interval, cap not applied yet.
	_, ok := s.NextCommand(image.Pt(1000, 0), 0, 0, baseTime, movCfg(), sm, screen)
	require.True(t, ok)
	start := s.Position()

	// 100 ms elapsed: step magnitude capped at 10 px.
	cmd, ok := s.NextCommand(image.Pt(1000, 0), 0, 0, baseTime.Add(100*time.Millisecond), movCfg(), sm, screen)
	require.True(t, ok)
	moved := math.Hypot(float64(cmd.Point.X-start.X), float64(cmd.Point.Y-start.Y))
	assert.LessOrEqual(t, moved, 10.0+0.5)
}

func TestNextCommandPrediction(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(0, 0))
	mov := movCfg()
	mov.EnablePrediction = true
	mov.PredictionTime = 0.1

	// Target moving 500 px/s along x: aim leads by 50 px, so the step
	// is half of 150 rather than half of 100.
	cmd, ok := s.NextCommand(image.Pt(100, 0), 500, 0, baseTime, mov, smCfg(), screen)
	require.True(t, ok)
	assert.Equal(t, image.Pt(75, 0), cmd.Point)
}

func TestNextCommandClampsToScreenBounds(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(1900, 1000))

	// Aim far outside; factor 1 would land outside the screen.
	mov := movCfg()
	mov.SmoothingFactor = 1.0
	cmd, ok := s.NextCommand(image.Pt(5000, 5000), 0, 0, baseTime, mov, smCfg(), screen)
	require.True(t, ok)
	assert.Equal(t, image.Pt(1919, 1079), cmd.Point)
}

func TestNextCommandSeedsAtScreenCenter(t *testing.T) {
	s := NewSmoother()
	cmd, ok := s.NextCommand(image.Pt(1920, 1080), 0, 0, baseTime, movCfg(), smCfg(), screen)
	require.True(t, ok)
	// Seeded at (960,540); half step toward the corner.
	assert.Equal(t, image.Pt(1440, 810), cmd.Point)
}

func TestNextCommandSeqIncrements(t *testing.T) {
	s := NewSmoother()
	s.Seed(image.Pt(0, 0))

	ts := baseTime
	for want := uint64(1); want <= 3; want++ {
		ts = ts.Add(33 * time.Millisecond)
		cmd, ok := s.NextCommand(image.Pt(1000, 1000), 0, 0, ts, movCfg(), smCfg(), screen)
		require.True(t, ok)
		assert.Equal(t, want, cmd.Seq)
	}
}

func TestNextCommandDeterministic(t *testing.T) {
	run := func() []image.Point {
		s := NewSmoother()
		s.Seed(image.Pt(100, 100))
		var out []image.Point
		ts := baseTime
		for i := 0; i < 6; i++ {
			ts = ts.Add(33 * time.Millisecond)
			if cmd, ok := s.NextCommand(image.Pt(900, 700), 0, 0, ts, movCfg(), smCfg(), screen); ok {
				out = append(out, cmd.Point)
			}
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestEasingByName(t *testing.T) {
	for _, name := range []string{"linear", "ease-in-quad", "ease-out-quad", "ease-in-out-cubic"} {
		fn, err := EasingByName(name)
		require.NoError(t, err, name)
		assert.InDelta(t, 0.0, fn(0), 1e-9, name)
		assert.InDelta(t, 1.0, fn(1), 1e-9, name)

		// Monotonic over a coarse grid.
		prev := fn(0)
		for t01 := 0.1; t01 <= 1.0; t01 += 0.1 {
			cur := fn(t01)
			assert.GreaterOrEqual(t, cur, prev, name)
			prev = cur
		}
	}

	_, err := EasingByName("bounce")
	assert.Error(t, err)
}

func TestEasingNamesMatchConfigRegistry(t *testing.T) {
	for name := range easings {
		assert.True(t, config.KnownEasing(name), name)
	}
}
