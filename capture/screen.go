package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"screenpilot/config"
)

// ScreenSource is the general-purpose capture method. It grabs the
// configured region through the OS screenshot facility and works on
// any platform and display stack.
type ScreenSource struct {
	mu    sync.Mutex
	stamp monotonicStamp
	seq   uint64

	// grab is swappable for tests.
	grab          func(r image.Rectangle) (*image.RGBA, error)
	displayBounds func(idx int) image.Rectangle
	numDisplays   func() int
}

// NewScreenSource creates the general-purpose source.
func NewScreenSource() *ScreenSource {
	return &ScreenSource{
		grab:          screenshot.CaptureRect,
		displayBounds: screenshot.GetDisplayBounds,
		numDisplays:   screenshot.NumActiveDisplays,
	}
}

// Method implements Source.
func (s *ScreenSource) Method() Method { return MethodGeneral }

// Acquire implements Source. The grab runs on its own goroutine so a
// wedged platform call converts into ErrTimeout instead of stalling
// the loop.
func (s *ScreenSource) Acquire(ctx context.Context, cfg config.CaptureConfig) (*Frame, error) {
	if s.numDisplays() == 0 {
		return nil, fmt.Errorf("no active displays: %w", ErrDeviceUnavailable)
	}
	idx := cfg.MonitorIndex
	if idx >= s.numDisplays() {
		idx = 0
	}
	region, err := resolveRegion(cfg, s.displayBounds(idx))
	if err != nil {
		return nil, err
	}

	timeout := cfg.FrameInterval()
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := s.grab(region)
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("screenshot grab: %v: %w", res.err, ErrDeviceUnavailable)
		}
		s.mu.Lock()
		s.seq++
		frame := &Frame{
			Image:    res.img,
			Captured: s.stamp.next(time.Now()),
			Region:   region,
			Method:   MethodGeneral,
			Seq:      s.seq,
		}
		s.mu.Unlock()
		return frame, nil
	}
}

// Close implements Source.
func (s *ScreenSource) Close() error { return nil }
