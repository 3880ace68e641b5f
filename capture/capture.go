// Package capture acquires timestamped frames from a display region.
//
// Two methods are provided: a general-purpose grabber that works on
// any platform, and a high-performance desktop-duplication pipe that
// is only available under certain graphics stacks. The Manager wraps
// both and falls back permanently to the general method after a run
// of consecutive duplication failures.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"screenpilot/config"
)

var (
	// ErrTimeout is returned when a single acquisition exceeds its
	// per-call deadline.
	ErrTimeout = errors.New("capture timeout")
	// ErrDeviceUnavailable is returned when the capture backend
	// cannot produce frames at all.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Method identifies the capture path that produced a frame.
type Method string

const (
	MethodGeneral     Method = config.CaptureGeneral
	MethodDuplication Method = config.CaptureDuplication
)

// Frame is an immutable captured image plus its provenance.
// Captured carries a monotonic clock reading and is strictly
// increasing across consecutive frames from the same source.
type Frame struct {
	Image    *image.RGBA
	Captured time.Time
	Region   image.Rectangle
	Method   Method
	Seq      uint64
}

// Bounds returns the pixel bounds of the frame image.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Source acquires frames from a configured screen region.
type Source interface {
	// Acquire blocks up to one frame interval for the next frame.
	// It must not block indefinitely; deadline overruns surface as
	// ErrTimeout.
	Acquire(ctx context.Context, cfg config.CaptureConfig) (*Frame, error)
	Method() Method
	Close() error
}

// resolveRegion maps the configured region (or full monitor) to
// screen coordinates.
func resolveRegion(cfg config.CaptureConfig, display image.Rectangle) (image.Rectangle, error) {
	region := display
	if cfg.Region != nil {
		region = cfg.Region.ToImage().Intersect(display)
	}
	if region.Dx() <= 0 || region.Dy() <= 0 {
		return image.Rectangle{}, fmt.Errorf("capture region %v outside display %v: %w", cfg.Region, display, ErrDeviceUnavailable)
	}
	return region, nil
}

// monotonicStamp keeps capture timestamps strictly increasing even if
// the platform grabber returns two frames within clock resolution.
type monotonicStamp struct {
	last time.Time
}

func (m *monotonicStamp) next(now time.Time) time.Time {
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}
