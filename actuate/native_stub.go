//go:build !linux && !windows

package actuate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
)

// NativeActuator has no working implementation on this platform.
// Every call reports ErrUnavailable so the manager falls through to
// simulation.
type NativeActuator struct{}

// NewNative always fails here; callers fall through to simulation.
func NewNative(logger *slog.Logger) (*NativeActuator, error) {
	return nil, fmt.Errorf("%w: no native pointer device on %s", ErrUnavailable, runtime.GOOS)
}

// MoveTo always reports the device as unavailable.
func (a *NativeActuator) MoveTo(ctx context.Context, p image.Point) error {
	return fmt.Errorf("%w: no native pointer device on %s", ErrUnavailable, runtime.GOOS)
}

// Name identifies the device.
func (a *NativeActuator) Name() string { return "native" }

// Close is a no-op.
func (a *NativeActuator) Close() error { return nil }
