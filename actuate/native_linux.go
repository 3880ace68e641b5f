//go:build linux

package actuate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"strconv"
)

// NativeActuator moves the pointer through xdotool on X11 hosts.
type NativeActuator struct {
	logger *slog.Logger
	tool   string
}

// NewNative resolves the host pointer tool. Missing tooling is
// ErrUnavailable so the caller can fall through to simulation.
func NewNative(logger *slog.Logger) (*NativeActuator, error) {
	tool, err := exec.LookPath("xdotool")
	if err != nil {
		return nil, fmt.Errorf("%w: xdotool not found", ErrUnavailable)
	}
	return &NativeActuator{
		logger: logger.With("component", "actuate", "device", "native"),
		tool:   tool,
	}, nil
}

// MoveTo positions the pointer absolutely.
func (a *NativeActuator) MoveTo(ctx context.Context, p image.Point) error {
	cmd := exec.CommandContext(ctx, a.tool, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xdotool mousemove: %w: %s", err, out)
	}
	return nil
}

// Name identifies the device.
func (a *NativeActuator) Name() string { return "native" }

// Close is a no-op for the tool-based device.
func (a *NativeActuator) Close() error { return nil }
