//go:build windows

package actuate

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/sys/windows"
)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procSetCursorPos = user32.NewProc("SetCursorPos")
)

// NativeActuator moves the pointer through the Win32 cursor API.
type NativeActuator struct {
	logger *slog.Logger
}

// NewNative verifies the cursor API is reachable.
func NewNative(logger *slog.Logger) (*NativeActuator, error) {
	if err := procSetCursorPos.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &NativeActuator{
		logger: logger.With("component", "actuate", "device", "native"),
	}, nil
}

// MoveTo positions the pointer absolutely.
func (a *NativeActuator) MoveTo(ctx context.Context, p image.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ret, _, err := procSetCursorPos.Call(uintptr(p.X), uintptr(p.Y))
	if ret == 0 {
		return fmt.Errorf("SetCursorPos: %w", err)
	}
	return nil
}

// Name identifies the device.
func (a *NativeActuator) Name() string { return "native" }

// Close is a no-op for the API-based device.
func (a *NativeActuator) Close() error { return nil }
