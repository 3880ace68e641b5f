// Package actuate moves the pointer through one of several devices:
// a serial hardware bridge, the host's native input API, or an
// in-process simulator.
package actuate

import (
	"context"
	"errors"
	"image"
)

// ErrTimeout reports that a device did not acknowledge in time.
var ErrTimeout = errors.New("actuate: device timed out")

// ErrUnavailable reports that a device cannot accept commands.
var ErrUnavailable = errors.New("actuate: device unavailable")

// Actuator is a pointer movement device. MoveTo is absolute
// positioning in screen coordinates.
type Actuator interface {
	MoveTo(ctx context.Context, p image.Point) error
	Name() string
	Close() error
}

// Every platform's native device must satisfy the interface.
var _ Actuator = (*NativeActuator)(nil)
