package actuate

import (
	"context"
	"image"
	"log/slog"
	"sync"
)

// Simulator records movement commands without touching any device.
// It is the terminal fallback and always succeeds.
type Simulator struct {
	logger *slog.Logger

	mu       sync.Mutex
	position image.Point
	moves    []image.Point
}

// NewSimulator returns an idle simulator.
func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{
		logger: logger.With("component", "actuate", "device", "simulation"),
	}
}

// MoveTo records the commanded position.
func (s *Simulator) MoveTo(ctx context.Context, p image.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.position = p
	s.moves = append(s.moves, p)
	s.mu.Unlock()

	s.logger.Debug("simulated move", "x", p.X, "y", p.Y)
	return nil
}

// Position returns the last commanded position.
func (s *Simulator) Position() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Moves returns a copy of every recorded command.
func (s *Simulator) Moves() []image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]image.Point, len(s.moves))
	copy(out, s.moves)
	return out
}

// Name identifies the device.
func (s *Simulator) Name() string { return "simulation" }

// Close is a no-op.
func (s *Simulator) Close() error { return nil }
