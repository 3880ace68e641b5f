package actuate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"screenpilot/config"
)

// FallbackFunc is notified exactly once per downgrade when a device
// stops accepting commands and the manager moves to the next one.
type FallbackFunc func(from, to, reason string)

// heldCommand is the freshest rate-capped command, waiting for the
// rate window to open.
type heldCommand struct {
	point image.Point
	at    time.Time
}

// Manager drives a priority-ordered chain of devices. Once a device is
// abandoned the manager never returns to it.
type Manager struct {
	logger     *slog.Logger
	onFallback FallbackFunc

	maxRetries int
	retryDelay time.Duration

	mu       sync.Mutex
	chain    []Actuator
	active   int
	lastSent time.Time
	held     *heldCommand
	timer    *time.Timer
}

// NewManager builds a manager over the given chain, best device first.
func NewManager(logger *slog.Logger, chain []Actuator, arduino config.ArduinoConfig, onFallback FallbackFunc) *Manager {
	return &Manager{
		logger:     logger.With("component", "actuate"),
		chain:      chain,
		onFallback: onFallback,
		maxRetries: arduino.MaxRetries,
		retryDelay: arduino.RetryDelayDuration(),
	}
}

// ActiveDevice names the device currently receiving commands.
func (m *Manager) ActiveDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeDeviceLocked()
}

func (m *Manager) activeDeviceLocked() string {
	if m.active >= len(m.chain) {
		return ""
	}
	return m.chain[m.active].Name()
}

// Move sends one absolute positioning command taken at the given
// frame time. Positions are clamped to the screen bounds again here.
// Commands arriving faster than security.max_click_rate are coalesced
// latest-wins: the freshest point is held and delivered once the rate
// window opens, so a burst never ends short of its final position.
func (m *Manager) Move(ctx context.Context, p image.Point, at time.Time, bounds image.Rectangle, sec config.SecurityConfig) error {
	m.mu.Lock()
	if m.active >= len(m.chain) {
		m.mu.Unlock()
		return ErrUnavailable
	}

	p = clampPoint(p, bounds)

	if sec.MaxClickRate > 0 && !m.lastSent.IsZero() {
		minInterval := time.Duration(float64(time.Second) / sec.MaxClickRate)
		if wait := minInterval - at.Sub(m.lastSent); wait > 0 {
			m.held = &heldCommand{point: p, at: at}
			if m.timer == nil {
				m.timer = time.AfterFunc(wait, m.flushHeld)
			}
			m.mu.Unlock()
			return nil
		}
	}

	// The window is open: this point supersedes anything held.
	m.dropHeldLocked()
	m.mu.Unlock()

	return m.deliver(ctx, p, at)
}

// flushHeld delivers the freshest rate-capped command once the window
// opens.
func (m *Manager) flushHeld() {
	m.mu.Lock()
	m.timer = nil
	held := m.held
	m.held = nil
	m.mu.Unlock()

	if held == nil {
		return
	}
	if err := m.deliver(context.Background(), held.point, held.at); err != nil {
		m.logger.Warn("deferred command failed", "error", err)
	}
}

func (m *Manager) dropHeldLocked() {
	m.held = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// deliver pushes one command through the chain, downgrading past
// devices that fail all their retries.
func (m *Manager) deliver(ctx context.Context, p image.Point, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for m.active < len(m.chain) {
		device := m.chain[m.active]

		lastErr = m.moveWithRetry(ctx, device, p)
		if lastErr == nil {
			m.lastSent = at
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		from := device.Name()
		device.Close()
		m.active++

		to := m.activeDeviceLocked()
		m.logger.Warn("actuation device abandoned", "from", from, "to", to, "error", lastErr)
		if m.onFallback != nil {
			m.onFallback(from, to, lastErr.Error())
		}
	}
	return fmt.Errorf("all actuation devices failed: %w", lastErr)
}

func (m *Manager) moveWithRetry(ctx context.Context, device Actuator, p image.Point) error {
	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			// Doubling backoff: delay, 2*delay, 4*delay, ...
			select {
			case <-time.After(m.retryDelay << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = device.MoveTo(ctx, p); err == nil {
			return nil
		}
	}
	return err
}

// Close releases every device still in the chain.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropHeldLocked()
	var firstErr error
	for i := m.active; i < len(m.chain); i++ {
		if err := m.chain[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.active = len(m.chain)
	return firstErr
}

func clampPoint(p image.Point, bounds image.Rectangle) image.Point {
	if p.X < bounds.Min.X {
		p.X = bounds.Min.X
	}
	if p.X > bounds.Max.X-1 {
		p.X = bounds.Max.X - 1
	}
	if p.Y < bounds.Min.Y {
		p.Y = bounds.Min.Y
	}
	if p.Y > bounds.Max.Y-1 {
		p.Y = bounds.Max.Y - 1
	}
	return p
}
