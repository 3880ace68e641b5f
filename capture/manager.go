package capture

import (
	"context"
	"log/slog"
	"sync"

	"screenpilot/config"
)

// FallbackFunc is notified exactly once when the manager downgrades
// from the duplication method to the general method.
type FallbackFunc func(from, to Method, reason string)

// Manager selects between the configured capture method and the
// general-purpose fallback. Once the duplication method fails to
// initialize, or fails more than MaxFailures times in a row, the
// manager downgrades permanently for the remainder of the run.
type Manager struct {
	logger     *slog.Logger
	general    Source
	dup        Source
	onFallback FallbackFunc

	mu           sync.Mutex
	fellBack     bool
	consecutive  int
	lastReported bool
}

// NewManager wires the two sources together. dup may be nil when the
// platform has no duplication path at all.
func NewManager(logger *slog.Logger, general, dup Source, onFallback FallbackFunc) *Manager {
	return &Manager{
		logger:     logger.With("component", "capture"),
		general:    general,
		dup:        dup,
		onFallback: onFallback,
	}
}

// Acquire grabs the next frame using the active method.
func (m *Manager) Acquire(ctx context.Context, cfg config.CaptureConfig) (*Frame, error) {
	if cfg.Method == config.CaptureDuplication && m.dup != nil && !m.hasFallenBack() {
		frame, err := m.dup.Acquire(ctx, cfg)
		if err == nil {
			m.resetFailures()
			return frame, nil
		}
		if m.recordFailure(cfg.MaxFailures, err.Error()) {
			// fall through to the general method below
		} else {
			return nil, err
		}
	}
	return m.general.Acquire(ctx, cfg)
}

// ActiveMethod reports the method the next Acquire will use for a
// duplication-configured run.
func (m *Manager) ActiveMethod(cfg config.CaptureConfig) Method {
	if cfg.Method == config.CaptureDuplication && m.dup != nil && !m.hasFallenBack() {
		return MethodDuplication
	}
	return MethodGeneral
}

func (m *Manager) hasFallenBack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fellBack
}

func (m *Manager) resetFailures() {
	m.mu.Lock()
	m.consecutive = 0
	m.mu.Unlock()
}

// recordFailure counts a duplication failure and returns true once
// the permanent fallback has engaged.
func (m *Manager) recordFailure(maxFailures int, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fellBack {
		return true
	}
	m.consecutive++
	if m.consecutive < maxFailures {
		return false
	}
	m.fellBack = true
	if !m.lastReported {
		m.lastReported = true
		m.logger.Warn("duplication capture failed repeatedly, falling back to general method",
			"failures", m.consecutive, "reason", reason)
		if m.onFallback != nil {
			m.onFallback(MethodDuplication, MethodGeneral, reason)
		}
	}
	if m.dup != nil {
		_ = m.dup.Close()
	}
	return true
}

// Close releases both sources.
func (m *Manager) Close() error {
	var err error
	if m.dup != nil {
		err = m.dup.Close()
	}
	if cerr := m.general.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
