// Package pipeline wires capture, inference, tracking, smoothing and
// actuation into a fixed-rate processing loop.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"screenpilot/actuate"
	"screenpilot/capture"
	"screenpilot/config"
	"screenpilot/detection"
	"screenpilot/metrics"
	"screenpilot/smoothing"
	"screenpilot/tracking"
)

// FrameSource provides frames and reports the method in use.
type FrameSource interface {
	Acquire(ctx context.Context, cfg config.CaptureConfig) (*capture.Frame, error)
	ActiveMethod(cfg config.CaptureConfig) capture.Method
	Close() error
}

// Inferer runs detection on one frame.
type Inferer interface {
	Infer(frame *capture.Frame, cfg config.DetectionConfig) ([]detection.Detection, error)
	Engine() string
}

// Mover delivers absolute movement commands.
type Mover interface {
	Move(ctx context.Context, p image.Point, at time.Time, bounds image.Rectangle, sec config.SecurityConfig) error
	ActiveDevice() string
}

// EventKind classifies status events.
type EventKind string

const (
	// EventFallback reports a capture, engine or actuation downgrade.
	EventFallback EventKind = "fallback"
	// EventStats is a periodic performance snapshot.
	EventStats EventKind = "stats"
)

// Event is one status notification. Stale events are dropped rather
// than stalling the pipeline.
type Event struct {
	Kind EventKind
	Time time.Time

	// Fallback fields.
	Subsystem string
	From      string
	To        string
	Reason    string

	// Stats fields.
	Stats         StatsSnapshot
	Engine        string
	CaptureMethod string
	Device        string
	TracksLive    int
}

// Options collects the pipeline's collaborators.
type Options struct {
	Logger   *slog.Logger
	Source   FrameSource
	Detector Inferer
	Tracker  *tracking.Tracker
	Smoother *smoothing.Smoother
	Mover    Mover
	Metrics  *metrics.Metrics
	Config   config.Config
}

// Pipeline runs three stage goroutines connected by bounded channels.
// When a stage outruns its consumer the oldest queued item is dropped,
// so every stage always works on the freshest data available.
type Pipeline struct {
	logger   *slog.Logger
	source   FrameSource
	detector Inferer
	tracker  *tracking.Tracker
	smoother *smoothing.Smoother
	mover    Mover
	metrics  *metrics.Metrics
	stats    *Stats

	cfg     atomic.Pointer[config.Config]
	enabled atomic.Bool
	estop   atomic.Bool

	frames   chan *capture.Frame
	commands chan smoothing.Command
	events   chan Event

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New assembles a stopped pipeline. Actuation starts disabled; call
// SetEnabled(true) to let commands reach the device.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	p := &Pipeline{
		logger:   opts.Logger.With("component", "pipeline"),
		source:   opts.Source,
		detector: opts.Detector,
		tracker:  opts.Tracker,
		smoother: opts.Smoother,
		mover:    opts.Mover,
		metrics:  opts.Metrics,
		stats:    NewStats(),
		frames:   make(chan *capture.Frame, 1),
		commands: make(chan smoothing.Command, 1),
		events:   make(chan Event, 16),
	}
	cfg := opts.Config
	p.cfg.Store(&cfg)
	return p, nil
}

// Start launches the stage goroutines.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(3)
	go p.captureLoop(ctx)
	go p.processLoop(ctx)
	go p.actuateLoop(ctx)

	p.wg.Add(1)
	go p.statusLoop(ctx)

	p.logger.Info("pipeline started",
		"capture", p.source.ActiveMethod(p.cfg.Load().Capture),
		"engine", p.detector.Engine(),
		"device", p.mover.ActiveDevice())
	return nil
}

// Stop halts all stages and waits for them to exit.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.source.Close()
}

// Config returns the active configuration snapshot.
func (p *Pipeline) Config() config.Config {
	return *p.cfg.Load()
}

// UpdateConfig validates and swaps in a new configuration. The swap is
/// atomic: a cycle in flight finishes under the snapshot it started
// with, and the next cycle sees the new one.
func (p *Pipeline) UpdateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Store(&cfg)
	p.logger.Info("configuration updated", "source", cfg.Source)
	return nil
}

// SetEnabled gates actuation. Capture, inference and tracking keep
// running while disabled so tracks stay warm.
func (p *Pipeline) SetEnabled(on bool) {
	p.enabled.Store(on)
	p.logger.Info("actuation gate changed", "enabled", on)
}

// Enabled reports the actuation gate.
func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// EmergencyStop drops all pending commands and blocks new ones until
// ClearEmergencyStop. It takes effect within one cycle.
func (p *Pipeline) EmergencyStop() {
	p.estop.Store(true)
	// Drain anything already queued.
	select {
	case <-p.commands:
	default:
	}
	p.logger.Warn("emergency stop engaged")
}

// ClearEmergencyStop re-arms actuation.
func (p *Pipeline) ClearEmergencyStop() {
	p.estop.Store(false)
	p.logger.Info("emergency stop cleared")
}

// Events is the status stream. Slow consumers lose old events, never
// block the pipeline.
func (p *Pipeline) Events() <-chan Event { return p.events }

// ReportFallback feeds a downgrade notification into the event stream.
// Capture, detection and actuation managers call this through their
// fallback hooks.
func (p *Pipeline) ReportFallback(subsystem, from, to, reason string) {
	if p.metrics != nil {
		p.metrics.Fallback()
	}
	p.emit(Event{
		Kind:      EventFallback,
		Time:      time.Now(),
		Subsystem: subsystem,
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

func (p *Pipeline) captureLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.frames)

	for {
		cfg := p.cfg.Load()
		start := time.Now()

		frame, err := p.source.Acquire(ctx, cfg.Capture)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Debug("capture failed", "error", err)
		} else {
			p.stats.RecordCapture(time.Since(start))
			if p.metrics != nil {
				p.metrics.FrameCaptured()
			}
			if !offerFrame(p.frames, frame) && p.metrics != nil {
				p.metrics.FrameDropped()
			}
		}

		// Pace the loop to the configured rate regardless of how fast
		// acquisition returned.
		wait := cfg.Capture.FrameInterval() - time.Since(start)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.commands)

	for {
		var frame *capture.Frame
		var ok bool
		select {
		case frame, ok = <-p.frames:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		cfg := p.cfg.Load()

		inferStart := time.Now()
		dets, err := p.detector.Infer(frame, cfg.Detection)
		p.stats.RecordInference(time.Since(inferStart))
		if p.metrics != nil {
			p.metrics.InferenceRun()
		}
		if err != nil {
			// A failed inference costs one cycle, nothing more.
			p.logger.Warn("inference failed", "error", err)
			if p.metrics != nil {
				p.metrics.InferenceError()
			}
			dets = nil
		}

		trackStart := time.Now()
		p.tracker.Update(dets, frame.Bounds(), frame.Captured, cfg.Detection, cfg.Tracking)
		p.stats.RecordTracking(time.Since(trackStart))
		if p.metrics != nil {
			p.metrics.SetTracksLive(p.tracker.Len())
		}

		if !p.enabled.Load() || p.estop.Load() {
			continue
		}

		target := p.tracker.ActiveTarget(frame.Bounds())
		if target == nil {
			continue
		}

		vel := target.EstimatedVelocity()
		cmd, ok := p.smoother.NextCommand(
			target.Center(), vel.X, vel.Y, frame.Captured,
			cfg.Movement, cfg.Smoothing, cfg.Calibration.ScreenBounds.ToImage())
		if !ok {
			continue
		}
		offerCommand(p.commands, cmd)
	}
}

func (p *Pipeline) actuateLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		var cmd smoothing.Command
		var ok bool
		select {
		case cmd, ok = <-p.commands:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		if p.estop.Load() || !p.enabled.Load() {
			continue
		}

		cfg := p.cfg.Load()
		start := time.Now()
		err := p.mover.Move(ctx, cmd.Point, cmd.Time,
			cfg.Calibration.ScreenBounds.ToImage(), cfg.Security)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("actuation failed", "error", err)
			continue
		}
		p.stats.RecordActuation(time.Since(start))
		p.stats.RecordCycle(cmd.Time, time.Since(cmd.Time))
		if p.metrics != nil {
			p.metrics.CommandSent()
		}
	}
}

func (p *Pipeline) statusLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.events)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := p.stats.Snapshot()
			if p.metrics != nil {
				p.metrics.SetCycle(snap.FPS, snap.Latency)
			}
			p.emit(Event{
				Kind:          EventStats,
				Time:          now,
				Stats:         snap,
				Engine:        p.detector.Engine(),
				CaptureMethod: string(p.source.ActiveMethod(p.cfg.Load().Capture)),
				Device:        p.mover.ActiveDevice(),
				TracksLive:    p.tracker.Len(),
			})
		}
	}
}

func (p *Pipeline) emit(ev Event) {
	for {
		select {
		case p.events <- ev:
			return
		default:
			select {
			case <-p.events:
			default:
			}
		}
	}
}

// offerFrame queues a frame, evicting the stale one if needed. The
// return value reports whether the queue was clear.
func offerFrame(ch chan *capture.Frame, f *capture.Frame) bool {
	clear := true
	for {
		select {
		case ch <- f:
			return clear
		default:
			select {
			case <-ch:
				clear = false
			default:
			}
		}
	}
}

func offerCommand(ch chan smoothing.Command, cmd smoothing.Command) {
	for {
		select {
		case ch <- cmd:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

var _ FrameSource = (*capture.Manager)(nil)
var _ Inferer = (*detection.Detector)(nil)
var _ Mover = (*actuate.Manager)(nil)
