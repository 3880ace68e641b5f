// Package metrics exposes pipeline counters and gauges over a
// Prometheus scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide instrumentation surface. Counters are
// plain atomics bumped on the hot path; Prometheus reads them lazily
// at scrape time through value functions.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured  atomic.Uint64
	framesDropped   atomic.Uint64
	inferenceRuns   atomic.Uint64
	inferenceErrors atomic.Uint64
	commandsSent    atomic.Uint64
	fallbacks       atomic.Uint64

	tracksLive   atomic.Int64
	cycleFPS     atomic.Uint64 // float64 bits
	cycleLatency atomic.Uint64 // float64 bits, seconds
}

// New builds and registers the collector set.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "screenpilot", Name: name, Help: help,
		}, func() float64 { return float64(v.Load()) })
	}

	m.registry.MustRegister(
		counter("frames_captured_total", "Frames successfully captured.", &m.framesCaptured),
		counter("frames_dropped_total", "Frames dropped by backpressure.", &m.framesDropped),
		counter("inference_runs_total", "Inference cycles executed.", &m.inferenceRuns),
		counter("inference_errors_total", "Inference cycles that failed.", &m.inferenceErrors),
		counter("commands_sent_total", "Movement commands delivered to a device.", &m.commandsSent),
		counter("fallbacks_total", "Capture, engine and actuation downgrades.", &m.fallbacks),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "screenpilot", Name: "tracks_live", Help: "Tracks currently alive.",
		}, func() float64 { return float64(m.tracksLive.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "screenpilot", Name: "cycle_fps", Help: "Smoothed end-to-end cycle rate.",
		}, func() float64 { return math.Float64frombits(m.cycleFPS.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "screenpilot", Name: "cycle_latency_seconds", Help: "Smoothed capture-to-command latency.",
		}, func() float64 { return math.Float64frombits(m.cycleLatency.Load()) }),
	)
	return m
}

func (m *Metrics) FrameCaptured()  { m.framesCaptured.Add(1) }
func (m *Metrics) FrameDropped()   { m.framesDropped.Add(1) }
func (m *Metrics) InferenceRun()   { m.inferenceRuns.Add(1) }
func (m *Metrics) InferenceError() { m.inferenceErrors.Add(1) }
func (m *Metrics) CommandSent()    { m.commandsSent.Add(1) }
func (m *Metrics) Fallback()       { m.fallbacks.Add(1) }

// SetTracksLive publishes the current track count.
func (m *Metrics) SetTracksLive(n int) { m.tracksLive.Store(int64(n)) }

// SetCycle publishes the smoothed rate and latency.
func (m *Metrics) SetCycle(fps float64, latency time.Duration) {
	m.cycleFPS.Store(math.Float64bits(fps))
	m.cycleLatency.Store(math.Float64bits(latency.Seconds()))
}

// Handler returns the scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape listener until the context ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
