// screenpilot captures the screen, runs object detection, tracks
// targets across frames and steers the pointer toward the selected
// target through a hardware, native or simulated device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"screenpilot/actuate"
	"screenpilot/capture"
	"screenpilot/config"
	"screenpilot/detection"
	"screenpilot/logging"
	"screenpilot/metrics"
	"screenpilot/pipeline"
	"screenpilot/smoothing"
	"screenpilot/tracking"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "screenpilot:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	enable := flag.Bool("enable", false, "start with actuation enabled")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	logger.Info("starting", "config", cfg.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Device construction can degrade before the pipeline exists, so
	// the hooks report into a buffer that is flushed once it does.
	fallbacks := &pipeline.FallbackBuffer{}

	source := buildCaptureSource(logger, cfg, fallbacks.Hook("capture"))

	detector, err := detection.Load(logger, cfg.Model, fallbacks.Hook("detection"))
	if err != nil {
		return err
	}
	defer detector.Close()

	mover := buildActuation(logger, cfg, fallbacks.Hook("actuation"))
	defer mover.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	p, err := pipeline.New(pipeline.Options{
		Logger:   logger,
		Source:   source,
		Detector: detector,
		Tracker:  tracking.NewTracker(logger),
		Smoother: smoothing.NewSmoother(),
		Mover:    mover,
		Metrics:  m,
		Config:   cfg,
	})
	if err != nil {
		return err
	}
	fallbacks.Attach(p)

	go consumeEvents(logger, p)

	if err := p.Start(ctx); err != nil {
		return err
	}
	p.SetEnabled(*enable)

	<-ctx.Done()
	logger.Info("shutting down")
	p.Stop()
	return nil
}

// buildCaptureSource pairs the general source with the duplication
// source when the configuration asks for it.
func buildCaptureSource(logger *slog.Logger, cfg config.Config, onFallback func(from, to, reason string)) *capture.Manager {
	var dup capture.Source
	if cfg.Capture.Method == config.CaptureDuplication {
		dup = capture.NewDuplicationSource(logger)
	}
	return capture.NewManager(logger, capture.NewScreenSource(), dup,
		func(from, to capture.Method, reason string) {
			onFallback(string(from), string(to), reason)
		})
}

// buildActuation assembles the device chain for the configured method.
// Devices that fail to initialize are skipped with a fallback event;
// the simulator terminates every chain.
func buildActuation(logger *slog.Logger, cfg config.Config, onFallback func(from, to, reason string)) *actuate.Manager {
	var chain []actuate.Actuator

	if cfg.Movement.Method == config.MovementHardware {
		if serial, err := actuate.OpenSerial(logger, cfg.Arduino); err != nil {
			logger.Warn("hardware device unavailable", "error", err)
			onFallback("serial", "native", err.Error())
		} else {
			chain = append(chain, serial)
		}
	}

	if cfg.Movement.Method == config.MovementHardware || cfg.Movement.Method == config.MovementNative {
		if native, err := actuate.NewNative(logger); err != nil {
			logger.Warn("native device unavailable", "error", err)
			onFallback("native", "simulation", err.Error())
		} else {
			chain = append(chain, native)
		}
	}

	chain = append(chain, actuate.NewSimulator(logger))
	return actuate.NewManager(logger, chain, cfg.Arduino, actuate.FallbackFunc(onFallback))
}

func consumeEvents(logger *slog.Logger, p *pipeline.Pipeline) {
	for ev := range p.Events() {
		switch ev.Kind {
		case pipeline.EventFallback:
			logger.Warn("subsystem fallback",
				"subsystem", ev.Subsystem, "from", ev.From, "to", ev.To, "reason", ev.Reason)
		case pipeline.EventStats:
			logger.Info("pipeline status",
				"fps", fmt.Sprintf("%.1f", ev.Stats.FPS),
				"latency", ev.Stats.Latency,
				"avg_capture", ev.Stats.AvgCapture,
				"avg_infer", ev.Stats.AvgInfer,
				"tracks", ev.TracksLive,
				"engine", ev.Engine,
				"capture", ev.CaptureMethod,
				"device", ev.Device)
		}
	}
}
