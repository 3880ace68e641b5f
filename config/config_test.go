package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMissingDefaultFileFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "<defaults>", cfg.Source)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenpilot.yaml")
	doc := `
model:
  path: models/net.weights
  backend: cpu
detection:
  confidence_threshold: 0.6
  fov_percentage: 40
capture:
  method: high-performance
  max_fps: 30
movement:
  method: simulation
  smoothing_factor: 0.35
calibration:
  screen_bounds:
    x: 0
    y: 0
    width: 2560
    height: 1440
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "models/net.weights", cfg.Model.Path)
	assert.Equal(t, BackendCPU, cfg.Model.Backend)
	assert.Equal(t, 0.6, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 40.0, cfg.Detection.FOVPercentage)
	assert.Equal(t, CaptureDuplication, cfg.Capture.Method)
	assert.Equal(t, 30, cfg.Capture.MaxFPS)
	assert.Equal(t, 0.35, cfg.Movement.SmoothingFactor)
	assert.Equal(t, 2560, cfg.Calibration.ScreenBounds.Width)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.45, cfg.Detection.NMSThreshold)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detektion:\n  foo: 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence above one", func(c *Config) { c.Detection.ConfidenceThreshold = 1.5 }},
		{"negative nms", func(c *Config) { c.Detection.NMSThreshold = -0.1 }},
		{"zero fov", func(c *Config) { c.Detection.FOVPercentage = 0 }},
		{"fov above 100", func(c *Config) { c.Detection.FOVPercentage = 101 }},
		{"zero max detections", func(c *Config) { c.Detection.MaxDetections = 0 }},
		{"empty target classes", func(c *Config) { c.Detection.TargetClasses = nil }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "tpu" }},
		{"unknown capture method", func(c *Config) { c.Capture.Method = "magic" }},
		{"zero max fps", func(c *Config) { c.Capture.MaxFPS = 0 }},
		{"zero capture failures", func(c *Config) { c.Capture.MaxFailures = 0 }},
		{"zero smoothing factor", func(c *Config) { c.Movement.SmoothingFactor = 0 }},
		{"smoothing factor above one", func(c *Config) { c.Movement.SmoothingFactor = 1.2 }},
		{"negative prediction time", func(c *Config) { c.Movement.PredictionTime = -1 }},
		{"unknown easing", func(c *Config) { c.Smoothing.EasingFunction = "ease-out-bounce" }},
		{"empty screen bounds", func(c *Config) { c.Calibration.ScreenBounds = Rect{} }},
		{"zero click rate", func(c *Config) { c.Security.MaxClickRate = 0 }},
		{"zero track ttl", func(c *Config) { c.Tracking.TTLFrames = 0 }},
		{"zero gate distance", func(c *Config) { c.Tracking.GateDistance = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateHardwareRequiresPort(t *testing.T) {
	cfg := Default()
	cfg.Movement.Method = MovementHardware
	cfg.Arduino.Port = ""
	require.Error(t, cfg.Validate())

	cfg.Arduino.Port = "/dev/ttyACM0"
	require.NoError(t, cfg.Validate())
}

func TestRectToImage(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}
	assert.Equal(t, 110, r.ToImage().Max.X)
	assert.Equal(t, 70, r.ToImage().Max.Y)
	assert.False(t, r.Empty())
	assert.True(t, Rect{Width: 0, Height: 10}.Empty())
}
