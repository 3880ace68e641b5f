package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFileName = "screenpilot.yaml"

// Backend names accepted by model.backend.
const (
	BackendAuto        = "auto"
	BackendCPU         = "cpu"
	BackendAccelerated = "accelerated"
)

// Capture method names accepted by capture.method.
const (
	CaptureGeneral     = "general"
	CaptureDuplication = "high-performance"
)

// Movement method names accepted by movement.method.
const (
	MovementHardware   = "hardware"
	MovementNative     = "native"
	MovementSimulation = "simulation"
)

// Rect is a screen-space rectangle.
type Rect struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ToImage converts the rectangle to the stdlib representation.
func (r Rect) ToImage() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Config is the full configuration document. The pipeline reads it as
// an immutable snapshot once per cycle; updates are swapped in
// atomically between cycles, never mid-cycle.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Detection   DetectionConfig   `yaml:"detection"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Capture     CaptureConfig     `yaml:"capture"`
	Movement    MovementConfig    `yaml:"movement"`
	Smoothing   SmoothingConfig   `yaml:"smoothing"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Security    SecurityConfig    `yaml:"security"`
	Arduino     ArduinoConfig     `yaml:"arduino"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// Source records where the document came from (defaults or a path).
	Source string `yaml:"-"`
}

// ModelConfig selects the model artifact and execution backend.
type ModelConfig struct {
	Path      string `yaml:"path"`
	NamesPath string `yaml:"names_path"`
	Backend   string `yaml:"backend"`
}

// DetectionConfig holds the post-decode thresholds.
type DetectionConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	NMSThreshold        float64  `yaml:"nms_threshold"`
	TargetClasses       []string `yaml:"target_classes"`
	FOVPercentage       float64  `yaml:"fov_percentage"`
	MaxDetections       int      `yaml:"max_detections"`
}

// TrackingConfig controls track association and lifecycle.
type TrackingConfig struct {
	// TTLFrames is how many consecutive unmatched cycles a track
	// survives before eviction.
	TTLFrames int `yaml:"ttl_frames"`
	// GateDistance is the maximum centroid distance (pixels) for a
	// detection to match an existing track.
	GateDistance float64 `yaml:"gate_distance"`
	// HistorySize bounds the per-track detection history.
	HistorySize int `yaml:"history_size"`
}

// CaptureConfig selects the capture method and region.
type CaptureConfig struct {
	Method       string `yaml:"method"`
	MonitorIndex int    `yaml:"monitor_index"`
	Region       *Rect  `yaml:"region"`
	MaxFPS       int    `yaml:"max_fps"`
	// MaxFailures is the consecutive-failure count that triggers a
	// permanent fallback to the general method.
	MaxFailures int `yaml:"max_failures"`
}

// MovementConfig selects the actuation method and smoothing behaviour.
type MovementConfig struct {
	Method           string  `yaml:"method"`
	SmoothingFactor  float64 `yaml:"smoothing_factor"`
	EnablePrediction bool    `yaml:"enable_prediction"`
	PredictionTime   float64 `yaml:"prediction_time"` // seconds
}

// SmoothingConfig tunes the command filter.
type SmoothingConfig struct {
	JitterThreshold float64 `yaml:"jitter_threshold"` // pixels
	MaxVelocity     float64 `yaml:"max_velocity"`     // pixels/second, 0 = unbounded
	EasingFunction  string  `yaml:"easing_function"`
}

// CalibrationConfig holds the calibrated output bounds.
type CalibrationConfig struct {
	ScreenBounds Rect `yaml:"screen_bounds"`
}

// SecurityConfig caps actuation rates.
type SecurityConfig struct {
	MaxClickRate float64 `yaml:"max_click_rate"` // commands/second
}

// ArduinoConfig configures the hardware actuator link.
type ArduinoConfig struct {
	Port           string  `yaml:"port"`
	BaudRate       int     `yaml:"baud_rate"`
	ConnectTimeout float64 `yaml:"connect_timeout"` // seconds
	MaxRetries     int     `yaml:"max_retries"`
	RetryDelay     float64 `yaml:"retry_delay"` // seconds
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ConnectTimeoutDuration returns the serial connect timeout.
func (a ArduinoConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(a.ConnectTimeout * float64(time.Second))
}

// RetryDelayDuration returns the base delay between serial retries.
func (a ArduinoConfig) RetryDelayDuration() time.Duration {
	return time.Duration(a.RetryDelay * float64(time.Second))
}

// PredictionDuration returns the prediction lookahead.
func (m MovementConfig) PredictionDuration() time.Duration {
	return time.Duration(m.PredictionTime * float64(time.Second))
}

// FrameInterval returns the minimum spacing between capture calls.
func (c CaptureConfig) FrameInterval() time.Duration {
	if c.MaxFPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.MaxFPS)
}

// Default returns the baseline configuration used when no overrides
// are supplied.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Path:      "models/model.onnx",
			NamesPath: "models/classes.names",
			Backend:   BackendAuto,
		},
		Detection: DetectionConfig{
			ConfidenceThreshold: 0.5,
			NMSThreshold:        0.45,
			TargetClasses:       []string{"person"},
			FOVPercentage:       60,
			MaxDetections:       50,
		},
		Tracking: TrackingConfig{
			TTLFrames:    15,
			GateDistance: 120,
			HistorySize:  30,
		},
		Capture: CaptureConfig{
			Method:       CaptureGeneral,
			MonitorIndex: 0,
			MaxFPS:       60,
			MaxFailures:  3,
		},
		Movement: MovementConfig{
			Method:           MovementSimulation,
			SmoothingFactor:  0.5,
			EnablePrediction: false,
			PredictionTime:   0.016,
		},
		Smoothing: SmoothingConfig{
			JitterThreshold: 2.0,
			MaxVelocity:     1000.0,
			EasingFunction:  "linear",
		},
		Calibration: CalibrationConfig{
			ScreenBounds: Rect{X: 0, Y: 0, Width: 1920, Height: 1080},
		},
		Security: SecurityConfig{
			MaxClickRate: 120,
		},
		Arduino: ArduinoConfig{
			Port:           "",
			BaudRate:       9600,
			ConnectTimeout: 3.0,
			MaxRetries:     3,
			RetryDelay:     1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9310",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning
// defaults. When path is empty the loader attempts the default file
// name but tolerates it being absent.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file %q: %w", candidate, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", candidate, err)
	}
	cfg.Source = candidate

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects invalid values outright. Out-of-range numeric
// fields are errors, never silently replaced with defaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model.Path) == "" {
		return errors.New("model.path must not be empty")
	}
	switch c.Model.Backend {
	case BackendAuto, BackendCPU, BackendAccelerated:
	default:
		return fmt.Errorf("model.backend %q must be one of auto, cpu, accelerated", c.Model.Backend)
	}

	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold %v must be in [0,1]", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.NMSThreshold < 0 || c.Detection.NMSThreshold > 1 {
		return fmt.Errorf("detection.nms_threshold %v must be in [0,1]", c.Detection.NMSThreshold)
	}
	if c.Detection.FOVPercentage <= 0 || c.Detection.FOVPercentage > 100 {
		return fmt.Errorf("detection.fov_percentage %v must be in (0,100]", c.Detection.FOVPercentage)
	}
	if c.Detection.MaxDetections <= 0 {
		return errors.New("detection.max_detections must be positive")
	}
	if len(c.Detection.TargetClasses) == 0 {
		return errors.New("detection.target_classes must name at least one class")
	}

	if c.Tracking.TTLFrames <= 0 {
		return errors.New("tracking.ttl_frames must be positive")
	}
	if c.Tracking.GateDistance <= 0 {
		return errors.New("tracking.gate_distance must be positive")
	}
	if c.Tracking.HistorySize <= 0 {
		return errors.New("tracking.history_size must be positive")
	}

	switch c.Capture.Method {
	case CaptureGeneral, CaptureDuplication:
	default:
		return fmt.Errorf("capture.method %q must be %q or %q", c.Capture.Method, CaptureGeneral, CaptureDuplication)
	}
	if c.Capture.MonitorIndex < 0 {
		return errors.New("capture.monitor_index must not be negative")
	}
	if c.Capture.Region != nil && c.Capture.Region.Empty() {
		return errors.New("capture.region must have positive width and height")
	}
	if c.Capture.MaxFPS <= 0 || c.Capture.MaxFPS > 480 {
		return fmt.Errorf("capture.max_fps %d must be in [1,480]", c.Capture.MaxFPS)
	}
	if c.Capture.MaxFailures <= 0 {
		return errors.New("capture.max_failures must be positive")
	}

	switch c.Movement.Method {
	case MovementHardware, MovementNative, MovementSimulation:
	default:
		return fmt.Errorf("movement.method %q must be one of hardware, native, simulation", c.Movement.Method)
	}
	if c.Movement.SmoothingFactor <= 0 || c.Movement.SmoothingFactor > 1 {
		return fmt.Errorf("movement.smoothing_factor %v must be in (0,1]", c.Movement.SmoothingFactor)
	}
	if c.Movement.PredictionTime < 0 {
		return errors.New("movement.prediction_time must not be negative")
	}

	if c.Smoothing.JitterThreshold < 0 {
		return errors.New("smoothing.jitter_threshold must not be negative")
	}
	if c.Smoothing.MaxVelocity < 0 {
		return errors.New("smoothing.max_velocity must not be negative")
	}
	if !KnownEasing(c.Smoothing.EasingFunction) {
		return fmt.Errorf("smoothing.easing_function %q is not a known easing", c.Smoothing.EasingFunction)
	}

	if c.Calibration.ScreenBounds.Empty() {
		return errors.New("calibration.screen_bounds must have positive width and height")
	}

	if c.Security.MaxClickRate <= 0 {
		return errors.New("security.max_click_rate must be positive")
	}

	if c.Movement.Method == MovementHardware {
		if strings.TrimSpace(c.Arduino.Port) == "" {
			return errors.New("arduino.port is required when movement.method is hardware")
		}
		if c.Arduino.BaudRate <= 0 {
			return errors.New("arduino.baud_rate must be positive")
		}
		if c.Arduino.ConnectTimeout <= 0 {
			return errors.New("arduino.connect_timeout must be positive")
		}
		if c.Arduino.MaxRetries < 0 {
			return errors.New("arduino.max_retries must not be negative")
		}
		if c.Arduino.RetryDelay < 0 {
			return errors.New("arduino.retry_delay must not be negative")
		}
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeLogFormat(c.Logging.Format); err != nil {
		return err
	}
	return nil
}

// KnownEasing reports whether name is a supported easing function.
// The registry itself lives in the smoothing package; the set of
// names is fixed here so config validation stays dependency-free.
func KnownEasing(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear", "ease-in-quad", "ease-out-quad", "ease-in-out-cubic":
		return true
	}
	return false
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeLogFormat validates and canonicalizes format identifiers.
func NormalizeLogFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
