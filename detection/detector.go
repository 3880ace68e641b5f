package detection

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"gocv.io/x/gocv"

	"screenpilot/capture"
	"screenpilot/config"
)

// Engine names reported through the status interface.
const (
	EngineAccelerated = "accelerated"
	EngineCPU         = "cpu"
)

// FallbackFunc is notified exactly once if the accelerated engine is
// unavailable and the detector drops to CPU execution.
type FallbackFunc func(from, to, reason string)

// backend is one of the three model-family executors.
type backend interface {
	forward(frame gocv.Mat) ([]candidate, error)
	setTarget(gocv.NetBackendType, gocv.NetTargetType)
	name() string
	close() error
}

// Detector owns a loaded model and its execution engine.
type Detector struct {
	logger     *slog.Logger
	backend    backend
	classNames []string
	format     Format
	engine     string

	mu sync.Mutex
}

// Load inspects the model artifact, builds the matching backend and
// selects the execution engine. Any failure here is a ModelLoadError
// and fatal to startup.
func Load(logger *slog.Logger, cfg config.ModelConfig, onFallback FallbackFunc) (*Detector, error) {
	logger = logger.With("component", "detection")

	classNames, err := loadClassNames(cfg.NamesPath)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.NamesPath, Err: err}
	}

	format, err := SniffFormat(cfg.Path)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.Path, Err: err}
	}

	var b backend
	switch format {
	case FormatDarknet:
		configPath, err := findDarknetConfig(cfg.Path)
		if err != nil {
			return nil, &ModelLoadError{Path: cfg.Path, Err: err}
		}
		b, err = newDarknetBackend(cfg.Path, configPath)
		if err != nil {
			return nil, &ModelLoadError{Path: cfg.Path, Err: err}
		}
	case FormatTorch, FormatONNX:
		b, err = newGraphBackend(cfg.Path, format, len(classNames))
		if err != nil {
			return nil, &ModelLoadError{Path: cfg.Path, Err: err}
		}
	default:
		return nil, &ModelLoadError{Path: cfg.Path, Err: fmt.Errorf("unsupported model format")}
	}

	d := &Detector{
		logger:     logger,
		backend:    b,
		classNames: classNames,
		format:     format,
	}
	d.engine = d.selectEngine(cfg.Backend, onFallback)

	logger.Info("model loaded",
		"path", cfg.Path, "format", format.String(),
		"engine", d.engine, "classes", len(classNames))
	return d, nil
}

// selectEngine tries the accelerated path when requested and verifies
// it with a throwaway inference before trusting it; anything short of
// a clean run drops to CPU with a single fallback event.
func (d *Detector) selectEngine(requested string, onFallback FallbackFunc) string {
	wantAccelerated := requested == config.BackendAccelerated ||
		(requested == config.BackendAuto && hasAcceleratorCapability())

	if wantAccelerated {
		d.backend.setTarget(gocv.NetBackendCUDA, gocv.NetTargetCUDA)
		if err := d.testInference(); err == nil {
			return EngineAccelerated
		} else {
			d.logger.Warn("accelerated engine failed verification, falling back to CPU", "error", err)
			if onFallback != nil {
				onFallback(EngineAccelerated, EngineCPU, err.Error())
			}
		}
	}

	d.backend.setTarget(gocv.NetBackendDefault, gocv.NetTargetCPU)
	return EngineCPU
}

// testInference pushes a blank frame through the network so engine
// initialization failures surface at load time, not mid-run.
func (d *Detector) testInference() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test inference panicked: %v", r)
		}
	}()

	test := gocv.NewMatWithSize(graphInputSize, graphInputSize, gocv.MatTypeCV8UC3)
	defer test.Close()
	_, err = d.backend.forward(test)
	return err
}

// hasAcceleratorCapability reports whether a CUDA-capable device and
// driver are present.
func hasAcceleratorCapability() bool {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	return exec.Command(path, "--query-gpu=name", "--format=csv,noheader").Run() == nil
}

// Engine reports the active execution engine.
func (d *Detector) Engine() string {
	return d.engine
}

// Format reports the selected backend family.
func (d *Detector) Format() Format {
	return d.format
}

// Infer runs one frame through the network and the shared post-decode
// pipeline. A failure affects only this call; the caller treats it as
// zero detections for the cycle.
func (d *Detector) Infer(frame *capture.Frame, cfg config.DetectionConfig) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, &InferenceError{Err: fmt.Errorf("convert frame: %w", err)}
	}
	defer mat.Close()

	cands, err := d.backend.forward(mat)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	return postprocess(cands, frame.Bounds(), d.classNames,
		cfg.ConfidenceThreshold, cfg.NMSThreshold, cfg.MaxDetections), nil
}

// Close releases the backend.
func (d *Detector) Close() error {
	return d.backend.close()
}
