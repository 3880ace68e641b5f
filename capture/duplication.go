package capture

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"screenpilot/config"
)

// DuplicationSource is the high-performance capture method. It runs a
// long-lived ffmpeg process against the platform's desktop
// duplication grabber (ddagrab on Windows, x11grab on X11, avfoundation
// on macOS) and reads raw RGBA frames from its stdout. Availability
// depends entirely on the local graphics stack, which is why the
// Manager treats this source as best-effort.
type DuplicationSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stop    chan struct{}
	latest  chan *Frame
	started bool
	region  image.Rectangle
	stamp   monotonicStamp
	seq     uint64

	// lookPath and newCommand are swappable for tests.
	lookPath   func(string) (string, error)
	newCommand func(name string, args ...string) *exec.Cmd
}

// NewDuplicationSource creates the duplication source. The ffmpeg
// process is started lazily on the first Acquire so that construction
// never fails on machines without the grabber.
func NewDuplicationSource(logger *slog.Logger) *DuplicationSource {
	return &DuplicationSource{
		logger:     logger.With("component", "capture-dup"),
		lookPath:   exec.LookPath,
		newCommand: exec.Command,
	}
}

// Method implements Source.
func (d *DuplicationSource) Method() Method { return MethodDuplication }

// grabberArgs builds the platform-specific ffmpeg input arguments.
func grabberArgs(region image.Rectangle, fps int) ([]string, error) {
	size := fmt.Sprintf("%dx%d", region.Dx(), region.Dy())
	rate := fmt.Sprintf("%d", fps)
	switch runtime.GOOS {
	case "windows":
		return []string{
			"-f", "ddagrab",
			"-framerate", rate,
			"-offset_x", fmt.Sprintf("%d", region.Min.X),
			"-offset_y", fmt.Sprintf("%d", region.Min.Y),
			"-video_size", size,
			"-i", "desktop",
		}, nil
	case "linux":
		return []string{
			"-f", "x11grab",
			"-framerate", rate,
			"-video_size", size,
			"-i", fmt.Sprintf(":0.0+%d,%d", region.Min.X, region.Min.Y),
		}, nil
	case "darwin":
		return []string{
			"-f", "avfoundation",
			"-framerate", rate,
			"-i", "1:none",
		}, nil
	default:
		return nil, fmt.Errorf("no duplication grabber for %s: %w", runtime.GOOS, ErrDeviceUnavailable)
	}
}

func (d *DuplicationSource) start(cfg config.CaptureConfig, region image.Rectangle) error {
	if _, err := d.lookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", ErrDeviceUnavailable)
	}

	inputArgs, err := grabberArgs(region, cfg.MaxFPS)
	if err != nil {
		return err
	}
	args := append(inputArgs,
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-an", "-sn",
		"pipe:1",
	)

	cmd := d.newCommand("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %v: %w", err, ErrDeviceUnavailable)
	}

	d.cmd = cmd
	d.stdout = stdout
	d.stop = make(chan struct{})
	d.latest = make(chan *Frame, 1)
	d.region = region
	d.started = true

	go d.drainStderr(stderr)
	go d.readFrames(stdout, region)

	d.logger.Info("duplication capture started",
		"region", region.String(), "fps", cfg.MaxFPS)
	return nil
}

// drainStderr keeps the grabber from blocking on a full stderr pipe
// and surfaces its last words at debug level.
func (d *DuplicationSource) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.logger.Debug("ffmpeg", "line", scanner.Text())
	}
}

// readFrames slurps fixed-size RGBA frames off the pipe. Only the
// newest frame is retained: a stale frame produces stale actuation, so
// the unconsumed one is dropped.
func (d *DuplicationSource) readFrames(r io.Reader, region image.Rectangle) {
	frameSize := region.Dx() * region.Dy() * 4
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-d.stop:
			default:
				d.logger.Warn("duplication stream ended", "error", err)
			}
			close(d.latest)
			return
		}

		img := &image.RGBA{
			Pix:    buf,
			Stride: region.Dx() * 4,
			Rect:   image.Rect(0, 0, region.Dx(), region.Dy()),
		}

		d.mu.Lock()
		d.seq++
		frame := &Frame{
			Image:    img,
			Captured: d.stamp.next(time.Now()),
			Region:   region,
			Method:   MethodDuplication,
			Seq:      d.seq,
		}
		d.mu.Unlock()

		select {
		case d.latest <- frame:
		default:
			select {
			case <-d.latest: // drop oldest
			default:
			}
			select {
			case d.latest <- frame:
			default:
			}
		}

		select {
		case <-d.stop:
			close(d.latest)
			return
		default:
		}
	}
}

// Acquire implements Source.
func (d *DuplicationSource) Acquire(ctx context.Context, cfg config.CaptureConfig) (*Frame, error) {
	region := image.Rect(0, 0, 0, 0)
	if cfg.Region != nil {
		region = cfg.Region.ToImage()
	}

	d.mu.Lock()
	if !d.started {
		if region.Dx() <= 0 || region.Dy() <= 0 {
			// Whole-screen duplication needs an explicit size; fall
			// back to the calibrated default used by ddagrab.
			region = image.Rect(0, 0, 1920, 1080)
		}
		if err := d.start(cfg, region); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	latest := d.latest
	active := d.region
	d.mu.Unlock()

	timeout := cfg.FrameInterval()
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case frame, ok := <-latest:
		if !ok {
			return nil, fmt.Errorf("duplication stream closed: %w", ErrDeviceUnavailable)
		}
		if cfg.Region != nil && cfg.Region.ToImage() != active {
			return cropFrame(frame, cfg.Region.ToImage().Sub(active.Min)), nil
		}
		return frame, nil
	}
}

// cropFrame copies the requested sub-region out of a full frame.
func cropFrame(frame *Frame, sub image.Rectangle) *Frame {
	sub = sub.Intersect(frame.Image.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, sub.Dx(), sub.Dy()))
	xdraw.Copy(out, image.Point{}, frame.Image, sub, xdraw.Src, nil)
	cropped := *frame
	cropped.Image = out
	cropped.Region = sub.Add(frame.Region.Min)
	return &cropped
}

// Close implements Source.
func (d *DuplicationSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	close(d.stop)
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.started = false
	return nil
}
