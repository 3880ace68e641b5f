package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenpilot/config"
)

type stubSource struct {
	mu     sync.Mutex
	method Method
	errs   []error
	calls  int
	closed bool
	stamp  monotonicStamp
}

func (s *stubSource) Acquire(_ context.Context, _ config.CaptureConfig) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Image:    image.NewRGBA(image.Rect(0, 0, 4, 4)),
		Captured: s.stamp.next(time.Now()),
		Region:   image.Rect(0, 0, 4, 4),
		Method:   s.method,
		Seq:      uint64(s.calls),
	}, nil
}

func (s *stubSource) Method() Method { return s.method }

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func dupConfig() config.CaptureConfig {
	cfg := config.Default().Capture
	cfg.Method = config.CaptureDuplication
	cfg.MaxFailures = 3
	return cfg
}

func TestManagerPrefersDuplication(t *testing.T) {
	general := &stubSource{method: MethodGeneral}
	dup := &stubSource{method: MethodDuplication}
	m := NewManager(slog.Default(), general, dup, nil)

	frame, err := m.Acquire(context.Background(), dupConfig())
	require.NoError(t, err)
	assert.Equal(t, MethodDuplication, frame.Method)
	assert.Equal(t, 0, general.calls)
}

func TestManagerFallsBackPermanentlyAfterConsecutiveFailures(t *testing.T) {
	general := &stubSource{method: MethodGeneral}
	dup := &stubSource{method: MethodDuplication, errs: []error{
		ErrTimeout, ErrTimeout, ErrTimeout, ErrTimeout,
	}}

	var events int
	m := NewManager(slog.Default(), general, dup, func(from, to Method, _ string) {
		events++
		assert.Equal(t, MethodDuplication, from)
		assert.Equal(t, MethodGeneral, to)
	})

	cfg := dupConfig()
	ctx := context.Background()

	// First two failures surface to the caller without fallback.
	_, err := m.Acquire(ctx, cfg)
	require.ErrorIs(t, err, ErrTimeout)
	_, err = m.Acquire(ctx, cfg)
	require.ErrorIs(t, err, ErrTimeout)

	// Third consecutive failure engages the permanent fallback.
	frame, err := m.Acquire(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, MethodGeneral, frame.Method)
	assert.True(t, dup.closed)

	// Duplication is never consulted again, and the event fired once.
	before := dup.calls
	for i := 0; i < 3; i++ {
		frame, err = m.Acquire(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, MethodGeneral, frame.Method)
	}
	assert.Equal(t, before, dup.calls)
	assert.Equal(t, 1, events)
	assert.Equal(t, MethodGeneral, m.ActiveMethod(cfg))
}

func TestManagerSuccessResetsFailureCount(t *testing.T) {
	general := &stubSource{method: MethodGeneral}
	dup := &stubSource{method: MethodDuplication, errs: []error{
		ErrTimeout, ErrTimeout, nil, ErrTimeout, ErrTimeout,
	}}
	m := NewManager(slog.Default(), general, dup, nil)

	cfg := dupConfig()
	ctx := context.Background()
	_, _ = m.Acquire(ctx, cfg)
	_, _ = m.Acquire(ctx, cfg)
	_, err := m.Acquire(ctx, cfg) // success, counter resets
	require.NoError(t, err)
	_, _ = m.Acquire(ctx, cfg)
	_, err = m.Acquire(ctx, cfg)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, MethodDuplication, m.ActiveMethod(cfg))
}

func TestManagerGeneralOnlyConfig(t *testing.T) {
	general := &stubSource{method: MethodGeneral}
	dup := &stubSource{method: MethodDuplication}
	m := NewManager(slog.Default(), general, dup, nil)

	cfg := config.Default().Capture
	cfg.Method = config.CaptureGeneral
	frame, err := m.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, MethodGeneral, frame.Method)
	assert.Equal(t, 0, dup.calls)
}

func TestScreenSourceTimestampsStrictlyIncrease(t *testing.T) {
	src := NewScreenSource()
	src.numDisplays = func() int { return 1 }
	src.displayBounds = func(int) image.Rectangle { return image.Rect(0, 0, 64, 64) }
	src.grab = func(r image.Rectangle) (*image.RGBA, error) {
		return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
	}

	cfg := config.Default().Capture
	var prev time.Time
	for i := 0; i < 10; i++ {
		frame, err := src.Acquire(context.Background(), cfg)
		require.NoError(t, err)
		assert.True(t, frame.Captured.After(prev), "timestamps must be strictly increasing")
		prev = frame.Captured
	}
}

func TestScreenSourceTimeout(t *testing.T) {
	src := NewScreenSource()
	src.numDisplays = func() int { return 1 }
	src.displayBounds = func(int) image.Rectangle { return image.Rect(0, 0, 64, 64) }
	block := make(chan struct{})
	src.grab = func(image.Rectangle) (*image.RGBA, error) {
		<-block
		return nil, errors.New("never")
	}
	t.Cleanup(func() { close(block) })

	cfg := config.Default().Capture
	cfg.MaxFPS = 100 // 10ms frame interval
	_, err := src.Acquire(context.Background(), cfg)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestScreenSourceRegionClipping(t *testing.T) {
	src := NewScreenSource()
	src.numDisplays = func() int { return 1 }
	src.displayBounds = func(int) image.Rectangle { return image.Rect(0, 0, 100, 100) }
	var got image.Rectangle
	src.grab = func(r image.Rectangle) (*image.RGBA, error) {
		got = r
		return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
	}

	cfg := config.Default().Capture
	cfg.Region = &config.Rect{X: 50, Y: 50, Width: 100, Height: 100}
	_, err := src.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(50, 50, 100, 100), got)

	cfg.Region = &config.Rect{X: 200, Y: 200, Width: 10, Height: 10}
	_, err = src.Acquire(context.Background(), cfg)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

func colorRed() color.RGBA {
	return color.RGBA{R: 255, A: 255}
}

func TestCropFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.SetRGBA(5, 5, colorRed())
	frame := &Frame{Image: img, Region: image.Rect(0, 0, 10, 10)}

	out := cropFrame(frame, image.Rect(4, 4, 8, 8))
	require.Equal(t, 4, out.Image.Bounds().Dx())
	assert.Equal(t, colorRed(), out.Image.RGBAAt(1, 1))
}
