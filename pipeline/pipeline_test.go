package pipeline

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenpilot/capture"
	"screenpilot/config"
	"screenpilot/detection"
	"screenpilot/smoothing"
	"screenpilot/tracking"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource produces synthetic frames at whatever rate the capture
// loop asks for.
type fakeSource struct {
	mu     sync.Mutex
	seq    uint64
	base   time.Time
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{base: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeSource) Acquire(ctx context.Context, cfg config.CaptureConfig) (*capture.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return &capture.Frame{
		Image:    image.NewRGBA(image.Rect(0, 0, 640, 480)),
		Captured: f.base.Add(time.Duration(f.seq) * 33 * time.Millisecond),
		Region:   image.Rect(0, 0, 640, 480),
		Method:   capture.MethodGeneral,
		Seq:      f.seq,
	}, nil
}

func (f *fakeSource) ActiveMethod(cfg config.CaptureConfig) capture.Method {
	return capture.MethodGeneral
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeDetector reports a single detection at a fixed position.
type fakeDetector struct {
	mu   sync.Mutex
	dets []detection.Detection
	runs int
}

func (f *fakeDetector) Infer(frame *capture.Frame, cfg config.DetectionConfig) ([]detection.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.dets, nil
}

func (f *fakeDetector) Engine() string { return "cpu" }

func (f *fakeDetector) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// fakeMover records delivered positions.
type fakeMover struct {
	mu    sync.Mutex
	moves []image.Point
}

func (f *fakeMover) Move(ctx context.Context, p image.Point, at time.Time, bounds image.Rectangle, sec config.SecurityConfig) error {
	f.mu.Lock()
	f.moves = append(f.moves, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeMover) ActiveDevice() string { return "simulation" }

func (f *fakeMover) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Capture.MaxFPS = 120
	cfg.Security.MaxClickRate = 10000
	return cfg
}

func buildPipeline(t *testing.T, det *fakeDetector, mover *fakeMover) (*Pipeline, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	p, err := New(Options{
		Logger:   testLogger(),
		Source:   src,
		Detector: det,
		Tracker:  tracking.NewTracker(testLogger()),
		Smoother: smoothing.NewSmoother(),
		Mover:    mover,
		Config:   testConfig(),
	})
	require.NoError(t, err)
	return p, src
}

func personAt(x, y int) []detection.Detection {
	return []detection.Detection{{
		Box:        image.Rect(x-20, y-20, x+20, y+20),
		Class:      "person",
		Confidence: 0.9,
	}}
}

func TestPipelineProducesCommandsWhenEnabled(t *testing.T) {
	det := &fakeDetector{dets: personAt(320, 240)}
	mover := &fakeMover{}
	p, src := buildPipeline(t, det, mover)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetEnabled(true)
	require.Eventually(t, func() bool {
		return mover.moveCount() > 0
	}, 3*time.Second, 10*time.Millisecond)

	p.Stop()
	assert.True(t, src.closed)
}

func TestPipelineDisabledKeepsTracking(t *testing.T) {
	det := &fakeDetector{dets: personAt(320, 240)}
	mover := &fakeMover{}
	p, _ := buildPipeline(t, det, mover)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// Detection and tracking run while actuation is gated off.
	require.Eventually(t, func() bool {
		return det.runCount() >= 5 && p.tracker.Len() > 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, mover.moveCount())
}

func TestPipelineEmergencyStopHaltsActuation(t *testing.T) {
	det := &fakeDetector{dets: personAt(320, 240)}
	mover := &fakeMover{}
	p, _ := buildPipeline(t, det, mover)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetEnabled(true)
	require.Eventually(t, func() bool {
		return mover.moveCount() > 0
	}, 3*time.Second, 10*time.Millisecond)

	p.EmergencyStop()
	time.Sleep(50 * time.Millisecond)
	stopped := mover.moveCount()
	time.Sleep(200 * time.Millisecond)
	// At most one in-flight command lands after the stop.
	assert.LessOrEqual(t, mover.moveCount(), stopped+1)

	p.ClearEmergencyStop()
	require.Eventually(t, func() bool {
		return mover.moveCount() > stopped+1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPipelineUpdateConfigRejectsInvalid(t *testing.T) {
	det := &fakeDetector{}
	mover := &fakeMover{}
	p, _ := buildPipeline(t, det, mover)

	bad := testConfig()
	bad.Movement.SmoothingFactor = 7
	assert.Error(t, p.UpdateConfig(bad))

	good := testConfig()
	good.Movement.SmoothingFactor = 0.25
	require.NoError(t, p.UpdateConfig(good))
	assert.Equal(t, 0.25, p.Config().Movement.SmoothingFactor)
}

func TestPipelineFallbackEvents(t *testing.T) {
	det := &fakeDetector{}
	mover := &fakeMover{}
	p, _ := buildPipeline(t, det, mover)

	p.ReportFallback("capture", "high-performance", "general", "device lost")

	select {
	case ev := <-p.Events():
		assert.Equal(t, EventFallback, ev.Kind)
		assert.Equal(t, "capture", ev.Subsystem)
		assert.Equal(t, "high-performance", ev.From)
		assert.Equal(t, "general", ev.To)
	default:
		t.Fatal("expected a queued fallback event")
	}
}

func TestOfferFrameDropsOldest(t *testing.T) {
	ch := make(chan *capture.Frame, 1)
	f1 := &capture.Frame{Seq: 1}
	f2 := &capture.Frame{Seq: 2}

	assert.True(t, offerFrame(ch, f1))
	assert.False(t, offerFrame(ch, f2))
	assert.Equal(t, uint64(2), (<-ch).Seq)
}

func TestOfferCommandDropsOldest(t *testing.T) {
	ch := make(chan smoothing.Command, 1)
	offerCommand(ch, smoothing.Command{Seq: 1})
	offerCommand(ch, smoothing.Command{Seq: 2})
	assert.Equal(t, uint64(2), (<-ch).Seq)
}

func TestPipelineDoubleStart(t *testing.T) {
	det := &fakeDetector{}
	mover := &fakeMover{}
	p, _ := buildPipeline(t, det, mover)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.Error(t, p.Start(context.Background()))
}
