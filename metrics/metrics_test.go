package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.FrameCaptured()
	m.FrameCaptured()
	m.FrameDropped()
	m.InferenceRun()
	m.InferenceError()
	m.CommandSent()
	m.Fallback()

	body := scrape(t, m)
	assert.Contains(t, body, "screenpilot_frames_captured_total 2")
	assert.Contains(t, body, "screenpilot_frames_dropped_total 1")
	assert.Contains(t, body, "screenpilot_inference_runs_total 1")
	assert.Contains(t, body, "screenpilot_inference_errors_total 1")
	assert.Contains(t, body, "screenpilot_commands_sent_total 1")
	assert.Contains(t, body, "screenpilot_fallbacks_total 1")
}

func TestMetricsGauges(t *testing.T) {
	m := New()
	m.SetTracksLive(4)
	m.SetCycle(29.5, 18*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "screenpilot_tracks_live 4")
	assert.Contains(t, body, "screenpilot_cycle_fps 29.5")
	assert.Contains(t, body, "screenpilot_cycle_latency_seconds 0.018")
}
