package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackBufferFlushesPreAttachReports(t *testing.T) {
	buf := &FallbackBuffer{}

	// Degradations raised during construction, before any pipeline
	// exists.
	buf.Hook("actuation")("serial", "native", "port not found")
	buf.Report("detection", "cuda", "cpu", "no gpu")

	p, _ := buildPipeline(t, &fakeDetector{}, &fakeMover{})
	buf.Attach(p)

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-p.Events():
			got = append(got, ev)
		default:
			t.Fatal("expected two queued fallback events")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, EventFallback, got[0].Kind)
	assert.Equal(t, "actuation", got[0].Subsystem)
	assert.Equal(t, "serial", got[0].From)
	assert.Equal(t, "native", got[0].To)
	assert.Equal(t, "detection", got[1].Subsystem)
	assert.Equal(t, "no gpu", got[1].Reason)
}

func TestFallbackBufferPassesThroughAfterAttach(t *testing.T) {
	buf := &FallbackBuffer{}
	p, _ := buildPipeline(t, &fakeDetector{}, &fakeMover{})
	buf.Attach(p)

	buf.Report("capture", "high-performance", "general", "device lost")

	select {
	case ev := <-p.Events():
		assert.Equal(t, EventFallback, ev.Kind)
		assert.Equal(t, "capture", ev.Subsystem)
	default:
		t.Fatal("expected the report to reach the event stream directly")
	}
}
