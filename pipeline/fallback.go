package pipeline

import (
	"sync"
	"time"
)

// FallbackBuffer collects downgrade notifications raised before the
// pipeline exists. Capture, detection and actuation managers are
// constructed first and may degrade immediately, so their hooks report
// here; Attach flushes everything queued and routes later reports
// straight through.
type FallbackBuffer struct {
	mu     sync.Mutex
	p      *Pipeline
	queued []Event
}

// Hook returns a fallback callback for one subsystem.
func (b *FallbackBuffer) Hook(subsystem string) func(from, to, reason string) {
	return func(from, to, reason string) {
		b.Report(subsystem, from, to, reason)
	}
}

// Report records one downgrade, queuing it until a pipeline is
// attached.
func (b *FallbackBuffer) Report(subsystem, from, to, reason string) {
	b.mu.Lock()
	p := b.p
	if p == nil {
		b.queued = append(b.queued, Event{
			Kind:      EventFallback,
			Time:      time.Now(),
			Subsystem: subsystem,
			From:      from,
			To:        to,
			Reason:    reason,
		})
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	p.ReportFallback(subsystem, from, to, reason)
}

// Attach flushes the queued notifications into the pipeline's event
// stream, in arrival order, and passes all later reports through.
func (b *FallbackBuffer) Attach(p *Pipeline) {
	b.mu.Lock()
	queued := b.queued
	b.queued = nil
	b.p = p
	b.mu.Unlock()

	for _, ev := range queued {
		p.ReportFallback(ev.Subsystem, ev.From, ev.To, ev.Reason)
	}
}
