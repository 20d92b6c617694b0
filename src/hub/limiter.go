package hub

import "time"

// window is a sliding-window counter. It is only used from the hub loop.
type window struct {
	burst  int
	span   time.Duration
	events []time.Time
}

func newWindow(burst int, span time.Duration) *window {
	if burst <= 0 || span <= 0 {
		return nil
	}
	return &window{burst: burst, span: span, events: make([]time.Time, 0, burst)}
}

// allow records an attempt at now and reports whether it fits in the window.
// A nil window allows everything.
func (w *window) allow(now time.Time) bool {
	if w == nil {
		return true
	}
	cutoff := now.Add(-w.span)
	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept
	if len(w.events) >= w.burst {
		return false
	}
	w.events = append(w.events, now)
	return true
}
