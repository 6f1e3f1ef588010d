package stats

import (
	"sort"
	"sync"
)

// Tracker accumulates metrics for one playback session.
type Tracker struct {
	mu      sync.Mutex
	metrics Metrics
	// segments keeps the latest report per segment index.
	segments map[int]Segment
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{segments: make(map[int]Segment)}
}

// Add merges m into the tracker. A segment report replaces the previous
// one for the same index unless it is older.
func (t *Tracker) Add(m Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.DroppedFrames = append(t.metrics.DroppedFrames, m.DroppedFrames...)
	t.metrics.PlayerTime = append(t.metrics.PlayerTime, m.PlayerTime...)
	t.metrics.BufferLevel = append(t.metrics.BufferLevel, m.BufferLevel...)

	for _, s := range m.Segments {
		if prev, ok := t.segments[s.Index]; ok && prev.Timestamp > s.Timestamp {
			continue
		}
		t.segments[s.Index] = s
	}
}

// Advance drops samples older than timestamp. Segment reports are kept so
// a snapshot still shows the download progress of recent segments.
func (t *Tracker) Advance(timestamp int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.DroppedFrames = since(t.metrics.DroppedFrames, timestamp)
	t.metrics.PlayerTime = since(t.metrics.PlayerTime, timestamp)
	t.metrics.BufferLevel = since(t.metrics.BufferLevel, timestamp)
}

// Snapshot returns a copy of the accumulated metrics. Segments are ordered
// by index.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Metrics{
		DroppedFrames: append([]Value(nil), t.metrics.DroppedFrames...),
		PlayerTime:    append([]Value(nil), t.metrics.PlayerTime...),
		BufferLevel:   append([]Value(nil), t.metrics.BufferLevel...),
		Segments:      make([]Segment, 0, len(t.segments)),
	}
	for _, s := range t.segments {
		out.Segments = append(out.Segments, s)
	}
	sort.Slice(out.Segments, func(i, j int) bool { return out.Segments[i].Index < out.Segments[j].Index })
	return out
}

func since(values []Value, timestamp int64) []Value {
	out := values[:0]
	for _, v := range values {
		if v.Timestamp >= timestamp {
			out = append(out, v)
		}
	}
	return out
}
