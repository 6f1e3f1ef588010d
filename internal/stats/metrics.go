// Package stats accumulates the playback metrics reported by the player and
// hands snapshots to the decision algorithm.
package stats

import (
	"errors"
	"fmt"
)

// ErrInvalidMetrics is returned for metrics that fail validation.
var ErrInvalidMetrics = errors.New("invalid metrics")

// Value is a timestamped integer sample. Timestamps are milliseconds.
type Value struct {
	Value     int64 `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// SegmentState is the download state of a segment as seen by the player.
type SegmentState string

const (
	SegmentLoading    SegmentState = "loading"
	SegmentDownloaded SegmentState = "downloaded"
	SegmentProgress   SegmentState = "progress"
)

// Segment reports that Loaded of Total bytes of segment Index at Quality
// were available at Timestamp.
type Segment struct {
	Index     int          `json:"index"`
	Timestamp int64        `json:"timestamp"`
	Loaded    int64        `json:"loaded"`
	Total     int64        `json:"total"`
	Quality   int          `json:"quality"`
	State     SegmentState `json:"state"`
}

// Metrics is one report from the player. Buffer levels are milliseconds,
// player time is seconds.
type Metrics struct {
	DroppedFrames []Value   `json:"droppedFrames"`
	PlayerTime    []Value   `json:"playerTime"`
	BufferLevel   []Value   `json:"bufferLevel"`
	Segments      []Segment `json:"segments"`
}

// Validate rejects segments with an unknown state or impossible byte counts.
func (m Metrics) Validate() error {
	for _, s := range m.Segments {
		switch s.State {
		case SegmentLoading, SegmentDownloaded, SegmentProgress:
		default:
			return fmt.Errorf("%w: segment %d has state %q", ErrInvalidMetrics, s.Index, s.State)
		}
		if s.Loaded < 0 || s.Total < 0 || (s.Total > 0 && s.Loaded > s.Total) {
			return fmt.Errorf("%w: segment %d loaded %d of %d", ErrInvalidMetrics, s.Index, s.Loaded, s.Total)
		}
	}
	return nil
}

// LastBufferLevel returns the most recent buffer level sample.
func (m Metrics) LastBufferLevel() (Value, bool) {
	return latest(m.BufferLevel)
}

// LastPlayerTime returns the most recent player time sample.
func (m Metrics) LastPlayerTime() (Value, bool) {
	return latest(m.PlayerTime)
}

func latest(values []Value) (Value, bool) {
	var out Value
	found := false
	for _, v := range values {
		if !found || v.Timestamp >= out.Timestamp {
			out, found = v, true
		}
	}
	return out, found
}
