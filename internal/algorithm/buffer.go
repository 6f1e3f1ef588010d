package algorithm

import (
	"context"
	"errors"
	"sort"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/stats"
)

const (
	second = 1000

	// Reservoir is the buffer level (ms) at or below which the lowest
	// quality is chosen.
	Reservoir = 5 * second
	// Cushion is the buffer span (ms) above Reservoir over which the
	// bitrate ramps up to the highest quality.
	Cushion = 10 * second
)

// DefaultSegmentDuration is the playback length of one segment.
const DefaultSegmentDuration = 4 * time.Second

// DefaultLadder is the bitrate ladder in kbps, lowest first.
var DefaultLadder = []int{300, 750, 1200, 1850, 2850, 4300}

// Buffer is a buffer-based algorithm: the target bitrate grows linearly with
// the buffer level between Reservoir and Reservoir+Cushion. While the
// previous segment is still downloading, the buffer level is adjusted by
// how much of that segment's playback will arrive in time.
type Buffer struct {
	ladder    []int
	segmentMs int64
}

// NewBuffer returns a Buffer over ladder. Quality n maps to the n-th lowest
// bitrate. segment is the playback length of one segment; zero means
// DefaultSegmentDuration.
func NewBuffer(ladder []int, segment time.Duration) (*Buffer, error) {
	if segment <= 0 {
		segment = DefaultSegmentDuration
	}
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	sorted := append([]int(nil), ladder...)
	sort.Ints(sorted)
	if sorted[0] <= 0 {
		return nil, errors.New("bitrate ladder must be positive")
	}
	return &Buffer{ladder: sorted, segmentMs: segment.Milliseconds()}, nil
}

// Decide implements Algorithm.Decide.
func (b *Buffer) Decide(_ context.Context, snapshot stats.Metrics, index abr.ID, timestamp int64) (abr.Decision, error) {
	d := abr.Decision{Index: index, Quality: 1, Timestamp: timestamp}
	if index <= 1 {
		return d, nil
	}
	level, ok := snapshot.LastBufferLevel()
	if !ok {
		return d, nil
	}
	d.Quality = b.qualityFor(level.Value + b.progressBonus(snapshot.Segments, index))
	return d, nil
}

// progressBonus is the segment length minus the estimated time left to
// download segment index-1. It is zero unless index-1 is still in progress
// and index-2 was reported, since its timestamp is the download start.
func (b *Buffer) progressBonus(segments []stats.Segment, index abr.ID) int64 {
	prev, ok := findSegment(segments, int(index)-1)
	if !ok || prev.State != stats.SegmentProgress || prev.Loaded <= 0 || prev.Total <= 0 {
		return 0
	}
	before, ok := findSegment(segments, int(index)-2)
	if !ok {
		return 0
	}
	elapsed := prev.Timestamp - before.Timestamp
	if elapsed < 0 {
		return 0
	}

	proportion := float64(prev.Loaded) / float64(prev.Total)
	remaining := int64(float64(elapsed) * (1 - proportion) / proportion)
	return b.segmentMs - remaining
}

func findSegment(segments []stats.Segment, index int) (stats.Segment, bool) {
	for _, s := range segments {
		if s.Index == index {
			return s, true
		}
	}
	return stats.Segment{}, false
}

// NewRequest implements Algorithm.NewRequest. Buffer decisions depend only
// on reported metrics.
func (b *Buffer) NewRequest(abr.ID) {}

func (b *Buffer) qualityFor(bufferMs int64) int {
	lowest, highest := b.ladder[0], b.ladder[len(b.ladder)-1]

	var bitrate float64
	switch {
	case bufferMs <= Reservoir:
		bitrate = float64(lowest)
	case bufferMs >= Reservoir+Cushion:
		bitrate = float64(highest)
	default:
		bitrate = float64(lowest) + float64(highest-lowest)*float64(bufferMs-Reservoir)/Cushion
	}

	quality := 1
	for i, rate := range b.ladder {
		if float64(rate) <= bitrate {
			quality = i + 1
		}
	}
	return quality
}
