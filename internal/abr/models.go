package abr

import (
	"errors"
	"fmt"
)

// ID identifies a segment in the correlation and decision tables.
// Media segments use their playback ordinal (starting at 1); initialization
// segments use a negative HeaderIndex so the two spaces never overlap.
type ID int

// IsHeader reports whether id was produced by HeaderIndex.
func (id ID) IsHeader() bool { return id < 0 }

// DefaultQuality is returned by the Quality Cursor when no decision exists
// for the current index.
const DefaultQuality = 0

// DefaultMaxQuality is the number of quality levels in the reference ladder.
const DefaultMaxQuality = 6

// ErrInvalidDecision is returned when a decision carries an index or quality
// outside the accepted range.
var ErrInvalidDecision = errors.New("invalid decision")

// Decision assigns a quality level to a segment index.
// Quality 1 is the lowest bitrate. Timestamp is the capture time in
// milliseconds and is not guaranteed to be monotonic across decisions.
type Decision struct {
	Index     ID    `json:"index"`
	Quality   int   `json:"quality"`
	Timestamp int64 `json:"timestamp"`
}

// Validate checks the decision against a ladder of maxQuality levels.
func (d Decision) Validate(maxQuality int) error {
	if d.Index < 1 {
		return fmt.Errorf("%w: index %d", ErrInvalidDecision, d.Index)
	}
	if d.Quality < 1 || d.Quality > maxQuality {
		return fmt.Errorf("%w: quality %d not in [1, %d]", ErrInvalidDecision, d.Quality, maxQuality)
	}
	return nil
}

// Kind classifies a request locator.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindMedia
	KindHeader
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindHeader:
		return "header"
	default:
		return "unrecognized"
	}
}

// Segment is the result of classifying a locator.
type Segment struct {
	Kind    Kind
	Quality int
	Index   ID
}

// Interceptable reports whether the segment may take part in correlation.
func (s Segment) Interceptable() bool {
	return s.Kind != KindUnrecognized
}
