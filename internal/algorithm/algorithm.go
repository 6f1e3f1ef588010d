// Package algorithm provides the decision algorithms that pick a quality
// level for the next segment.
package algorithm

import (
	"context"
	"fmt"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/stats"

	"github.com/rs/zerolog"
)

// Algorithm decides the quality of a segment from a metrics snapshot.
type Algorithm interface {
	// Decide returns the decision for index. timestamp is the player
	// timestamp the snapshot was taken at.
	Decide(ctx context.Context, snapshot stats.Metrics, index abr.ID, timestamp int64) (abr.Decision, error)
	// NewRequest tells the algorithm that playback requested segment index.
	NewRequest(index abr.ID)
}

// Name identifies an algorithm in configuration.
type Name string

const (
	NameBuffer Name = "buffer"
	NameRemote Name = "remote"
)

// Config selects and configures an algorithm.
type Config struct {
	Name       Name
	Ladder     []int
	BackendURL string
	Timeout    time.Duration
	// SegmentDuration is the playback length of one segment, used by the
	// buffer algorithm to credit a segment still downloading.
	SegmentDuration time.Duration
	Logger          zerolog.Logger
}

// Factory builds a fresh Algorithm. Algorithms keep per-session state, so
// each playback session gets its own.
type Factory func() Algorithm

// NewFactory validates cfg and returns a Factory for it.
func NewFactory(cfg Config) (Factory, error) {
	if _, err := New(cfg); err != nil {
		return nil, err
	}
	return func() Algorithm {
		// cfg was validated above, so New cannot fail here.
		a, _ := New(cfg)
		return a
	}, nil
}

// New builds the algorithm named by cfg.Name.
func New(cfg Config) (Algorithm, error) {
	switch cfg.Name {
	case NameBuffer, "":
		b, err := NewBuffer(cfg.Ladder, cfg.SegmentDuration)
		if err != nil {
			return nil, err
		}
		return b, nil
	case NameRemote:
		if cfg.BackendURL == "" {
			return nil, fmt.Errorf("remote algorithm requires a backend URL")
		}
		return NewRemote(cfg.BackendURL, cfg.Timeout, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", cfg.Name)
	}
}
