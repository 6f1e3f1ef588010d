package main

import (
	"fmt"
	"net/url"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/algorithm"
	"abr-proxy/internal/platform/config"
)

// settings is the resolved server configuration.
type settings struct {
	Port             string
	OriginURL        string
	MaxQuality       int
	Extensions       []string
	HeaderMarker     string
	FulfillTimeout   time.Duration
	DecideTimeout    time.Duration
	SegmentDuration  time.Duration
	DecisionWindow   int
	Algorithm        algorithm.Name
	BackendURL       string
	LadderPath       string
	MetricsRateLimit int
	LogLevel         string
	LogFormat        string
}

func loadSettings() settings {
	return settings{
		Port:             config.GetEnv("PORT", "8080"),
		OriginURL:        config.GetEnv("ORIGIN_URL", ""),
		MaxQuality:       config.GetEnvInt("MAX_QUALITY", abr.DefaultMaxQuality),
		Extensions:       config.GetEnvList("MEDIA_EXTENSIONS", abr.DefaultExtensions),
		HeaderMarker:     config.GetEnv("HEADER_MARKER", abr.DefaultHeaderMarker),
		FulfillTimeout:   config.GetEnvDuration("FULFILL_TIMEOUT", 3*time.Second),
		DecideTimeout:    config.GetEnvDuration("DECIDE_TIMEOUT", 5*time.Second),
		SegmentDuration:  config.GetEnvDuration("SEGMENT_DURATION", algorithm.DefaultSegmentDuration),
		DecisionWindow:   config.GetEnvInt("DECISION_WINDOW", 0),
		Algorithm:        algorithm.Name(config.GetEnv("ALGORITHM", string(algorithm.NameBuffer))),
		BackendURL:       config.GetEnv("BACKEND_URL", ""),
		LadderPath:       config.GetEnv("BITRATE_LADDER", ""),
		MetricsRateLimit: config.GetEnvInt("METRICS_RATE_LIMIT", 20),
		LogLevel:         config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:        config.GetEnv("LOG_FORMAT", "json"),
	}
}

func (s settings) validate() error {
	if s.OriginURL == "" {
		return fmt.Errorf("ORIGIN_URL is required")
	}
	u, err := url.Parse(s.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ORIGIN_URL %q is not an absolute URL", s.OriginURL)
	}
	if s.MaxQuality < 1 {
		return fmt.Errorf("MAX_QUALITY must be at least 1, got %d", s.MaxQuality)
	}
	if s.DecisionWindow < 0 {
		return fmt.Errorf("DECISION_WINDOW must not be negative, got %d", s.DecisionWindow)
	}
	return nil
}

// ladder returns the bitrates for the buffer algorithm. It must have one
// rung per quality level.
func (s settings) ladder() ([]int, error) {
	bitrates := algorithm.DefaultLadder
	if s.LadderPath != "" {
		l, err := config.LoadLadder(s.LadderPath)
		if err != nil {
			return nil, err
		}
		bitrates = l.Bitrates()
	}
	if len(bitrates) != s.MaxQuality {
		return nil, fmt.Errorf("bitrate ladder has %d rungs, MAX_QUALITY is %d", len(bitrates), s.MaxQuality)
	}
	return bitrates, nil
}
