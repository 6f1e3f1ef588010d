package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"abr-proxy/internal/algorithm"
	"abr-proxy/internal/platform/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testSettings() settings {
	return settings{
		Port:           "0",
		OriginURL:      "http://origin.test",
		MaxQuality:     6,
		FulfillTimeout: time.Second,
		DecideTimeout:  time.Second,
		Algorithm:      algorithm.NameBuffer,
		LogLevel:       "error",
		LogFormat:      "json",
	}
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("ORIGIN_URL", "https://cdn.example.com/vod")
	t.Setenv("MAX_QUALITY", "4")
	t.Setenv("MEDIA_EXTENSIONS", ".cmfv, .m4s")
	t.Setenv("FULFILL_TIMEOUT", "750ms")
	t.Setenv("DECISION_WINDOW", "10")
	t.Setenv("SEGMENT_DURATION", "2s")
	t.Setenv("ALGORITHM", "remote")

	s := loadSettings()
	assert.Equal(t, "8080", s.Port)
	assert.Equal(t, "https://cdn.example.com/vod", s.OriginURL)
	assert.Equal(t, 4, s.MaxQuality)
	assert.Equal(t, []string{".cmfv", ".m4s"}, s.Extensions)
	assert.Equal(t, "Header", s.HeaderMarker)
	assert.Equal(t, 750*time.Millisecond, s.FulfillTimeout)
	assert.Equal(t, 10, s.DecisionWindow)
	assert.Equal(t, 2*time.Second, s.SegmentDuration)
	assert.Equal(t, algorithm.NameRemote, s.Algorithm)
}

func TestSettings_validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*settings)
		ok     bool
	}{
		{"valid", func(*settings) {}, true},
		{"missing_origin", func(s *settings) { s.OriginURL = "" }, false},
		{"relative_origin", func(s *settings) { s.OriginURL = "cdn/video" }, false},
		{"zero_max_quality", func(s *settings) { s.MaxQuality = 0 }, false},
		{"negative_window", func(s *settings) { s.DecisionWindow = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			if tt.ok {
				assert.NoError(t, s.validate())
			} else {
				assert.Error(t, s.validate())
			}
		})
	}
}

func TestSettings_ladder(t *testing.T) {
	s := testSettings()
	got, err := s.ladder()
	require.NoError(t, err)
	assert.Equal(t, algorithm.DefaultLadder, got)

	path := filepath.Join(t.TempDir(), "ladder.yaml")
	yaml := "qualities:\n  - resource: /video2\n    bitrate: 400\n  - resource: /video1\n    bitrate: 1600\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	s.LadderPath = path
	_, err = s.ladder()
	assert.Error(t, err, "two rungs for six qualities")

	s.MaxQuality = 2
	got, err = s.ladder()
	require.NoError(t, err)
	assert.Equal(t, []int{400, 1600}, got)
}

func TestNewServer_rejects_bad_config(t *testing.T) {
	s := testSettings()
	s.MaxQuality = 3
	_, err := newServer(s, zerolog.Nop(), nil)
	assert.Error(t, err)

	s = testSettings()
	s.Algorithm = algorithm.NameRemote
	_, err = newServer(s, zerolog.Nop(), nil)
	assert.Error(t, err, "remote without backend")
}

func TestNewServer_routes(t *testing.T) {
	srv, err := newServer(testSettings(), zerolog.Nop(), metrics.New())
	require.NoError(t, err)
	defer srv.registry.EndAll()

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "abr_active_sessions 1"))

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRun_stops_on_cancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, testSettings(), zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_invalid_settings(t *testing.T) {
	s := testSettings()
	s.OriginURL = ""
	assert.Error(t, run(context.Background(), s, zerolog.Nop()))
}
