package algorithm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/stats"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const defaultBackendTimeout = 5 * time.Second

// ErrBackendStatus is returned when the backend answers with a non-2xx status.
var ErrBackendStatus = errors.New("backend returned error status")

// pieceRequest is the body posted to the backend.
type pieceRequest struct {
	Stats       stats.Metrics `json:"stats"`
	Piece       bool          `json:"piece"`
	Index       abr.ID        `json:"index"`
	Timestamp   int64         `json:"timestamp"`
	LastRequest abr.ID        `json:"lastRequest,omitempty"`
}

// Remote asks an HTTP backend for each decision. Concurrent requests for the
// same index share one backend call, so a Remote must serve a single
// playback session; build one per session through a Factory.
type Remote struct {
	endpoint    string
	client      *http.Client
	group       singleflight.Group
	lastRequest atomic.Int64
	log         zerolog.Logger
}

// NewRemote returns a Remote posting to endpoint.
func NewRemote(endpoint string, timeout time.Duration, log zerolog.Logger) *Remote {
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &Remote{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// Decide implements Algorithm.Decide. The backend call is detached from
// ctx so a caller giving up does not fail others sharing the call.
func (r *Remote) Decide(ctx context.Context, snapshot stats.Metrics, index abr.ID, timestamp int64) (abr.Decision, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.Itoa(int(index)), func() (any, error) {
		return r.fetch(detached, snapshot, index, timestamp)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return abr.Decision{}, res.Err
		}
		if res.Shared {
			r.log.Debug().Int("index", int(index)).Msg("backend decision shared")
		}
		return res.Val.(abr.Decision), nil
	case <-ctx.Done():
		return abr.Decision{}, ctx.Err()
	}
}

// NewRequest implements Algorithm.NewRequest. The index is forwarded with
// the next backend call.
func (r *Remote) NewRequest(index abr.ID) {
	r.lastRequest.Store(int64(index))
}

func (r *Remote) fetch(ctx context.Context, snapshot stats.Metrics, index abr.ID, timestamp int64) (abr.Decision, error) {
	body, err := json.Marshal(pieceRequest{
		Stats:       snapshot,
		Piece:       true,
		Index:       index,
		Timestamp:   timestamp,
		LastRequest: abr.ID(r.lastRequest.Load()),
	})
	if err != nil {
		return abr.Decision{}, fmt.Errorf("encode piece request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return abr.Decision{}, fmt.Errorf("build piece request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return abr.Decision{}, fmt.Errorf("piece request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return abr.Decision{}, fmt.Errorf("%w: %d", ErrBackendStatus, resp.StatusCode)
	}

	var d abr.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return abr.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if d.Index == 0 {
		d.Index = index
	}
	return d, nil
}
