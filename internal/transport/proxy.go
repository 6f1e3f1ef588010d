// Package transport serves segment requests on behalf of the player and
// lets an Interceptor observe and suppress them before any upstream I/O.
package transport

import (
	"io"
	"net/http"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/platform/metrics"

	"github.com/rs/zerolog"
)

const defaultFulfillTimeout = 3 * time.Second

// forwardedHeaders are copied from the player request to the origin.
var forwardedHeaders = []string{"Range", "Accept", "If-None-Match", "If-Modified-Since", "User-Agent"}

// Interceptor is called by the transport for every segment request.
type Interceptor interface {
	// Prepare runs before the request is sent and classifies its locator.
	Prepare(locator string) abr.Segment
	// Send runs at send time. Suppress means the transport must wait for
	// call to be reissued or abandoned instead of fetching.
	Send(seg abr.Segment, locator string, call abr.Call) abr.Verdict
	// Release tells the interceptor the transport stopped waiting on call.
	Release(seg abr.Segment, call abr.Call)
}

// Config holds the configuration for the Proxy.
type Config struct {
	// Client performs origin fetches. Defaults to http.DefaultClient.
	Client *http.Client
	// FulfillTimeout bounds how long a suppressed request waits for its
	// decision before falling back to the original locator.
	FulfillTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Proxy fetches segments from the origin.
type Proxy struct {
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New returns a Proxy.
func New(cfg Config) *Proxy {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.FulfillTimeout <= 0 {
		cfg.FulfillTimeout = defaultFulfillTimeout
	}
	return &Proxy{
		client:  cfg.Client,
		timeout: cfg.FulfillTimeout,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Serve answers r with the segment at locator, an absolute origin URL.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, ic Interceptor, locator string) {
	seg := ic.Prepare(locator)
	c := newCall(locator)

	verdict := ic.Send(seg, locator, c)
	p.metrics.IncSegmentRequest(seg.Kind.String(), verdict.String())
	if verdict == abr.PassThrough {
		p.forward(w, r, locator)
		return
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		ic.Release(seg, c)
		if c.complete(locator, ErrFulfillTimeout) {
			p.metrics.IncFulfillTimeouts()
			p.log.Warn().Int("index", int(seg.Index)).Str("locator", locator).Msg("no decision in time, passing through")
		}
	case <-r.Context().Done():
		ic.Release(seg, c)
		c.complete(locator, r.Context().Err())
		return
	}

	if c.reason != nil {
		p.log.Debug().Int("index", int(seg.Index)).Err(c.reason).Msg("suppressed request abandoned")
	}
	p.forward(w, r, c.target)
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, locator string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, locator, nil)
	if err != nil {
		p.log.Error().Err(err).Str("locator", locator).Msg("build origin request")
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("locator", locator).Msg("origin fetch failed")
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug().Err(err).Str("locator", locator).Msg("copy segment body")
	}
}
