package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"abr-proxy/internal/abr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInterceptor suppresses media requests and hands their calls to the
// test through calls.
type stubInterceptor struct {
	verdict abr.Verdict
	calls   chan abr.Call

	mu       sync.Mutex
	released []abr.Call
}

func newStub(verdict abr.Verdict) *stubInterceptor {
	return &stubInterceptor{verdict: verdict, calls: make(chan abr.Call, 1)}
}

func (s *stubInterceptor) Prepare(string) abr.Segment {
	return abr.Segment{Kind: abr.KindMedia, Quality: 1, Index: 1}
}

func (s *stubInterceptor) Send(_ abr.Segment, _ string, call abr.Call) abr.Verdict {
	if s.verdict == abr.Suppress {
		s.calls <- call
	}
	return s.verdict
}

func (s *stubInterceptor) Release(_ abr.Segment, call abr.Call) {
	s.mu.Lock()
	s.released = append(s.released, call)
	s.mu.Unlock()
}

func (s *stubInterceptor) releasedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.released)
}

func newTestProxy(t *testing.T, timeout time.Duration) (*Proxy, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Range", r.Header.Get("Range"))
		if r.URL.Path == "/missing.m4s" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(origin.Close)
	return New(Config{FulfillTimeout: timeout, Logger: zerolog.Nop()}), origin
}

func serve(p *Proxy, ic Interceptor, locator string, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.Serve(rec, r, ic, locator)
	return rec
}

func TestProxy_pass_through(t *testing.T) {
	p, origin := newTestProxy(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := serve(p, newStub(abr.PassThrough), origin.URL+"/video1/1.m4s", req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/video1/1.m4s", rec.Body.String())
	assert.Equal(t, "bytes=0-99", rec.Header().Get("X-Range"))
}

func TestProxy_origin_status_is_forwarded(t *testing.T) {
	p, origin := newTestProxy(t, time.Second)

	rec := serve(p, newStub(abr.PassThrough), origin.URL+"/missing.m4s", httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_origin_unreachable(t *testing.T) {
	p, origin := newTestProxy(t, time.Second)
	url := origin.URL
	origin.Close()

	rec := serve(p, newStub(abr.PassThrough), url+"/video1/1.m4s", httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxy_suppressed_then_reissued(t *testing.T) {
	p, origin := newTestProxy(t, 5*time.Second)
	stub := newStub(abr.Suppress)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(p, stub, origin.URL+"/video6/1.m4s", httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	call := <-stub.calls
	require.NoError(t, call.Reissue(origin.URL+"/video2/1.m4s"))
	assert.ErrorIs(t, call.Reissue(origin.URL+"/video3/1.m4s"), ErrCallCompleted)

	rec := <-done
	assert.Equal(t, "/video2/1.m4s", rec.Body.String())
	assert.Zero(t, stub.releasedCount())
}

func TestProxy_suppressed_then_abandoned(t *testing.T) {
	p, origin := newTestProxy(t, 5*time.Second)
	stub := newStub(abr.Suppress)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(p, stub, origin.URL+"/video6/1.m4s", httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	call := <-stub.calls
	call.Abandon(abr.ErrSlotReset)
	assert.ErrorIs(t, call.Reissue(origin.URL+"/video3/1.m4s"), ErrCallCompleted)

	rec := <-done
	assert.Equal(t, "/video6/1.m4s", rec.Body.String())
}

func TestProxy_timeout_releases_and_passes_through(t *testing.T) {
	p, origin := newTestProxy(t, 30*time.Millisecond)
	stub := newStub(abr.Suppress)

	rec := serve(p, stub, origin.URL+"/video6/1.m4s", httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/video6/1.m4s", rec.Body.String())
	assert.Equal(t, 1, stub.releasedCount())

	call := <-stub.calls
	assert.ErrorIs(t, call.Reissue("late"), ErrCallCompleted)
}

func TestProxy_client_gone(t *testing.T) {
	p, origin := newTestProxy(t, 5*time.Second)
	stub := newStub(abr.Suppress)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- serve(p, stub, origin.URL+"/video6/1.m4s", req) }()

	call := <-stub.calls
	cancel()
	rec := <-done

	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 1, stub.releasedCount())
	assert.ErrorIs(t, call.Reissue("late"), ErrCallCompleted)
}
