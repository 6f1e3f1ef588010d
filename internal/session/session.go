// Package session wires the correlation engine for one playback session and
// exposes it over the control API.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/algorithm"
	"abr-proxy/internal/platform/metrics"
	"abr-proxy/internal/stats"

	"github.com/rs/zerolog"
)

const defaultDecideTimeout = 5 * time.Second

var (
	// ErrSessionEnded is returned when a decision or interest reaches a
	// session that was already ended.
	ErrSessionEnded = errors.New("session has ended")

	// ErrInvalidInterest is returned for an interest on an index that can
	// never be requested.
	ErrInvalidInterest = errors.New("invalid interest")

	errNotRewritable = errors.New("locator cannot be rewritten")
)

// Options configure a Session.
type Options struct {
	Locator   *abr.Locator
	Algorithm algorithm.Algorithm
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// Window keeps decisions and slots at most Window indexes behind the
	// cursor. Zero keeps everything.
	Window int
	// DecideTimeout bounds one algorithm call.
	DecideTimeout time.Duration
}

// Session is one playback session: a correlation table, decision cache,
// quality cursor and request notifier plus the metrics the player reports.
type Session struct {
	ID        string
	CreatedAt time.Time

	locator  *abr.Locator
	table    *abr.Table
	cache    *abr.Cache
	cursor   *abr.Cursor
	notifier *abr.Notifier
	tracker  *stats.Tracker
	algo     algorithm.Algorithm

	log           zerolog.Logger
	metrics       *metrics.Metrics
	window        int
	decideTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	ended bool
}

// New returns a started Session with interest registered for the first
// segment and a decision for it requested.
func New(id string, opts Options) *Session {
	if opts.DecideTimeout <= 0 {
		opts.DecideTimeout = defaultDecideTimeout
	}
	log := opts.Logger.With().Str("session_id", id).Logger()
	m := opts.Metrics

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            id,
		CreatedAt:     time.Now().UTC(),
		locator:       opts.Locator,
		cache:         abr.NewCache(),
		tracker:       stats.NewTracker(),
		algo:          opts.Algorithm,
		log:           log,
		metrics:       m,
		window:        opts.Window,
		decideTimeout: opts.DecideTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}

	failed := func(abr.Result) { m.IncCallbackFailures() }
	s.table = abr.NewTable(log, abr.TableHooks{
		Fired:  func(abr.ID) { m.IncCorrelationsFired() },
		Failed: failed,
	})
	s.cursor = abr.NewCursor(s.cache, log, func(abr.ID) { m.IncDefaultQuality() })
	s.notifier = abr.NewNotifier(log, failed)
	s.notifier.Subscribe(s.onRequest)

	s.table.RegisterInterest(1)
	s.requestDecision(1)
	return s
}

// Prepare classifies locator and, for media segments, notifies the request
// listeners. It runs before the correlation verdict.
func (s *Session) Prepare(locator string) abr.Segment {
	seg := s.locator.Classify(locator)
	if seg.Kind == abr.KindMedia {
		s.notifier.Notify(seg.Index)
	}
	return seg
}

// Send hands an outgoing request to the correlation table.
func (s *Session) Send(seg abr.Segment, locator string, call abr.Call) abr.Verdict {
	if !seg.Interceptable() {
		return abr.PassThrough
	}
	return s.table.ObserveRequest(seg.Index, abr.Pending{Locator: locator, Call: call})
}

// Release drops the slot still waiting on call.
func (s *Session) Release(seg abr.Segment, call abr.Call) {
	if s.table.Release(seg.Index, call) {
		s.log.Debug().Int("index", int(seg.Index)).Msg("slot released by transport")
	}
}

// Deliver records a decision and fulfills the slot waiting for it. source
// labels where the decision came from.
func (s *Session) Deliver(d abr.Decision, source string) error {
	if err := d.Validate(s.locator.MaxQuality()); err != nil {
		return err
	}
	if s.isEnded() {
		return ErrSessionEnded
	}

	s.cache.Insert(d)
	s.metrics.IncDecisions(source)

	if !s.table.OnFulfilled(d.Index, s.reissueAt(d.Quality)) {
		s.log.Debug().Int("index", int(d.Index)).Msg("decision cached without interest")
	}
	return nil
}

// RegisterInterest opens a correlation slot for a media index.
func (s *Session) RegisterInterest(index abr.ID) error {
	if index < 1 {
		return fmt.Errorf("%w: index %d", ErrInvalidInterest, index)
	}
	if s.isEnded() {
		return ErrSessionEnded
	}
	s.table.RegisterInterest(index)
	return nil
}

// RegisterHeaderInterest opens a correlation slot for the header of quality.
// A target above zero also sets the slot's callback, so the header request
// is served at target.
func (s *Session) RegisterHeaderInterest(quality, target int) error {
	maxQuality := s.locator.MaxQuality()
	if quality < 1 || quality > maxQuality || target < 0 || target > maxQuality {
		return fmt.Errorf("%w: header quality %d target %d", ErrInvalidInterest, quality, target)
	}
	if s.isEnded() {
		return ErrSessionEnded
	}

	id := s.locator.HeaderIndex(quality)
	s.table.RegisterInterest(id)
	if target > 0 {
		s.table.OnFulfilled(id, s.reissueAt(target))
	}
	return nil
}

// AddMetrics merges a player report into the session's metrics.
func (s *Session) AddMetrics(m stats.Metrics) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.tracker.Add(m)
	return nil
}

// Decisions returns the cached decisions in index order.
func (s *Session) Decisions() []abr.Decision {
	return s.cache.Snapshot()
}

// Quality returns the cursor index and the quality decided for it.
func (s *Session) Quality() (abr.ID, int) {
	return s.cursor.Index(), s.cursor.Query()
}

// End abandons every captured request and waits for in-flight decisions.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	s.cancel()
	s.table.Close()
	s.wg.Wait()
	s.log.Info().Int("decisions", s.cache.Len()).Msg("session ended")
}

func (s *Session) onRequest(index abr.ID) {
	s.algo.NewRequest(index)

	next := index + 1
	s.cursor.Advance(next)
	s.evict(next)

	if s.table.RegisterIfIdle(next) {
		s.requestDecision(next)
	}
}

func (s *Session) evict(cursor abr.ID) {
	if s.window <= 0 {
		return
	}
	floor := cursor - abr.ID(s.window)
	if floor <= 1 {
		return
	}
	decisions := s.cache.EvictBefore(floor)
	slots := s.table.EvictBefore(floor)
	if decisions > 0 || slots > 0 {
		s.log.Debug().
			Int("before", int(floor)).
			Int("decisions", decisions).
			Int("slots", slots).
			Msg("evicted behind window")
	}
}

func (s *Session) requestDecision(index abr.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		snapshot := s.tracker.Snapshot()
		var timestamp int64
		if v, ok := snapshot.LastPlayerTime(); ok {
			timestamp = v.Timestamp
			s.tracker.Advance(timestamp)
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.decideTimeout)
		defer cancel()

		d, err := s.algo.Decide(ctx, snapshot, index, timestamp)
		if err != nil {
			if s.ctx.Err() == nil {
				s.metrics.IncBackendFailures()
				s.log.Warn().Err(err).Int("index", int(index)).Msg("decision request failed")
			}
			return
		}
		if err := s.Deliver(d, metrics.SourceAlgorithm); err != nil && !errors.Is(err, ErrSessionEnded) {
			s.metrics.IncBackendFailures()
			s.log.Warn().Err(err).Int("index", int(index)).Msg("algorithm returned unusable decision")
		}
	}()
}

// reissueAt returns the fulfillment callback serving the captured request
// at quality.
func (s *Session) reissueAt(quality int) abr.FulfillFunc {
	return func(p abr.Pending) {
		target, ok := s.locator.Rewrite(p.Locator, quality)
		if !ok {
			p.Call.Abandon(fmt.Errorf("%w: %s", errNotRewritable, p.Locator))
			return
		}
		if err := p.Call.Reissue(target); err != nil {
			s.log.Debug().Err(err).Int("index", int(p.Index)).Msg("reissue refused")
			return
		}
		s.log.Debug().
			Int("index", int(p.Index)).
			Int("quality", quality).
			Msg("request reissued")
	}
}

func (s *Session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
