package abr

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrSlotReset is passed to Call.Abandon when RegisterInterest discards
	// a captured request.
	ErrSlotReset = errors.New("correlation slot reset")

	// ErrSlotSuperseded is passed to Call.Abandon when a newer request for
	// the same index replaces a captured one.
	ErrSlotSuperseded = errors.New("captured request superseded")

	// ErrSlotEvicted is passed to Call.Abandon when a slot falls out of the
	// window or its table is closed.
	ErrSlotEvicted = errors.New("correlation slot evicted")
)

// Call is the transport-owned handle of a suppressed request. Exactly one
// of Reissue or Abandon completes it; later attempts are ignored by the
// transport.
type Call interface {
	// Reissue performs the request against locator in place of the original.
	Reissue(locator string) error
	// Abandon gives up on correlation and lets the original request proceed.
	Abandon(reason error)
}

// Pending is the context captured when a request for a registered index is
// observed.
type Pending struct {
	Index   ID
	Locator string
	Call    Call
}

// FulfillFunc receives the captured request once both sides of a
// correlation have arrived.
type FulfillFunc func(p Pending)

// SlotState is the correlation state of one index.
type SlotState int

const (
	SlotUnregistered SlotState = iota
	SlotAwaiting
	SlotRequestCaptured
	SlotCallbackSet
	SlotFired
)

func (s SlotState) String() string {
	switch s {
	case SlotAwaiting:
		return "awaiting"
	case SlotRequestCaptured:
		return "request_captured"
	case SlotCallbackSet:
		return "callback_set"
	case SlotFired:
		return "fired"
	default:
		return "unregistered"
	}
}

// Verdict tells the transport what to do with an observed request.
type Verdict int

const (
	// PassThrough means the request must be sent unmodified.
	PassThrough Verdict = iota
	// Suppress means the transport must not send the request; the
	// fulfillment callback re-issues it.
	Suppress
)

func (v Verdict) String() string {
	if v == Suppress {
		return "suppress"
	}
	return "pass_through"
}

// TableHooks observe table events. Any field may be nil.
type TableHooks struct {
	Fired  func(id ID)
	Failed func(res Result)
}

type slot struct {
	state    SlotState
	pending  *Pending
	callback FulfillFunc
}

// Table is the two-sided rendezvous between request arrival and decision
// arrival. The state transition to SlotFired happens under the lock, so a
// slot fires exactly once whichever side lands second. Callbacks run after
// the lock is released and may call back into the table.
type Table struct {
	mu    sync.Mutex
	slots map[ID]*slot
	log   zerolog.Logger
	hooks TableHooks
}

// NewTable returns an empty correlation table.
func NewTable(log zerolog.Logger, hooks TableHooks) *Table {
	return &Table{
		slots: make(map[ID]*slot),
		log:   log,
		hooks: hooks,
	}
}

// RegisterInterest creates or resets the slot for id to SlotAwaiting.
// A previously captured request is discarded and abandoned so that its
// transport falls back to the original locator; a pending callback is
// dropped.
func (t *Table) RegisterInterest(id ID) {
	t.mu.Lock()
	prev := t.slots[id]
	t.slots[id] = &slot{state: SlotAwaiting}
	t.mu.Unlock()

	if prev != nil && prev.pending != nil {
		t.log.Debug().Int("index", int(id)).Msg("interest re-registered, discarding captured request")
		t.abandon(*prev.pending, ErrSlotReset)
	}
}

// RegisterIfIdle registers interest in id only when it has no slot or its
// slot already fired. It reports whether it registered.
func (t *Table) RegisterIfIdle(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[id]; ok && s.state != SlotFired {
		return false
	}
	t.slots[id] = &slot{state: SlotAwaiting}
	return true
}

// ObserveRequest is called by the transport right before a request for id
// is sent. Without a live slot the request passes through. Otherwise the
// request is captured and, if the callback is already set, fulfilled
// synchronously before ObserveRequest returns.
func (t *Table) ObserveRequest(id ID, p Pending) Verdict {
	p.Index = id

	t.mu.Lock()
	s, ok := t.slots[id]
	if !ok || s.state == SlotFired {
		t.mu.Unlock()
		return PassThrough
	}

	if s.state == SlotCallbackSet {
		cb := s.callback
		s.state, s.callback = SlotFired, nil
		t.mu.Unlock()
		t.fire(id, cb, p)
		return Suppress
	}

	prev := s.pending
	s.pending, s.state = &p, SlotRequestCaptured
	t.mu.Unlock()

	if prev != nil {
		t.abandon(*prev, ErrSlotSuperseded)
	}
	return Suppress
}

// OnFulfilled registers the one-shot callback for id. If a request is
// already captured the callback fires immediately. A second registration
// before firing replaces the first. It reports false when id has no live
// slot, either because interest was never registered or because it already
// fired.
func (t *Table) OnFulfilled(id ID, cb FulfillFunc) bool {
	t.mu.Lock()
	s, ok := t.slots[id]
	if !ok || s.state == SlotFired {
		t.mu.Unlock()
		return false
	}

	if s.state == SlotRequestCaptured {
		p := *s.pending
		s.state, s.pending = SlotFired, nil
		t.mu.Unlock()
		t.fire(id, cb, p)
		return true
	}

	s.callback, s.state = cb, SlotCallbackSet
	t.mu.Unlock()
	return true
}

// State returns the current state of the slot for id.
func (t *Table) State(id ID) SlotState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[id]; ok {
		return s.state
	}
	return SlotUnregistered
}

// Len returns the number of slots, fired ones included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Release removes the slot for id if it still holds call as its captured
// request. The transport uses it when it stops waiting.
func (t *Table) Release(id ID, call Call) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[id]
	if !ok || s.pending == nil || s.pending.Call != call {
		return false
	}
	delete(t.slots, id)
	return true
}

// EvictBefore drops media slots with an index lower than index. Header slots
// are kept. Captured requests are abandoned.
func (t *Table) EvictBefore(index ID) int {
	t.mu.Lock()
	var evicted []Pending
	n := 0
	for id, s := range t.slots {
		if id.IsHeader() || id >= index {
			continue
		}
		if s.pending != nil {
			evicted = append(evicted, *s.pending)
		}
		delete(t.slots, id)
		n++
	}
	t.mu.Unlock()

	for _, p := range evicted {
		t.abandon(p, ErrSlotEvicted)
	}
	return n
}

// Close abandons every captured request and empties the table.
func (t *Table) Close() {
	t.mu.Lock()
	var captured []Pending
	for _, s := range t.slots {
		if s.pending != nil {
			captured = append(captured, *s.pending)
		}
	}
	t.slots = make(map[ID]*slot)
	t.mu.Unlock()

	for _, p := range captured {
		t.abandon(p, ErrSlotEvicted)
	}
}

func (t *Table) fire(id ID, cb FulfillFunc, p Pending) {
	res := dispatch(cb, func() { cb(p) })
	if t.hooks.Fired != nil {
		t.hooks.Fired(id)
	}
	if !res.OK() {
		t.fail(id, res)
	}
}

func (t *Table) abandon(p Pending, reason error) {
	if p.Call == nil {
		return
	}
	res := dispatch(p.Call.Abandon, func() { p.Call.Abandon(reason) })
	if !res.OK() {
		t.fail(p.Index, res)
	}
}

func (t *Table) fail(id ID, res Result) {
	t.log.Error().
		Int("index", int(id)).
		Str("callback", res.Callback).
		Err(res.Err).
		Msg("callback failed")
	if t.hooks.Failed != nil {
		t.hooks.Failed(res)
	}
}
