package transport

import (
	"errors"
	"sync"
)

var (
	// ErrCallCompleted is returned by Reissue when the call was already
	// reissued or abandoned.
	ErrCallCompleted = errors.New("call already completed")

	// ErrFulfillTimeout is the abandon reason when no decision arrived in time.
	ErrFulfillTimeout = errors.New("timed out waiting for decision")
)

// call is the abr.Call handed to the correlation table for a suppressed
// request. Completing it only records which locator to fetch; the handler
// goroutine that owns the ResponseWriter does the fetch.
type call struct {
	original string

	once   sync.Once
	done   chan struct{}
	target string
	reason error
}

func newCall(original string) *call {
	return &call{original: original, done: make(chan struct{})}
}

// Reissue implements abr.Call.
func (c *call) Reissue(locator string) error {
	if !c.complete(locator, nil) {
		return ErrCallCompleted
	}
	return nil
}

// Abandon implements abr.Call. The original locator is fetched instead.
func (c *call) Abandon(reason error) {
	c.complete(c.original, reason)
}

func (c *call) complete(target string, reason error) bool {
	completed := false
	c.once.Do(func() {
		c.target, c.reason = target, reason
		close(c.done)
		completed = true
	})
	return completed
}
