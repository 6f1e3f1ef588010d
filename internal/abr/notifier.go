package abr

import (
	"sync"

	"github.com/rs/zerolog"
)

// Notifier fans out "a media request for index N was observed" to its
// listeners. It fires before the correlation verdict and regardless of it.
type Notifier struct {
	mu        sync.RWMutex
	listeners []func(index ID)
	log       zerolog.Logger
	onFailure func(res Result)
}

// NewNotifier returns a Notifier without listeners.
func NewNotifier(log zerolog.Logger, onFailure func(res Result)) *Notifier {
	return &Notifier{log: log, onFailure: onFailure}
}

// Subscribe adds fn to the listeners.
func (n *Notifier) Subscribe(fn func(index ID)) {
	n.mu.Lock()
	n.listeners = append(n.listeners, fn)
	n.mu.Unlock()
}

// Notify delivers index to every listener. A panicking listener is logged
// and does not prevent delivery to the others.
func (n *Notifier) Notify(index ID) {
	n.mu.RLock()
	listeners := append([]func(ID){}, n.listeners...)
	n.mu.RUnlock()

	for _, fn := range listeners {
		res := dispatch(fn, func() { fn(index) })
		if res.OK() {
			continue
		}
		n.log.Error().
			Int("index", int(index)).
			Str("callback", res.Callback).
			Err(res.Err).
			Msg("request listener failed")
		if n.onFailure != nil {
			n.onFailure(res)
		}
	}
}
