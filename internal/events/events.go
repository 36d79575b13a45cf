package events

import (
	"sync"

	"go.uber.org/zap"
)

// Listener receives wallet event notifications. Delivery is best effort: a
// panicking listener must not abort the operation that emitted the event.
type Listener interface {
	// AccountsChanged is emitted with the current externally visible
	// address list, an empty list on lock, or nil to signal listeners to
	// re-query.
	AccountsChanged(addresses []string)

	// ChainChanged is emitted with the new chain id in 0x-prefixed hex.
	ChainChanged(chainIDHex string)
}

// Hub fans wallet events out to all subscribed listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners []Listener
	log       *zap.SugaredLogger
}

// NewHub creates an empty Hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{log: log}
}

// Subscribe registers a listener for all future events.
func (h *Hub) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// AccountsChanged notifies all listeners.
func (h *Hub) AccountsChanged(addresses []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.listeners {
		h.notify(func() { l.AccountsChanged(addresses) })
	}
}

// ChainChanged notifies all listeners.
func (h *Hub) ChainChanged(chainIDHex string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.listeners {
		h.notify(func() { l.ChainChanged(chainIDHex) })
	}
}

func (h *Hub) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil && h.log != nil {
			h.log.Warnw("event listener panicked", "panic", r)
		}
	}()
	fn()
}
