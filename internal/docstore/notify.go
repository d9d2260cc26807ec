package docstore

import (
	"context"
	"sync"
)

// Notifier fans out "collection changed" signals to listeners.
type Notifier interface {
	Publish(ctx context.Context, collection string) error
	Listen(collection string, fn func()) (cancel func())
}

// Hub is the in-process Notifier.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]func()
	next      uint64
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[uint64]func())}
}

func (h *Hub) Publish(_ context.Context, collection string) error {
	h.notify(collection)
	return nil
}

func (h *Hub) notify(collection string) {
	h.mu.RLock()
	fns := make([]func(), 0, len(h.listeners[collection]))
	for _, fn := range h.listeners[collection] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *Hub) Listen(collection string, fn func()) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	if h.listeners[collection] == nil {
		h.listeners[collection] = make(map[uint64]func())
	}
	h.listeners[collection][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[collection], id)
			if len(h.listeners[collection]) == 0 {
				delete(h.listeners, collection)
			}
			h.mu.Unlock()
		})
	}
}

// Listeners counts registered listeners across collections.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.listeners {
		n += len(m)
	}
	return n
}
