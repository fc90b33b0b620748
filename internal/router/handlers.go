package router

import "sync"

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

// handlerSet holds the subscribers of one message kind in subscription order.
type handlerSet[T any] struct {
	mu      sync.RWMutex
	next    int
	entries []handlerEntry[T]
}

// add registers fn and returns its unsubscribe func. Unsubscribing twice is
// a no-op.
func (h *handlerSet[T]) add(fn func(T)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.entries = append(h.entries, handlerEntry[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.entries {
				if e.id == id {
					h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *handlerSet[T]) snapshot() []func(T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fns := make([]func(T), len(h.entries))
	for i, e := range h.entries {
		fns[i] = e.fn
	}
	return fns
}

// recentIDs remembers the last n message IDs.
type recentIDs struct {
	mu   sync.Mutex
	ring []string
	pos  int
	seen map[string]struct{}
}

func newRecentIDs(n int) *recentIDs {
	if n < 1 {
		n = 1
	}
	return &recentIDs{ring: make([]string, n), seen: make(map[string]struct{}, n)}
}

// observe records id and reports whether it was already seen.
func (r *recentIDs) observe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return true
	}
	if old := r.ring[r.pos]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.pos] = id
	r.seen[id] = struct{}{}
	r.pos = (r.pos + 1) % len(r.ring)
	return false
}
