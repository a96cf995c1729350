package memremote

import "sync"

// watchers fans a value out to subscriber channels, dropping when a
// subscriber's buffer is full. Same discipline as the event bus.
type watchers[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func newWatchers[T any]() *watchers[T] {
	return &watchers[T]{subs: make(map[int]chan T)}
}

func (w *watchers[T]) add(buf int) (<-chan T, func()) {
	ch := make(chan T, buf)
	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = ch
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// notify is safe on a nil receiver: paths nobody watches have no registry.
func (w *watchers[T]) notify(v T) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- v:
		default:
		}
	}
}
