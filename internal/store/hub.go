package store

import (
	"sync"
)

// hub fans fresh snapshots out to in-process listeners. Each listener owns a
// goroutine and a one-slot mailbox: a snapshot that arrives while the
// previous callback is still running replaces any undelivered one, so a slow
// listener skips intermediate states but never sees them out of order.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]*listener[T]
	nextID int
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[int]*listener[T])}
}

type listener[T any] struct {
	fn func(seq uint64, v T)

	mu      sync.Mutex
	seq     uint64
	pending *T
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	onStop  func()
}

func (h *hub[T]) subscribe(fn func(seq uint64, v T)) *listener[T] {
	l := &listener[T]{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = l
	h.mu.Unlock()

	l.onStop = func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	go l.run()
	return l
}

// publish hands v to every listener. Callers must publish in commit order;
// mutations hold the store's write lock around commit and publish.
func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	subs := make([]*listener[T], 0, len(h.subs))
	for _, l := range h.subs {
		subs = append(subs, l)
	}
	h.mu.Unlock()

	for _, l := range subs {
		l.offer(v)
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	subs := make([]*listener[T], 0, len(h.subs))
	for _, l := range h.subs {
		subs = append(subs, l)
	}
	h.mu.Unlock()
	for _, l := range subs {
		l.Cancel()
	}
}

func (l *listener[T]) offer(v T) {
	l.mu.Lock()
	l.pending = &v
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener[T]) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		v := l.pending
		l.pending = nil
		if v != nil {
			l.seq++
		}
		seq := l.seq
		l.mu.Unlock()

		if v == nil {
			continue
		}
		select {
		case <-l.done:
			return
		default:
		}
		l.fn(seq, *v)
	}
}

func (l *listener[T]) Cancel() {
	l.once.Do(func() {
		close(l.done)
		l.onStop()
	})
}
