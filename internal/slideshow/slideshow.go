// Package slideshow implements the two-layer cross-fade rotation over the
// ordered photo list.
package slideshow

import (
	"sync"
	"time"

	appLog "photocal/internal/log"
	"photocal/internal/model"
)

// DefaultInterval is how long each photo stays in the foreground.
const DefaultInterval = 10 * time.Second

// State is the whole rotation state.
type State struct {
	ActiveIndex int  `json:"active_index"`
	TopLayerIsA bool `json:"top_layer_is_a"`
}

// Layer names one of the two alternating image slots.
type Layer string

const (
	LayerA Layer = "A"
	LayerB Layer = "B"
)

// Layers describes what each slot shows. The foreground slot shows the active
// photo; the other one already holds the next photo so it is loaded before it
// fades in.
type Layers struct {
	A          *model.Photo `json:"a"`
	B          *model.Photo `json:"b"`
	Foreground Layer        `json:"foreground"`
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer; time.AfterFunc satisfies it via the
// default option.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Scheduler)

// WithAfterFunc replaces the timer factory (tests).
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = fn }
}

// Scheduler rotates over a photo list. At most one rotation timer is live
// at any time: every change of the active index or the photo list stops the
// current timer and arms a fresh one, and a generation counter discards a
// timer that already fired while being replaced.
type Scheduler struct {
	interval  time.Duration
	afterFunc AfterFunc

	mu        sync.Mutex
	photos    []model.Photo
	state     State
	timer     Timer
	gen       uint64
	closed    bool
	listeners map[int]func(State)
	nextID    int
}

func New(interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		interval: interval,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		state:     State{ActiveIndex: 0, TopLayerIsA: true},
		listeners: make(map[int]func(State)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetPhotos installs a new photo list (the latest store snapshot). The
// active index is clamped into range; an empty list resets it to 0 and
// suspends rotation until photos arrive again.
func (s *Scheduler) SetPhotos(photos []model.Photo) {
	s.mu.Lock()
	list := make([]model.Photo, len(photos))
	copy(list, photos)
	s.photos = list

	n := len(list)
	switch {
	case n == 0:
		s.state.ActiveIndex = 0
	case s.state.ActiveIndex >= n:
		s.state.ActiveIndex = n - 1
	}
	s.rearmLocked()
	st, fns := s.state, s.listenersLocked()
	s.mu.Unlock()

	notify(fns, st)
}

// Tick advances to the next photo and swaps the foreground layer. It is a
// no-op with fewer than two photos.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.advanceLocked() {
		s.mu.Unlock()
		return
	}
	s.rearmLocked()
	st, fns := s.state, s.listenersLocked()
	s.mu.Unlock()

	notify(fns, st)
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Tick()
}

func (s *Scheduler) advanceLocked() bool {
	if s.closed || len(s.photos) < 2 {
		return false
	}
	s.state.ActiveIndex = (s.state.ActiveIndex + 1) % len(s.photos)
	s.state.TopLayerIsA = !s.state.TopLayerIsA
	return true
}

// rearmLocked cancels the live timer and, while rotation is possible, arms
// the next one.
func (s *Scheduler) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if s.closed || len(s.photos) < 2 {
		return
	}
	gen := s.gen
	s.timer = s.afterFunc(s.interval, func() { s.fire(gen) })
}

// State returns a copy of the rotation state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a rotation timer is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Len is the number of photos in rotation.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.photos)
}

// Photos returns a copy of the rotation list.
func (s *Scheduler) Photos() []model.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Photo(nil), s.photos...)
}

// Active returns the foreground photo, if any.
func (s *Scheduler) Active() (model.Photo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.photos) == 0 {
		return model.Photo{}, false
	}
	return s.photos[s.state.ActiveIndex], true
}

// Layers resolves the two slots for the current state.
func (s *Scheduler) Layers() Layers {
	s.mu.Lock()
	defer s.mu.Unlock()

	fg := LayerB
	if s.state.TopLayerIsA {
		fg = LayerA
	}
	n := len(s.photos)
	if n == 0 {
		return Layers{Foreground: fg}
	}

	active := s.photos[s.state.ActiveIndex]
	next := s.photos[(s.state.ActiveIndex+1)%n]
	if s.state.TopLayerIsA {
		return Layers{A: &active, B: &next, Foreground: LayerA}
	}
	return Layers{A: &next, B: &active, Foreground: LayerB}
}

// Subscribe registers fn for state changes. The returned func removes it.
func (s *Scheduler) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Close stops the rotation timer for good.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.rearmLocked()
	s.listeners = map[int]func(State){}
	appLog.Debug("slideshow: closed")
}

func (s *Scheduler) listenersLocked() []func(State) {
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(State), st State) {
	for _, fn := range fns {
		fn(st)
	}
}
