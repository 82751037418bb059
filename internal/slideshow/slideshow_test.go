package slideshow

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"photocal/internal/model"
)

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) live() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireLive fires the single live timer.
func (c *fakeClock) fireLive(t *testing.T) {
	t.Helper()
	live := c.live()
	if len(live) != 1 {
		t.Fatalf("got %d live timers, want 1", len(live))
	}
	c.mu.Lock()
	live[0].stopped = true
	c.mu.Unlock()
	live[0].f()
}

func photos(n int) []model.Photo {
	out := make([]model.Photo, n)
	for i := range out {
		out[i] = model.Photo{ID: fmt.Sprintf("p%d", i), ImageURL: fmt.Sprintf("https://img/%d", i)}
	}
	return out
}

func newScheduler() (*Scheduler, *fakeClock) {
	c := &fakeClock{}
	return New(time.Second, WithAfterFunc(c.AfterFunc)), c
}

func TestNTicksReturnToStart(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		s, _ := newScheduler()
		s.SetPhotos(photos(n))
		start := s.State()
		for i := 0; i < n; i++ {
			s.Tick()
		}
		got := s.State()
		if got.ActiveIndex != start.ActiveIndex {
			t.Errorf("n=%d: ActiveIndex = %d, want %d", n, got.ActiveIndex, start.ActiveIndex)
		}
		if want := start.TopLayerIsA == (n%2 == 0); got.TopLayerIsA != want {
			t.Errorf("n=%d: TopLayerIsA = %v, want %v", n, got.TopLayerIsA, want)
		}
	}
}

func TestTimerDrivesRotation(t *testing.T) {
	s, c := newScheduler()
	s.SetPhotos(photos(3))

	c.fireLive(t)
	c.fireLive(t)
	if diff := cmp.Diff(s.State(), State{ActiveIndex: 2, TopLayerIsA: true}); diff != "" {
		t.Errorf("Bad state; diff (-got +want)\n%s", diff)
	}
}

func TestAtMostOneLiveTimer(t *testing.T) {
	s, c := newScheduler()
	s.SetPhotos(photos(4))
	for i := 0; i < 10; i++ {
		s.Tick()
		s.SetPhotos(photos(4))
		if got := len(c.live()); got != 1 {
			t.Fatalf("after step %d: %d live timers, want 1", i, got)
		}
	}
}

func TestStaleTimerIgnored(t *testing.T) {
	s, c := newScheduler()
	s.SetPhotos(photos(3))
	stale := c.live()[0]
	s.Tick()

	stale.f()
	if got := s.State().ActiveIndex; got != 1 {
		t.Errorf("stale timer advanced rotation; ActiveIndex = %d, want 1", got)
	}
}

func TestDeleteAllResetsAndSuspends(t *testing.T) {
	s, c := newScheduler()
	s.SetPhotos(photos(5))
	for i := 0; i < 3; i++ {
		s.Tick()
	}
	if got := s.State().ActiveIndex; got != 3 {
		t.Fatalf("ActiveIndex = %d, want 3", got)
	}

	s.SetPhotos(nil)
	if got := s.State().ActiveIndex; got != 0 {
		t.Errorf("ActiveIndex = %d, want 0", got)
	}
	if s.Running() || len(c.live()) != 0 {
		t.Errorf("rotation still armed with no photos")
	}

	s.Tick()
	if got := s.State().ActiveIndex; got != 0 {
		t.Errorf("Tick on empty list moved index to %d", got)
	}

	s.SetPhotos(photos(2))
	if !s.Running() {
		t.Errorf("rotation not resumed when photos returned")
	}
}

func TestShrinkClampsIndex(t *testing.T) {
	s, _ := newScheduler()
	s.SetPhotos(photos(5))
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	s.SetPhotos(photos(2))
	if got := s.State().ActiveIndex; got != 1 {
		t.Errorf("ActiveIndex = %d, want 1", got)
	}
}

func TestSinglePhotoDoesNotRotate(t *testing.T) {
	s, c := newScheduler()
	s.SetPhotos(photos(1))
	if len(c.live()) != 0 {
		t.Errorf("timer armed for a single photo")
	}
	s.Tick()
	if diff := cmp.Diff(s.State(), State{ActiveIndex: 0, TopLayerIsA: true}); diff != "" {
		t.Errorf("Bad state; diff (-got +want)\n%s", diff)
	}
}

func TestLayers(t *testing.T) {
	s, _ := newScheduler()
	s.SetPhotos(photos(3))

	l := s.Layers()
	if l.Foreground != LayerA || l.A.ID != "p0" || l.B.ID != "p1" {
		t.Errorf("initial layers = fg %s A %s B %s", l.Foreground, l.A.ID, l.B.ID)
	}

	s.Tick()
	l = s.Layers()
	if l.Foreground != LayerB || l.B.ID != "p1" || l.A.ID != "p2" {
		t.Errorf("after tick layers = fg %s A %s B %s", l.Foreground, l.A.ID, l.B.ID)
	}
}

func TestSubscribeAndClose(t *testing.T) {
	s, c := newScheduler()
	var got []State
	cancel := s.Subscribe(func(st State) { got = append(got, st) })

	s.SetPhotos(photos(2))
	s.Tick()
	cancel()
	s.Tick()

	want := []State{
		{ActiveIndex: 0, TopLayerIsA: true},
		{ActiveIndex: 1, TopLayerIsA: false},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Bad notifications; diff (-got +want)\n%s", diff)
	}

	s.Close()
	if s.Running() || len(c.live()) != 0 {
		t.Errorf("timer still live after Close")
	}
	s.SetPhotos(photos(3))
	if s.Running() {
		t.Errorf("closed scheduler re-armed")
	}
}
