// Package display holds the state of one kiosk screen: which overlay is
// open, the live slideshow and the live calendar.
package display

import (
	"context"
	"fmt"
	"sync"

	"photocal/internal/calendar"
	"photocal/internal/imagecache"
	appLog "photocal/internal/log"
	"photocal/internal/model"
	"photocal/internal/photos"
	"photocal/internal/slideshow"
	"photocal/internal/store"
)

// Overlay is the single screen-level UI state. Only one overlay can be open.
type Overlay string

const (
	OverlayNone         Overlay = "none"
	OverlayMenu         Overlay = "menu"
	OverlayPhotoManager Overlay = "photoManager"
	OverlayAddEvent     Overlay = "addEvent"
)

func ParseOverlay(s string) (Overlay, error) {
	switch o := Overlay(s); o {
	case "", OverlayNone:
		return OverlayNone, nil
	case OverlayMenu, OverlayPhotoManager, OverlayAddEvent:
		return o, nil
	default:
		return "", fmt.Errorf("unknown overlay %q", s)
	}
}

// Pinner accepts cache requests; *imagecache.Worker satisfies it.
type Pinner interface {
	Post(ctx context.Context, msg imagecache.Message) error
}

type Session struct {
	show   *slideshow.Scheduler
	view   *calendar.View
	pinner Pinner

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	overlay Overlay
	pinned  map[string]bool
	subs    []store.Subscription
	closed  bool
}

// Start subscribes to both collections. The slideshow gets every displayable
// photo in upload order; the calendar view gets every event snapshot. Newly
// seen photo URLs are sent to pinner so they survive going offline. pinner
// may be nil.
func Start(ctx context.Context, st store.Store, show *slideshow.Scheduler, view *calendar.View, pinner Pinner) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		show:    show,
		view:    view,
		pinner:  pinner,
		ctx:     ctx,
		cancel:  cancel,
		overlay: OverlayNone,
		pinned:  make(map[string]bool),
	}

	photoSub, err := st.SubscribePhotos(ctx, model.Ascending, s.onPhotos)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe photos: %w", err)
	}
	eventSub, err := st.SubscribeEvents(ctx, s.onEvents)
	if err != nil {
		photoSub.Cancel()
		cancel()
		return nil, fmt.Errorf("subscribe events: %w", err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, photoSub, eventSub)
	s.mu.Unlock()
	return s, nil
}

func (s *Session) onPhotos(snap store.PhotoSnapshot) {
	shown := photos.Displayable(snap.Photos)
	s.show.SetPhotos(shown)

	var fresh []string
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for _, u := range photos.URLs(shown) {
		if !s.pinned[u] {
			s.pinned[u] = true
			fresh = append(fresh, u)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 || s.pinner == nil {
		return
	}
	if err := s.pinner.Post(s.ctx, imagecache.Message{Type: imagecache.TypeCacheImages, Payload: fresh}); err != nil {
		appLog.Warn("display: pin request not queued", "count", len(fresh), "err", err.Error())
		s.mu.Lock()
		for _, u := range fresh {
			delete(s.pinned, u)
		}
		s.mu.Unlock()
	}
}

func (s *Session) onEvents(snap store.EventSnapshot) {
	s.view.Apply(snap.Seq, snap.Events)
}

func (s *Session) Overlay() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// ShowMenuButton is true only while nothing covers the screen.
func (s *Session) ShowMenuButton() bool {
	return s.Overlay() == OverlayNone
}

// OpenMenu is ignored while another overlay is open; the button that
// triggers it is hidden then.
func (s *Session) OpenMenu() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlay == OverlayNone {
		s.overlay = OverlayMenu
	}
	return s.overlay
}

// OpenPhotoManager replaces whatever is open, normally the menu.
func (s *Session) OpenPhotoManager() Overlay { return s.set(OverlayPhotoManager) }

func (s *Session) OpenAddEvent() Overlay { return s.set(OverlayAddEvent) }

func (s *Session) CloseOverlay() Overlay { return s.set(OverlayNone) }

// SetOverlay applies a transition requested by the browser.
func (s *Session) SetOverlay(o Overlay) Overlay {
	switch o {
	case OverlayMenu:
		return s.OpenMenu()
	case OverlayPhotoManager:
		return s.OpenPhotoManager()
	case OverlayAddEvent:
		return s.OpenAddEvent()
	default:
		return s.CloseOverlay()
	}
}

func (s *Session) set(o Overlay) Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = o
	return o
}

func (s *Session) Slideshow() *slideshow.Scheduler { return s.show }

func (s *Session) Calendar() *calendar.View { return s.view }

// Pinned returns how many photo URLs have been requested for caching.
func (s *Session) Pinned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pinned)
}

// Close cancels both subscriptions and stops the slideshow timer. It is
// safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.cancel()
	s.show.Close()
}
