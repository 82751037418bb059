// Package jobs runs the kiosk's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "photocal/internal/log"
	"photocal/internal/model"
	"photocal/internal/photos"
)

// DefaultRefresh re-warms the cache every 15 minutes.
const DefaultRefresh = "*/15 * * * *"

// PhotoLister is the part of the store the refresh needs.
type PhotoLister interface {
	ListPhotos(ctx context.Context, order model.Order) ([]model.Photo, error)
}

// Pinner stores URLs for offline use and returns the ones that failed.
type Pinner interface {
	PinURLs(ctx context.Context, urls []string) []string
}

type PreviewFunc func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	photos  PhotoLister
	pinner  Pinner
	preview PreviewFunc
	timeout time.Duration

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// New returns a scheduler; preview may be nil when previews are disabled.
func New(loc *time.Location, lister PhotoLister, pinner Pinner, preview PreviewFunc) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		photos:  lister,
		pinner:  pinner,
		preview: preview,
		timeout: 5 * time.Minute,
	}
}

// ScheduleRefresh registers RunOnce under spec (standard five-field cron or
// a descriptor like "@every 10m").
func (s *Scheduler) ScheduleRefresh(spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultRefresh
	}
	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.RunOnce(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	return id, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce pins every displayable photo and, when enabled, refreshes the
// preview. Overlapping runs are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Info("jobs: refresh already running; skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	err := s.run(ctx)

	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *Scheduler) run(ctx context.Context) error {
	started := time.Now()
	list, err := s.photos.ListPhotos(ctx, model.Ascending)
	if err != nil {
		appLog.Error("jobs: list photos failed", err)
		return fmt.Errorf("list photos: %w", err)
	}
	urls := photos.URLs(photos.Displayable(list))

	var failed []string
	if s.pinner != nil && len(urls) > 0 {
		failed = s.pinner.PinURLs(ctx, urls)
	}
	appLog.Info("jobs: cache refreshed", "urls", len(urls), "failed", len(failed), "elapsed", time.Since(started).String())

	if s.preview != nil {
		if err := s.preview(ctx); err != nil {
			appLog.Error("jobs: preview capture failed", err)
			return fmt.Errorf("preview: %w", err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("pin: %d of %d failed", len(failed), len(urls))
	}
	return nil
}

// Last reports when RunOnce last finished and its error.
func (s *Scheduler) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
