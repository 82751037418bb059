package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"photocal/internal/model"
)

type fakeLister struct {
	photos []model.Photo
	err    error
}

func (f fakeLister) ListPhotos(context.Context, model.Order) ([]model.Photo, error) {
	return f.photos, f.err
}

type fakePinner struct {
	got  []string
	fail []string
}

func (f *fakePinner) PinURLs(_ context.Context, urls []string) []string {
	f.got = append(f.got, urls...)
	return f.fail
}

func TestRunOncePinsDisplayable(t *testing.T) {
	lister := fakeLister{photos: []model.Photo{
		{ID: "a", ImageURL: "https://img.test/a.webp", Status: model.PhotoComplete},
		{ID: "b", Status: model.PhotoUploading},
		{ID: "c", ImageURL: "https://img.test/c.webp", Status: model.PhotoError},
		{ID: "d", ImageURL: "https://img.test/d.webp", Status: model.PhotoComplete},
	}}
	pin := &fakePinner{}
	previews := 0
	s := New(time.UTC, lister, pin, func(context.Context) error { previews++; return nil })

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if diff := cmp.Diff(pin.got, []string{"https://img.test/a.webp", "https://img.test/d.webp"}); diff != "" {
		t.Errorf("Bad pinned URLs; diff (-got +want)\n%s", diff)
	}
	if previews != 1 {
		t.Errorf("previews = %d, want 1", previews)
	}
	if last, err := s.Last(); last.IsZero() || err != nil {
		t.Errorf("Last = %v, %v", last, err)
	}
}

func TestRunOnceReportsFailures(t *testing.T) {
	lister := fakeLister{photos: []model.Photo{{ImageURL: "https://img.test/a.webp", Status: model.PhotoComplete}}}
	s := New(time.UTC, lister, &fakePinner{fail: []string{"https://img.test/a.webp"}}, nil)
	if err := s.RunOnce(context.Background()); err == nil {
		t.Errorf("RunOnce ignored pin failure")
	}

	boom := errors.New("boom")
	s = New(time.UTC, fakeLister{err: boom}, &fakePinner{}, nil)
	if err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestScheduleRefreshRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, fakeLister{}, nil, nil)
	if _, err := s.ScheduleRefresh("every tuesday"); err == nil {
		t.Errorf("bad spec accepted")
	}
	if _, err := s.ScheduleRefresh(""); err != nil {
		t.Errorf("default spec: %v", err)
	}
	s.Start()
	s.Stop()
}
