// Package events validates user calendar entries and writes them to the
// store.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "photocal/internal/log"
	"photocal/internal/model"
	"photocal/internal/store"
)

var (
	ErrInvalid      = errors.New("invalid event")
	ErrNotConfirmed = errors.New("deletion not confirmed")
)

// Input is an event as submitted by the add/edit form or an import. Times
// accept RFC 3339, "2006-01-02T15:04" (local wall clock) or a bare date.
type Input struct {
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end,omitempty"`
	AllDay     bool   `json:"allDay"`
	Recurrence string `json:"recurrence,omitempty"`
	Until      string `json:"until,omitempty"`
}

var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// Validate turns in into a storable event. Nothing is written; callers get
// every validation failure before any store mutation.
func Validate(in Input, loc *time.Location) (model.Event, error) {
	if loc == nil {
		loc = time.Local
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Event{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	rec, err := model.ParseRecurrence(in.Recurrence)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if strings.TrimSpace(in.Start) == "" {
		return model.Event{}, fmt.Errorf("%w: start is required", ErrInvalid)
	}
	start, err := parseTime(in.Start, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: start: %v", ErrInvalid, err)
	}

	end := start
	if strings.TrimSpace(in.End) != "" {
		if end, err = parseTime(in.End, loc); err != nil {
			return model.Event{}, fmt.Errorf("%w: end: %v", ErrInvalid, err)
		}
	}

	if in.AllDay {
		start = model.DateOnly(start, loc)
		end = start
	}
	if end.Before(start) {
		return model.Event{}, fmt.Errorf("%w: end is before start", ErrInvalid)
	}

	ev := model.Event{
		Title:      title,
		Start:      start,
		End:        end,
		AllDay:     in.AllDay,
		Recurrence: rec,
	}

	// until only means something for recurring events.
	if rec.IsRecurring() && strings.TrimSpace(in.Until) != "" {
		until, err := parseTime(in.Until, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: until: %v", ErrInvalid, err)
		}
		if until.Before(model.DateOnly(start, loc)) {
			return model.Event{}, fmt.Errorf("%w: until is before start", ErrInvalid)
		}
		ev.Until = &until
	}
	return ev, nil
}

// Service writes validated events. The calendar display itself never
// mutates its list; it waits for the store to push the next snapshot.
type Service struct {
	store store.Store
	loc   *time.Location
}

func New(st store.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, loc: loc}
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Add(ctx context.Context, in Input) (model.Event, error) {
	ev, err := Validate(in, s.loc)
	if err != nil {
		return model.Event{}, err
	}
	ev, err = s.store.AddEvent(ctx, ev)
	if err != nil {
		return model.Event{}, err
	}
	appLog.Info("events: added", "id", ev.ID, "recurrence", ev.Recurrence)
	return ev, nil
}

// Update overwrites the whole event.
func (s *Service) Update(ctx context.Context, id string, in Input) (model.Event, error) {
	ev, err := Validate(in, s.loc)
	if err != nil {
		return model.Event{}, err
	}
	ev.ID = id
	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// Delete removes the event and therefore every occurrence of it.
func (s *Service) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	return s.store.DeleteEvent(ctx, id)
}

// Import adds every valid input. Invalid or failing items are reported
// together; the rest are still written.
func (s *Service) Import(ctx context.Context, inputs []Input) (int, error) {
	var (
		added int
		errs  []error
	)
	for i, in := range inputs {
		if _, err := s.Add(ctx, in); err != nil {
			errs = append(errs, fmt.Errorf("item %d (%q): %w", i, in.Title, err))
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// FromEvent renders ev back into form input, e.g. to prefill the editor.
func FromEvent(ev model.Event, loc *time.Location) Input {
	if loc == nil {
		loc = time.Local
	}
	in := Input{
		Title:      ev.Title,
		AllDay:     ev.AllDay,
		Recurrence: string(ev.Recurrence),
	}
	if ev.AllDay {
		in.Start = ev.Start.In(loc).Format(time.DateOnly)
		in.End = ev.End.In(loc).Format(time.DateOnly)
	} else {
		in.Start = ev.Start.In(loc).Format(time.RFC3339)
		in.End = ev.End.In(loc).Format(time.RFC3339)
	}
	if ev.Until != nil {
		in.Until = ev.Until.In(loc).Format(time.DateOnly)
	}
	return in
}
