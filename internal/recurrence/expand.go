// Package recurrence expands stored recurring events into the concrete
// occurrences that fall inside a visible window.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "photocal/internal/log"
	"photocal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

var (
	ErrInvalidEvent  = errors.New("recurrence: invalid event")
	ErrInvalidWindow = errors.New("recurrence: window end is before window start")
)

// Expander turns event templates into occurrences.
type Expander struct {
	// MaxOccurrences is a safety cap per event. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrences int
}

// Expand is a convenience wrapper around a default Expander.
func Expand(ev model.Event, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	var x Expander
	return x.Expand(ev, windowStart, windowEnd)
}

// Expand returns every occurrence of ev whose start t satisfies
// windowStart <= t <= windowEnd and t <= ev.Until (when set). Each occurrence
// keeps the template's duration.
//
// Non-recurring events are passed through as a single occurrence, without
// window filtering.
func (x Expander) Expand(ev model.Event, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}
	if !ev.Recurrence.IsRecurring() {
		return []model.Occurrence{model.OccurrenceOf(ev, ev.Start)}, nil
	}
	if windowEnd.Before(windowStart) {
		return nil, ErrInvalidWindow
	}

	r, err := rule(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEvent, ev.ID, err)
	}

	// Between works in the rule's location; align the window with it.
	loc := ev.Start.Location()
	times := r.Between(windowStart.In(loc), windowEnd.In(loc), true)

	limit := x.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrencesPerEvent
	}
	if len(times) > limit {
		appLog.Error("recurrence: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"event_id", ev.ID,
			"cap", limit,
		)
		times = times[:limit]
	}

	out := make([]model.Occurrence, 0, len(times))
	for _, t := range times {
		out = append(out, model.OccurrenceOf(ev, t))
	}
	return out, nil
}

// Validate rejects events the expander cannot work with.
func Validate(ev model.Event) error {
	if ev.Start.IsZero() {
		return fmt.Errorf("%w: %q: missing start", ErrInvalidEvent, ev.ID)
	}
	if ev.End.IsZero() {
		return fmt.Errorf("%w: %q: missing end", ErrInvalidEvent, ev.ID)
	}
	if ev.End.Before(ev.Start) {
		return fmt.Errorf("%w: %q: end is before start", ErrInvalidEvent, ev.ID)
	}
	if _, err := model.ParseRecurrence(string(ev.Recurrence)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidEvent, ev.ID, err)
	}
	return nil
}

// rule builds the rrule for ev. Monthly and yearly rules anchored on day
// 29-31 clamp to the last day of months that lack it
// (BYMONTHDAY=d,-1;BYSETPOS=1) instead of skipping those months.
func rule(ev model.Event) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart: ev.Start,
	}

	switch ev.Recurrence {
	case model.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case model.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
	case model.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
	case model.RecurrenceYearly:
		opt.Freq = rrule.YEARLY
	default:
		return nil, fmt.Errorf("unsupported recurrence %q", ev.Recurrence)
	}

	if day := ev.Start.Day(); day > 28 {
		switch opt.Freq {
		case rrule.MONTHLY:
			opt.Bymonthday = []int{day, -1}
			opt.Bysetpos = []int{1}
		case rrule.YEARLY:
			opt.Bymonth = []int{int(ev.Start.Month())}
			opt.Bymonthday = []int{day, -1}
			opt.Bysetpos = []int{1}
		}
	}

	if ev.Until != nil && !ev.Until.IsZero() {
		opt.Until = untilBound(*ev.Until, ev.Start.Location())
	}

	return rrule.NewRRule(opt)
}

// untilBound makes a date-only until (midnight wall clock) inclusive of that
// whole day; any other instant is used as-is.
func untilBound(until time.Time, loc *time.Location) time.Time {
	u := until.In(loc)
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return u
}
