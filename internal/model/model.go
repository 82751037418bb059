package model

import (
	"fmt"
	"strings"
	"time"
)

// Recurrence is the repeat frequency of a stored event.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// ParseRecurrence accepts the stored/form spelling of a recurrence. An empty
// string is treated as none.
func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RecurrenceNone:
		return RecurrenceNone, nil
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return r, nil
	default:
		return "", fmt.Errorf("unknown recurrence %q", s)
	}
}

// IsRecurring reports whether r repeats.
func (r Recurrence) IsRecurring() bool {
	return r != "" && r != RecurrenceNone
}

// Event is a user-created calendar entry as stored in the document store.
// Edits overwrite the whole record; there is no versioning.
type Event struct {
	ID    string
	Title string

	// For all-day events Start and End are the same date-only instant.
	Start  time.Time
	End    time.Time
	AllDay bool

	Recurrence Recurrence
	// Until bounds a recurring event (inclusive). Nil means unbounded.
	Until *time.Time
}

// Duration is End-Start of the template.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Occurrence is a single concrete instance shown on the calendar: either an
// expanded user event or a holiday pseudo-event. It is never persisted.
type Occurrence struct {
	// EventID is the source event; edits and deletes go through it. Empty for
	// holidays.
	EventID string

	// InstanceKey uniquely identifies one occurrence of a recurring event,
	// derived from its start.
	InstanceKey string

	Title  string
	Start  time.Time
	End    time.Time
	AllDay bool

	Recurrence Recurrence
	Until      *time.Time

	// IsHoliday marks read-only generated entries.
	IsHoliday bool
}

// OccurrenceOf returns the occurrence of ev at start, preserving ev's duration.
func OccurrenceOf(ev Event, start time.Time) Occurrence {
	return Occurrence{
		EventID:     ev.ID,
		InstanceKey: start.Format(time.RFC3339Nano),
		Title:       ev.Title,
		Start:       start,
		End:         start.Add(ev.Duration()),
		AllDay:      ev.AllDay,
		Recurrence:  ev.Recurrence,
		Until:       ev.Until,
	}
}

// DateOnly truncates t to midnight of its calendar date in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SameDate reports whether a and b fall on the same calendar date in loc.
func SameDate(a, b time.Time, loc *time.Location) bool {
	return DateOnly(a, loc).Equal(DateOnly(b, loc))
}
