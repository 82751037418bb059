// Package calendar merges stored events, expanded recurrences and holidays
// into the list the calendar displays.
package calendar

import (
	"sort"
	"time"

	"photocal/internal/holiday"
	"photocal/internal/model"
	"photocal/internal/recurrence"
)

// Window is an inclusive [Start, End] time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindow returns the month containing t in loc, from the first day at
// 00:00 to the last nanosecond of the last day.
func MonthWindow(t time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Window{Start: start, End: end}
}

// Years lists every calendar year the window touches.
func (w Window) Years() []int {
	first, last := w.Start.Year(), w.End.Year()
	if last < first {
		return nil
	}
	out := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		out = append(out, y)
	}
	return out
}

// Aggregate returns the display list for window: non-recurring events as-is,
// recurring ones replaced by their expansion, plus the holidays of every
// year the window touches. Events the expander rejects are reported in the
// error slice and left out; the rest still aggregate.
//
// The result is not sorted. Aggregate is pure for a given input.
func Aggregate(events []model.Event, w Window, holidays *holiday.Generator) ([]model.Occurrence, []error) {
	out := make([]model.Occurrence, 0, len(events))
	var errs []error

	for _, ev := range events {
		occ, err := recurrence.Expand(ev, w.Start, w.End)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, occ...)
	}

	if holidays != nil {
		for _, y := range w.Years() {
			out = append(out, holidays.Generate(y)...)
		}
	}

	return out, errs
}

// SortByStart orders occurrences by start, holidays first on ties, then title.
func SortByStart(occ []model.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.IsHoliday != b.IsHoliday {
			return a.IsHoliday
		}
		return a.Title < b.Title
	})
}

// ByDate buckets occurrences by their local start date (YYYY-MM-DD).
func ByDate(occ []model.Occurrence, loc *time.Location) map[string][]model.Occurrence {
	out := make(map[string][]model.Occurrence)
	for _, o := range occ {
		key := o.Start.In(loc).Format(time.DateOnly)
		out[key] = append(out[key], o)
	}
	return out
}
