package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"photocal/internal/model"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func starts(occ []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Start)
	}
	return out
}

func TestWeeklyUntilIsInclusive(t *testing.T) {
	until := date(2024, 1, 22, 0, 0)
	ev := model.Event{
		ID:         "piano",
		Title:      "Piano lesson",
		Start:      date(2024, 1, 1, 10, 0),
		End:        date(2024, 1, 1, 11, 30),
		Recurrence: model.RecurrenceWeekly,
		Until:      &until,
	}

	got, err := Expand(ev, date(2024, 1, 1, 0, 0), date(2024, 1, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	want := []time.Time{
		date(2024, 1, 1, 10, 0),
		date(2024, 1, 8, 10, 0),
		date(2024, 1, 15, 10, 0),
		date(2024, 1, 22, 10, 0),
	}
	if diff := cmp.Diff(starts(got), want); diff != "" {
		t.Fatalf("Bad occurrence starts; diff (-got +want)\n%s", diff)
	}
	for _, o := range got {
		if d := o.End.Sub(o.Start); d != 90*time.Minute {
			t.Errorf("occurrence %v has duration %v, want 1h30m", o.Start, d)
		}
		if o.EventID != "piano" || o.Title != "Piano lesson" {
			t.Errorf("occurrence lost its source fields: %+v", o)
		}
	}
}

func TestNonRecurringPassThrough(t *testing.T) {
	ev := model.Event{
		ID:         "dentist",
		Title:      "Dentist",
		Start:      date(2023, 6, 1, 9, 0),
		End:        date(2023, 6, 1, 10, 0),
		Recurrence: model.RecurrenceNone,
	}

	// The window does not contain the event; pass-through ignores it.
	got, err := Expand(ev, date(2024, 1, 1, 0, 0), date(2024, 1, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []model.Occurrence{model.OccurrenceOf(ev, ev.Start)}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Bad pass-through; diff (-got +want)\n%s", diff)
	}
}

func TestWindowBoundsAreInclusive(t *testing.T) {
	ev := model.Event{
		ID:         "walk",
		Title:      "Walk",
		Start:      date(2024, 2, 1, 8, 0),
		End:        date(2024, 2, 1, 8, 30),
		Recurrence: model.RecurrenceDaily,
	}

	got, err := Expand(ev, date(2024, 2, 3, 8, 0), date(2024, 2, 5, 8, 0))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []time.Time{
		date(2024, 2, 3, 8, 0),
		date(2024, 2, 4, 8, 0),
		date(2024, 2, 5, 8, 0),
	}
	if diff := cmp.Diff(starts(got), want); diff != "" {
		t.Fatalf("Bad occurrence starts; diff (-got +want)\n%s", diff)
	}
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	ev := model.Event{
		ID:         "rent",
		Title:      "Rent",
		Start:      date(2024, 1, 31, 9, 0),
		End:        date(2024, 1, 31, 9, 0),
		Recurrence: model.RecurrenceMonthly,
	}

	got, err := Expand(ev, date(2024, 1, 1, 0, 0), date(2024, 5, 31, 23, 59))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []time.Time{
		date(2024, 1, 31, 9, 0),
		date(2024, 2, 29, 9, 0),
		date(2024, 3, 31, 9, 0),
		date(2024, 4, 30, 9, 0),
		date(2024, 5, 31, 9, 0),
	}
	if diff := cmp.Diff(starts(got), want); diff != "" {
		t.Fatalf("Bad occurrence starts; diff (-got +want)\n%s", diff)
	}
}

func TestMonthlyDay30(t *testing.T) {
	ev := model.Event{
		ID:         "bills",
		Title:      "Bills",
		Start:      date(2024, 1, 30, 9, 0),
		End:        date(2024, 1, 30, 10, 0),
		Recurrence: model.RecurrenceMonthly,
	}

	got, err := Expand(ev, date(2024, 1, 1, 0, 0), date(2024, 3, 31, 23, 59))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []time.Time{
		date(2024, 1, 30, 9, 0),
		date(2024, 2, 29, 9, 0),
		date(2024, 3, 30, 9, 0),
	}
	if diff := cmp.Diff(starts(got), want); diff != "" {
		t.Fatalf("Bad occurrence starts; diff (-got +want)\n%s", diff)
	}
}

func TestYearlyLeapDay(t *testing.T) {
	ev := model.Event{
		ID:         "bday",
		Title:      "Leap birthday",
		Start:      date(2024, 2, 29, 0, 0),
		End:        date(2024, 2, 29, 0, 0),
		AllDay:     true,
		Recurrence: model.RecurrenceYearly,
	}

	got, err := Expand(ev, date(2024, 1, 1, 0, 0), date(2028, 12, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []time.Time{
		date(2024, 2, 29, 0, 0),
		date(2025, 2, 28, 0, 0),
		date(2026, 2, 28, 0, 0),
		date(2027, 2, 28, 0, 0),
		date(2028, 2, 29, 0, 0),
	}
	if diff := cmp.Diff(starts(got), want); diff != "" {
		t.Fatalf("Bad occurrence starts; diff (-got +want)\n%s", diff)
	}
	for _, o := range got {
		if !o.Start.Equal(o.End) || !o.AllDay {
			t.Errorf("all-day occurrence should keep start == end: %+v", o)
		}
	}
}

func TestKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	start := time.Date(2024, 3, 8, 18, 0, 0, 0, loc)
	ev := model.Event{
		ID:         "dinner",
		Title:      "Family dinner",
		Start:      start,
		End:        start.Add(time.Hour),
		Recurrence: model.RecurrenceDaily,
	}

	got, err := Expand(ev, start, time.Date(2024, 3, 12, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d occurrences, want 4", len(got))
	}
	for _, o := range got {
		if h := o.Start.In(loc).Hour(); h != 18 {
			t.Errorf("occurrence %v starts at hour %d, want 18", o.Start, h)
		}
	}
}

func TestCap(t *testing.T) {
	ev := model.Event{
		ID:         "daily",
		Title:      "Daily",
		Start:      date(2024, 1, 1, 7, 0),
		End:        date(2024, 1, 1, 7, 0),
		Recurrence: model.RecurrenceDaily,
	}
	x := Expander{MaxOccurrences: 3}
	got, err := x.Expand(ev, date(2024, 1, 1, 0, 0), date(2024, 12, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d occurrences, want cap of 3", len(got))
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	ws, we := date(2024, 1, 1, 0, 0), date(2024, 1, 31, 0, 0)
	tests := []struct {
		name string
		ev   model.Event
	}{
		{"missing start", model.Event{ID: "a", End: ws, Recurrence: model.RecurrenceDaily}},
		{"missing end", model.Event{ID: "b", Start: ws, Recurrence: model.RecurrenceDaily}},
		{"end before start", model.Event{ID: "c", Start: we, End: ws}},
		{"unknown recurrence", model.Event{ID: "d", Start: ws, End: ws, Recurrence: "hourly"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Expand(tt.ev, ws, we); !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Expand err = %v, want ErrInvalidEvent", err)
			}
		})
	}

	ev := model.Event{ID: "e", Start: ws, End: ws, Recurrence: model.RecurrenceDaily}
	if _, err := Expand(ev, we, ws); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Expand with reversed window err = %v, want ErrInvalidWindow", err)
	}
}
