package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"photocal/internal/model"
	"photocal/internal/store"
)

func TestValidate(t *testing.T) {
	loc := time.UTC
	until := time.Date(2024, 2, 1, 0, 0, 0, 0, loc)

	tests := []struct {
		name    string
		in      Input
		want    model.Event
		wantErr bool
	}{
		{
			name:    "missing title",
			in:      Input{Title: "   ", Start: "2024-01-01"},
			wantErr: true,
		},
		{
			name:    "bad recurrence",
			in:      Input{Title: "x", Start: "2024-01-01", Recurrence: "hourly"},
			wantErr: true,
		},
		{
			name:    "end before start",
			in:      Input{Title: "x", Start: "2024-01-01T10:00", End: "2024-01-01T09:00"},
			wantErr: true,
		},
		{
			name:    "missing start",
			in:      Input{Title: "x"},
			wantErr: true,
		},
		{
			name: "all day normalised",
			in:   Input{Title: " Birthday ", Start: "2024-03-09T15:30", End: "2024-03-12", AllDay: true},
			want: model.Event{
				Title:      "Birthday",
				Start:      time.Date(2024, 3, 9, 0, 0, 0, 0, loc),
				End:        time.Date(2024, 3, 9, 0, 0, 0, 0, loc),
				AllDay:     true,
				Recurrence: model.RecurrenceNone,
			},
		},
		{
			name: "until dropped without recurrence",
			in:   Input{Title: "x", Start: "2024-01-01T10:00", End: "2024-01-01T11:00", Until: "2024-02-01"},
			want: model.Event{
				Title:      "x",
				Start:      time.Date(2024, 1, 1, 10, 0, 0, 0, loc),
				End:        time.Date(2024, 1, 1, 11, 0, 0, 0, loc),
				Recurrence: model.RecurrenceNone,
			},
		},
		{
			name: "weekly with until",
			in:   Input{Title: "Piano", Start: "2024-01-01T10:00:00Z", End: "2024-01-01T11:00:00Z", Recurrence: "Weekly", Until: "2024-02-01"},
			want: model.Event{
				Title:      "Piano",
				Start:      time.Date(2024, 1, 1, 10, 0, 0, 0, loc),
				End:        time.Date(2024, 1, 1, 11, 0, 0, 0, loc),
				Recurrence: model.RecurrenceWeekly,
				Until:      &until,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Validate(tc.in, loc)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("err = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if diff := cmp.Diff(got, tc.want); diff != "" {
				t.Errorf("Bad event; diff (-got +want)\n%s", diff)
			}
		})
	}
}

func newService(t *testing.T) (*Service, *store.SQL) {
	t.Helper()
	st, err := store.OpenSQL(filepath.Join(t.TempDir(), "photocal.db"), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, time.UTC), st
}

func TestServiceValidatesBeforeWriting(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if _, err := svc.Add(ctx, Input{Start: "2024-01-01"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if evs, _ := st.ListEvents(ctx); len(evs) != 0 {
		t.Errorf("invalid input reached the store")
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	ev, err := svc.Add(ctx, Input{Title: "Dentist", Start: "2024-05-02T09:00", End: "2024-05-02T10:00"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := svc.Update(ctx, ev.ID, Input{Title: "Dentist (moved)", Start: "2024-05-03T09:00", End: "2024-05-03T10:00"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := st.GetEvent(ctx, ev.ID)
	if got.Title != "Dentist (moved)" || got.Start.Day() != 3 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := svc.Delete(ctx, ev.ID, false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if err := svc.Delete(ctx, ev.ID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetEvent(ctx, ev.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("event still present: %v", err)
	}
}

func TestImportKeepsGoing(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	n, err := svc.Import(ctx, []Input{
		{Title: "A", Start: "2024-01-01"},
		{Title: "", Start: "2024-01-02"},
		{Title: "C", Start: "2024-01-03", AllDay: true},
	})
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if evs, _ := st.ListEvents(ctx); len(evs) != 2 {
		t.Errorf("store has %d events, want 2", len(evs))
	}
}

func TestFromEventRoundTrip(t *testing.T) {
	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ev := model.Event{
		Title:      "Swim",
		Start:      time.Date(2024, 4, 1, 17, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 4, 1, 18, 0, 0, 0, time.UTC),
		Recurrence: model.RecurrenceWeekly,
		Until:      &until,
	}
	got, err := Validate(FromEvent(ev, time.UTC), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, ev); diff != "" {
		t.Errorf("Bad round trip; diff (-got +want)\n%s", diff)
	}
}
