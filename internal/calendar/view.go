package calendar

import (
	"errors"
	"sync"

	"photocal/internal/holiday"
	appLog "photocal/internal/log"
	"photocal/internal/model"
)

// View keeps the latest event snapshot pushed by the store and derives the
// aggregated list from it. Results are cached per (snapshot, window).
type View struct {
	holidays *holiday.Generator

	mu       sync.Mutex
	seq      uint64
	events   []model.Event
	cacheKey viewKey
	cached   []model.Occurrence
	cacheOK  bool
}

type viewKey struct {
	seq   uint64
	start int64
	end   int64
}

func NewView(holidays *holiday.Generator) *View {
	return &View{holidays: holidays}
}

// Apply installs snapshot as the current event set if seq is newer than the
// one already applied. It reports whether the snapshot was accepted. The
// whole state is replaced; nothing is patched incrementally.
func (v *View) Apply(seq uint64, snapshot []model.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq <= v.seq && v.events != nil {
		appLog.Debug("calendar: dropping stale snapshot", "seq", seq, "current", v.seq)
		return false
	}
	events := make([]model.Event, len(snapshot))
	copy(events, snapshot)
	v.seq = seq
	v.events = events
	v.cacheOK = false
	return true
}

// Seq is the sequence number of the applied snapshot.
func (v *View) Seq() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seq
}

// Occurrences returns the aggregated list for w, recomputing only when the
// snapshot or window changed since the last call.
func (v *View) Occurrences(w Window) []model.Occurrence {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := viewKey{seq: v.seq, start: w.Start.UnixNano(), end: w.End.UnixNano()}
	if v.cacheOK && v.cacheKey == key {
		return clone(v.cached)
	}

	occ, errs := Aggregate(v.events, w, v.holidays)
	if len(errs) > 0 {
		appLog.Error("calendar: rejected events during aggregation", errors.Join(errs...), "count", len(errs))
	}
	v.cacheKey = key
	v.cached = occ
	v.cacheOK = true
	return clone(occ)
}

func clone(in []model.Occurrence) []model.Occurrence {
	out := make([]model.Occurrence, len(in))
	copy(out, in)
	return out
}
