package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"photocal/internal/calendar"
	"photocal/internal/events"
	"photocal/internal/ics"
	appLog "photocal/internal/log"
	"photocal/internal/model"
)

type occurrenceDTO struct {
	EventID     string     `json:"eventId,omitempty"`
	InstanceKey string     `json:"instanceKey"`
	Title       string     `json:"title"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	AllDay      bool       `json:"allDay"`
	Recurrence  string     `json:"recurrence"`
	Until       *time.Time `json:"until,omitempty"`
	IsHoliday   bool       `json:"isHoliday"`
}

type eventsResponse struct {
	Month           string                     `json:"month"`
	RangeStart      time.Time                  `json:"rangeStart"`
	RangeEnd        time.Time                  `json:"rangeEnd"`
	DisplayTimeZone string                     `json:"displayTimeZone"`
	WeekStart       string                     `json:"weekStart"`
	Occurrences     []occurrenceDTO            `json:"occurrences"`
	ByDate          map[string][]occurrenceDTO `json:"byDate"`
}

type eventDTO struct {
	ID string `json:"id"`
	events.Input
}

func toOccurrenceDTOs(occ []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		out = append(out, occurrenceDTO{
			EventID:     o.EventID,
			InstanceKey: o.InstanceKey,
			Title:       o.Title,
			Start:       o.Start,
			End:         o.End,
			AllDay:      o.AllDay,
			Recurrence:  string(o.Recurrence),
			Until:       o.Until,
			IsHoliday:   o.IsHoliday,
		})
	}
	return out
}

// handleListEvents returns the aggregated month grid.
//
// GET /api/events?month=2024-05 (default: the current month)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not ready")
		return
	}
	loc := s.deps.Events.Location()

	ref := s.now().In(loc)
	month := r.URL.Query().Get("month")
	if month != "" {
		t, err := time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		ref = t
	}

	win := calendar.MonthWindow(ref, loc)
	occ := s.deps.Session.Calendar().Occurrences(win)

	byDate := make(map[string][]occurrenceDTO)
	for day, list := range calendar.ByDate(occ, loc) {
		byDate[day] = toOccurrenceDTOs(list)
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Month:           win.Start.Format("2006-01"),
		RangeStart:      win.Start,
		RangeEnd:        win.End,
		DisplayTimeZone: loc.String(),
		WeekStart:       s.deps.WeekStart,
		Occurrences:     toOccurrenceDTOs(occ),
		ByDate:          byDate,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Store.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventDTO{ID: ev.ID, Input: events.FromEvent(ev, s.deps.Events.Location())})
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var in events.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := s.deps.Events.Add(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, eventDTO{ID: ev.ID, Input: events.FromEvent(ev, s.deps.Events.Location())})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var in events.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := s.deps.Events.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventDTO{ID: ev.ID, Input: events.FromEvent(ev, s.deps.Events.Location())})
}

// handleDeleteEvent removes an event and all its occurrences. Requires
// ?confirm=1.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Events.Delete(r.Context(), r.PathValue("id"), confirmed(r)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	evs, err := s.deps.Store.ListEvents(r.Context())
	if err != nil {
		appLog.Error("web: list events for export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	body := ics.Export(evs, s.deps.CalendarName, s.deps.Events.Location(), s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="photocal.ics"`)
	_, _ = w.Write(body)
}

type importRequest struct {
	// Feed names a configured subscription to pull instead of a posted body.
	Feed string `json:"feed"`
}

type importResponse struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

// handleImportICS accepts a text/calendar body or {"feed": "<name>"}.
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	body, err := s.importBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inputs, err := ics.Parse(body, s.deps.Events.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.deps.Events.Import(r.Context(), inputs)
	resp := importResponse{Imported: n}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			resp.Errors = append(resp.Errors, line)
		}
	}
	appLog.Info("web: ics import", "imported", n, "failed", len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) importBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		return io.ReadAll(http.MaxBytesReader(w, r.Body, 5<<20))
	}

	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, errors.New("invalid request body")
	}
	if s.deps.Feeds == nil {
		return nil, errors.New("feed import is not configured")
	}
	for _, f := range s.deps.FeedList {
		if f.Name == req.Feed {
			res, err := s.deps.Feeds.Fetch(r.Context(), f)
			if err != nil {
				return nil, err
			}
			return res.Body, nil
		}
	}
	return nil, errors.New("unknown feed " + req.Feed)
}
