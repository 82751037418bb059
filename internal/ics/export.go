// Package ics converts stored events to and from iCalendar so the family
// calendar can be shared with phone calendars and seeded from them.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"photocal/internal/model"
)

const (
	productID  = "-//photocal//calendar//EN"
	dateLayout = "20060102"
	utcLayout  = "20060102T150405Z"
)

// Export renders events as a VCALENDAR, one VEVENT per stored event.
// Recurring events carry an RRULE; expansion is left to the reader.
func Export(evs []model.Event, name string, loc *time.Location, now time.Time) []byte {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	cal.SetXWRTimezone(loc.String())

	for _, ev := range evs {
		ve := cal.AddEvent(ev.ID + "@photocal")
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Title)

		if ev.AllDay {
			d := model.DateOnly(ev.Start, loc)
			ve.SetProperty(ical.ComponentPropertyDtStart, d.Format(dateLayout), ical.WithValue(string(ical.ValueDataTypeDate)))
			// DTEND is exclusive for dates.
			ve.SetProperty(ical.ComponentPropertyDtEnd, d.AddDate(0, 0, 1).Format(dateLayout), ical.WithValue(string(ical.ValueDataTypeDate)))
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}

		if rule := ruleFor(ev, loc); rule != "" {
			ve.SetProperty(ical.ComponentPropertyRrule, rule)
		}
	}

	return []byte(cal.Serialize())
}

// ruleFor renders FREQ and, when bounded, UNTIL. A date-only until covers
// the whole day, so it is written as the last second of that day.
func ruleFor(ev model.Event, loc *time.Location) string {
	if !ev.Recurrence.IsRecurring() {
		return ""
	}
	parts := []string{"FREQ=" + strings.ToUpper(string(ev.Recurrence))}
	if ev.Until != nil {
		u := ev.Until.In(loc)
		switch {
		case ev.AllDay:
			parts = append(parts, "UNTIL="+u.Format(dateLayout))
		case u.Equal(model.DateOnly(u, loc)):
			end := u.AddDate(0, 0, 1).Add(-time.Second)
			parts = append(parts, "UNTIL="+end.UTC().Format(utcLayout))
		default:
			parts = append(parts, "UNTIL="+u.UTC().Format(utcLayout))
		}
	}
	return strings.Join(parts, ";")
}
