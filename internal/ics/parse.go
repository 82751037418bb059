package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"photocal/internal/events"
	appLog "photocal/internal/log"
	"photocal/internal/model"
)

var ErrUnsupportedRule = errors.New("unsupported recurrence rule")

// Parse reads an ICS payload and maps every VEVENT it can represent onto
// event input. Rules beyond a plain FREQ with optional UNTIL, overridden
// instances and events without a start are skipped with a log line.
func Parse(body []byte, loc *time.Location) ([]events.Input, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	out := make([]events.Input, 0)
	skipped := 0
	for _, ve := range cal.Events() {
		in, err := parseVEvent(ve, loc)
		if err != nil {
			skipped++
			appLog.Warn("ics: skipping vevent", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "reason", err.Error())
			continue
		}
		out = append(out, in)
	}

	appLog.Info("ics: parse completed", "event_count", len(out), "skipped", skipped)
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (events.Input, error) {
	if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
		return events.Input{}, errors.New("overridden instance")
	}

	in := events.Input{Title: propValue(ve, ical.ComponentPropertySummary)}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return events.Input{}, errors.New("missing DTSTART")
	}
	in.AllDay = isDateValue(dtStart)

	if in.AllDay {
		d, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return events.Input{}, fmt.Errorf("DTSTART: %w", err)
		}
		in.Start = d.Format(time.DateOnly)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return events.Input{}, fmt.Errorf("DTSTART: %w", err)
		}
		in.Start = start.In(loc).Format(time.RFC3339)
		if end, err := ve.GetEndAt(); err == nil && !end.Before(start) {
			in.End = end.In(loc).Format(time.RFC3339)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		rec, until, err := mapRule(p.Value, loc)
		if err != nil {
			return events.Input{}, err
		}
		in.Recurrence = string(rec)
		if until != nil {
			in.Until = until.In(loc).Format(time.DateOnly)
		}
	}
	return in, nil
}

// mapRule accepts FREQ=DAILY|WEEKLY|MONTHLY|YEARLY with optional UNTIL,
// INTERVAL=1 and WKST. Anything else changes which dates repeat and cannot
// be stored as a plain recurrence.
func mapRule(raw string, loc *time.Location) (model.Recurrence, *time.Time, error) {
	for _, part := range strings.Split(raw, ";") {
		key, val, _ := strings.Cut(part, "=")
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "FREQ", "UNTIL", "WKST", "":
		case "INTERVAL":
			if strings.TrimSpace(val) != "1" {
				return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
			}
		default:
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
		}
	}

	opt, err := rrule.StrToROptionInLocation(raw, loc)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedRule, err)
	}

	var rec model.Recurrence
	switch opt.Freq {
	case rrule.DAILY:
		rec = model.RecurrenceDaily
	case rrule.WEEKLY:
		rec = model.RecurrenceWeekly
	case rrule.MONTHLY:
		rec = model.RecurrenceMonthly
	case rrule.YEARLY:
		rec = model.RecurrenceYearly
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
	}

	if opt.Until.IsZero() {
		return rec, nil, nil
	}
	u := opt.Until
	return rec, &u, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// parseICSTime parses a bare DATE or DATE-TIME value. Floating times are
// read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
