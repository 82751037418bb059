// Package holiday produces the read-only holiday entries shown on the
// calendar for a given year.
package holiday

import (
	"sort"
	"sync"
	"time"

	"github.com/teambition/rrule-go"

	appLog "photocal/internal/log"
	"photocal/internal/model"
)

// DayAfterThanksgiving is in the default denylist.
const DayAfterThanksgiving = "Day after Thanksgiving Day"

// Gregorian Easter is only defined from 1583 on.
const (
	minYear = 1583
	maxYear = 9999
)

// DefaultDenylist lists names dropped after de-duplication.
func DefaultDenylist() []string {
	return []string{DayAfterThanksgiving}
}

// Options configures a Generator.
type Options struct {
	// Location holds the date-only instants. If nil, time.Local is used.
	Location *time.Location
	// Denylist names are removed from the output. Nil means DefaultDenylist;
	// an empty non-nil slice disables filtering.
	Denylist []string
}

// Generator derives holidays per year and memoizes the result.
type Generator struct {
	loc  *time.Location
	deny map[string]bool

	mu    sync.Mutex
	cache map[int][]model.Occurrence
}

func New(opts Options) *Generator {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	names := opts.Denylist
	if names == nil {
		names = DefaultDenylist()
	}
	deny := make(map[string]bool, len(names))
	for _, n := range names {
		deny[n] = true
	}
	return &Generator{
		loc:   loc,
		deny:  deny,
		cache: make(map[int][]model.Occurrence),
	}
}

// Generate returns the holidays of year, sorted by date, with unique dates.
// When Easter cannot be computed the result is empty.
func (g *Generator) Generate(year int) []model.Occurrence {
	g.mu.Lock()
	cached, ok := g.cache[year]
	g.mu.Unlock()
	if ok {
		return clone(cached)
	}

	out := g.generate(year)

	g.mu.Lock()
	g.cache[year] = out
	g.mu.Unlock()
	return clone(out)
}

type named struct {
	name string
	date time.Time
}

func (g *Generator) generate(year int) []model.Occurrence {
	easter, ok := easterSunday(year, g.loc)
	if !ok {
		appLog.Warn("holiday: easter unavailable, no holidays generated", "year", year)
		return []model.Occurrence{}
	}

	all := g.civil(year, easter)
	all = append(all,
		named{"Ash Wednesday", easter.AddDate(0, 0, -46)},
		named{"Palm Sunday", easter.AddDate(0, 0, -7)},
		named{"Good Friday", easter.AddDate(0, 0, -2)},
		named{"Easter Sunday", easter},
		named{"Christmas Day", g.fixed(year, time.December, 25)},
	)

	// First seen wins per calendar date.
	seen := make(map[string]bool, len(all))
	unique := make([]named, 0, len(all))
	for _, h := range all {
		key := h.date.Format(time.DateOnly)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, h)
	}

	out := make([]model.Occurrence, 0, len(unique))
	for _, h := range unique {
		if g.deny[h.name] {
			continue
		}
		out = append(out, model.Occurrence{
			InstanceKey: "holiday:" + h.date.Format(time.DateOnly),
			Title:       h.name,
			Start:       h.date,
			End:         h.date,
			AllDay:      true,
			Recurrence:  model.RecurrenceNone,
			IsHoliday:   true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// civil is the US holiday and observance table, in table order.
func (g *Generator) civil(year int, easter time.Time) []named {
	thanksgiving := g.nth(year, time.November, rrule.TH, 4)
	return []named{
		{"New Year's Day", g.fixed(year, time.January, 1)},
		{"Martin Luther King Jr. Day", g.nth(year, time.January, rrule.MO, 3)},
		{"Valentine's Day", g.fixed(year, time.February, 14)},
		{"Washington's Birthday", g.nth(year, time.February, rrule.MO, 3)},
		{"Easter Sunday", easter},
		{"Mother's Day", g.nth(year, time.May, rrule.SU, 2)},
		{"Memorial Day", g.nth(year, time.May, rrule.MO, -1)},
		{"Father's Day", g.nth(year, time.June, rrule.SU, 3)},
		{"Juneteenth", g.fixed(year, time.June, 19)},
		{"Independence Day", g.fixed(year, time.July, 4)},
		{"Labor Day", g.nth(year, time.September, rrule.MO, 1)},
		{"Columbus Day", g.nth(year, time.October, rrule.MO, 2)},
		{"Halloween", g.fixed(year, time.October, 31)},
		{"Veterans Day", g.fixed(year, time.November, 11)},
		{"Thanksgiving Day", thanksgiving},
		{DayAfterThanksgiving, thanksgiving.AddDate(0, 0, 1)},
		{"Christmas Eve", g.fixed(year, time.December, 24)},
		{"Christmas Day", g.fixed(year, time.December, 25)},
		{"New Year's Eve", g.fixed(year, time.December, 31)},
	}
}

func (g *Generator) fixed(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, g.loc)
}

// nth returns the n-th weekday of month (n < 0 counts from the end).
func (g *Generator) nth(year int, month time.Month, wd rrule.Weekday, n int) time.Time {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.YEARLY,
		Dtstart:   time.Date(year, time.January, 1, 0, 0, 0, 0, g.loc),
		Bymonth:   []int{int(month)},
		Byweekday: []rrule.Weekday{wd.Nth(n)},
		Count:     1,
	})
	if err != nil {
		appLog.Error("holiday: bad weekday rule", err, "year", year, "month", month)
		return time.Time{}
	}
	all := r.All()
	if len(all) == 0 {
		return time.Time{}
	}
	return all[0]
}

// easterSunday uses the rrule BYEASTER extension.
func easterSunday(year int, loc *time.Location) (time.Time, bool) {
	if year < minYear || year > maxYear {
		return time.Time{}, false
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.YEARLY,
		Dtstart:  time.Date(year, time.January, 1, 0, 0, 0, 0, loc),
		Byeaster: []int{0},
		Count:    1,
	})
	if err != nil {
		return time.Time{}, false
	}
	all := r.All()
	if len(all) == 0 || all[0].Year() != year {
		return time.Time{}, false
	}
	return all[0], true
}

func clone(in []model.Occurrence) []model.Occurrence {
	out := make([]model.Occurrence, len(in))
	copy(out, in)
	return out
}
