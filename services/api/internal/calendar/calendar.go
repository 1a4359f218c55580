// Package calendar computes dates of the recurring weekly event.
//
// The event happens once a week on a fixed weekday. When "now" falls on the
// event day itself, the next occurrence is the following week: registrations
// made on the day are for next week's session.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"golang.org/x/text/language"
)

// ReminderHour is the local hour, on the day before the event, at which the
// reminder email goes out.
const ReminderHour = 19

type Calculator struct {
	weekday  time.Weekday
	loc      *time.Location
	start    time.Duration
	duration time.Duration
}

type Option func(*Calculator)

// WithStart sets the time of day the event starts, as an offset from midnight.
func WithStart(offset time.Duration) Option {
	return func(c *Calculator) {
		if offset >= 0 && offset < 24*time.Hour {
			c.start = offset
		}
	}
}

func WithDuration(d time.Duration) Option {
	return func(c *Calculator) {
		if d > 0 {
			c.duration = d
		}
	}
}

func New(weekday time.Weekday, loc *time.Location, opts ...Option) (*Calculator, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, fmt.Errorf("invalid weekday %d", weekday)
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Calculator{
		weekday:  weekday,
		loc:      loc,
		start:    11 * time.Hour,
		duration: 2 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := rrule.NewRRule(c.option(midnight(time.Now(), loc))); err != nil {
		return nil, fmt.Errorf("build weekly rule: %w", err)
	}
	return c, nil
}

func (c *Calculator) Location() *time.Location { return c.loc }

// Next returns local midnight of the next event day strictly after today.
func (c *Calculator) Next(now time.Time) time.Time {
	today := midnight(now, c.loc)
	r, err := rrule.NewRRule(c.option(today))
	if err != nil {
		// New validated the same option set.
		panic(err)
	}
	return r.After(today, false)
}

// On returns local midnight of the calendar day eventDate names. Event dates
// are civil dates: only their year, month and day fields are meaningful, so a
// DATE read back from the store at UTC midnight maps to the same day.
func (c *Calculator) On(eventDate time.Time) time.Time {
	return time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, c.loc)
}

// StartsAt returns the instant the event begins on eventDate.
func (c *Calculator) StartsAt(eventDate time.Time) time.Time {
	return c.On(eventDate).Add(c.start)
}

func (c *Calculator) EndsAt(eventDate time.Time) time.Time {
	return c.StartsAt(eventDate).Add(c.duration)
}

// ReminderAt is 19:00 local on the calendar day before eventDate.
func (c *Calculator) ReminderAt(eventDate time.Time) time.Time {
	return time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day()-1, ReminderHour, 0, 0, 0, c.loc)
}

func (c *Calculator) option(dtstart time.Time) rrule.ROption {
	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rruleWeekday(c.weekday)},
		Dtstart:   dtstart,
	}
}

func midnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// ParseWeekday accepts full English day names and three-letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || key == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatLong renders a date for user-facing text: "19 October 2026" for
// British English and "October 19, 2026" for American English.
func FormatLong(t time.Time, tag language.Tag) string {
	if tag == language.AmericanEnglish {
		return t.Format("January 2, 2006")
	}
	return t.Format("2 January 2006")
}

// FormatClock renders the start time the way the invitation copy reads it,
// e.g. "11 a.m." or "7:30 p.m.".
func FormatClock(t time.Time) string {
	suffix := "a.m."
	if t.Hour() >= 12 {
		suffix = "p.m."
	}
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d %s", h, suffix)
	}
	return fmt.Sprintf("%d:%02d %s", h, t.Minute(), suffix)
}
