// Package season holds the calendar predicates used by the generator and the
// risk rules. Every check runs in the configured site timezone.
package season

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Context is the calendar state derived from an instant. It is never persisted.
type Context struct {
	Month            time.Month
	Hour             int
	IsMonsoon        bool
	IsMonsoonEvening bool
}

// IsMonsoonMonth reports whether m falls in June through September.
func IsMonsoonMonth(m time.Month) bool {
	return m >= time.June && m <= time.September
}

// IsEveningHour reports whether h falls in 18:00 through 23:59.
func IsEveningHour(h int) bool {
	return h >= 18 && h <= 23
}

// Calendar evaluates season predicates in a fixed location.
type Calendar struct {
	loc   *time.Location
	clock clockwork.Clock
}

// NewCalendar returns a Calendar for loc. A nil loc means UTC and a nil clock
// means the real clock.
func NewCalendar(loc *time.Location, clock clockwork.Clock) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Calendar{loc: loc, clock: clock}
}

func (c Calendar) Location() *time.Location { return c.loc }

// Now returns the clock's current time in the calendar location.
func (c Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

// At derives the Context for t. The zero time means now.
func (c Calendar) At(t time.Time) Context {
	if t.IsZero() {
		t = c.clock.Now()
	}
	local := t.In(c.loc)
	month, hour := local.Month(), local.Hour()
	return Context{
		Month:            month,
		Hour:             hour,
		IsMonsoon:        IsMonsoonMonth(month),
		IsMonsoonEvening: IsMonsoonMonth(month) && IsEveningHour(hour),
	}
}

// Parse derives the Context for a string timestamp. Accepted forms are
// RFC 3339 (with or without fractional seconds) and a bare YYYY-MM-DD date,
// which is read as local midnight. The empty string means now.
func (c Calendar) Parse(ts string) (Context, error) {
	if ts == "" {
		return c.At(time.Time{}), nil
	}
	t, err := c.ParseInstant(ts)
	if err != nil {
		return Context{}, err
	}
	return c.At(t), nil
}

// ParseInstant parses ts as RFC 3339 or as a local calendar date.
func (c Calendar) ParseInstant(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, ts, c.loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", ts)
}

func (c Calendar) IsMonsoon(t time.Time) bool {
	return c.At(t).IsMonsoon
}

func (c Calendar) IsMonsoonEvening(t time.Time) bool {
	return c.At(t).IsMonsoonEvening
}

// Today returns the current local date as YYYY-MM-DD.
func (c Calendar) Today() string {
	return c.Now().Format(time.DateOnly)
}

// DayBounds returns the UTC instants of local midnight on date and on the
// following day.
func (c Calendar) DayBounds(date string) (start, end time.Time, err error) {
	day, err := time.ParseInLocation(time.DateOnly, date, c.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}
