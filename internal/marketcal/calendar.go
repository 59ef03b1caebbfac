// Package marketcal implements the US equity trading calendar as pure
// functions over dates: weekend checks, the federal market holiday set with
// weekend-observation rules, and trading-day walking used by the market-data
// freshness policy.
package marketcal

import (
	"sync"
	"time"
)

// Calendar answers trading-day questions for a market with a fixed UTC close
// time. The holiday set defaults to the US equity market holidays; a custom
// ISO-date list can replace it.
type Calendar struct {
	closeHour int
	closeMin  int

	custom map[string]bool // ISO date -> holiday, replaces built-ins when non-nil

	mu    sync.Mutex
	years map[int]map[string]bool // built-in holiday cache per year
}

// New creates a Calendar with the given UTC close time and optional custom
// holiday dates ("2006-01-02"). An empty list selects the built-in US set.
func New(closeHour, closeMin int, customHolidays []string) *Calendar {
	c := &Calendar{
		closeHour: closeHour,
		closeMin:  closeMin,
		years:     make(map[int]map[string]bool),
	}
	if len(customHolidays) > 0 {
		c.custom = make(map[string]bool, len(customHolidays))
		for _, d := range customHolidays {
			c.custom[d] = true
		}
	}
	return c
}

// NewDefault creates a Calendar with the standard 21:00 UTC close and the
// built-in US holiday set.
func NewDefault() *Calendar {
	return New(21, 0, nil)
}

// DateOf truncates t to its UTC calendar date (midnight UTC).
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsTradingDay reports whether the date of t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	d := DateOf(t)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(d)
}

// IsHoliday reports whether the date of t is a market holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	d := DateOf(t)
	key := d.Format("2006-01-02")
	if c.custom != nil {
		return c.custom[key]
	}
	return c.holidaysFor(d.Year())[key]
}

// CloseOn returns the market close instant on the date of t.
func (c *Calendar) CloseOn(t time.Time) time.Time {
	d := DateOf(t)
	return time.Date(d.Year(), d.Month(), d.Day(), c.closeHour, c.closeMin, 0, 0, time.UTC)
}

// IsMarketOpen reports whether now falls on a trading day before the close.
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	return c.IsTradingDay(now) && now.UTC().Before(c.CloseOn(now))
}

// PreviousTradingDay returns the last trading day strictly before the date
// of t.
func (c *Calendar) PreviousTradingDay(t time.Time) time.Time {
	d := DateOf(t).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the first trading day strictly after the date of t.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := DateOf(t).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// LastExpectedTradingDay walks backwards from now to the most recent trading
// day whose close has passed. Before the close on a trading day the previous
// trading day is returned, which keeps weekend/pre-close cache lookups from
// expecting data the provider cannot have yet.
func (c *Calendar) LastExpectedTradingDay(now time.Time) time.Time {
	now = now.UTC()
	d := DateOf(now)
	if !c.IsTradingDay(d) || now.Before(c.CloseOn(d)) {
		return c.PreviousTradingDay(d)
	}
	return d
}

// ExpectedTradingDays lists the trading days in [start, end], bounded above
// by the last expected trading day for now.
func (c *Calendar) ExpectedTradingDays(start, end, now time.Time) []time.Time {
	last := c.LastExpectedTradingDay(now)
	e := DateOf(end)
	if e.After(last) {
		e = last
	}

	var days []time.Time
	for d := DateOf(start); !d.After(e); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// TradingDaysBetween counts trading days in (after, until]. It returns 0 when
// until is not after after.
func (c *Calendar) TradingDaysBetween(after, until time.Time) int {
	a := DateOf(after)
	u := DateOf(until)
	count := 0
	for d := a.AddDate(0, 0, 1); !d.After(u); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			count++
		}
	}
	return count
}

// holidaysFor returns the built-in US market holiday set for a year,
// including observations of the adjacent years' New Year's Day that land in
// this year.
func (c *Calendar) holidaysFor(year int) map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hs, ok := c.years[year]; ok {
		return hs
	}

	hs := make(map[string]bool, 12)
	add := func(t time.Time) {
		if t.Year() == year {
			hs[t.Format("2006-01-02")] = true
		}
	}

	for _, y := range []int{year, year + 1} {
		add(observed(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC))) // New Year's Day
	}
	add(nthWeekday(year, time.January, time.Monday, 3))   // MLK Day
	add(nthWeekday(year, time.February, time.Monday, 3))  // Presidents' Day
	add(goodFriday(year))                                 // Good Friday
	add(lastWeekday(year, time.May, time.Monday))         // Memorial Day
	add(observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC)))  // Juneteenth
	add(observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)))   // Independence Day
	add(nthWeekday(year, time.September, time.Monday, 1)) // Labor Day
	add(nthWeekday(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC))) // Christmas

	c.years[year] = hs
	return hs
}

// observed shifts Saturday holidays to the prior Friday and Sunday holidays
// to the following Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, day time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, day time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday computes Good Friday from Easter Sunday (anonymous Gregorian
// algorithm).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	cc := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := cc / 4
	k := cc % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
