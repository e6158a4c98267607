// Package session classifies wall-clock time against the exchange's trading
// calendar. All evaluation happens in the exchange time zone regardless of
// the zone of the time passed in.
package session

import (
	"fmt"
	"time"
	_ "time/tzdata" // exchange zone must resolve on hosts without zoneinfo
)

// DefaultTimezone is the exchange time zone.
const DefaultTimezone = "Asia/Shanghai"

// Session labels.
const (
	LabelClosed      = "closed"
	LabelBeforeOpen  = "before_open"
	LabelCallAuction = "pre_open_auction"
	LabelPreOpen     = "pre_open"
	LabelMorning     = "morning_session"
	LabelMiddayBreak = "midday_break"
	LabelAfternoon   = "afternoon_session"
	LabelAfterClose  = "after_close"
)

const (
	holidayLayout        = "2006-01-02"
	maxCalendarLookahead = 366
)

// Session is the classification of one instant.
type Session struct {
	Label    string `json:"label"`
	CanTrade bool   `json:"can_trade"`
}

// window is a half-open [start, end) interval in minutes after midnight.
type window struct {
	start, end int
	session    Session
}

// calendar is evaluated top to bottom; the first match wins.
var calendar = []window{
	{0, 9*60 + 15, Session{LabelBeforeOpen, false}},
	{9*60 + 15, 9*60 + 25, Session{LabelCallAuction, false}},
	{9*60 + 25, 9*60 + 30, Session{LabelPreOpen, false}},
	{9*60 + 30, 11*60 + 30, Session{LabelMorning, true}},
	{11*60 + 30, 13 * 60, Session{LabelMiddayBreak, false}},
	{13 * 60, 15 * 60, Session{LabelAfternoon, true}},
	{15 * 60, 24 * 60, Session{LabelAfterClose, false}},
}

// Clock classifies instants against the trading calendar. A Clock is
// immutable and safe for concurrent use.
type Clock struct {
	loc      *time.Location
	holidays map[string]bool
}

// New creates a Clock for the named time zone with the given exchange
// holidays (YYYY-MM-DD).
func New(timezone string, holidays []string) (*Clock, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("session: load location %q: %w", timezone, err)
	}
	hs := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		d, err := time.ParseInLocation(holidayLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("session: parse holiday %q: %w", h, err)
		}
		hs[d.Format(holidayLayout)] = true
	}
	return &Clock{loc: loc, holidays: hs}, nil
}

// MustNew is New for static configuration; it panics on error.
func MustNew(timezone string, holidays []string) *Clock {
	c, err := New(timezone, holidays)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the exchange time zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Classify returns the session label for now and whether orders may be
// executed.
func (c *Clock) Classify(now time.Time) Session {
	local := now.In(c.loc)
	if !c.IsTradingDay(local) {
		return Session{Label: LabelClosed}
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range calendar {
		if minute >= w.start && minute < w.end {
			return w.session
		}
	}
	return Session{Label: LabelClosed}
}

// CanTrade is shorthand for Classify(now).CanTrade.
func (c *Clock) CanTrade(now time.Time) bool {
	return c.Classify(now).CanTrade
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[local.Format(holidayLayout)]
}

// TradingDay returns midnight of t's calendar date in the exchange zone.
func (c *Clock) TradingDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// NextTradingDay returns midnight of the first trading day strictly after
// t's calendar date. Lots bought at t become sellable on that date.
func (c *Clock) NextTradingDay(t time.Time) time.Time {
	d := c.TradingDay(t)
	for i := 0; i < maxCalendarLookahead; i++ {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return d
		}
	}
	return d
}

// Matured reports whether a lot dated sellableOn may be sold at now.
func (c *Clock) Matured(sellableOn, now time.Time) bool {
	return !c.TradingDay(now).Before(c.TradingDay(sellableOn))
}
