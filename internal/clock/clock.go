package clock

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Config describes the exchange session in its own timezone.
type Config struct {
	Timezone string `yaml:"timezone" json:"timezone"`
	Open     string `yaml:"open" json:"open"`
	Close    string `yaml:"close" json:"close"`
	Flatten  string `yaml:"flatten" json:"flatten"`
}

// DefaultConfig is the Toronto cash session with a 15:55 flatten.
func DefaultConfig() Config {
	return Config{
		Timezone: "America/Toronto",
		Open:     "09:30",
		Close:    "16:00",
		Flatten:  "15:55",
	}
}

// Clock answers session questions for an instant. Now is injectable.
type Clock struct {
	loc     *time.Location
	open    time.Duration
	close   time.Duration
	flatten time.Duration
	now     func() time.Time
}

// New validates the config and builds a clock.
func New(cfg Config) (*Clock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	open, err := parseHHMM(cfg.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := parseHHMM(cfg.Close)
	if err != nil {
		return nil, err
	}
	flatten, err := parseHHMM(cfg.Flatten)
	if err != nil {
		return nil, err
	}
	if open >= closeAt || flatten <= open || flatten > closeAt {
		return nil, fmt.Errorf("session times out of order: open=%s flatten=%s close=%s", cfg.Open, cfg.Flatten, cfg.Close)
	}
	return &Clock{loc: loc, open: open, close: closeAt, flatten: flatten, now: time.Now}, nil
}

// WithNow returns a copy of the clock reading time from now.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	cp := *c
	cp.now = now
	return &cp
}

// Now returns the current instant in the exchange timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the exchange timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// SessionDate returns the exchange-local trading date of t.
func (c *Clock) SessionDate(t time.Time) string {
	return t.In(c.loc).Format(dateLayout)
}

// IsTradingDay reports whether t falls on a weekday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// IsOpen reports whether t is within market hours.
func (c *Clock) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	off := sinceMidnight(t.In(c.loc))
	return off >= c.open && off < c.close
}

// ShouldFlatten reports whether the flatten cutoff has passed on a trading day.
func (c *Clock) ShouldFlatten(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return sinceMidnight(t.In(c.loc)) >= c.flatten
}

// SessionOpen returns the open instant of t's session.
func (c *Clock) SessionOpen(t time.Time) time.Time {
	return midnight(t.In(c.loc)).Add(c.open)
}

// FlattenAt returns the flatten instant of t's session.
func (c *Clock) FlattenAt(t time.Time) time.Time {
	return midnight(t.In(c.loc)).Add(c.flatten)
}

// FlattenSpec returns a cron spec firing at the flatten time on weekdays.
func (c *Clock) FlattenSpec() string {
	h := int(c.flatten / time.Hour)
	m := int((c.flatten % time.Hour) / time.Minute)
	return fmt.Sprintf("%d %d * * 1-5", m, h)
}

func parseHHMM(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}
