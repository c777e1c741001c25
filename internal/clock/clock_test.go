package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClock(t *testing.T) *Clock {
	t.Helper()
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestSessionQuestions(t *testing.T) {
	c := newClock(t)
	loc := c.Location()

	cases := []struct {
		desc    string
		at      time.Time
		open    bool
		flatten bool
	}{
		{desc: "pre-market", at: time.Date(2024, 3, 4, 9, 0, 0, 0, loc)},
		{desc: "at open", at: time.Date(2024, 3, 4, 9, 30, 0, 0, loc), open: true},
		{desc: "midday", at: time.Date(2024, 3, 4, 12, 0, 0, 0, loc), open: true},
		{desc: "flatten cutoff", at: time.Date(2024, 3, 4, 15, 55, 0, 0, loc), open: true, flatten: true},
		{desc: "after close", at: time.Date(2024, 3, 4, 16, 0, 0, 0, loc), flatten: true},
		{desc: "saturday", at: time.Date(2024, 3, 9, 12, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.open, c.IsOpen(tc.at))
			assert.Equal(t, tc.flatten, c.ShouldFlatten(tc.at))
		})
	}
}

func TestSessionDateUsesExchangeZone(t *testing.T) {
	c := newClock(t)
	// 02:00 UTC on the 5th is still the evening of the 4th in Toronto.
	at := time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-04", c.SessionDate(at))

	fixed := c.WithNow(func() time.Time { return at })
	assert.Equal(t, "2024-03-04", fixed.SessionDate(fixed.Now()))
	assert.Equal(t, 21, fixed.Now().Hour())
}

func TestSessionInstants(t *testing.T) {
	c := newClock(t)
	at := time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, c.Location()), c.SessionOpen(at))
	assert.Equal(t, time.Date(2024, 3, 4, 15, 55, 0, 0, c.Location()), c.FlattenAt(at))
	assert.Equal(t, "55 15 * * 1-5", c.FlattenSpec())
}

func TestNewValidates(t *testing.T) {
	cases := []struct {
		desc string
		mut  func(*Config)
	}{
		{desc: "zone", mut: func(c *Config) { c.Timezone = "Mars/Base" }},
		{desc: "format", mut: func(c *Config) { c.Open = "9h30" }},
		{desc: "order", mut: func(c *Config) { c.Flatten = "16:30" }},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
