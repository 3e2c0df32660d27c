package device

import "time"

// DefaultMinYear is the first year the system clock is trusted for. Boards
// without a battery-backed RTC boot at 1970 until NTP syncs.
const DefaultMinYear = 2019

// SystemClock reads the host clock and reports it invalid until it has been
// set to a plausible date.
type SystemClock struct {
	minYear int
	now     func() time.Time
}

func NewSystemClock(minYear int) *SystemClock {
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	return &SystemClock{minYear: minYear, now: time.Now}
}

func (c *SystemClock) Now() (time.Time, bool) {
	t := c.now()
	return t, t.Year() >= c.minYear
}
