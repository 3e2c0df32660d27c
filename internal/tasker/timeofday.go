package tasker

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time without a date.
// The zero value is midnight.
type TimeOfDay struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

// NewTimeOfDay returns the time of day for h:m:s, or false if any field is out
// of range.
func NewTimeOfDay(h, m, s int) (TimeOfDay, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return TimeOfDay{}, false
	}
	return TimeOfDay{Hour: uint8(h), Minute: uint8(m), Second: uint8(s)}, true
}

// MustTimeOfDay is NewTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(h, m, s int) TimeOfDay {
	t, ok := NewTimeOfDay(h, m, s)
	if !ok {
		panic(fmt.Sprintf("tasker: invalid time of day %02d:%02d:%02d", h, m, s))
	}
	return t
}

// TimeOfDayOf returns the time of day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second())}
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return int(t.Hour)*3600 + int(t.Minute)*60 + int(t.Second)
}

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.Seconds() < o.Seconds() }

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// FireKey identifies a firing instant: a civil date (days since 1970-01-01)
// and a second of that day. Keys are totally ordered.
type FireKey struct {
	Day    int64
	Second int32
}

// KeyOf returns the FireKey of time of day tod on the civil date of t.
func KeyOf(t time.Time, tod TimeOfDay) FireKey {
	return FireKey{Day: civilDay(t), Second: int32(tod.Seconds())}
}

// Less reports whether k is an earlier instant than o.
func (k FireKey) Less(o FireKey) bool {
	if k.Day != o.Day {
		return k.Day < o.Day
	}
	return k.Second < o.Second
}

// Date returns the civil date of k as midnight UTC.
func (k FireKey) Date() time.Time {
	return time.Unix(k.Day*secondsPerDay, 0).UTC()
}

// TimeOfDay returns the time-of-day part of k.
func (k FireKey) TimeOfDay() TimeOfDay {
	s := int(k.Second)
	return TimeOfDay{Hour: uint8(s / 3600), Minute: uint8(s / 60 % 60), Second: uint8(s % 60)}
}

func (k FireKey) String() string {
	return k.Date().Format("2006-01-02") + " " + k.TimeOfDay().String()
}

// civilDay counts days since 1970-01-01 for the calendar date of t in t's
// location. DST offsets don't leak into the count.
func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}
