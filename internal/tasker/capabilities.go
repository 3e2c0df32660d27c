package tasker

import (
	"context"
	"time"
)

// Clock is the real-time clock source. ok is false until the clock has a
// trustworthy time (e.g. before NTP or RTC sync).
type Clock interface {
	Now() (now time.Time, ok bool)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() (time.Time, bool)

func (f ClockFunc) Now() (time.Time, bool) { return f() }

// TextSource is an editable text field. Its value is read on every tick.
type TextSource interface {
	State() string
}

// BoolOutput is a boolean output such as a switch.
type BoolOutput interface {
	State() bool
	Set(on bool)
}

// BoolObserver is implemented by outputs that report external toggles.
type BoolObserver interface {
	OnChange(fn func(on bool))
}

// Action is run when a schedule fires. It gets no payload and must not block.
type Action func(ctx context.Context) error

// StaticText is a TextSource with a fixed value.
type StaticText string

func (s StaticText) State() string { return string(s) }
