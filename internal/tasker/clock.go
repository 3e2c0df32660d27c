package tasker

import (
	"sync"
	"time"
)

// Jump classifies the clock movement since the previous valid poll.
type Jump int

const (
	JumpNone Jump = iota
	JumpBackward
	JumpForward
	// JumpFirst marks the first valid snapshot after boot or after the clock
	// was invalid; there is no previous time to compare against.
	JumpFirst
)

func (j Jump) String() string {
	switch j {
	case JumpNone:
		return "none"
	case JumpBackward:
		return "backward"
	case JumpForward:
		return "forward"
	case JumpFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ClockSnapshot is one clock reading. It is only meaningful for the tick that
// produced it.
type ClockSnapshot struct {
	Epoch int64     // unix seconds
	Local time.Time // Epoch in the watcher's location, truncated to the second
	Valid bool

	Jump Jump
	// Elapsed is the wall time since the previous valid poll (0 for JumpFirst).
	Elapsed time.Duration
}

// ClockWatcher wraps a Clock and classifies movement between polls.
type ClockWatcher struct {
	src       Clock
	loc       *time.Location
	interval  time.Duration
	tolerance time.Duration

	mu      sync.Mutex
	last    time.Time
	hasLast bool
	synced  bool
	jumps   uint64
}

// NewClockWatcher returns a watcher for src. interval is the expected poll
// period; a nil loc means time.Local.
func NewClockWatcher(src Clock, loc *time.Location, interval time.Duration) *ClockWatcher {
	if loc == nil {
		loc = time.Local
	}
	if interval < time.Second {
		interval = time.Second
	}
	tol := interval
	if tol < 2*time.Second {
		tol = 2 * time.Second
	}
	return &ClockWatcher{src: src, loc: loc, interval: interval, tolerance: tol}
}

func (w *ClockWatcher) Interval() time.Duration  { return w.interval }
func (w *ClockWatcher) Location() *time.Location { return w.loc }

// Synced reports whether the source has produced a valid time since start.
func (w *ClockWatcher) Synced() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.synced
}

// Jumps returns the number of backward or forward jumps observed.
func (w *ClockWatcher) Jumps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jumps
}

// Poll reads the clock once.
func (w *ClockWatcher) Poll() ClockSnapshot {
	now, ok := w.src.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !ok || now.IsZero() {
		// Forget the reference point so the next valid reading isn't
		// compared against a time from before the outage.
		w.hasLast = false
		return ClockSnapshot{}
	}

	now = now.In(w.loc).Truncate(time.Second)
	snap := ClockSnapshot{Epoch: now.Unix(), Local: now, Valid: true, Jump: JumpFirst}
	if w.hasLast {
		snap.Elapsed = now.Sub(w.last)
		switch {
		case snap.Elapsed < -w.tolerance:
			snap.Jump = JumpBackward
		case snap.Elapsed > w.interval+w.tolerance:
			snap.Jump = JumpForward
		default:
			snap.Jump = JumpNone
		}
		if snap.Jump != JumpNone {
			w.jumps++
		}
	}
	w.last = now
	w.hasLast = true
	w.synced = true
	return snap
}
