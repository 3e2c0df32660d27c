package tasker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tasker/internal/eventbus"
	logx "tasker/pkg/logx"
)

// Event types published on the bus.
const (
	EventFired        = "schedule.fired"
	EventClockInvalid = "clock.invalid"
	EventClockJump    = "clock.jump"
	EventParseError   = "schedule.parse_error"
)

// Firing is one executed firing.
type Firing struct {
	Schedule string
	Key      FireKey
	Time     TimeOfDay
	At       time.Time
	Took     time.Duration
	Err      error
}

// FiredEvent is the payload of EventFired.
type FiredEvent struct {
	Schedule string    `json:"schedule"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	At       time.Time `json:"at"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}

// JumpEvent is the payload of EventClockJump.
type JumpEvent struct {
	Kind    string        `json:"kind"`
	Elapsed time.Duration `json:"elapsed"`
	Now     time.Time     `json:"now"`
}

// TickReport summarizes one evaluation pass.
type TickReport struct {
	Clock    ClockSnapshot
	Firings  []Firing
	Disabled int
}

// Scheduler evaluates schedules against one clock snapshot at a time.
type Scheduler struct {
	log      logx.Logger
	bus      eventbus.Bus
	interval time.Duration

	// Repeated diagnostics are throttled; an unsynced clock would otherwise
	// log once per tick.
	invalidWarn *rate.Limiter
	parseWarn   *rate.Limiter

	invalidTicks atomic.Uint64
	firings      atomic.Uint64
	failures     atomic.Uint64
}

// NewScheduler returns a scheduler for the given poll interval.
func NewScheduler(interval time.Duration, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if interval < time.Second {
		interval = time.Second
	}
	return &Scheduler{
		log:         log,
		bus:         bus,
		interval:    interval,
		invalidWarn: rate.NewLimiter(rate.Every(time.Minute), 1),
		parseWarn:   rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// window is how far back from snap the current pass reaches. Ordinary ticks
// cover everything since the previous poll so jitter can't drop an instant;
// after a jump or on the first valid reading only one poll interval counts,
// which is what keeps skipped instants from being backfired.
func (s *Scheduler) window(snap ClockSnapshot) time.Duration {
	if snap.Jump == JumpNone && snap.Elapsed > s.interval {
		return snap.Elapsed
	}
	return s.interval
}

// Evaluate runs one pass over schedules in order. It never panics and never
// returns an error; action failures are logged and reported in the result.
func (s *Scheduler) Evaluate(ctx context.Context, snap ClockSnapshot, schedules []*ScheduleState) TickReport {
	rep := TickReport{Clock: snap}

	if !snap.Valid {
		n := s.invalidTicks.Add(1)
		if s.invalidWarn.Allow() {
			s.log.Warn("clock not valid; schedules suspended", logx.Uint64("invalid_ticks", n))
			s.publish(eventbus.Event{Type: EventClockInvalid, Data: n})
		}
		return rep
	}

	if snap.Jump == JumpBackward || snap.Jump == JumpForward {
		s.log.Warn("clock jump detected",
			logx.String("kind", snap.Jump.String()),
			logx.Duration("elapsed", snap.Elapsed),
			logx.Time("now", snap.Local),
		)
		s.publish(eventbus.Event{Type: EventClockJump, Data: JumpEvent{Kind: snap.Jump.String(), Elapsed: snap.Elapsed, Now: snap.Local}})
	}

	win := s.window(snap)
	for _, st := range schedules {
		if !st.readEnabled() {
			rep.Disabled++
			continue
		}
		if errs := st.refresh(); len(errs) > 0 {
			s.reportParseErrors(st.id, errs)
		}
		for _, key := range st.due(snap.Local, win) {
			f := s.fire(ctx, st, key, snap.Local)
			rep.Firings = append(rep.Firings, f)
		}
	}
	return rep
}

func (s *Scheduler) fire(ctx context.Context, st *ScheduleState, key FireKey, now time.Time) Firing {
	f := Firing{
		Schedule: st.id,
		Key:      key,
		Time:     key.TimeOfDay(),
		At:       now,
	}
	start := time.Now()
	f.Err = runAction(ctx, st.action)
	f.Took = time.Since(start)

	st.noteResult(f.Err)
	s.firings.Add(1)
	if f.Err != nil {
		s.failures.Add(1)
		s.log.Warn("schedule action failed", logx.String("schedule", st.id), logx.String("at", f.Time.String()), logx.Err(f.Err))
	} else {
		s.log.Info("schedule fired", logx.String("schedule", st.id), logx.String("at", f.Time.String()))
	}

	ev := FiredEvent{
		Schedule: f.Schedule,
		Date:     key.Date().Format("2006-01-02"),
		Time:     f.Time.String(),
		At:       now,
		TookMS:   f.Took.Milliseconds(),
	}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	s.publish(eventbus.Event{Type: EventFired, Time: now, Data: ev})
	return f
}

func runAction(ctx context.Context, a Action) (err error) {
	if a == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return a(ctx)
}

func (s *Scheduler) reportParseErrors(id string, errs []*ParseError) {
	if !s.parseWarn.Allow() {
		return
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	s.log.Warn("schedule text has invalid entries", logx.String("schedule", id), logx.Strs("skipped", msgs))
	s.publish(eventbus.Event{Type: EventParseError, Data: map[string]any{"schedule": id, "skipped": msgs}})
}

func (s *Scheduler) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// SchedulerStats are cumulative counters.
type SchedulerStats struct {
	InvalidTicks uint64
	Firings      uint64
	Failures     uint64
}

func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		InvalidTicks: s.invalidTicks.Load(),
		Firings:      s.firings.Load(),
		Failures:     s.failures.Load(),
	}
}
