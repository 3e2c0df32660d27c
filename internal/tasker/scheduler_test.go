package tasker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tasker/internal/eventbus"
)

type mutableText struct {
	mu sync.Mutex
	s  string
}

func (m *mutableText) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *mutableText) Set(s string) {
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
}

// observedSwitch reports toggles like a host switch component.
type observedSwitch struct {
	mu  sync.Mutex
	on  bool
	fns []func(bool)
}

func (s *observedSwitch) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *observedSwitch) Set(on bool) {
	s.mu.Lock()
	s.on = on
	fns := append([]func(bool){}, s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(on)
	}
}

func (s *observedSwitch) OnChange(fn func(bool)) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// plainSwitch can only be polled.
type plainSwitch struct{ on bool }

func (s *plainSwitch) State() bool { return s.on }
func (s *plainSwitch) Set(on bool) { s.on = on }

type counter struct {
	mu  sync.Mutex
	ids []string
}

func (c *counter) action(id string) Action {
	return func(ctx context.Context) error {
		c.mu.Lock()
		c.ids = append(c.ids, id)
		c.mu.Unlock()
		return nil
	}
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func build(t *testing.T, c Clock, interval time.Duration, cfgs ...ScheduleConfig) *Tasker {
	t.Helper()
	b := NewBuilder(c, WithLocation(time.UTC), WithPollInterval(interval))
	for _, cfg := range cfgs {
		b.Add(cfg)
	}
	tk, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tk
}

func tickAt(tk *Tasker, c *fakeClock, ts ...time.Time) int {
	n := 0
	for _, ts := range ts {
		c.Set(ts)
		n += len(tk.Tick(context.Background()).Firings)
	}
	return n
}

func TestFiresOncePerInstant(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 6, 59, 58))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "water", Times: StaticText("07:00"), OnTime: cnt.action("water")})

	for i := 0; i < 8; i++ {
		tk.Tick(context.Background())
		// Poll the same second twice.
		tk.Tick(context.Background())
		c.Add(time.Second)
	}
	if cnt.count() != 1 {
		t.Fatalf("fired %d times, want 1", cnt.count())
	}
	st, _ := tk.Schedule("water")
	key, ok := st.LastFired()
	if !ok || key != KeyOf(at(1, 7, 0, 0), MustTimeOfDay(7, 0, 0)) {
		t.Fatalf("last fired = %v (%v)", key, ok)
	}
}

func TestExampleWeekdaySchedule(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(2, 6, 59, 59)) // Tuesday
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{
		ID:     "lights",
		Days:   StaticText("Mon,Wed"),
		Times:  StaticText("07:00,07:00,19:30"),
		OnTime: cnt.action("lights"),
	})

	st, _ := tk.Schedule("lights")
	if got := FormatTimes(st.Times()); got != "07:00,19:30" {
		t.Fatalf("times = %s", got)
	}
	if st.Days() != Monday|Wednesday {
		t.Fatalf("days = %s", st.Days())
	}

	if n := tickAt(tk, c, at(2, 7, 0, 0), at(2, 19, 30, 0)); n != 0 {
		t.Fatalf("fired %d times on Tuesday", n)
	}
	if n := tickAt(tk, c, at(8, 6, 59, 59), at(8, 7, 0, 0), at(8, 7, 0, 1)); n != 1 {
		t.Fatalf("fired %d times on Monday morning, want 1", n)
	}
	if n := tickAt(tk, c, at(10, 19, 29, 59), at(10, 19, 30, 0)); n != 1 {
		t.Fatalf("fired %d times on Wednesday evening, want 1", n)
	}
}

func TestEmptyDaysFiresEveryDay(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 12, 0, 0))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "noon", Days: StaticText(""), Times: StaticText("12:00"), OnTime: cnt.action("noon")})

	for d := 1; d <= 7; d++ {
		tickAt(tk, c, at(d, 11, 59, 59), at(d, 12, 0, 0))
	}
	if cnt.count() != 7 {
		t.Fatalf("fired %d times in a week, want 7", cnt.count())
	}
}

func TestBackwardJumpDoesNotRefire(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00 07:30"), OnTime: cnt.action("s")})

	if n := tickAt(tk, c, at(1, 7, 0, 0), at(1, 7, 30, 0)); n != 2 {
		t.Fatalf("initial firings = %d, want 2", n)
	}
	// NTP moves the clock back over both instants.
	if n := tickAt(tk, c, at(1, 6, 59, 59), at(1, 7, 0, 0), at(1, 7, 0, 1), at(1, 7, 30, 0)); n != 0 {
		t.Fatalf("refired %d times after backward jump", n)
	}
}

func TestBackwardJumpFiresSkippedInstant(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 6, 0, 0))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})

	// Jump over 07:00, then get corrected back before it.
	if n := tickAt(tk, c, at(1, 6, 0, 0), at(1, 7, 10, 0), at(1, 6, 59, 59)); n != 0 {
		t.Fatalf("fired %d times before the instant", n)
	}
	if n := tickAt(tk, c, at(1, 7, 0, 0)); n != 1 {
		t.Fatalf("never-fired instant fired %d times, want 1", n)
	}
}

func TestBackwardJumpKeepsEarlierUnfiredInstant(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 8, 29, 59))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:30,08:30"), OnTime: cnt.action("s")})

	// The clock runs an hour fast: 08:30 fires while it is really 07:30.
	if n := tickAt(tk, c, at(1, 8, 29, 59), at(1, 8, 30, 0)); n != 1 {
		t.Fatalf("fast clock fired %d times, want 1", n)
	}
	// NTP corrects it; the real 07:30 never fired and must still fire once.
	if n := tickAt(tk, c, at(1, 7, 0, 0), at(1, 7, 29, 59), at(1, 7, 30, 0), at(1, 7, 30, 1)); n != 1 {
		t.Fatalf("07:30 after correction fired %d times, want 1", n)
	}
	// 08:30 already fired today.
	if n := tickAt(tk, c, at(1, 8, 29, 59), at(1, 8, 30, 0)); n != 0 {
		t.Fatalf("08:30 refired %d times", n)
	}
	if cnt.count() != 2 {
		t.Fatalf("total firings = %d, want 2", cnt.count())
	}
}

func TestForwardJumpDoesNotBackfire(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 6, 59, 58))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})

	if n := tickAt(tk, c, at(1, 6, 59, 58), at(1, 7, 5, 0), at(1, 7, 5, 1)); n != 0 {
		t.Fatalf("backfired %d times", n)
	}
	if n := tickAt(tk, c, at(2, 6, 59, 59), at(2, 7, 0, 0)); n != 1 {
		t.Fatalf("next day fired %d times, want 1", n)
	}
}

func TestLateTickDoesNotDropInstant(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 6, 59, 59))
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})

	// The 07:00:00 tick never happens; the next one is 2s after the last.
	if n := tickAt(tk, c, at(1, 6, 59, 59), at(1, 7, 0, 1), at(1, 7, 0, 2)); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestLateTickAcrossMidnight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		days  string
		fires int
	}{
		{name: "every day", days: "", fires: 1},
		{name: "previous date matches", days: "Mon", fires: 1},
		{name: "only new date matches", days: "Tue", fires: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newFakeClock(at(1, 23, 59, 58))
			bus := eventbus.New()
			events, unsubscribe := bus.Subscribe(8)
			defer unsubscribe()
			b := NewBuilder(c, WithLocation(time.UTC), WithPollInterval(time.Second), WithBus(bus))
			b.Add(ScheduleConfig{ID: "s", Days: StaticText(tt.days), Times: StaticText("23:59:59")})
			tk, err := b.Build()
			if err != nil {
				t.Fatal(err)
			}

			// Monday 23:59:58 then Tuesday 00:00:01: a 3s gap, not a jump.
			tk.Tick(context.Background())
			c.Set(at(2, 0, 0, 1))
			rep := tk.Tick(context.Background())
			if rep.Clock.Jump != JumpNone {
				t.Fatalf("jump = %v, want none", rep.Clock.Jump)
			}
			if len(rep.Firings) != tt.fires {
				t.Fatalf("firings = %d, want %d", len(rep.Firings), tt.fires)
			}
			if tt.fires == 0 {
				return
			}
			if want := KeyOf(at(1, 0, 0, 0), MustTimeOfDay(23, 59, 59)); rep.Firings[0].Key != want {
				t.Fatalf("key = %v, want %v", rep.Firings[0].Key, want)
			}
			for e := range events {
				if ev, ok := e.Data.(FiredEvent); ok {
					if ev.Date != "2024-01-01" || ev.Time != "23:59:59" {
						t.Fatalf("fired event = %+v", ev)
					}
					break
				}
			}
			// The next tick must not fire it again.
			c.Set(at(2, 0, 0, 2))
			if n := len(tk.Tick(context.Background()).Firings); n != 0 {
				t.Fatalf("refired %d times", n)
			}
		})
	}
}

func TestWindowBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		interval time.Duration
		now      time.Time
		fires    bool
	}{
		{name: "1s before", interval: time.Second, now: at(1, 6, 59, 59), fires: false},
		{name: "1s exact", interval: time.Second, now: at(1, 7, 0, 0), fires: true},
		{name: "1s after", interval: time.Second, now: at(1, 7, 0, 1), fires: false},
		{name: "60s before", interval: time.Minute, now: at(1, 6, 59, 59), fires: false},
		{name: "60s start", interval: time.Minute, now: at(1, 7, 0, 0), fires: true},
		{name: "60s last second", interval: time.Minute, now: at(1, 7, 0, 59), fires: true},
		{name: "60s end", interval: time.Minute, now: at(1, 7, 1, 0), fires: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newFakeClock(tt.now)
			var cnt counter
			tk := build(t, c, tt.interval, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})
			n := len(tk.Tick(context.Background()).Firings)
			if (n == 1) != tt.fires || n > 1 {
				t.Fatalf("firings = %d, want fires=%v", n, tt.fires)
			}
		})
	}
}

func TestMultipleTimesInOneWindowFireInOrder(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 45))
	tk := build(t, c, time.Minute, ScheduleConfig{ID: "s", Times: StaticText("07:00:30, 07:00")})

	rep := tk.Tick(context.Background())
	if len(rep.Firings) != 2 {
		t.Fatalf("firings = %d, want 2", len(rep.Firings))
	}
	if rep.Firings[0].Time != MustTimeOfDay(7, 0, 0) || rep.Firings[1].Time != MustTimeOfDay(7, 0, 30) {
		t.Fatalf("order = %s, %s", rep.Firings[0].Time, rep.Firings[1].Time)
	}
}

func TestDisableReenableNoSpuriousFire(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 10))
	sw := &observedSwitch{on: true}
	var cnt counter
	tk := build(t, c, time.Minute, ScheduleConfig{ID: "s", Enable: sw, Times: StaticText("07:00"), OnTime: cnt.action("s")})

	if n := tickAt(tk, c, at(1, 7, 0, 10)); n != 1 {
		t.Fatalf("first fire = %d", n)
	}
	sw.Set(false)
	rep := tk.Tick(context.Background())
	if rep.Disabled != 1 || len(rep.Firings) != 0 {
		t.Fatalf("disabled tick = %+v", rep)
	}
	sw.Set(true)
	if n := tickAt(tk, c, at(1, 7, 0, 30), at(1, 7, 0, 50)); n != 0 {
		t.Fatalf("spurious refire: %d", n)
	}
	if cnt.count() != 1 {
		t.Fatalf("fired %d times, want 1", cnt.count())
	}
}

func TestDisabledScheduleSkipsWithoutMutation(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	sw := &plainSwitch{on: false}
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Enable: sw, Times: StaticText("07:00"), OnTime: cnt.action("s")})

	tickAt(tk, c, at(1, 7, 0, 0))
	st, _ := tk.Schedule("s")
	if _, ok := st.LastFired(); ok || cnt.count() != 0 {
		t.Fatal("disabled schedule must not fire or record a firing")
	}
	if st.Enabled() {
		t.Fatal("polled switch state not reflected")
	}

	// Polled outputs are picked up on the next pass.
	sw.on = true
	if n := tickAt(tk, c, at(2, 7, 0, 0)); n != 1 {
		t.Fatalf("re-enabled schedule fired %d times", n)
	}
}

func TestInvalidClockSuppressesFiring(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	c.Invalidate()
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})

	for i := 0; i < 3; i++ {
		rep := tk.Tick(context.Background())
		if rep.Clock.Valid || len(rep.Firings) != 0 {
			t.Fatalf("tick on invalid clock = %+v", rep)
		}
	}
	st, _ := tk.Schedule("s")
	if _, ok := st.LastFired(); ok {
		t.Fatal("invalid clock must not mutate schedule state")
	}
	if got := tk.Scheduler().Stats().InvalidTicks; got != 3 {
		t.Fatalf("invalid ticks = %d", got)
	}

	c.Set(at(1, 7, 0, 0))
	if n := len(tk.Tick(context.Background()).Firings); n != 1 {
		t.Fatalf("fired %d times once valid", n)
	}
}

func TestDeclarationOrder(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	var cnt counter
	tk := build(t, c, time.Second,
		ScheduleConfig{ID: "c", Times: StaticText("07:00"), OnTime: cnt.action("c")},
		ScheduleConfig{ID: "a", Times: StaticText("07:00"), OnTime: cnt.action("a")},
		ScheduleConfig{ID: "b", Times: StaticText("07:00"), OnTime: cnt.action("b")},
	)
	tk.Tick(context.Background())
	if got := cnt.ids; len(got) != 3 || got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("order = %v", got)
	}
}

func TestActionFailuresAreContained(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	var cnt counter
	boom := errors.New("boom")
	tk := build(t, c, time.Second,
		ScheduleConfig{ID: "err", Times: StaticText("07:00"), OnTime: func(context.Context) error { return boom }},
		ScheduleConfig{ID: "panic", Times: StaticText("07:00"), OnTime: func(context.Context) error { panic("bad") }},
		ScheduleConfig{ID: "ok", Times: StaticText("07:00"), OnTime: cnt.action("ok")},
	)

	rep := tk.Tick(context.Background())
	if len(rep.Firings) != 3 {
		t.Fatalf("firings = %d", len(rep.Firings))
	}
	if !errors.Is(rep.Firings[0].Err, boom) {
		t.Fatalf("first err = %v", rep.Firings[0].Err)
	}
	if rep.Firings[1].Err == nil {
		t.Fatal("panic should be reported as an error")
	}
	if rep.Firings[2].Err != nil || cnt.count() != 1 {
		t.Fatal("healthy schedule should still run")
	}
	if st := tk.Scheduler().Stats(); st.Failures != 2 || st.Firings != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTextChangesApplyAtRuntime(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	times := &mutableText{s: "07:00"}
	days := &mutableText{s: ""}
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Days: days, Times: times, OnTime: cnt.action("s")})

	times.Set("08:15")
	days.Set("tue")
	if n := tickAt(tk, c, at(1, 7, 0, 0), at(1, 8, 15, 0)); n != 0 {
		t.Fatalf("fired %d times on Monday after edit", n)
	}
	if n := tickAt(tk, c, at(2, 8, 15, 0)); n != 1 {
		t.Fatalf("fired %d times on Tuesday", n)
	}

	// Garbage disables the time dimension without failing.
	times.Set("soon")
	if n := tickAt(tk, c, at(9, 8, 15, 0)); n != 0 {
		t.Fatalf("fired %d times with unparseable times", n)
	}
}

func TestStaleFutureMarkerIsDiscarded(t *testing.T) {
	t.Parallel()
	future := time.Date(2030, time.January, 7, 7, 0, 0, 0, time.UTC)
	c := newFakeClock(future)
	var cnt counter
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Times: StaticText("07:00"), OnTime: cnt.action("s")})

	if n := tickAt(tk, c, future); n != 1 {
		t.Fatalf("fired %d times at bogus time", n)
	}
	if n := tickAt(tk, c, at(1, 6, 59, 59), at(1, 7, 0, 0)); n != 1 {
		t.Fatalf("fired %d times after correction, want 1", n)
	}
}

func TestFiredEventPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	c := newFakeClock(at(1, 7, 0, 0))
	tk, err := NewBuilder(c, WithLocation(time.UTC), WithBus(bus)).
		Add(ScheduleConfig{ID: "s", Times: StaticText("07:00")}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	tk.Tick(context.Background())

	select {
	case e := <-events:
		if e.Type != EventFired {
			t.Fatalf("event type = %s", e.Type)
		}
		ev, ok := e.Data.(FiredEvent)
		if !ok || ev.Schedule != "s" || ev.Date != "2024-01-01" || ev.Time != "07:00" {
			t.Fatalf("event data = %#v", e.Data)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestBuilderRejectsBadConfig(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 0, 0, 0))
	tests := []struct {
		name  string
		clock Clock
		cfgs  []ScheduleConfig
	}{
		{name: "nil clock", clock: nil},
		{name: "missing id", clock: c, cfgs: []ScheduleConfig{{Times: StaticText("07:00")}}},
		{name: "missing times", clock: c, cfgs: []ScheduleConfig{{ID: "a"}}},
		{name: "duplicate", clock: c, cfgs: []ScheduleConfig{{ID: "a", Times: StaticText("")}, {ID: "a", Times: StaticText("")}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBuilder(tt.clock)
			for _, cfg := range tt.cfgs {
				b.Add(cfg)
			}
			_, err := b.Build()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err %T is not a ConfigError", err)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	tk := build(t, c, time.Second, ScheduleConfig{ID: "s", Days: StaticText("mon"), Times: StaticText("07:00, bad")})
	tk.Tick(context.Background())
	tk.Dump()

	snap := tk.Snapshot()
	if !snap.Synced || snap.Ticks != 1 || len(snap.Schedules) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	it := snap.Schedules[0]
	if it.Days != "Mon" || len(it.Times) != 1 || it.LastFired != "2024-01-01 07:00" || it.Fired != 1 {
		t.Fatalf("schedule info = %+v", it)
	}
}
