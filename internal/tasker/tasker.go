package tasker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tasker/internal/eventbus"
	logx "tasker/pkg/logx"
)

// ScheduleConfig declares one schedule. Times is required; everything else is
// optional.
type ScheduleConfig struct {
	ID     string
	Enable BoolOutput
	Days   TextSource
	Times  TextSource
	OnTime Action
}

// Option configures a Builder.
type Option func(*options)

type options struct {
	log      logx.Logger
	bus      eventbus.Bus
	loc      *time.Location
	interval time.Duration
}

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithLocation sets the zone used to compute dates and times of day.
func WithLocation(loc *time.Location) Option { return func(o *options) { o.loc = loc } }

// WithPollInterval sets the expected tick period (default and minimum 1s).
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.interval = d } }

// Builder collects schedule declarations and wires them once, before the
// polling loop starts.
type Builder struct {
	clock Clock
	opts  options
	cfgs  []ScheduleConfig
}

func NewBuilder(clock Clock, opts ...Option) *Builder {
	b := &Builder{clock: clock, opts: options{interval: time.Second}}
	for _, o := range opts {
		o(&b.opts)
	}
	return b
}

// Add appends a schedule. Declaration order is firing order within a tick.
func (b *Builder) Add(cfg ScheduleConfig) *Builder {
	b.cfgs = append(b.cfgs, cfg)
	return b
}

// Build validates the declarations and returns the Tasker.
func (b *Builder) Build() (*Tasker, error) {
	if b.clock == nil {
		return nil, &ConfigError{Reason: "clock source is required"}
	}
	log := b.opts.log
	if log.IsZero() {
		log = logx.Nop()
	}

	seen := make(map[string]struct{}, len(b.cfgs))
	states := make([]*ScheduleState, 0, len(b.cfgs))
	for i, cfg := range b.cfgs {
		cfg.ID = strings.TrimSpace(cfg.ID)
		if cfg.ID == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("schedule #%d has no id", i+1)}
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, &ConfigError{Schedule: cfg.ID, Reason: "duplicate id"}
		}
		seen[cfg.ID] = struct{}{}
		if cfg.Times == nil {
			return nil, &ConfigError{Schedule: cfg.ID, Reason: "times field is required"}
		}
		states = append(states, newScheduleState(cfg))
	}

	watcher := NewClockWatcher(b.clock, b.opts.loc, b.opts.interval)
	t := &Tasker{
		log:       log,
		watcher:   watcher,
		sched:     NewScheduler(watcher.Interval(), log, b.opts.bus),
		schedules: states,
		byID:      make(map[string]*ScheduleState, len(states)),
	}
	for _, st := range states {
		t.byID[st.id] = st
		if obs, ok := st.enable.(BoolObserver); ok {
			st.observed = true
			obs.OnChange(st.SetEnabled)
		}
		if errs := st.refresh(); len(errs) > 0 {
			t.sched.reportParseErrors(st.id, errs)
		}
	}
	return t, nil
}

// Tasker is the aggregate root: one clock watcher, one scheduler and the
// schedules in declaration order.
type Tasker struct {
	log     logx.Logger
	watcher *ClockWatcher
	sched   *Scheduler

	// mu serializes Tick; evaluation passes never overlap.
	mu        sync.Mutex
	schedules []*ScheduleState
	byID      map[string]*ScheduleState
	ticks     uint64
	lastTick  time.Time
}

// Tick polls the clock once and evaluates every schedule against it.
func (t *Tasker) Tick(ctx context.Context) TickReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.watcher.Poll()
	t.ticks++
	if snap.Valid {
		t.lastTick = snap.Local
	}
	return t.sched.Evaluate(ctx, snap, t.schedules)
}

func (t *Tasker) Watcher() *ClockWatcher { return t.watcher }

func (t *Tasker) Scheduler() *Scheduler { return t.sched }

// Schedules returns the schedules in declaration order.
func (t *Tasker) Schedules() []*ScheduleState {
	return append([]*ScheduleState(nil), t.schedules...)
}

func (t *Tasker) Schedule(id string) (*ScheduleState, bool) {
	st, ok := t.byID[id]
	return st, ok
}

// Snapshot is a diagnostic dump of the whole tasker.
type Snapshot struct {
	Synced    bool
	Location  string
	Interval  time.Duration
	Ticks     uint64
	LastTick  time.Time
	Jumps     uint64
	Stats     SchedulerStats
	Schedules []ScheduleInfo
}

func (t *Tasker) Snapshot() Snapshot {
	t.mu.Lock()
	ticks, last := t.ticks, t.lastTick
	t.mu.Unlock()

	snap := Snapshot{
		Synced:    t.watcher.Synced(),
		Location:  t.watcher.Location().String(),
		Interval:  t.watcher.Interval(),
		Ticks:     ticks,
		LastTick:  last,
		Jumps:     t.watcher.Jumps(),
		Stats:     t.sched.Stats(),
		Schedules: make([]ScheduleInfo, 0, len(t.schedules)),
	}
	for _, st := range t.schedules {
		snap.Schedules = append(snap.Schedules, st.info())
	}
	return snap
}

// Status is the short health view used by readiness checks.
type Status struct {
	Synced   bool
	Ticks    uint64
	LastTick time.Time
	Firings  uint64
	Failures uint64
}

func (t *Tasker) Status() Status {
	t.mu.Lock()
	ticks, last := t.ticks, t.lastTick
	t.mu.Unlock()
	st := t.sched.Stats()
	return Status{
		Synced:   t.watcher.Synced(),
		Ticks:    ticks,
		LastTick: last,
		Firings:  st.Firings,
		Failures: st.Failures,
	}
}

// Dump logs the snapshot at debug level, one line per schedule.
func (t *Tasker) Dump() {
	snap := t.Snapshot()
	t.log.Debug("tasker",
		logx.Bool("synced", snap.Synced),
		logx.String("tz", snap.Location),
		logx.Duration("interval", snap.Interval),
		logx.Int("schedules", len(snap.Schedules)),
	)
	for _, it := range snap.Schedules {
		t.log.Debug("schedule",
			logx.String("id", it.ID),
			logx.Bool("enabled", it.Enabled),
			logx.String("days", it.Days),
			logx.Strs("times", it.Times),
			logx.String("last_fired", it.LastFired),
		)
	}
}
