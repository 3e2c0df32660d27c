package tasker

import (
	"sync"
	"sync/atomic"
	"time"
)

// ScheduleState is the runtime record of one schedule.
//
// Text fields are read on every evaluation but only re-parsed when their raw
// value changed. The enable flag is written by switch callbacks and read once
// per evaluation.
type ScheduleState struct {
	id string

	enable    BoolOutput
	daysText  TextSource
	timesText TextSource
	action    Action

	enabled  atomic.Bool
	observed bool // enable reports toggles through BoolObserver

	mu        sync.Mutex
	daysRaw   string
	days      DaySet
	timesRaw  string
	times     []TimeOfDay
	parsed    bool
	lastFired FireKey
	hasFired  bool
	firedSet  map[FireKey]struct{}
	prunedDay int64
	fired     uint64
	failed    uint64
}

func newScheduleState(cfg ScheduleConfig) *ScheduleState {
	s := &ScheduleState{
		id:        cfg.ID,
		enable:    cfg.Enable,
		daysText:  cfg.Days,
		timesText: cfg.Times,
		action:    cfg.OnTime,
		firedSet:  map[FireKey]struct{}{},
	}
	s.enabled.Store(true)
	if cfg.Enable != nil {
		s.enabled.Store(cfg.Enable.State())
	}
	return s
}

func (s *ScheduleState) ID() string { return s.id }

// Enabled reports the current enable flag.
func (s *ScheduleState) Enabled() bool { return s.enabled.Load() }

// readEnabled returns the flag for one evaluation. Outputs that can't report
// toggles are polled instead.
func (s *ScheduleState) readEnabled() bool {
	if s.enable != nil && !s.observed {
		on := s.enable.State()
		s.enabled.Store(on)
		return on
	}
	return s.enabled.Load()
}

// SetEnabled is the enable switch callback. It never touches the last-fired
// marker, so re-enabling can't re-fire an instant that already fired.
func (s *ScheduleState) SetEnabled(on bool) { s.enabled.Store(on) }

// LastFired returns the most recently fired instant, if any. After a
// backward clock jump it can be later than instants that fire next.
func (s *ScheduleState) LastFired() (FireKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFired, s.hasFired
}

// Days returns the parsed day set (as of the last refresh).
func (s *ScheduleState) Days() DaySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days
}

// Times returns a copy of the parsed times (as of the last refresh).
func (s *ScheduleState) Times() []TimeOfDay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TimeOfDay(nil), s.times...)
}

// refresh re-reads the text fields and re-parses the ones that changed.
// It returns the parse errors of changed fields only.
func (s *ScheduleState) refresh() []*ParseError {
	var daysRaw, timesRaw string
	if s.daysText != nil {
		daysRaw = s.daysText.State()
	}
	if s.timesText != nil {
		timesRaw = s.timesText.State()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []*ParseError
	if !s.parsed || daysRaw != s.daysRaw {
		var e []*ParseError
		s.days, e = ParseDays(daysRaw)
		s.daysRaw = daysRaw
		errs = append(errs, e...)
	}
	if !s.parsed || timesRaw != s.timesRaw {
		var e []*ParseError
		s.times, e = ParseTimes(timesRaw)
		s.timesRaw = timesRaw
		errs = append(errs, e...)
	}
	s.parsed = true
	return errs
}

// due returns the instants of this schedule that fall in the window ending at
// now and were not fired yet, and marks them fired. The caller runs the
// action once per returned instant.
//
// An instant fires when it is in the window and not in the fired set, so a
// backward jump neither repeats a fired instant nor hides one that never
// fired. A window that reaches back over midnight also covers the tail of
// the previous date.
func (s *ScheduleState) due(now time.Time, window time.Duration) []FireKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := civilDay(now)
	s.pruneFired(today)
	if len(s.times) == 0 {
		return nil
	}

	sec := TimeOfDayOf(now).Seconds()
	win := int(window / time.Second)
	if win < 1 {
		win = 1
	}

	var out []FireKey
	if sec < win {
		y, m, d := now.Date()
		if s.days.Matches(time.Date(y, m, d-1, 12, 0, 0, 0, now.Location())) {
			// Seconds since the previous midnight are sec+secondsPerDay.
			for _, t := range s.times {
				if ts := t.Seconds(); ts > sec+secondsPerDay-win {
					out = s.mark(FireKey{Day: today - 1, Second: int32(ts)}, out)
				}
			}
		}
	}
	if s.days.Matches(now) {
		for _, t := range s.times {
			if ts := t.Seconds(); ts <= sec && sec < ts+win {
				out = s.mark(FireKey{Day: today, Second: int32(ts)}, out)
			}
		}
	}
	return out
}

func (s *ScheduleState) mark(key FireKey, out []FireKey) []FireKey {
	if _, ok := s.firedSet[key]; ok {
		return out
	}
	s.firedSet[key] = struct{}{}
	s.lastFired = key
	s.hasFired = true
	return append(out, key)
}

// pruneFired keeps the fired set to the dates a window or a corrected clock
// can still reach: yesterday, today and tomorrow. Anything else, such as a
// key left by a clock that ran far in the future, is dropped.
func (s *ScheduleState) pruneFired(today int64) {
	if s.prunedDay == today {
		return
	}
	s.prunedDay = today
	for k := range s.firedSet {
		if k.Day < today-1 || k.Day > today+1 {
			delete(s.firedSet, k)
		}
	}
	if s.hasFired && s.lastFired.Day > today+1 {
		s.hasFired = false
		s.lastFired = FireKey{}
	}
}

func (s *ScheduleState) noteResult(err error) {
	s.mu.Lock()
	s.fired++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()
}

// ScheduleInfo is a point-in-time view of a schedule for diagnostics.
type ScheduleInfo struct {
	ID        string
	Enabled   bool
	HasSwitch bool
	DaysText  string
	Days      string
	TimesText string
	Times     []string
	LastFired string
	Fired     uint64
	Failed    uint64
}

func (s *ScheduleState) info() ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := ScheduleInfo{
		ID:        s.id,
		Enabled:   s.enabled.Load(),
		HasSwitch: s.enable != nil,
		DaysText:  s.daysRaw,
		Days:      s.days.String(),
		TimesText: s.timesRaw,
		Times:     make([]string, len(s.times)),
		Fired:     s.fired,
		Failed:    s.failed,
	}
	for i, t := range s.times {
		it.Times[i] = t.String()
	}
	if s.hasFired {
		it.LastFired = s.lastFired.String()
	}
	return it
}
