package device

import (
	"context"
	"strconv"
	"sync"
)

// Switch is a persisted on/off output. A schedule's enable switch and the
// standalone outputs driven by actions are both Switches.
type Switch struct {
	base

	mu       sync.Mutex
	on       bool
	watchers []func(bool)
}

func NewSwitch(id string, initial bool, o Options) *Switch {
	return &Switch{
		base: base{id: id, name: o.Name, sink: o.Sink, bus: o.Bus},
		on:   initial,
	}
}

func (s *Switch) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Set changes the state; watchers run only on an actual change, outside the
// lock, in registration order.
func (s *Switch) Set(on bool) {
	s.update(func(bool) bool { return on })
}

// Toggle flips the state and returns the new one. Concurrent toggles each
// take effect.
func (s *Switch) Toggle() bool {
	return s.update(func(cur bool) bool { return !cur })
}

// update computes the next state from the current one under the lock.
func (s *Switch) update(next func(cur bool) bool) bool {
	s.mu.Lock()
	on := next(s.on)
	if s.on == on {
		s.mu.Unlock()
		return on
	}
	s.on = on
	ws := append([]func(bool){}, s.watchers...)
	s.mu.Unlock()

	s.changed("switch", strconv.FormatBool(on))
	for _, fn := range ws {
		fn(on)
	}
	return on
}

// OnChange registers fn to be called after every state change.
func (s *Switch) OnChange(fn func(bool)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Restore loads the persisted state without notifying watchers; it runs
// before anything is wired.
func (s *Switch) Restore(ctx context.Context, r StateReader) (bool, error) {
	v, ok, err := r.GetState(ctx, s.id)
	if err != nil || !ok {
		return false, err
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.on = on
	s.mu.Unlock()
	return true, nil
}
