package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry names every Text and Switch so actions and restore can find them.
type Registry struct {
	mu       sync.RWMutex
	texts    map[string]*Text
	switches map[string]*Switch
}

func NewRegistry() *Registry {
	return &Registry{texts: map[string]*Text{}, switches: map[string]*Switch{}}
}

func (r *Registry) AddText(t *Text) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.freeLocked(t.id); err != nil {
		return err
	}
	r.texts[t.id] = t
	return nil
}

func (r *Registry) AddSwitch(s *Switch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.freeLocked(s.id); err != nil {
		return err
	}
	r.switches[s.id] = s
	return nil
}

func (r *Registry) freeLocked(id string) error {
	if _, ok := r.texts[id]; ok {
		return fmt.Errorf("device %q already registered", id)
	}
	if _, ok := r.switches[id]; ok {
		return fmt.Errorf("device %q already registered", id)
	}
	return nil
}

func (r *Registry) Text(id string) (*Text, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.texts[id]
	return t, ok
}

func (r *Registry) Switch(id string) (*Switch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.switches[id]
	return s, ok
}

// IDs returns all registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.texts)+len(r.switches))
	for id := range r.texts {
		out = append(out, id)
	}
	for id := range r.switches {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Restore loads persisted state into every device and returns how many were
// restored. Individual failures keep the initial value and are returned
// together.
func (r *Registry) Restore(ctx context.Context, sr StateReader) (int, error) {
	r.mu.RLock()
	texts := make([]*Text, 0, len(r.texts))
	for _, t := range r.texts {
		texts = append(texts, t)
	}
	switches := make([]*Switch, 0, len(r.switches))
	for _, s := range r.switches {
		switches = append(switches, s)
	}
	r.mu.RUnlock()

	n := 0
	var errs []error
	for _, t := range texts {
		ok, err := t.Restore(ctx, sr)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			n++
		}
	}
	for _, s := range switches {
		ok, err := s.Restore(ctx, sr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.id, err))
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}
