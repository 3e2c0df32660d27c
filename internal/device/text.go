package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Text is a persisted, user-editable text field (a schedule's days or times).
type Text struct {
	base
	maxLen int

	mu    sync.RWMutex
	value string
}

func NewText(id, initial string, maxLen int, o Options) *Text {
	if maxLen <= 0 {
		maxLen = 32
	}
	if len(initial) > maxLen {
		initial = initial[:maxLen]
	}
	return &Text{
		base:   base{id: id, name: o.Name, sink: o.Sink, bus: o.Bus},
		maxLen: maxLen,
		value:  initial,
	}
}

func (t *Text) State() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

func (t *Text) MaxLen() int { return t.maxLen }

// Set replaces the value. Surrounding whitespace is dropped; values longer
// than the field are rejected whole.
func (t *Text) Set(v string) error {
	v = strings.TrimSpace(v)
	if len(v) > t.maxLen {
		return fmt.Errorf("%s: value is %d bytes, max %d", t.id, len(v), t.maxLen)
	}
	t.mu.Lock()
	if t.value == v {
		t.mu.Unlock()
		return nil
	}
	t.value = v
	t.mu.Unlock()
	t.changed("text", v)
	return nil
}

// Restore loads the persisted value, keeping the initial one when nothing
// was stored or the stored value no longer fits.
func (t *Text) Restore(ctx context.Context, r StateReader) (bool, error) {
	v, ok, err := r.GetState(ctx, t.id)
	if err != nil || !ok {
		return false, err
	}
	if len(v) > t.maxLen {
		return false, fmt.Errorf("%s: stored value is %d bytes, max %d", t.id, len(v), t.maxLen)
	}
	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
	return true, nil
}
