package tasker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	ok  bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now, ok: true} }

func (c *fakeClock) Now() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, c.ok
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.ok = true
	c.mu.Unlock()
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Invalidate() {
	c.mu.Lock()
	c.ok = false
	c.mu.Unlock()
}

func at(day, h, m, s int) time.Time {
	// 2024-01-01 is a Monday.
	return time.Date(2024, time.January, day, h, m, s, 0, time.UTC)
}

func TestClockWatcherUnsynced(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	c.Invalidate()
	w := NewClockWatcher(c, time.UTC, time.Second)

	snap := w.Poll()
	if snap.Valid {
		t.Fatal("snapshot should be invalid before sync")
	}
	if w.Synced() {
		t.Fatal("watcher should not be synced")
	}

	c.Set(at(1, 7, 0, 0))
	snap = w.Poll()
	if !snap.Valid || snap.Jump != JumpFirst {
		t.Fatalf("first valid poll = %+v", snap)
	}
	if !w.Synced() {
		t.Fatal("watcher should be synced")
	}
}

func TestClockWatcherJumps(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	w := NewClockWatcher(c, time.UTC, time.Second)
	w.Poll()

	steps := []struct {
		name string
		move time.Duration
		want Jump
	}{
		{name: "tick", move: time.Second, want: JumpNone},
		{name: "late tick", move: 3 * time.Second, want: JumpNone},
		{name: "small step back", move: -time.Second, want: JumpNone},
		{name: "forward", move: 10 * time.Minute, want: JumpForward},
		{name: "backward", move: -time.Hour, want: JumpBackward},
	}
	for _, st := range steps {
		c.Add(st.move)
		snap := w.Poll()
		if snap.Jump != st.want {
			t.Fatalf("%s: jump = %s, want %s", st.name, snap.Jump, st.want)
		}
		if snap.Elapsed != st.move {
			t.Fatalf("%s: elapsed = %s, want %s", st.name, snap.Elapsed, st.move)
		}
	}
	if w.Jumps() != 2 {
		t.Fatalf("jumps = %d, want 2", w.Jumps())
	}
}

func TestClockWatcherOutageResetsReference(t *testing.T) {
	t.Parallel()
	c := newFakeClock(at(1, 7, 0, 0))
	w := NewClockWatcher(c, time.UTC, time.Second)
	w.Poll()

	c.Invalidate()
	if w.Poll().Valid {
		t.Fatal("expected invalid snapshot")
	}
	c.Set(at(1, 9, 0, 0))
	if snap := w.Poll(); snap.Jump != JumpFirst {
		t.Fatalf("after outage jump = %s, want first", snap.Jump)
	}
}

func TestClockWatcherLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	c := newFakeClock(time.Date(2024, time.January, 1, 23, 30, 0, 500, time.UTC))
	w := NewClockWatcher(c, loc, time.Second)

	snap := w.Poll()
	if snap.Local.Location() != loc {
		t.Fatalf("location = %s", snap.Local.Location())
	}
	if snap.Local.Hour() != 6 || snap.Local.Day() != 2 || snap.Local.Nanosecond() != 0 {
		t.Fatalf("local = %s", snap.Local)
	}
	if snap.Epoch != c.now.Unix() {
		t.Fatalf("epoch = %d, want %d", snap.Epoch, c.now.Unix())
	}
}
