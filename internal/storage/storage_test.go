package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "tasker/pkg/logx"
)

func openDriver(t *testing.T, driver string, history int) (Store, Config) {
	t.Helper()
	name := "tasker"
	if driver == "sqlite" {
		name = "tasker.db"
	}
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "data", name), HistorySize: history}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st, cfg
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openDriver(t, driver, 0)

			if _, ok, err := st.GetState(ctx, "water.times"); ok || err != nil {
				t.Fatalf("empty store returned ok=%v err=%v", ok, err)
			}
			must(t, st.PutState(ctx, "water.times", "07:00"))
			must(t, st.PutState(ctx, "water.times", "07:00,19:30"))
			must(t, st.PutState(ctx, "water.enable", "false"))
			must(t, st.Close())

			// Reopen and restore.
			st2, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			defer st2.Close()
			v, ok, err := st2.GetState(ctx, "water.times")
			if err != nil || !ok || v != "07:00,19:30" {
				t.Fatalf("times = %q ok=%v err=%v", v, ok, err)
			}
			v, ok, _ = st2.GetState(ctx, "water.enable")
			if !ok || v != "false" {
				t.Fatalf("enable = %q ok=%v", v, ok)
			}
		})
	}
}

func TestFiringHistory(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openDriver(t, driver, 3)

			base := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				must(t, st.AppendFiring(ctx, FiringRecord{
					Schedule: "water",
					Date:     base.AddDate(0, 0, i).Format("2006-01-02"),
					Time:     "07:00",
					At:       base.AddDate(0, 0, i),
				}))
			}
			must(t, st.AppendFiring(ctx, FiringRecord{Schedule: "lamp", Date: "2024-01-01", Time: "19:00", At: base, Error: "boom"}))

			got, err := st.RecentFirings(ctx, "water", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].Date != "2024-01-05" || got[1].Date != "2024-01-04" {
				t.Fatalf("recent = %+v", got)
			}
			if !got[0].At.Equal(base.AddDate(0, 0, 4)) {
				t.Fatalf("at = %s", got[0].At)
			}

			lamp, _ := st.RecentFirings(ctx, "lamp", 0)
			if len(lamp) != 1 || lamp[0].Error != "boom" {
				t.Fatalf("lamp = %+v", lamp)
			}
			must(t, st.Close())

			st2, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			defer st2.Close()
			all, _ := st2.RecentFirings(ctx, "water", 0)
			if driver == "file" && len(all) != 3 {
				// The file driver keeps exactly history entries in memory.
				t.Fatalf("history after reopen = %d, want 3", len(all))
			}
			if len(all) == 0 || all[0].Date != "2024-01-05" {
				t.Fatalf("newest after reopen = %+v", all)
			}
		})
	}
}

func TestSQLitePrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openDriver(t, "sqlite", 3)
	defer st.Close()
	s := st.(*sqliteStore)

	for i := 0; i < 10; i++ {
		must(t, st.AppendFiring(ctx, FiringRecord{Schedule: "water", Date: "2024-01-01", Time: "07:00"}))
	}
	must(t, s.prune(ctx))
	all, _ := st.RecentFirings(ctx, "water", 100)
	if len(all) != 3 {
		t.Fatalf("after prune = %d rows, want 3", len(all))
	}
}

// flakyStore fails writes until ok is set.
type flakyStore struct {
	Store
	mu      sync.Mutex
	ok      bool
	data    map[string]string
	firings []FiringRecord
}

func (f *flakyStore) AppendFiring(ctx context.Context, r FiringRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return errors.New("disk full")
	}
	f.firings = append(f.firings, r)
	return nil
}

func (f *flakyStore) PutState(ctx context.Context, k, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return errors.New("disk full")
	}
	if f.data == nil {
		f.data = map[string]string{}
	}
	f.data[k] = v
	return nil
}

func TestWriterCoalescesAndRetries(t *testing.T) {
	t.Parallel()
	fs := &flakyStore{}
	w := NewWriter(fs, logx.Nop())

	w.Put("pump", "true")
	w.Put("pump", "false")
	w.Put("water.times", "07:00")
	if w.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", w.Pending())
	}

	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if w.Pending() != 2 {
		t.Fatalf("failed keys should stay queued, pending = %d", w.Pending())
	}

	fs.mu.Lock()
	fs.ok = true
	fs.mu.Unlock()
	must(t, w.Flush(context.Background()))
	if w.Pending() != 0 || fs.data["pump"] != "false" || fs.data["water.times"] != "07:00" {
		t.Fatalf("data = %v pending = %d", fs.data, w.Pending())
	}
}

func TestWriterRunFlushesOnShutdown(t *testing.T) {
	t.Parallel()
	fs := &flakyStore{ok: true}
	w := NewWriter(fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Put("pump", "true")
	cancel()
	select {
	case err := <-done:
		must(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.data["pump"] != "true" {
		t.Fatalf("data = %v", fs.data)
	}
}

func TestWriterKeepsEveryFiringInOrder(t *testing.T) {
	t.Parallel()
	fs := &flakyStore{}
	w := NewWriter(fs, logx.Nop())

	// A burst larger than any event bus buffer.
	const n = 600
	for i := 0; i < n; i++ {
		w.AppendFiring(FiringRecord{Schedule: "water", TookMS: int64(i)})
	}
	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	w.AppendFiring(FiringRecord{Schedule: "water", TookMS: n})
	if w.Pending() != n+1 {
		t.Fatalf("pending = %d, want %d", w.Pending(), n+1)
	}

	fs.mu.Lock()
	fs.ok = true
	fs.mu.Unlock()
	must(t, w.Flush(context.Background()))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.firings) != n+1 {
		t.Fatalf("written = %d, want %d", len(fs.firings), n+1)
	}
	for i, r := range fs.firings {
		if r.TookMS != int64(i) {
			t.Fatalf("record %d out of order: %+v", i, r)
		}
	}
}

func TestWriterBoundsFailedFirings(t *testing.T) {
	t.Parallel()
	w := NewWriter(&flakyStore{}, logx.Nop())
	for i := 0; i < maxQueuedFirings+5; i++ {
		w.AppendFiring(FiringRecord{Schedule: "water", TookMS: int64(i)})
	}
	if w.Pending() != maxQueuedFirings {
		t.Fatalf("pending = %d, want %d", w.Pending(), maxQueuedFirings)
	}
	w.mu.Lock()
	first := w.firings[0].TookMS
	w.mu.Unlock()
	if first != 5 {
		t.Fatalf("oldest kept = %d, want 5", first)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
