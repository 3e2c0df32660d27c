package storage

import (
	"context"
	"sync"
	"time"

	logx "tasker/pkg/logx"
)

// Writer is a write-behind buffer in front of Store.PutState and
// Store.AppendFiring. Put and AppendFiring never block on disk: they queue
// and wake the flush loop. Intermediate values of a key that changes quickly
// are coalesced; firing records are written in order, each exactly once.
type Writer struct {
	st  Store
	log logx.Logger

	mu      sync.Mutex
	pending map[string]string
	order   []string
	firings []FiringRecord

	kick chan struct{}
}

func NewWriter(st Store, log logx.Logger) *Writer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Writer{
		st:      st,
		log:     log.With(logx.String("comp", "storage.writer")),
		pending: map[string]string{},
		kick:    make(chan struct{}, 1),
	}
}

// Put queues key=value. It is safe to call from switch and text callbacks.
func (w *Writer) Put(key, value string) {
	if w == nil || w.st == nil {
		return
	}
	w.mu.Lock()
	if _, ok := w.pending[key]; !ok {
		w.order = append(w.order, key)
	}
	w.pending[key] = value
	w.mu.Unlock()
	w.wake()
}

// AppendFiring queues a history record. Records that fail to write stay
// queued up to maxQueuedFirings; beyond that the oldest are dropped.
func (w *Writer) AppendFiring(r FiringRecord) {
	if w == nil || w.st == nil {
		return
	}
	w.mu.Lock()
	w.firings = append(w.firings, r)
	dropped := w.trimFiringsLocked()
	w.mu.Unlock()
	if dropped > 0 {
		w.log.Warn("firing history queue full; oldest records dropped", logx.Int("dropped", dropped))
	}
	w.wake()
}

const maxQueuedFirings = 1000

func (w *Writer) trimFiringsLocked() int {
	over := len(w.firings) - maxQueuedFirings
	if over <= 0 {
		return 0
	}
	w.firings = append([]FiringRecord(nil), w.firings[over:]...)
	return over
}

func (w *Writer) wake() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Pending returns the number of keys and firing records waiting to be
// written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + len(w.firings)
}

// Run flushes queued writes until ctx is done, then flushes once more with a
// short deadline so a clean shutdown doesn't lose the last toggle.
func (w *Writer) Run(ctx context.Context) error {
	retry := time.NewTicker(5 * time.Second)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := w.Flush(fctx)
			cancel()
			return err
		case <-w.kick:
		case <-retry.C:
			if w.Pending() == 0 {
				continue
			}
		}
		if err := w.Flush(ctx); err != nil {
			w.log.Warn("state write failed", logx.Err(err), logx.Int("pending", w.Pending()))
		}
	}
}

// Flush writes everything queued so far. Keys that fail stay queued unless
// a newer value replaced them meanwhile.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	order := w.order
	firings := w.firings
	w.pending = map[string]string{}
	w.order = nil
	w.firings = nil
	w.mu.Unlock()

	var firstErr error
	for i, r := range firings {
		if err := w.st.AppendFiring(ctx, r); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Keep order: the unwritten tail goes in front of anything
			// queued meanwhile.
			w.mu.Lock()
			w.firings = append(append([]FiringRecord(nil), firings[i:]...), w.firings...)
			w.trimFiringsLocked()
			w.mu.Unlock()
			break
		}
	}

	for _, k := range order {
		v := batch[k]
		if err := w.st.PutState(ctx, k, v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			w.mu.Lock()
			if _, newer := w.pending[k]; !newer {
				w.pending[k] = v
				w.order = append(w.order, k)
			}
			w.mu.Unlock()
			continue
		}
		w.log.Trace("state written", logx.String("key", k))
	}
	return firstErr
}
