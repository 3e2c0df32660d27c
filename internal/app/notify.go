package app

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "tasker/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// notifier sends an sd_notify state. sent is false when not running under
// systemd (NOTIFY_SOCKET unset).
type notifier func(state string) (sent bool, err error)

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

// watchdog pings systemd from the tick loop, so a stuck tick stops the pings
// and systemd restarts the unit.
type watchdog struct {
	notify notifier
	log    logx.Logger
	every  time.Duration

	mu   sync.Mutex
	last time.Time
}

func newWatchdog(n notifier, log logx.Logger) *watchdog {
	w := &watchdog{notify: n, log: log}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return w
	}
	if d > 0 {
		w.every = d / 2
		log.Info("systemd watchdog enabled", logx.Duration("timeout", d))
	}
	return w
}

func (w *watchdog) ping() {
	if w == nil || w.every <= 0 {
		return
	}
	w.mu.Lock()
	now := time.Now()
	due := w.last.IsZero() || now.Sub(w.last) >= w.every
	if due {
		w.last = now
	}
	w.mu.Unlock()
	if !due {
		return
	}
	if _, err := w.notify(sdWatchdog); err != nil {
		w.log.Debug("systemd watchdog ping failed", logx.Err(err))
	}
}
