package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tasker/internal/action"
	"tasker/internal/config"
	"tasker/internal/device"
	"tasker/internal/eventbus"
	"tasker/internal/mqttbridge"
	"tasker/internal/runtime/supervisor"
	"tasker/internal/storage"
	"tasker/internal/tasker"
	logx "tasker/pkg/logx"
	"tasker/pkg/systemdmanager"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	writer  *storage.Writer
	devices *device.Registry
	tasker  *tasker.Tasker
	units   *systemdmanager.ServiceManager
	mqtt    *mqttbridge.Bridge

	loc      *time.Location
	interval time.Duration
	notify   notifier

	dropped atomic.Uint64

	mu      sync.Mutex
	started bool
	sup     *supervisor.Supervisor
	cron    *cron.Cron
	cfgSub  chan *config.Config
}

// Option customizes NewApp. Used by tests and embedders.
type Option func(*buildOptions)

type buildOptions struct {
	clock  tasker.Clock
	notify notifier
}

// WithClock replaces the system clock.
func WithClock(c tasker.Clock) Option { return func(o *buildOptions) { o.clock = c } }

func withNotifier(n notifier) Option { return func(o *buildOptions) { o.notify = n } }

// NewApp loads and validates the config file and wires the components. It
// does not start any goroutine.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(loggingConfig(cfg.Logging))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		logs:   logs,
		log:    log,
		bus:    eventbus.New(),
		notify: bo.notify,
	}
	if a.notify == nil {
		a.notify = sdNotify
	}

	ok := false
	defer func() {
		if !ok {
			a.closeStore()
			if a.units != nil {
				_ = a.units.Close()
			}
			_ = logs.Close()
		}
	}()

	a.loc, err = cfg.Clock.Location()
	if err != nil {
		return nil, err
	}
	a.interval, err = cfg.Clock.Interval()
	if err != nil {
		return nil, err
	}

	scfg, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(scfg, root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.store != nil {
		a.writer = storage.NewWriter(a.store, root)
	}

	a.devices, err = buildDevices(cfg, a.writer, a.bus)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := a.devices.Restore(rctx, a.store)
		cancel()
		if err != nil {
			// Devices that failed keep their configured initial value.
			log.Warn("state restore incomplete", logx.Err(err))
		}
		log.Info("state restored", logx.Int("devices", n))
	}

	clock := bo.clock
	if clock == nil {
		clock = device.NewSystemClock(cfg.Clock.MinYear)
	}
	// Connects to the system bus on the first unit.* step only.
	a.units = systemdmanager.NewServiceManager()
	env := action.Env{
		Devices: a.devices,
		Log:     root.With(logx.String("comp", "action")),
		Bus:     a.bus,
		Units:   a.units,
	}
	a.tasker, err = buildTasker(cfg, env, clock,
		tasker.WithLogger(root.With(logx.String("comp", "tasker"))),
		tasker.WithBus(a.bus),
		tasker.WithLocation(a.loc),
		tasker.WithPollInterval(a.interval),
	)
	if err != nil {
		return nil, err
	}

	if cfg.MQTT != nil {
		mcfg, err := mapMQTTConfig(*cfg.MQTT)
		if err != nil {
			return nil, err
		}
		a.mqtt = mqttbridge.New(mcfg, a.devices, a.bus, root)
	}

	ok = true
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Tasker() *tasker.Tasker { return a.tasker }

func (a *App) Devices() *device.Registry { return a.devices }

// Store returns the open store, nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.sup = sup

	if a.writer != nil {
		sup.Go("storage.writer", a.writer.Run)
	}

	events, unsubscribe := a.bus.Subscribe(256)
	sup.Go0("events", func(ctx context.Context) {
		defer unsubscribe()
		a.sinkEvents(ctx, events)
	})

	a.cfgSub = a.cfgm.Subscribe(4)
	sup.Go0("config.apply", func(ctx context.Context) {
		a.applyConfig(ctx, a.cfgSub)
	})
	sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	if a.mqtt != nil {
		sup.GoRestart("mqtt", a.mqtt.Run, 2*time.Second, time.Minute)
	}

	wd := newWatchdog(a.notify, a.log)

	// One evaluation right away so a schedule due at startup is not delayed
	// by a full interval.
	a.tick(sup.Context(), wd)

	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	expr := "@every " + a.interval.String()
	if _, err := c.AddFunc(expr, func() { a.tick(sup.Context(), wd) }); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		return fmt.Errorf("schedule tick %q: %w", expr, err)
	}
	c.Start()
	a.cron = c
	a.started = true

	if sent, err := a.notify(sdReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified", logx.String("state", "READY"))
	}

	a.log.Info("tasker started",
		logx.String("config", a.cfgm.Path()),
		logx.String("tz", a.loc.String()),
		logx.Duration("interval", a.interval),
		logx.Int("schedules", len(a.tasker.Schedules())),
		logx.Bool("storage", a.store != nil),
		logx.Bool("mqtt", a.mqtt != nil),
	)
	return nil
}

// tick is the cron job body: one tasker evaluation plus the watchdog ping.
func (a *App) tick(ctx context.Context, wd *watchdog) {
	if ctx.Err() != nil {
		return
	}
	rep := a.tasker.Tick(ctx)
	if len(rep.Firings) > 0 {
		a.log.Trace("tick", logx.Int("fired", len(rep.Firings)), logx.Bool("valid", rep.Clock.Valid))
	}
	// History comes from the tick report, not the bus, so a burst that
	// overflows a subscriber can't lose records.
	for _, f := range rep.Firings {
		a.writer.AppendFiring(firingRecord(f))
	}
	a.checkDropped()
	wd.ping()
}

// checkDropped warns when bus subscribers missed events since the last tick.
func (a *App) checkDropped() {
	c, ok := a.bus.(eventbus.Counter)
	if !ok {
		return
	}
	n := c.Dropped()
	if prev := a.dropped.Swap(n); n > prev {
		a.log.Warn("event bus subscribers lagging; events dropped", logx.Uint64("dropped", n-prev), logx.Uint64("total", n))
	}
}

func firingRecord(f tasker.Firing) storage.FiringRecord {
	r := storage.FiringRecord{
		Schedule: f.Schedule,
		Date:     f.Key.Date().Format("2006-01-02"),
		Time:     f.Time.String(),
		At:       f.At,
		TookMS:   f.Took.Milliseconds(),
	}
	if f.Err != nil {
		r.Error = f.Err.Error()
	}
	return r
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
		}
	}

	if a.started {
		if _, err := a.notify(sdStopping); err != nil {
			a.log.Debug("systemd notify failed", logx.Err(err))
		}
		step("cron", func() error {
			select {
			case <-a.cron.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		a.cfgm.Unsubscribe(a.cfgSub)
		step("supervisor", func() error {
			err := a.sup.Stop(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		a.started = false
	}

	step("systemd", a.units.Close)
	step("storage", a.closeStore)

	st := a.tasker.Status()
	a.log.Info("tasker stopped",
		logx.Uint64("ticks", st.Ticks),
		logx.Uint64("firings", st.Firings),
		logx.Uint64("failures", st.Failures),
	)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// applyConfig reacts to hot reloads. Only logging is applied live; other
// sections are wired into devices and schedules at startup.
func (a *App) applyConfig(ctx context.Context, ch <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			changed, fields, scheduleIDs := config.SummarizeConfigChange(a.cfg, cfg)
			if len(changed) == 0 {
				continue
			}
			a.cfg = cfg
			a.log.Info("config reloaded", append(fields, logx.Strs("changed", changed))...)

			for _, sec := range changed {
				if sec == "logging" {
					if err := a.logs.Apply(loggingConfig(cfg.Logging)); err != nil {
						a.log.Warn("log file unavailable", logx.Err(err))
					}
				}
			}
			if restart := config.NeedsRestart(changed); len(restart) > 0 {
				a.log.Warn("config change requires restart",
					logx.String("sections", strings.Join(restart, ",")),
					logx.Strs("schedules", scheduleIDs),
				)
			}
		}
	}
}

func loggingConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

func mapStorageConfig(in *config.StorageConfig) (storage.Config, error) {
	if in == nil {
		return storage.Config{}, nil
	}
	bt, err := config.ParseDurationField("storage.busy_timeout", in.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      in.Driver,
		Path:        in.Path,
		BusyTimeout: bt,
		HistorySize: in.HistorySize,
	}, nil
}

func mapMQTTConfig(in config.MQTTConfig) (mqttbridge.Config, error) {
	timeout, err := config.ParseDurationOrDefault("mqtt.connect_timeout", in.ConnectTimeout, 10*time.Second)
	if err != nil {
		return mqttbridge.Config{}, err
	}
	return mqttbridge.Config{
		Broker:         in.Broker,
		ClientID:       in.ClientID,
		Username:       in.Username,
		Password:       in.Password,
		Prefix:         in.Prefix(),
		QoS:            byte(in.QoS),
		ConnectTimeout: timeout,
	}, nil
}

// OpenStore opens the store configured in cfg on its own, for offline
// inspection. It returns ErrDisabled wrapped when storage is off.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	scfg, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(scfg, log)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("open storage: %w", storage.ErrDisabled)
	}
	return st, nil
}
