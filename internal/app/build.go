package app

import (
	"fmt"
	"strings"

	"tasker/internal/action"
	"tasker/internal/config"
	"tasker/internal/device"
	"tasker/internal/eventbus"
	"tasker/internal/storage"
	"tasker/internal/tasker"
)

// Device ids derived from a schedule. The enable switch takes the schedule id
// itself so switch actions can target it by that name.
func daysID(schedule string) string  { return schedule + ".days" }
func timesID(schedule string) string { return schedule + ".times" }

// buildDevices registers outputs and every schedule's enable/days/times.
// sink may be nil when storage is disabled.
func buildDevices(cfg *config.Config, sink *storage.Writer, bus eventbus.Bus) (*device.Registry, error) {
	opts := func(name string) device.Options {
		o := device.Options{Name: name, Bus: bus}
		if sink != nil {
			o.Sink = sink
		}
		return o
	}

	reg := device.NewRegistry()
	for _, o := range cfg.Outputs {
		id := strings.TrimSpace(o.ID)
		if err := reg.AddSwitch(device.NewSwitch(id, o.Initial, opts(o.Name))); err != nil {
			return nil, err
		}
	}
	for _, s := range cfg.Schedules {
		id := strings.TrimSpace(s.ID)
		if s.Enable != nil {
			if err := reg.AddSwitch(device.NewSwitch(id, s.Enable.Initial, opts(s.Enable.Name))); err != nil {
				return nil, err
			}
		}
		if s.Days != nil {
			t := device.NewText(daysID(id), s.Days.Initial, s.Days.MaxLen(), opts(s.Days.Name))
			if err := reg.AddText(t); err != nil {
				return nil, err
			}
		}
		if s.Times != nil {
			t := device.NewText(timesID(id), s.Times.Initial, s.Times.MaxLen(), opts(s.Times.Name))
			if err := reg.AddText(t); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// buildTasker declares every schedule, in config order, against the devices
// built by buildDevices.
func buildTasker(cfg *config.Config, env action.Env, clock tasker.Clock, opts ...tasker.Option) (*tasker.Tasker, error) {
	b := tasker.NewBuilder(clock, opts...)
	for _, s := range cfg.Schedules {
		id := strings.TrimSpace(s.ID)
		sc := tasker.ScheduleConfig{ID: id}

		// Only assign non-nil devices; a typed nil would read as present.
		if s.Enable != nil {
			sw, ok := env.Devices.Switch(id)
			if !ok {
				return nil, fmt.Errorf("schedule %s: enable switch not registered", id)
			}
			sc.Enable = sw
		}
		if s.Days != nil {
			t, ok := env.Devices.Text(daysID(id))
			if !ok {
				return nil, fmt.Errorf("schedule %s: days text not registered", id)
			}
			sc.Days = t
		}
		if s.Times != nil {
			t, ok := env.Devices.Text(timesID(id))
			if !ok {
				return nil, fmt.Errorf("schedule %s: times text not registered", id)
			}
			sc.Times = t
		}

		act, err := action.Build(id, s.OnTime, env)
		if err != nil {
			return nil, err
		}
		sc.OnTime = act
		b.Add(sc)
	}
	return b.Build()
}
