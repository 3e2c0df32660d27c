// Package action turns on_time config steps into a tasker.Action.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasker/internal/config"
	"tasker/internal/device"
	"tasker/internal/eventbus"
	"tasker/internal/tasker"
	logx "tasker/pkg/logx"
	"tasker/pkg/systemdmanager"
)

// Env is what steps can reach.
type Env struct {
	Devices *device.Registry
	Log     logx.Logger
	Bus     eventbus.Bus
	Units   UnitController
}

// UnitController queues systemd unit jobs. Calls must return once the job is
// queued.
type UnitController interface {
	StartContext(ctx context.Context, unit string) error
	StopContext(ctx context.Context, unit string) error
	RestartContext(ctx context.Context, unit string) error
}

// unitTimeout bounds one unit step so a hung bus can't stall the tick.
const unitTimeout = 5 * time.Second

// PublishedEvent is the payload of an event.publish step.
type PublishedEvent struct {
	Schedule string `json:"schedule"`
	Message  string `json:"message,omitempty"`
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Build compiles steps for one schedule. An empty list yields a nil Action,
// which fires without doing anything.
func Build(schedule string, steps []config.ActionConfig, env Env) (tasker.Action, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	log := env.Log.With(logx.String("schedule", schedule))

	compiled := make([]step, 0, len(steps))
	for i, a := range steps {
		s, err := compile(schedule, a, env, log)
		if err != nil {
			return nil, fmt.Errorf("%s on_time[%d]: %w", schedule, i, err)
		}
		compiled = append(compiled, s)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, s := range compiled {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.run(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}
		return errors.Join(errs...)
	}, nil
}

func compile(schedule string, a config.ActionConfig, env Env, log logx.Logger) (step, error) {
	name := strings.TrimSpace(a.Action)
	switch name {
	case config.ActionSwitchOn, config.ActionSwitchOff, config.ActionToggle:
		sw, err := lookupSwitch(env, a.Target)
		if err != nil {
			return step{}, err
		}
		return step{name: name, run: switchStep(name, sw)}, nil

	case config.ActionLog:
		level, msg := a.Level, a.Message
		return step{name: name, run: func(ctx context.Context) error {
			log.Log(level, msg)
			return nil
		}}, nil

	case config.ActionPublish:
		if env.Bus == nil {
			return step{}, errors.New("event.publish needs an event bus")
		}
		ev := eventbus.Event{Type: strings.TrimSpace(a.Event), Data: PublishedEvent{Schedule: schedule, Message: a.Message}}
		return step{name: name, run: func(ctx context.Context) error {
			env.Bus.Publish(ev)
			return nil
		}}, nil

	case config.ActionUnitStart, config.ActionUnitStop, config.ActionUnitRestart:
		if env.Units == nil {
			return step{}, fmt.Errorf("%s needs a systemd connection", name)
		}
		unit, err := systemdmanager.UnitName(a.Target)
		if err != nil {
			return step{}, err
		}
		return step{name: name, run: unitStep(name, unit, env.Units)}, nil

	default:
		return step{}, fmt.Errorf("unknown action %q", a.Action)
	}
}

func lookupSwitch(env Env, id string) (*device.Switch, error) {
	id = strings.TrimSpace(id)
	if env.Devices == nil {
		return nil, errors.New("no device registry")
	}
	sw, ok := env.Devices.Switch(id)
	if !ok {
		return nil, fmt.Errorf("no switch named %q", id)
	}
	return sw, nil
}

func switchStep(name string, sw *device.Switch) func(context.Context) error {
	return func(ctx context.Context) error {
		switch name {
		case config.ActionSwitchOn:
			sw.Set(true)
		case config.ActionSwitchOff:
			sw.Set(false)
		default:
			sw.Toggle()
		}
		return nil
	}
}

func unitStep(name, unit string, u UnitController) func(context.Context) error {
	var op func(context.Context, string) error
	switch name {
	case config.ActionUnitStart:
		op = u.StartContext
	case config.ActionUnitStop:
		op = u.StopContext
	default:
		op = u.RestartContext
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, unitTimeout)
		defer cancel()
		return op(ctx, unit)
	}
}
