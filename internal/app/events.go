package app

import (
	"context"

	"tasker/internal/device"
	"tasker/internal/eventbus"
	"tasker/internal/tasker"
	logx "tasker/pkg/logx"
)

// sinkEvents logs bus events. Buffered events are drained on shutdown.
func (a *App) sinkEvents(ctx context.Context, ch <-chan eventbus.Event) {
	log := a.log.With(logx.String("comp", "events"))
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						return
					}
					a.handleEvent(log, e)
				default:
					return
				}
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			a.handleEvent(log, e)
		}
	}
}

func (a *App) handleEvent(log logx.Logger, e eventbus.Event) {
	switch e.Type {
	case tasker.EventFired:
		ev, ok := e.Data.(tasker.FiredEvent)
		if !ok {
			return
		}
		log.Debug("event", logx.String("type", e.Type), logx.String("schedule", ev.Schedule), logx.String("time", ev.Time))
	case device.EventChanged:
		if ev, ok := e.Data.(device.ChangedEvent); ok {
			log.Debug("event", logx.String("type", e.Type), logx.String("id", ev.ID), logx.String("value", ev.Value))
		}
	default:
		log.Trace("event", logx.String("type", e.Type))
	}
}
