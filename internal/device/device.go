package device

import (
	"context"

	"tasker/internal/eventbus"
)

const EventChanged = "device.changed"

// Persister receives state changes. It must not block.
type Persister interface {
	Put(key, value string)
}

// StateReader restores state at startup.
type StateReader interface {
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
}

// ChangedEvent is the payload of EventChanged.
type ChangedEvent struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"` // "text" or "switch"
	Value string `json:"value"`
}

// Options are shared by Text and Switch.
type Options struct {
	Name string
	Sink Persister
	Bus  eventbus.Bus
}

type base struct {
	id   string
	name string
	sink Persister
	bus  eventbus.Bus
}

func (b *base) ID() string { return b.id }

// Name is the display name, the id when none was configured.
func (b *base) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.id
}

func (b *base) changed(kind, value string) {
	if b.sink != nil {
		b.sink.Put(b.id, value)
	}
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: EventChanged, Data: ChangedEvent{ID: b.id, Kind: kind, Value: value}})
	}
}
