// Package mqttbridge exposes the device registry over MQTT.
//
// Topics, under a configurable prefix:
//
//	<prefix>/status          "online" / "offline" (retained, last will)
//	<prefix>/<id>/state      current text value or ON/OFF (retained)
//	<prefix>/<id>/set        write a new value (text) or ON/OFF/TOGGLE (switch)
//	<prefix>/<schedule>/fired  JSON firing record (not retained)
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tasker/internal/device"
	"tasker/internal/eventbus"
	"tasker/internal/tasker"
	logx "tasker/pkg/logx"
)

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	ConnectTimeout time.Duration
}

// publishFunc sends one message and waits for the broker to accept it.
type publishFunc func(topic string, retained bool, payload []byte) error

// Bridge keeps one broker session. Run returns when the connection can't be
// made; callers restart it with backoff.
type Bridge struct {
	cfg     Config
	log     logx.Logger
	devices *device.Registry
	bus     eventbus.Bus

	newClient func(o *mqtt.ClientOptions) mqtt.Client
}

func New(cfg Config, devices *device.Registry, bus eventbus.Bus, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "tasker"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tasker"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Bridge{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "mqtt")),
		devices:   devices,
		bus:       bus,
		newClient: mqtt.NewClient,
	}
}

func (b *Bridge) statusTopic() string { return b.cfg.Prefix + "/status" }

func (b *Bridge) stateTopic(id string) string { return b.cfg.Prefix + "/" + id + "/state" }

func (b *Bridge) firedTopic(id string) string { return b.cfg.Prefix + "/" + id + "/fired" }

func (b *Bridge) setFilter() string { return b.cfg.Prefix + "/+/set" }

// Run connects, mirrors device state and bus events to the broker until ctx
// is done, then publishes "offline" and disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	// Subscribe before connecting so no change between the initial sync and
	// the event loop is lost.
	events, unsubscribe := b.bus.Subscribe(128)
	defer unsubscribe()

	var client mqtt.Client
	pub := func(topic string, retained bool, payload []byte) error {
		return wait(client.Publish(topic, b.cfg.QoS, retained, payload), b.cfg.ConnectTimeout)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetWill(b.statusTopic(), "offline", b.cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn("mqtt connection lost", logx.Err(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Runs on the first connect and after every automatic reconnect.
			tok := c.Subscribe(b.setFilter(), b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
				if err := b.handleSet(m.Topic(), m.Payload()); err != nil {
					b.log.Warn("mqtt set rejected", logx.String("topic", m.Topic()), logx.Err(err))
				}
			})
			if err := wait(tok, b.cfg.ConnectTimeout); err != nil {
				b.log.Warn("mqtt subscribe failed", logx.String("filter", b.setFilter()), logx.Err(err))
			}
			go func() {
				if err := b.syncAll(pub); err != nil {
					b.log.Warn("mqtt state sync incomplete", logx.Err(err))
				}
			}()
		})

	client = b.newClient(opts)
	connected := make(chan error, 1)
	go func() { connected <- wait(client.Connect(), b.cfg.ConnectTimeout) }()
	select {
	case <-ctx.Done():
		go func() {
			if <-connected == nil {
				client.Disconnect(0)
			}
		}()
		return ctx.Err()
	case err := <-connected:
		if err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
		}
	}
	b.log.Info("mqtt connected", logx.String("broker", b.cfg.Broker), logx.String("prefix", b.cfg.Prefix))

	b.loop(ctx, events, pub)

	if err := pub(b.statusTopic(), true, []byte("offline")); err != nil {
		b.log.Debug("mqtt offline status failed", logx.Err(err))
	}
	client.Disconnect(250)
	b.log.Info("mqtt disconnected")
	return nil
}

func (b *Bridge) loop(ctx context.Context, events <-chan eventbus.Event, pub publishFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := b.forward(e, pub); err != nil {
				b.log.Debug("mqtt publish failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// forward maps one bus event to a message.
func (b *Bridge) forward(e eventbus.Event, pub publishFunc) error {
	switch e.Type {
	case device.EventChanged:
		ev, ok := e.Data.(device.ChangedEvent)
		if !ok {
			return nil
		}
		return pub(b.stateTopic(ev.ID), true, []byte(statePayload(ev.Kind, ev.Value)))
	case tasker.EventFired:
		ev, ok := e.Data.(tasker.FiredEvent)
		if !ok {
			return nil
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return pub(b.firedTopic(ev.Schedule), false, body)
	}
	return nil
}

// syncAll publishes "online" and the state of every device.
func (b *Bridge) syncAll(pub publishFunc) error {
	errs := []error{pub(b.statusTopic(), true, []byte("online"))}
	for _, id := range b.devices.IDs() {
		if t, ok := b.devices.Text(id); ok {
			errs = append(errs, pub(b.stateTopic(id), true, []byte(t.State())))
			continue
		}
		if s, ok := b.devices.Switch(id); ok {
			errs = append(errs, pub(b.stateTopic(id), true, []byte(onOff(s.State()))))
		}
	}
	return errors.Join(errs...)
}

// handleSet applies a <prefix>/<id>/set message.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	id, ok := b.deviceID(topic)
	if !ok {
		return fmt.Errorf("unexpected topic")
	}
	value := strings.TrimSpace(string(payload))

	if t, ok := b.devices.Text(id); ok {
		return t.Set(value)
	}
	s, ok := b.devices.Switch(id)
	if !ok {
		return fmt.Errorf("no device %q", id)
	}
	if strings.EqualFold(value, "toggle") {
		s.Toggle()
		return nil
	}
	on, err := parseOnOff(value)
	if err != nil {
		return err
	}
	s.Set(on)
	return nil
}

func (b *Bridge) deviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.cfg.Prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func statePayload(kind, value string) string {
	if kind != "switch" {
		return value
	}
	on, err := strconv.ParseBool(value)
	if err != nil {
		return value
	}
	return onOff(on)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", v)
}

func wait(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errors.New("timed out")
	}
	return tok.Error()
}
