package config

import (
	"bytes"
	"encoding/json"
)

// Config is the daemon configuration file.
//
// Example (YAML):
//
//	clock:
//	  timezone: Europe/Berlin
//	  poll_interval: 1s
//	storage:
//	  driver: sqlite
//	  path: ./data/tasker.db
//	mqtt:
//	  broker: tcp://127.0.0.1:1883
//	outputs:
//	  - id: pump
//	schedules:
//	  - id: watering
//	    enable: true
//	    days: Mon-Fri
//	    times: "07:00, 19:30"
//	    on_time:
//	      - action: switch.turn_on
//	        target: pump
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Clock     ClockConfig      `json:"clock"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	MQTT      *MQTTConfig      `json:"mqtt,omitempty"`
	Outputs   []OutputConfig   `json:"outputs,omitempty"`
	Schedules []ScheduleConfig `json:"schedules"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ClockConfig controls the tick and the zone dates are computed in.
//
// PollInterval is a Go duration string (default "1s", minimum 1s).
// Timezone is an IANA name; empty means the host's local zone.
type ClockConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	// MinYear is the earliest year the system clock is trusted for.
	// Defaults to 2019; an RTC that boots at 1970 reads as unsynced.
	MinYear int `json:"min_year,omitempty"`
}

// StorageConfig controls persistence of text/switch state and firing history.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/tasker" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// HistorySize bounds the firing history kept per schedule (default 200).
	HistorySize int `json:"history_size,omitempty"`
}

// MQTTConfig connects the device registry to an MQTT broker. Every text and
// switch publishes its state to <topic_prefix>/<id>/state (retained) and
// accepts new values on <topic_prefix>/<id>/set.
type MQTTConfig struct {
	Broker         string `json:"broker"` // tcp://host:1883, ssl://, ws://, wss://
	ClientID       string `json:"client_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	TopicPrefix    string `json:"topic_prefix,omitempty"` // default "tasker"
	QoS            int    `json:"qos,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"` // Go duration string, default 10s
}

// OutputConfig declares a standalone switch that actions can drive.
type OutputConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Initial bool   `json:"initial,omitempty"`
}

// ScheduleConfig is one schedule record.
type ScheduleConfig struct {
	ID     string         `json:"id"`
	Enable *SwitchConfig  `json:"enable,omitempty"`
	Days   *TextConfig    `json:"days,omitempty"`
	Times  *TextConfig    `json:"times"`
	OnTime []ActionConfig `json:"on_time,omitempty"`
}

// TextConfig declares a persisted text field. A bare string (or number) is
// shorthand for {initial: <value>}.
type TextConfig struct {
	Name      string `json:"name,omitempty"`
	Initial   string `json:"initial"`
	MaxLength int    `json:"max_length,omitempty"`
}

func (t *TextConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = TextConfig{Initial: s}
		return nil
	}
	// days: 3 arrives as a number once YAML is converted.
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = TextConfig{Initial: n.String()}
		return nil
	}
	type plain TextConfig
	var p plain
	if err := strictDecode(b, &p); err != nil {
		return err
	}
	*t = TextConfig(p)
	return nil
}

// SwitchConfig declares a persisted enable switch. A bare bool is shorthand
// for {initial: <bool>}.
type SwitchConfig struct {
	Name    string `json:"name,omitempty"`
	Initial bool   `json:"initial"`
}

func (s *SwitchConfig) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*s = SwitchConfig{Initial: v}
		return nil
	}
	type plain SwitchConfig
	var p plain
	if err := strictDecode(b, &p); err != nil {
		return err
	}
	*s = SwitchConfig(p)
	return nil
}

// ActionConfig is one step of an on_time automation.
//
// Supported actions:
//   - switch.turn_on / switch.turn_off / switch.toggle (target: output or schedule id)
//   - logger.log (message, level)
//   - event.publish (event, message)
//   - unit.start / unit.stop / unit.restart (target: systemd unit, bare names get .service)
type ActionConfig struct {
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
	Event   string `json:"event,omitempty"`
}

// UnmarshalJSON rejects unknown keys inside action steps; a misspelled
// "target" would otherwise silently become a no-op.
func (a *ActionConfig) UnmarshalJSON(b []byte) error {
	type plain ActionConfig
	var p plain
	if err := strictDecode(b, &p); err != nil {
		return err
	}
	*a = ActionConfig(p)
	return nil
}

func strictDecode(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
