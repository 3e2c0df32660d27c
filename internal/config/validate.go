package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	logx "tasker/pkg/logx"
	"tasker/pkg/systemdmanager"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultMaxTextLength bounds persisted text fields unless max_length is set.
const DefaultMaxTextLength = 32

// DefaultHistorySize is the per-schedule firing history kept by storage.
const DefaultHistorySize = 200

// Action names accepted in on_time lists.
const (
	ActionSwitchOn    = "switch.turn_on"
	ActionSwitchOff   = "switch.turn_off"
	ActionToggle      = "switch.toggle"
	ActionLog         = "logger.log"
	ActionPublish     = "event.publish"
	ActionUnitStart   = "unit.start"
	ActionUnitStop    = "unit.stop"
	ActionUnitRestart = "unit.restart"
)

// Validate checks cfg and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		bad("logging.level: unknown level %q", lv)
	}

	if _, err := cfg.Clock.Interval(); err != nil {
		bad("%v", err)
	}
	if _, err := cfg.Clock.Location(); err != nil {
		bad("%v", err)
	}
	if cfg.Clock.MinYear < 0 {
		bad("clock.min_year: must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				bad("storage.path: required for driver %q", s.Driver)
			}
		default:
			bad("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			bad("%v", err)
		}
		if s.HistorySize < 0 {
			bad("storage.history_size: must be >= 0")
		}
	}

	if m := cfg.MQTT; m != nil {
		checkMQTT(bad, m)
	}

	// Outputs and schedules share one id namespace; switch actions target
	// either a standalone output or a schedule's enable switch.
	ids := map[string]string{}
	switches := map[string]bool{}
	for i, o := range cfg.Outputs {
		id := strings.TrimSpace(o.ID)
		path := fmt.Sprintf("outputs[%d]", i)
		if id == "" {
			bad("%s.id: required", path)
			continue
		}
		if prev, dup := ids[id]; dup {
			bad("%s.id: %q already used by %s", path, id, prev)
			continue
		}
		ids[id] = path
		switches[id] = true
		checkTopicID(bad, cfg, path, id)
	}

	if len(cfg.Schedules) == 0 {
		bad("schedules: at least one schedule is required")
	}
	for i, s := range cfg.Schedules {
		id := strings.TrimSpace(s.ID)
		path := fmt.Sprintf("schedules[%d]", i)
		if id == "" {
			bad("%s.id: required", path)
		} else if prev, dup := ids[id]; dup {
			bad("%s.id: %q already used by %s", path, id, prev)
		} else {
			ids[id] = path
			if s.Enable != nil {
				switches[id] = true
			}
			checkTopicID(bad, cfg, path, id)
		}
		if s.Times == nil {
			bad("%s.times: required", path)
		} else {
			checkText(bad, path+".times", s.Times)
		}
		if s.Days != nil {
			checkText(bad, path+".days", s.Days)
		}
	}

	for i, s := range cfg.Schedules {
		for j, a := range s.OnTime {
			checkAction(bad, fmt.Sprintf("schedules[%d].on_time[%d]", i, j), a, switches)
		}
	}

	return errors.Join(errs...)
}

// Validator adapts Validate to ConfigManager.SetValidator.
func Validator(ctx context.Context, cfg *Config) error {
	_ = ctx
	return Validate(cfg)
}

func checkText(bad func(string, ...any), path string, t *TextConfig) {
	if t.MaxLength < 0 {
		bad("%s.max_length: must be >= 0", path)
		return
	}
	if n := len(t.Initial); n > t.MaxLen() {
		bad("%s.initial: %d bytes exceeds max_length %d", path, n, t.MaxLen())
	}
}

// MaxLen is max_length with the default applied.
func (t TextConfig) MaxLen() int {
	if t.MaxLength > 0 {
		return t.MaxLength
	}
	return DefaultMaxTextLength
}

func checkAction(bad func(string, ...any), path string, a ActionConfig, switches map[string]bool) {
	switch strings.TrimSpace(a.Action) {
	case ActionSwitchOn, ActionSwitchOff, ActionToggle:
		target := strings.TrimSpace(a.Target)
		if target == "" {
			bad("%s.target: required for %s", path, a.Action)
		} else if !switches[target] {
			bad("%s.target: no switch named %q", path, target)
		}
	case ActionLog:
		if strings.TrimSpace(a.Message) == "" {
			bad("%s.message: required for %s", path, a.Action)
		}
		if lv := strings.TrimSpace(a.Level); lv != "" && !logx.ValidLevel(lv) {
			bad("%s.level: unknown level %q", path, lv)
		}
	case ActionPublish:
		if strings.TrimSpace(a.Event) == "" {
			bad("%s.event: required for %s", path, a.Action)
		}
	case ActionUnitStart, ActionUnitStop, ActionUnitRestart:
		if _, err := systemdmanager.UnitName(a.Target); err != nil {
			bad("%s.target: %v", path, err)
		}
	case "":
		bad("%s.action: required", path)
	default:
		bad("%s.action: unknown action %q", path, a.Action)
	}
}

func checkMQTT(bad func(string, ...any), m *MQTTConfig) {
	broker := strings.TrimSpace(m.Broker)
	if broker == "" {
		bad("mqtt.broker: required")
	} else if u, err := url.Parse(broker); err != nil || u.Host == "" {
		bad("mqtt.broker: invalid url %q", broker)
	} else {
		switch strings.ToLower(u.Scheme) {
		case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		default:
			bad("mqtt.broker: unsupported scheme %q", u.Scheme)
		}
	}
	if strings.ContainsAny(m.TopicPrefix, "+#") {
		bad("mqtt.topic_prefix: wildcards are not allowed")
	}
	if m.QoS < 0 || m.QoS > 2 {
		bad("mqtt.qos: must be 0, 1 or 2")
	}
	if _, err := ParseDurationField("mqtt.connect_timeout", m.ConnectTimeout); err != nil {
		bad("%v", err)
	}
}

// checkTopicID rejects ids that can't be a single MQTT topic level. Device
// ids become <prefix>/<id>/state and <prefix>/<id>/set.
func checkTopicID(bad func(string, ...any), cfg *Config, path, id string) {
	if cfg.MQTT == nil {
		return
	}
	if strings.ContainsAny(id, "/+#") {
		bad("%s.id: %q can't contain '/', '+' or '#' when mqtt is enabled", path, id)
	}
}

// Prefix is topic_prefix with the default applied and slashes trimmed.
func (m MQTTConfig) Prefix() string {
	p := strings.Trim(strings.TrimSpace(m.TopicPrefix), "/")
	if p == "" {
		return "tasker"
	}
	return p
}
