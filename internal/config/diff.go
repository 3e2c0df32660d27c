package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tasker/pkg/logx"
)

// Sections that can only take effect after a restart.
var restartSections = map[string]bool{
	"clock":     true,
	"storage":   true,
	"mqtt":      true,
	"outputs":   true,
	"schedules": true,
}

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) structured attrs for logging and (3) the ids of schedules that were
// added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(normLogging(oldCfg.Logging), normLogging(newCfg.Logging)) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Clock.Timezone) != strings.TrimSpace(newCfg.Clock.Timezone) ||
		strings.TrimSpace(oldCfg.Clock.PollInterval) != strings.TrimSpace(newCfg.Clock.PollInterval) ||
		oldCfg.Clock.MinYear != newCfg.Clock.MinYear {
		changed = append(changed, "clock")
		attrs = append(attrs,
			logx.String("clock.timezone", strings.TrimSpace(newCfg.Clock.Timezone)),
			logx.String("clock.poll_interval", strings.TrimSpace(newCfg.Clock.PollInterval)),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
			logx.String("storage.busy_timeout", nS.BusyTimeout),
		)
	}

	if !reflect.DeepEqual(derefMQTT(oldCfg.MQTT), derefMQTT(newCfg.MQTT)) {
		changed = append(changed, "mqtt")
		m := derefMQTT(newCfg.MQTT)
		attrs = append(attrs,
			logx.Bool("mqtt.enabled", newCfg.MQTT != nil),
			logx.String("mqtt.broker", m.Broker),
		)
	}

	if !reflect.DeepEqual(oldCfg.Outputs, newCfg.Outputs) {
		changed = append(changed, "outputs")
		attrs = append(attrs, logx.Int("outputs.count", len(newCfg.Outputs)))
	}

	schedChanged := diffSchedules(oldCfg.Schedules, newCfg.Schedules)
	if len(schedChanged) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(schedChanged)),
			logx.Int("schedules.count", len(newCfg.Schedules)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, schedChanged
}

// NeedsRestart reports which of the changed sections can't be hot-applied.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func normLogging(l LoggingConfig) LoggingConfig {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	l.File.Path = strings.TrimSpace(l.File.Path)
	return l
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := *s
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	out.Path = strings.TrimSpace(out.Path)
	out.BusyTimeout = strings.TrimSpace(out.BusyTimeout)
	return out
}

func derefMQTT(m *MQTTConfig) MQTTConfig {
	if m == nil {
		return MQTTConfig{}
	}
	out := *m
	out.Broker = strings.TrimSpace(out.Broker)
	return out
}

func diffSchedules(oldS, newS []ScheduleConfig) []string {
	oldM := make(map[string]ScheduleConfig, len(oldS))
	for _, s := range oldS {
		oldM[strings.TrimSpace(s.ID)] = s
	}
	newM := make(map[string]ScheduleConfig, len(newS))
	for _, s := range newS {
		newM[strings.TrimSpace(s.ID)] = s
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, inOld := oldM[id]
		n, inNew := newM[id]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)

	// Reordering changes firing order even when no record changed.
	if len(out) == 0 && len(oldS) == len(newS) {
		for i := range oldS {
			if strings.TrimSpace(oldS[i].ID) != strings.TrimSpace(newS[i].ID) {
				return []string{"(order)"}
			}
		}
	}
	return out
}
