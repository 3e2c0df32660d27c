package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

// levels maps the names accepted in the logging section to zerolog levels.
var levels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

func lookupLevel(name string) (zerolog.Level, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, true
	}
	lvl, ok := levels[name]
	return lvl, ok
}

// levelOf returns the level for name, info when it is empty or unknown.
func levelOf(name string) zerolog.Level {
	if lvl, ok := lookupLevel(name); ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether name is a level the logging section accepts.
// The empty string means info.
func ValidLevel(name string) bool {
	_, ok := lookupLevel(name)
	return ok
}
