package tasker

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every ConfigError via errors.Is.
var ErrConfig = errors.New("invalid schedule config")

// ParseError describes one token dropped from a text field.
// Parsers collect these; they are never fatal.
type ParseError struct {
	Field  string // "times" or "days"
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: skipped %q: %s", e.Field, e.Token, e.Reason)
}

// ConfigError is returned by Builder.Build for records that can't be turned
// into a schedule. It is a startup error; nothing is running yet.
type ConfigError struct {
	Schedule string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Schedule == "" {
		return "schedule: " + e.Reason
	}
	return fmt.Sprintf("schedule %q: %s", e.Schedule, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
