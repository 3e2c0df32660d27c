// Package systemdmanager starts, stops and restarts systemd units over
// D-Bus for on_time actions.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Op is a unit job.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

var unitSuffixes = []string{
	".service", ".socket", ".timer", ".target", ".mount", ".path", ".slice", ".scope",
}

// UnitName normalizes name to a full unit name. A bare name gets the
// ".service" suffix.
func UnitName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty unit name")
	}
	if strings.ContainsAny(name, "/ \t\n") {
		return "", fmt.Errorf("invalid unit name %q", name)
	}
	for _, s := range unitSuffixes {
		if strings.HasSuffix(name, s) {
			if len(name) == len(s) {
				return "", fmt.Errorf("invalid unit name %q", name)
			}
			return name, nil
		}
	}
	return name + ".service", nil
}
