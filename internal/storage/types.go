package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot/journal for state, JSON Lines for history
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	HistorySize int           // per schedule; 0 means DefaultHistorySize
}

const DefaultHistorySize = 200

// FiringRecord is one executed firing. Keep it compact and schema-stable.
type FiringRecord struct {
	Schedule string    `json:"schedule"`
	Date     string    `json:"date"` // 2006-01-02, scheduler zone
	Time     string    `json:"time"` // HH:MM[:SS]
	At       time.Time `json:"at"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}

func (c Config) historySize() int {
	if c.HistorySize > 0 {
		return c.HistorySize
	}
	return DefaultHistorySize
}
