package storage

import (
	"context"
	"fmt"
	"strings"

	logx "tasker/pkg/logx"
)

// Store is the persistence API used by devices and the history sink.
type Store interface {
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
	PutState(ctx context.Context, key, value string) error
	AppendFiring(ctx context.Context, r FiringRecord) error
	// RecentFirings returns up to limit records for schedule, newest first.
	RecentFirings(ctx context.Context, schedule string, limit int) ([]FiringRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
