//go:build linux

package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// ServiceManager queues unit jobs on the system bus. The connection is made
// on first use and redialed after it drops.
type ServiceManager struct {
	mu   sync.Mutex
	conn *dbus.Conn
	dial func(ctx context.Context) (*dbus.Conn, error)
}

func NewServiceManager() *ServiceManager {
	return &ServiceManager{dial: dbus.NewSystemConnectionContext}
}

func (sm *ServiceManager) StartContext(ctx context.Context, unit string) error {
	return sm.do(ctx, OpStart, unit)
}

func (sm *ServiceManager) StopContext(ctx context.Context, unit string) error {
	return sm.do(ctx, OpStop, unit)
}

func (sm *ServiceManager) RestartContext(ctx context.Context, unit string) error {
	return sm.do(ctx, OpRestart, unit)
}

// do enqueues the job in "replace" mode and returns without waiting for it
// to finish.
func (sm *ServiceManager) do(ctx context.Context, op Op, unit string) error {
	name, err := UnitName(unit)
	if err != nil {
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.dial == nil {
		return errors.New("systemd manager closed")
	}
	if sm.conn != nil && !sm.conn.Connected() {
		sm.conn.Close()
		sm.conn = nil
	}
	if sm.conn == nil {
		c, err := sm.dial(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to systemd: %w", err)
		}
		sm.conn = c
	}

	switch op {
	case OpStart:
		_, err = sm.conn.StartUnitContext(ctx, name, "replace", nil)
	case OpStop:
		_, err = sm.conn.StopUnitContext(ctx, name, "replace", nil)
	case OpRestart:
		_, err = sm.conn.RestartUnitContext(ctx, name, "replace", nil)
	default:
		return fmt.Errorf("unknown unit op %q", op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, name, err)
	}
	return nil
}

func (sm *ServiceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.conn != nil {
		sm.conn.Close()
		sm.conn = nil
	}
	sm.dial = nil
	return nil
}
