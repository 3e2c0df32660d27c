//go:build !linux

package systemdmanager

import "context"

type ServiceManager struct{}

func NewServiceManager() *ServiceManager { return &ServiceManager{} }

func (sm *ServiceManager) StartContext(ctx context.Context, unit string) error {
	return ErrUnsupported
}

func (sm *ServiceManager) StopContext(ctx context.Context, unit string) error {
	return ErrUnsupported
}

func (sm *ServiceManager) RestartContext(ctx context.Context, unit string) error {
	return ErrUnsupported
}

func (sm *ServiceManager) Close() error { return nil }
