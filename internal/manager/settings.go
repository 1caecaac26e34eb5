// internal/manager/settings.go
package manager

import (
	"context"

	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
)

// GetSettings returns the behavior configuration the gateway currently has
// applied, falling back to the documented defaults when it has none stored.
// The local cache is refreshed with whatever was returned.
func (m *Manager) GetSettings(ctx context.Context, instanceName string) (*model.Settings, error) {
	if _, err := m.getByName(ctx, instanceName); err != nil {
		return nil, err
	}

	remote, err := m.gw.GetSettings(ctx, instanceName)
	if err != nil {
		metrics.LifecycleOps.WithLabelValues("get_instance_settings", "gateway_error").Inc()
		return nil, err
	}

	settings := model.DefaultSettings()
	if remote != nil {
		settings = *remote
	}

	if err := m.store.UpdateSettings(ctx, instanceName, settings); err != nil {
		return nil, &PersistenceError{Op: "get_instance_settings", Err: err}
	}

	metrics.LifecycleOps.WithLabelValues("get_instance_settings", "ok").Inc()
	return &settings, nil
}

// SetSettings pushes a full replacement of the behavior configuration.
// Partial updates are not supported; the caller supplies the complete value
// object, and on success it replaces the cached settings verbatim.
func (m *Manager) SetSettings(ctx context.Context, instanceName string, settings model.Settings) (*model.Settings, error) {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	if _, err := m.getByName(ctx, instanceName); err != nil {
		return nil, err
	}

	if err := m.gw.SetSettings(ctx, instanceName, settings); err != nil {
		metrics.LifecycleOps.WithLabelValues("set_instance_settings", "gateway_error").Inc()
		return nil, err
	}

	if err := m.store.UpdateSettings(ctx, instanceName, settings); err != nil {
		return nil, &PersistenceError{Op: "set_instance_settings", Err: err}
	}

	metrics.LifecycleOps.WithLabelValues("set_instance_settings", "ok").Inc()
	return &settings, nil
}
