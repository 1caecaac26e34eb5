// internal/manager/reconcile.go
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
	"channel-manager/internal/storage"
)

// Reconcile overwrites the instance's cached state with remote truth. Both
// the status poll path and the webhook path funnel through here. The write
// is last-write-wins by event recency, not by arrival order: the store
// discards it when a newer event has already been applied, in which case
// (false, nil) is returned.
func (m *Manager) Reconcile(ctx context.Context, instanceName string, status model.Status, eventTime time.Time) (bool, error) {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	prev, err := m.store.GetByName(ctx, instanceName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, &NotFoundError{InstanceName: instanceName}
		}
		return false, &PersistenceError{Op: "reconcile lookup", Err: err}
	}

	applied, err := m.store.ApplyReconciliation(ctx, instanceName, status, eventTime)
	if err != nil {
		return false, &PersistenceError{Op: "reconcile", Err: err}
	}
	if !applied {
		metrics.ReconciliationsDiscarded.Inc()
		m.log.Debug("reconciliation discarded, newer event already applied",
			zap.String("instance", instanceName),
			zap.String("status", string(status)),
			zap.Time("event_time", eventTime))
		return false, nil
	}

	if prev.Status != status {
		m.log.Info("channel state reconciled",
			zap.String("instance", instanceName),
			zap.String("from", string(prev.Status)),
			zap.String("to", string(status)))
		m.publishConnectionEvent(prev.TenantID, instanceName, status, eventTime)
	}
	return true, nil
}

// HandleProviderEvent routes one webhook delivery into reconciliation. It
// returns MalformedEventError for payloads that cannot be parsed or matched
// to an instance; the caller logs and drops those.
func (m *Manager) HandleProviderEvent(ctx context.Context, ev model.WebhookEvent, arrival time.Time) error {
	if ev.Instance == "" {
		return &MalformedEventError{Reason: "event carries no instance name"}
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type()).Inc()

	switch ev.Type() {
	case model.EventConnectionUpdate:
		var data model.ConnectionUpdateData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.State == "" {
			return &MalformedEventError{Reason: "connection update without a state"}
		}
		_, err := m.Reconcile(ctx, ev.Instance, model.ConnectionStateFromRemote(data.State), ev.OccurredAt(arrival))
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return &MalformedEventError{Reason: "event for unknown instance " + ev.Instance}
		}
		return err

	case model.EventQRCodeUpdated:
		var data model.QRCodeUpdatedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return &MalformedEventError{Reason: "unparseable qrcode payload"}
		}
		return m.refreshAuthArtifacts(ctx, ev.Instance, data, ev.OccurredAt(arrival))

	case model.EventApplicationStartup, model.EventMessagesUpsert:
		// Startup is informational; message content is out of scope here.
		m.log.Debug("provider event ignored",
			zap.String("instance", ev.Instance), zap.String("event", ev.Type()))
		return nil

	default:
		return &MalformedEventError{Reason: "unrecognized event type " + ev.Type()}
	}
}

// refreshAuthArtifacts replaces the stored QR / pairing code while the
// handshake is still pending. Events for instances past awaiting_auth are
// stale by definition and dropped.
func (m *Manager) refreshAuthArtifacts(ctx context.Context, instanceName string, data model.QRCodeUpdatedData, eventTime time.Time) error {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	inst, err := m.store.GetByName(ctx, instanceName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &MalformedEventError{Reason: "event for unknown instance " + instanceName}
		}
		return &PersistenceError{Op: "qr refresh lookup", Err: err}
	}
	if inst.Status != model.StatusAwaitingAuth {
		m.log.Debug("qr update ignored outside awaiting_auth",
			zap.String("instance", instanceName), zap.String("status", string(inst.Status)))
		return nil
	}

	qr := data.QRCode.Base64
	if qr == "" {
		qr = data.QRCode.Code
	}
	if _, err := m.store.SetAuthArtifacts(ctx, instanceName, nullable(qr), nullable(data.QRCode.PairingCode), eventTime); err != nil {
		return &PersistenceError{Op: "qr refresh", Err: err}
	}
	return nil
}
