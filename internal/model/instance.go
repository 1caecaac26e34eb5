// internal/model/instance.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a channel instance. It is only ever
// written by the lifecycle manager, either through an explicit transition
// or through reconciliation against the remote gateway.
type Status string

const (
	StatusCreated      Status = "created"
	StatusAwaitingAuth Status = "awaiting_auth"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ConnectionStateFromRemote maps the gateway's connection state string onto
// a local Status. Anything the gateway reports that we do not recognize is
// treated as disconnected.
func ConnectionStateFromRemote(state string) Status {
	switch state {
	case "open":
		return StatusConnected
	case "connecting":
		return StatusAwaitingAuth
	default:
		return StatusDisconnected
	}
}

// ChannelInstance is the local record of one tenant's messaging session
// against the remote gateway. At most one non-disconnected instance may
// exist per tenant; the storage layer enforces this with a partial unique
// index.
type ChannelInstance struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TenantID         uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	InstanceName     string     `json:"instance_name" db:"instance_name"`
	RemoteInstanceID string     `json:"remote_instance_id,omitempty" db:"remote_instance_id"`
	Token            string     `json:"-" db:"token"`
	Status           Status     `json:"status" db:"status"`
	IsConnected      bool       `json:"is_connected" db:"is_connected"`
	QRCode           *string    `json:"qr_code,omitempty" db:"qr_code"`
	PairingCode      *string    `json:"pairing_code,omitempty" db:"pairing_code"`
	WebhookURL       string     `json:"webhook_url,omitempty" db:"webhook_url"`
	Settings         *Settings  `json:"settings,omitempty" db:"settings"`
	LastConnectedAt  *time.Time `json:"last_connected_at,omitempty" db:"last_connected_at"`
	LastEventAt      *time.Time `json:"-" db:"last_event_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Active reports whether the instance still occupies the tenant's single
// channel slot.
func (c *ChannelInstance) Active() bool {
	return c.Status != StatusDisconnected
}
