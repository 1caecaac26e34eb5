// internal/model/event.go
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Gateway event types the service subscribes to. The same canonical set is
// used for the webhook descriptor at instance creation and at explicit
// reconfiguration.
const (
	EventApplicationStartup = "APPLICATION_STARTUP"
	EventMessagesUpsert     = "MESSAGES_UPSERT"
	EventConnectionUpdate   = "CONNECTION_UPDATE"
	EventQRCodeUpdated      = "QRCODE_UPDATED"
)

// SubscribedEvents is the canonical event list pushed to the gateway.
func SubscribedEvents() []string {
	return []string{
		EventApplicationStartup,
		EventMessagesUpsert,
		EventConnectionUpdate,
		EventQRCodeUpdated,
	}
}

// WebhookEvent is the envelope the remote gateway delivers to the ingestion
// endpoint. The gateway spells event names lowercase with dots
// ("connection.update"); Type() normalizes them.
type WebhookEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
	DateTime time.Time       `json:"date_time"`
	Sender   string          `json:"sender,omitempty"`
}

// Type returns the normalized event type (upper snake case).
func (e *WebhookEvent) Type() string {
	return strings.ToUpper(strings.ReplaceAll(e.Event, ".", "_"))
}

// OccurredAt returns the provider timestamp of the event, falling back to
// the supplied arrival time when the envelope carried none. Recency-ordered
// reconciliation depends on this never being zero.
func (e *WebhookEvent) OccurredAt(arrival time.Time) time.Time {
	if e.DateTime.IsZero() {
		return arrival
	}
	return e.DateTime
}

// ConnectionUpdateData is the payload of a CONNECTION_UPDATE event.
type ConnectionUpdateData struct {
	State string `json:"state"`
}

// QRCodeUpdatedData is the payload of a QRCODE_UPDATED event.
type QRCodeUpdatedData struct {
	QRCode struct {
		Base64      string `json:"base64,omitempty"`
		Code        string `json:"code,omitempty"`
		PairingCode string `json:"pairingCode,omitempty"`
	} `json:"qrcode"`
}

// ConnectionEvent is what gets published on the tenant's event queue when a
// reconciliation changes the instance status.
type ConnectionEvent struct {
	TenantID     string    `json:"tenant_id"`
	InstanceName string    `json:"instance_name"`
	Status       Status    `json:"status"`
	IsConnected  bool      `json:"is_connected"`
	OccurredAt   time.Time `json:"occurred_at"`
}
