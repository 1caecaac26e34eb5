// internal/gateway/types.go
package gateway

import "channel-manager/internal/model"

// WebhookConfig is the delivery descriptor pushed to the gateway. The same
// shape is used when an instance is created and when the webhook is
// explicitly reconfigured.
type WebhookConfig struct {
	Enabled         bool     `json:"enabled"`
	URL             string   `json:"url"`
	WebhookByEvents bool     `json:"webhookByEvents"`
	WebhookBase64   bool     `json:"webhookBase64"`
	Events          []string `json:"events"`
}

// NewWebhookConfig builds the canonical descriptor. A disabled webhook
// carries an empty event list so the gateway stops delivering entirely.
func NewWebhookConfig(url string, enabled bool) WebhookConfig {
	cfg := WebhookConfig{
		Enabled:         enabled,
		URL:             url,
		WebhookByEvents: false,
		WebhookBase64:   true,
	}
	if enabled {
		cfg.Events = model.SubscribedEvents()
	} else {
		cfg.Events = []string{}
	}
	return cfg
}

// CreateInstanceRequest is the body of the instance-create call.
type CreateInstanceRequest struct {
	InstanceName string        `json:"instanceName"`
	Token        string        `json:"token"`
	QRCode       bool          `json:"qrcode"`
	Webhook      WebhookConfig `json:"webhook"`
}

// CreateInstanceResponse is the subset of the gateway's create response the
// service cares about.
type CreateInstanceResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		InstanceID   string `json:"instanceId"`
		Status       string `json:"status"`
	} `json:"instance"`
	Hash struct {
		APIKey string `json:"apikey"`
	} `json:"hash"`
}

// ConnectResponse carries the authentication artifacts of a connect call.
type ConnectResponse struct {
	Base64      string `json:"base64,omitempty"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// ConnectionStateResponse is the gateway's answer to a status poll.
type ConnectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// InstanceInfo is one element of a fetch-instances response.
type InstanceInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}
