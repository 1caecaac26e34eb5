// internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
)

// Error is a tagged failure from the remote gateway: any non-2xx response
// or a body that cannot be decoded. The client never retries; retry policy
// belongs to the caller.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Status == http.StatusNotFound
}

// Client is a thin request/response wrapper over the gateway's REST API.
// It holds no state beyond its credentials and HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a gateway client. Both the base URL and the API key are
// mandatory; their absence is a configuration error surfaced before any
// network call is made.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway base URL is not configured")
	}
	if apiKey == "" {
		return nil, errors.New("gateway API key is not configured")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// CreateInstance provisions a new session on the gateway.
func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreateInstanceResponse, error) {
	var out CreateInstanceResponse
	if err := c.do(ctx, "create_instance", http.MethodPost, "/instance/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connect starts the authentication handshake and returns the QR / pairing
// code artifacts the tenant scans to bind a device.
func (c *Client) Connect(ctx context.Context, instanceName string) (*ConnectResponse, error) {
	var out ConnectResponse
	path := "/instance/connect/" + url.PathEscape(instanceName)
	if err := c.do(ctx, "connect", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectionState polls the gateway for the instance's current state.
func (c *Client) ConnectionState(ctx context.Context, instanceName string) (*ConnectionStateResponse, error) {
	var out ConnectionStateResponse
	path := "/instance/connectionState/" + url.PathEscape(instanceName)
	if err := c.do(ctx, "connection_state", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchInstance looks the instance up on the gateway. A nil InstanceInfo
// with a nil error means the gateway does not know the instance.
func (c *Client) FetchInstance(ctx context.Context, instanceName string) (*InstanceInfo, error) {
	var out []InstanceInfo
	path := "/instance/fetchInstances?instanceName=" + url.QueryEscape(instanceName)
	if err := c.do(ctx, "fetch_instance", http.MethodGet, path, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for i := range out {
		if out[i].Name == instanceName {
			return &out[i], nil
		}
	}
	return nil, nil
}

// Logout tears the remote session down.
func (c *Client) Logout(ctx context.Context, instanceName string) error {
	path := "/instance/logout/" + url.PathEscape(instanceName)
	return c.do(ctx, "logout", http.MethodDelete, path, nil, nil)
}

// SetWebhook replaces the instance's delivery descriptor.
func (c *Client) SetWebhook(ctx context.Context, instanceName string, cfg WebhookConfig) error {
	path := "/webhook/set/" + url.PathEscape(instanceName)
	body := map[string]WebhookConfig{"webhook": cfg}
	return c.do(ctx, "set_webhook", http.MethodPost, path, body, nil)
}

// GetSettings fetches the behavior configuration stored on the gateway.
// A nil Settings with a nil error means the gateway has none stored.
func (c *Client) GetSettings(ctx context.Context, instanceName string) (*model.Settings, error) {
	var out model.Settings
	path := "/settings/find/" + url.PathEscape(instanceName)
	if err := c.do(ctx, "get_settings", http.MethodGet, path, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// SetSettings pushes a full replacement of the behavior configuration.
func (c *Client) SetSettings(ctx context.Context, instanceName string, settings model.Settings) error {
	path := "/settings/set/" + url.PathEscape(instanceName)
	return c.do(ctx, "set_settings", http.MethodPost, path, settings, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(operation, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.GatewayRequestDuration.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(payload)}
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return &Error{Status: resp.StatusCode, Message: "malformed response body"}
		}
	}
	return nil
}

// errorMessage pulls a human-readable message out of a gateway error body.
func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if len(payload) == 0 {
		return "empty response"
	}
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return string(payload)
}
