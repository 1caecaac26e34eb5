package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"channel-manager/internal/manager"
	"channel-manager/internal/model"
)

// @Summary Create a channel instance for a tenant
// @Tags Channels
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body CreateInstanceBody true "Instance parameters"
// @Success 200 {object} Response
// @Router /api/channels [post]
func (a *API) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var body CreateInstanceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, &manager.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}
	if body.TenantID == "" {
		fail(w, &manager.ValidationError{Field: "tenant_id", Reason: "is required"})
		return
	}
	tenantID, err := uuid.Parse(body.TenantID)
	if err != nil {
		fail(w, &manager.ValidationError{Field: "tenant_id", Reason: "is not a valid UUID"})
		return
	}

	inst, err := a.Manager.CreateInstance(r.Context(), manager.CreateInstanceRequest{
		TenantID:     tenantID,
		InstanceName: body.InstanceName,
		Token:        body.Token,
	})
	if err != nil {
		fail(w, err)
		return
	}

	a.Log.Info("API: channel instance created",
		zap.String("tenant", body.TenantID),
		zap.String("instance", inst.InstanceName))
	ok(w, inst)
}

// CreateInstanceBody is the create_instance request body.
type CreateInstanceBody struct {
	TenantID     string `json:"tenant_id"`
	InstanceName string `json:"instance_name,omitempty"`
	Token        string `json:"token,omitempty"`
}

// @Summary List channel instances
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} Response
// @Router /api/channels [get]
func (a *API) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := a.Manager.ListInstances(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, instances)
}

// @Summary Fetch an instance, reconciling against the gateway
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Param instanceName path string true "Instance name"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName} [get]
func (a *API) FetchInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := a.Manager.FetchInstance(r.Context(), chi.URLParam(r, "instanceName"))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}

// @Summary Poll the instance's connection state
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Param instanceName path string true "Instance name"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/status [get]
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := a.Manager.GetStatus(r.Context(), chi.URLParam(r, "instanceName"))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}

// @Summary Start the authentication handshake and return QR / pairing code
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Param instanceName path string true "Instance name"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/qr [get]
func (a *API) GetQRCode(w http.ResponseWriter, r *http.Request) {
	inst, err := a.Manager.GetQRCode(r.Context(), chi.URLParam(r, "instanceName"))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}

// @Summary Log the instance out
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Param instanceName path string true "Instance name"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/logout [post]
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	inst, err := a.Manager.Logout(r.Context(), chi.URLParam(r, "instanceName"))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}

// SetWebhookBody is the set_webhook request body.
type SetWebhookBody struct {
	URL     *string `json:"url,omitempty"`
	Enabled bool    `json:"enabled"`
}

// @Summary Replace the instance's webhook delivery configuration
// @Tags Channels
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param instanceName path string true "Instance name"
// @Param body body SetWebhookBody true "Webhook configuration"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/webhook [put]
func (a *API) SetWebhook(w http.ResponseWriter, r *http.Request) {
	var body SetWebhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, &manager.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	inst, err := a.Manager.SetWebhook(r.Context(), chi.URLParam(r, "instanceName"), body.URL, body.Enabled)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}

// @Summary Get the instance's behavior settings
// @Tags Settings
// @Security ApiKeyAuth
// @Produce json
// @Param instanceName path string true "Instance name"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/settings [get]
func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.Manager.GetSettings(r.Context(), chi.URLParam(r, "instanceName"))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, settings)
}

// @Summary Replace the instance's behavior settings
// @Tags Settings
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param instanceName path string true "Instance name"
// @Param body body model.Settings true "Full settings object"
// @Success 200 {object} Response
// @Router /api/channels/{instanceName}/settings [put]
func (a *API) SetSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		fail(w, &manager.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	applied, err := a.Manager.SetSettings(r.Context(), chi.URLParam(r, "instanceName"), settings)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, applied)
}

// @Summary Get the tenant's channel instance
// @Tags Channels
// @Security ApiKeyAuth
// @Produce json
// @Param tenantID path string true "Tenant UUID"
// @Success 200 {object} Response
// @Router /api/tenants/{tenantID}/channel [get]
func (a *API) GetByTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		fail(w, &manager.ValidationError{Field: "tenant_id", Reason: "is not a valid UUID"})
		return
	}

	inst, err := a.Manager.GetByTenant(r.Context(), tenantID)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, inst)
}
