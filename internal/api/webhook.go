// internal/api/webhook.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"channel-manager/internal/model"
)

// maxEventBody bounds inbound webhook payloads; provider events are small.
const maxEventBody = 1 << 20

// @Summary Ingest an asynchronous provider event
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /webhooks/provider [post]
//
// IngestProviderEvent acknowledges every structurally parseable delivery
// with 2xx. Anything that cannot be parsed or matched is logged and dropped
// rather than errored, so the provider never starts a retry storm against
// us. Actual reconciliation happens on the worker pool.
func (a *API) IngestProviderEvent(w http.ResponseWriter, r *http.Request) {
	if a.WebhookSecret != "" && r.Header.Get("apikey") != a.WebhookSecret {
		writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "unauthorized"})
		return
	}

	arrival := time.Now().UTC()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		a.Log.Warn("failed to read webhook body", zap.Error(err))
		ok(w, nil)
		return
	}

	var ev model.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		a.Log.Warn("discarding unparseable provider event", zap.Error(err))
		ok(w, nil)
		return
	}

	if !a.Pool.Dispatch(ev, arrival) {
		// Queue overflow: acknowledge anyway, the next poll reconciles.
		a.Log.Warn("webhook queue full, event dropped",
			zap.String("instance", ev.Instance),
			zap.String("event", ev.Event))
	}
	ok(w, nil)
}
