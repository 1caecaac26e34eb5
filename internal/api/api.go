package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"channel-manager/internal/auth"
	"channel-manager/internal/manager"
	"channel-manager/internal/metrics"
	"channel-manager/internal/worker"
)

type API struct {
	Manager       *manager.Manager
	Pool          *worker.Pool
	Auth          *auth.Auth
	Log           *zap.Logger
	WebhookSecret string
}

func NewAPI(m *manager.Manager, pool *worker.Pool, a *auth.Auth, secret string, log *zap.Logger) *API {
	return &API{
		Manager:       m,
		Pool:          pool,
		Auth:          a,
		Log:           log,
		WebhookSecret: secret,
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Get("/health", a.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Post("/webhooks/provider", a.IngestProviderEvent)

	// Secured
	r.Group(func(r chi.Router) {
		r.Use(a.Auth.Middleware)

		r.Post("/api/channels", a.CreateInstance)
		r.Get("/api/channels", a.ListInstances)
		r.Get("/api/channels/{instanceName}", a.FetchInstance)
		r.Get("/api/channels/{instanceName}/status", a.GetStatus)
		r.Get("/api/channels/{instanceName}/qr", a.GetQRCode)
		r.Post("/api/channels/{instanceName}/logout", a.Logout)
		r.Put("/api/channels/{instanceName}/webhook", a.SetWebhook)
		r.Get("/api/channels/{instanceName}/settings", a.GetSettings)
		r.Put("/api/channels/{instanceName}/settings", a.SetSettings)
		r.Get("/api/tenants/{tenantID}/channel", a.GetByTenant)
	})

	return r
}

// @Summary Service health
// @Tags Ops
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
