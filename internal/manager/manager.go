// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"channel-manager/internal/gateway"
	"channel-manager/internal/metrics"
	"channel-manager/internal/model"
	"channel-manager/internal/storage"
)

// Store is the persistence surface the lifecycle manager needs. It is
// implemented by storage.Storage; tests substitute an in-memory fake.
type Store interface {
	InsertInstance(ctx context.Context, inst *model.ChannelInstance) error
	GetByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error)
	GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error)
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error)
	ListInstances(ctx context.Context) ([]model.ChannelInstance, error)
	ApplyReconciliation(ctx context.Context, instanceName string, status model.Status, eventTime time.Time) (bool, error)
	SetAuthArtifacts(ctx context.Context, instanceName string, qrCode, pairingCode *string, eventTime time.Time) (bool, error)
	ClearConnection(ctx context.Context, instanceName string, eventTime time.Time) error
	UpdateWebhookURL(ctx context.Context, instanceName, url string) error
	UpdateSettings(ctx context.Context, instanceName string, settings model.Settings) error
}

// EventPublisher fans reconciled state changes out to the per-tenant event
// queues. A nil publisher disables the pipeline.
type EventPublisher interface {
	EnsureTenantQueue(tenantID string) error
	PublishConnectionEvent(ev model.ConnectionEvent) error
}

// Manager is the lifecycle controller: it validates requests, drives the
// gateway, and reconciles responses into the instance store. All writes to
// one instance go through its per-instance lock, and every reconciliation
// write is additionally recency-guarded at the store.
type Manager struct {
	store Store
	gw    *gateway.Client
	pub   EventPublisher
	log   *zap.Logger

	// callbackURL is the inbound webhook endpoint handed to the gateway at
	// instance creation. forwardURL is the default target for explicit
	// webhook reconfiguration; empty disables set_webhook without an
	// explicit URL.
	callbackURL string
	forwardURL  string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, gw *gateway.Client, pub EventPublisher, callbackURL, forwardURL string, log *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		gw:          gw,
		pub:         pub,
		log:         log,
		callbackURL: callbackURL,
		forwardURL:  forwardURL,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockInstance serializes all mutations of one instance within this
// process. Cross-process safety comes from the store's conditional writes.
func (m *Manager) lockInstance(instanceName string) func() {
	m.mu.Lock()
	l, ok := m.locks[instanceName]
	if !ok {
		l = &sync.Mutex{}
		m.locks[instanceName] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateInstanceRequest carries the caller-supplied fields of create_instance.
type CreateInstanceRequest struct {
	TenantID     uuid.UUID
	InstanceName string
	Token        string
}

// CreateInstance provisions a remote session and inserts the local record.
// The remote call happens first; if the local persist then fails, the
// remote session is torn down again so a retry cannot leave a duplicate
// session behind.
func (m *Manager) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*model.ChannelInstance, error) {
	if req.TenantID == uuid.Nil {
		metrics.LifecycleOps.WithLabelValues("create_instance", "invalid").Inc()
		return nil, &ValidationError{Field: "tenant_id", Reason: "is required"}
	}

	instanceName := req.InstanceName
	if instanceName == "" {
		instanceName = "tenant-" + req.TenantID.String()
	}
	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}

	unlock := m.lockInstance(instanceName)
	defer unlock()

	if existing, err := m.store.GetActiveByTenant(ctx, req.TenantID); err == nil && existing != nil {
		metrics.LifecycleOps.WithLabelValues("create_instance", "conflict").Inc()
		return nil, &ConflictError{TenantID: req.TenantID.String()}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, &PersistenceError{Op: "create_instance lookup", Err: err}
	}

	created, err := m.gw.CreateInstance(ctx, gateway.CreateInstanceRequest{
		InstanceName: instanceName,
		Token:        token,
		QRCode:       true,
		Webhook:      gateway.NewWebhookConfig(m.callbackURL, m.callbackURL != ""),
	})
	if err != nil {
		metrics.LifecycleOps.WithLabelValues("create_instance", "gateway_error").Inc()
		return nil, err
	}

	now := time.Now().UTC()
	inst := &model.ChannelInstance{
		ID:               uuid.New(),
		TenantID:         req.TenantID,
		InstanceName:     instanceName,
		RemoteInstanceID: created.Instance.InstanceID,
		Token:            token,
		Status:           model.StatusCreated,
		WebhookURL:       m.callbackURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.InsertInstance(ctx, inst); err != nil {
		// Tear the fresh remote session down again; a lingering session
		// would turn the caller's retry into a duplicate.
		if lerr := m.gw.Logout(ctx, instanceName); lerr != nil {
			m.log.Warn("rollback logout after failed persist",
				zap.String("instance", instanceName), zap.Error(lerr))
		}
		if errors.Is(err, storage.ErrConflict) {
			metrics.LifecycleOps.WithLabelValues("create_instance", "conflict").Inc()
			return nil, &ConflictError{TenantID: req.TenantID.String()}
		}
		metrics.LifecycleOps.WithLabelValues("create_instance", "persist_error").Inc()
		return nil, &PersistenceError{Op: "create_instance", Err: err}
	}

	if m.pub != nil {
		if err := m.pub.EnsureTenantQueue(req.TenantID.String()); err != nil {
			m.log.Warn("failed to declare tenant event queue",
				zap.String("tenant", req.TenantID.String()), zap.Error(err))
		}
	}

	metrics.LifecycleOps.WithLabelValues("create_instance", "ok").Inc()
	m.log.Info("channel instance created",
		zap.String("tenant", req.TenantID.String()),
		zap.String("instance", instanceName))
	return inst, nil
}

// GetQRCode drives the authentication handshake. On a connected instance it
// is a no-op returning the current (credential-free) record, so the
// dashboard can retry it safely.
func (m *Manager) GetQRCode(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	inst, err := m.getByName(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	if inst.Status == model.StatusConnected {
		metrics.LifecycleOps.WithLabelValues("get_qr_code", "noop").Inc()
		return inst, nil
	}

	asOf := time.Now().UTC()
	conn, err := m.gw.Connect(ctx, instanceName)
	if err != nil {
		metrics.LifecycleOps.WithLabelValues("get_qr_code", "gateway_error").Inc()
		return nil, err
	}

	qr := conn.Base64
	if qr == "" {
		qr = conn.Code
	}
	applied, err := m.store.SetAuthArtifacts(ctx, instanceName, nullable(qr), nullable(conn.PairingCode), asOf)
	if err != nil {
		return nil, &PersistenceError{Op: "get_qr_code", Err: err}
	}
	if !applied {
		// A fresher event (typically the connection opening) won the race;
		// surface whatever is current instead of the stale artifacts.
		m.log.Debug("auth artifacts discarded by newer event", zap.String("instance", instanceName))
	}

	metrics.LifecycleOps.WithLabelValues("get_qr_code", "ok").Inc()
	return m.getByName(ctx, instanceName)
}

// GetStatus polls the gateway's connection state and reconciles the local
// record. A gateway that no longer knows the instance reconciles to
// disconnected rather than failing.
func (m *Manager) GetStatus(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	if _, err := m.getByName(ctx, instanceName); err != nil {
		return nil, err
	}

	// The recency marker is taken before the round trip so that a response
	// delayed in flight cannot outrank events that arrived meanwhile.
	asOf := time.Now().UTC()
	state := "close"
	resp, err := m.gw.ConnectionState(ctx, instanceName)
	switch {
	case err == nil:
		state = resp.Instance.State
	case gateway.IsNotFound(err):
		// reconcile to disconnected below
	default:
		metrics.LifecycleOps.WithLabelValues("get_instance_status", "gateway_error").Inc()
		return nil, err
	}

	if _, err := m.Reconcile(ctx, instanceName, model.ConnectionStateFromRemote(state), asOf); err != nil {
		return nil, err
	}
	metrics.LifecycleOps.WithLabelValues("get_instance_status", "ok").Inc()
	return m.getByName(ctx, instanceName)
}

// FetchInstance reconciles against the gateway's instance listing and
// returns the refreshed local record.
func (m *Manager) FetchInstance(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	if _, err := m.getByName(ctx, instanceName); err != nil {
		return nil, err
	}

	asOf := time.Now().UTC()
	state := "close"
	info, err := m.gw.FetchInstance(ctx, instanceName)
	if err != nil {
		metrics.LifecycleOps.WithLabelValues("fetch_instance", "gateway_error").Inc()
		return nil, err
	}
	if info != nil {
		state = info.ConnectionStatus
	}

	if _, err := m.Reconcile(ctx, instanceName, model.ConnectionStateFromRemote(state), asOf); err != nil {
		return nil, err
	}
	metrics.LifecycleOps.WithLabelValues("fetch_instance", "ok").Inc()
	return m.getByName(ctx, instanceName)
}

// Logout releases the channel. The remote call is best-effort: a stuck
// local "connected" record blocks re-authentication more than a lingering
// remote session does, so local state is cleared regardless.
func (m *Manager) Logout(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	inst, err := m.getByName(ctx, instanceName)
	if err != nil {
		return nil, err
	}

	if inst.Active() {
		if err := m.gw.Logout(ctx, instanceName); err != nil {
			m.log.Warn("remote logout failed, clearing local state anyway",
				zap.String("instance", instanceName), zap.Error(err))
		}
	}

	if err := m.store.ClearConnection(ctx, instanceName, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{InstanceName: instanceName}
		}
		return nil, &PersistenceError{Op: "logout_instance", Err: err}
	}

	if inst.Active() {
		m.publishConnectionEvent(inst.TenantID, instanceName, model.StatusDisconnected, time.Now().UTC())
	}

	metrics.LifecycleOps.WithLabelValues("logout_instance", "ok").Inc()
	m.log.Info("channel instance logged out", zap.String("instance", instanceName))
	return m.getByName(ctx, instanceName)
}

// SetWebhook pushes a delivery descriptor to the gateway and records the
// applied URL. Without a configured forward URL the caller must supply one.
func (m *Manager) SetWebhook(ctx context.Context, instanceName string, url *string, enabled bool) (*model.ChannelInstance, error) {
	unlock := m.lockInstance(instanceName)
	defer unlock()

	if _, err := m.getByName(ctx, instanceName); err != nil {
		return nil, err
	}

	target := m.forwardURL
	if url != nil && *url != "" {
		target = *url
	}
	if target == "" && enabled {
		return nil, &ConfigurationError{
			Reason: "no webhook forward URL configured and none supplied in the request",
		}
	}

	if err := m.gw.SetWebhook(ctx, instanceName, gateway.NewWebhookConfig(target, enabled)); err != nil {
		metrics.LifecycleOps.WithLabelValues("set_webhook", "gateway_error").Inc()
		return nil, err
	}

	if err := m.store.UpdateWebhookURL(ctx, instanceName, target); err != nil {
		return nil, &PersistenceError{Op: "set_webhook", Err: err}
	}

	metrics.LifecycleOps.WithLabelValues("set_webhook", "ok").Inc()
	return m.getByName(ctx, instanceName)
}

// GetByTenant returns the tenant's most recent instance without touching
// the gateway.
func (m *Manager) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error) {
	if tenantID == uuid.Nil {
		return nil, &ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	inst, err := m.store.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{InstanceName: "tenant " + tenantID.String()}
		}
		return nil, &PersistenceError{Op: "get_instance_by_tenant", Err: err}
	}
	return inst, nil
}

// ListInstances returns every local record, for the dashboard's channel
// overview.
func (m *Manager) ListInstances(ctx context.Context) ([]model.ChannelInstance, error) {
	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list_instances", Err: err}
	}
	return instances, nil
}

func (m *Manager) getByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	inst, err := m.store.GetByName(ctx, instanceName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{InstanceName: instanceName}
		}
		return nil, &PersistenceError{Op: "lookup", Err: err}
	}
	return inst, nil
}

func (m *Manager) publishConnectionEvent(tenantID uuid.UUID, instanceName string, status model.Status, at time.Time) {
	if m.pub == nil {
		return
	}
	ev := model.ConnectionEvent{
		TenantID:     tenantID.String(),
		InstanceName: instanceName,
		Status:       status,
		IsConnected:  status == model.StatusConnected,
		OccurredAt:   at,
	}
	if err := m.pub.PublishConnectionEvent(ev); err != nil {
		m.log.Warn("failed to publish connection event",
			zap.String("instance", instanceName), zap.Error(err))
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
