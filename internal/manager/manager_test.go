package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"channel-manager/internal/gateway"
	"channel-manager/internal/model"
	"channel-manager/internal/storage"
)

// fakeStore is an in-memory Store with the same conditional-write semantics
// as the Postgres layer, so ordering tests exercise the real contract.
type fakeStore struct {
	mu        sync.Mutex
	instances map[string]*model.ChannelInstance
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*model.ChannelInstance)}
}

func (s *fakeStore) InsertInstance(_ context.Context, inst *model.ChannelInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, existing := range s.instances {
		if existing.TenantID == inst.TenantID && existing.Active() {
			return storage.ErrConflict
		}
	}
	cp := *inst
	s.instances[inst.InstanceName] = &cp
	return nil
}

func (s *fakeStore) GetByName(_ context.Context, name string) (*model.ChannelInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *fakeStore) GetActiveByTenant(_ context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.Active() {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetByTenant(_ context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.ChannelInstance
	for _, inst := range s.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) {
			latest = inst
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeStore) ListInstances(_ context.Context) ([]model.ChannelInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChannelInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceName < out[j].InstanceName })
	return out, nil
}

func (s *fakeStore) ApplyReconciliation(_ context.Context, name string, status model.Status, eventTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return false, storage.ErrNotFound
	}
	if inst.LastEventAt != nil && inst.LastEventAt.After(eventTime) {
		return false, nil
	}
	connected := status == model.StatusConnected
	if connected && !inst.IsConnected {
		t := eventTime
		inst.LastConnectedAt = &t
	}
	inst.Status = status
	inst.IsConnected = connected
	if status != model.StatusAwaitingAuth {
		inst.QRCode = nil
		inst.PairingCode = nil
	}
	t := eventTime
	inst.LastEventAt = &t
	inst.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeStore) SetAuthArtifacts(_ context.Context, name string, qrCode, pairingCode *string, eventTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return false, storage.ErrNotFound
	}
	if inst.LastEventAt != nil && inst.LastEventAt.After(eventTime) {
		return false, nil
	}
	inst.Status = model.StatusAwaitingAuth
	inst.IsConnected = false
	inst.QRCode = qrCode
	inst.PairingCode = pairingCode
	t := eventTime
	inst.LastEventAt = &t
	inst.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeStore) ClearConnection(_ context.Context, name string, eventTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return storage.ErrNotFound
	}
	inst.Status = model.StatusDisconnected
	inst.IsConnected = false
	inst.QRCode = nil
	inst.PairingCode = nil
	t := eventTime
	inst.LastEventAt = &t
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) UpdateWebhookURL(_ context.Context, name, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return storage.ErrNotFound
	}
	inst.WebhookURL = url
	return nil
}

func (s *fakeStore) UpdateSettings(_ context.Context, name string, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return storage.ErrNotFound
	}
	cp := settings
	inst.Settings = &cp
	return nil
}

// fakeGateway is an httptest-backed gateway that records every request path
// and serves canned lifecycle responses.
type fakeGateway struct {
	srv *httptest.Server

	mu            sync.Mutex
	calls         []string
	state         string
	connectBase64 string
	connectCode   string
	pairingCode   string
	logoutStatus  int
	createStatus  int
	settings      *model.Settings
	lastWebhook   map[string]gateway.WebhookConfig
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		state:         "connecting",
		connectBase64: "data:image/png;base64,abc",
		pairingCode:   "ABCD-1234",
		logoutStatus:  http.StatusOK,
		createStatus:  http.StatusCreated,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/instance/create", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		if g.createStatus >= 400 {
			writeErr(w, g.createStatus, "create refused")
			return
		}
		var req gateway.CreateInstanceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp gateway.CreateInstanceResponse
		resp.Instance.InstanceName = req.InstanceName
		resp.Instance.InstanceID = "remote-" + req.InstanceName
		resp.Instance.Status = "created"
		w.WriteHeader(g.createStatus)
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/instance/connect/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		_ = json.NewEncoder(w).Encode(gateway.ConnectResponse{
			Base64:      g.connectBase64,
			Code:        g.connectCode,
			PairingCode: g.pairingCode,
		})
	})
	mux.HandleFunc("/instance/connectionState/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		var out gateway.ConnectionStateResponse
		out.Instance.State = g.state
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/instance/fetchInstances", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		name := r.URL.Query().Get("instanceName")
		_ = json.NewEncoder(w).Encode([]gateway.InstanceInfo{
			{ID: "remote-" + name, Name: name, ConnectionStatus: g.state},
		})
	})
	mux.HandleFunc("/instance/logout/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		if g.logoutStatus >= 400 {
			writeErr(w, g.logoutStatus, "logout failed")
			return
		}
		w.WriteHeader(g.logoutStatus)
	})
	mux.HandleFunc("/webhook/set/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		var body map[string]gateway.WebhookConfig
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.lastWebhook = body
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/settings/find/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		if g.settings == nil {
			writeErr(w, http.StatusNotFound, "no settings")
			return
		}
		_ = json.NewEncoder(w).Encode(g.settings)
	})
	mux.HandleFunc("/settings/set/", func(w http.ResponseWriter, r *http.Request) {
		g.record(r)
		var s model.Settings
		_ = json.NewDecoder(r.Body).Decode(&s)
		g.mu.Lock()
		g.settings = &s
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) record(r *http.Request) {
	g.mu.Lock()
	g.calls = append(g.calls, r.Method+" "+r.URL.Path)
	g.mu.Unlock()
}

func (g *fakeGateway) callCount(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func newTestManager(t *testing.T, store Store, g *fakeGateway) *Manager {
	t.Helper()
	gw, err := gateway.NewClient(g.srv.URL, "test-key", 5*time.Second)
	require.NoError(t, err)
	return NewManager(store, gw, nil, "http://dashboard.local/webhooks/provider", "http://crm.local/events", zap.NewNop())
}

func TestCreateInstanceRequiresTenantID(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)

	_, err := m.CreateInstance(context.Background(), CreateInstanceRequest{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tenant_id", verr.Field)
	assert.Zero(t, g.callCount("POST /instance/create"), "no remote call for an invalid request")
}

func TestCreateInstanceDefaultsNameAndToken(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	tenantID := uuid.New()

	inst, err := m.CreateInstance(context.Background(), CreateInstanceRequest{TenantID: tenantID})
	require.NoError(t, err)

	assert.Equal(t, "tenant-"+tenantID.String(), inst.InstanceName)
	assert.NotEmpty(t, inst.Token)
	assert.Equal(t, model.StatusCreated, inst.Status)
	assert.Equal(t, "remote-"+inst.InstanceName, inst.RemoteInstanceID)
	assert.Equal(t, "http://dashboard.local/webhooks/provider", inst.WebhookURL)

	stored, err := store.GetByName(context.Background(), inst.InstanceName)
	require.NoError(t, err)
	assert.Equal(t, tenantID, stored.TenantID)
}

func TestCreateInstanceConflictOnSecondActive(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)
	tenantID := uuid.New()

	_, err := m.CreateInstance(context.Background(), CreateInstanceRequest{TenantID: tenantID, InstanceName: "first"})
	require.NoError(t, err)

	_, err = m.CreateInstance(context.Background(), CreateInstanceRequest{TenantID: tenantID, InstanceName: "second"})
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, tenantID.String(), cerr.TenantID)
	assert.Equal(t, 1, g.callCount("POST /instance/create"), "the conflicting request never reaches the gateway")
}

func TestCreateInstanceRollsBackRemoteOnPersistFailure(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	store.insertErr = errors.New("disk on fire")
	m := newTestManager(t, store, g)

	_, err := m.CreateInstance(context.Background(), CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "doomed"})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, g.callCount("DELETE /instance/logout/"), "fresh remote session is torn down again")
}

func TestHandshakeLifecycle(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	created, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-a"})
	require.NoError(t, err)
	require.Equal(t, model.StatusCreated, created.Status)

	// Handshake: QR and pairing code become visible, status moves on.
	inst, err := m.GetQRCode(ctx, "shop-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingAuth, inst.Status)
	require.NotNil(t, inst.QRCode)
	assert.Equal(t, "data:image/png;base64,abc", *inst.QRCode)
	require.NotNil(t, inst.PairingCode)
	assert.Equal(t, "ABCD-1234", *inst.PairingCode)

	// Tenant scans; the next poll sees the session open.
	g.state = "open"
	inst, err = m.GetStatus(ctx, "shop-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, inst.Status)
	assert.True(t, inst.IsConnected)
	assert.Nil(t, inst.QRCode, "auth artifacts cleared once connected")
	assert.Nil(t, inst.PairingCode)
	require.NotNil(t, inst.LastConnectedAt)
}

func TestGetQRCodeIsNoopWhenConnected(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-b"})
	require.NoError(t, err)
	g.state = "open"
	_, err = m.GetStatus(ctx, "shop-b")
	require.NoError(t, err)

	before := g.callCount("GET /instance/connect/")
	inst, err := m.GetQRCode(ctx, "shop-b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, inst.Status)
	assert.Equal(t, before, g.callCount("GET /instance/connect/"), "no handshake restart on a live session")
}

func TestGetStatusUnknownInstanceIsNotFound(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)

	_, err := m.GetStatus(context.Background(), "ghost")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Zero(t, g.callCount("GET /instance/connectionState/"))
}

func TestLogoutClearsLocalStateEvenWhenRemoteFails(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-c"})
	require.NoError(t, err)
	g.state = "open"
	_, err = m.GetStatus(ctx, "shop-c")
	require.NoError(t, err)

	g.logoutStatus = http.StatusInternalServerError
	inst, err := m.Logout(ctx, "shop-c")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisconnected, inst.Status)
	assert.False(t, inst.IsConnected)
	assert.Nil(t, inst.QRCode)
}

func TestLogoutIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-d"})
	require.NoError(t, err)

	_, err = m.Logout(ctx, "shop-d")
	require.NoError(t, err)
	remoteCalls := g.callCount("DELETE /instance/logout/")

	inst, err := m.Logout(ctx, "shop-d")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisconnected, inst.Status)
	assert.Equal(t, remoteCalls, g.callCount("DELETE /instance/logout/"),
		"already-disconnected instance skips the remote call")
}

func TestTenantCanRecreateAfterLogout(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: tenantID, InstanceName: "old"})
	require.NoError(t, err)
	_, err = m.Logout(ctx, "old")
	require.NoError(t, err)

	inst, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: tenantID, InstanceName: "new"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, inst.Status)
}

func TestStaleReconciliationIsDiscarded(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-e"})
	require.NoError(t, err)

	now := time.Now().UTC()
	applied, err := m.Reconcile(ctx, "shop-e", model.StatusConnected, now)
	require.NoError(t, err)
	require.True(t, applied)

	// A poll response that left the gateway before the webhook arrived.
	applied, err = m.Reconcile(ctx, "shop-e", model.StatusDisconnected, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	inst, err := store.GetByName(ctx, "shop-e")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, inst.Status, "stale disconnect does not clobber the live state")
}

func TestHandleProviderEventConnectionUpdate(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-f"})
	require.NoError(t, err)

	data, _ := json.Marshal(model.ConnectionUpdateData{State: "open"})
	err = m.HandleProviderEvent(ctx, model.WebhookEvent{
		Event:    "connection.update",
		Instance: "shop-f",
		Data:     data,
	}, time.Now().UTC())
	require.NoError(t, err)

	inst, err := store.GetByName(ctx, "shop-f")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, inst.Status)
}

func TestHandleProviderEventMalformed(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)
	ctx := context.Background()
	arrival := time.Now().UTC()

	cases := []struct {
		name string
		ev   model.WebhookEvent
	}{
		{"missing instance", model.WebhookEvent{Event: "CONNECTION_UPDATE"}},
		{"unknown instance", model.WebhookEvent{
			Event:    "CONNECTION_UPDATE",
			Instance: "ghost",
			Data:     json.RawMessage(`{"state":"open"}`),
		}},
		{"connection update without state", model.WebhookEvent{
			Event:    "CONNECTION_UPDATE",
			Instance: "ghost",
			Data:     json.RawMessage(`{}`),
		}},
		{"unrecognized type", model.WebhookEvent{Event: "CALL_OFFER", Instance: "ghost"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.HandleProviderEvent(ctx, tc.ev, arrival)
			var me *MalformedEventError
			assert.ErrorAs(t, err, &me)
		})
	}
}

func TestHandleProviderEventIgnoresInformational(t *testing.T) {
	g := newFakeGateway(t)
	m := newTestManager(t, newFakeStore(), g)

	err := m.HandleProviderEvent(context.Background(), model.WebhookEvent{
		Event:    "messages.upsert",
		Instance: "anything",
	}, time.Now().UTC())
	assert.NoError(t, err)
}

func TestQRCodeUpdatedRefreshesArtifactsWhileAwaitingAuth(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-g"})
	require.NoError(t, err)
	_, err = m.GetQRCode(ctx, "shop-g")
	require.NoError(t, err)

	err = m.HandleProviderEvent(ctx, model.WebhookEvent{
		Event:    "qrcode.updated",
		Instance: "shop-g",
		Data:     json.RawMessage(`{"qrcode":{"base64":"fresh-qr","pairingCode":"WXYZ-9999"}}`),
	}, time.Now().UTC())
	require.NoError(t, err)

	inst, err := store.GetByName(ctx, "shop-g")
	require.NoError(t, err)
	require.NotNil(t, inst.QRCode)
	assert.Equal(t, "fresh-qr", *inst.QRCode)
	require.NotNil(t, inst.PairingCode)
	assert.Equal(t, "WXYZ-9999", *inst.PairingCode)
}

func TestQRCodeUpdatedIgnoredOnceConnected(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-h"})
	require.NoError(t, err)
	g.state = "open"
	_, err = m.GetStatus(ctx, "shop-h")
	require.NoError(t, err)

	err = m.HandleProviderEvent(ctx, model.WebhookEvent{
		Event:    "qrcode.updated",
		Instance: "shop-h",
		Data:     json.RawMessage(`{"qrcode":{"base64":"late-qr"}}`),
	}, time.Now().UTC())
	require.NoError(t, err)

	inst, err := store.GetByName(ctx, "shop-h")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnected, inst.Status)
	assert.Nil(t, inst.QRCode, "stale handshake artifact never resurfaces on a live session")
}

func TestSetWebhookRequiresATarget(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	gw, err := gateway.NewClient(g.srv.URL, "test-key", 5*time.Second)
	require.NoError(t, err)
	// No forward URL configured.
	m := NewManager(store, gw, nil, "", "", zap.NewNop())
	ctx := context.Background()

	_, err = m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-i"})
	require.NoError(t, err)

	_, err = m.SetWebhook(ctx, "shop-i", nil, true)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	url := "http://crm.example/inbox"
	inst, err := m.SetWebhook(ctx, "shop-i", &url, true)
	require.NoError(t, err)
	assert.Equal(t, url, inst.WebhookURL)

	g.mu.Lock()
	pushed := g.lastWebhook["webhook"]
	g.mu.Unlock()
	assert.True(t, pushed.Enabled)
	assert.Equal(t, url, pushed.URL)
	assert.Equal(t, model.SubscribedEvents(), pushed.Events)
}

func TestGetSettingsFallsBackToDefaults(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-j"})
	require.NoError(t, err)

	settings, err := m.GetSettings(ctx, "shop-j")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), *settings)

	inst, err := store.GetByName(ctx, "shop-j")
	require.NoError(t, err)
	require.NotNil(t, inst.Settings, "returned defaults are cached locally")
}

func TestSetSettingsReplacesVerbatim(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: uuid.New(), InstanceName: "shop-k"})
	require.NoError(t, err)

	desired := model.Settings{RejectCall: false, GroupsIgnore: false, AlwaysOnline: false, SyncFullHistory: true}
	applied, err := m.SetSettings(ctx, "shop-k", desired)
	require.NoError(t, err)
	assert.Equal(t, desired, *applied)

	fetched, err := m.GetSettings(ctx, "shop-k")
	require.NoError(t, err)
	assert.Equal(t, desired, *fetched)
}

func TestGetByTenantReturnsLatest(t *testing.T) {
	g := newFakeGateway(t)
	store := newFakeStore()
	m := newTestManager(t, store, g)
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := m.CreateInstance(ctx, CreateInstanceRequest{TenantID: tenantID, InstanceName: "old"})
	require.NoError(t, err)
	_, err = m.Logout(ctx, "old")
	require.NoError(t, err)

	// Force distinct creation times in the fake.
	store.mu.Lock()
	store.instances["old"].CreatedAt = time.Now().UTC().Add(-time.Hour)
	store.mu.Unlock()

	_, err = m.CreateInstance(ctx, CreateInstanceRequest{TenantID: tenantID, InstanceName: "new"})
	require.NoError(t, err)

	inst, err := m.GetByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "new", inst.InstanceName)

	_, err = m.GetByTenant(ctx, uuid.New())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
