// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"channel-manager/internal/model"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("storage: channel instance not found")
	// ErrConflict means the tenant already holds an active (non-disconnected)
	// instance. The partial unique index raises this even when two creates race.
	ErrConflict = errors.New("storage: tenant already has an active channel instance")
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_instances (
	id                 UUID PRIMARY KEY,
	tenant_id          UUID NOT NULL,
	instance_name      TEXT NOT NULL UNIQUE,
	remote_instance_id TEXT NOT NULL DEFAULT '',
	token              TEXT NOT NULL,
	status             TEXT NOT NULL,
	is_connected       BOOLEAN NOT NULL DEFAULT FALSE,
	qr_code            TEXT,
	pairing_code       TEXT,
	webhook_url        TEXT NOT NULL DEFAULT '',
	settings           JSONB,
	last_connected_at  TIMESTAMPTZ,
	last_event_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS channel_instances_one_active_per_tenant
	ON channel_instances (tenant_id) WHERE status <> 'disconnected';
`

const instanceColumns = `id, tenant_id, instance_name, remote_instance_id, token, status,
	is_connected, qr_code, pairing_code, webhook_url, settings,
	last_connected_at, last_event_at, created_at, updated_at`

type Storage struct {
	DB *sql.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

// EnsureSchema creates the channel_instances table and the partial unique
// index that enforces one active instance per tenant.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertInstance persists a freshly created instance. A unique violation on
// either the instance name or the one-active-per-tenant index maps to
// ErrConflict.
func (s *Storage) InsertInstance(ctx context.Context, inst *model.ChannelInstance) error {
	settings, err := marshalSettings(inst.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO channel_instances
			(id, tenant_id, instance_name, remote_instance_id, token, status,
			 is_connected, qr_code, pairing_code, webhook_url, settings,
			 last_connected_at, last_event_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.DB.ExecContext(ctx, query,
		inst.ID, inst.TenantID, inst.InstanceName, inst.RemoteInstanceID,
		inst.Token, inst.Status, inst.IsConnected, inst.QRCode, inst.PairingCode,
		inst.WebhookURL, settings, inst.LastConnectedAt, inst.LastEventAt,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

// GetByName fetches an instance by its client-chosen name.
func (s *Storage) GetByName(ctx context.Context, instanceName string) (*model.ChannelInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_instances WHERE instance_name = $1`, instanceColumns)
	return s.queryOne(ctx, query, instanceName)
}

// GetActiveByTenant fetches the tenant's non-disconnected instance, if any.
func (s *Storage) GetActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM channel_instances
		WHERE tenant_id = $1 AND status <> 'disconnected'`, instanceColumns)
	return s.queryOne(ctx, query, tenantID)
}

// GetByTenant fetches the tenant's most recent instance regardless of state.
func (s *Storage) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ChannelInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM channel_instances
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, instanceColumns)
	return s.queryOne(ctx, query, tenantID)
}

// ListInstances returns every instance, newest first.
func (s *Storage) ListInstances(ctx context.Context) ([]model.ChannelInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM channel_instances ORDER BY created_at DESC`, instanceColumns)
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []model.ChannelInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// ApplyReconciliation overwrites status and is_connected from remote truth.
// The write is conditioned on event recency: a row whose last_event_at is
// already newer than eventTime is left untouched and (false, nil) is
// returned, so a delayed poll response can never clobber a fresher webhook
// state. Auth artifacts survive only while the instance stays in
// awaiting_auth; last_connected_at is stamped on the transition into
// connected.
func (s *Storage) ApplyReconciliation(ctx context.Context, instanceName string, status model.Status, eventTime time.Time) (bool, error) {
	isConnected := status == model.StatusConnected
	query := `
		UPDATE channel_instances SET
			status = $2,
			is_connected = $3,
			qr_code = CASE WHEN $2 = 'awaiting_auth' THEN qr_code ELSE NULL END,
			pairing_code = CASE WHEN $2 = 'awaiting_auth' THEN pairing_code ELSE NULL END,
			last_connected_at = CASE WHEN $3 AND NOT is_connected THEN $4 ELSE last_connected_at END,
			last_event_at = $4,
			updated_at = NOW()
		WHERE instance_name = $1
		  AND (last_event_at IS NULL OR last_event_at <= $4)
	`
	res, err := s.DB.ExecContext(ctx, query, instanceName, status, isConnected, eventTime)
	if err != nil {
		return false, fmt.Errorf("failed to apply reconciliation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SetAuthArtifacts stores freshly issued QR / pairing codes and moves the
// instance into awaiting_auth. Like reconciliation it is recency-guarded.
func (s *Storage) SetAuthArtifacts(ctx context.Context, instanceName string, qrCode, pairingCode *string, eventTime time.Time) (bool, error) {
	query := `
		UPDATE channel_instances SET
			status = 'awaiting_auth',
			is_connected = FALSE,
			qr_code = $2,
			pairing_code = $3,
			last_event_at = $4,
			updated_at = NOW()
		WHERE instance_name = $1
		  AND (last_event_at IS NULL OR last_event_at <= $4)
	`
	res, err := s.DB.ExecContext(ctx, query, instanceName, qrCode, pairingCode, eventTime)
	if err != nil {
		return false, fmt.Errorf("failed to store auth artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearConnection is the logout write: disconnected, credentials gone. It is
// deliberately unconditional so local state is always released, even when a
// newer event timestamp is on the row.
func (s *Storage) ClearConnection(ctx context.Context, instanceName string, eventTime time.Time) error {
	query := `
		UPDATE channel_instances SET
			status = 'disconnected',
			is_connected = FALSE,
			qr_code = NULL,
			pairing_code = NULL,
			last_event_at = $2,
			updated_at = NOW()
		WHERE instance_name = $1
	`
	res, err := s.DB.ExecContext(ctx, query, instanceName, eventTime)
	if err != nil {
		return fmt.Errorf("failed to clear connection: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWebhookURL persists the last successfully applied delivery endpoint.
func (s *Storage) UpdateWebhookURL(ctx context.Context, instanceName, url string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE channel_instances SET webhook_url = $2, updated_at = NOW()
		WHERE instance_name = $1`, instanceName, url)
	if err != nil {
		return fmt.Errorf("failed to update webhook url: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSettings replaces the cached settings value object verbatim.
func (s *Storage) UpdateSettings(ctx context.Context, instanceName string, settings model.Settings) error {
	buf, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE channel_instances SET settings = $2, updated_at = NOW()
		WHERE instance_name = $1`, instanceName, buf)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) queryOne(ctx context.Context, query string, args ...any) (*model.ChannelInstance, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanInstance(rows)
}

func scanInstance(rows *sql.Rows) (*model.ChannelInstance, error) {
	var (
		inst     model.ChannelInstance
		settings []byte
	)
	err := rows.Scan(
		&inst.ID, &inst.TenantID, &inst.InstanceName, &inst.RemoteInstanceID,
		&inst.Token, &inst.Status, &inst.IsConnected, &inst.QRCode,
		&inst.PairingCode, &inst.WebhookURL, &settings,
		&inst.LastConnectedAt, &inst.LastEventAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if len(settings) > 0 {
		var s model.Settings
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
		inst.Settings = &s
	}
	return &inst, nil
}

func marshalSettings(s *model.Settings) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	buf, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return buf, nil
}
