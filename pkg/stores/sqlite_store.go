package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no current row exists for a business key.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// closeCurrent closes the current version row for a business key by setting
// effective_to and clearing is_current. Returns the closed row's version,
// or 0 when the business key has no current row yet.
func closeCurrent(ctx context.Context, tx *sql.Tx, table, idCol, id string, now time.Time) (int, error) {
	var version int
	query := fmt.Sprintf("SELECT version FROM %s WHERE %s = ? AND is_current = 1", table, idCol)
	err := tx.QueryRowContext(ctx, query, id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}

	update := fmt.Sprintf("UPDATE %s SET is_current = 0, effective_to = ? WHERE %s = ? AND is_current = 1", table, idCol)
	if _, err := tx.ExecContext(ctx, update, now, id); err != nil {
		return 0, fmt.Errorf("failed to close current version: %w", err)
	}

	return version, nil
}

// auditTx appends an audit trail row inside the same transaction as the
// entity change it records.
func auditTx(ctx context.Context, tx *sql.Tx, entityType, entityID, action, actor string, now time.Time) error {
	query := `INSERT INTO audit_trail (entity_type, entity_id, action, actor, timestamp) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, entityType, entityID, action, actor, now); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []string{}
	}
	return list
}

func stampNewVersion(meta *VersionMeta, prevVersion int, now time.Time) {
	meta.RecordID = uuid.New().String()
	meta.EffectiveFrom = now
	meta.EffectiveTo = nil
	meta.IsCurrent = true
	meta.Version = prevVersion + 1
}

// EnsureTenant returns the current tenant with the given name, creating
// version 1 if none exists.
func (s *SQLiteStore) EnsureTenant(ctx context.Context, name, actor string) (*TenantRecord, error) {
	query := `
		SELECT record_id, tenant_id, name, effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason
		FROM tenants
		WHERE name = ? AND is_current = 1 AND is_deleted = 0
	`

	rec := &TenantRecord{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&rec.RecordID, &rec.TenantID, &rec.Name,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	now := time.Now().UTC()
	rec = &TenantRecord{TenantID: uuid.New().String(), Name: name}
	stampNewVersion(&rec.VersionMeta, 0, now)
	rec.CreatedBy = actor
	rec.ChangeReason = "tenant created"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert := `
		INSERT INTO tenants (record_id, tenant_id, name, effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.TenantID, rec.Name,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}

	if err := auditTx(ctx, tx, "tenant", rec.TenantID, "created", actor, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant: %w", err)
	}

	return rec, nil
}

// EnsureProject returns the current project with the given name under a
// tenant, creating version 1 if none exists.
func (s *SQLiteStore) EnsureProject(ctx context.Context, tenantID, name, actor string) (*ProjectRecord, error) {
	query := `
		SELECT record_id, project_id, tenant_id, name, effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason
		FROM projects
		WHERE tenant_id = ? AND name = ? AND is_current = 1 AND is_deleted = 0
	`

	rec := &ProjectRecord{}
	err := s.db.QueryRowContext(ctx, query, tenantID, name).Scan(
		&rec.RecordID, &rec.ProjectID, &rec.TenantID, &rec.Name,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	now := time.Now().UTC()
	rec = &ProjectRecord{ProjectID: uuid.New().String(), TenantID: tenantID, Name: name}
	stampNewVersion(&rec.VersionMeta, 0, now)
	rec.CreatedBy = actor
	rec.ChangeReason = "project created"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert := `
		INSERT INTO projects (record_id, project_id, tenant_id, name, effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.ProjectID, rec.TenantID, rec.Name,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}

	if err := auditTx(ctx, tx, "project", rec.ProjectID, "created", actor, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project: %w", err)
	}

	return rec, nil
}

const sharePackColumns = `record_id, share_pack_id, project_id, name, config, strategy, status, provisioning_status, error_message, requested_by,
	effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason`

func scanSharePack(row interface{ Scan(...any) error }) (*SharePackRecord, error) {
	rec := &SharePackRecord{}
	err := row.Scan(
		&rec.RecordID, &rec.SharePackID, &rec.ProjectID, &rec.Name,
		&rec.Config, &rec.Strategy, &rec.Status, &rec.ProvisioningStatus,
		&rec.ErrorMessage, &rec.RequestedBy,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AppendSharePack appends a new version for the share pack's business key,
// closing the previous current row in the same transaction. A missing
// SharePackID starts a new business key at version 1.
func (s *SQLiteStore) AppendSharePack(ctx context.Context, rec *SharePackRecord) (*SharePackRecord, error) {
	if rec.SharePackID == "" {
		rec.SharePackID = uuid.New().String()
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := closeCurrent(ctx, tx, "share_packs", "share_pack_id", rec.SharePackID, now)
	if err != nil {
		return nil, err
	}
	stampNewVersion(&rec.VersionMeta, prev, now)

	insert := `
		INSERT INTO share_packs (record_id, share_pack_id, project_id, name, config, strategy, status, provisioning_status, error_message, requested_by,
			effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.SharePackID, rec.ProjectID, rec.Name,
		rec.Config, rec.Strategy, rec.Status, rec.ProvisioningStatus,
		rec.ErrorMessage, rec.RequestedBy,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert share pack: %w", err)
	}

	action := "created"
	if prev > 0 {
		action = "updated"
	}
	if err := auditTx(ctx, tx, "share_pack", rec.SharePackID, action, rec.CreatedBy, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit share pack: %w", err)
	}

	return rec, nil
}

// GetCurrentSharePack retrieves the current version of a share pack.
func (s *SQLiteStore) GetCurrentSharePack(ctx context.Context, sharePackID string) (*SharePackRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM share_packs WHERE share_pack_id = ? AND is_current = 1", sharePackColumns)

	rec, err := scanSharePack(s.db.QueryRowContext(ctx, query, sharePackID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share pack %s: %w", sharePackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share pack: %w", err)
	}

	return rec, nil
}

// GetCurrentSharePackByName retrieves the current non-deleted share pack with
// the given name.
func (s *SQLiteStore) GetCurrentSharePackByName(ctx context.Context, name string) (*SharePackRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM share_packs WHERE name = ? AND is_current = 1 AND is_deleted = 0", sharePackColumns)

	rec, err := scanSharePack(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share pack %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share pack by name: %w", err)
	}

	return rec, nil
}

// UpdateSharePackStatus appends a new version of the share pack with updated
// lifecycle status and progress narration.
func (s *SQLiteStore) UpdateSharePackStatus(ctx context.Context, sharePackID string, status PackStatus, provisioningStatus, errMsg, actor string) (*SharePackRecord, error) {
	cur, err := s.GetCurrentSharePack(ctx, sharePackID)
	if err != nil {
		return nil, err
	}

	next := *cur
	next.Status = status
	next.ProvisioningStatus = provisioningStatus
	next.ErrorMessage = errMsg
	next.CreatedBy = actor
	next.ChangeReason = fmt.Sprintf("status: %s", provisioningStatus)

	return s.AppendSharePack(ctx, &next)
}

// GetSharePackStatus returns the status query projection for a share pack.
func (s *SQLiteStore) GetSharePackStatus(ctx context.Context, sharePackID string) (*SharePackStatus, error) {
	cur, err := s.GetCurrentSharePack(ctx, sharePackID)
	if err != nil {
		return nil, err
	}

	// The version-1 row carries the creation time. Selecting the column
	// directly keeps its declared type; an aggregate would come back as a
	// bare string under this driver.
	var createdAt time.Time
	query := `SELECT effective_from FROM share_packs WHERE share_pack_id = ? AND version = 1`
	if err := s.db.QueryRowContext(ctx, query, sharePackID).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("failed to get share pack creation time: %w", err)
	}

	return &SharePackStatus{
		SharePackID:        cur.SharePackID,
		SharePackName:      cur.Name,
		Status:             cur.Status,
		Strategy:           cur.Strategy,
		ProvisioningStatus: cur.ProvisioningStatus,
		ErrorMessage:       cur.ErrorMessage,
		RequestedBy:        cur.RequestedBy,
		CreatedAt:          createdAt,
		LastUpdated:        cur.EffectiveFrom,
	}, nil
}

const recipientColumns = `record_id, recipient_id, share_pack_id, name, type, sharing_identifier, description, ip_access_list, token_expiry_seconds, remote_id,
	effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason`

func scanRecipient(row interface{ Scan(...any) error }) (*RecipientRecord, error) {
	rec := &RecipientRecord{}
	var ipList string
	err := row.Scan(
		&rec.RecordID, &rec.RecipientID, &rec.SharePackID, &rec.Name,
		&rec.Type, &rec.SharingIdentifier, &rec.Description, &ipList,
		&rec.TokenExpirySeconds, &rec.RemoteID,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err != nil {
		return nil, err
	}
	rec.IPAccessList = unmarshalList(ipList)
	return rec, nil
}

// AppendRecipient appends a new version for the recipient's business key.
func (s *SQLiteStore) AppendRecipient(ctx context.Context, rec *RecipientRecord) (*RecipientRecord, error) {
	if rec.RecipientID == "" {
		rec.RecipientID = uuid.New().String()
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := closeCurrent(ctx, tx, "recipients", "recipient_id", rec.RecipientID, now)
	if err != nil {
		return nil, err
	}
	stampNewVersion(&rec.VersionMeta, prev, now)

	insert := `
		INSERT INTO recipients (record_id, recipient_id, share_pack_id, name, type, sharing_identifier, description, ip_access_list, token_expiry_seconds, remote_id,
			effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.RecipientID, rec.SharePackID, rec.Name,
		rec.Type, rec.SharingIdentifier, rec.Description, marshalList(rec.IPAccessList),
		rec.TokenExpirySeconds, rec.RemoteID,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert recipient: %w", err)
	}

	action := "created"
	if prev > 0 {
		action = "updated"
	}
	if rec.IsDeleted {
		action = "deleted"
	}
	if err := auditTx(ctx, tx, "recipient", rec.RecipientID, action, rec.CreatedBy, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit recipient: %w", err)
	}

	return rec, nil
}

// GetCurrentRecipientByName retrieves the current non-deleted recipient with
// the given name. Recipient names are process-wide unique.
func (s *SQLiteStore) GetCurrentRecipientByName(ctx context.Context, name string) (*RecipientRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM recipients WHERE name = ? AND is_current = 1 AND is_deleted = 0", recipientColumns)

	rec, err := scanRecipient(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipient %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}

	return rec, nil
}

// SoftDeleteRecipient appends a version with is_deleted set.
func (s *SQLiteStore) SoftDeleteRecipient(ctx context.Context, recipientID, actor, reason string) error {
	cur, err := s.getCurrentRecipient(ctx, recipientID)
	if err != nil {
		return err
	}

	next := *cur
	next.IsDeleted = true
	next.CreatedBy = actor
	next.ChangeReason = reason
	_, err = s.AppendRecipient(ctx, &next)
	return err
}

func (s *SQLiteStore) getCurrentRecipient(ctx context.Context, recipientID string) (*RecipientRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM recipients WHERE recipient_id = ? AND is_current = 1", recipientColumns)

	rec, err := scanRecipient(s.db.QueryRowContext(ctx, query, recipientID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipient %s: %w", recipientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}

	return rec, nil
}

const shareColumns = `record_id, share_id, share_pack_id, name, assets, recipients, target_catalog, target_schema, remote_id,
	effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason`

func scanShare(row interface{ Scan(...any) error }) (*ShareRecord, error) {
	rec := &ShareRecord{}
	var assets, recipients string
	err := row.Scan(
		&rec.RecordID, &rec.ShareID, &rec.SharePackID, &rec.Name,
		&assets, &recipients, &rec.TargetCatalog, &rec.TargetSchema, &rec.RemoteID,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err != nil {
		return nil, err
	}
	rec.Assets = unmarshalList(assets)
	rec.Recipients = unmarshalList(recipients)
	return rec, nil
}

// AppendShare appends a new version for the share's business key.
func (s *SQLiteStore) AppendShare(ctx context.Context, rec *ShareRecord) (*ShareRecord, error) {
	if rec.ShareID == "" {
		rec.ShareID = uuid.New().String()
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := closeCurrent(ctx, tx, "shares", "share_id", rec.ShareID, now)
	if err != nil {
		return nil, err
	}
	stampNewVersion(&rec.VersionMeta, prev, now)

	insert := `
		INSERT INTO shares (record_id, share_id, share_pack_id, name, assets, recipients, target_catalog, target_schema, remote_id,
			effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.ShareID, rec.SharePackID, rec.Name,
		marshalList(rec.Assets), marshalList(rec.Recipients),
		rec.TargetCatalog, rec.TargetSchema, rec.RemoteID,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert share: %w", err)
	}

	action := "created"
	if prev > 0 {
		action = "updated"
	}
	if rec.IsDeleted {
		action = "deleted"
	}
	if err := auditTx(ctx, tx, "share", rec.ShareID, action, rec.CreatedBy, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit share: %w", err)
	}

	return rec, nil
}

// GetCurrentShareByName retrieves the current non-deleted share with the
// given name.
func (s *SQLiteStore) GetCurrentShareByName(ctx context.Context, name string) (*ShareRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM shares WHERE name = ? AND is_current = 1 AND is_deleted = 0", shareColumns)

	rec, err := scanShare(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}

	return rec, nil
}

// ListCurrentSharesBySharePack lists the current non-deleted shares belonging
// to a share pack.
func (s *SQLiteStore) ListCurrentSharesBySharePack(ctx context.Context, sharePackID string) ([]*ShareRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM shares WHERE share_pack_id = ? AND is_current = 1 AND is_deleted = 0 ORDER BY name", shareColumns)

	rows, err := s.db.QueryContext(ctx, query, sharePackID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	return collectShares(rows)
}

// ListActiveSharesDeclaringAsset lists all current non-deleted shares, across
// every share pack, whose declared asset list contains the given asset. Orphan
// cleanup uses this to decide whether a remote pipeline is still referenced.
func (s *SQLiteStore) ListActiveSharesDeclaringAsset(ctx context.Context, asset string) ([]*ShareRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM shares
		WHERE is_current = 1 AND is_deleted = 0
		  AND EXISTS (SELECT 1 FROM json_each(shares.assets) WHERE json_each.value = ?)
		ORDER BY name
	`, shareColumns)

	rows, err := s.db.QueryContext(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares by asset: %w", err)
	}
	defer rows.Close()

	return collectShares(rows)
}

// ListActiveSharesReferencingRecipient lists all current non-deleted shares,
// across every share pack, that grant to the named recipient. Teardown uses
// this to keep recipients that another pack's shares still depend on.
func (s *SQLiteStore) ListActiveSharesReferencingRecipient(ctx context.Context, recipientName string) ([]*ShareRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM shares
		WHERE is_current = 1 AND is_deleted = 0
		  AND EXISTS (SELECT 1 FROM json_each(shares.recipients) WHERE json_each.value = ?)
		ORDER BY name
	`, shareColumns)

	rows, err := s.db.QueryContext(ctx, query, recipientName)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares by recipient: %w", err)
	}
	defer rows.Close()

	return collectShares(rows)
}

func collectShares(rows *sql.Rows) ([]*ShareRecord, error) {
	shares := []*ShareRecord{}
	for rows.Next() {
		rec, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}

	return shares, nil
}

// SoftDeleteShare appends a version with is_deleted set.
func (s *SQLiteStore) SoftDeleteShare(ctx context.Context, shareID, actor, reason string) error {
	query := fmt.Sprintf("SELECT %s FROM shares WHERE share_id = ? AND is_current = 1", shareColumns)

	cur, err := scanShare(s.db.QueryRowContext(ctx, query, shareID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("share %s: %w", shareID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get share: %w", err)
	}

	next := *cur
	next.IsDeleted = true
	next.CreatedBy = actor
	next.ChangeReason = reason
	_, err = s.AppendShare(ctx, &next)
	return err
}

const pipelineColumns = `record_id, pipeline_id, share_pack_id, share_name, name, source_table, key_columns, scd_type,
	schedule_cron, schedule_timezone, continuous, notifications, remote_pipeline_id, remote_job_id,
	effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason`

func scanPipeline(row interface{ Scan(...any) error }) (*PipelineRecord, error) {
	rec := &PipelineRecord{}
	var keyColumns, notifications string
	err := row.Scan(
		&rec.RecordID, &rec.PipelineID, &rec.SharePackID, &rec.ShareName, &rec.Name,
		&rec.SourceTable, &keyColumns, &rec.SCDType,
		&rec.ScheduleCron, &rec.ScheduleTimezone, &rec.Continuous, &notifications,
		&rec.RemotePipelineID, &rec.RemoteJobID,
		&rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent, &rec.IsDeleted,
		&rec.Version, &rec.CreatedBy, &rec.ChangeReason,
	)
	if err != nil {
		return nil, err
	}
	rec.KeyColumns = unmarshalList(keyColumns)
	rec.Notifications = unmarshalList(notifications)
	return rec, nil
}

// AppendPipeline appends a new version for the pipeline's business key.
func (s *SQLiteStore) AppendPipeline(ctx context.Context, rec *PipelineRecord) (*PipelineRecord, error) {
	if rec.PipelineID == "" {
		rec.PipelineID = uuid.New().String()
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prev, err := closeCurrent(ctx, tx, "pipelines", "pipeline_id", rec.PipelineID, now)
	if err != nil {
		return nil, err
	}
	stampNewVersion(&rec.VersionMeta, prev, now)

	insert := `
		INSERT INTO pipelines (record_id, pipeline_id, share_pack_id, share_name, name, source_table, key_columns, scd_type,
			schedule_cron, schedule_timezone, continuous, notifications, remote_pipeline_id, remote_job_id,
			effective_from, effective_to, is_current, is_deleted, version, created_by, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		rec.RecordID, rec.PipelineID, rec.SharePackID, rec.ShareName, rec.Name,
		rec.SourceTable, marshalList(rec.KeyColumns), rec.SCDType,
		rec.ScheduleCron, rec.ScheduleTimezone, rec.Continuous, marshalList(rec.Notifications),
		rec.RemotePipelineID, rec.RemoteJobID,
		rec.EffectiveFrom, rec.EffectiveTo, rec.IsCurrent, rec.IsDeleted,
		rec.Version, rec.CreatedBy, rec.ChangeReason,
	); err != nil {
		return nil, fmt.Errorf("failed to insert pipeline: %w", err)
	}

	action := "created"
	if prev > 0 {
		action = "updated"
	}
	if rec.IsDeleted {
		action = "deleted"
	}
	if err := auditTx(ctx, tx, "pipeline", rec.PipelineID, action, rec.CreatedBy, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pipeline: %w", err)
	}

	return rec, nil
}

// GetCurrentPipeline retrieves the current non-deleted pipeline for a share
// by pipeline name.
func (s *SQLiteStore) GetCurrentPipeline(ctx context.Context, shareName, name string) (*PipelineRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pipelines WHERE share_name = ? AND name = ? AND is_current = 1 AND is_deleted = 0", pipelineColumns)

	rec, err := scanPipeline(s.db.QueryRowContext(ctx, query, shareName, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline %s/%s: %w", shareName, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	return rec, nil
}

// ListCurrentPipelinesByShare lists the current non-deleted pipelines owned
// by a share.
func (s *SQLiteStore) ListCurrentPipelinesByShare(ctx context.Context, shareName string) ([]*PipelineRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pipelines WHERE share_name = ? AND is_current = 1 AND is_deleted = 0 ORDER BY name", pipelineColumns)
	return s.listPipelines(ctx, query, shareName)
}

// ListCurrentPipelinesBySharePack lists the current non-deleted pipelines for
// every share in a share pack.
func (s *SQLiteStore) ListCurrentPipelinesBySharePack(ctx context.Context, sharePackID string) ([]*PipelineRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pipelines WHERE share_pack_id = ? AND is_current = 1 AND is_deleted = 0 ORDER BY share_name, name", pipelineColumns)
	return s.listPipelines(ctx, query, sharePackID)
}

func (s *SQLiteStore) listPipelines(ctx context.Context, query string, args ...any) ([]*PipelineRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []*PipelineRecord{}
	for rows.Next() {
		rec, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		pipelines = append(pipelines, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}

	return pipelines, nil
}

// SoftDeletePipeline appends a version with is_deleted set.
func (s *SQLiteStore) SoftDeletePipeline(ctx context.Context, pipelineID, actor, reason string) error {
	query := fmt.Sprintf("SELECT %s FROM pipelines WHERE pipeline_id = ? AND is_current = 1", pipelineColumns)

	cur, err := scanPipeline(s.db.QueryRowContext(ctx, query, pipelineID))
	if err == sql.ErrNoRows {
		return fmt.Errorf("pipeline %s: %w", pipelineID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get pipeline: %w", err)
	}

	next := *cur
	next.IsDeleted = true
	next.CreatedBy = actor
	next.ChangeReason = reason
	_, err = s.AppendPipeline(ctx, &next)
	return err
}
