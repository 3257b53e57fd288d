package tenantconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/promptsync/pkg/models"
)

// Schema creates the table used by the postgres driver.
const Schema = `
CREATE TABLE IF NOT EXISTS tenant_prompt_configs (
	guild_id          TEXT PRIMARY KEY,
	repo_url          TEXT NOT NULL,
	branch            TEXT NOT NULL DEFAULT 'main',
	enabled           BOOLEAN NOT NULL DEFAULT FALSE,
	encrypted_token   TEXT,
	last_sync_at      TIMESTAMPTZ,
	last_sync_status  TEXT NOT NULL DEFAULT 'pending',
	validation_errors TEXT[] NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tenant_prompt_configs_enabled ON tenant_prompt_configs (enabled) WHERE enabled;`

const selectColumns = `guild_id, repo_url, branch, enabled, COALESCE(encrypted_token, ''), last_sync_at,
       last_sync_status, validation_errors, created_at, updated_at`

type postgresStore struct {
	db    *sql.DB
	codec sealer
	now   func() time.Time
}

func newPostgresStore(db *sql.DB, codec sealer, now func() time.Time) *postgresStore {
	return &postgresStore{db: db, codec: codec, now: now}
}

// EnsureSchema creates the backing table when the store is postgres-backed.
func EnsureSchema(ctx context.Context, store Store) error {
	pg, ok := store.(*postgresStore)
	if !ok {
		return nil
	}
	if _, err := pg.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("tenantconfig: create schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *postgresStore) scan(row rowScanner) (*models.TenantPromptConfig, error) {
	var (
		rec        record
		lastSyncAt sql.NullTime
		status     string
		errs       pq.StringArray
	)
	if err := row.Scan(&rec.GuildID, &rec.RepoURL, &rec.Branch, &rec.Enabled, &rec.EncryptedToken, &lastSyncAt,
		&status, &errs, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		rec.LastSyncAt = &t
	}
	rec.LastSyncStatus = models.SyncStatus(status)
	rec.ValidationErrors = []string(errs)
	return s.codec.fromRecord(&rec)
}

func (s *postgresStore) Get(ctx context.Context, guildID string) (*models.TenantPromptConfig, error) {
	q := `SELECT ` + selectColumns + ` FROM tenant_prompt_configs WHERE guild_id = $1`
	cfg, err := s.scan(s.db.QueryRowContext(ctx, q, guildID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: get %s: %w", guildID, err)
	}
	return cfg, nil
}

func (s *postgresStore) Set(ctx context.Context, cfg *models.TenantPromptConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}
	stamp(cfg, time.Time{}, s.now())

	enc, err := s.codec.seal(cfg.Token)
	if err != nil {
		return err
	}

	// created_at survives updates; the returned value is the stored one.
	const q = `
INSERT INTO tenant_prompt_configs (guild_id, repo_url, branch, enabled, encrypted_token, last_sync_at, last_sync_status, validation_errors, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (guild_id)
DO UPDATE SET
	repo_url = EXCLUDED.repo_url,
	branch = EXCLUDED.branch,
	enabled = EXCLUDED.enabled,
	encrypted_token = EXCLUDED.encrypted_token,
	last_sync_at = EXCLUDED.last_sync_at,
	last_sync_status = EXCLUDED.last_sync_status,
	validation_errors = EXCLUDED.validation_errors,
	updated_at = EXCLUDED.updated_at
RETURNING created_at`

	var lastSyncAt any
	if cfg.LastSyncAt != nil {
		lastSyncAt = *cfg.LastSyncAt
	}
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, q, cfg.GuildID, cfg.RepoURL, cfg.Branch, cfg.Enabled, nullIfEmpty(enc), lastSyncAt,
		string(cfg.LastSyncStatus), pq.Array(cfg.ValidationErrors), cfg.CreatedAt, cfg.UpdatedAt).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("tenantconfig: set %s: %w", cfg.GuildID, err)
	}
	cfg.CreatedAt = createdAt
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, guildID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenant_prompt_configs WHERE guild_id = $1`, guildID)
	if err != nil {
		return false, fmt.Errorf("tenantconfig: delete %s: %w", guildID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) ListEnabled(ctx context.Context) ([]models.TenantPromptConfig, error) {
	q := `SELECT ` + selectColumns + ` FROM tenant_prompt_configs WHERE enabled ORDER BY guild_id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: list enabled: %w", err)
	}
	defer rows.Close()

	var out []models.TenantPromptConfig
	for rows.Next() {
		cfg, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
