package tenantconfig

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsync/pkg/models"
)

var pgColumns = []string{"guild_id", "repo_url", "branch", "enabled", "encrypted_token", "last_sync_at",
	"last_sync_status", "validation_errors", "created_at", "updated_at"}

func newPostgresTestStore(t *testing.T) (Store, sqlmock.Sqlmock, *ChaChaCipher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher := testCipher(t)
	store, err := NewStore(StoreTypePostgres, WithDB(db), WithCipher(cipher))
	require.NoError(t, err)
	return store, mock, cipher
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock, cipher := newPostgresTestStore(t)
	enc, err := cipher.Encrypt("ghp_x")
	require.NoError(t, err)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	synced := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenant_prompt_configs WHERE guild_id = $1")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("g1", "acme/prompts", "main", true, enc, synced, "failed", []byte(`{"missing PATH","bad route"}`), created, created))

	cfg, err := store.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", cfg.Token)
	assert.Equal(t, models.SyncStatusFailed, cfg.LastSyncStatus)
	assert.Equal(t, []string{"missing PATH", "bad route"}, cfg.ValidationErrors)
	require.NotNil(t, cfg.LastSyncAt)
	assert.True(t, cfg.LastSyncAt.Equal(synced))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock, _ := newPostgresTestStore(t)
	mock.ExpectQuery("FROM tenant_prompt_configs").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUpserts(t *testing.T) {
	store, mock, _ := newPostgresTestStore(t)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (guild_id)")).
		WithArgs("g1", "acme/prompts", "main", true, sqlmock.AnyArg(), nil, "pending", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	cfg := &models.TenantPromptConfig{GuildID: "g1", RepoURL: "acme/prompts", Enabled: true, Token: "ghp_x"}
	require.NoError(t, store.Set(context.Background(), cfg))
	assert.True(t, cfg.CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock, _ := newPostgresTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tenant_prompt_configs WHERE guild_id = $1")).
		WithArgs("g1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tenant_prompt_configs").
		WithArgs("g2").WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := store.Delete(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(context.Background(), "g2")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEnabled(t *testing.T) {
	store, mock, _ := newPostgresTestStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enabled ORDER BY guild_id")).
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("a", "acme/a", "main", true, "", nil, "success", []byte("{}"), now, now).
			AddRow("b", "acme/b", "dev", true, "", nil, "pending", []byte("{}"), now, now))

	list, err := store.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].GuildID)
	assert.Equal(t, "dev", list[1].Branch)
	assert.Empty(t, list[0].Token)
	assert.Nil(t, list[0].LastSyncAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	store, mock, _ := newPostgresTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tenant_prompt_configs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), store))
	assert.NoError(t, mock.ExpectationsWereMet())

	mem, _ := NewStore(StoreTypeMemory)
	assert.NoError(t, EnsureSchema(context.Background(), mem))
}
