package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/metrics"
	"github.com/promptsync/internal/prompts"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/schema"
	"github.com/promptsync/internal/tenantconfig"
	"github.com/promptsync/pkg/models"
)

type stubRepo struct {
	files map[string]string
	check schema.ValidationResult
}

func (s *stubRepo) FetchFile(ctx context.Context, repoRef, filePath, branch, token string) (string, error) {
	if body, ok := s.files[filePath]; ok {
		return body, nil
	}
	return "", repository.ErrNotFound
}

func (s *stubRepo) CheckRepository(ctx context.Context, repoRef, branch, token string) (schema.ValidationResult, error) {
	return s.check, nil
}

func newTestServer(t *testing.T) (*Server, *stubRepo) {
	t.Helper()
	repo := &stubRepo{
		files: map[string]string{
			"PATH":                     "version: v1\nroutes:\n  meeting: prompts/{category}/{channel}.md\n",
			"prompts/standup/daily.md": "Custom standup for {channel}",
		},
		check: schema.ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}},
	}
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	store, err := tenantconfig.NewStore(tenantconfig.StoreTypeMemory)
	require.NoError(t, err)
	resolver := prompts.NewResolver(repo, cache.New(cache.WithMetrics(rec)), prompts.WithStore(store), prompts.WithMetrics(rec))
	admin := prompts.NewAdmin(store, repo, resolver)
	return NewServer(":0", resolver, admin, reg), repo
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestResolveEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{"tenant":"g1","context":{"category":"standup","channel_name":"daily"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ResolvedPrompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.SourceDefault, got.Source)

	rec = do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{"context":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantConfigLifecycle(t *testing.T) {
	s, repo := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/tenants/g1/prompt-config", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/v1/tenants/g1/prompt-config", `{"repo_url":"nonsense"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/v1/tenants/g1/prompt-config", `{"repo_url":"https://github.com/acme/prompts"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "token")

	rec = do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{"context":{"guild_id":"g1","category":"standup","channel_name":"daily"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ResolvedPrompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.SourceCustom, got.Source)
	assert.Equal(t, "Custom standup for daily", got.Content)

	rec = do(t, s, http.MethodGet, "/api/v1/prompts/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)

	rec = do(t, s, http.MethodDelete, "/api/v1/tenants/g1/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{"context":{"guild_id":"g1","category":"standup","channel_name":"daily"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/prompts/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
	rec = do(t, s, http.MethodDelete, "/api/v1/prompts/cache", "")
	assert.JSONEq(t, `{"removed":0}`, rec.Body.String())

	repo.check = schema.Invalid("e1", "e2", "e3", "e4", "e5", "e6")
	rec = do(t, s, http.MethodPost, "/api/v1/tenants/g1/prompt-config/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res schema.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Valid)

	rec = do(t, s, http.MethodPut, "/api/v1/tenants/g1/prompt-config", `{"repo_url":"acme/prompts"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Len(t, errResp.Errors, prompts.MaxSurfacedErrors)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/g1/prompt-config/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	rec = do(t, s, http.MethodDelete, "/api/v1/tenants/g1/prompt-config", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/v1/tenants/g1/prompt-config", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDefaultsAndMetricsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/prompts/defaults", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "standup")

	do(t, s, http.MethodPost, "/api/v1/prompts/resolve", `{"tenant":"g1","context":{"category":"support"}}`)
	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promptsync_resolutions_total")
}
