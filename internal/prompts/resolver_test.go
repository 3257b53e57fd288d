package prompts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/retry"
	"github.com/promptsync/internal/tenantconfig"
	"github.com/promptsync/pkg/models"
)

var enabledCfg = &models.TenantPromptConfig{GuildID: "g1", RepoURL: "acme/prompts", Enabled: true}

func standupCtx() models.PromptContext {
	return models.PromptContext{GuildID: "g1", Category: "standup", ChannelName: "daily", SummaryType: "brief", MessageCount: 42}
}

func TestResolve_NoConfigUsesDefaults(t *testing.T) {
	repo := newFakeRepo(nil)
	r := NewResolver(repo, newTestCache(newFakeClock()))

	got := r.Resolve(context.Background(), "g1", standupCtx(), nil)
	assert.Equal(t, models.SourceDefault, got.Source)
	assert.Contains(t, got.Content, "#daily")
	assert.Contains(t, got.Content, "42 messages")
	assert.Zero(t, repo.callCount())

	got = r.Resolve(context.Background(), "g1", models.PromptContext{Category: "karaoke", ChannelName: "x"}, &models.TenantPromptConfig{RepoURL: "acme/p", Enabled: false})
	assert.Equal(t, models.SourceDefault, got.Source)
	assert.Equal(t, r.Defaults().Generic().Version, got.Version)
}

func TestResolve_CustomStaircase(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"PATH":                       standupManifest,
		"prompts/standup/default.md": "Standup for {channel} ({summary_type})",
	})
	r := NewResolver(repo, newTestCache(newFakeClock()))

	got := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
	assert.Equal(t, models.SourceCustom, got.Source)
	assert.Equal(t, "Standup for daily (brief)", got.Content)
	assert.Equal(t, "v1", got.Version)
	assert.Equal(t, "acme/prompts@main", got.RepoRef)
	assert.Equal(t, map[string]string{"channel": "daily", "summary_type": "brief"}, got.Variables)
	assert.Equal(t, []string{"PATH", "prompts/standup/daily.md", "prompts/standup/default.md"}, repo.calls)
}

func TestResolve_FreshCacheIsIdempotent(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"PATH":                     standupManifest,
		"prompts/standup/daily.md": "Daily standup in {channel}",
	})
	clock := newFakeClock()
	r := NewResolver(repo, newTestCache(clock))

	first := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
	calls := repo.callCount()
	clock.Advance(time.Minute)
	second := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, models.SourceCustom, first.Source)
	assert.Equal(t, models.SourceCached, second.Source)
	assert.False(t, second.IsStale)
	assert.Equal(t, calls, repo.callCount(), "second resolution must not fetch")
}

func TestResolve_InvalidTemplateIsSkipped(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"PATH":                       standupManifest,
		"prompts/standup/daily.md":   "Result: {{7*7}}",
		"prompts/standup/default.md": "safe",
	})
	r := NewResolver(repo, newTestCache(newFakeClock()))

	got := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
	assert.Equal(t, "safe", got.Content)
	assert.Equal(t, models.SourceCustom, got.Source)
}

func TestResolve_BadManifestFallsBackToDefault(t *testing.T) {
	for name, manifest := range map[string]string{
		"invalid": "version: v1\nroutes:\n  a: ../secret\n",
		"missing": "",
	} {
		t.Run(name, func(t *testing.T) {
			files := map[string]string{}
			if manifest != "" {
				files["PATH"] = manifest
			}
			r := NewResolver(newFakeRepo(files), newTestCache(newFakeClock()))
			got := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
			assert.Equal(t, models.SourceDefault, got.Source)
		})
	}
}

func TestResolve_TransientErrorShortCircuitsCandidates(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"PATH":                       standupManifest,
		"prompts/standup/default.md": "never reached",
	})
	repo.errs["prompts/standup/daily.md"] = &repository.TimeoutError{Path: "prompts/standup/daily.md", Attempts: 3}
	r := NewResolver(repo, newTestCache(newFakeClock()))

	got := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
	assert.Equal(t, models.SourceDefault, got.Source)
	assert.Equal(t, []string{"PATH", "prompts/standup/daily.md"}, repo.calls)
}

func TestResolve_Totality(t *testing.T) {
	failing := []error{
		repository.ErrNotFound,
		&repository.RateLimitError{},
		&repository.TimeoutError{},
		&repository.TransportError{StatusCode: 502},
		errors.New("anything"),
	}
	contexts := []models.PromptContext{
		{},
		standupCtx(),
		{Category: "karaoke"},
		{Category: "../../etc", ChannelName: "{{x}}"},
	}

	for _, ferr := range failing {
		repo := newFakeRepo(nil)
		repo.errs["PATH"] = ferr
		r := NewResolver(repo, newTestCache(newFakeClock()))
		for _, pctx := range contexts {
			for _, cfg := range []*models.TenantPromptConfig{nil, enabledCfg} {
				got := r.Resolve(context.Background(), "g1", pctx, cfg)
				assert.NotEmpty(t, got.Content)
				assert.True(t, got.Source.Valid(), "source %q", got.Source)
			}
		}
	}
}

func TestResolve_StaleResultIsNotRecached(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	pctx := standupCtx()
	c.Set("g1", pctx, models.ResolvedPrompt{Content: "old", Source: models.SourceCustom, Version: "v1"}, 0)
	clock.Advance(10 * time.Minute)

	repo := newFakeRepo(nil)
	repo.errs["PATH"] = &repository.RateLimitError{}
	r := NewResolver(repo, c)

	got := r.Resolve(context.Background(), "g1", pctx, enabledCfg)
	assert.Equal(t, "old", got.Content)
	assert.True(t, got.IsStale)

	_, fresh := c.Get("g1", pctx)
	assert.False(t, fresh, "stale content must not become fresh")
}

func TestResolve_Revalidation(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	pctx := standupCtx()
	c.Set("g1", pctx, models.ResolvedPrompt{Content: "old", Source: models.SourceCustom, Version: "v1"}, 0)
	clock.Advance(10 * time.Minute)

	repo := newFakeRepo(map[string]string{
		"PATH":                     standupManifest,
		"prompts/standup/daily.md": "new",
	})
	r := NewResolver(repo, c, WithRevalidation(true))

	got := r.Resolve(context.Background(), "g1", pctx, enabledCfg)
	assert.Equal(t, "old", got.Content)
	assert.True(t, got.IsStale)

	c.Wait()
	entry, ok := c.Get("g1", pctx)
	require.True(t, ok)
	assert.Equal(t, "new", entry.Content)
}

func TestResolve_RateLimitShortCircuit(t *testing.T) {
	var calls atomic.Int32
	reset := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "5")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := repository.NewClient(
		repository.WithBaseURL(srv.URL),
		repository.WithRetryConfig(retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2}),
		repository.WithLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	r := NewResolver(client, newTestCache(newFakeClock()))

	got := r.Resolve(context.Background(), "g1", standupCtx(), enabledCfg)
	assert.Equal(t, models.SourceDefault, got.Source)
	assert.NotEmpty(t, got.Content)
	assert.EqualValues(t, 1, calls.Load(), "rate limit must not be retried")
}

func TestResolver_InvalidateTenantCacheIsolation(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	r := NewResolver(newFakeRepo(nil), c)

	c.Set("A", standupCtx(), models.ResolvedPrompt{Content: "a", Source: models.SourceDefault}, 0)
	c.Set("A", models.PromptContext{Category: "support"}, models.ResolvedPrompt{Content: "a2", Source: models.SourceDefault}, 0)
	c.Set("B", standupCtx(), models.ResolvedPrompt{Content: "b", Source: models.SourceDefault}, 0)

	assert.Equal(t, 2, r.InvalidateTenantCache("A"))
	assert.Equal(t, cache.Stats{Total: 1, Fresh: 1, Stale: 0, Max: cache.DefaultMaxEntries}, r.CacheStats())

	entry, ok := c.Get("B", standupCtx())
	require.True(t, ok)
	assert.Equal(t, "b", entry.Content)

	assert.Equal(t, 1, r.ClearCache())
	assert.Equal(t, 0, r.CacheStats().Total)
}

func TestResolveForTenant(t *testing.T) {
	store, err := tenantconfig.NewStore(tenantconfig.StoreTypeMemory)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), &models.TenantPromptConfig{GuildID: "g1", RepoURL: "acme/prompts", Enabled: true}))

	repo := newFakeRepo(map[string]string{
		"PATH":                     standupManifest,
		"prompts/standup/daily.md": "custom",
	})
	r := NewResolver(repo, newTestCache(newFakeClock()), WithStore(store))

	assert.Equal(t, models.SourceCustom, r.ResolveForTenant(context.Background(), "g1", standupCtx()).Source)
	assert.Equal(t, models.SourceDefault, r.ResolveForTenant(context.Background(), "unknown", standupCtx()).Source)
}

func TestSubstitute(t *testing.T) {
	out, applied := Substitute(`Hi {channel}, {missing} and {"json": 1} {{x}}`, map[string]string{"channel": "general"})
	assert.Equal(t, `Hi general, [missing] and {"json": 1} {[x]}`, out)
	assert.Equal(t, map[string]string{"channel": "general"}, applied)
}
