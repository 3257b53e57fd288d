// Package prompts resolves the summarization prompt for a tenant: custom
// repository content when configured, then stale cache, built-in category
// templates, and finally a hardcoded fallback.
package prompts

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/metrics"
	"github.com/promptsync/internal/pathrouter"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/schema"
	"github.com/promptsync/internal/tenantconfig"
	"github.com/promptsync/pkg/models"
)

// FileFetcher reads one file from a tenant repository.
type FileFetcher interface {
	FetchFile(ctx context.Context, repoRef, filePath, branch, token string) (string, error)
}

// Resolver is the entry point for prompt resolution.
type Resolver struct {
	fetcher    FileFetcher
	cache      *cache.Manager
	defaults   *DefaultProvider
	chain      *FallbackChain
	store      tenantconfig.Store
	metrics    *metrics.Recorder
	cacheTTL   time.Duration
	revalidate bool
	logger     zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStore lets ResolveForTenant look configurations up itself.
func WithStore(s tenantconfig.Store) ResolverOption {
	return func(r *Resolver) { r.store = s }
}

func WithDefaults(d *DefaultProvider) ResolverOption {
	return func(r *Resolver) {
		if d != nil {
			r.defaults = d
		}
	}
}

func WithMetrics(m *metrics.Recorder) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithCacheTTL overrides the fresh TTL used when caching resolutions.
func WithCacheTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.cacheTTL = d }
}

// WithRevalidation serves stale cache entries of custom-enabled tenants
// immediately and refreshes them in the background.
func WithRevalidation(enabled bool) ResolverOption {
	return func(r *Resolver) { r.revalidate = enabled }
}

// NewResolver wires a resolver. A nil cache gets a default one.
func NewResolver(fetcher FileFetcher, c *cache.Manager, opts ...ResolverOption) *Resolver {
	if c == nil {
		c = cache.New()
	}
	r := &Resolver{
		fetcher: fetcher,
		cache:   c,
		logger:  logging.Component("prompt_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaults == nil {
		r.defaults = NewDefaultProvider()
	}
	r.chain = NewFallbackChain(r.cache, r.defaults)
	return r
}

// Resolve returns the prompt for tenant and pctx. cfg may be nil. It never
// fails and never returns empty content.
func (r *Resolver) Resolve(ctx context.Context, tenant string, pctx models.PromptContext, cfg *models.TenantPromptConfig) models.ResolvedPrompt {
	custom := r.customFetch(tenant, pctx, cfg)

	if prompt, ok := r.lookup(tenant, pctx, custom); ok {
		return r.finish(prompt, pctx)
	}

	if custom == nil {
		return r.finish(r.defaults.GetOrGeneric(pctx.Category), pctx)
	}

	prompt := r.chain.Execute(ctx, tenant, pctx, custom)
	if !prompt.IsStale {
		r.cache.Set(tenant, pctx, prompt, r.cacheTTL)
	}
	return r.finish(prompt, pctx)
}

// ResolveForTenant loads the tenant's configuration from the store and
// resolves. Store failures degrade to built-in prompts.
func (r *Resolver) ResolveForTenant(ctx context.Context, tenant string, pctx models.PromptContext) models.ResolvedPrompt {
	var cfg *models.TenantPromptConfig
	if r.store != nil {
		got, err := r.store.Get(ctx, tenant)
		switch {
		case err == nil:
			cfg = got
		case !errors.Is(err, tenantconfig.ErrNotFound):
			r.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to load tenant prompt config, using built-in prompts")
		}
	}
	return r.Resolve(ctx, tenant, pctx, cfg)
}

// InvalidateTenantCache drops every cached prompt of tenant.
func (r *Resolver) InvalidateTenantCache(tenant string) int {
	n := r.cache.InvalidateTenant(tenant)
	r.logger.Info().Str("tenant", tenant).Int("removed", n).Msg("invalidated tenant prompt cache")
	return n
}

// ClearCache drops the cached prompts of every tenant.
func (r *Resolver) ClearCache() int {
	n := r.cache.Clear()
	r.logger.Info().Int("removed", n).Msg("cleared prompt cache")
	return n
}

func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Defaults exposes the built-in provider.
func (r *Resolver) Defaults() *DefaultProvider {
	return r.defaults
}

func (r *Resolver) lookup(tenant string, pctx models.PromptContext, custom CustomFetch) (models.ResolvedPrompt, bool) {
	if entry, ok := r.cache.Get(tenant, pctx); ok {
		r.metrics.CacheLookup("hit")
		prompt := entry.Resolved(false)
		prompt.Source = models.SourceCached
		return prompt, true
	}
	if r.revalidate && custom != nil {
		if entry, ok := r.cache.GetWithRevalidation(tenant, pctx, cache.RefreshFunc(custom)); ok {
			r.metrics.CacheLookup("stale")
			prompt := entry.Resolved(true)
			prompt.Source = models.SourceCached
			return prompt, true
		}
	}
	r.metrics.CacheLookup("miss")
	return models.ResolvedPrompt{}, false
}

func (r *Resolver) finish(prompt models.ResolvedPrompt, pctx models.PromptContext) models.ResolvedPrompt {
	if prompt.Content == "" {
		prompt = r.defaults.Fallback()
	}
	prompt.Content, prompt.Variables = Substitute(prompt.Content, pctx.Fields())
	r.metrics.Resolution(string(prompt.Source), prompt.IsStale)
	return prompt
}

// customFetch returns nil when the tenant has no usable repository.
func (r *Resolver) customFetch(tenant string, pctx models.PromptContext, cfg *models.TenantPromptConfig) CustomFetch {
	if cfg == nil || !cfg.Enabled || cfg.RepoURL == "" || r.fetcher == nil {
		return nil
	}
	repoRef, branch, token := cfg.RepoURL, cfg.BranchOrDefault(), cfg.Token
	return func(ctx context.Context) (*models.ResolvedPrompt, error) {
		return r.fetchCustom(ctx, tenant, repoRef, branch, token, pctx)
	}
}

func (r *Resolver) fetchCustom(ctx context.Context, tenant, repoRef, branch, token string, pctx models.PromptContext) (*models.ResolvedPrompt, error) {
	logger := r.logger.With().Str("tenant", tenant).Str("repo", repoRef).Str("branch", branch).Logger()

	manifest, err := r.fetcher.FetchFile(ctx, repoRef, schema.ManifestPath, branch, token)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug().Msg("routing manifest not found")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc, err := pathrouter.Parse(manifest)
	if err != nil {
		logger.Warn().Err(err).Msg("routing manifest is invalid")
		return nil, nil
	}

	ref := repoRef
	if normalized, ok := repository.NormalizeRef(repoRef); ok {
		ref = normalized
	}

	for _, candidate := range pathrouter.Resolve(doc, pctx) {
		clean, err := schema.SanitizePath(candidate)
		if err != nil {
			logger.Debug().Err(err).Str("path", candidate).Msg("skipping unsafe candidate path")
			continue
		}

		body, err := r.fetcher.FetchFile(ctx, repoRef, clean, branch, token)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			// One failing candidate means the repository is unhealthy;
			// the rest would burn the same retry budget.
			return nil, err
		}

		if res := schema.ValidateTemplate(body); !res.Valid {
			logger.Warn().Str("path", clean).Strs("errors", res.FirstErrors(5)).Msg("custom template failed validation")
			continue
		}

		logger.Debug().Str("path", clean).Msg("resolved custom prompt")
		return &models.ResolvedPrompt{
			Content: body,
			Source:  models.SourceCustom,
			Version: doc.Version,
			RepoRef: ref + "@" + branch,
		}, nil
	}

	logger.Debug().Msg("no candidate path resolved to a valid template")
	return nil, nil
}

var variablePattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces {name} placeholders with values from fields.
// Unknown names are rendered as [name] so missing context stays visible.
// It returns the rewritten content and the values that were applied.
func Substitute(content string, fields map[string]string) (string, map[string]string) {
	applied := map[string]string{}
	out := variablePattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := fields[name]; ok {
			applied[name] = v
			return v
		}
		return "[" + name + "]"
	})
	return out, applied
}
