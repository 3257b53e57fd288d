package prompts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/pkg/models"
)

// CustomFetch resolves a prompt from a tenant repository. A nil prompt with
// a nil error means the repository had nothing usable.
type CustomFetch func(ctx context.Context) (*models.ResolvedPrompt, error)

// FallbackChain walks custom, stale cache, default and global fallback in
// that order. Execute always returns a usable prompt.
type FallbackChain struct {
	cache    *cache.Manager
	defaults *DefaultProvider
	logger   zerolog.Logger
}

func NewFallbackChain(c *cache.Manager, defaults *DefaultProvider) *FallbackChain {
	if defaults == nil {
		defaults = NewDefaultProvider()
	}
	return &FallbackChain{
		cache:    c,
		defaults: defaults,
		logger:   logging.Component("fallback_chain"),
	}
}

// Execute never fails: custom-fetch errors are logged and skipped.
func (f *FallbackChain) Execute(ctx context.Context, tenant string, pctx models.PromptContext, fetch CustomFetch) models.ResolvedPrompt {
	if prompt, ok := f.TryCustomWithStaleFallback(ctx, tenant, pctx, fetch); ok {
		return prompt
	}
	if prompt, ok := f.defaults.Get(pctx.Category); ok {
		return prompt
	}
	f.logger.Debug().Str("tenant", tenant).Str("category", pctx.Category).Msg("no built-in template for category, using global fallback")
	return f.defaults.Fallback()
}

// TryCustomWithStaleFallback runs only the custom and stale-cache levels.
func (f *FallbackChain) TryCustomWithStaleFallback(ctx context.Context, tenant string, pctx models.PromptContext, fetch CustomFetch) (models.ResolvedPrompt, bool) {
	if fetch != nil {
		if prompt := f.tryCustom(ctx, tenant, pctx, fetch); prompt != nil {
			return *prompt, true
		}
	}

	if f.cache != nil {
		if entry, ok := f.cache.GetStale(tenant, pctx); ok {
			prompt := entry.Resolved(true)
			prompt.Source = models.SourceCached
			return prompt, true
		}
	}
	return models.ResolvedPrompt{}, false
}

func (f *FallbackChain) tryCustom(ctx context.Context, tenant string, pctx models.PromptContext, fetch CustomFetch) (prompt *models.ResolvedPrompt) {
	logger := f.logger.With().Str("tenant", tenant).Str("category", pctx.Category).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("custom prompt fetch panicked, falling through")
			prompt = nil
		}
	}()

	got, err := fetch(ctx)
	if err != nil {
		switch kind := repository.Classify(err); kind {
		case repository.KindRateLimit, repository.KindTimeout:
			logger.Warn().Err(err).Str("kind", kind.String()).Msg("custom prompt unavailable, falling through")
		default:
			logger.Error().Err(err).Str("kind", kind.String()).Msg("custom prompt fetch failed, falling through")
		}
		return nil
	}
	if got == nil || got.Content == "" {
		return nil
	}
	return got
}
