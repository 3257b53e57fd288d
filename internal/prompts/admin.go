package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/schema"
	"github.com/promptsync/internal/tenantconfig"
	"github.com/promptsync/pkg/models"
)

// MaxSurfacedErrors caps how many validation errors reach an administrator.
const MaxSurfacedErrors = 5

// ErrConfigurationInvalid is returned for a malformed repository reference.
var ErrConfigurationInvalid = errors.New("prompts: invalid repository configuration")

// ValidationFailedError carries the first validation errors of a
// repository that failed its structure check.
type ValidationFailedError struct {
	Errors []string
	Total  int
}

func (e *ValidationFailedError) Error() string {
	msg := "prompts: repository validation failed: " + strings.Join(e.Errors, "; ")
	if e.Total > len(e.Errors) {
		msg += fmt.Sprintf(" (and %d more)", e.Total-len(e.Errors))
	}
	return msg
}

func newValidationFailed(res schema.ValidationResult) *ValidationFailedError {
	return &ValidationFailedError{Errors: res.FirstErrors(MaxSurfacedErrors), Total: len(res.Errors)}
}

// RepositoryChecker validates a tenant repository's routing manifest.
type RepositoryChecker interface {
	CheckRepository(ctx context.Context, repoRef, branch, token string) (schema.ValidationResult, error)
}

// ConfigureRequest is an administrator's repository opt-in. An empty Token
// keeps the stored one.
type ConfigureRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
	Token   string `json:"token,omitempty"`
}

// Admin implements the tenant configuration operations.
type Admin struct {
	store    tenantconfig.Store
	checker  RepositoryChecker
	resolver *Resolver
	now      func() time.Time
	logger   zerolog.Logger
}

func NewAdmin(store tenantconfig.Store, checker RepositoryChecker, resolver *Resolver) *Admin {
	return &Admin{
		store:    store,
		checker:  checker,
		resolver: resolver,
		now:      time.Now,
		logger:   logging.Component("prompt_admin"),
	}
}

// Configure validates the repository and stores it as the tenant's prompt
// source. Nothing is stored when validation fails.
func (a *Admin) Configure(ctx context.Context, guildID string, req ConfigureRequest) (*models.TenantPromptConfig, error) {
	repoRef, ok := repository.NormalizeRef(req.RepoURL)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not owner/repo or a GitHub URL", ErrConfigurationInvalid, req.RepoURL)
	}
	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		branch = "main"
	}

	existing, err := a.store.Get(ctx, guildID)
	if err != nil && !errors.Is(err, tenantconfig.ErrNotFound) {
		return nil, err
	}
	token := req.Token
	if token == "" && existing != nil {
		token = existing.Token
	}

	res, err := a.checker.CheckRepository(ctx, repoRef, branch, token)
	if err != nil {
		return nil, fmt.Errorf("prompts: checking repository %s: %w", repoRef, err)
	}
	if !res.Valid {
		a.logger.Info().Str("tenant", guildID).Str("repo", repoRef).Int("errors", len(res.Errors)).Msg("rejected prompt repository configuration")
		return nil, newValidationFailed(res)
	}

	now := a.now()
	cfg := &models.TenantPromptConfig{
		GuildID:          guildID,
		RepoURL:          repoRef,
		Branch:           branch,
		Enabled:          true,
		Token:            token,
		LastSyncAt:       &now,
		LastSyncStatus:   models.SyncStatusSuccess,
		ValidationErrors: []string{},
	}
	if existing != nil {
		cfg.CreatedAt = existing.CreatedAt
	}
	if err := a.store.Set(ctx, cfg); err != nil {
		return nil, err
	}

	a.invalidate(guildID)
	a.logger.Info().Str("tenant", guildID).Str("repo", repoRef).Str("branch", branch).Int("warnings", len(res.Warnings)).Msg("configured prompt repository")
	return cfg, nil
}

// Get returns tenantconfig.ErrNotFound when the tenant has not opted in.
func (a *Admin) Get(ctx context.Context, guildID string) (*models.TenantPromptConfig, error) {
	return a.store.Get(ctx, guildID)
}

// Remove deletes the configuration and reports whether there was one.
func (a *Admin) Remove(ctx context.Context, guildID string) (bool, error) {
	existed, err := a.store.Delete(ctx, guildID)
	if err != nil {
		return false, err
	}
	a.invalidate(guildID)
	return existed, nil
}

// SetEnabled toggles custom prompts without touching the repository settings.
func (a *Admin) SetEnabled(ctx context.Context, guildID string, enabled bool) (*models.TenantPromptConfig, error) {
	cfg, err := a.store.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	cfg.Enabled = enabled
	if err := a.store.Set(ctx, cfg); err != nil {
		return nil, err
	}
	a.invalidate(guildID)
	return cfg, nil
}

// Test re-runs the repository check for a stored configuration and
// records the outcome on it.
func (a *Admin) Test(ctx context.Context, guildID string) (schema.ValidationResult, error) {
	cfg, err := a.store.Get(ctx, guildID)
	if err != nil {
		return schema.ValidationResult{}, err
	}

	res, checkErr := a.checker.CheckRepository(ctx, cfg.RepoURL, cfg.BranchOrDefault(), cfg.Token)
	now := a.now()
	cfg.LastSyncAt = &now

	switch {
	case checkErr != nil && repository.Classify(checkErr) == repository.KindRateLimit:
		cfg.LastSyncStatus = models.SyncStatusRateLimited
		res = schema.Invalid(checkErr.Error())
	case checkErr != nil:
		cfg.LastSyncStatus = models.SyncStatusFailed
		res = schema.Invalid(checkErr.Error())
	case res.Valid:
		cfg.LastSyncStatus = models.SyncStatusSuccess
	default:
		cfg.LastSyncStatus = models.SyncStatusFailed
	}
	cfg.ValidationErrors = res.FirstErrors(MaxSurfacedErrors)

	if err := a.store.Set(ctx, cfg); err != nil {
		return res, err
	}
	if res.Valid {
		a.invalidate(guildID)
	}
	a.logger.Info().Str("tenant", guildID).Str("status", string(cfg.LastSyncStatus)).Msg("tested prompt repository")
	return res, nil
}

func (a *Admin) invalidate(guildID string) {
	if a.resolver != nil {
		a.resolver.InvalidateTenantCache(guildID)
	}
}
