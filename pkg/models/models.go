package models

import (
	"strconv"
	"time"
)

// Source tags where a resolved prompt came from.
type Source string

const (
	SourceCustom   Source = "custom"
	SourceCached   Source = "cached"
	SourceDefault  Source = "default"
	SourceFallback Source = "fallback"
)

// Valid reports whether s is one of the four known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceCustom, SourceCached, SourceDefault, SourceFallback:
		return true
	}
	return false
}

// PromptContext describes what is being summarized. It is immutable once
// built; the resolver derives cache keys and template variables from it.
type PromptContext struct {
	GuildID      string            `json:"guild_id"`
	ChannelName  string            `json:"channel_name,omitempty"`
	Category     string            `json:"category"`
	SummaryType  string            `json:"summary_type"`
	MessageCount int               `json:"message_count"`
	Extra        map[string]string `json:"extra,omitempty"` // free-form variables supplied by the caller
}

// Fields returns the context as template variables. Empty values are left
// out so callers can tell "unset" from "set to empty".
func (c PromptContext) Fields() map[string]string {
	out := make(map[string]string, 8+len(c.Extra))
	for k, v := range c.Extra {
		if v != "" {
			out[k] = v
		}
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("guild", c.GuildID)
	set("guild_id", c.GuildID)
	set("channel", c.ChannelName)
	set("channel_name", c.ChannelName)
	set("category", c.Category)
	set("summary_type", c.SummaryType)
	out["message_count"] = strconv.Itoa(c.MessageCount)
	return out
}

// ResolvedPrompt is the output of a resolution.
type ResolvedPrompt struct {
	Content   string            `json:"content"`
	Source    Source            `json:"source"`
	Version   string            `json:"version"`
	RepoRef   string            `json:"repo_ref,omitempty"`
	IsStale   bool              `json:"is_stale"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CachedPrompt is a resolved prompt plus cache metadata.
type CachedPrompt struct {
	Content     string    `json:"content"`
	Source      Source    `json:"source"`
	Version     string    `json:"version"`
	CachedAt    time.Time `json:"cached_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RepoRef     string    `json:"repo_ref,omitempty"`
	ContextHash string    `json:"context_hash"`
}

// IsExpired reports whether the fresh horizon has passed at now.
func (c *CachedPrompt) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Resolved converts a cache entry back into a ResolvedPrompt.
func (c *CachedPrompt) Resolved(stale bool) ResolvedPrompt {
	return ResolvedPrompt{
		Content: c.Content,
		Source:  c.Source,
		Version: c.Version,
		RepoRef: c.RepoRef,
		IsStale: stale,
	}
}

// SyncStatus is the outcome of the last repository sync for a tenant.
type SyncStatus string

const (
	SyncStatusPending     SyncStatus = "pending"
	SyncStatusSuccess     SyncStatus = "success"
	SyncStatusFailed      SyncStatus = "failed"
	SyncStatusRateLimited SyncStatus = "rate_limited"
)

// TenantPromptConfig is a tenant's opt-in to repository-hosted prompts.
// Token is plaintext in memory only; stores encrypt it at rest.
type TenantPromptConfig struct {
	GuildID          string     `json:"guild_id" db:"guild_id"`
	RepoURL          string     `json:"repo_url" db:"repo_url"`
	Branch           string     `json:"branch" db:"branch"`
	Enabled          bool       `json:"enabled" db:"enabled"`
	Token            string     `json:"-" db:"-"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastSyncStatus   SyncStatus `json:"last_sync_status" db:"last_sync_status"`
	ValidationErrors []string   `json:"validation_errors,omitempty" db:"validation_errors"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// BranchOrDefault returns the configured branch, or "main".
func (c *TenantPromptConfig) BranchOrDefault() string {
	if c.Branch == "" {
		return "main"
	}
	return c.Branch
}
