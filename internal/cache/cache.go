// Package cache stores resolved prompts per tenant with a fresh horizon, a
// longer stale horizon, and stale-while-revalidate refreshes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/metrics"
	"github.com/promptsync/pkg/models"
)

const (
	DefaultFreshTTL       = 300 * time.Second
	DefaultStaleTTL       = 3600 * time.Second
	DefaultMaxEntries     = 1000
	DefaultRefreshTimeout = 30 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithTTLs sets the fresh and stale horizons. The stale horizon is raised
// to the fresh one if it is shorter.
func WithTTLs(fresh, stale time.Duration) Option {
	return func(m *Manager) {
		if fresh > 0 {
			m.freshTTL = fresh
		}
		if stale > 0 {
			m.staleTTL = stale
		}
	}
}

// WithMaxEntries bounds the number of cached prompts.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithRefreshTimeout bounds each background refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics records evictions and background refreshes.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// RefreshFunc produces a replacement prompt for a stale entry.
type RefreshFunc func(ctx context.Context) (*models.ResolvedPrompt, error)

// Stats is a point-in-time view of the cache.
type Stats struct {
	Total int `json:"total"`
	Fresh int `json:"fresh"`
	Stale int `json:"stale"`
	Max   int `json:"max"`
}

// Manager is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[string]map[string]*models.CachedPrompt // tenant -> context hash
	size    int

	freshTTL       time.Duration
	staleTTL       time.Duration
	maxEntries     int
	refreshTimeout time.Duration
	now            func() time.Time

	refreshes singleflight.Group
	pending   sync.WaitGroup

	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// New creates a cache with the defaults overridden by opts.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries:        make(map[string]map[string]*models.CachedPrompt),
		freshTTL:       DefaultFreshTTL,
		staleTTL:       DefaultStaleTTL,
		maxEntries:     DefaultMaxEntries,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		logger:         logging.Component("prompt_cache"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.staleTTL < m.freshTTL {
		m.staleTTL = m.freshTTL
	}
	return m
}

// ContextHash fingerprints the fields of a context that select a prompt.
func ContextHash(pctx models.PromptContext) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{pctx.Category, pctx.ChannelName, pctx.SummaryType}, "\x1f")))
	return hex.EncodeToString(sum[:])[:16]
}

// Key namespaces a context fingerprint by tenant. The fingerprint is fixed
// width hex, so keys of different tenants never collide.
func Key(tenant string, pctx models.PromptContext) string {
	return tenant + ":" + ContextHash(pctx)
}

// Get returns a fresh entry only.
func (m *Manager) Get(tenant string, pctx models.PromptContext) (models.CachedPrompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookupLocked(tenant, ContextHash(pctx))
	if !ok || entry.IsExpired(m.now()) {
		return models.CachedPrompt{}, false
	}
	return *entry, true
}

// GetStale returns an entry that is fresh or within the stale horizon.
func (m *Manager) GetStale(tenant string, pctx models.PromptContext) (models.CachedPrompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookupLocked(tenant, ContextHash(pctx))
	if !ok {
		return models.CachedPrompt{}, false
	}
	return *entry, true
}

// lookupLocked purges the entry if it is past the stale horizon.
func (m *Manager) lookupLocked(tenant, hash string) (*models.CachedPrompt, bool) {
	entry, ok := m.entries[tenant][hash]
	if !ok {
		return nil, false
	}
	if m.pastStaleHorizon(entry, m.now()) {
		m.deleteLocked(tenant, hash)
		return nil, false
	}
	return entry, true
}

func (m *Manager) deleteLocked(tenant, hash string) {
	bucket, ok := m.entries[tenant]
	if !ok {
		return
	}
	if _, ok := bucket[hash]; !ok {
		return
	}
	delete(bucket, hash)
	m.size--
	if len(bucket) == 0 {
		delete(m.entries, tenant)
	}
}

func (m *Manager) pastStaleHorizon(entry *models.CachedPrompt, now time.Time) bool {
	return !now.Before(entry.CachedAt.Add(m.staleTTL))
}

// Set caches prompt for the tenant and context. ttl <= 0 uses the fresh
// TTL; ttl is capped at the stale horizon.
func (m *Manager) Set(tenant string, pctx models.PromptContext, prompt models.ResolvedPrompt, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.freshTTL
	}
	if ttl > m.staleTTL {
		ttl = m.staleTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hash := ContextHash(pctx)
	_, exists := m.entries[tenant][hash]
	if !exists && m.size >= m.maxEntries {
		m.evictOldestLocked()
	}

	bucket, ok := m.entries[tenant]
	if !ok {
		bucket = make(map[string]*models.CachedPrompt)
		m.entries[tenant] = bucket
	}
	if !exists {
		m.size++
	}

	now := m.now()
	bucket[hash] = &models.CachedPrompt{
		Content:     prompt.Content,
		Source:      prompt.Source,
		Version:     prompt.Version,
		CachedAt:    now,
		ExpiresAt:   now.Add(ttl),
		RepoRef:     prompt.RepoRef,
		ContextHash: hash,
	}
}

func (m *Manager) evictOldestLocked() {
	var (
		oldestTenant, oldestHash string
		oldest                   time.Time
		found                    bool
	)
	for tenant, bucket := range m.entries {
		for hash, e := range bucket {
			if !found || e.CachedAt.Before(oldest) {
				oldestTenant, oldestHash, oldest, found = tenant, hash, e.CachedAt, true
			}
		}
	}
	if found {
		m.deleteLocked(oldestTenant, oldestHash)
		m.metrics.Eviction()
		m.logger.Debug().Str("tenant", oldestTenant).Str("context_hash", oldestHash).Msg("evicted oldest prompt cache entry")
	}
}

// InvalidateTenant drops every entry of tenant and returns how many there were.
func (m *Manager) InvalidateTenant(tenant string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.entries[tenant])
	delete(m.entries, tenant)
	m.size -= removed
	return removed
}

// Clear drops every entry of every tenant and returns how many there were.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.size
	m.entries = make(map[string]map[string]*models.CachedPrompt)
	m.size = 0
	return removed
}

// GetWithRevalidation serves fresh entries directly. A stale entry is
// returned immediately and refresh runs in the background; concurrent
// refreshes of the same key share one call. A miss returns false.
func (m *Manager) GetWithRevalidation(tenant string, pctx models.PromptContext, refresh RefreshFunc) (models.CachedPrompt, bool) {
	entry, ok := m.GetStale(tenant, pctx)
	if !ok {
		return models.CachedPrompt{}, false
	}
	if !entry.IsExpired(m.now()) || refresh == nil {
		return entry, true
	}

	key := Key(tenant, pctx)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		_, _, _ = m.refreshes.Do(key, func() (any, error) {
			m.runRefresh(tenant, pctx, refresh)
			return nil, nil
		})
	}()
	return entry, true
}

func (m *Manager) runRefresh(tenant string, pctx models.PromptContext, refresh RefreshFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.metrics.Refresh("error")
			m.logger.Error().Interface("panic", r).Str("tenant", tenant).Msg("background prompt refresh panicked")
		}
	}()

	prompt, err := refresh(ctx)
	switch {
	case err != nil:
		m.metrics.Refresh("error")
		m.logger.Warn().Err(err).Str("tenant", tenant).Str("category", pctx.Category).Msg("background prompt refresh failed")
	case prompt == nil || prompt.IsStale:
		m.metrics.Refresh("empty")
	default:
		m.Set(tenant, pctx, *prompt, 0)
		m.metrics.Refresh("ok")
	}
}

// Wait blocks until scheduled background refreshes have finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Stats counts entries, purging any past the stale horizon.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := Stats{Max: m.maxEntries}
	for tenant, bucket := range m.entries {
		for hash, e := range bucket {
			if m.pastStaleHorizon(e, now) {
				m.deleteLocked(tenant, hash)
				continue
			}
			s.Total++
			if e.IsExpired(now) {
				s.Stale++
			} else {
				s.Fresh++
			}
		}
	}
	return s
}

// Len returns the raw number of stored entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
