// Package tenantconfig persists which repository, branch and credential a
// tenant has configured for custom prompts.
package tenantconfig

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptsync/pkg/models"
)

var (
	ErrNotFound         = errors.New("tenantconfig: not found")
	ErrInvalidConfig    = errors.New("tenantconfig: invalid configuration")
	ErrInvalidStoreType = errors.New("tenantconfig: invalid store type")
	ErrNoCipher         = errors.New("tenantconfig: a cipher is required to store credentials")
)

// Store persists tenant prompt configurations. Implementations encrypt the
// credential on write and decrypt it on read, so callers only ever see the
// plaintext token.
type Store interface {
	// Get returns ErrNotFound when the tenant has no configuration.
	Get(ctx context.Context, guildID string) (*models.TenantPromptConfig, error)
	Set(ctx context.Context, cfg *models.TenantPromptConfig) error
	// Delete reports whether a configuration existed.
	Delete(ctx context.Context, guildID string) (bool, error)
	ListEnabled(ctx context.Context) ([]models.TenantPromptConfig, error)
}

// StoreType selects a Store driver.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypePostgres StoreType = "postgres"
	StoreTypeRedis    StoreType = "redis"
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	db          *sql.DB
	redisClient redis.UniversalClient
	keyPrefix   string
	cipher      Cipher
	now         func() time.Time
}

// WithDB sets the connection used by the postgres driver.
func WithDB(db *sql.DB) StoreOption {
	return func(c *storeConfig) { c.db = db }
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithKeyPrefix namespaces redis keys. Defaults to "promptcfg".
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		if prefix != "" {
			c.keyPrefix = strings.TrimSuffix(prefix, ":")
		}
	}
}

// WithCipher sets the credential cipher. Without one, configurations that
// carry a token are rejected with ErrNoCipher.
func WithCipher(cipher Cipher) StoreOption {
	return func(c *storeConfig) { c.cipher = cipher }
}

func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewStore creates a Store for the given driver. The postgres driver needs
// WithDB and the redis driver WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{keyPrefix: "promptcfg", now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	codec := sealer{cipher: cfg.cipher}

	switch storeType {
	case StoreTypeMemory, "":
		return newMemoryStore(codec, cfg.now), nil
	case StoreTypePostgres:
		if cfg.db == nil {
			return nil, errors.Join(ErrInvalidConfig, errors.New("postgres store requires a database connection"))
		}
		return newPostgresStore(cfg.db, codec, cfg.now), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, errors.Join(ErrInvalidConfig, errors.New("redis store requires a client"))
		}
		return newRedisStore(cfg.redisClient, cfg.keyPrefix, codec, cfg.now), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// sealer moves credentials between plaintext and the stored ciphertext.
type sealer struct {
	cipher Cipher
}

func (s sealer) seal(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	if s.cipher == nil {
		return "", ErrNoCipher
	}
	return s.cipher.Encrypt(token)
}

func (s sealer) open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if s.cipher == nil {
		return "", ErrNoCipher
	}
	return s.cipher.Decrypt(ciphertext)
}

func validate(cfg *models.TenantPromptConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.GuildID) == "" {
		return errors.Join(ErrInvalidConfig, errors.New("guild id is required"))
	}
	if strings.TrimSpace(cfg.RepoURL) == "" {
		return errors.Join(ErrInvalidConfig, errors.New("repository url is required"))
	}
	return nil
}

// stamp fills the bookkeeping fields before a write.
func stamp(cfg *models.TenantPromptConfig, createdAt, now time.Time) {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.LastSyncStatus == "" {
		cfg.LastSyncStatus = models.SyncStatusPending
	}
	if cfg.ValidationErrors == nil {
		cfg.ValidationErrors = []string{}
	}
	if !createdAt.IsZero() {
		cfg.CreatedAt = createdAt
	} else if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
}
