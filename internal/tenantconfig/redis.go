package tenantconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptsync/pkg/models"
)

// redisStore keeps one JSON document per tenant under prefix:cfg: and the
// enabled tenant IDs in a set under prefix:idx:, so no tenant ID can
// collide with the index.
type redisStore struct {
	client redis.UniversalClient
	prefix string
	codec  sealer
	now    func() time.Time
}

func newRedisStore(client redis.UniversalClient, prefix string, codec sealer, now func() time.Time) *redisStore {
	return &redisStore{client: client, prefix: prefix, codec: codec, now: now}
}

func (s *redisStore) key(guildID string) string { return s.prefix + ":cfg:" + guildID }

func (s *redisStore) enabledKey() string { return s.prefix + ":idx:enabled" }

func (s *redisStore) load(ctx context.Context, guildID string) (*record, error) {
	val, err := s.client.Get(ctx, s.key(guildID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: get %s: %w", guildID, err)
	}
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("tenantconfig: decode %s: %w", guildID, err)
	}
	return &rec, nil
}

func (s *redisStore) Get(ctx context.Context, guildID string) (*models.TenantPromptConfig, error) {
	rec, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return s.codec.fromRecord(rec)
}

func (s *redisStore) Set(ctx context.Context, cfg *models.TenantPromptConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}

	var createdAt time.Time
	existing, err := s.load(ctx, cfg.GuildID)
	switch {
	case err == nil:
		createdAt = existing.CreatedAt
	case !errors.Is(err, ErrNotFound):
		return err
	}
	stamp(cfg, createdAt, s.now())

	rec, err := s.codec.toRecord(cfg)
	if err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(cfg.GuildID), val, 0)
		if cfg.Enabled {
			pipe.SAdd(ctx, s.enabledKey(), cfg.GuildID)
		} else {
			pipe.SRem(ctx, s.enabledKey(), cfg.GuildID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tenantconfig: set %s: %w", cfg.GuildID, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, guildID string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(guildID))
		pipe.SRem(ctx, s.enabledKey(), guildID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("tenantconfig: delete %s: %w", guildID, err)
	}
	return del.Val() > 0, nil
}

func (s *redisStore) ListEnabled(ctx context.Context) ([]models.TenantPromptConfig, error) {
	ids, err := s.client.SMembers(ctx, s.enabledKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: list enabled: %w", err)
	}
	sort.Strings(ids)

	out := make([]models.TenantPromptConfig, 0, len(ids))
	for _, id := range ids {
		rec, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !rec.Enabled {
			continue
		}
		cfg, err := s.codec.fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}
