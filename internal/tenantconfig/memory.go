package tenantconfig

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/promptsync/pkg/models"
)

// record is the stored form of a configuration: the token is replaced by
// its ciphertext.
type record struct {
	models.TenantPromptConfig
	EncryptedToken string `json:"encrypted_token,omitempty"`
}

func (s sealer) toRecord(cfg *models.TenantPromptConfig) (*record, error) {
	enc, err := s.seal(cfg.Token)
	if err != nil {
		return nil, err
	}
	rec := &record{TenantPromptConfig: *cfg, EncryptedToken: enc}
	rec.Token = ""
	rec.ValidationErrors = append([]string(nil), cfg.ValidationErrors...)
	return rec, nil
}

func (s sealer) fromRecord(rec *record) (*models.TenantPromptConfig, error) {
	token, err := s.open(rec.EncryptedToken)
	if err != nil {
		return nil, err
	}
	cfg := rec.TenantPromptConfig
	cfg.Token = token
	cfg.ValidationErrors = append([]string{}, rec.ValidationErrors...)
	if rec.LastSyncAt != nil {
		t := *rec.LastSyncAt
		cfg.LastSyncAt = &t
	}
	return &cfg, nil
}

type memoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	codec   sealer
	now     func() time.Time
}

func newMemoryStore(codec sealer, now func() time.Time) *memoryStore {
	return &memoryStore{records: make(map[string]*record), codec: codec, now: now}
}

func (s *memoryStore) Get(ctx context.Context, guildID string) (*models.TenantPromptConfig, error) {
	s.mu.RLock()
	rec, ok := s.records[guildID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.codec.fromRecord(rec)
}

func (s *memoryStore) Set(ctx context.Context, cfg *models.TenantPromptConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var createdAt time.Time
	if existing, ok := s.records[cfg.GuildID]; ok {
		createdAt = existing.CreatedAt
	}
	stamp(cfg, createdAt, s.now())

	rec, err := s.codec.toRecord(cfg)
	if err != nil {
		return err
	}
	s.records[cfg.GuildID] = rec
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[guildID]
	delete(s.records, guildID)
	return ok, nil
}

func (s *memoryStore) ListEnabled(ctx context.Context) ([]models.TenantPromptConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TenantPromptConfig, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Enabled {
			continue
		}
		cfg, err := s.codec.fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}
