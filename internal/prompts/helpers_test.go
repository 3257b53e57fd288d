package prompts

import (
	"context"
	"sync"
	"time"

	"github.com/promptsync/internal/cache"
	"github.com/promptsync/internal/repository"
)

type fakeRepo struct {
	mu    sync.Mutex
	files map[string]string
	errs  map[string]error
	calls []string
}

func newFakeRepo(files map[string]string) *fakeRepo {
	return &fakeRepo{files: files, errs: map[string]error{}}
}

func (f *fakeRepo) FetchFile(ctx context.Context, repoRef, filePath, branch, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filePath)
	if err, ok := f.errs[filePath]; ok {
		return "", err
	}
	if body, ok := f.files[filePath]; ok {
		return body, nil
	}
	return "", repository.ErrNotFound
}

func (f *fakeRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(clock *fakeClock) *cache.Manager {
	return cache.New(cache.WithClock(clock.Now))
}

const standupManifest = `version: v1
routes:
  meeting: prompts/{category}/{channel}.md
`
