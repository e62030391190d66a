package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePostRepo overrides just the repository calls the dispatcher makes.
type fakePostRepo struct {
	repository.ScheduledPostRepository

	mu         sync.Mutex
	due        []*models.ScheduledPost
	listCalls  int
	staleCalls int
	staleReset int64
}

func (f *fakePostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakePostRepo) ResetStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleCalls++
	return f.staleReset, nil
}

type fakePublishService struct {
	published sync.Map
	calls     int64
}

func (f *fakePublishService) PublishPost(ctx context.Context, postID int64) error {
	atomic.AddInt64(&f.calls, 1)
	f.published.Store(postID, true)
	return nil
}

func dispatcherConfig() config.Config {
	return config.Config{
		Scheduler: config.Scheduler{
			TickInterval: 10 * time.Millisecond,
			BatchSize:    50,
			StaleAfter:   15 * time.Minute,
		},
	}
}

func TestDispatcherDeliversDuePosts(t *testing.T) {
	repo := &fakePostRepo{
		due: []*models.ScheduledPost{
			{ID: 1, Status: models.PostStatusScheduled},
			{ID: 2, Status: models.PostStatusScheduled},
		},
	}
	ps := &fakePublishService{}

	d := NewDispatcher(dispatcherConfig(), repo, ps)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ps.calls) == 2
	}, time.Second, 5*time.Millisecond)

	_, ok := ps.published.Load(int64(1))
	assert.True(t, ok)
	_, ok = ps.published.Load(int64(2))
	assert.True(t, ok)
}

func TestDispatcherFirstPassIsImmediate(t *testing.T) {
	repo := &fakePostRepo{
		due: []*models.ScheduledPost{{ID: 3, Status: models.PostStatusScheduled}},
	}
	ps := &fakePublishService{}

	cfg := dispatcherConfig()
	cfg.Scheduler.TickInterval = time.Hour

	d := NewDispatcher(cfg, repo, ps)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&ps.calls) == 1
	}, time.Second, 5*time.Millisecond, "first pass should not wait for the ticker")
}

func TestDispatcherStartIsIdempotent(t *testing.T) {
	repo := &fakePostRepo{}
	ps := &fakePublishService{}

	d := NewDispatcher(dispatcherConfig(), repo, ps)
	d.Start()
	d.Start()
	d.Start()
	defer d.Stop()

	time.Sleep(35 * time.Millisecond)

	repo.mu.Lock()
	calls := repo.listCalls
	repo.mu.Unlock()

	// one loop: immediate pass plus roughly a call per tick, not three
	// loops' worth
	assert.LessOrEqual(t, calls, 6)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestDispatcherStopIsIdempotentAndHalts(t *testing.T) {
	repo := &fakePostRepo{}
	ps := &fakePublishService{}

	d := NewDispatcher(dispatcherConfig(), repo, ps)
	d.Start()
	d.Stop()
	d.Stop()

	repo.mu.Lock()
	callsAfterStop := repo.listCalls
	repo.mu.Unlock()

	time.Sleep(40 * time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, callsAfterStop, repo.listCalls, "no ticks after Stop returns")
}

func TestDispatcherRecoversStaleProcessing(t *testing.T) {
	repo := &fakePostRepo{staleReset: 2}
	ps := &fakePublishService{}

	d := NewDispatcher(dispatcherConfig(), repo, ps)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.staleCalls >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherRestartsAfterStop(t *testing.T) {
	repo := &fakePostRepo{}
	ps := &fakePublishService{}

	d := NewDispatcher(dispatcherConfig(), repo, ps)
	d.Start()
	d.Stop()

	repo.mu.Lock()
	repo.due = []*models.ScheduledPost{{ID: 9, Status: models.PostStatusScheduled}}
	repo.mu.Unlock()

	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		_, ok := ps.published.Load(int64(9))
		return ok
	}, time.Second, 5*time.Millisecond)
}
