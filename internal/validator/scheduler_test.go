package validator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

type backfillRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *backfillRecorder) run(ctx context.Context, email string) *models.VerificationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, email)
	return &models.VerificationResult{
		Email:        email,
		Normalized:   email,
		Reachability: models.ReachabilitySafe,
		VerifiedAt:   time.Now().UTC(),
	}
}

func (r *backfillRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestSchedulerDropsWhenQueueFull(t *testing.T) {
	rec := &backfillRecorder{}
	// One slot and no running workers: the second job has nowhere to go.
	s := NewScheduler(rec.run, 1, 1)

	assert.True(t, s.Enqueue("first@corp.example", nil))
	assert.False(t, s.Enqueue("second@corp.example", nil))
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 0, rec.count(), "nothing runs before Start")
}

func TestSchedulerProcessesQueueAndUpdatesCache(t *testing.T) {
	rec := &backfillRecorder{}
	mc := newMemCache()
	s := NewScheduler(rec.run, 16, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for _, email := range []string{"a@corp.example", "b@corp.example", "c@corp.example"} {
		require.True(t, s.Enqueue(email, mc.update))
	}

	require.Eventually(t, func() bool {
		return rec.count() == 3 && mc.updateCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotNil(t, mc.get("a@corp.example"))
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerToleratesNilUpdate(t *testing.T) {
	rec := &backfillRecorder{}
	s := NewScheduler(rec.run, 4, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.True(t, s.Enqueue("a@corp.example", nil))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	rec := &backfillRecorder{}
	s := NewScheduler(rec.run, 4, 2)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	// Give the workers a moment to observe the cancellation, then verify
	// new jobs just sit in the queue.
	time.Sleep(50 * time.Millisecond)
	s.Enqueue("late@corp.example", nil)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1, s.Pending())
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler(nil, 0, 0)
	assert.Equal(t, DefaultBackfillQueue, cap(s.queue))
	assert.Equal(t, DefaultBackfillWorkers, s.workers)
}
