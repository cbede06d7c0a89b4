package tasks

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return NewTracker(zerolog.New(os.Stdout).Level(zerolog.Disabled))
}

func TestTrackerRegisterAndComplete(t *testing.T) {
	tr := newTestTracker()

	id := tr.Register("cleanup", nil)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, tr.ActiveCount())

	assert.True(t, tr.Complete(id))
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTrackerCompleteUnknown(t *testing.T) {
	tr := newTestTracker()

	assert.False(t, tr.Complete("no-such-task"))
}

func TestTrackerDoubleComplete(t *testing.T) {
	tr := newTestTracker()

	id := tr.Register("reindex", nil)
	assert.True(t, tr.Complete(id))
	assert.False(t, tr.Complete(id))
}

func TestTrackerSnapshotOrder(t *testing.T) {
	tr := newTestTracker()
	current := time.Now()
	tr.now = func() time.Time { return current }

	first := tr.Register("first", nil)
	tr.Register("second", map[string]any{"source": "test"})
	tr.Register("third", nil)

	current = current.Add(2 * time.Second)

	snap := tr.Snapshot()
	require.Equal(t, 3, snap.ActiveCount)
	require.Len(t, snap.RunningJobs, 3)
	assert.Equal(t, "first", snap.RunningJobs[0].Name)
	assert.Equal(t, "second", snap.RunningJobs[1].Name)
	assert.Equal(t, "third", snap.RunningJobs[2].Name)
	for _, job := range snap.RunningJobs {
		assert.InDelta(t, 2.0, job.Duration, 0.001)
	}

	require.True(t, tr.Complete(first))
	snap = tr.Snapshot()
	require.Equal(t, 2, snap.ActiveCount)
	assert.Equal(t, "second", snap.RunningJobs[0].Name)
	assert.Equal(t, "third", snap.RunningJobs[1].Name)
}

func TestTrackerConcurrentUse(t *testing.T) {
	tr := newTestTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tr.Register("burst", nil)
			assert.True(t, tr.Complete(id))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTrackCompletesOnSuccess(t *testing.T) {
	tr := newTestTracker()

	var sawID string
	err := tr.Track(context.Background(), "export", nil, func(ctx context.Context) error {
		sawID = IDFromContext(ctx)
		assert.Equal(t, 1, tr.ActiveCount())
		return nil
	})

	require.NoError(t, err)
	assert.NotEmpty(t, sawID)
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTrackCompletesOnError(t *testing.T) {
	tr := newTestTracker()
	boom := errors.New("export failed")

	err := tr.Track(context.Background(), "export", nil, func(ctx context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestTrackCompletesOnPanic(t *testing.T) {
	tr := newTestTracker()

	assert.Panics(t, func() {
		_ = tr.Track(context.Background(), "export", nil, func(ctx context.Context) error {
			panic("worker exploded")
		})
	})
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestIDFromContextMissing(t *testing.T) {
	assert.Empty(t, IDFromContext(context.Background()))
}
