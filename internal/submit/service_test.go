package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/gammon-analysis-bot/internal/admission"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/notify"
)

type recordingWatcher struct {
	mu      sync.Mutex
	watches []notify.Watch
	block   chan struct{}
}

func (w *recordingWatcher) Watch(ctx context.Context, n notify.Watch) {
	w.mu.Lock()
	w.watches = append(w.watches, n)
	w.mu.Unlock()
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
		}
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *jobqueue.Job) error { return errors.New("redis down") }

func setup(t *testing.T) (*redis.Client, *admission.Gate, *jobqueue.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, admission.NewGate(rdb, time.Hour, nil), jobqueue.NewStore(rdb, jobqueue.Options{}, nil)
}

func TestSubmitEnqueuesAndStartsWatcher(t *testing.T) {
	ctx := context.Background()
	_, gate, store := setup(t)
	w := &recordingWatcher{}
	svc := New(ctx, gate, store, w, nil)
	svc.newID = func() string { return "job-1" }

	acc, err := svc.Submit(ctx, Request{UserID: "u1", Room: "room", Kind: jobqueue.QueueBatch, Inputs: []string{" /in/a.zip ", ""}})
	require.NoError(t, err)
	assert.Equal(t, "job-1", acc.JobID)
	assert.Equal(t, jobqueue.QueueBatch, acc.Queue)
	svc.Wait()

	j, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, jobqueue.StateQueued, j.State)
	assert.Equal(t, []string{"/in/a.zip"}, j.Inputs)
	assert.Equal(t, "room", j.Room)

	active, err := gate.Active(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, active, "slot stays held until the watcher releases it")
	require.Len(t, w.watches, 1)
	assert.Equal(t, notify.Watch{JobID: "job-1", UserID: "u1", Room: "room"}, w.watches[0])
}

func TestSubmitRejectsSecondJobSynchronously(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, gate, store := setup(t)
	w := &recordingWatcher{block: make(chan struct{})}
	svc := New(ctx, gate, store, w, nil)

	_, err := svc.Submit(ctx, Request{UserID: "u1", Inputs: []string{"a.mat"}})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, Request{UserID: "u1", Inputs: []string{"b.mat"}})
	require.ErrorIs(t, err, admission.ErrBusy)

	n, err := store.Length(ctx, jobqueue.QueueSingle)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.Submit(ctx, Request{UserID: "u2", Inputs: []string{"c.mat"}})
	require.NoError(t, err, "other users are not affected")

	close(w.block)
	svc.Wait()
}

func TestSubmitReleasesSlotWhenEnqueueFails(t *testing.T) {
	ctx := context.Background()
	_, gate, _ := setup(t)
	svc := New(ctx, gate, failingQueue{}, &recordingWatcher{}, nil)

	_, err := svc.Submit(ctx, Request{UserID: "u1", Inputs: []string{"a.mat"}})
	require.Error(t, err)

	active, err := gate.Active(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSubmitValidates(t *testing.T) {
	ctx := context.Background()
	_, gate, store := setup(t)
	svc := New(ctx, gate, store, &recordingWatcher{}, nil)

	_, err := svc.Submit(ctx, Request{Inputs: []string{"a.mat"}})
	assert.Error(t, err)
	_, err = svc.Submit(ctx, Request{UserID: "u", Inputs: []string{"  "}})
	assert.Error(t, err)
	_, err = svc.Submit(ctx, Request{UserID: "u", Kind: "bulk", Inputs: []string{"a.mat"}})
	assert.Error(t, err)

	active, _ := gate.Active(ctx, "u")
	assert.Empty(t, active, "validation happens before admission")
}

func TestResumeReattachesHeldJobsAndDropsOrphans(t *testing.T) {
	ctx := context.Background()
	_, gate, store := setup(t)
	require.NoError(t, gate.Acquire(ctx, "u1", "job-1"))
	require.NoError(t, store.Enqueue(ctx, &jobqueue.Job{ID: "job-1", Kind: jobqueue.QueueSingle, Queue: jobqueue.QueueSingle, UserID: "u1", Room: "room-a", Inputs: []string{"a.mat"}}))
	require.NoError(t, gate.Acquire(ctx, "u2", "ghost"))

	w := &recordingWatcher{}
	svc := New(ctx, gate, store, w, nil)
	n, err := svc.Resume(ctx, gate, store)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, 1, n)
	require.Len(t, w.watches, 1)
	assert.Equal(t, notify.Watch{JobID: "job-1", UserID: "u1", Room: "room-a"}, w.watches[0])

	active, err := gate.Active(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, active, "a slot without a job record is freed")

	_, err = svc.Submit(ctx, Request{UserID: "u1", Inputs: []string{"b.mat"}})
	require.ErrorIs(t, err, admission.ErrBusy, "the resumed job still blocks a second submission")
}
