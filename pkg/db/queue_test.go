package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/metamorph/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "metamorph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Init(context.Background()))
	return store
}

// queueFixture seeds a cluster with n entries plus one alignment type and
// returns the entry ids and the type id.
func queueFixture(t *testing.T, store *Store, n int) ([]int64, int64) {
	t.Helper()
	ctx := context.Background()

	seqs := []string{"MKTAYIAKQR", "MKTAYIAKQRQISFVKSHFSRQ", "MADEEKLPPGW", "MSGRGKQGGKARA", "MVLSPADKTNVKAAW"}
	draft := model.ClusterDraft{}
	for i := 0; i < n; i++ {
		seqID, err := store.AddSequence(ctx, seqs[i%len(seqs)]+string(rune('A'+i)))
		require.NoError(t, err)
		draft.Entries = append(draft.Entries, model.ClusterEntryDraft{
			SequenceID:       seqID,
			IsRepresentative: i == 0,
			SequenceLength:   len(seqs[i%len(seqs)]) + 1,
			Identity:         1.0,
		})
	}

	clusterIDs, err := store.SaveClusters(ctx, []model.ClusterDraft{draft})
	require.NoError(t, err)

	entries, err := store.ListClusterEntries(ctx, clusterIDs[0])
	require.NoError(t, err)
	require.Len(t, entries, n)

	typeID, err := store.UpsertAlignmentType(ctx, model.AlignmentType{
		Name:     "CE-align",
		TaskName: "cealign",
	})
	require.NoError(t, err)

	ids := make([]int64, n)
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, typeID
}

func TestEnqueueIsIdempotentWhileOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)

	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskPending, tasks[0].State)
	assert.Equal(t, 0, tasks[0].RetryCount)

	// Still a no-op while the task is processing.
	_, err = store.Claim(ctx, "w1", 3)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	tasks, err = store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestEnqueueAfterTerminalCreatesNewRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)

	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))
	task, err := store.Claim(ctx, "w1", 3)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, task.ID, model.AlignmentMetrics{}))

	// Terminal rows are audit history and do not block a fresh pair.
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestConcurrentClaimsNeverShareATask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	const claimers = 8
	var wg sync.WaitGroup
	won := make(chan int64, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.Claim(ctx, "racer", 3)
			if err == nil {
				won <- task.ID
				return
			}
			assert.ErrorIs(t, err, model.ErrNoTask)
		}()
	}
	wg.Wait()
	close(won)

	var winners int
	for range won {
		winners++
	}
	assert.Equal(t, 1, winners, "exactly one claimer may win the single task")
}

func TestClaimRecordsWorkerAndState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	task, err := store.Claim(ctx, "worker-7", 3)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, task.State)
	assert.Equal(t, "worker-7", task.WorkerID)
	assert.Equal(t, entries[0], task.ClusterEntryID)
	assert.Equal(t, typeID, task.AlignmentTypeID)

	_, err = store.Claim(ctx, "worker-8", 3)
	assert.ErrorIs(t, err, model.ErrNoTask)
}

func TestCompleteWritesResultAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	task, err := store.Claim(ctx, "w1", 3)
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, task.ID, model.AlignmentMetrics{CeRMS: 1.2}))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, got.State)

	results, err := store.ResultsByClusterEntry(ctx, entries[0])
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.2, results[0].CeRMS, 1e-9)
}

func TestCompleteRejectsUnclaimedTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)

	err = store.Complete(ctx, tasks[0].ID, model.AlignmentMetrics{})
	assert.ErrorIs(t, err, model.ErrNotClaimed)

	// No ghost result row.
	results, err := store.ResultsByClusterEntry(ctx, entries[0])
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFailRetryLadder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	const maxRetries = 2

	// Attempt 1: retry_count 0 -> 1, back to pending.
	task, err := store.Claim(ctx, "w1", maxRetries)
	require.NoError(t, err)
	state, err := store.Fail(ctx, task.ID, maxRetries, "ce binary exited 1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, state)

	// Attempt 2: retry_count = max_retries - 1 fails back to pending.
	task, err = store.Claim(ctx, "w1", maxRetries)
	require.NoError(t, err)
	assert.Equal(t, 1, task.RetryCount)
	state, err = store.Fail(ctx, task.ID, maxRetries, "ce binary exited 1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, state)

	// Attempt 3: at the budget, terminal error.
	task, err = store.Claim(ctx, "w1", maxRetries)
	require.NoError(t, err)
	assert.Equal(t, 2, task.RetryCount)
	state, err = store.Fail(ctx, task.ID, maxRetries, "ce binary exited 1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskError, state)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskError, got.State)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "ce binary exited 1", got.ErrorMessage)

	// Terminal means claim never sees it again.
	_, err = store.Claim(ctx, "w1", maxRetries)
	assert.ErrorIs(t, err, model.ErrNoTask)
}

func TestRecoverStaleSweepsOnlyOldClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 2)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))
	require.NoError(t, store.Enqueue(ctx, entries[1], typeID))

	base := time.Now()
	store.now = func() time.Time { return base }

	stale, err := store.Claim(ctx, "dead-worker", 3)
	require.NoError(t, err)

	// Second claim happens much later, so it is still fresh at sweep time.
	store.now = func() time.Time { return base.Add(45 * time.Minute) }
	fresh, err := store.Claim(ctx, "live-worker", 3)
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(50 * time.Minute) }
	swept, err := store.RecoverStale(ctx, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := store.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "stale claim")
	assert.Contains(t, got.ErrorMessage, "dead-worker")

	untouched, err := store.GetTask(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, untouched.State)
	assert.Equal(t, "live-worker", untouched.WorkerID)
}

func TestRecoverStaleExhaustsBudget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 1)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))

	base := time.Now()
	clock := base
	store.now = func() time.Time { return clock }

	// A worker that claims and dies every time ends the task in error.
	const maxRetries = 1
	for i := 0; i < maxRetries+1; i++ {
		_, err := store.Claim(ctx, "dead-worker", maxRetries)
		require.NoError(t, err)

		clock = clock.Add(time.Hour)
		swept, err := store.RecoverStale(ctx, 30*time.Minute, maxRetries)
		require.NoError(t, err)
		require.Equal(t, 1, swept)
	}

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskError, tasks[0].State)
	assert.Equal(t, maxRetries, tasks[0].RetryCount)
	assert.Contains(t, tasks[0].ErrorMessage, "stale claim")
}

// Scenario from the queue contract: 3 tasks, max_retries=2, a worker that
// always fails. All three must end terminally failed with the message kept.
func TestAllTasksExhaustedScenario(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 3)
	for _, e := range entries {
		require.NoError(t, store.Enqueue(ctx, e, typeID))
	}

	const maxRetries = 2
	for {
		task, err := store.Claim(ctx, "w1", maxRetries)
		if errors.Is(err, model.ErrNoTask) {
			break
		}
		require.NoError(t, err)
		_, err = store.Fail(ctx, task.ID, maxRetries, "fatcat crashed")
		require.NoError(t, err)
	}

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, model.TaskError, task.State)
		assert.Equal(t, maxRetries, task.RetryCount)
		assert.Equal(t, "fatcat crashed", task.ErrorMessage)
	}
}

func TestOpenTaskCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entries, typeID := queueFixture(t, store, 2)
	require.NoError(t, store.Enqueue(ctx, entries[0], typeID))
	require.NoError(t, store.Enqueue(ctx, entries[1], typeID))

	n, err := store.OpenTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	task, err := store.Claim(ctx, "w1", 3)
	require.NoError(t, err)
	n, err = store.OpenTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "processing still counts as open")

	require.NoError(t, store.Complete(ctx, task.ID, model.AlignmentMetrics{}))
	n, err = store.OpenTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
