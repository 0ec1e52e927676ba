package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunAsyncPreservesOrder(t *testing.T) {
	q := New("order", 4)
	defer q.Close()

	var got []int
	for i := range 100 {
		require.NoError(t, q.RunAsync(func() { got = append(got, i) }))
	}
	require.NoError(t, q.RunSync(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestRunSyncWaits(t *testing.T) {
	q := New("sync", 0)
	defer q.Close()

	ran := false
	require.NoError(t, q.RunSync(func() { ran = true }))
	assert.True(t, ran)
}

func TestTasksNeverOverlap(t *testing.T) {
	q := New("serial", 0)
	defer q.Close()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 20 {
				_ = q.RunAsync(func() {
					mu.Lock()
					active++
					maxActive = max(maxActive, active)
					mu.Unlock()
					mu.Lock()
					active--
					mu.Unlock()
				})
			}
		})
	}
	wg.Wait()
	require.NoError(t, q.RunSync(func() {}))
	q.Close()
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, uint64(161), q.Executed())
}

func TestRunSyncFromWorkerRunsInline(t *testing.T) {
	q := New("reentrant", 0)
	defer q.Close()

	inner := false
	require.NoError(t, q.RunSync(func() {
		assert.True(t, q.IsWorker())
		require.NoError(t, q.RunSync(func() { inner = true }))
	}))
	assert.True(t, inner)
	assert.False(t, q.IsWorker())
}

func TestPanickingTaskKeepsWorkerAlive(t *testing.T) {
	q := New("panic", 0)
	defer q.Close()

	require.NoError(t, q.RunAsync(func() { panic("boom") }))
	after := false
	require.NoError(t, q.RunSync(func() { after = true }))
	assert.True(t, after)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	q := New("close", 16)

	count := 0
	for range 10 {
		require.NoError(t, q.RunAsync(func() { count++ }))
	}
	q.Close()
	q.Close()

	assert.Equal(t, 10, count)
	assert.ErrorIs(t, q.RunAsync(func() {}), ErrClosed)
	assert.ErrorIs(t, q.RunSync(func() {}), ErrClosed)
}
