package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadHelperWorkersDone(t *testing.T) {
	r := NewReloadHelper(map[int]int{1: 2, 2: 1})
	require.False(t, r.Running())

	r.Start()
	assert.True(t, r.Running())
	assert.False(t, r.WorkersDone())

	r.AddWorker(newFakeWorker(1))
	assert.False(t, r.WorkersDone(), "group 1 needs 2 workers, has 1")

	r.AddWorker(newFakeWorker(1))
	assert.False(t, r.WorkersDone(), "group 2 still has none")

	r.AddWorker(newFakeWorker(2))
	assert.True(t, r.WorkersDone())
}

func TestReloadHelperStartClearsStaging(t *testing.T) {
	r := NewReloadHelper(map[int]int{1: 1})
	r.Start()
	r.AddWorker(newFakeWorker(1))
	require.True(t, r.WorkersDone())

	// Double-signal: Start is idempotent and restarts collection.
	r.Start()
	assert.False(t, r.WorkersDone())
	assert.Empty(t, r.WorkersDict()[1])
}

func TestReloadHelperStop(t *testing.T) {
	r := NewReloadHelper(map[int]int{1: 1})
	r.Start()
	r.AddWorker(newFakeWorker(1))
	require.True(t, r.WorkersDone())

	r.Stop()
	assert.False(t, r.Running())
	assert.False(t, r.WorkersDone())
}

func TestReloadHelperZeroExpectedGroupTriviallyDone(t *testing.T) {
	r := NewReloadHelper(map[int]int{1: 0})
	r.Start()
	assert.True(t, r.WorkersDone())
}
