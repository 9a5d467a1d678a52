package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 — fast path.
func TestScenarioFastPath(t *testing.T) {
	d := New(map[int]int{1: 1}, nil)
	defer d.Close()

	w := newFakeWorker(1)
	d.AddReadyWorker(w) // bootstrap path: no reload active, admits idle directly
	require.Equal(t, StatusIdle, w.Status())

	d.AddTask(1, "T1")

	assert.Equal(t, []Task{"T1"}, w.Assigned())
	assert.Equal(t, StatusBusy, w.Status())
	assert.Zero(t, d.Snapshot().QueueDepth[1])
}

// S2 — queuing.
func TestScenarioQueuing(t *testing.T) {
	d := New(map[int]int{1: 1}, nil)
	defer d.Close()

	w := newFakeWorker(1)
	d.AddReadyWorker(w)
	d.AddTask(1, "T1")
	require.Equal(t, StatusBusy, w.Status())

	d.AddTask(1, "T2")
	assert.Equal(t, 1, d.Snapshot().QueueDepth[1])
	assert.Equal(t, []Task{"T1"}, w.Assigned(), "W is busy, T2 must queue rather than assign")

	task, ok := d.AllocTask(w)
	require.True(t, ok)
	assert.Equal(t, "T2", task)
	assert.Equal(t, StatusBusy, w.Status())
	assert.Zero(t, d.Snapshot().QueueDepth[1])

	task, ok = d.AllocTask(w)
	assert.False(t, ok)
	assert.Nil(t, task)
	assert.Equal(t, StatusIdle, w.Status())
}

// S3 — multi-group isolation.
func TestScenarioMultiGroupIsolation(t *testing.T) {
	d := New(map[int]int{1: 1, 2: 1}, nil)
	defer d.Close()

	w1 := newFakeWorker(1)
	w2 := newFakeWorker(2)
	d.AddReadyWorker(w1)
	d.AddReadyWorker(w2)

	d.AddTask(1, "busy-maker")
	require.Equal(t, StatusBusy, w1.Status())

	d.AddTask(2, "X")

	assert.Equal(t, []Task{"X"}, w2.Assigned())
	assert.Equal(t, StatusBusy, w2.Status())
	snap := d.Snapshot()
	assert.Zero(t, snap.QueueDepth[1])
	assert.Zero(t, snap.QueueDepth[2])
}

// S4 — reload happy path.
func TestScenarioReloadHappyPath(t *testing.T) {
	var replaced int
	d := New(map[int]int{1: 1}, nil, WithReloadOverCallback(func() { replaced++ }))
	defer d.Close()

	wa := newFakeWorker(1)
	d.AddReadyWorker(wa)
	require.Equal(t, StatusIdle, wa.Status())

	d.StartReload()
	wb := newFakeWorker(1)
	d.AddReadyWorker(wb)
	require.False(t, d.Snapshot().Reloading, "wa is already idle, so staging wb completes the swap at once")

	// Old worker parks rather than getting new work.
	task, ok := d.AllocTask(wa)
	assert.False(t, ok)
	assert.Nil(t, task)
	assert.Equal(t, StatusIdle, wa.Status())

	assert.Equal(t, 1, replaced, "swap should have fired the callback exactly once")
	assert.False(t, d.Snapshot().Reloading)

	d.AddTask(1, "Y")
	assert.Equal(t, []Task{"Y"}, wb.Assigned())
}

// S5 — reload waits for drain.
func TestScenarioReloadWaitsForDrain(t *testing.T) {
	var replaced int
	d := New(map[int]int{1: 1}, nil, WithReloadOverCallback(func() { replaced++ }))
	defer d.Close()

	wa := newFakeWorker(1)
	d.AddReadyWorker(wa)
	d.AddTask(1, "T1")
	require.Equal(t, StatusBusy, wa.Status())

	d.StartReload()
	wb := newFakeWorker(1)
	d.AddReadyWorker(wb)

	assert.Equal(t, 0, replaced, "swap must not happen while wa is still busy")
	assert.True(t, d.Snapshot().Reloading)

	task, ok := d.AllocTask(wa)
	assert.False(t, ok)
	assert.Nil(t, task)
	assert.Equal(t, 1, replaced, "drain completing should trigger the swap")
	assert.False(t, d.Snapshot().Reloading)
}

// S6 — worker death mid-task.
func TestScenarioWorkerDeathMidTask(t *testing.T) {
	d := New(map[int]int{1: 1}, nil)
	defer d.Close()

	wa := newFakeWorker(1)
	d.AddReadyWorker(wa)
	d.AddTask(1, "T1")
	require.Equal(t, StatusBusy, wa.Status())

	d.RemoveWorker(wa)

	d.AddTask(1, "T2")
	assert.Equal(t, 1, d.Snapshot().QueueDepth[1], "no idle worker remains, T2 must queue")
}

func TestRemoveUnknownWorkerIsNoop(t *testing.T) {
	d := New(map[int]int{1: 1}, nil)
	defer d.Close()

	w := newFakeWorker(1)
	assert.NotPanics(t, func() { d.RemoveWorker(w) })
}

func TestAddTaskToUnconfiguredGroupQueuesForever(t *testing.T) {
	d := New(map[int]int{1: 1}, nil)
	defer d.Close()

	d.AddTask(99, "orphan")
	assert.Equal(t, 1, d.Snapshot().QueueDepth[99])
}

func TestReloadOverCallbackPanicDoesNotPoisonState(t *testing.T) {
	d := New(map[int]int{1: 1}, nil, WithReloadOverCallback(func() {
		panic("master counterpart exploded")
	}))
	defer d.Close()

	wa := newFakeWorker(1)
	d.AddReadyWorker(wa)

	d.StartReload()
	wb := newFakeWorker(1)
	assert.NotPanics(t, func() { d.AddReadyWorker(wb) })

	// Swap already committed despite the callback panicking.
	assert.False(t, d.Snapshot().Reloading)
	d.AddTask(1, "still-works")
	assert.Equal(t, []Task{"still-works"}, wb.Assigned())
}
