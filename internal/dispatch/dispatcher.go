package dispatch

import (
	"sync"

	"go.uber.org/zap"
)

// Dispatcher is the top-level policy object: on task arrival it chooses
// worker-or-enqueue; on worker ready/finished it chooses task-or-idle; it
// drives the reload handoff across all configured groups.
//
// All mutating operations run on a single command-loop goroutine, the Go
// translation of the source's single-threaded cooperative reactor (see
// SPEC_FULL.md §5/§9): every exported method sends a closure over cmdCh and
// the loop executes closures strictly in arrival order. There is no mutex
// guarding dispatcher state because nothing outside the loop goroutine ever
// touches it.
type Dispatcher struct {
	log *zap.Logger

	groups map[int]int // static GROUP_CONFIG: group id -> expected worker count

	idle map[int]map[Worker]struct{}
	busy map[int]map[Worker]struct{}

	queue  *GroupQueue
	reload *ReloadHelper

	reloadOverCallback func()

	cmdCh chan func()

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	// warnedGroups tracks which unconfigured groups have already produced
	// the "operator error" log line, so a long-running process doesn't
	// spam it once per task forever.
	warnedGroups map[int]bool
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithReloadOverCallback sets the callback invoked once per successful
// swap. Typically the proxy glue uses this to notify the master process
// that the old generation can be retired.
func WithReloadOverCallback(cb func()) Option {
	return func(d *Dispatcher) { d.reloadOverCallback = cb }
}

// New builds a Dispatcher for the given static group configuration (group
// id -> expected worker count) and starts its command loop.
func New(groups map[int]int, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	gc := make(map[int]int, len(groups))
	idle := make(map[int]map[Worker]struct{}, len(groups))
	busy := make(map[int]map[Worker]struct{}, len(groups))
	for g, n := range groups {
		gc[g] = n
		idle[g] = make(map[Worker]struct{})
		busy[g] = make(map[Worker]struct{})
	}

	d := &Dispatcher{
		log:          log.With(zap.String("component", "dispatch.Dispatcher")),
		groups:       gc,
		idle:         idle,
		busy:         busy,
		queue:        NewGroupQueue(),
		reload:       NewReloadHelper(gc),
		cmdCh:        make(chan func(), 64),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
		warnedGroups: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case cmd := <-d.cmdCh:
			cmd()
		case <-d.closed:
			// Drain anything already queued before this call so a
			// racing caller blocked on <-done doesn't hang forever.
			for {
				select {
				case cmd := <-d.cmdCh:
					cmd()
				default:
					return
				}
			}
		}
	}
}

// exec runs fn on the command-loop goroutine and blocks until it returns.
// It is the only way dispatcher state is read or written.
func (d *Dispatcher) exec(fn func()) {
	reply := make(chan struct{})
	select {
	case d.cmdCh <- func() { fn(); close(reply) }:
	case <-d.done:
		return
	}
	select {
	case <-reply:
	case <-d.done:
	}
}

// Close stops the command loop and releases dispatcher state. Worker
// handles themselves are owned by the connection layer and are not closed
// here.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		<-d.done
		d.idle = nil
		d.busy = nil
		d.queue.Clear()
		d.reload.Stop()
	})
}

// AddTask is invoked by ingress code when a client request arrives for
// group.
func (d *Dispatcher) AddTask(group int, item Task) {
	d.exec(func() {
		if d.reload.WorkersDone() {
			// New generation ready: per the source's observed
			// behaviour, the incoming item is dropped rather than
			// enqueued, whether or not the swap commits — see
			// SPEC_FULL.md §9 and DESIGN.md Open Question 1.
			d.tryReplaceWorkers()
			return
		}

		idleSet := d.idle[group]
		if len(idleSet) == 0 {
			d.warnUnconfigured(group)
			d.queue.Put(group, item)
			return
		}

		w := popAny(idleSet)
		delete(idleSet, w)
		w.SetStatus(StatusBusy)
		d.busy[group][w] = struct{}{}
		_ = w.AssignTask(item)
	})
}

// AllocTask is invoked by a worker when it finishes a task and is ready
// for more. It returns the next task, or ok=false to mark the worker idle.
func (d *Dispatcher) AllocTask(w Worker) (task Task, ok bool) {
	d.exec(func() {
		if d.reload.WorkersDone() {
			// Deliberately park old-generation workers so they drain.
			w.SetStatus(StatusIdle)
			d.syncWorkerStatus(w)
			d.tryReplaceWorkers()
			task, ok = nil, false
			return
		}

		task, ok = d.queue.Get(w.GroupID())
		dst := StatusIdle
		if ok {
			dst = StatusBusy
		}
		if w.Status() != dst {
			w.SetStatus(dst)
			d.syncWorkerStatus(w)
		}
	})
	return task, ok
}

// AddReadyWorker is invoked when a newly-forked worker announces
// readiness. Outside a reload it is treated as admit-idle directly into
// the live registry (the bootstrap path); during a reload it is staged via
// the ReloadHelper and may trigger an immediate swap attempt.
func (d *Dispatcher) AddReadyWorker(w Worker) {
	d.exec(func() {
		w.SetStatus(StatusIdle)

		if !d.reload.Running() {
			d.admitIdleLocked(w)
			return
		}

		d.reload.AddWorker(w)
		if d.reload.WorkersDone() {
			d.tryReplaceWorkers()
		}
	})
}

// RemoveWorker removes w from whichever set holds it (busy checked first,
// then idle). It is a no-op if w is unknown to the registry — worker
// disconnect races with task completion are expected, not exceptional.
func (d *Dispatcher) RemoveWorker(w Worker) {
	d.exec(func() {
		g := w.GroupID()
		if busy, ok := d.busy[g]; ok {
			if _, present := busy[w]; present {
				delete(busy, w)
				return
			}
		}
		if idle, ok := d.idle[g]; ok {
			delete(idle, w)
		}
	})
}

// StartReload marks a reload active, clearing any previous staging set.
func (d *Dispatcher) StartReload() {
	d.exec(func() { d.reload.Start() })
}

// StopReload aborts an in-progress reload and discards its staging set.
func (d *Dispatcher) StopReload() {
	d.exec(func() { d.reload.Stop() })
}

// Reloading reports whether a reload is currently in progress.
func (d *Dispatcher) Reloading() bool {
	var running bool
	d.exec(func() { running = d.reload.Running() })
	return running
}

// Stats is a point-in-time snapshot for admin/introspection endpoints.
type Stats struct {
	Reloading    bool
	QueueDepth   map[int]int
	IdleCount    map[int]int
	BusyCount    map[int]int
	QueueTotal   int
	StagingCount map[int]int
}

// Snapshot returns a copy of the dispatcher's current bookkeeping state.
func (d *Dispatcher) Snapshot() Stats {
	var s Stats
	d.exec(func() {
		s.Reloading = d.reload.Running()
		s.QueueDepth = make(map[int]int, len(d.groups))
		s.IdleCount = make(map[int]int, len(d.groups))
		s.BusyCount = make(map[int]int, len(d.groups))
		s.StagingCount = make(map[int]int, len(d.groups))
		for g := range d.groups {
			s.QueueDepth[g] = d.queue.Size(g)
			s.IdleCount[g] = len(d.idle[g])
			s.BusyCount[g] = len(d.busy[g])
		}
		// Tasks queued for unconfigured groups are reported too.
		for g := range d.queue.queues {
			s.QueueDepth[g] = d.queue.Size(g)
		}
		for g, workers := range d.reload.WorkersDict() {
			s.StagingCount[g] = len(workers)
		}
		s.QueueTotal = d.queue.SizeAll()
	})
	return s
}

// admitIdleLocked implements the admit-idle transition. Precondition: w is
// not already present in idle or busy for its group. Must run on the
// command-loop goroutine.
func (d *Dispatcher) admitIdleLocked(w Worker) {
	g := w.GroupID()
	if _, ok := d.idle[g]; !ok {
		d.idle[g] = make(map[Worker]struct{})
	}
	if _, ok := d.busy[g]; !ok {
		d.busy[g] = make(map[Worker]struct{})
	}
	delete(d.busy[g], w)
	d.idle[g][w] = struct{}{}
}

// syncWorkerStatus moves w from the set implied by its previous status to
// the one implied by its current (already-updated) status. It tolerates
// absence from the source set. Must run on the command-loop goroutine.
func (d *Dispatcher) syncWorkerStatus(w Worker) {
	g := w.GroupID()
	var src, dst map[Worker]struct{}
	if w.Status() == StatusBusy {
		src, dst = d.idle[g], d.busy[g]
	} else {
		src, dst = d.busy[g], d.idle[g]
	}
	if src != nil {
		delete(src, w)
	}
	if dst == nil {
		dst = make(map[Worker]struct{})
		if w.Status() == StatusBusy {
			d.busy[g] = dst
		} else {
			d.idle[g] = dst
		}
	}
	dst[w] = struct{}{}
}

// tryReplaceWorkers performs the atomic swap. Preconditions: WorkersDone is
// true, and every group's busy set is empty (the outgoing generation has
// drained). If the drain precondition fails, state is left untouched and
// false is returned. Must run on the command-loop goroutine.
func (d *Dispatcher) tryReplaceWorkers() bool {
	if !d.reload.WorkersDone() {
		return false
	}
	for _, busy := range d.busy {
		if len(busy) > 0 {
			return false
		}
	}

	staged := d.reload.WorkersDict()

	newIdle := make(map[int]map[Worker]struct{}, len(staged))
	allocBatch := make(map[int][]Worker, len(staged))
	for g, workers := range staged {
		set := make(map[Worker]struct{}, len(workers))
		batch := make([]Worker, len(workers))
		copy(batch, workers)
		for _, w := range workers {
			set[w] = struct{}{}
		}
		newIdle[g] = set
		allocBatch[g] = batch
	}
	// Groups configured but not represented in the staging set (shouldn't
	// happen once WorkersDone is true for a non-empty expectation, but a
	// zero-worker group is legal) keep an empty idle set rather than nil.
	for g := range d.groups {
		if _, ok := newIdle[g]; !ok {
			newIdle[g] = make(map[Worker]struct{})
		}
	}
	d.idle = newIdle
	for g := range d.groups {
		d.busy[g] = make(map[Worker]struct{})
	}

	// Staging-set handles are moved into the live registry, not aliased:
	// Stop() clears ReloadHelper's own maps, and the copies above are the
	// only remaining reference.
	d.reload.Stop()

	for _, batch := range allocBatch {
		for _, w := range batch {
			task, ok := d.allocTaskLocked(w)
			if !ok {
				// First worker in this group with nothing to do means
				// the queue is empty; further allocations here cannot
				// succeed either.
				break
			}
			_ = w.AssignTask(task)
		}
	}

	d.invokeReloadOverCallback()
	return true
}

// allocTaskLocked is AllocTask's body, reentered directly from
// tryReplaceWorkers (already running on the command-loop goroutine, so it
// must not go through exec/cmdCh again).
func (d *Dispatcher) allocTaskLocked(w Worker) (Task, bool) {
	if d.reload.WorkersDone() {
		w.SetStatus(StatusIdle)
		d.syncWorkerStatus(w)
		return nil, false
	}
	task, ok := d.queue.Get(w.GroupID())
	dst := StatusIdle
	if ok {
		dst = StatusBusy
	}
	if w.Status() != dst {
		w.SetStatus(dst)
		d.syncWorkerStatus(w)
	}
	return task, ok
}

// invokeReloadOverCallback calls the configured callback, recovering from
// and logging any panic so that a misbehaving master counterpart cannot
// poison dispatcher state — the swap has already committed by this point.
func (d *Dispatcher) invokeReloadOverCallback() {
	if d.reloadOverCallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("reload-over callback panicked", zap.Any("recover", r))
		}
	}()
	d.reloadOverCallback()
}

func (d *Dispatcher) warnUnconfigured(group int) {
	if _, configured := d.groups[group]; configured {
		return
	}
	if d.warnedGroups[group] {
		return
	}
	d.warnedGroups[group] = true
	d.log.Warn("task queued for unconfigured group; it will never drain",
		zap.Int("group", group))
}

// popAny returns an arbitrary element of set. Map iteration order is
// unspecified by the language, which matches the source's own
// hash-set-derived "arbitrary pop" behaviour — no tested property may
// depend on which idle worker is chosen.
func popAny(set map[Worker]struct{}) Worker {
	for w := range set {
		return w
	}
	return nil
}
