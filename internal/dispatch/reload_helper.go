package dispatch

// ReloadHelper accumulates the next-generation worker set during a reload
// and exposes WorkersDone: "every configured group has at least its
// configured worker count staged and ready."
//
// Keeping "new generation ready" (this type) separate from "old generation
// drained" (the registry's busy sets) is deliberate: they are computed by
// different components and conflating them into one latch would race with
// late-arriving old-generation task completions.
type ReloadHelper struct {
	expected map[int]int
	nextIdle map[int]map[Worker]struct{}
	running  bool
}

// NewReloadHelper builds a helper for the given static group configuration
// (group id -> expected worker count).
func NewReloadHelper(expected map[int]int) *ReloadHelper {
	cp := make(map[int]int, len(expected))
	for g, n := range expected {
		cp[g] = n
	}
	return &ReloadHelper{
		expected: cp,
		nextIdle: make(map[int]map[Worker]struct{}),
	}
}

// Start marks a reload active and clears any previous staging set. It is
// idempotent: double-signalling the operator's reload simply restarts
// collection.
func (r *ReloadHelper) Start() {
	r.running = true
	r.nextIdle = make(map[int]map[Worker]struct{})
}

// Stop marks the reload inactive and discards the staging set.
func (r *ReloadHelper) Stop() {
	r.running = false
	r.nextIdle = make(map[int]map[Worker]struct{})
}

// Running reports whether a reload is in progress.
func (r *ReloadHelper) Running() bool {
	return r.running
}

// AddWorker inserts w into the staging set for its group.
func (r *ReloadHelper) AddWorker(w Worker) {
	g := w.GroupID()
	set, ok := r.nextIdle[g]
	if !ok {
		set = make(map[Worker]struct{})
		r.nextIdle[g] = set
	}
	set[w] = struct{}{}
}

// WorkersDict returns a read-only view of the staging set: group id ->
// slice of staged workers. Callers must not mutate the returned slices'
// backing worker identities through anything but the dispatcher.
func (r *ReloadHelper) WorkersDict() map[int][]Worker {
	out := make(map[int][]Worker, len(r.nextIdle))
	for g, set := range r.nextIdle {
		workers := make([]Worker, 0, len(set))
		for w := range set {
			workers = append(workers, w)
		}
		out[g] = workers
	}
	return out
}

// WorkersDone reports whether every group in the static configuration has
// at least its configured worker count staged.
func (r *ReloadHelper) WorkersDone() bool {
	for g, n := range r.expected {
		if len(r.nextIdle[g]) < n {
			return false
		}
	}
	return true
}
