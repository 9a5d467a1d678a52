// Package dispatch implements the task dispatcher and worker lifecycle
// subsystem of the proxy: per-group worker readiness tracking, backpressure
// queueing, and the two-phase reload handoff between worker generations.
package dispatch

import (
	"errors"
	"fmt"
)

// Status is a worker's readiness as seen by the dispatcher.
type Status int

const (
	// StatusUnknown is the zero value: the worker is registered with the
	// connection layer but has not yet been admitted into either the idle
	// or busy set.
	StatusUnknown Status = iota
	StatusIdle
	StatusBusy
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Generation distinguishes the live worker cohort from one being staged
// during a reload.
type Generation int

const (
	GenerationCurrent Generation = iota
	GenerationNext
)

// Task is an opaque, serialised request payload plus whatever the ingress
// identifier needs to route an eventual reply back to its client connection.
// The dispatcher never inspects it.
type Task interface{}

// Worker is the dispatcher-side view of one worker process, presented by the
// worker connection layer. All status writes go through SetStatus, and only
// the dispatcher's command loop calls it — the connection layer must treat
// the value as read-mostly.
type Worker interface {
	// GroupID is immutable for the worker's lifetime.
	GroupID() int
	// Status returns the worker's last status as recorded by the dispatcher.
	Status() Status
	// SetStatus is called only by the dispatcher.
	SetStatus(Status)
	// AssignTask hands the worker a task. It must return promptly; delivery
	// is best-effort at-most-once.
	AssignTask(item Task) error
}

var (
	// ErrNilWorker names a nil Worker passed where an identity is needed.
	// No Dispatcher method returns it: Dispatcher methods return no errors
	// and do not check for a nil Worker.
	ErrNilWorker = errors.New("dispatch: nil worker")
	// ErrClosed names an operation issued after the dispatcher has been
	// closed. No Dispatcher method returns it: such operations return
	// without effect.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

func wrapf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
