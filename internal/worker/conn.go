// Package worker implements the worker connection layer: the narrow,
// dispatcher-facing presentation of an IPC-connected worker process. It is
// the one external-collaborator piece the specification treats as opaque
// (wire framing, process spawning) that is nonetheless implemented here,
// just far enough to let the proxy run end-to-end.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackstrix/taskproxy/internal/dispatch"
)

const assignTimeout = 500 * time.Millisecond

// ReplySink is where a worker's eventual reply for a task is delivered.
// The dispatcher never sees this — task correlation for replies is the
// connection layer's concern, not the scheduler's (see SPEC_FULL.md §3
// for why routing the reply is treated separately from queueing the task).
type ReplySink interface {
	Reply(payload []byte) error
}

// Task is the concrete dispatch.Task value the worker connection layer
// understands: an opaque payload plus where to deliver the reply. The
// dispatcher itself treats this as an opaque interface{} and never
// inspects it.
type Task struct {
	Payload []byte
	ReplyTo ReplySink
}

// Conn is the dispatcher-side handle for one worker process communicating
// over a UNIX-domain socket. It implements dispatch.Worker; all status
// writes happen through SetStatus, called only by the dispatcher's command
// loop, mirroring the teacher's mutex-guarded State()/SetState() pair but
// scoped to the narrower Worker contract the dispatcher actually needs.
type Conn struct {
	ID         uuid.UUID
	group      int
	generation dispatch.Generation

	mu     sync.Mutex
	status dispatch.Status

	netConn net.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   ReplySink // reply sink for the task currently in flight, if any

	log *zap.Logger
}

// NewConn wraps an accepted connection for the given group. generation
// distinguishes a current-generation worker from one being staged for a
// reload (see SPEC_FULL.md §3's "Reload staging set").
func NewConn(nc net.Conn, group int, generation dispatch.Generation, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		ID:         uuid.New(),
		group:      group,
		generation: generation,
		netConn:    nc,
		log:        log.With(zap.String("component", "worker.Conn"), zap.Int("group", group)),
	}
}

func (c *Conn) GroupID() int { return c.group }

func (c *Conn) Status() dispatch.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) SetStatus(s dispatch.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Generation reports whether this handle belongs to the current or the
// staged-next worker generation. It is set once, at construction, and
// never mutated afterward — a handle's generation changes only by virtue
// of the dispatcher swap replacing which map it lives in, not by editing
// the field.
func (c *Conn) Generation() dispatch.Generation { return c.generation }

// AssignTask pushes item to the worker process as a task_push frame.
// Delivery is best-effort at-most-once: a write error here means the
// caller (the dispatcher's AddTask/AllocTask flow) has already updated its
// bookkeeping to reflect the worker as busy, and recovery is the
// connection layer's job (it must call RemoveWorker on any subsequent read
// error) — the dispatcher itself never retries.
func (c *Conn) AssignTask(item dispatch.Task) error {
	task, ok := item.(Task)
	if !ok {
		return fmt.Errorf("worker: task item must be worker.Task, got %T", item)
	}

	c.pendingMu.Lock()
	c.pending = task.ReplyTo
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.netConn.SetWriteDeadline(time.Now().Add(assignTimeout)); err != nil {
		return fmt.Errorf("worker: set write deadline: %w", err)
	}
	return writeFrame(c.netConn, envelope{
		Kind:    frameTaskPush,
		Group:   c.group,
		Payload: task.Payload,
	})
}

// Close closes the underlying transport. It does not notify the
// dispatcher — callers (the accept loop) are responsible for calling
// RemoveWorker first.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// ReadLoop blocks reading task_done frames from the worker and calling
// onDone for each, until the connection errors out or ctx is cancelled. It
// is meant to run in its own goroutine per accepted connection, analogous
// to the teacher's Worker.monitor goroutine.
func (c *Conn) ReadLoop(ctx context.Context, onDone func(*Conn)) {
	r := bufio.NewReader(c.netConn)
	for {
		if ctx.Err() != nil {
			return
		}
		env, err := readFrame(r)
		if err != nil {
			c.log.Debug("worker connection closed", zap.Error(err))
			return
		}
		if env.Kind != frameTaskDone && env.Kind != frameHello {
			c.log.Warn("unexpected frame kind from worker", zap.String("kind", string(env.Kind)))
			continue
		}

		if env.Kind == frameTaskDone {
			c.pendingMu.Lock()
			sink := c.pending
			c.pending = nil
			c.pendingMu.Unlock()
			if sink != nil {
				if err := sink.Reply(env.Payload); err != nil {
					c.log.Debug("delivering reply to client failed", zap.Error(err))
				}
			}
		}
		onDone(c)
	}
}
