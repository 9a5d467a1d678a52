package proxy

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/hackstrix/taskproxy/internal/dispatch"
	"github.com/hackstrix/taskproxy/internal/worker"
)

// ServeWorkers accepts worker connections for one group on ln until ctx is
// cancelled. Each accepted connection becomes a worker.Conn and is
// announced to the dispatcher via AddReadyWorker — current-generation if
// no reload is running, staged-next otherwise, mirroring the source's
// add_ready_worker which lets the dispatcher itself decide which set a
// newly-ready worker lands in (SPEC_FULL.md §4.4).
func (p *Proxy) ServeWorkers(ctx context.Context, group int, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go p.handleWorkerConn(ctx, group, nc)
	}
}

func (p *Proxy) handleWorkerConn(ctx context.Context, group int, nc net.Conn) {
	generation := dispatch.GenerationCurrent
	if p.dispatcher.Reloading() {
		generation = dispatch.GenerationNext
	}

	conn := worker.NewConn(nc, group, generation, p.log)
	p.dispatcher.AddReadyWorker(conn)
	p.metrics.observeWorkerConnected(group)

	defer func() {
		p.dispatcher.RemoveWorker(conn)
		_ = conn.Close()
		p.metrics.observeWorkerDisconnected(group)
	}()

	conn.ReadLoop(ctx, func(c *worker.Conn) {
		task, ok := p.dispatcher.AllocTask(c)
		if !ok {
			return
		}
		if err := c.AssignTask(task); err != nil {
			p.log.Warn("failed to push task to worker after alloc",
				zap.Int("group", group), zap.Error(err))
		}
	})
}
