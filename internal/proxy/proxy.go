// Package proxy wires the dispatcher to the outside world: client-facing
// TCP/UDP listeners, per-group worker listeners, a UNIX socket for the
// controlling master process, an admin HTTP surface, and prometheus
// metrics. The orchestration and signal-handling shape is carried over
// from the teacher's main.go/proxy.go (orchestrator): there SIGINT/SIGTERM
// triggered Pool.Shutdown()+os.Exit; here the same signals drain the
// dispatcher, and SIGHUP additionally starts a reload, restoring the
// original `_handle_proc_signals` behaviour that the teacher's HTTP-only
// design had no equivalent for.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackstrix/taskproxy/internal/config"
	"github.com/hackstrix/taskproxy/internal/dispatch"
)

const metricsRefreshInterval = 2 * time.Second

// Proxy owns the dispatcher and every listener the running process keeps
// open. It has no behaviour of its own beyond wiring: each listener
// delegates task admission and worker registration straight to the
// dispatcher.
type Proxy struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	metrics    *proxyMetrics
	master     *unixMasterConn

	listeners   []net.Listener
	packetConns []net.PacketConn
	mu          sync.Mutex
}

// New builds a Proxy from configuration. The dispatcher's reload-over
// callback is wired to notify the master connection, restoring
// _on_workers_reload_over from original_source/burst/proxy/proxy.py.
func New(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) *Proxy {
	master := &unixMasterConn{log: log.With(zap.String("component", "master_conn"))}

	p := &Proxy{
		cfg:     cfg,
		log:     log,
		metrics: newProxyMetrics(reg),
		master:  master,
	}
	p.dispatcher = dispatch.New(
		cfg.GroupCounts(),
		log.With(zap.String("component", "dispatcher")),
		dispatch.WithReloadOverCallback(func() {
			if err := master.NotifyWorkersReplaced(); err != nil {
				log.Warn("failed to notify master of completed reload", zap.Error(err))
			}
		}),
	)
	return p
}

// Dispatcher exposes the underlying dispatcher for the admin surface.
func (p *Proxy) Dispatcher() *dispatch.Dispatcher { return p.dispatcher }

// Run opens every configured listener, serves until ctx is cancelled or a
// terminating signal arrives, then closes the dispatcher and listeners in
// turn. It blocks until shutdown completes.
func (p *Proxy) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := p.openListeners(); err != nil {
		return err
	}
	defer p.closeListeners()

	var wg sync.WaitGroup
	serve := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				p.log.Warn("listener exited", zap.Error(err))
			}
		}()
	}

	for _, ln := range p.listenersByKind("tcp") {
		ln := ln
		serve(func() error { return p.ServeTCP(ctx, ln) })
	}
	for _, pc := range p.packetConns {
		pc := pc
		serve(func() error { return p.ServeUDP(ctx, pc) })
	}
	for group, ln := range p.workerListeners() {
		group, ln := group, ln
		serve(func() error { return p.ServeWorkers(ctx, group, ln) })
	}
	if ln := p.masterListener(); ln != nil {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ServeMaster(ln, stop)
		}()
	}

	if p.cfg.AdminListen != "" {
		admin := &http.Server{Addr: p.cfg.AdminListen, Handler: p.AdminRouter()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.log.Warn("admin server exited", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
	}

	go p.refreshLoop(ctx, metricsRefreshInterval)
	go p.handleSignals(ctx, cancel)

	<-ctx.Done()
	p.log.Info("shutting down")
	p.dispatcher.Close()
	wg.Wait()
	return nil
}

// handleSignals mirrors the teacher's signal goroutine: SIGINT/SIGQUIT/
// SIGTERM cancel the run context for an orderly shutdown. SIGHUP starts a
// reload instead of terminating, restoring the original process's reload
// trigger which the teacher (an HTTP-only service with no reload concept)
// had nothing analogous to.
func (p *Proxy) handleSignals(ctx context.Context, shutdown context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				p.log.Info("received SIGHUP, starting reload")
				p.dispatcher.StartReload()
			default:
				p.log.Info("received termination signal, shutting down", zap.String("signal", sig.String()))
				shutdown()
				return
			}
		}
	}
}

func (p *Proxy) openListeners() error {
	if p.cfg.TCP {
		ln, err := net.Listen("tcp", p.cfg.Listen)
		if err != nil {
			return fmt.Errorf("proxy: listen tcp %s: %w", p.cfg.Listen, err)
		}
		p.mu.Lock()
		p.listeners = append(p.listeners, &kindListener{Listener: ln, kind: "tcp"})
		p.mu.Unlock()
	}
	if p.cfg.UDP {
		pc, err := net.ListenPacket("udp", p.cfg.Listen)
		if err != nil {
			return fmt.Errorf("proxy: listen udp %s: %w", p.cfg.Listen, err)
		}
		p.packetConns = append(p.packetConns, pc)
	}
	for group := range p.cfg.Groups {
		addr := p.cfg.WorkerSocketPath(group)
		_ = os.Remove(addr)
		ln, err := net.Listen("unix", addr)
		if err != nil {
			return fmt.Errorf("proxy: listen worker unix %s: %w", addr, err)
		}
		p.mu.Lock()
		p.listeners = append(p.listeners, &kindListener{Listener: ln, kind: "worker", group: group})
		p.mu.Unlock()
	}
	if p.cfg.MasterAddress != "" {
		addr := p.cfg.MasterSocketPath()
		_ = os.Remove(addr)
		ln, err := net.Listen("unix", addr)
		if err != nil {
			return fmt.Errorf("proxy: listen master unix %s: %w", addr, err)
		}
		p.mu.Lock()
		p.listeners = append(p.listeners, &kindListener{Listener: ln, kind: "master"})
		p.mu.Unlock()
	}
	return nil
}

func (p *Proxy) closeListeners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ln := range p.listeners {
		_ = ln.Close()
	}
	for _, pc := range p.packetConns {
		_ = pc.Close()
	}
}

func (p *Proxy) listenersByKind(kind string) []net.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []net.Listener
	for _, ln := range p.listeners {
		if kl, ok := ln.(*kindListener); ok && kl.kind == kind {
			out = append(out, ln)
		}
	}
	return out
}

func (p *Proxy) workerListeners() map[int]net.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]net.Listener)
	for _, ln := range p.listeners {
		if kl, ok := ln.(*kindListener); ok && kl.kind == "worker" {
			out[kl.group] = ln
		}
	}
	return out
}

func (p *Proxy) masterListener() net.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ln := range p.listeners {
		if kl, ok := ln.(*kindListener); ok && kl.kind == "master" {
			return ln
		}
	}
	return nil
}

// kindListener tags a net.Listener with which role it serves, so Run can
// dispatch the right accept loop without a parallel bookkeeping struct.
type kindListener struct {
	net.Listener
	kind  string
	group int
}
