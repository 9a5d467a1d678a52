package proxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// MasterConn is the narrow interface the dispatcher's reload-over callback
// drives: tell the master counterpart the swap has committed so it can
// retire the old generation. This restores _on_workers_reload_over from
// original_source/burst/proxy/proxy.py, which sent a
// CMD_MASTER_REPLACE_WORKERS control message; the exact message framing is
// out of scope (SPEC_FULL.md §1), so this sends the narrowest equivalent.
type MasterConn interface {
	NotifyWorkersReplaced() error
}

type masterCmd struct {
	Cmd string `json:"cmd"`
}

const cmdMasterReplaceWorkers = "CMD_MASTER_REPLACE_WORKERS"

// unixMasterConn implements MasterConn over a single accepted UNIX-domain
// connection from the master process. It tolerates the master not being
// connected yet (or having gone away): NotifyWorkersReplaced then simply
// logs and returns nil, matching the source's own
// `if self.master_conn and self.master_conn.transport` guard rather than
// failing the swap that already committed.
type unixMasterConn struct {
	mu  sync.Mutex
	nc  net.Conn
	log *zap.Logger
}

// ServeMaster accepts (at most one live) master connection on ln. A later
// connection replaces an earlier one, mirroring the single-master-socket
// assumption in the source (`self.master_conn` is a single slot, not a
// set).
func (p *Proxy) ServeMaster(ln net.Listener, stop <-chan struct{}) {
	go func() {
		<-stop
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		p.master.mu.Lock()
		if p.master.nc != nil {
			_ = p.master.nc.Close()
		}
		p.master.nc = nc
		p.master.mu.Unlock()
		p.log.Info("master connected")
	}
}

func (m *unixMasterConn) NotifyWorkersReplaced() error {
	m.mu.Lock()
	nc := m.nc
	m.mu.Unlock()

	if nc == nil {
		m.log.Warn("reload completed but no master connection is attached; nothing to notify")
		return nil
	}

	body, err := json.Marshal(masterCmd{Cmd: cmdMasterReplaceWorkers})
	if err != nil {
		return fmt.Errorf("proxy: marshal master command: %w", err)
	}
	w := bufio.NewWriter(nc)
	if _, err := w.Write(append(body, '\n')); err != nil {
		m.log.Warn("failed to notify master of worker replacement", zap.Error(err))
		return nil
	}
	return w.Flush()
}
