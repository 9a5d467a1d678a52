package proxy

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/hackstrix/taskproxy/internal/dispatch"
	"github.com/hackstrix/taskproxy/internal/worker"
)

const clientWriteTimeout = 5 * time.Second

// tcpClientConn is the client ingress side of one TCP connection. It
// implements worker.ReplySink so the worker connection layer can deliver a
// reply without the dispatcher ever seeing a client identity — exactly the
// "ingress identifier sufficient for the eventual reply to be routed back"
// the data model calls for (SPEC_FULL.md §3), kept out of the opaque Task
// payload itself.
type tcpClientConn struct {
	nc  net.Conn
	log *zap.Logger
}

func (c *tcpClientConn) Reply(payload []byte) error {
	if err := c.nc.SetWriteDeadline(time.Now().Add(clientWriteTimeout)); err != nil {
		return err
	}
	return writeFrame(c.nc, clientEnvelope{Kind: clientFrameReply, Payload: payload})
}

// ServeTCP accepts client connections on ln until ctx is cancelled. Each
// connection may carry many sequential requests; each request becomes one
// AddTask call addressed to the group the request frame names.
func (p *Proxy) ServeTCP(ctx context.Context, ln net.Listener) error {
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
		go p.handleClientConn(ctx, nc)
	}
}

func (p *Proxy) handleClientConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	client := &tcpClientConn{nc: nc, log: p.log}
	r := bufio.NewReader(nc)

	for {
		if ctx.Err() != nil {
			return
		}
		env, err := readClientFrame(r)
		if err != nil {
			return
		}
		p.dispatcher.AddTask(env.Group, worker.Task{
			Payload: env.Payload,
			ReplyTo: client,
		})
		p.metrics.observeTaskEnqueued(env.Group)
	}
}

// ServeUDP accepts one client request per datagram and replies to the
// originating address. There is no per-connection state to speak of —
// each packet's ingress identifier is simply its source address.
func (p *Proxy) ServeUDP(ctx context.Context, pc net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		env, err := decodeClientDatagram(buf[:n])
		if err != nil {
			p.log.Debug("dropping malformed UDP datagram", zap.Error(err))
			continue
		}
		sink := &udpReplySink{pc: pc, addr: addr}
		p.dispatcher.AddTask(env.Group, worker.Task{Payload: env.Payload, ReplyTo: sink})
		p.metrics.observeTaskEnqueued(env.Group)
	}
}

type udpReplySink struct {
	pc   net.PacketConn
	addr net.Addr
}

func (s *udpReplySink) Reply(payload []byte) error {
	_, err := s.pc.WriteTo(payload, s.addr)
	return err
}

var _ dispatch.Worker = (*worker.Conn)(nil)
