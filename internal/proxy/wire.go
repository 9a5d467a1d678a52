package proxy

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// clientFrameKind and clientEnvelope mirror internal/worker's framing but
// for the client-facing side of the proxy. As with the worker side, the
// exact byte layout is out of scope (SPEC_FULL.md §1) — this is the
// simplest faithful stand-in, not a specified protocol.
type clientFrameKind string

const (
	clientFrameRequest clientFrameKind = "request"
	clientFrameReply   clientFrameKind = "reply"
)

type clientEnvelope struct {
	Kind    clientFrameKind `json:"kind"`
	Group   int             `json:"group"`
	Payload []byte          `json:"payload,omitempty"`
}

const maxClientFrameBytes = 16 << 20

func writeFrame(w io.Writer, env clientEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("proxy: marshal client frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("proxy: write client frame length: %w", err)
	}
	_, err = w.Write(body)
	return err
}

func readClientFrame(r *bufio.Reader) (clientEnvelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return clientEnvelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxClientFrameBytes {
		return clientEnvelope{}, fmt.Errorf("proxy: incoming client frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return clientEnvelope{}, fmt.Errorf("proxy: read client frame body: %w", err)
	}
	var env clientEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return clientEnvelope{}, fmt.Errorf("proxy: unmarshal client frame: %w", err)
	}
	return env, nil
}

// decodeClientDatagram decodes a single self-contained UDP datagram (no
// length prefix needed — the datagram boundary is the frame boundary).
func decodeClientDatagram(data []byte) (clientEnvelope, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return clientEnvelope{}, fmt.Errorf("proxy: unmarshal UDP datagram: %w", err)
	}
	return env, nil
}
