package worker

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// frame is the simplest faithful stand-in for the "boxed message protocol"
// the specification treats as an opaque, out-of-scope wire format (see
// SPEC_FULL.md §10.4): a big-endian uint32 length prefix followed by a
// JSON payload. Its byte layout is not part of the dispatcher's contract
// and is not exercised by any dispatch-package test.
type frameKind string

const (
	frameHello      frameKind = "hello"       // worker -> proxy: announce group
	frameTaskPush   frameKind = "task_push"   // proxy -> worker: here is a task
	frameTaskDone   frameKind = "task_done"   // worker -> proxy: finished, send more
	frameReplaceAck frameKind = "replace_ack" // proxy -> master: workers replaced
)

type envelope struct {
	Kind  frameKind `json:"kind"`
	Group int       `json:"group,omitempty"`
	// Payload carries the opaque task bytes. encoding/json base64-encodes
	// a []byte field automatically, which is all the "boxed message
	// protocol" needs here since its real framing is out of scope.
	Payload []byte `json:"payload,omitempty"`
}

const maxFrameBytes = 16 << 20 // 16 MiB, generous for an opaque task payload

func writeFrame(w io.Writer, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("worker: marshal frame: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("worker: frame of %d bytes exceeds limit", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("worker: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("worker: write frame body: %w", err)
	}
	return nil
}

func readFrame(r *bufio.Reader) (envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return envelope{}, fmt.Errorf("worker: incoming frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return envelope{}, fmt.Errorf("worker: read frame body: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("worker: unmarshal frame: %w", err)
	}
	return env, nil
}
