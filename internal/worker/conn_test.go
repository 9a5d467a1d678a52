package worker

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackstrix/taskproxy/internal/dispatch"
)

func TestConnAssignTaskWritesFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, 1, dispatch.GenerationCurrent, nil)

	done := make(chan error, 1)
	go func() { done <- c.AssignTask(Task{Payload: []byte("hello")}) }()

	env, err := readFrame(bufio.NewReader(client))
	require.NoError(t, err)
	assert.Equal(t, frameTaskPush, env.Kind)
	assert.Equal(t, 1, env.Group)
	assert.Equal(t, []byte("hello"), env.Payload)
	require.NoError(t, <-done)
}

func TestConnAssignTaskRejectsNonBytePayload(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, 1, dispatch.GenerationCurrent, nil)
	err := c.AssignTask(42)
	assert.Error(t, err)
}

func TestConnReadLoopInvokesOnDone(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, 1, dispatch.GenerationCurrent, nil)

	calls := make(chan *Conn, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.ReadLoop(ctx, func(cc *Conn) { calls <- cc })

	require.NoError(t, writeFrame(client, envelope{Kind: frameTaskDone, Group: 1}))

	select {
	case got := <-calls:
		assert.Same(t, c, got)
	case <-time.After(time.Second):
		t.Fatal("ReadLoop did not invoke onDone in time")
	}
}

type fakeReplySink struct {
	replies chan []byte
}

func (f *fakeReplySink) Reply(payload []byte) error {
	f.replies <- payload
	return nil
}

func TestConnReadLoopDeliversReplyBeforeOnDone(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, 1, dispatch.GenerationCurrent, nil)
	sink := &fakeReplySink{replies: make(chan []byte, 1)}
	assigned := make(chan error, 1)
	go func() { assigned <- c.AssignTask(Task{Payload: []byte("req"), ReplyTo: sink}) }()
	// drain the task_push frame the assign above wrote to the client side
	_, err := readFrame(bufio.NewReader(client))
	require.NoError(t, err)
	require.NoError(t, <-assigned)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	onDoneSawReply := make(chan bool, 1)
	go c.ReadLoop(ctx, func(*Conn) { onDoneSawReply <- len(sink.replies) == 1 })

	require.NoError(t, writeFrame(client, envelope{Kind: frameTaskDone, Payload: []byte("resp")}))

	select {
	case saw := <-onDoneSawReply:
		assert.True(t, saw, "reply must be delivered before onDone runs")
	case <-time.After(time.Second):
		t.Fatal("ReadLoop did not invoke onDone in time")
	}

	select {
	case got := <-sink.replies:
		assert.Equal(t, []byte("resp"), got)
	case <-time.After(time.Second):
		t.Fatal("reply was not delivered")
	}
}

func TestConnStatusRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConn(server, 7, dispatch.GenerationNext, nil)
	assert.Equal(t, 7, c.GroupID())
	assert.Equal(t, dispatch.GenerationNext, c.Generation())
	assert.Equal(t, dispatch.StatusUnknown, c.Status())

	c.SetStatus(dispatch.StatusIdle)
	assert.Equal(t, dispatch.StatusIdle, c.Status())
}
