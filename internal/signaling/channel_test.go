package signaling

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) sentEnvelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.written))
	for _, data := range c.written {
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	d.urls = append(d.urls, url)
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func TestChannelConnectAssignsIdentity(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "tok", dialer, nil)

	require.NoError(t, ch.Connect(context.Background(), "sess-1"))
	assert.NotEmpty(t, ch.PeerID())
	assert.Equal(t, "sess-1", ch.SessionID())
	assert.True(t, strings.Contains(dialer.urls[0], "session_id=sess-1"))
	assert.True(t, strings.Contains(dialer.urls[0], "token=tok"))
}

func TestChannelConnectSameSessionIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)

	require.NoError(t, ch.Connect(context.Background(), "sess-1"))
	peerID := ch.PeerID()
	require.NoError(t, ch.Connect(context.Background(), "sess-1"))

	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, peerID, ch.PeerID())
}

func TestChannelConnectNewSessionReplacesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)

	require.NoError(t, ch.Connect(context.Background(), "sess-1"))
	first := dialer.last()
	firstPeer := ch.PeerID()

	require.NoError(t, ch.Connect(context.Background(), "sess-2"))
	assert.Equal(t, 2, dialer.dialCount())
	assert.True(t, first.isClosed())
	assert.Equal(t, "sess-2", ch.SessionID())
	assert.NotEqual(t, firstPeer, ch.PeerID())
}

func TestChannelSendStampsFromPeerID(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)
	require.NoError(t, ch.Connect(context.Background(), "sess-1"))

	ch.Send(NewViewerJoin("sess-1"))

	sent := dialer.last().sentEnvelopes(t)
	require.Len(t, sent, 1)
	assert.Equal(t, TypeViewerJoin, sent[0].Type)
	assert.Equal(t, ch.PeerID(), sent[0].FromPeerID)
}

func TestChannelSendDropsWithoutSessionID(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)
	require.NoError(t, ch.Connect(context.Background(), "sess-1"))

	ch.Send(Envelope{Type: TypeViewerJoin})
	assert.Empty(t, dialer.last().sentEnvelopes(t))
}

func TestChannelSendBeforeConnectDoesNotPanic(t *testing.T) {
	ch := NewChannel("ws://relay.local/ws", "", &fakeDialer{}, nil)
	ch.Send(NewViewerJoin("sess-1"))
}

func TestChannelFiltersSelfEchoAndWrongSession(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)
	require.NoError(t, ch.Connect(context.Background(), "sess-1"))

	received := make(chan Envelope, 8)
	ch.OnMessage(func(env Envelope) { received <- env })

	conn := dialer.last()
	push := func(env Envelope) {
		data, err := json.Marshal(env)
		require.NoError(t, err)
		conn.inbound <- data
	}

	push(Envelope{Type: TypePinProduct, SessionID: "sess-1", FromPeerID: ch.PeerID()}) // self echo
	push(Envelope{Type: TypePinProduct, SessionID: "other", FromPeerID: "peer-x"})     // wrong session
	conn.inbound <- []byte("{not json")                                                // malformed
	push(Envelope{Type: TypeViewerJoin, SessionID: "sess-1", FromPeerID: "peer-x"})

	select {
	case env := <-received:
		assert.Equal(t, TypeViewerJoin, env.Type)
		assert.Equal(t, "peer-x", env.FromPeerID)
	case <-time.After(time.Second):
		t.Fatal("expected a delivered envelope")
	}
	select {
	case env := <-received:
		t.Fatalf("unexpected extra envelope: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelDisconnectClearsState(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel("ws://relay.local/ws", "", dialer, nil)
	require.NoError(t, ch.Connect(context.Background(), "sess-1"))

	ch.Disconnect()
	assert.Empty(t, ch.PeerID())
	assert.Empty(t, ch.SessionID())
	assert.True(t, dialer.last().isClosed())

	ch.Disconnect() // idempotent
}
