package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(sessionID uuid.UUID) *Client {
	return &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		send:      make(chan []byte, 8),
	}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case frame := <-c.send:
			out = append(out, frame)
		default:
			return out
		}
	}
}

func TestHubFanoutEchoesToEveryoneIncludingSender(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	host := newTestClient(sessionID)
	viewer := newTestClient(sessionID)
	outsider := newTestClient(uuid.New())
	hub.Register(host)
	hub.Register(viewer)
	hub.Register(outsider)

	hub.Fanout(sessionID, []byte(`{"type":"viewer-join"}`))

	assert.Len(t, drain(host), 1)
	assert.Len(t, drain(viewer), 1)
	assert.Empty(t, drain(outsider))
}

func TestHubAudienceCount(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	var mu sync.Mutex
	var counts []int
	hub.SetAudienceChangeHandler(func(id uuid.UUID, count int) {
		mu.Lock()
		defer mu.Unlock()
		if id == sessionID {
			counts = append(counts, count)
		}
	})

	a := newTestClient(sessionID)
	b := newTestClient(sessionID)
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.AudienceCount(sessionID))

	hub.Unregister(a)
	assert.Equal(t, 1, hub.AudienceCount(sessionID))
	hub.Unregister(b)
	assert.Equal(t, 0, hub.AudienceCount(sessionID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestHubFullBufferDropsFrame(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	slow := &Client{ID: "slow", SessionID: sessionID, send: make(chan []byte, 1)}
	hub.Register(slow)

	hub.Fanout(sessionID, []byte("one"))
	hub.Fanout(sessionID, []byte("two")) // dropped, buffer full

	frames := drain(slow)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("one"), frames[0])
}

type fakePubSub struct {
	mu        sync.Mutex
	published [][]byte
	handlers  map[uuid.UUID]func([]byte)
	pubErr    error
	subErr    error
	cancelled int
}

func (f *fakePubSub) PublishSessionFrame(sessionID uuid.UUID, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, frame)
	return nil
}

func (f *fakePubSub) SubscribeSession(sessionID uuid.UUID, handler func(frame []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	if f.handlers == nil {
		f.handlers = make(map[uuid.UUID]func([]byte))
	}
	f.handlers[sessionID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled++
	}, nil
}

func (f *fakePubSub) deliver(sessionID uuid.UUID, frame []byte) {
	f.mu.Lock()
	handler := f.handlers[sessionID]
	f.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

func TestHubRedisPublishSkipsDirectLocalDelivery(t *testing.T) {
	ps := &fakePubSub{}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()
	client := newTestClient(sessionID)
	hub.Register(client)

	hub.Fanout(sessionID, []byte("frame"))

	// Delivery happens only when the subscription echoes the frame back.
	assert.Empty(t, drain(client))
	ps.deliver(sessionID, []byte("frame"))
	assert.Len(t, drain(client), 1)
}

func TestHubRedisFailureFallsBackToLocal(t *testing.T) {
	ps := &fakePubSub{pubErr: errors.New("redis down")}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()
	client := newTestClient(sessionID)
	hub.Register(client)

	hub.Fanout(sessionID, []byte("frame"))
	assert.Len(t, drain(client), 1)
}

func TestHubSubscribeFailureStillDeliversLocally(t *testing.T) {
	ps := &fakePubSub{subErr: errors.New("redis down")}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()
	host := newTestClient(sessionID)
	viewer := newTestClient(sessionID)
	hub.Register(host)
	hub.Register(viewer)

	hub.Fanout(sessionID, []byte("frame"))

	// no subscription to echo the frame back, so local delivery kicks in
	assert.Len(t, drain(host), 1)
	assert.Len(t, drain(viewer), 1)

	// the publish still went out for the other instances
	ps.mu.Lock()
	published := len(ps.published)
	ps.mu.Unlock()
	assert.Equal(t, 1, published)
}

func TestHubLastClientCancelsSubscription(t *testing.T) {
	ps := &fakePubSub{}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()
	client := newTestClient(sessionID)
	hub.Register(client)
	hub.Unregister(client)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Equal(t, 1, ps.cancelled)
}
