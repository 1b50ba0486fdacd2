// Package relay implements the best-effort signaling relay the broadcast
// clients connect to. The relay is deliberately dumb: every frame received
// from a session participant is echoed to every participant of that session,
// including the sender. Peer addressing and self-echo suppression are the
// clients' concern.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// AudienceChangeHandler is called when the connected-participant count of a
// session changes (e.g. to track live viewer counts).
type AudienceChangeHandler func(sessionID uuid.UUID, count int)

// RedisPublisher publishes frames for cross-instance fan-out.
type RedisPublisher interface {
	PublishSessionFrame(sessionID uuid.UUID, frame []byte) error
}

// RedisSubscriber subscribes to a session's frame channel.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(frame []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections and fans frames out.
// With Redis configured, frames are published once and re-broadcast locally
// by the subscription callback so every instance (including this one)
// delivers exactly once; without Redis the hub broadcasts locally.
type Hub struct {
	sessions   map[uuid.UUID]map[string]*Client
	subs       map[uuid.UUID]func() // cancel Redis subscription per session
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
	onAudience AudienceChangeHandler
}

// NewHub creates a relay hub. Both Redis sides may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetAudienceChangeHandler sets the callback for participant count changes.
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// Register adds a client to its session. The first client of a session
// starts the Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeSession(c.SessionID, func(frame []byte) {
				h.broadcastLocal(c.SessionID, frame)
			})
			if err == nil {
				h.subs[c.SessionID] = cancel
			} else {
				h.logger.Warn("session subscription failed", zap.Error(err))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	count := len(h.sessions[c.SessionID])
	onAudience := h.onAudience
	h.mu.Unlock()
	if onAudience != nil {
		onAudience(c.SessionID, count)
	}
	h.logger.Debug("client joined session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client. The last client leaving cancels the Redis
// subscription and drops the session entry.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	onAudience := h.onAudience
	h.mu.Unlock()
	if onAudience != nil {
		onAudience(c.SessionID, count)
	}
	h.logger.Debug("client left session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Fanout delivers a frame to every participant of the session, including
// its sender. Publishes once through Redis when configured so multi-instance
// deployments deliver exactly once.
func (h *Hub) Fanout(sessionID uuid.UUID, frame []byte) {
	if h.redis != nil {
		h.mu.RLock()
		_, subscribed := h.subs[sessionID]
		h.mu.RUnlock()
		if err := h.redis.PublishSessionFrame(sessionID, frame); err == nil && subscribed {
			// The subscription callback re-delivers the frame locally.
			return
		}
		// Redis down, or no local subscription to echo the frame back:
		// deliver locally. Publish still reached the other instances.
	}
	h.broadcastLocal(sessionID, frame)
}

func (h *Hub) broadcastLocal(sessionID uuid.UUID, frame []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- frame:
		default:
			// buffer full, skip
		}
	}
}

// AudienceCount returns the number of connected participants in a session.
func (h *Hub) AudienceCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
