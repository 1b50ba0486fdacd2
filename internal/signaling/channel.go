// Package signaling implements the duplex message relay used to negotiate
// live-session peer connections. The relay is a broadcast-style echo service
// with no server-side routing: every frame comes back to every participant
// of the session, so the channel filters self-originated echoes and frames
// for other sessions before delivering anything to the registered handler.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives filtered inbound envelopes. The channel holds exactly one
// handler; registering a new one replaces the previous registration.
type Handler func(Envelope)

// Channel owns a single relay connection for the active session. It stamps
// outgoing envelopes with a per-connection peer identity and discards inbound
// noise. Delivery is best effort: no acknowledgement, no retry, no automatic
// reconnection.
type Channel struct {
	relayURL string
	token    string
	dialer   Dialer
	logger   *zap.Logger

	mu        sync.Mutex
	conn      Conn
	sessionID string
	peerID    string
	handler   Handler
	gen       int // connection generation, so a stale read pump cannot clear newer state
}

// NewChannel creates a disconnected channel. token is optional relay
// authentication passed as a query parameter on connect.
func NewChannel(relayURL, token string, dialer Dialer, logger *zap.Logger) *Channel {
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{relayURL: relayURL, token: token, dialer: dialer, logger: logger}
}

// Connect establishes the relay connection for a session and generates a new
// peer identity. Connecting again to the same session is a no-op; connecting
// to a different session closes the prior connection first.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("connect: empty session id")
	}
	c.mu.Lock()
	if c.conn != nil && c.sessionID == sessionID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.Disconnect()

	conn, err := c.dialer.Dial(ctx, c.connectURL(sessionID))
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.sessionID = sessionID
	c.peerID = uuid.NewString()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Info("signaling channel connected",
		zap.String("session_id", sessionID),
		zap.String("peer_id", c.PeerID()))
	go c.readPump(conn, gen)
	return nil
}

func (c *Channel) connectURL(sessionID string) string {
	q := url.Values{}
	q.Set("session_id", sessionID)
	if c.token != "" {
		q.Set("token", c.token)
	}
	return c.relayURL + "?" + q.Encode()
}

// Send stamps the envelope with the local peer identity and transmits it.
// Envelopes without a session id are dropped with a log line; transport
// errors are logged, never raised.
func (c *Channel) Send(env Envelope) {
	if env.SessionID == "" {
		c.logger.Warn("dropping signaling message without session id", zap.String("type", string(env.Type)))
		return
	}
	c.mu.Lock()
	conn := c.conn
	env.FromPeerID = c.peerID
	c.mu.Unlock()
	if conn == nil {
		c.logger.Warn("dropping signaling message, channel not connected", zap.String("type", string(env.Type)))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("marshal signaling message", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		c.logger.Warn("send signaling message", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

// OnMessage registers the single inbound handler, replacing any previous one.
func (c *Channel) OnMessage(fn Handler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// PeerID returns the current local identity, or "" when disconnected.
func (c *Channel) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// SessionID returns the session the channel is connected to, or "".
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Disconnect closes the transport and clears the identity, session and
// handler. Safe to call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.sessionID = ""
	c.peerID = ""
	c.handler = nil
	c.gen++
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		c.logger.Info("signaling channel disconnected")
	}
}

func (c *Channel) readPump(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("signaling read loop ended", zap.Error(err))
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed signaling message", zap.Error(err))
			continue
		}

		c.mu.Lock()
		stale := gen != c.gen
		selfEcho := env.FromPeerID != "" && env.FromPeerID == c.peerID
		wrongSession := env.SessionID != c.sessionID
		handler := c.handler
		c.mu.Unlock()

		if stale {
			return
		}
		if selfEcho || wrongSession || handler == nil {
			continue
		}
		handler(env)
	}
}
