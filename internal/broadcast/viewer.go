package broadcast

import (
	"errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/glowcart/live/internal/signaling"
)

// handleOffer is the viewer's negotiation entry point: lazily create the
// single host connection, apply the offer, flush candidates that arrived
// early, then answer the declared sender.
func (o *Orchestrator) handleOffer(env signaling.Envelope) {
	if env.TargetPeerID != o.cfg.Channel.PeerID() {
		return
	}
	o.mu.Lock()
	if o.isHost || o.closed {
		o.mu.Unlock()
		return
	}
	link := o.links[hostLinkKey]
	o.mu.Unlock()

	if link == nil {
		link = o.createHostLink(env.FromPeerID)
		if link == nil {
			return
		}
	}

	sdp, err := env.SessionDescription()
	if err != nil {
		o.logger.Warn("malformed offer", zap.Error(err))
		return
	}
	if err := link.pc.SetRemoteDescription(sdp); err != nil {
		o.logger.Warn("apply offer", zap.Error(err))
		return
	}

	// Flush candidates that beat the offer, in receipt order, exactly once.
	o.mu.Lock()
	link.remoteDescSet = true
	queued := o.pendingHostICE
	o.pendingHostICE = nil
	o.mu.Unlock()
	for _, candidate := range queued {
		if err := link.pc.AddICECandidate(candidate); err != nil {
			o.logger.Warn("apply queued candidate", zap.Error(err))
		}
	}

	answer, err := link.pc.CreateAnswer()
	if err != nil {
		o.logger.Warn("create answer", zap.Error(err))
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		o.logger.Warn("set local description", zap.Error(err))
		return
	}
	o.cfg.Channel.Send(signaling.NewAnswer(o.sessionIDString(), env.FromPeerID, answer))
}

func (o *Orchestrator) createHostLink(hostPeerID string) *peerLink {
	pc, err := o.cfg.NewPeer()
	if err != nil {
		o.logger.Error("create host connection", zap.Error(err))
		return nil
	}
	link := &peerLink{pc: pc, peerID: hostPeerID}
	o.mu.Lock()
	o.links[hostLinkKey] = link
	o.mu.Unlock()

	sessionID := o.sessionIDString()
	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		o.cfg.Channel.Send(signaling.NewICECandidate(sessionID, hostPeerID, candidate))
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			o.handleHostLinkFailure(link)
		}
	})
	pc.OnRemoteTrack(func(track RemoteTrack) {
		o.handleRemoteTrack(track)
	})
	return link
}

// handleHostLinkFailure notifies once and waits. Offers only ever travel
// host to viewer, so recovery is the host's move: its ICE restart arrives as
// a fresh offer on the existing connection and handleOffer answers it. The
// viewer never originates an offer.
func (o *Orchestrator) handleHostLinkFailure(link *peerLink) {
	o.mu.Lock()
	notified := link.failureNotified
	link.failureNotified = true
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	if !notified {
		o.notifyError("Connection issue", "The stream connection degraded. Reconnecting…")
	}
	o.logger.Warn("host connection failed, waiting for restart offer", zap.String("peer_id", link.peerID))
}

// viewerAddCandidate applies a trickled candidate immediately once the
// remote description is set, and queues it otherwise.
func (o *Orchestrator) viewerAddCandidate(candidate webrtc.ICECandidateInit) {
	o.mu.Lock()
	link := o.links[hostLinkKey]
	if link == nil || !link.remoteDescSet {
		o.pendingHostICE = append(o.pendingHostICE, candidate)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	if err := link.pc.AddICECandidate(candidate); err != nil {
		o.logger.Warn("apply candidate", zap.Error(err))
	}
}

// handleRemoteTrack publishes the first received remote stream as the
// watchable stream and re-attaches playback as tracks of that stream arrive.
func (o *Orchestrator) handleRemoteTrack(track RemoteTrack) {
	o.mu.Lock()
	if o.remote == nil {
		o.remote = &RemoteStream{ID: track.StreamID()}
	}
	if o.remote.ID != track.StreamID() {
		o.mu.Unlock()
		o.logger.Debug("ignoring track from secondary stream", zap.String("stream_id", track.StreamID()))
		return
	}
	o.remote.Tracks = append(o.remote.Tracks, track)
	stream := o.remote
	o.mu.Unlock()

	if o.cfg.Events.OnRemoteStream != nil {
		o.cfg.Events.OnRemoteStream(stream)
	}
	o.playStream(stream)
}

// playStream attempts playback, falling back to muted playback when the
// player refuses to start unmuted. Muted playback is always permitted.
func (o *Orchestrator) playStream(stream *RemoteStream) {
	if o.cfg.Player == nil {
		return
	}
	err := o.cfg.Player.Play(stream)
	if err == nil {
		return
	}
	if errors.Is(err, ErrPlaybackBlocked) {
		o.logger.Debug("playback blocked, retrying muted")
		if err := o.cfg.Player.PlayMuted(stream); err != nil {
			o.logger.Warn("muted playback failed", zap.Error(err))
		}
		return
	}
	o.logger.Warn("playback failed", zap.Error(err))
}
