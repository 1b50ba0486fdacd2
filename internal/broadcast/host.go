package broadcast

import (
	"context"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/glowcart/live/internal/media"
	"github.com/glowcart/live/internal/models"
	"github.com/glowcart/live/internal/signaling"
)

// acquireMedia requests camera and microphone access at the broadcast
// profile. A result arriving after teardown (or after a newer acquisition
// attempt) is discarded and its tracks stopped.
func (o *Orchestrator) acquireMedia(ctx context.Context) {
	if o.cfg.Media == nil {
		o.setState(StatePermissionBlocked)
		o.notifyError("Camera unavailable", "No media source is configured for this broadcast.")
		return
	}
	o.mu.Lock()
	o.mediaEpoch++
	epoch := o.mediaEpoch
	o.mu.Unlock()
	o.setState(StateAcquiringMedia)

	go func() {
		stream, err := o.cfg.Media.Acquire(ctx, media.DefaultProfile())

		o.mu.Lock()
		if o.closed || epoch != o.mediaEpoch {
			o.mu.Unlock()
			if stream != nil {
				stream.Stop()
			}
			return
		}
		if err != nil {
			o.mu.Unlock()
			o.logger.Warn("media acquisition failed", zap.Error(err))
			title, message := media.ClassifyError(err)
			o.notifyError(title, message)
			o.setState(StatePermissionBlocked)
			return
		}
		o.local = stream
		o.mu.Unlock()

		o.setState(StateBroadcasting)
		o.drainPendingViewers()
	}()
}

// RetryMedia re-enters media acquisition after a permission failure.
func (o *Orchestrator) RetryMedia(ctx context.Context) {
	if o.State() != StatePermissionBlocked {
		return
	}
	o.acquireMedia(ctx)
}

// handleViewerJoin creates a connection for the viewer immediately when
// local media is live, and queues the viewer otherwise. The queue absorbs
// the race between a viewer joining and the host's media grant resolving.
func (o *Orchestrator) handleViewerJoin(peerID string) {
	if peerID == "" {
		return
	}
	o.mu.Lock()
	if !o.isHost || o.closed {
		o.mu.Unlock()
		return
	}
	ready := o.state == StateBroadcasting && o.local != nil
	if !ready {
		if _, queued := o.pendingSet[peerID]; !queued {
			o.pendingSet[peerID] = struct{}{}
			o.pendingViewers = append(o.pendingViewers, peerID)
			o.logger.Debug("viewer queued until media is ready", zap.String("peer_id", peerID))
		}
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.createViewerLink(peerID)
}

// drainPendingViewers creates exactly one connection per queued viewer and
// clears the queue. Viewers that already hold a connection are skipped.
func (o *Orchestrator) drainPendingViewers() {
	o.mu.Lock()
	queued := o.pendingViewers
	o.pendingViewers = nil
	o.pendingSet = make(map[string]struct{})
	o.mu.Unlock()
	for _, peerID := range queued {
		o.createViewerLink(peerID)
	}
}

func (o *Orchestrator) createViewerLink(peerID string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, exists := o.links[peerID]; exists {
		o.mu.Unlock()
		return
	}
	local := o.local
	o.mu.Unlock()
	if local == nil {
		return
	}

	pc, err := o.cfg.NewPeer()
	if err != nil {
		o.logger.Error("create peer connection", zap.String("peer_id", peerID), zap.Error(err))
		return
	}
	link := &peerLink{pc: pc, peerID: peerID}
	o.mu.Lock()
	o.links[peerID] = link
	o.mu.Unlock()

	sessionID := o.sessionIDString()
	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		o.cfg.Channel.Send(signaling.NewICECandidate(sessionID, peerID, candidate))
	})
	// Covers the initial offer and every later renegotiation, e.g. after a
	// track replacement.
	pc.OnNegotiationNeeded(func() {
		o.negotiateLink(link, nil)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			o.handleLinkFailure(link)
		}
	})

	for _, track := range local.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			o.logger.Warn("add local track", zap.String("peer_id", peerID), zap.Error(err))
		}
	}
	o.logger.Info("viewer connection created", zap.String("peer_id", peerID))
}

func (o *Orchestrator) negotiateLink(link *peerLink, options *webrtc.OfferOptions) {
	offer, err := link.pc.CreateOffer(options)
	if err != nil {
		o.logger.Warn("create offer", zap.String("peer_id", link.peerID), zap.Error(err))
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		o.logger.Warn("set local description", zap.String("peer_id", link.peerID), zap.Error(err))
		return
	}
	o.cfg.Channel.Send(signaling.NewOffer(o.sessionIDString(), link.peerID, offer))
}

// handleLinkFailure notifies once and restarts ICE in place. The connection
// entry stays tracked; full teardown is not attempted.
func (o *Orchestrator) handleLinkFailure(link *peerLink) {
	o.mu.Lock()
	notified := link.failureNotified
	link.failureNotified = true
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	if !notified {
		o.notifyError("Connection issue", "A viewer connection degraded. Reconnecting…")
	}
	o.logger.Warn("peer connection failed, restarting ICE", zap.String("peer_id", link.peerID))
	o.negotiateLink(link, &webrtc.OfferOptions{ICERestart: true})
}

func (o *Orchestrator) handleAnswer(env signaling.Envelope) {
	o.mu.Lock()
	if !o.isHost {
		o.mu.Unlock()
		return
	}
	link := o.links[env.FromPeerID]
	o.mu.Unlock()
	if link == nil {
		o.logger.Debug("answer from untracked viewer", zap.String("peer_id", env.FromPeerID))
		return
	}
	sdp, err := env.SessionDescription()
	if err != nil {
		o.logger.Warn("malformed answer", zap.Error(err))
		return
	}
	if err := link.pc.SetRemoteDescription(sdp); err != nil {
		o.logger.Warn("apply answer", zap.String("peer_id", env.FromPeerID), zap.Error(err))
		return
	}
	o.mu.Lock()
	link.remoteDescSet = true
	o.mu.Unlock()
}

func (o *Orchestrator) handleICECandidate(env signaling.Envelope) {
	if env.TargetPeerID != "" && env.TargetPeerID != o.cfg.Channel.PeerID() {
		return
	}
	candidate, err := env.ICECandidate()
	if err != nil {
		o.logger.Warn("malformed ice candidate", zap.Error(err))
		return
	}
	o.mu.Lock()
	isHost := o.isHost
	o.mu.Unlock()
	if !isHost {
		o.viewerAddCandidate(candidate)
		return
	}
	// Candidates follow offer/answer, so the host always holds the
	// connection by the time they can arrive.
	o.mu.Lock()
	link := o.links[env.FromPeerID]
	o.mu.Unlock()
	if link == nil {
		o.logger.Debug("candidate for untracked viewer", zap.String("peer_id", env.FromPeerID))
		return
	}
	if err := link.pc.AddICECandidate(candidate); err != nil {
		o.logger.Warn("apply candidate", zap.String("peer_id", env.FromPeerID), zap.Error(err))
	}
}

// OnForeground recovers from the capture device dying while the broadcast
// was backgrounded: re-acquire at the same profile and swap the tracks on
// every connection's senders without tearing anything down. An error dialog
// appears only if re-acquisition itself fails.
func (o *Orchestrator) OnForeground(ctx context.Context) {
	o.mu.Lock()
	needsRecovery := o.isHost && !o.closed && o.local != nil && o.local.VideoEnded()
	o.mu.Unlock()
	if !needsRecovery || o.cfg.Media == nil {
		return
	}

	o.logger.Info("video track ended, re-acquiring media")
	stream, err := o.cfg.Media.Acquire(ctx, media.DefaultProfile())
	if err != nil {
		title, message := media.ClassifyError(err)
		o.notifyError(title, message)
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		stream.Stop()
		return
	}
	old := o.local
	o.local = stream
	links := make([]*peerLink, 0, len(o.links))
	for _, link := range o.links {
		links = append(links, link)
	}
	o.mu.Unlock()

	for _, link := range links {
		for _, sender := range link.pc.Senders() {
			switch sender.Kind() {
			case webrtc.RTPCodecTypeVideo:
				if err := sender.ReplaceTrack(stream.VideoTrack()); err != nil {
					o.logger.Warn("replace video track", zap.String("peer_id", link.peerID), zap.Error(err))
				}
			case webrtc.RTPCodecTypeAudio:
				if track := stream.AudioTrack(); track != nil {
					if err := sender.ReplaceTrack(track); err != nil {
						o.logger.Warn("replace audio track", zap.String("peer_id", link.peerID), zap.Error(err))
					}
				}
			}
		}
	}
	if old != nil {
		old.Stop()
	}
}

// PinProduct broadcasts the highlighted product to the session. Host only.
// Local state updates immediately; viewers update on receipt of the same
// broadcast.
func (o *Orchestrator) PinProduct(productID string) {
	o.mu.Lock()
	allowed := o.isHost && !o.closed && o.pinnedProduct != productID
	o.mu.Unlock()
	if !allowed || productID == "" {
		return
	}
	o.applyPin(productID)
	o.cfg.Channel.Send(signaling.NewPinProduct(o.sessionIDString(), productID))
}

// UnpinProduct clears the highlighted product. No-op when nothing is pinned.
func (o *Orchestrator) UnpinProduct() {
	o.mu.Lock()
	allowed := o.isHost && !o.closed && o.pinnedProduct != ""
	o.mu.Unlock()
	if !allowed {
		return
	}
	o.applyPin("")
	o.cfg.Channel.Send(signaling.NewUnpinProduct(o.sessionIDString()))
}

// EndSession terminates the broadcast: notifies the session, marks the
// record as replay, and tears down every connection and local track.
func (o *Orchestrator) EndSession(ctx context.Context) {
	o.mu.Lock()
	if !o.isHost || o.closed {
		o.mu.Unlock()
		return
	}
	session := o.session
	o.mu.Unlock()

	o.cfg.Channel.Send(signaling.NewEndSession(o.sessionIDString()))
	if err := o.cfg.Registry.MarkReplay(ctx, o.cfg.SessionID); err != nil {
		o.logger.Warn("mark session replay", zap.Error(err))
	}
	if session != nil {
		session.Status = models.StatusReplay
	}
	o.teardown()
	o.setState(StateEnded)
	o.emitEnded()
}
