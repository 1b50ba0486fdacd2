package broadcast

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the narrow surface of a peer-to-peer media connection the
// orchestrator drives. The production factory wraps pion; tests substitute a
// fake so ordering and recovery behavior can be exercised without SDP
// negotiation.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	Senders() []Sender
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnNegotiationNeeded(fn func())
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnRemoteTrack(fn func(RemoteTrack))
	Close() error
}

// Sender is one outgoing track slot on a peer connection.
type Sender interface {
	Kind() webrtc.RTPCodecType
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerFactory creates a new peer connection per negotiation need.
type PeerFactory func() (PeerConnection, error)

var defaultICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// NewPionFactory returns a factory producing pion peer connections with the
// default codecs registered and the given ICE servers (STUN fallback when
// none are configured).
func NewPionFactory(iceServers []webrtc.ICEServer) PeerFactory {
	cfg := webrtc.Configuration{ICEServers: iceServers}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultICEServers
	}
	return func() (PeerConnection, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
		api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionPeer) Senders() []Sender {
	senders := p.pc.GetSenders()
	out := make([]Sender, 0, len(senders))
	for _, s := range senders {
		out = append(out, &pionSender{sender: s})
	}
	return out
}

func (p *pionPeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(options)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *pionPeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnNegotiationNeeded(fn func()) {
	p.pc.OnNegotiationNeeded(fn)
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnRemoteTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender
}

func (s *pionSender) Kind() webrtc.RTPCodecType {
	if track := s.sender.Track(); track != nil {
		return track.Kind()
	}
	return webrtc.RTPCodecType(0)
}

func (s *pionSender) ReplaceTrack(track webrtc.TrackLocal) error {
	return s.sender.ReplaceTrack(track)
}
