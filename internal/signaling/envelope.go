package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/glowcart/live/internal/models"
)

// MessageType discriminates signaling envelopes.
type MessageType string

const (
	TypeViewerJoin          MessageType = "viewer-join"
	TypeOffer               MessageType = "offer"
	TypeAnswer              MessageType = "answer"
	TypeICECandidate        MessageType = "ice-candidate"
	TypeRequestSessionData  MessageType = "request-session-data"
	TypeSessionDataResponse MessageType = "session-data-response"
	TypePinProduct          MessageType = "pin-product"
	TypeUnpinProduct        MessageType = "unpin-product"
	TypeEndSession          MessageType = "end-session"
)

// Envelope is the wire format for all signaling messages. FromPeerID is
// stamped by the channel on send, never by the caller. TargetPeerID narrows
// a broadcast-relayed message to one recipient; receivers must check it
// themselves because the relay echoes every frame to the whole session.
type Envelope struct {
	Type         MessageType     `json:"type"`
	SessionID    string          `json:"sessionId"`
	FromPeerID   string          `json:"fromPeerId,omitempty"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// PinProductPayload carries the product a host pinned for the session.
type PinProductPayload struct {
	ProductID string `json:"productId"`
}

// NewViewerJoin announces a viewer to the session.
func NewViewerJoin(sessionID string) Envelope {
	return Envelope{Type: TypeViewerJoin, SessionID: sessionID}
}

// NewOffer addresses a session description offer to one viewer.
func NewOffer(sessionID, targetPeerID string, sdp webrtc.SessionDescription) Envelope {
	return envelopeWith(TypeOffer, sessionID, targetPeerID, sdp)
}

// NewAnswer addresses a session description answer back to the offerer.
func NewAnswer(sessionID, targetPeerID string, sdp webrtc.SessionDescription) Envelope {
	return envelopeWith(TypeAnswer, sessionID, targetPeerID, sdp)
}

// NewICECandidate addresses a trickled candidate to one peer.
func NewICECandidate(sessionID, targetPeerID string, candidate webrtc.ICECandidateInit) Envelope {
	return envelopeWith(TypeICECandidate, sessionID, targetPeerID, candidate)
}

// NewRequestSessionData asks any participant for the session record.
func NewRequestSessionData(sessionID string) Envelope {
	return Envelope{Type: TypeRequestSessionData, SessionID: sessionID}
}

// NewSessionDataResponse answers a data request with the full session record.
func NewSessionDataResponse(sessionID, targetPeerID string, session *models.LiveSession) Envelope {
	return envelopeWith(TypeSessionDataResponse, sessionID, targetPeerID, session)
}

// NewPinProduct broadcasts the currently highlighted product to the session.
func NewPinProduct(sessionID, productID string) Envelope {
	return envelopeWith(TypePinProduct, sessionID, "", PinProductPayload{ProductID: productID})
}

// NewUnpinProduct broadcasts that no product is highlighted.
func NewUnpinProduct(sessionID string) Envelope {
	return Envelope{Type: TypeUnpinProduct, SessionID: sessionID}
}

// NewEndSession broadcasts host-initiated session termination.
func NewEndSession(sessionID string) Envelope {
	return Envelope{Type: TypeEndSession, SessionID: sessionID}
}

func envelopeWith(t MessageType, sessionID, targetPeerID string, payload interface{}) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Type: t, SessionID: sessionID, TargetPeerID: targetPeerID, Payload: data}
}

// SessionDescription decodes an offer or answer payload.
func (e Envelope) SessionDescription() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(e.Payload, &sdp); err != nil {
		return sdp, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return sdp, nil
}

// ICECandidate decodes an ice-candidate payload.
func (e Envelope) ICECandidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return c, nil
}

// Session decodes a session-data-response payload.
func (e Envelope) Session() (*models.LiveSession, error) {
	var s models.LiveSession
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return &s, nil
}

// PinnedProduct decodes a pin-product payload.
func (e Envelope) PinnedProduct() (string, error) {
	var p PinProductPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p.ProductID, nil
}
