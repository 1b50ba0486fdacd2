package signaling

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowcart/live/internal/models"
)

func TestOfferEnvelopeIsTargeted(t *testing.T) {
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	env := NewOffer("sess-1", "viewer-7", sdp)

	assert.Equal(t, TypeOffer, env.Type)
	assert.Equal(t, "viewer-7", env.TargetPeerID)

	decoded, err := env.SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, sdp, decoded)
}

func TestICECandidateEnvelopeRoundTrip(t *testing.T) {
	mid := "0"
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host", SDPMid: &mid}
	env := NewICECandidate("sess-1", "viewer-7", candidate)

	decoded, err := env.ICECandidate()
	require.NoError(t, err)
	assert.Equal(t, candidate.Candidate, decoded.Candidate)
	require.NotNil(t, decoded.SDPMid)
	assert.Equal(t, mid, *decoded.SDPMid)
}

func TestSessionDataResponseCarriesSession(t *testing.T) {
	session := &models.LiveSession{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Title:    "Sneaker drop",
		Status:   models.StatusLive,
	}
	env := NewSessionDataResponse("sess-1", "asker", session)
	assert.Equal(t, "asker", env.TargetPeerID)

	decoded, err := env.Session()
	require.NoError(t, err)
	assert.Equal(t, session.ID, decoded.ID)
	assert.Equal(t, session.Title, decoded.Title)
	assert.Equal(t, models.StatusLive, decoded.Status)
}

func TestPinProductPayload(t *testing.T) {
	env := NewPinProduct("sess-1", "prod-42")
	assert.Empty(t, env.TargetPeerID)

	productID, err := env.PinnedProduct()
	require.NoError(t, err)
	assert.Equal(t, "prod-42", productID)
}

func TestMalformedPayloadErrors(t *testing.T) {
	env := Envelope{Type: TypeOffer, SessionID: "sess-1", Payload: []byte("{broken")}
	_, err := env.SessionDescription()
	assert.Error(t, err)

	env.Type = TypeICECandidate
	_, err = env.ICECandidate()
	assert.Error(t, err)
}
