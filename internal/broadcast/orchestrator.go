// Package broadcast orchestrates one live-shopping session: the host side
// negotiates a peer connection per viewer and streams its local media; the
// viewer side holds a single connection to the host and plays the received
// stream. All coordination runs over the session's signaling channel.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/glowcart/live/internal/media"
	"github.com/glowcart/live/internal/models"
	"github.com/glowcart/live/internal/signaling"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateInitializing      State = "initializing"
	StateLoading           State = "loading"
	StateJoining           State = "joining"
	StateHosting           State = "hosting"
	StateAcquiringMedia    State = "acquiring_media"
	StateBroadcasting      State = "broadcasting"
	StatePermissionBlocked State = "permission_blocked"
	StateReplaying         State = "replaying"
	StateNotFound          State = "not_found"
	StateEnded             State = "ended"
)

// defaultDataRequestTimeout bounds the wait for a session-data-response when
// the session is not in the local registry.
const defaultDataRequestTimeout = 5 * time.Second

// hostLinkKey is the connection-map key for "the host" on the viewer side.
const hostLinkKey = "host"

// SignalChannel is the slice of the signaling channel the orchestrator uses.
type SignalChannel interface {
	Connect(ctx context.Context, sessionID string) error
	Send(env signaling.Envelope)
	OnMessage(fn signaling.Handler)
	PeerID() string
	Disconnect()
}

// SessionRegistry is the local session store. The canonical copy lives
// elsewhere; the orchestrator reads a possibly stale transient copy and
// adopts records received over the wire.
type SessionRegistry interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	Upsert(ctx context.Context, session *models.LiveSession) error
	MarkReplay(ctx context.Context, id uuid.UUID) error
}

// CatalogLookup resolves featured products and the owning seller.
type CatalogLookup interface {
	FindProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	FindSellerByID(ctx context.Context, id uuid.UUID) (*models.Seller, error)
}

// Notifier surfaces user-facing notifications. Fire and forget.
type Notifier interface {
	NotifyError(title, message string)
	NotifyInfo(title, message string)
}

// CartSink receives the pinned product when a viewer acts on it.
type CartSink interface {
	AddItem(product models.Product)
}

// Identity is the current user, resolved once at session entry.
type Identity struct {
	UserID   uuid.UUID
	IsSeller bool
}

// ErrPlaybackBlocked is returned by Player.Play when unmuted playback is
// refused; the orchestrator retries muted.
var ErrPlaybackBlocked = errors.New("broadcast: playback blocked")

// Player renders the viewer's watchable stream.
type Player interface {
	Play(stream *RemoteStream) error
	PlayMuted(stream *RemoteStream) error
}

// RemoteStream is the watchable stream a viewer received from the host.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

// Events are optional observer callbacks for UI-visible state. Nil fields
// are skipped.
type Events struct {
	OnStateChange   func(state State)
	OnRemoteStream  func(stream *RemoteStream)
	OnPinChange     func(productID string) // "" means unpinned
	OnEngagement    func(viewers, likes int)
	OnChat          func(author, text string)
	OnReplay        func(assetKey string)
	OnEnded         func()
}

// Config wires the orchestrator's collaborators.
type Config struct {
	SessionID uuid.UUID
	Identity  Identity
	Channel   SignalChannel
	Registry  SessionRegistry
	Catalog   CatalogLookup
	Notifier  Notifier
	Cart      CartSink
	Media     media.Source
	Player    Player
	NewPeer   PeerFactory
	Events    Events
	Logger    *zap.Logger

	// DataRequestTimeout defaults to 5s when zero.
	DataRequestTimeout time.Duration
	// EngagementInterval drives the simulated engagement ticker; zero
	// disables the simulation entirely.
	EngagementInterval time.Duration
}

type peerLink struct {
	pc              PeerConnection
	peerID          string
	remoteDescSet   bool
	failureNotified bool
}

// Orchestrator is the per-session broadcast state machine.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	session        *models.LiveSession
	isHost         bool
	local          *media.Stream
	links          map[string]*peerLink
	pendingViewers []string
	pendingSet     map[string]struct{}
	pendingHostICE []webrtc.ICECandidateInit // viewer-side candidates that beat the offer
	pinnedProduct  string
	remote         *RemoteStream
	dataTimer      *time.Timer
	mediaEpoch     int
	closed         bool

	engagement *engagementSim
	closeOnce  sync.Once
}

// New creates an orchestrator for one session.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Channel == nil {
		return nil, errors.New("broadcast: channel is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("broadcast: registry is required")
	}
	if cfg.NewPeer == nil {
		cfg.NewPeer = NewPionFactory(nil)
	}
	if cfg.DataRequestTimeout <= 0 {
		cfg.DataRequestTimeout = defaultDataRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.With(zap.String("session_id", cfg.SessionID.String())),
		state:      StateInitializing,
		links:      make(map[string]*peerLink),
		pendingSet: make(map[string]struct{}),
	}, nil
}

// Start connects the channel and resolves the session entry path: host,
// viewer, replay, or a bounded wait for a session-data-response.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.cfg.Channel.Connect(ctx, o.cfg.SessionID.String()); err != nil {
		return err
	}
	o.cfg.Channel.OnMessage(func(env signaling.Envelope) { o.handleMessage(ctx, env) })

	session, err := o.cfg.Registry.FindByID(ctx, o.cfg.SessionID)
	if err != nil || session == nil {
		o.enterLoading(ctx)
		return nil
	}
	o.enterSession(ctx, session)
	return nil
}

// enterSession routes a resolved session to the role-specific entry state.
func (o *Orchestrator) enterSession(ctx context.Context, session *models.LiveSession) {
	o.mu.Lock()
	o.session = session
	o.isHost = o.cfg.Identity.IsSeller && session.SellerID == o.cfg.Identity.UserID
	isHost := o.isHost
	o.mu.Unlock()

	switch {
	case session.Status == models.StatusReplay:
		o.setState(StateReplaying)
		o.emitReplay(session.ReplayKey)
	case isHost:
		o.setState(StateHosting)
		o.acquireMedia(ctx)
	default:
		o.setState(StateJoining)
		o.startEngagement()
		o.cfg.Channel.Send(signaling.NewViewerJoin(o.sessionIDString()))
	}
}

func (o *Orchestrator) enterLoading(ctx context.Context) {
	o.setState(StateLoading)
	// The timer is armed before the request goes out so a response handled
	// while Send is still on the stack can stop it.
	o.mu.Lock()
	o.dataTimer = time.AfterFunc(o.cfg.DataRequestTimeout, func() {
		o.mu.Lock()
		expired := o.state == StateLoading && !o.closed
		o.mu.Unlock()
		if !expired {
			return
		}
		o.logger.Warn("session data request timed out")
		o.setState(StateNotFound)
		o.teardown()
	})
	o.mu.Unlock()
	o.cfg.Channel.Send(signaling.NewRequestSessionData(o.sessionIDString()))
	_ = ctx
}

func (o *Orchestrator) handleMessage(ctx context.Context, env signaling.Envelope) {
	switch env.Type {
	case signaling.TypeViewerJoin:
		o.handleViewerJoin(env.FromPeerID)
	case signaling.TypeOffer:
		o.handleOffer(env)
	case signaling.TypeAnswer:
		o.handleAnswer(env)
	case signaling.TypeICECandidate:
		o.handleICECandidate(env)
	case signaling.TypeRequestSessionData:
		o.handleSessionDataRequest(env)
	case signaling.TypeSessionDataResponse:
		o.handleSessionDataResponse(ctx, env)
	case signaling.TypePinProduct:
		productID, err := env.PinnedProduct()
		if err != nil {
			o.logger.Warn("malformed pin-product message", zap.Error(err))
			return
		}
		o.applyPin(productID)
	case signaling.TypeUnpinProduct:
		o.applyPin("")
	case signaling.TypeEndSession:
		o.handleRemoteEnd(ctx)
	default:
		o.logger.Debug("ignoring signaling message", zap.String("type", string(env.Type)))
	}
}

// handleSessionDataRequest answers when this participant holds the session
// record. The pin state is deliberately not included: it is ephemeral per
// broadcast, so late joiners see it only on the next explicit pin.
func (o *Orchestrator) handleSessionDataRequest(env signaling.Envelope) {
	// Marshal a copy: the engagement ticker keeps mutating the live record
	// under o.mu.
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return
	}
	snapshot := *o.session
	o.mu.Unlock()
	o.cfg.Channel.Send(signaling.NewSessionDataResponse(o.sessionIDString(), env.FromPeerID, &snapshot))
}

func (o *Orchestrator) handleSessionDataResponse(ctx context.Context, env signaling.Envelope) {
	if env.TargetPeerID != "" && env.TargetPeerID != o.cfg.Channel.PeerID() {
		return
	}
	o.mu.Lock()
	if o.state != StateLoading {
		o.mu.Unlock()
		return
	}
	if o.dataTimer != nil {
		o.dataTimer.Stop()
		o.dataTimer = nil
	}
	o.mu.Unlock()

	session, err := env.Session()
	if err != nil {
		o.logger.Warn("malformed session-data-response", zap.Error(err))
		return
	}
	if err := o.cfg.Registry.Upsert(ctx, session); err != nil {
		o.logger.Warn("adopt session record", zap.Error(err))
	}
	o.enterSession(ctx, session)
}

// applyPin handles pin/unpin broadcasts symmetrically for host and viewers.
func (o *Orchestrator) applyPin(productID string) {
	o.mu.Lock()
	if o.pinnedProduct == productID {
		o.mu.Unlock()
		return
	}
	o.pinnedProduct = productID
	o.mu.Unlock()
	o.emitPinChange(productID)
}

func (o *Orchestrator) handleRemoteEnd(ctx context.Context) {
	o.mu.Lock()
	if o.isHost || o.session == nil {
		o.mu.Unlock()
		return
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	if err := o.cfg.Registry.MarkReplay(ctx, sessionID); err != nil {
		o.logger.Warn("mark session replay", zap.Error(err))
	}
	o.teardown()
	o.setState(StateEnded)
	o.emitEnded()
}

// AddPinnedToCart resolves the pinned product and pushes it to the cart.
// No-op when nothing is pinned or the collaborators are absent.
func (o *Orchestrator) AddPinnedToCart(ctx context.Context) {
	o.mu.Lock()
	pinned := o.pinnedProduct
	o.mu.Unlock()
	if pinned == "" || o.cfg.Catalog == nil || o.cfg.Cart == nil {
		return
	}
	productID, err := uuid.Parse(pinned)
	if err != nil {
		o.logger.Warn("pinned product id is not a uuid", zap.String("product_id", pinned))
		return
	}
	products, err := o.cfg.Catalog.FindProductsByIDs(ctx, []uuid.UUID{productID})
	if err != nil || len(products) == 0 {
		o.notifyError("Product unavailable", "The featured product could not be loaded.")
		return
	}
	o.cfg.Cart.AddItem(products[0])
	o.notifyInfo("Added to cart", products[0].Name)
}

// Close tears the session down: stops tracks, closes connections, and
// disconnects the channel. Idempotent; safe from any exit path.
func (o *Orchestrator) Close() {
	o.teardown()
	o.setState(StateEnded)
}

func (o *Orchestrator) teardown() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		if o.dataTimer != nil {
			o.dataTimer.Stop()
			o.dataTimer = nil
		}
		sim := o.engagement
		o.engagement = nil
		links := o.links
		o.links = make(map[string]*peerLink)
		o.pendingViewers = nil
		o.pendingSet = make(map[string]struct{})
		local := o.local
		o.local = nil
		o.mu.Unlock()

		if sim != nil {
			sim.stop()
		}
		for _, link := range links {
			if link.pc != nil {
				_ = link.pc.Close()
			}
		}
		if local != nil {
			local.Stop()
		}
		o.cfg.Channel.Disconnect()
		o.logger.Info("broadcast torn down")
	})
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// PinnedProduct returns the pinned product id, or "" when unpinned.
func (o *Orchestrator) PinnedProduct() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pinnedProduct
}

// Session returns the transient local session copy, possibly nil.
func (o *Orchestrator) Session() *models.LiveSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// ConnectionCount returns the number of tracked peer connections.
func (o *Orchestrator) ConnectionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.links)
}

// PendingViewerCount returns the number of viewers waiting for host media.
func (o *Orchestrator) PendingViewerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pendingViewers)
}

func (o *Orchestrator) sessionIDString() string {
	return o.cfg.SessionID.String()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("state change", zap.String("state", string(s)))
	if o.cfg.Events.OnStateChange != nil {
		o.cfg.Events.OnStateChange(s)
	}
}

func (o *Orchestrator) notifyError(title, message string) {
	if o.cfg.Notifier != nil {
		o.cfg.Notifier.NotifyError(title, message)
	}
}

func (o *Orchestrator) notifyInfo(title, message string) {
	if o.cfg.Notifier != nil {
		o.cfg.Notifier.NotifyInfo(title, message)
	}
}

func (o *Orchestrator) emitPinChange(productID string) {
	if o.cfg.Events.OnPinChange != nil {
		o.cfg.Events.OnPinChange(productID)
	}
}

func (o *Orchestrator) emitReplay(assetKey string) {
	if o.cfg.Events.OnReplay != nil {
		o.cfg.Events.OnReplay(assetKey)
	}
}

func (o *Orchestrator) emitEnded() {
	if o.cfg.Events.OnEnded != nil {
		o.cfg.Events.OnEnded()
	}
}
