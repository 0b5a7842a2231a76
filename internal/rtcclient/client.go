// Package rtcclient negotiates peer connections with the members of one relay
// room.
//
// A Client joins the room through a signaling.Channel and answers the relay's
// call events with offers, answers and ICE candidates. The media and data
// channel specialisations (StreamClient, DataChannelClient) plug into the
// Client through the Variant interface.
//
// Relay events and pion callbacks are applied one at a time on the client's
// inbox queue in arrival order. Observers run on a separate queue and never
// while client state is locked, so they may call any Client method, Close
// included.
package rtcclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/event"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/webrtcpeer"
)

// ReasonClientClose is the close reason reported when Close ends a joined
// session.
const ReasonClientClose = "io client disconnect"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CallAcceptor decides whether a call with the participant id goes ahead. It
// runs on the client's inbox and may block; later relay events wait for it.
// ctx is cancelled when the client is closed.
type CallAcceptor func(ctx context.Context, id string) bool

// DefaultCallAcceptor accepts every call from a non-empty id.
func DefaultCallAcceptor(_ context.Context, id string) bool {
	return id != ""
}

// Variant supplies the transport-specific half of a client.
//
// CreatePeerConnection and the event hooks run on the inbox. ReleasePeer and
// ReleaseAll free the resources the variant holds for one or every remote id.
// DecorateParticipant runs with the client state locked and must not call
// back into the Client.
type Variant interface {
	CreatePeerConnection(id string, role Role) (*webrtc.PeerConnection, error)
	ConnectPeerConnectionEvents(id string, pc *webrtc.PeerConnection)
	DisconnectPeerConnectionEvents(id string, pc *webrtc.PeerConnection)
	ReleasePeer(id string)
	ReleaseAll()
	DecorateParticipant(p *Participant)
}

type Options struct {
	// API builds peer connections. Nil uses pion's defaults.
	API       *webrtc.API
	Signaling signaling.Options
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// relay is the part of *signaling.Channel the client drives.
type relay interface {
	SessionID() string
	CallAll() error
	CallIDs(ids []string) error
	CallPeer(toID string, offer signaling.SessionDescription) error
	AnswerCall(toID string, answer *signaling.SessionDescription) error
	SendICECandidate(toID string, candidate *signaling.Candidate) error
	Close()
}

type dialFunc func(ctx context.Context, cfg signaling.ServerConfig, h signaling.Handlers, opts signaling.Options) (relay, error)

func dialSignaling(ctx context.Context, cfg signaling.ServerConfig, h signaling.Handlers, opts signaling.Options) (relay, error) {
	ch, err := signaling.Connect(ctx, cfg, h, opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Client is the negotiation state machine shared by every variant.
type Client struct {
	cfg     signaling.ServerConfig
	sigOpts signaling.Options
	factory webrtcpeer.Factory
	variant Variant
	dial    dialFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	inbox  event.Queue
	events event.Queue
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	gen       uint64
	channel   relay
	sessionID string
	clients   []signaling.RoomClient
	registry  *registry
	acceptor  CallAcceptor

	signalingOpen    *event.Feed[string]
	signalingClose   *event.Feed[string]
	signalingError   *event.Feed[error]
	roomClients      *event.Feed[[]Participant]
	clientConnect    *event.Feed[string]
	clientDisconnect *event.Feed[string]
	callRejected     *event.Feed[string]
}

func newClient(cfg signaling.ServerConfig, opts Options, v Variant) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rtcclient", "room", cfg.Room)
	sigOpts := opts.Signaling
	if sigOpts.Logger == nil {
		sigOpts.Logger = logger
	}

	c := &Client{
		cfg:      cfg,
		sigOpts:  sigOpts,
		factory:  webrtcpeer.Factory{API: opts.API, ICEServers: cfg.ICEServers},
		variant:  v,
		dial:     dialSignaling,
		logger:   logger,
		metrics:  opts.Metrics,
		registry: newRegistry(),
		acceptor: DefaultCallAcceptor,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.signalingOpen = event.NewFeed[string](&c.events)
	c.signalingClose = event.NewFeed[string](&c.events)
	c.signalingError = event.NewFeed[error](&c.events)
	c.roomClients = event.NewFeed[[]Participant](&c.events)
	c.clientConnect = event.NewFeed[string](&c.events)
	c.clientDisconnect = event.NewFeed[string](&c.events)
	c.callRejected = event.NewFeed[string](&c.events)
	return c
}

// Connect dials the relay and joins the configured room. It returns once the
// relay has acknowledged membership. A client whose relay session ended may
// be connected again; a closed client may not.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateJoined:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// Relay events for this session queue up behind the join.
	joined := make(chan struct{})
	defer close(joined)
	c.inbox.Post(func() { <-joined })

	ch, err := c.dial(ctx, c.cfg, c.handlers(gen), c.sigOpts)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen && c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.metrics.Inc(metrics.RelayConnectErrors)
		c.logger.Error("relay connect failed", "err", err)
		c.signalingError.Emit(err)
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		ch.Close()
		return ErrClosed
	}
	c.channel = ch
	c.sessionID = ch.SessionID()
	c.state = StateJoined
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Info("joined room", "session_id", sessionID)
	c.signalingOpen.Emit(sessionID)
	return nil
}

func (c *Client) handlers(gen uint64) signaling.Handlers {
	post := func(fn func()) {
		c.inbox.Post(func() {
			if c.live(gen) {
				fn()
			}
		})
	}
	return signaling.Handlers{
		RoomClients: func(clients []signaling.RoomClient) {
			post(func() { c.setRoomClients(clients) })
		},
		MakePeerCall: func(ids []string) {
			post(func() { c.makePeerCalls(gen, ids) })
		},
		PeerCallReceived: func(msg signaling.PeerCallReceived) {
			post(func() { c.peerCallReceived(gen, msg) })
		},
		PeerCallAnswerReceived: func(msg signaling.PeerCallAnswerReceived) {
			post(func() { c.peerCallAnswerReceived(msg) })
		},
		ICECandidateReceived: func(msg signaling.ICECandidateReceived) {
			post(func() { c.iceCandidateReceived(msg) })
		},
		CloseAllPeerConnections: func() {
			post(func() {
				c.HangUpAll()
				c.UpdateRoomClients()
			})
		},
		Disconnect: func(reason string) {
			c.inbox.Post(func() { c.relayDisconnected(gen, reason) })
		},
	}
}

func (c *Client) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state == StateJoined
}

func (c *Client) relay() relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Client) setRoomClients(clients []signaling.RoomClient) {
	c.mu.Lock()
	c.clients = clients
	c.mu.Unlock()
	c.UpdateRoomClients()
}

// accepts consults the pre-accepted set and then the acceptor, without
// holding the state lock.
func (c *Client) accepts(id string) bool {
	c.mu.Lock()
	pre := c.registry.isPreAccepted(id)
	acceptor := c.acceptor
	c.mu.Unlock()
	if pre {
		return true
	}
	return acceptor(c.ctx, id)
}

func (c *Client) makePeerCalls(gen uint64, ids []string) {
	for _, id := range ids {
		c.mu.Lock()
		skip := id == c.sessionID || c.registry.has(id)
		c.mu.Unlock()
		if skip {
			continue
		}
		if !c.accepts(id) {
			c.metrics.Inc(metrics.CallsRejected)
			c.logger.Info("outgoing call rejected", "peer", id)
			c.callRejected.Emit(id)
			continue
		}
		c.call(gen, id)
	}
}

func (c *Client) call(gen uint64, id string) {
	pc, err := c.variant.CreatePeerConnection(id, RoleCaller)
	if err != nil {
		c.negotiationFailed(id, nil, "create peer connection", err)
		return
	}
	if !c.register(gen, id, pc, RoleCaller) {
		c.discard(id, pc)
		return
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.negotiationFailed(id, pc, "create offer", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.negotiationFailed(id, pc, "set local description", err)
		return
	}
	ch := c.relay()
	if ch == nil {
		return
	}
	if err := ch.CallPeer(id, signaling.SessionDescriptionFromPion(offer)); err != nil {
		c.negotiationFailed(id, pc, signaling.EventCallPeer, err)
		return
	}
	c.metrics.Inc(metrics.CallsOffered)
	c.logger.Debug("offer sent", "peer", id)
}

func (c *Client) peerCallReceived(gen uint64, msg signaling.PeerCallReceived) {
	id := msg.FromID
	if msg.Offer == nil {
		c.logger.Debug("peer call without offer", "peer", id)
		return
	}
	offer, err := msg.Offer.ToPion()
	if err != nil {
		c.negotiationFailed(id, nil, "decode offer", err)
		return
	}

	if !c.accepts(id) {
		c.metrics.Inc(metrics.CallsRejected)
		c.logger.Info("incoming call rejected", "peer", id)
		if ch := c.relay(); ch != nil {
			if err := ch.AnswerCall(id, nil); err != nil {
				c.logger.Debug("decline not sent", "peer", id, "err", err)
			}
		}
		return
	}

	c.mu.Lock()
	existing := c.registry.get(id)
	c.mu.Unlock()
	if existing != nil {
		c.logger.Info("replacing peer connection on new offer", "peer", id)
		c.removeConnection(id, existing.pc)
	}

	pc, err := c.variant.CreatePeerConnection(id, RoleCallee)
	if err != nil {
		c.negotiationFailed(id, nil, "create peer connection", err)
		return
	}
	if !c.register(gen, id, pc, RoleCallee) {
		c.discard(id, pc)
		return
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		c.negotiationFailed(id, pc, "set remote description", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.negotiationFailed(id, pc, "create answer", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.negotiationFailed(id, pc, "set local description", err)
		return
	}
	ch := c.relay()
	if ch == nil {
		return
	}
	desc := signaling.SessionDescriptionFromPion(answer)
	if err := ch.AnswerCall(id, &desc); err != nil {
		c.negotiationFailed(id, pc, signaling.EventMakePeerCallReply, err)
		return
	}
	c.metrics.Inc(metrics.CallsAnswered)
	c.logger.Debug("answer sent", "peer", id)
}

func (c *Client) peerCallAnswerReceived(msg signaling.PeerCallAnswerReceived) {
	id := msg.FromID
	if msg.Answer == nil {
		c.metrics.Inc(metrics.CallsDeclinedByPeer)
		c.logger.Info("call declined by peer", "peer", id)
		c.callRejected.Emit(id)
		if c.removeConnection(id, nil) {
			c.UpdateRoomClients()
		}
		return
	}

	c.mu.Lock()
	e := c.registry.get(id)
	c.mu.Unlock()
	if e == nil {
		c.logger.Debug("answer for unknown peer", "peer", id)
		return
	}
	// Both sides calling at once leaves a callee connection in place of ours;
	// the answer to our replaced offer belongs to no live connection.
	if !e.awaitingAnswer() {
		c.logger.Debug("stale answer dropped", "peer", id, "role", e.role, "signaling_state", e.pc.SignalingState())
		return
	}
	answer, err := msg.Answer.ToPion()
	if err != nil {
		c.negotiationFailed(id, e.pc, "decode answer", err)
		return
	}
	if err := e.pc.SetRemoteDescription(answer); err != nil {
		c.negotiationFailed(id, e.pc, "set remote description", err)
	}
}

func (c *Client) iceCandidateReceived(msg signaling.ICECandidateReceived) {
	if msg.Candidate == nil || msg.Candidate.Candidate == "" {
		return
	}
	c.mu.Lock()
	e := c.registry.get(msg.FromID)
	c.mu.Unlock()
	if e == nil {
		return
	}
	if err := e.pc.AddICECandidate(msg.Candidate.ToPion()); err != nil {
		c.negotiationFailed(msg.FromID, e.pc, "add ice candidate", err)
	}
}

func (c *Client) register(gen uint64, id string, pc *webrtc.PeerConnection, role Role) bool {
	c.mu.Lock()
	ok := c.gen == gen && c.state == StateJoined && c.registry.add(id, &peerEntry{
		pc:    pc,
		role:  role,
		state: webrtc.PeerConnectionStateNew,
	})
	c.mu.Unlock()
	if ok {
		c.connectEvents(id, pc)
	}
	return ok
}

func (c *Client) connectEvents(id string, pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.inbox.Post(func() { c.connectionStateChanged(id, pc, s) })
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.inbox.Post(func() { c.sendICECandidate(id, pc, cand) })
	})
	c.variant.ConnectPeerConnectionEvents(id, pc)
}

func (c *Client) disconnectEvents(id string, pc *webrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
	pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	c.variant.DisconnectPeerConnectionEvents(id, pc)
}

// discard closes a peer connection that never made it into the registry.
func (c *Client) discard(id string, pc *webrtc.PeerConnection) {
	c.disconnectEvents(id, pc)
	if err := pc.Close(); err != nil {
		c.logger.Debug("close discarded peer connection", "peer", id, "err", err)
	}
}

func (c *Client) sendICECandidate(id string, pc *webrtc.PeerConnection, cand *webrtc.ICECandidate) {
	c.mu.Lock()
	ok := c.registry.current(id, pc)
	ch := c.channel
	c.mu.Unlock()
	if !ok || ch == nil {
		return
	}
	var out *signaling.Candidate
	if cand != nil {
		v := signaling.CandidateFromPion(cand.ToJSON())
		out = &v
	}
	if err := ch.SendICECandidate(id, out); err != nil {
		c.logger.Debug("ice candidate not sent", "peer", id, "err", err)
	}
}

func (c *Client) connectionStateChanged(id string, pc *webrtc.PeerConnection, s webrtc.PeerConnectionState) {
	c.mu.Lock()
	e := c.registry.get(id)
	if e == nil || e.pc != pc {
		c.mu.Unlock()
		return
	}
	e.state = s
	c.mu.Unlock()

	c.logger.Debug("peer connection state changed", "peer", id, "state", s.String())
	switch s {
	case webrtc.PeerConnectionStateConnected:
		c.metrics.Inc(metrics.PeerConnects)
		c.clientConnect.Emit(id)
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if c.removeConnection(id, pc) {
			c.UpdateRoomClients()
		}
	}
}

// removeConnection tears down the registered connection for id. A non-nil pc
// must be the registered one. It reports whether an entry was removed.
func (c *Client) removeConnection(id string, pc *webrtc.PeerConnection) bool {
	c.mu.Lock()
	e := c.registry.remove(id, pc)
	c.mu.Unlock()
	if e == nil {
		return false
	}
	c.disconnectEvents(id, e.pc)
	c.variant.ReleasePeer(id)
	if err := e.pc.Close(); err != nil {
		c.logger.Debug("close peer connection", "peer", id, "err", err)
	}
	c.metrics.Inc(metrics.PeerDisconnects)
	c.logger.Info("peer disconnected", "peer", id)
	c.clientDisconnect.Emit(id)
	return true
}

func (c *Client) negotiationFailed(id string, pc *webrtc.PeerConnection, op string, err error) {
	nerr := &NegotiationError{ID: id, Op: op, Err: err}
	c.metrics.Inc(metrics.NegotiationErrors)
	c.logger.Error("negotiation failed", "peer", id, "err", nerr)
	if pc == nil {
		return
	}
	if c.removeConnection(id, pc) {
		c.UpdateRoomClients()
		return
	}
	c.discard(id, pc)
}

func (c *Client) relayDisconnected(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateJoined {
		c.mu.Unlock()
		return
	}
	ch := c.channel
	c.channel = nil
	c.state = StateDisconnected
	c.clients = nil
	entries := c.registry.drain()
	c.mu.Unlock()

	c.variant.ReleaseAll()
	ch.Close()
	c.closePeerConnections(entries)

	c.metrics.Inc(metrics.RelayDisconnects)
	c.logger.Warn("relay disconnected", "reason", reason)
	c.signalingClose.Emit(reason)
}

func (c *Client) closePeerConnections(entries map[string]*peerEntry) {
	for id, e := range entries {
		c.disconnectEvents(id, e.pc)
		if err := e.pc.Close(); err != nil {
			c.logger.Debug("close peer connection", "peer", id, "err", err)
		}
	}
}

// CallAll asks the relay to have this client call every other member of the
// room. The current members are pre-accepted.
func (c *Client) CallAll() error {
	c.mu.Lock()
	ch, err := c.joinedLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ids := make([]string, 0, len(c.clients))
	for _, rc := range c.clients {
		ids = append(ids, rc.ID)
	}
	c.registry.preAccept(ids)
	c.mu.Unlock()
	return ch.CallAll()
}

// CallIDs asks the relay to have this client call ids, which are
// pre-accepted.
func (c *Client) CallIDs(ids []string) error {
	c.mu.Lock()
	ch, err := c.joinedLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.registry.preAccept(ids)
	c.mu.Unlock()
	return ch.CallIDs(ids)
}

func (c *Client) joinedLocked() (relay, error) {
	switch c.state {
	case StateClosed:
		return nil, ErrClosed
	case StateJoined:
		return c.channel, nil
	default:
		return nil, ErrNotConnected
	}
}

// HangUpAll closes every peer connection and keeps the relay session.
func (c *Client) HangUpAll() {
	c.mu.Lock()
	entries := c.registry.drain()
	c.mu.Unlock()
	c.closePeerConnections(entries)
	c.variant.ReleaseAll()
}

// Close ends the relay session and then closes every peer connection. It is
// safe to call more than once and from observers.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasJoined := c.state == StateJoined
	c.state = StateClosed
	ch := c.channel
	c.channel = nil
	c.clients = nil
	entries := c.registry.drain()
	c.mu.Unlock()

	c.cancel()
	c.variant.ReleaseAll()
	if ch != nil {
		ch.Close()
	}
	c.closePeerConnections(entries)
	c.inbox.Close()

	if wasJoined {
		c.signalingClose.Emit(ReasonClientClose)
	}
	c.events.Close()
	c.logger.Debug("client closed")
}

// UpdateRoomClients recomputes the participant list from the last membership
// snapshot and notifies OnRoomClientsChange observers.
func (c *Client) UpdateRoomClients() {
	c.mu.Lock()
	ps := c.participantsLocked()
	c.mu.Unlock()
	c.roomClients.Emit(ps)
}

func (c *Client) participantsLocked() []Participant {
	ps := make([]Participant, 0, len(c.clients))
	for _, rc := range c.clients {
		p := Participant{
			ID:        rc.ID,
			Name:      rc.Name,
			Type:      rc.Type,
			Connected: c.registry.has(rc.ID) || (rc.ID != "" && rc.ID == c.sessionID),
		}
		c.variant.DecorateParticipant(&p)
		ps = append(ps, p)
	}
	return ps
}

// SetCallAcceptor replaces the call acceptance policy. Nil restores
// DefaultCallAcceptor.
func (c *Client) SetCallAcceptor(a CallAcceptor) {
	if a == nil {
		a = DefaultCallAcceptor
	}
	c.mu.Lock()
	c.acceptor = a
	c.mu.Unlock()
}

// ifCurrent runs fn with the state locked when pc is the registered
// connection for id.
func (c *Client) ifCurrent(id string, pc *webrtc.PeerConnection, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registry.current(id, pc) {
		return false
	}
	fn()
	return true
}

func (c *Client) Config() signaling.ServerConfig { return c.cfg }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID is the relay-assigned id of the current or last session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantsLocked()
}

// PeerIDs returns the ids with a registered peer connection, sorted.
func (c *Client) PeerIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.ids()
}

func (c *Client) HasPeer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.has(id)
}

// PeerState returns the last observed connection state for id.
func (c *Client) PeerState(id string) (webrtc.PeerConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.registry.get(id)
	if e == nil {
		return webrtc.PeerConnectionStateUnknown, false
	}
	return e.state, true
}

func (c *Client) OnSignalingConnectionOpen(fn func(sessionID string)) (unsubscribe func()) {
	return c.signalingOpen.Subscribe(fn)
}

// OnSignalingConnectionClose fires when a joined relay session ends, with
// the disconnect reason.
func (c *Client) OnSignalingConnectionClose(fn func(reason string)) (unsubscribe func()) {
	return c.signalingClose.Subscribe(fn)
}

// OnSignalingConnectionError fires when Connect fails.
func (c *Client) OnSignalingConnectionError(fn func(err error)) (unsubscribe func()) {
	return c.signalingError.Subscribe(fn)
}

func (c *Client) OnRoomClientsChange(fn func([]Participant)) (unsubscribe func()) {
	return c.roomClients.Subscribe(fn)
}

func (c *Client) OnClientConnect(fn func(id string)) (unsubscribe func()) {
	return c.clientConnect.Subscribe(fn)
}

func (c *Client) OnClientDisconnect(fn func(id string)) (unsubscribe func()) {
	return c.clientDisconnect.Subscribe(fn)
}

// OnCallRejected fires when an outgoing call is refused by the acceptor or
// declined by the remote side.
func (c *Client) OnCallRejected(fn func(id string)) (unsubscribe func()) {
	return c.callRejected.Subscribe(fn)
}
