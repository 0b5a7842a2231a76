package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/auth"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/socketio"
)

const defaultConnectTimeout = 20 * time.Second

// Handlers receive relay events. They run on the channel's read goroutine in
// arrival order and must return promptly. Nil handlers are skipped.
type Handlers struct {
	RoomClients             func([]RoomClient)
	MakePeerCall            func(ids []string)
	PeerCallReceived        func(PeerCallReceived)
	PeerCallAnswerReceived  func(PeerCallAnswerReceived)
	ICECandidateReceived    func(ICECandidateReceived)
	CloseAllPeerConnections func()
	// Disconnect fires at most once when the relay connection is lost. It
	// does not fire after Close.
	Disconnect func(reason string)
}

type Options struct {
	Credentials auth.RelayCredentials
	// ConnectTimeout bounds dialing and the join-room acknowledgement.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Channel is a joined relay connection.
type Channel struct {
	conn      *socketio.Conn
	sessionID string
	logger    *slog.Logger

	mu     sync.Mutex
	offs   []func()
	closed bool
}

// Connect dials the relay for cfg, installs h, and joins the room. It
// returns once the relay has acknowledged membership.
//
// Every failure is a *ConnectionError; a refused join wraps ErrJoinRejected.
func Connect(ctx context.Context, cfg ServerConfig, h Handlers, opts Options) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	query, err := opts.Credentials.Query(cfg.Token, auth.RelayClaims{Operator: cfg.Name, Room: cfg.Room})
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	endpoint, err := socketio.EndpointURL(cfg.URL, query)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := socketio.Dial(ctx, endpoint, socketio.Options{HandshakeTimeout: timeout, Logger: logger})
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	logger.Debug("relay connected", "room", cfg.Room, "sid", conn.ID())

	c := &Channel{conn: conn, logger: logger}
	c.install(h)

	ack, err := conn.EmitWithAck(ctx, EventJoinRoom, cfg.JoinRequest())
	if err != nil {
		c.Close()
		return nil, &ConnectionError{Op: EventJoinRoom, Err: err}
	}
	sessionID, ok := joinSessionID(ack, conn.ID())
	logger.Info("relay join-room acknowledged", "room", cfg.Room, "joined", ok, "session_id", sessionID)
	if !ok {
		c.Close()
		return nil, &ConnectionError{Op: EventJoinRoom, Err: ErrJoinRejected}
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return c, nil
}

// joinSessionID interprets the join-room acknowledgement: a session id string
// on success, false (or nothing) on rejection.
func joinSessionID(ack []json.RawMessage, fallback string) (string, bool) {
	if len(ack) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(ack[0], &id); err == nil {
		return id, id != ""
	}
	var joined bool
	if err := json.Unmarshal(ack[0], &joined); err == nil && joined && fallback != "" {
		return fallback, true
	}
	return "", false
}

func (c *Channel) install(h Handlers) {
	on := func(event string, fn func(args []json.RawMessage)) {
		c.offs = append(c.offs, c.conn.On(event, fn))
	}

	if h.RoomClients != nil {
		on(EventRoomClients, func(args []json.RawMessage) {
			var clients []RoomClient
			if c.decode(EventRoomClients, args, &clients) {
				h.RoomClients(clients)
			}
		})
	}
	if h.MakePeerCall != nil {
		on(EventMakePeerCall, func(args []json.RawMessage) {
			var ids []string
			if c.decode(EventMakePeerCall, args, &ids) {
				h.MakePeerCall(ids)
			}
		})
	}
	if h.PeerCallReceived != nil {
		on(EventPeerCallReceived, func(args []json.RawMessage) {
			var msg PeerCallReceived
			if c.decode(EventPeerCallReceived, args, &msg) {
				h.PeerCallReceived(msg)
			}
		})
	}
	if h.PeerCallAnswerReceived != nil {
		on(EventPeerCallAnswerReceived, func(args []json.RawMessage) {
			var msg PeerCallAnswerReceived
			if c.decode(EventPeerCallAnswerReceived, args, &msg) {
				h.PeerCallAnswerReceived(msg)
			}
		})
	}
	if h.ICECandidateReceived != nil {
		on(EventICECandidateReceived, func(args []json.RawMessage) {
			var msg ICECandidateReceived
			if c.decode(EventICECandidateReceived, args, &msg) {
				h.ICECandidateReceived(msg)
			}
		})
	}
	if h.CloseAllPeerConnections != nil {
		on(EventCloseAllPeerConnections, func([]json.RawMessage) {
			h.CloseAllPeerConnections()
		})
	}
	if h.Disconnect != nil {
		c.offs = append(c.offs, c.conn.OnDisconnect(func(reason string) {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				h.Disconnect(reason)
			}
		}))
	}
}

func (c *Channel) decode(event string, args []json.RawMessage, v any) bool {
	if len(args) == 0 {
		c.logger.Debug("relay event without payload", "event", event)
		return false
	}
	if err := json.Unmarshal(args[0], v); err != nil {
		c.logger.Debug("relay event with malformed payload", "event", event, "err", err)
		return false
	}
	return true
}

// SessionID is the relay-assigned id of this participant.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Done is closed once the underlying connection has terminated.
func (c *Channel) Done() <-chan struct{} { return c.conn.Done() }

func (c *Channel) CallAll() error {
	return c.emit(EventCallAll)
}

func (c *Channel) CallIDs(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return c.emit(EventCallIDs, ids)
}

func (c *Channel) CallPeer(toID string, offer SessionDescription) error {
	return c.emit(EventCallPeer, CallPeer{ToID: toID, Offer: offer})
}

// AnswerCall replies to an offer; a nil answer declines.
func (c *Channel) AnswerCall(toID string, answer *SessionDescription) error {
	return c.emit(EventMakePeerCallReply, PeerCallAnswer{ToID: toID, Answer: answer})
}

func (c *Channel) SendICECandidate(toID string, candidate *Candidate) error {
	return c.emit(EventSendICECandidate, SendICECandidate{ToID: toID, Candidate: candidate})
}

func (c *Channel) emit(event string, args ...any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := c.conn.Emit(event, args...); err != nil {
		if errors.Is(err, socketio.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close removes the handlers and disconnects. It is safe to call more than
// once and from a handler.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	offs := c.offs
	c.offs = nil
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
	_ = c.conn.Close()
}
