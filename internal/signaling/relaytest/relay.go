// Package relaytest provides an in-process teleoperation relay.
//
// The Relay speaks the same socket.io protocol and room brokering events as
// the production relay, which makes it usable both in tests and as a local
// development relay. Tests can also inject events and observe everything the
// relay receives.
package relaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/auth"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/socketio"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	writeTimeout        = 5 * time.Second
)

var ErrUnknownSession = errors.New("unknown session")

type Options struct {
	// TokenVerifier checks the "token" query parameter. Nil accepts any token.
	TokenVerifier auth.Verifier
	// AuthKey and AuthSecret, when both set, require the query parameter
	// AuthKey to equal AuthSecret.
	AuthKey    string
	AuthSecret string

	// RejectJoin makes join-room answer false for matching requests.
	RejectJoin func(signaling.JoinRoomRequest) bool

	PingInterval time.Duration
	PingTimeout  time.Duration

	Logger *slog.Logger
}

// Received is one event the relay received from a client.
type Received struct {
	From  string
	Event string
	Args  []json.RawMessage
}

// Relay is an http.Handler serving the socket.io endpoint on any path.
type Relay struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	received []Received
	notify   chan struct{}
}

type session struct {
	id     string
	ws     *websocket.Conn
	send   chan string
	done   chan struct{}
	once   sync.Once
	room   string
	client signaling.RoomClient
}

func New(opts Options) *Relay {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		opts:     opts,
		logger:   logger.With("component", "relaytest"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[string]*session),
		notify:   make(chan struct{}),
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("EIO") != "4" || q.Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	s := &session{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan string, 64),
		done: make(chan struct{}),
	}
	go r.writeLoop(s)

	s.enqueue(socketio.OpenFrame(s.id, r.opts.PingInterval.Milliseconds(), r.opts.PingTimeout.Milliseconds()))
	authErr := r.authorize(req)
	r.readLoop(s, authErr)
	r.drop(s)
}

func (r *Relay) authorize(req *http.Request) error {
	q := req.URL.Query()
	if r.opts.AuthKey != "" && r.opts.AuthSecret != "" {
		if err := (auth.SharedSecretVerifier{Expected: r.opts.AuthSecret}).Verify(q.Get(r.opts.AuthKey)); err != nil {
			return err
		}
	}
	if r.opts.TokenVerifier != nil {
		token, err := auth.CredentialFromQuery(q)
		if err != nil {
			return err
		}
		if err := r.opts.TokenVerifier.Verify(token); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) enqueue(frame string) {
	select {
	case s.send <- frame:
	case <-s.done:
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

func (r *Relay) writeLoop(s *session) {
	ping := time.NewTicker(r.opts.PingInterval)
	defer ping.Stop()
	for {
		var frame string
		select {
		case <-s.done:
			return
		case <-ping.C:
			frame = socketio.PingFrame
		case frame = <-s.send:
		}
		_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			s.close()
			return
		}
	}
}

func (r *Relay) readLoop(s *session, authErr error) {
	for {
		_ = s.ws.SetReadDeadline(time.Now().Add(r.opts.PingInterval + r.opts.PingTimeout))
		typ, msg, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		frame := string(msg)
		switch {
		case frame == socketio.PongFrame:
			continue
		case frame == socketio.PingFrame:
			s.enqueue(socketio.PongFrame)
			continue
		case frame == socketio.CloseFrame:
			return
		case !strings.HasPrefix(frame, "4"):
			continue
		}

		p, err := socketio.DecodePacket(frame[1:])
		if err != nil {
			r.logger.Debug("dropping malformed packet", "err", err)
			continue
		}
		switch p.Type {
		case socketio.PacketConnect:
			if authErr != nil {
				body, _ := json.Marshal(map[string]string{"message": authErr.Error()})
				s.enqueue(socketio.Packet{Type: socketio.PacketConnectError, Data: body}.Encode())
				continue
			}
			body, _ := json.Marshal(map[string]string{"sid": s.id})
			s.enqueue(socketio.Packet{Type: socketio.PacketConnect, Data: body}.Encode())
		case socketio.PacketDisconnect:
			return
		case socketio.PacketEvent:
			name, args, err := p.EventName()
			if err != nil {
				continue
			}
			r.record(Received{From: s.id, Event: name, Args: args})
			r.handleEvent(s, name, args, p.ID)
		}
	}
}

func (r *Relay) record(ev Received) {
	r.mu.Lock()
	r.received = append(r.received, ev)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

func (r *Relay) handleEvent(s *session, name string, args []json.RawMessage, ackID *uint64) {
	switch name {
	case signaling.EventJoinRoom:
		var req signaling.JoinRoomRequest
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &req)
		}
		ok := req.Room != "" && (r.opts.RejectJoin == nil || !r.opts.RejectJoin(req))
		if ackID != nil {
			var ack socketio.Packet
			if ok {
				ack, _ = socketio.AckPacket(*ackID, s.id)
			} else {
				ack, _ = socketio.AckPacket(*ackID, false)
			}
			s.enqueue(ack.Encode())
		}
		if !ok {
			return
		}
		r.mu.Lock()
		s.room = req.Room
		s.client = signaling.RoomClient{ID: s.id, Name: req.Name, Type: req.Type}
		r.sessions[s.id] = s
		r.mu.Unlock()
		r.broadcastRoomClients(req.Room)

	case signaling.EventCallAll:
		r.mu.Lock()
		ids := r.roomIDsLocked(s.room, s.id)
		r.mu.Unlock()
		r.sendTo(s, signaling.EventMakePeerCall, ids)

	case signaling.EventCallIDs:
		var ids []string
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &ids)
		}
		if ids == nil {
			ids = []string{}
		}
		r.sendTo(s, signaling.EventMakePeerCall, ids)

	case signaling.EventCallPeer:
		var msg signaling.CallPeer
		if len(args) > 0 && json.Unmarshal(args[0], &msg) == nil {
			offer := msg.Offer
			_ = r.Emit(msg.ToID, signaling.EventPeerCallReceived, signaling.PeerCallReceived{FromID: s.id, Offer: &offer})
		}

	case signaling.EventMakePeerCallReply:
		var msg signaling.PeerCallAnswer
		if len(args) > 0 && json.Unmarshal(args[0], &msg) == nil {
			_ = r.Emit(msg.ToID, signaling.EventPeerCallAnswerReceived, signaling.PeerCallAnswerReceived{FromID: s.id, Answer: msg.Answer})
		}

	case signaling.EventSendICECandidate:
		var msg signaling.SendICECandidate
		if len(args) > 0 && json.Unmarshal(args[0], &msg) == nil {
			_ = r.Emit(msg.ToID, signaling.EventICECandidateReceived, signaling.ICECandidateReceived{FromID: s.id, Candidate: msg.Candidate})
		}
	}
}

func (r *Relay) sendTo(s *session, event string, args ...any) {
	p, err := socketio.EventPacket(event, nil, args...)
	if err != nil {
		return
	}
	s.enqueue(p.Encode())
}

func (r *Relay) roomIDsLocked(room, except string) []string {
	ids := []string{}
	for id, s := range r.sessions {
		if s.room == room && id != except {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Relay) broadcastRoomClients(room string) {
	clients := r.Clients(room)
	r.mu.Lock()
	var targets []*session
	for _, s := range r.sessions {
		if s.room == room {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()
	for _, s := range targets {
		r.sendTo(s, signaling.EventRoomClients, clients)
	}
}

func (r *Relay) drop(s *session) {
	s.close()
	r.mu.Lock()
	_, ok := r.sessions[s.id]
	delete(r.sessions, s.id)
	room := s.room
	r.mu.Unlock()
	if ok {
		r.broadcastRoomClients(room)
	}
}

// Clients returns the joined members of room sorted by id.
func (r *Relay) Clients(room string) []signaling.RoomClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := []signaling.RoomClient{}
	for _, s := range r.sessions {
		if s.room == room {
			clients = append(clients, s.client)
		}
	}
	slices.SortFunc(clients, func(a, b signaling.RoomClient) int { return strings.Compare(a.ID, b.ID) })
	return clients
}

// Emit pushes an event to one joined session.
func (r *Relay) Emit(sessionID, event string, args ...any) error {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	r.sendTo(s, event, args...)
	return nil
}

// HangUpRoom asks every member of room to close its peer connections.
func (r *Relay) HangUpRoom(room string) {
	r.mu.Lock()
	var targets []*session
	for _, s := range r.sessions {
		if s.room == room {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()
	for _, s := range targets {
		r.sendTo(s, signaling.EventCloseAllPeerConnections)
	}
}

// Kick sends a server-side DISCONNECT to a session.
func (r *Relay) Kick(sessionID string) error {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	s.enqueue(socketio.Packet{Type: socketio.PacketDisconnect}.Encode())
	return nil
}

// Received returns a copy of every event received so far.
func (r *Relay) Received() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Received(nil), r.received...)
}

// WaitFor blocks until an event matching match has been received and returns
// the first such event.
func (r *Relay) WaitFor(ctx context.Context, match func(Received) bool) (Received, error) {
	for {
		r.mu.Lock()
		for _, ev := range r.received {
			if match(ev) {
				r.mu.Unlock()
				return ev, nil
			}
		}
		notify := r.notify
		r.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Received{}, ctx.Err()
		}
	}
}

// WaitForClients blocks until room has n joined members.
func (r *Relay) WaitForClients(ctx context.Context, room string, n int) ([]signaling.RoomClient, error) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if clients := r.Clients(room); len(clients) == n {
			return clients, nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
