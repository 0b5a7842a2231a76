package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	sendQueueSize           = 64
)

// Disconnect reasons reported to OnDisconnect handlers.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

var (
	// ErrClosed is returned when emitting on a connection that has
	// disconnected.
	ErrClosed = errors.New("socket.io connection closed")
)

// ConnectError is returned by Dial when the server refuses the namespace
// connection with a CONNECT_ERROR packet.
type ConnectError struct {
	Message string
	Data    json.RawMessage
}

func (e *ConnectError) Error() string {
	if e.Message == "" {
		return "socket.io connect error"
	}
	return "socket.io connect error: " + e.Message
}

// Handler receives the arguments of one event.
type Handler func(args []json.RawMessage)

// Options configures Dial.
type Options struct {
	// Auth is sent as the CONNECT packet payload when non-nil.
	Auth any
	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Logger *slog.Logger
}

// Conn is one socket.io connection on the default namespace.
//
// Event handlers run on the connection's read goroutine in arrival order and
// must not block.
type Conn struct {
	ws           *websocket.Conn
	engineID     string
	id           string
	pingInterval time.Duration
	pingTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	send    chan string
	closing chan struct{}
	done    chan struct{}

	mu           sync.Mutex
	nextHandler  uint64
	handlers     map[string]map[uint64]Handler
	onDisconnect map[uint64]func(reason string)
	nextAck      uint64
	acks         map[uint64]chan []json.RawMessage
	reason       string

	closeReq  sync.Once
	closeOnce sync.Once
}

// Dial opens the WebSocket transport at rawURL (see EndpointURL) and
// completes the Engine.IO and socket.io handshakes.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
		send:         make(chan string, sendQueueSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		handlers:     make(map[string]map[uint64]Handler),
		onDisconnect: make(map[uint64]func(string)),
		acks:         make(map[uint64]chan []json.RawMessage),
	}
	if err := c.handshake(ctx, opts); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Conn) handshake(ctx context.Context, opts Options) error {
	deadline := time.Now().Add(opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	_ = c.ws.SetWriteDeadline(deadline)

	// Unblock reads if ctx is canceled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	frame, err := c.readFrame()
	if err != nil {
		return handshakeErr(ctx, err)
	}
	if frame == "" || frame[0] != engineOpen {
		return fmt.Errorf("socket.io handshake: unexpected frame %q", truncate(frame))
	}
	var open openPayload
	if err := json.Unmarshal([]byte(frame[1:]), &open); err != nil {
		return fmt.Errorf("socket.io handshake: decode open packet: %w", err)
	}
	c.engineID = open.SID
	c.pingInterval = time.Duration(open.PingInterval) * time.Millisecond
	c.pingTimeout = time.Duration(open.PingTimeout) * time.Millisecond

	connect := Packet{Type: PacketConnect}
	if opts.Auth != nil {
		data, err := json.Marshal(opts.Auth)
		if err != nil {
			return fmt.Errorf("socket.io handshake: encode auth: %w", err)
		}
		connect.Data = data
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(connect.Encode())); err != nil {
		return handshakeErr(ctx, err)
	}

	for {
		frame, err := c.readFrame()
		if err != nil {
			return handshakeErr(ctx, err)
		}
		switch {
		case frame == PingFrame:
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(PongFrame)); err != nil {
				return handshakeErr(ctx, err)
			}
			continue
		case frame == "" || frame[0] != engineMessage:
			continue
		}
		p, err := DecodePacket(frame[1:])
		if err != nil {
			return fmt.Errorf("socket.io handshake: %w", err)
		}
		switch p.Type {
		case PacketConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &ack); err != nil {
					return fmt.Errorf("socket.io handshake: decode connect packet: %w", err)
				}
			}
			c.id = ack.SID
			_ = c.ws.SetReadDeadline(time.Time{})
			_ = c.ws.SetWriteDeadline(time.Time{})
			return nil
		case PacketConnectError:
			ce := &ConnectError{Data: p.Data}
			var body struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(p.Data, &body) == nil {
				ce.Message = body.Message
			} else {
				_ = json.Unmarshal(p.Data, &ce.Message)
			}
			return ce
		}
	}
}

func handshakeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("socket.io handshake: %w", context.DeadlineExceeded)
	}
	return fmt.Errorf("socket.io handshake: %w", err)
}

func (c *Conn) readFrame() (string, error) {
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(msg), nil
		}
	}
}

// ID returns the socket.io session id assigned by the server.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection has disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Reason returns the disconnect reason, or "" while connected.
func (c *Conn) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// On registers h for event and returns a function that removes it.
func (c *Conn) On(event string, h Handler) (off func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	m := c.handlers[event]
	if m == nil {
		m = make(map[uint64]Handler)
		c.handlers[event] = m
	}
	m[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

// OnDisconnect registers fn to run once when the connection terminates. If
// the connection has already terminated fn is not called.
func (c *Conn) OnDisconnect(fn func(reason string)) (off func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.onDisconnect[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.onDisconnect, id)
		c.mu.Unlock()
	}
}

// Emit sends an event without requesting an acknowledgement.
func (c *Conn) Emit(event string, args ...any) error {
	p, err := EventPacket(event, nil, args...)
	if err != nil {
		return err
	}
	return c.enqueue(p.Encode())
}

// EmitWithAck sends an event and waits for the server's acknowledgement.
func (c *Conn) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	ch := make(chan []json.RawMessage, 1)
	c.mu.Lock()
	id := c.nextAck
	c.nextAck++
	c.acks[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
	}()

	p, err := EventPacket(event, &id, args...)
	if err != nil {
		return nil, err
	}
	if err := c.enqueue(p.Encode()); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) enqueue(frame string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close sends a DISCONNECT packet and closes the transport. It is safe to
// call more than once, including from a handler.
func (c *Conn) Close() error {
	c.closeReq.Do(func() { close(c.closing) })
	select {
	case <-c.done:
	case <-time.After(c.writeTimeout):
		c.terminate(ReasonClientDisconnect)
	}
	return nil
}

func (c *Conn) terminate(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		handlers := make([]func(string), 0, len(c.onDisconnect))
		for _, fn := range c.onDisconnect {
			handlers = append(handlers, fn)
		}
		c.onDisconnect = map[uint64]func(string){}
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()

		c.logger.Debug("socket.io disconnected", "sid", c.id, "reason", reason)
		for _, fn := range handlers {
			fn(reason)
		}
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.ws.WriteMessage(websocket.TextMessage, []byte(Packet{Type: PacketDisconnect}.Encode()))
			c.terminate(ReasonClientDisconnect)
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				c.terminate(ReasonTransportError)
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		if c.pingInterval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout))
		}
		frame, err := c.readFrame()
		if err != nil {
			c.terminate(readErrReason(err))
			return
		}
		if frame == "" {
			continue
		}
		switch frame[0] {
		case enginePing:
			if err := c.enqueue(PongFrame); err != nil {
				return
			}
		case engineClose:
			c.terminate(ReasonTransportClose)
			return
		case engineMessage:
			if c.handleMessage(frame[1:]) {
				return
			}
		}
	}
}

func readErrReason(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonPingTimeout
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonTransportClose
	}
	return ReasonTransportError
}

// handleMessage reports whether the connection terminated.
func (c *Conn) handleMessage(s string) bool {
	p, err := DecodePacket(s)
	if err != nil {
		c.logger.Debug("socket.io dropping malformed packet", "err", err)
		return false
	}
	switch p.Type {
	case PacketEvent:
		name, args, err := p.EventName()
		if err != nil {
			c.logger.Debug("socket.io dropping malformed event", "err", err)
			return false
		}
		c.dispatch(name, args)
		if p.ID != nil {
			ack, _ := AckPacket(*p.ID)
			_ = c.enqueue(ack.Encode())
		}
	case PacketAck:
		if p.ID == nil {
			return false
		}
		args, err := p.Args()
		if err != nil {
			c.logger.Debug("socket.io dropping malformed ack", "err", err)
			return false
		}
		c.mu.Lock()
		ch := c.acks[*p.ID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- args:
			default:
			}
		}
	case PacketDisconnect:
		c.terminate(ReasonServerDisconnect)
		return true
	case PacketBinaryEvent, PacketBinaryAck:
		c.logger.Debug("socket.io binary packets are not supported", "type", p.Type.String())
	}
	return false
}

func (c *Conn) dispatch(event string, args []json.RawMessage) {
	c.mu.Lock()
	m := c.handlers[event]
	hs := make([]Handler, 0, len(m))
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		hs = append(hs, m[id])
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(args)
	}
}

// EndpointURL builds the WebSocket transport URL for a relay base URL.
//
// http and https are mapped to ws and wss. The path keeps everything before a
// trailing "/socket.io" and always ends in "/socket.io/". Any query in query
// is appended after the Engine.IO parameters.
func EndpointURL(base string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url %q: missing host", base)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/socket.io") {
		path += "/socket.io"
	}
	u.Path = path + "/"
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
