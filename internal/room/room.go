// Package room runs the session logic of one relay room on top of an
// rtcclient variant.
//
// A controller owns at most one client at a time. It projects the client's
// membership and transport events into a Session, starts calls once the room
// is full, and keeps a resume marker so a restarted console picks up the
// configuration it last used for the room.
package room

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/resume"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// Room types advertised by a robot service.
const (
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeLocalRTC = "local_rtc"
	TypeText     = "text"
	TypeBinary   = "binary"
)

// Defaults applied to a configuration that is neither busy nor resumed.
const (
	DefaultURL           = "ws://localhost:8080"
	DefaultRole          = "guest"
	DefaultName          = "Undefined"
	DefaultRoom          = "teleop"
	DefaultOperatorToken = "kubeedge"
	DefaultGrace         = 5 * time.Minute
)

// Names of the placeholder participants added for transports that arrive
// before the relay lists their owner.
const (
	placeholderName        = "control"
	placeholderStream      = "stream"
	placeholderDataChannel = "datachannel"
)

var (
	ErrNotStarted     = errors.New("room session not started")
	ErrAlreadyStarted = errors.New("room session already started")
)

// Participant is a room member as seen by the controller.
type Participant struct {
	rtcclient.Participant
	InCall bool
}

// Session is a snapshot of a controller's room state.
type Session struct {
	RoomID   string
	RoomName string
	RoomType string
	// SessionID is the relay session id of this console in the room.
	SessionID string
	Active    bool
	InCall    bool
	// Participants counts ParticipantList.
	Participants    int
	InCallCount     int
	ParticipantList []Participant
}

// Controller is the lifecycle shared by the stream and data controllers.
type Controller interface {
	Start(ctx context.Context, cfg signaling.ServerConfig) error
	// Exit stashes the running configuration for resume and destroys the
	// session.
	Exit(ctx context.Context)
	Destroy()
	Session() Session
	Config() (signaling.ServerConfig, bool)
	CallAll() error
	HangUpAll() error
}

type Options struct {
	// Store holds busy markers and stashed configurations. Nil disables
	// resume; defaults are still applied.
	Store resume.Store
	// OperatorToken keys stashed configurations. Empty uses
	// DefaultOperatorToken.
	OperatorToken string
	// Grace is how long a stashed configuration stays loadable. Zero uses
	// DefaultGrace.
	Grace time.Duration
	// CallAcceptor overrides rtcclient.DefaultCallAcceptor.
	CallAcceptor rtcclient.CallAcceptor

	RTC     rtcclient.Options
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// client is the rtcclient surface a controller subscribes to.
type client interface {
	Connect(ctx context.Context) error
	Close()
	CallAll() error
	HangUpAll()
	UpdateRoomClients()
	SessionID() string
	SetCallAcceptor(rtcclient.CallAcceptor)
	OnSignalingConnectionClose(func(reason string)) (unsubscribe func())
	OnSignalingConnectionError(func(err error)) (unsubscribe func())
	OnRoomClientsChange(func([]rtcclient.Participant)) (unsubscribe func())
	OnClientConnect(func(id string)) (unsubscribe func())
	OnClientDisconnect(func(id string)) (unsubscribe func())
}

// core holds the state and lifecycle common to every controller. The
// concrete controllers guard their own fields with mu as well.
type core struct {
	kind    string
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	client   client
	cfg      signaling.ServerConfig
	session  Session
	members  []rtcclient.Participant
	inCall   map[string]bool
	extras   map[string]Participant
	unsubs   []func()
	busyRoom string
	exit     func(context.Context)
	// reset clears the concrete controller's fields. It runs with mu held.
	reset func()
}

func newCore(kind string, opts Options) *core {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.OperatorToken == "" {
		opts.OperatorToken = DefaultOperatorToken
	}
	if opts.RTC.Logger == nil {
		opts.RTC.Logger = logger
	}
	if opts.RTC.Metrics == nil {
		opts.RTC.Metrics = opts.Metrics
	}
	return &core{
		kind:    kind,
		opts:    opts,
		logger:  logger.With("component", "room", "kind", kind),
		metrics: opts.Metrics,
		inCall:  make(map[string]bool),
		extras:  make(map[string]Participant),
	}
}

// buildFunc creates the variant client for cfg and subscribes the concrete
// controller's own observers, returning their unsubscribe handles.
type buildFunc func(ctx context.Context, cfg signaling.ServerConfig) (client, []func(), error)

func (c *core) start(ctx context.Context, cfg signaling.ServerConfig, build buildFunc) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	cfg = c.configure(ctx, cfg)
	logger := c.logger.With("room", cfg.Room)

	cl, unsubs, err := build(ctx, cfg)
	if err != nil {
		c.releaseBusy()
		return err
	}
	acceptor := c.opts.CallAcceptor
	if acceptor == nil {
		acceptor = rtcclient.DefaultCallAcceptor
	}
	cl.SetCallAcceptor(acceptor)

	unsubs = append(unsubs,
		cl.OnRoomClientsChange(func(ps []rtcclient.Participant) { c.roomClientsChanged(cl, ps) }),
		cl.OnClientConnect(func(id string) { c.clientConnected(cl, id) }),
		cl.OnClientDisconnect(func(id string) { c.clientDisconnected(cl, id) }),
		cl.OnSignalingConnectionClose(func(reason string) {
			logger.Info("signaling connection closed", "reason", reason)
			c.destroyClient(cl)
		}),
		cl.OnSignalingConnectionError(func(err error) {
			logger.Error("signaling connection failed", "err", err)
			c.destroyClient(cl)
		}),
	)

	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		cl.Close()
		return ErrAlreadyStarted
	}
	c.client = cl
	c.cfg = cfg
	c.unsubs = unsubs
	c.session = Session{
		RoomID:   cfg.RoomID,
		RoomName: cfg.Room,
		RoomType: cfg.Type,
		Active:   true,
	}
	c.mu.Unlock()

	logger.Info("starting room session", "url", cfg.URL, "role", cfg.Role)
	if err := cl.Connect(ctx); err != nil {
		c.destroyClient(cl)
		return err
	}

	c.mu.Lock()
	if c.client == cl {
		c.session.SessionID = cl.SessionID()
	}
	c.mu.Unlock()
	return nil
}

func resumeRoom(cfg signaling.ServerConfig) string {
	if cfg.Room != "" {
		return cfg.Room
	}
	return DefaultRoom
}

// configure resolves the configuration a session starts with. A busy room
// keeps cfg as given. Otherwise the room is marked busy and a stashed
// configuration is restored, or the defaults fill in cfg; the exit handler
// stashes the result again.
func (c *core) configure(ctx context.Context, cfg signaling.ServerConfig) signaling.ServerConfig {
	store := c.opts.Store
	if store == nil {
		return withDefaults(cfg)
	}
	room := resumeRoom(cfg)
	logger := c.logger.With("room", room)

	acquired, err := store.Acquire(ctx, room)
	if err != nil {
		logger.Warn("resume store unavailable", "err", err)
		return withDefaults(cfg)
	}
	if !acquired {
		logger.Info("room busy; keeping configuration")
		return cfg
	}

	key := resume.StashKey(room, c.opts.OperatorToken)
	stashed, err := store.Load(ctx, key)
	switch {
	case err == nil:
		logger.Info("resumed stashed configuration")
		cfg = stashed
	case errors.Is(err, resume.ErrNotFound):
		cfg = withDefaults(cfg)
	default:
		logger.Warn("load stashed configuration", "err", err)
		cfg = withDefaults(cfg)
	}

	final := cfg
	grace := c.opts.Grace
	c.mu.Lock()
	c.busyRoom = room
	c.exit = func(ctx context.Context) {
		if err := store.Stash(ctx, key, final, grace); err != nil {
			logger.Warn("stash configuration", "err", err)
		}
		if err := store.Release(ctx, room); err != nil {
			logger.Warn("release room", "err", err)
		}
	}
	c.mu.Unlock()
	return cfg
}

// withDefaults fills the fields a fresh session needs. RoomID and Type are
// kept as given.
func withDefaults(cfg signaling.ServerConfig) signaling.ServerConfig {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = []webrtc.ICEServer{}
	}
	if cfg.Role == "" {
		cfg.Role = DefaultRole
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Data == nil {
		cfg.Data = map[string]string{}
	}
	if cfg.Room == "" {
		cfg.Room = DefaultRoom
	}
	return cfg
}

func (c *core) roomClientsChanged(cl client, ps []rtcclient.Participant) {
	c.mu.Lock()
	if c.client != cl {
		c.mu.Unlock()
		return
	}
	c.members = ps
	c.rebuildLocked()
	call := len(ps) >= 2 && !c.session.InCall
	if call {
		c.session.InCall = true
	}
	room := c.session.RoomName
	c.mu.Unlock()

	if call {
		c.logger.Debug("room full; calling all", "room", room, "participants", len(ps))
		if err := cl.CallAll(); err != nil {
			c.logger.Warn("call all", "err", err)
		}
	}
}

func (c *core) clientConnected(cl client, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != cl {
		return
	}
	c.session.InCallCount++
	c.session.InCall = true
	c.inCall[id] = true
	c.rebuildLocked()
}

func (c *core) clientDisconnected(cl client, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != cl {
		return
	}
	if c.session.InCallCount > 0 {
		c.session.InCallCount--
	} else {
		c.metrics.Inc(metrics.InCallCounterClamps)
		c.logger.Warn("disconnect without matching connect", "peer", id)
	}
	c.session.InCall = false
	delete(c.inCall, id)
	delete(c.extras, id)
	c.rebuildLocked()
}

// markInCallLocked records that a transport for id arrived, adding a
// placeholder participant when the relay has not listed id.
func (c *core) markInCallLocked(id, transport string) {
	c.inCall[id] = true
	known := slices.ContainsFunc(c.members, func(p rtcclient.Participant) bool { return p.ID == id })
	if !known {
		c.extras[id] = Participant{
			Participant: rtcclient.Participant{ID: id, Name: placeholderName, Type: transport},
			InCall:      true,
		}
	}
	c.rebuildLocked()
}

func (c *core) rebuildLocked() {
	list := make([]Participant, 0, len(c.members)+len(c.extras))
	listed := make(map[string]bool, len(c.members))
	for _, m := range c.members {
		listed[m.ID] = true
		list = append(list, Participant{
			Participant: m,
			InCall:      c.inCall[m.ID] || m.Stream != nil || m.DataChannel != nil,
		})
	}
	for _, id := range slices.Sorted(maps.Keys(c.extras)) {
		if listed[id] {
			delete(c.extras, id)
			continue
		}
		list = append(list, c.extras[id])
	}
	c.session.ParticipantList = list
	c.session.Participants = len(list)
}

// current reports whether cl is the running client.
func (c *core) current(cl client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client == cl
}

func (c *core) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.ParticipantList = slices.Clone(c.session.ParticipantList)
	return s
}

// Config returns the configuration of the running session.
func (c *core) Config() (signaling.ServerConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.client != nil
}

func (c *core) CallAll() error {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return ErrNotStarted
	}
	return cl.CallAll()
}

func (c *core) HangUpAll() error {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return ErrNotStarted
	}
	cl.HangUpAll()
	cl.UpdateRoomClients()
	return nil
}

func (c *core) Exit(ctx context.Context) {
	c.mu.Lock()
	exit := c.exit
	c.exit = nil
	c.busyRoom = ""
	c.mu.Unlock()
	if exit != nil {
		exit(ctx)
	}
	c.Destroy()
}

// Destroy drops the exit handler without running it, zeroes the session and
// closes the client. It is safe to call more than once.
func (c *core) Destroy() {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	c.destroyClient(cl)
	c.releaseBusy()
}

// destroyClient tears the session down when cl is still the running client.
// A nil cl only clears leftover state.
func (c *core) destroyClient(cl client) {
	c.mu.Lock()
	if c.client != cl {
		c.mu.Unlock()
		return
	}
	unsubs := c.unsubs
	c.unsubs = nil
	c.client = nil
	c.cfg = signaling.ServerConfig{}
	c.session = Session{}
	c.members = nil
	clear(c.inCall)
	clear(c.extras)
	c.exit = nil
	if c.reset != nil {
		c.reset()
	}
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if cl != nil {
		cl.Close()
		c.logger.Info("room session destroyed")
	}
	c.releaseBusy()
}

func (c *core) releaseBusy() {
	c.mu.Lock()
	room := c.busyRoom
	c.busyRoom = ""
	c.exit = nil
	c.mu.Unlock()
	if room == "" || c.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.opts.Store.Release(ctx, room); err != nil {
		c.logger.Warn("release room", "room", room, "err", err)
	}
}
