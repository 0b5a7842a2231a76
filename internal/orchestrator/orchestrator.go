// Package orchestrator opens one room session per room a robot service
// advertises.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/room"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// Kind is the controller variant a room type maps to.
type Kind int

const (
	KindStream Kind = iota + 1
	KindLocalRTC
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindLocalRTC:
		return room.TypeLocalRTC
	case KindData:
		return "datachannel"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrUnknownRoom    = errors.New("unknown room")
	ErrStopped        = errors.New("orchestrator stopped while starting")
)

type UnsupportedRoomTypeError struct {
	Room string
	Type string
}

func (e *UnsupportedRoomTypeError) Error() string {
	return fmt.Sprintf("room %q: room type %q is not supported", e.Room, e.Type)
}

// Classify maps a room type to its controller kind.
func Classify(name, roomType string) (Kind, error) {
	switch roomType {
	case room.TypeVideo, room.TypeAudio:
		return KindStream, nil
	case room.TypeLocalRTC:
		return KindLocalRTC, nil
	case room.TypeText, room.TypeBinary:
		return KindData, nil
	default:
		return 0, &UnsupportedRoomTypeError{Room: name, Type: roomType}
	}
}

// ControllerFactory builds the controller for one classified room.
type ControllerFactory func(kind Kind, rd RoomData) room.Controller

type Options struct {
	// ServiceURL maps a service id to its relay URL.
	ServiceURL func(service string) string
	// ICEServers are used for robots whose descriptor lists none.
	ICEServers []webrtc.ICEServer

	Room   room.Options
	Data   room.DataOptions
	Stream room.StreamOptions
	// LocalSource feeds local_rtc rooms.
	LocalSource room.MediaSource

	// MaxConcurrentStarts bounds how many rooms start at once. Zero starts
	// every room at once.
	MaxConcurrentStarts int
	// NewController overrides the default controller construction.
	NewController ControllerFactory

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator owns the controllers of one robot, keyed by lower-cased room
// name.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	robot   Robot
	rooms   map[string]entry

	// stops counts Stop calls; a Start that overlaps one discards its rooms.
	stops uint64
}

type entry struct {
	controller room.Controller
	cfg        signaling.ServerConfig
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Room.Logger == nil {
		opts.Room.Logger = logger
	}
	if opts.Room.Metrics == nil {
		opts.Room.Metrics = opts.Metrics
	}
	o := &Orchestrator{
		opts:   opts,
		logger: logger.With("component", "orchestrator"),
		rooms:  make(map[string]entry),
	}
	if o.opts.NewController == nil {
		o.opts.NewController = o.newController
	}
	return o
}

func (o *Orchestrator) newController(kind Kind, _ RoomData) room.Controller {
	switch kind {
	case KindLocalRTC:
		so := o.opts.Stream
		so.CanSendStream = true
		so.Source = o.opts.LocalSource
		return room.NewStreamController(so, o.opts.Room)
	case KindData:
		return room.NewDataController(o.opts.Data, o.opts.Room)
	default:
		so := o.opts.Stream
		so.CanSendStream = false
		return room.NewStreamController(so, o.opts.Room)
	}
}

// RoomConfig is the signaling configuration a robot room is joined with.
func (o *Orchestrator) RoomConfig(robot Robot, nr NamedRoom) signaling.ServerConfig {
	var url string
	if o.opts.ServiceURL != nil {
		url = o.opts.ServiceURL(robot.Service)
	}
	ice := robot.ICEServers
	if len(ice) == 0 {
		ice = o.opts.ICEServers
	}
	return signaling.ServerConfig{
		URL:        url,
		Token:      robot.Token,
		Name:       robot.Control,
		ICEServers: ice,
		RoomID:     nr.Data.RoomID,
		Room:       nr.Name,
		Type:       nr.Data.RoomType,
		Role:       nr.Data.Role,
	}
}

type startResult struct {
	key string
	entry
	err error
}

// Start opens a session for every supported room of robot. Rooms start
// concurrently; unsupported rooms are skipped. Rooms that fail to start are
// reported in the returned error and not kept.
func (o *Orchestrator) Start(ctx context.Context, robot Robot) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.robot = robot
	stops := o.stops
	o.mu.Unlock()

	var g errgroup.Group
	if o.opts.MaxConcurrentStarts > 0 {
		g.SetLimit(o.opts.MaxConcurrentStarts)
	}
	results := make([]startResult, len(robot.Rooms))
	for i, nr := range robot.Rooms {
		kind, err := Classify(nr.Name, nr.Data.RoomType)
		if err != nil {
			o.opts.Metrics.Inc(metrics.RoomsSkipped)
			o.logger.Warn("skipping room", "room", nr.Name, "err", err)
			continue
		}
		cfg := o.RoomConfig(robot, nr)
		c := o.opts.NewController(kind, nr.Data)
		key := strings.ToLower(nr.Name)
		g.Go(func() error {
			o.logger.Debug("starting room", "room", nr.Name, "kind", kind.String())
			err := c.Start(ctx, cfg)
			if err != nil {
				err = fmt.Errorf("start room %q: %w", nr.Name, err)
			}
			results[i] = startResult{key: key, entry: entry{controller: c, cfg: cfg}, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	var replaced, late []room.Controller
	o.mu.Lock()
	stopped := o.stops != stops
	for _, r := range results {
		switch {
		case r.controller == nil:
		case r.err != nil:
			errs = append(errs, r.err)
		case stopped:
			late = append(late, r.controller)
		default:
			if prev, ok := o.rooms[r.key]; ok {
				o.logger.Warn("duplicate room name; replacing session", "room", r.key)
				replaced = append(replaced, prev.controller)
			}
			o.rooms[r.key] = r.entry
		}
	}
	n := len(o.rooms)
	o.mu.Unlock()
	for _, c := range replaced {
		c.Destroy()
	}
	if stopped {
		exitCtx := context.WithoutCancel(ctx)
		for _, c := range late {
			c.Exit(exitCtx)
		}
		o.logger.Info("robot stopped while rooms were starting", "robot", robot.ID, "rooms", len(late))
		return errors.Join(append([]error{ErrStopped}, errs...)...)
	}

	o.logger.Info("robot rooms started", "robot", robot.ID, "service", robot.Service, "rooms", n, "failed", len(errs))
	return errors.Join(errs...)
}

// Stop exits every room session concurrently, stashing each configuration for
// resume, and forgets them.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	rooms := o.rooms
	o.rooms = make(map[string]entry)
	o.started = false
	o.robot = Robot{}
	o.stops++
	o.mu.Unlock()

	var g errgroup.Group
	for _, e := range rooms {
		g.Go(func() error {
			e.controller.Exit(ctx)
			return nil
		})
	}
	_ = g.Wait()
	o.logger.Info("robot rooms stopped", "rooms", len(rooms))
}

// Restart starts the session of a room again with the configuration it was
// first started with. The relay session is never resumed automatically; this
// is the operator's way back after a disconnect.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	o.mu.Lock()
	e, ok := o.rooms[strings.ToLower(name)]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
	return e.controller.Start(ctx, e.cfg)
}

// Get returns the controller of a room by case-insensitive name.
func (o *Orchestrator) Get(name string) (room.Controller, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.rooms[strings.ToLower(name)]
	return e.controller, ok
}

// Names returns the lower-cased names of the rooms with a session, sorted.
func (o *Orchestrator) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.rooms))
	for name := range o.rooms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Robot returns the robot being served and whether Start has run.
func (o *Orchestrator) Robot() (Robot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.robot, o.started
}
