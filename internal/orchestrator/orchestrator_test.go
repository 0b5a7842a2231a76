package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/room"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

const robotYAML = `
id: robot-1
name: Arm
type: manipulator
service: svc-42
service_status: active
token: secret
status: ONLINE
control: console
iceServers:
  - urls: ["stun:stun.example:3478"]
rooms:
  Front_Camera:
    room_id: r1
    room_name: Front_Camera
    room_type: video
    max_users: 2
  teleop: '{"room_id":"r2","room_name":"Teleop","room_type":"text","max_users":2,"role":"admin"}'
  lidar:
    room_id: r3
    room_name: lidar
    room_type: pointcloud
  local:
    room_id: r4
    room_name: local
    room_type: local_rtc
`

func TestParseRobot_MappingWithEncodedRooms(t *testing.T) {
	r, err := ParseRobot([]byte(robotYAML))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	if r.Status != "online" {
		t.Fatalf("Status=%q, want online", r.Status)
	}
	if len(r.ICEServers) != 1 || len(r.ICEServers[0].URLs) != 1 || r.ICEServers[0].URLs[0] != "stun:stun.example:3478" {
		t.Fatalf("ICEServers=%+v", r.ICEServers)
	}
	if len(r.Rooms) != 4 {
		t.Fatalf("len(Rooms)=%d, want 4", len(r.Rooms))
	}
	wantNames := []string{"Front_Camera", "Teleop", "lidar", "local"}
	for i, want := range wantNames {
		if r.Rooms[i].Name != want {
			t.Fatalf("Rooms[%d].Name=%q, want %q", i, r.Rooms[i].Name, want)
		}
	}
	if got := r.Rooms[1].Data; got.RoomID != "r2" || got.Role != "admin" || got.RoomType != "text" {
		t.Fatalf("encoded room=%+v", got)
	}
}

func TestParseRobot_SequenceAndFilter(t *testing.T) {
	r, err := ParseRobot([]byte(`
service: svc
service_status: stopped
status: online
filter_rooms: true
camera:
  - camera_id: c1
    camera_name: front
rooms:
  - {room_id: a, room_name: front, room_type: video}
  - {room_id: b, room_name: rear, room_type: video}
  - {room_id: c, room_name: mic, room_type: audio}
  - {room_id: d, room_name: point_cloud, room_type: binary}
  - {room_id: e, room_name: control, room_type: text}
`))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	if r.Status != "stopped" {
		t.Fatalf("Status=%q, want stopped for an inactive service", r.Status)
	}
	var names []string
	for _, nr := range r.Rooms {
		names = append(names, nr.Name)
	}
	if len(names) != 2 || names[0] != "front" || names[1] != "control" {
		t.Fatalf("filtered rooms=%v, want [front control]", names)
	}
}

func TestParseRobot_RejectsBadRooms(t *testing.T) {
	for _, doc := range []string{
		"rooms: 3",
		"rooms:\n  a: '{not json'",
		"iceServers:\n  - urls: [\"turn:turn.example:3478\"]",
	} {
		if _, err := ParseRobot([]byte(doc)); err == nil {
			t.Fatalf("ParseRobot(%q) succeeded", doc)
		}
	}
	r, err := ParseRobot([]byte("rooms: null"))
	if err != nil || r.Rooms != nil {
		t.Fatalf("null rooms: rooms=%v err=%v", r.Rooms, err)
	}
}

func TestLoadRobotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	if err := os.WriteFile(path, []byte(robotYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := LoadRobotFile(path)
	if err != nil {
		t.Fatalf("LoadRobotFile: %v", err)
	}
	if r.ID != "robot-1" || r.Service != "svc-42" {
		t.Fatalf("robot=%+v", r)
	}
	if _, err := LoadRobotFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadRobotFile(missing) succeeded")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"video":     KindStream,
		"audio":     KindStream,
		"local_rtc": KindLocalRTC,
		"text":      KindData,
		"binary":    KindData,
	}
	for typ, want := range cases {
		got, err := Classify("r", typ)
		if err != nil || got != want {
			t.Fatalf("Classify(%q)=%v,%v want %v", typ, got, err, want)
		}
	}
	_, err := Classify("lidar", "pointcloud")
	var ute *UnsupportedRoomTypeError
	if !errors.As(err, &ute) || ute.Room != "lidar" || ute.Type != "pointcloud" {
		t.Fatalf("Classify(pointcloud) err=%v", err)
	}
}

type fakeController struct {
	kind     Kind
	startErr error
	entered  chan<- string
	gate     <-chan struct{}
	id       string

	mu     sync.Mutex
	starts []signaling.ServerConfig
	exits  int
}

func (f *fakeController) Start(_ context.Context, cfg signaling.ServerConfig) error {
	if f.gate != nil {
		f.entered <- f.id
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, cfg)
	return f.startErr
}

func (f *fakeController) Exit(context.Context) {
	f.mu.Lock()
	f.exits++
	f.mu.Unlock()
}

func (f *fakeController) Destroy()                               {}
func (f *fakeController) Session() room.Session                  { return room.Session{} }
func (f *fakeController) Config() (signaling.ServerConfig, bool) { return signaling.ServerConfig{}, false }
func (f *fakeController) CallAll() error                         { return nil }
func (f *fakeController) HangUpAll() error                       { return nil }

type fakeFactory struct {
	mu    sync.Mutex
	built map[string]*fakeController
	fail  map[string]error

	// gate, when set, holds every Start until it is closed.
	entered chan string
	gate    chan struct{}
}

func (ff *fakeFactory) build(kind Kind, rd RoomData) room.Controller {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := &fakeController{kind: kind, startErr: ff.fail[rd.RoomID], id: rd.RoomID, entered: ff.entered, gate: ff.gate}
	ff.built[rd.RoomID] = c
	return c
}

func TestStart_ClassifiesAndKeysByLowerCaseName(t *testing.T) {
	robot, err := ParseRobot([]byte(robotYAML))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	m := metrics.New()
	ff := &fakeFactory{built: map[string]*fakeController{}}
	o := New(Options{
		ServiceURL:    func(svc string) string { return "http://relay.example/v1/service/" + svc },
		NewController: ff.build,
		Metrics:       m,
	})
	if err := o.Start(context.Background(), robot); err != nil {
		t.Fatalf("Start: %v", err)
	}

	names := o.Names()
	if len(names) != 3 || names[0] != "front_camera" || names[1] != "local" || names[2] != "teleop" {
		t.Fatalf("Names()=%v", names)
	}
	if got := m.Get(metrics.RoomsSkipped); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RoomsSkipped, got)
	}
	if ff.built["r1"].kind != KindStream || ff.built["r2"].kind != KindData || ff.built["r4"].kind != KindLocalRTC {
		t.Fatalf("kinds: r1=%v r2=%v r4=%v", ff.built["r1"].kind, ff.built["r2"].kind, ff.built["r4"].kind)
	}

	c, ok := o.Get("TELEOP")
	if !ok || c != room.Controller(ff.built["r2"]) {
		t.Fatalf("Get(TELEOP)=%v,%v", c, ok)
	}
	cfg := ff.built["r2"].starts[0]
	want := signaling.ServerConfig{
		URL:        "http://relay.example/v1/service/svc-42",
		Token:      "secret",
		Name:       "console",
		ICEServers: robot.ICEServers,
		RoomID:     "r2",
		Room:       "Teleop",
		Type:       "text",
		Role:       "admin",
	}
	if cfg.URL != want.URL || cfg.Token != want.Token || cfg.Name != want.Name || cfg.RoomID != want.RoomID ||
		cfg.Room != want.Room || cfg.Type != want.Type || cfg.Role != want.Role || len(cfg.ICEServers) != 1 {
		t.Fatalf("room config=%+v, want %+v", cfg, want)
	}

	if err := o.Start(context.Background(), robot); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err=%v, want ErrAlreadyStarted", err)
	}
}

func TestRoomConfig_FallsBackToConsoleICEServers(t *testing.T) {
	console := []webrtc.ICEServer{{URLs: []string{"stun:console.example:3478"}}}
	o := New(Options{ICEServers: console})
	nr := NamedRoom{Name: "front", Data: RoomData{RoomID: "r1", RoomType: "video"}}

	cfg := o.RoomConfig(Robot{}, nr)
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:console.example:3478" {
		t.Fatalf("ICEServers=%+v, want the console list", cfg.ICEServers)
	}

	own := []webrtc.ICEServer{{URLs: []string{"stun:robot.example:3478"}}}
	cfg = o.RoomConfig(Robot{ICEServers: own}, nr)
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:robot.example:3478" {
		t.Fatalf("ICEServers=%+v, want the descriptor list", cfg.ICEServers)
	}
}

func TestStopDuringStart_ExitsLateRooms(t *testing.T) {
	robot, err := ParseRobot([]byte(robotYAML))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	ff := &fakeFactory{
		built:   map[string]*fakeController{},
		entered: make(chan string, 3),
		gate:    make(chan struct{}),
	}
	o := New(Options{NewController: ff.build})

	done := make(chan error, 1)
	go func() { done <- o.Start(context.Background(), robot) }()
	for range 3 {
		select {
		case <-ff.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for rooms to start")
		}
	}

	o.Stop(context.Background())
	close(ff.gate)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Start err=%v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Start")
	}
	if names := o.Names(); len(names) != 0 {
		t.Fatalf("Names()=%v after Stop, want none", names)
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	for id, c := range ff.built {
		c.mu.Lock()
		exits := c.exits
		c.mu.Unlock()
		if exits != 1 {
			t.Fatalf("room %s exits=%d, want 1", id, exits)
		}
	}
}

func TestStart_FailedRoomsNotKept(t *testing.T) {
	robot, err := ParseRobot([]byte(robotYAML))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	boom := errors.New("relay unreachable")
	ff := &fakeFactory{built: map[string]*fakeController{}, fail: map[string]error{"r1": boom}}
	o := New(Options{NewController: ff.build, MaxConcurrentStarts: 1})

	err = o.Start(context.Background(), robot)
	if !errors.Is(err, boom) {
		t.Fatalf("Start err=%v, want %v", err, boom)
	}
	if _, ok := o.Get("front_camera"); ok {
		t.Fatalf("failed room kept")
	}
	if names := o.Names(); len(names) != 2 {
		t.Fatalf("Names()=%v, want the two healthy rooms", names)
	}
}

func TestStopExitsEveryRoomAndRestart(t *testing.T) {
	robot, err := ParseRobot([]byte(robotYAML))
	if err != nil {
		t.Fatalf("ParseRobot: %v", err)
	}
	ff := &fakeFactory{built: map[string]*fakeController{}}
	o := New(Options{NewController: ff.build})
	if err := o.Start(context.Background(), robot); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Restart(context.Background(), "Front_Camera"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if starts := ff.built["r1"].starts; len(starts) != 2 || starts[1].Room != "Front_Camera" {
		t.Fatalf("starts after Restart=%+v", starts)
	}
	if err := o.Restart(context.Background(), "nope"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("Restart(nope) err=%v, want ErrUnknownRoom", err)
	}

	o.Stop(context.Background())
	for id, c := range ff.built {
		if c.exits != 1 {
			t.Fatalf("room %s exited %d times, want 1", id, c.exits)
		}
	}
	if names := o.Names(); len(names) != 0 {
		t.Fatalf("Names() after Stop=%v", names)
	}
	if _, started := o.Robot(); started {
		t.Fatalf("Robot() reports started after Stop")
	}
}
