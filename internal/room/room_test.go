package room

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/resume"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// fakeClient records calls and lets tests fire the observers a controller
// subscribes.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	callAlls   int
	closes     int
	hangUps    int

	// hangUpsAtRefresh holds hangUps as seen by each UpdateRoomClients call.
	hangUpsAtRefresh []int

	roomClients []func([]rtcclient.Participant)
	connects    []func(string)
	disconnects []func(string)
	closed      []func(string)
	errored     []func(error)
}

func (f *fakeClient) Connect(context.Context) error { return f.connectErr }

func (f *fakeClient) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeClient) CallAll() error {
	f.mu.Lock()
	f.callAlls++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) HangUpAll() {
	f.mu.Lock()
	f.hangUps++
	f.mu.Unlock()
}

func (f *fakeClient) UpdateRoomClients() {
	f.mu.Lock()
	f.hangUpsAtRefresh = append(f.hangUpsAtRefresh, f.hangUps)
	f.mu.Unlock()
}

func (f *fakeClient) SessionID() string                     { return "self" }
func (f *fakeClient) SetCallAcceptor(rtcclient.CallAcceptor) {}

func (f *fakeClient) OnSignalingConnectionClose(fn func(string)) func() {
	f.closed = append(f.closed, fn)
	return func() {}
}

func (f *fakeClient) OnSignalingConnectionError(fn func(error)) func() {
	f.errored = append(f.errored, fn)
	return func() {}
}

func (f *fakeClient) OnRoomClientsChange(fn func([]rtcclient.Participant)) func() {
	f.roomClients = append(f.roomClients, fn)
	return func() {}
}

func (f *fakeClient) OnClientConnect(fn func(string)) func() {
	f.connects = append(f.connects, fn)
	return func() {}
}

func (f *fakeClient) OnClientDisconnect(fn func(string)) func() {
	f.disconnects = append(f.disconnects, fn)
	return func() {}
}

func (f *fakeClient) fireRoomClients(ids ...string) {
	ps := make([]rtcclient.Participant, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, rtcclient.Participant{ID: id, Name: id})
	}
	for _, fn := range f.roomClients {
		fn(ps)
	}
}

func (f *fakeClient) counts() (callAlls, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callAlls, f.closes
}

func startFake(t *testing.T, c *core, cfg signaling.ServerConfig) *fakeClient {
	t.Helper()
	fc := &fakeClient{}
	err := c.start(context.Background(), cfg, func(context.Context, signaling.ServerConfig) (client, []func(), error) {
		return fc, nil, nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return fc
}

func TestWithDefaults_FillsMissingFields(t *testing.T) {
	got := withDefaults(signaling.ServerConfig{RoomID: "r1", Type: "video", Token: "tok"})
	want := signaling.ServerConfig{
		URL:        DefaultURL,
		Token:      "tok",
		Name:       DefaultName,
		ICEServers: []webrtc.ICEServer{},
		Data:       map[string]string{},
		RoomID:     "r1",
		Room:       DefaultRoom,
		Type:       "video",
		Role:       DefaultRole,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withDefaults=%+v, want %+v", got, want)
	}
}

func TestConfigure_ResumeRoundTripWithinGrace(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := resume.NewMemoryStoreWithClock(func() time.Time { return now })
	opts := Options{Store: store, Grace: time.Minute}

	first := newCore("test", opts)
	saved := first.configure(context.Background(), signaling.ServerConfig{
		URL:  "ws://relay.example:8080",
		Name: "operator",
		Room: "arm",
		Data: map[string]string{"k": "v"},
	})
	if saved.Role != DefaultRole {
		t.Fatalf("Role=%q, want %q", saved.Role, DefaultRole)
	}
	first.Exit(context.Background())

	second := newCore("test", opts)
	restored := second.configure(context.Background(), signaling.ServerConfig{Room: "arm", Name: "someone-else"})
	if !reflect.DeepEqual(restored, saved) {
		t.Fatalf("restored=%+v, want %+v", restored, saved)
	}
	second.Exit(context.Background())

	now = now.Add(2 * time.Minute)
	third := newCore("test", opts)
	fresh := third.configure(context.Background(), signaling.ServerConfig{Room: "arm"})
	if fresh.Name != DefaultName || fresh.URL != DefaultURL {
		t.Fatalf("after grace got %+v, want defaults", fresh)
	}
}

func TestConfigure_BusyRoomKeepsConfiguration(t *testing.T) {
	store := resume.NewMemoryStore()
	if ok, err := store.Acquire(context.Background(), "arm"); err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	c := newCore("test", Options{Store: store})
	in := signaling.ServerConfig{Room: "arm"}
	if got := c.configure(context.Background(), in); !reflect.DeepEqual(got, in) {
		t.Fatalf("configure=%+v, want untouched %+v", got, in)
	}
	if c.exit != nil {
		t.Fatalf("busy room registered an exit handler")
	}
}

func TestDestroy_ReleasesBusyMarkerWithoutStashing(t *testing.T) {
	store := resume.NewMemoryStore()
	c := newCore("test", Options{Store: store})
	startFake(t, c, signaling.ServerConfig{Room: "arm"})
	c.Destroy()

	ok, err := store.Acquire(context.Background(), "arm")
	if err != nil || !ok {
		t.Fatalf("Acquire after Destroy: ok=%v err=%v", ok, err)
	}
	if _, err := store.Load(context.Background(), resume.StashKey("arm", DefaultOperatorToken)); err != resume.ErrNotFound {
		t.Fatalf("Load after Destroy err=%v, want ErrNotFound", err)
	}
}

func TestRoomClients_CallAllOncePerCall(t *testing.T) {
	c := newCore("test", Options{})
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm"})

	fc.fireRoomClients("self")
	if n, _ := fc.counts(); n != 0 {
		t.Fatalf("CallAll=%d with one participant, want 0", n)
	}
	fc.fireRoomClients("self", "robot")
	fc.fireRoomClients("self", "robot")
	if n, _ := fc.counts(); n != 1 {
		t.Fatalf("CallAll=%d after repeated snapshot, want 1", n)
	}
	if s := c.Session(); !s.InCall || s.Participants != 2 {
		t.Fatalf("session=%+v, want in call with 2 participants", s)
	}

	for _, fn := range fc.disconnects {
		fn("robot")
	}
	fc.fireRoomClients("self", "robot")
	if n, _ := fc.counts(); n != 2 {
		t.Fatalf("CallAll=%d after disconnect, want 2", n)
	}
}

func TestHangUpAll_RefreshesParticipants(t *testing.T) {
	c := newCore("test", Options{})
	if err := c.HangUpAll(); err != ErrNotStarted {
		t.Fatalf("HangUpAll before start err=%v, want ErrNotStarted", err)
	}
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm"})

	if err := c.HangUpAll(); err != nil {
		t.Fatalf("HangUpAll: %v", err)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.hangUps != 1 || !reflect.DeepEqual(fc.hangUpsAtRefresh, []int{1}) {
		t.Fatalf("hangUps=%d refreshes=%v, want one refresh after the hangup", fc.hangUps, fc.hangUpsAtRefresh)
	}
}

func TestClientDisconnect_ClampsInCallCounter(t *testing.T) {
	m := metrics.New()
	c := newCore("test", Options{Metrics: m})
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm"})

	for _, fn := range fc.connects {
		fn("robot")
	}
	if s := c.Session(); s.InCallCount != 1 || !s.InCall {
		t.Fatalf("after connect session=%+v", s)
	}
	for range 2 {
		for _, fn := range fc.disconnects {
			fn("robot")
		}
	}
	if s := c.Session(); s.InCallCount != 0 || s.InCall {
		t.Fatalf("after disconnects session=%+v", s)
	}
	if got := m.Get(metrics.InCallCounterClamps); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.InCallCounterClamps, got)
	}
}

func TestMarkInCall_AddsPlaceholderUntilListed(t *testing.T) {
	c := newCore("test", Options{})
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm"})
	fc.fireRoomClients("self")

	c.mu.Lock()
	c.markInCallLocked("robot", placeholderStream)
	c.mu.Unlock()

	s := c.Session()
	if s.Participants != 2 {
		t.Fatalf("Participants=%d, want 2", s.Participants)
	}
	p := s.ParticipantList[1]
	if p.ID != "robot" || p.Name != placeholderName || p.Type != placeholderStream || !p.InCall {
		t.Fatalf("placeholder=%+v", p)
	}

	fc.fireRoomClients("self", "robot")
	s = c.Session()
	if s.Participants != 2 || s.ParticipantList[1].Name != "robot" || !s.ParticipantList[1].InCall {
		t.Fatalf("after listing robot session=%+v", s)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	c := newCore("test", Options{})
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm", RoomID: "r1"})
	fc.fireRoomClients("self", "robot")

	c.Destroy()
	c.Destroy()
	if _, closes := fc.counts(); closes != 1 {
		t.Fatalf("Close called %d times, want 1", closes)
	}
	if s := c.Session(); !reflect.DeepEqual(s, Session{}) {
		t.Fatalf("session after Destroy=%+v, want zero", s)
	}
	if _, ok := c.Config(); ok {
		t.Fatalf("Config reports a running session after Destroy")
	}
	if err := c.CallAll(); err != ErrNotStarted {
		t.Fatalf("CallAll err=%v, want ErrNotStarted", err)
	}
}

func TestSignalingClose_DestroysSession(t *testing.T) {
	c := newCore("test", Options{})
	fc := startFake(t, c, signaling.ServerConfig{Room: "arm"})
	for _, fn := range fc.closed {
		fn("transport close")
	}
	if s := c.Session(); s.Active {
		t.Fatalf("session still active after signaling close")
	}
	// A stale close from the destroyed client is ignored.
	fc2 := startFake(t, c, signaling.ServerConfig{Room: "arm"})
	for _, fn := range fc.closed {
		fn("transport close")
	}
	if s := c.Session(); !s.Active {
		t.Fatalf("stale close destroyed the new session")
	}
	if _, closes := fc2.counts(); closes != 0 {
		t.Fatalf("new client closed %d times, want 0", closes)
	}
}

func TestStart_ConnectFailureDestroys(t *testing.T) {
	store := resume.NewMemoryStore()
	c := newCore("test", Options{Store: store})
	fc := &fakeClient{connectErr: signaling.ErrJoinRejected}
	err := c.start(context.Background(), signaling.ServerConfig{Room: "arm"}, func(context.Context, signaling.ServerConfig) (client, []func(), error) {
		return fc, nil, nil
	})
	if err != signaling.ErrJoinRejected {
		t.Fatalf("start err=%v, want ErrJoinRejected", err)
	}
	if _, closes := fc.counts(); closes != 1 {
		t.Fatalf("Close called %d times, want 1", closes)
	}
	if ok, _ := store.Acquire(context.Background(), "arm"); !ok {
		t.Fatalf("busy marker left behind after failed start")
	}
}

func TestStart_RejectsSecondStart(t *testing.T) {
	c := newCore("test", Options{})
	startFake(t, c, signaling.ServerConfig{Room: "arm"})
	err := c.start(context.Background(), signaling.ServerConfig{Room: "arm"}, func(context.Context, signaling.ServerConfig) (client, []func(), error) {
		t.Fatalf("build called for a running session")
		return nil, nil, nil
	})
	if err != ErrAlreadyStarted {
		t.Fatalf("err=%v, want ErrAlreadyStarted", err)
	}
}
