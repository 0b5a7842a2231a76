package room

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

func newIdleDataController(t *testing.T) (*DataController, *rtcclient.DataChannelClient) {
	t.Helper()
	d := NewDataController(DataOptions{}, Options{})
	dc, err := rtcclient.NewDataChannelClient(signaling.ServerConfig{Room: "arm"}, rtcclient.DataChannelOptions{
		Delivery: config.DataChannelConfig{Ordered: true},
	}, rtcclient.Options{})
	if err != nil {
		t.Fatalf("NewDataChannelClient: %v", err)
	}
	t.Cleanup(dc.Close)
	d.mu.Lock()
	d.client = dc
	d.data = dc
	d.mu.Unlock()
	return d, dc
}

func TestDataController_MergesRobotStatus(t *testing.T) {
	d, dc := newIdleDataController(t)

	d.received(dc, rtcclient.DataChannelMessage{ID: "robot", IsString: true,
		Data: []byte(`{"type":"robotStatus","status":{"battery":80,"wifiNetwork":"lab","isTeleopOn":true}}`)})
	st := d.RobotStatus()
	if st == nil || st.Battery == nil || *st.Battery != 80 || st.WifiNetwork == nil || *st.WifiNetwork != "lab" {
		t.Fatalf("status=%+v", st)
	}

	d.received(dc, rtcclient.DataChannelMessage{ID: "robot", IsString: true,
		Data: []byte(`{"type":"robotStatus","status":{"battery":75,"cpuUsage":12.5}}`)})
	st = d.RobotStatus()
	if *st.Battery != 75 || st.CPUUsage == nil || *st.CPUUsage != 12.5 {
		t.Fatalf("merged status=%+v", st)
	}
	if st.WifiNetwork != nil {
		t.Fatalf("WifiNetwork=%q, want cleared by the update", *st.WifiNetwork)
	}
	if !st.TeleopOn {
		t.Fatalf("merge reset TeleopOn")
	}
}

func TestDataController_CountsRobotMessages(t *testing.T) {
	d, dc := newIdleDataController(t)

	for _, raw := range []string{
		`{"type":"robotMessage","message":{"type":"log","data":"arm homed"}}`,
		`{"type":"robotMessage"}`,
		`not json`,
		`{"type":"robotMessage","message":{"type":"log","data":{"joint":3}}}`,
	} {
		d.received(dc, rtcclient.DataChannelMessage{ID: "robot", IsString: true, Data: []byte(raw)})
	}
	msg, n := d.LastMessage()
	if n != 2 {
		t.Fatalf("message count=%d, want 2", n)
	}
	if msg == nil || msg.Type != "log" || string(msg.Data) != `{"joint":3}` {
		t.Fatalf("last message=%+v", msg)
	}
}

func TestDataController_IgnoresStaleClient(t *testing.T) {
	d, _ := newIdleDataController(t)
	stale, err := rtcclient.NewDataChannelClient(signaling.ServerConfig{Room: "arm"}, rtcclient.DataChannelOptions{}, rtcclient.Options{})
	if err != nil {
		t.Fatalf("NewDataChannelClient: %v", err)
	}
	t.Cleanup(stale.Close)

	d.received(stale, rtcclient.DataChannelMessage{Data: []byte(`{"type":"robotStatus","status":{"battery":1}}`)})
	if st := d.RobotStatus(); st != nil {
		t.Fatalf("stale client updated status: %+v", st)
	}
}

func TestDataController_TeleopWithoutOpenChannels(t *testing.T) {
	d, _ := newIdleDataController(t)
	if err := d.StartTeleop(); err != nil {
		t.Fatalf("StartTeleop: %v", err)
	}
	if st := d.RobotStatus(); st == nil || !st.TeleopOn {
		t.Fatalf("status after StartTeleop=%+v", st)
	}
	if err := d.StopTeleop(); err != nil {
		t.Fatalf("StopTeleop: %v", err)
	}
	if st := d.RobotStatus(); st.TeleopOn {
		t.Fatalf("TeleopOn after StopTeleop")
	}
}

func TestDataController_SendBeforeStart(t *testing.T) {
	d := NewDataController(DataOptions{}, Options{})
	if _, err := d.Send("hi"); err != ErrNotStarted {
		t.Fatalf("Send err=%v, want ErrNotStarted", err)
	}
}

func TestEncodeMessage(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"plain text", "plain text"},
		{map[string]string{"type": MessageStartTeleop}, `{"type":"start_teleop"}`},
		{[]int{1, 2}, `[1,2]`},
	}
	for _, tc := range cases {
		got, err := encodeMessage(tc.in)
		if err != nil {
			t.Fatalf("encodeMessage(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("encodeMessage(%v)=%q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := encodeMessage(make(chan int)); err == nil {
		t.Fatalf("encodeMessage(chan) succeeded")
	}
}

func TestSetDataChannel_MarksParticipantInCall(t *testing.T) {
	d, dc := newIdleDataController(t)
	d.setDataChannel(dc, rtcclient.DataChannelEvent{ID: "robot", Channel: &webrtc.DataChannel{}})

	s := d.Session()
	if s.Participants != 1 {
		t.Fatalf("Participants=%d, want 1", s.Participants)
	}
	p := s.ParticipantList[0]
	if p.Name != placeholderName || p.Type != placeholderDataChannel || !p.InCall {
		t.Fatalf("placeholder=%+v", p)
	}
	if d.DataChannel() == nil {
		t.Fatalf("DataChannel not recorded")
	}
}
