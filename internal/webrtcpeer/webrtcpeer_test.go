package webrtcpeer

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
)

func connectPeerConnections(t *testing.T, offerer, answerer *webrtc.PeerConnection) {
	t.Helper()

	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offerGatherComplete := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription(offer): %v", err)
	}
	<-offerGatherComplete

	offerSDP := offerer.LocalDescription()
	if offerSDP == nil {
		t.Fatalf("missing local offer")
	}
	if err := answerer.SetRemoteDescription(*offerSDP); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}

	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	answerGatherComplete := webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription(answer): %v", err)
	}
	<-answerGatherComplete

	answerSDP := answerer.LocalDescription()
	if answerSDP == nil {
		t.Fatalf("missing local answer")
	}
	if err := offerer.SetRemoteDescription(*answerSDP); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}

func newPair(t *testing.T, f Factory) (*webrtc.PeerConnection, *webrtc.PeerConnection) {
	t.Helper()
	a, err := f.NewPeerConnection()
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := f.NewPeerConnection()
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return a, b
}

func TestDataChannelInit_NegotiatesConfiguredSemantics(t *testing.T) {
	api, err := NewAPI(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	caller, callee := newPair(t, Factory{API: api})

	type result struct {
		label   string
		ordered bool
		maxRet  *uint16
		maxLife *uint16
	}
	gotCh := make(chan result, 1)
	callee.OnDataChannel(func(dc *webrtc.DataChannel) {
		gotCh <- result{
			label:   dc.Label(),
			ordered: dc.Ordered(),
			maxRet:  dc.MaxRetransmits(),
			maxLife: dc.MaxPacketLifeTime(),
		}
	})

	retransmits := uint16(2)
	init, err := DataChannelInit(config.DataChannelConfig{Ordered: false, MaxRetransmits: &retransmits})
	if err != nil {
		t.Fatalf("DataChannelInit: %v", err)
	}
	if _, err := caller.CreateDataChannel("teleop", init); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}

	connectPeerConnections(t, caller, callee)

	select {
	case got := <-gotCh:
		if got.label != "teleop" {
			t.Fatalf("label=%q, want %q", got.label, "teleop")
		}
		if got.ordered {
			t.Fatalf("ordered=true, want false")
		}
		if got.maxRet == nil || *got.maxRet != 2 {
			t.Fatalf("maxRetransmits=%v, want 2", got.maxRet)
		}
		if got.maxLife != nil {
			t.Fatalf("maxPacketLifeTime=%v, want unset", *got.maxLife)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for remote data channel")
	}
}

func TestDataChannelInit_RejectsConflictingReliability(t *testing.T) {
	v := uint16(1)
	_, err := DataChannelInit(config.DataChannelConfig{MaxRetransmits: &v, MaxPacketLifeTime: &v})
	if !errors.Is(err, ErrConflictingReliability) {
		t.Fatalf("err=%v, want ErrConflictingReliability", err)
	}
}

func TestNewAPI_RejectsBadCandidateType(t *testing.T) {
	_, err := NewAPI(config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.1"},
		WebRTCNAT1To1IPCandidateType: "relay",
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoggerFactory_RoutesScopes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Debugf("dropped %d", 1)
	l.Warnf("candidate %s failed", "host")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line logged at info level: %q", out)
	}
	if !strings.Contains(out, "candidate host failed") || !strings.Contains(out, "pion=ice") {
		t.Fatalf("log output=%q, want warn line with pion=ice", out)
	}
}
