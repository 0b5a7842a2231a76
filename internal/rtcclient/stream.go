package rtcclient

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/event"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// LocalTrack is a sample track shared by every peer connection of a stream
// client. Writes are dropped while the track is disabled.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*LocalTrack, error) {
	t, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	lt := &LocalTrack{TrackLocalStaticSample: t}
	lt.enabled.Store(true)
	return lt, nil
}

func (t *LocalTrack) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// StreamOptions configures the media of a StreamClient.
type StreamOptions struct {
	// Tracks are sent to every peer.
	Tracks []*LocalTrack
	// SendOnly skips receiving remote tracks.
	SendOnly bool

	LocalAudioMuted  bool
	LocalVideoMuted  bool
	RemoteAudioMuted bool
}

// RemoteStreamEvent is delivered when the first track from a participant
// arrives.
type RemoteStreamEvent struct {
	ID     string
	Stream *RemoteStream
}

// StreamClient exchanges media tracks with the room.
type StreamClient struct {
	*Client

	tracks   []*LocalTrack
	sendOnly bool

	smu              sync.Mutex
	localAudioMuted  bool
	localVideoMuted  bool
	remoteAudioMuted bool
	streams          map[string]*RemoteStream

	addRemoteStream *event.Feed[RemoteStreamEvent]
}

func NewStreamClient(cfg signaling.ServerConfig, so StreamOptions, opts Options) *StreamClient {
	s := &StreamClient{
		tracks:           so.Tracks,
		sendOnly:         so.SendOnly,
		localAudioMuted:  so.LocalAudioMuted,
		localVideoMuted:  so.LocalVideoMuted,
		remoteAudioMuted: so.RemoteAudioMuted,
		streams:          make(map[string]*RemoteStream),
	}
	s.Client = newClient(cfg, opts, (*streamVariant)(s))
	s.addRemoteStream = event.NewFeed[RemoteStreamEvent](&s.events)
	s.applyLocalMute()
	return s
}

// OnAddRemoteStream fires once per remote participant, on its first track.
func (s *StreamClient) OnAddRemoteStream(fn func(RemoteStreamEvent)) (unsubscribe func()) {
	return s.addRemoteStream.Subscribe(fn)
}

// RemoteStream returns the stream accumulated for id, if any.
func (s *StreamClient) RemoteStream(id string) *RemoteStream {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.streams[id]
}

func (s *StreamClient) SendOnly() bool { return s.sendOnly }

func (s *StreamClient) LocalAudioMuted() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.localAudioMuted
}

func (s *StreamClient) LocalVideoMuted() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.localVideoMuted
}

func (s *StreamClient) RemoteAudioMuted() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.remoteAudioMuted
}

// SetLocalAudioMuted enables or disables every local audio track.
func (s *StreamClient) SetLocalAudioMuted(muted bool) {
	s.smu.Lock()
	s.localAudioMuted = muted
	s.smu.Unlock()
	s.applyLocalMute()
}

// SetLocalVideoMuted enables or disables every local video track.
func (s *StreamClient) SetLocalVideoMuted(muted bool) {
	s.smu.Lock()
	s.localVideoMuted = muted
	s.smu.Unlock()
	s.applyLocalMute()
}

// SetRemoteAudioMuted stops or resumes delivery of received audio on every
// remote stream.
func (s *StreamClient) SetRemoteAudioMuted(muted bool) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.remoteAudioMuted = muted
	for _, rs := range s.streams {
		rs.setAudioMuted(muted)
	}
}

func (s *StreamClient) applyLocalMute() {
	s.smu.Lock()
	audio, video := !s.localAudioMuted, !s.localVideoMuted
	s.smu.Unlock()
	for _, t := range s.tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			t.SetEnabled(audio)
		case webrtc.RTPCodecTypeVideo:
			t.SetEnabled(video)
		}
	}
}

func (s *StreamClient) hasLocalKind(kind webrtc.RTPCodecType) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (s *StreamClient) addRemoteTrack(id string, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	var rs *RemoteStream
	created := false
	ok := s.ifCurrent(id, pc, func() {
		s.smu.Lock()
		defer s.smu.Unlock()
		rs = s.streams[id]
		if rs == nil {
			rs = newRemoteStream(id, s.remoteAudioMuted, s.logger)
			s.streams[id] = rs
			created = true
		}
	})
	if !ok {
		return
	}
	rs.addTrack(track, receiver)
	s.logger.Debug("remote track added", "peer", id, "kind", track.Kind().String(), "track", track.ID())
	if created {
		s.addRemoteStream.Emit(RemoteStreamEvent{ID: id, Stream: rs})
		s.UpdateRoomClients()
	}
}

// streamVariant is the Variant half of StreamClient.
type streamVariant StreamClient

func (v *streamVariant) client() *StreamClient { return (*StreamClient)(v) }

func (v *streamVariant) CreatePeerConnection(id string, role Role) (*webrtc.PeerConnection, error) {
	s := v.client()
	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	for _, t := range s.tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go drainRTCP(sender)
	}
	if s.sendOnly || role != RoleCaller {
		return pc, nil
	}
	// The offer always asks for audio and video.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if s.hasLocalKind(kind) {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return pc, nil
}

func (v *streamVariant) ConnectPeerConnectionEvents(id string, pc *webrtc.PeerConnection) {
	s := v.client()
	if s.sendOnly {
		return
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.inbox.Post(func() { s.addRemoteTrack(id, pc, track, receiver) })
	})
}

func (v *streamVariant) DisconnectPeerConnectionEvents(_ string, pc *webrtc.PeerConnection) {
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
}

func (v *streamVariant) ReleasePeer(id string) {
	s := v.client()
	s.smu.Lock()
	rs := s.streams[id]
	delete(s.streams, id)
	s.smu.Unlock()
	if rs != nil {
		rs.Stop()
	}
}

func (v *streamVariant) ReleaseAll() {
	s := v.client()
	s.smu.Lock()
	streams := s.streams
	s.streams = make(map[string]*RemoteStream)
	s.smu.Unlock()
	for _, rs := range streams {
		rs.Stop()
	}
}

func (v *streamVariant) DecorateParticipant(p *Participant) {
	s := v.client()
	s.smu.Lock()
	p.Stream = s.streams[p.ID]
	s.smu.Unlock()
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
