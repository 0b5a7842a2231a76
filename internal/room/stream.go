package room

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// MediaSource supplies the local tracks a local_rtc room sends.
type MediaSource interface {
	LocalTracks(ctx context.Context) ([]*rtcclient.LocalTrack, error)
}

type MediaSourceFunc func(ctx context.Context) ([]*rtcclient.LocalTrack, error)

func (f MediaSourceFunc) LocalTracks(ctx context.Context) ([]*rtcclient.LocalTrack, error) {
	return f(ctx)
}

// StreamStatus is the operator-facing media state of a stream room.
type StreamStatus struct {
	MicVolume float64 `json:"micVolume"`
	Volume    float64 `json:"volume"`
	CameraOn  bool    `json:"isCameraOn"`
}

func defaultStreamStatus() StreamStatus {
	return StreamStatus{MicVolume: 1, Volume: 1}
}

type StreamOptions struct {
	// CanSendStream sends the tracks from Source to every peer.
	CanSendStream bool
	Source        MediaSource
	// RemoteAudioMuted starts every remote stream with its audio muted.
	RemoteAudioMuted bool
}

// StreamController runs a video, audio or local_rtc room.
type StreamController struct {
	*core
	so StreamOptions

	// Guarded by core.mu.
	stream  *rtcclient.StreamClient
	local   []*rtcclient.LocalTrack
	primary *rtcclient.RemoteStream
	status  StreamStatus
}

var _ Controller = (*StreamController)(nil)

func NewStreamController(so StreamOptions, opts Options) *StreamController {
	kind := "stream"
	if so.CanSendStream {
		kind = TypeLocalRTC
	}
	s := &StreamController{
		core:   newCore(kind, opts),
		so:     so,
		status: defaultStreamStatus(),
	}
	s.reset = func() {
		s.stream = nil
		s.local = nil
		s.primary = nil
		s.status = defaultStreamStatus()
	}
	return s
}

func (s *StreamController) Start(ctx context.Context, cfg signaling.ServerConfig) error {
	return s.start(ctx, cfg, func(ctx context.Context, cfg signaling.ServerConfig) (client, []func(), error) {
		tracks := s.localTracks(ctx)
		sc := rtcclient.NewStreamClient(cfg, rtcclient.StreamOptions{
			Tracks:           tracks,
			RemoteAudioMuted: s.so.RemoteAudioMuted,
		}, s.opts.RTC)
		unsub := sc.OnAddRemoteStream(func(ev rtcclient.RemoteStreamEvent) { s.addClientInCall(sc, ev) })

		s.mu.Lock()
		s.stream = sc
		s.local = tracks
		s.status = defaultStreamStatus()
		s.mu.Unlock()
		return sc, []func(){unsub}, nil
	})
}

// localTracks asks the media source for tracks. A failure leaves the room
// receive-only.
func (s *StreamController) localTracks(ctx context.Context) []*rtcclient.LocalTrack {
	if !s.so.CanSendStream {
		return nil
	}
	if s.so.Source == nil {
		s.logger.Warn("no local media source; continuing receive-only")
		return nil
	}
	tracks, err := s.so.Source.LocalTracks(ctx)
	if err != nil {
		s.logger.Error("open local media", "err", err)
		return nil
	}
	return tracks
}

func (s *StreamController) addClientInCall(sc *rtcclient.StreamClient, ev rtcclient.RemoteStreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != sc {
		return
	}
	s.markInCallLocked(ev.ID, placeholderStream)
	if !s.so.CanSendStream {
		s.primary = ev.Stream
	}
}

// Client returns the running stream client, or nil.
func (s *StreamController) Client() *rtcclient.StreamClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// PrimaryStream is the latest remote stream of a receive-only room.
func (s *StreamController) PrimaryStream() *rtcclient.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

func (s *StreamController) CanSendStream() bool { return s.so.CanSendStream }

// SendOnly is always false: a console receives what the room sends.
func (s *StreamController) SendOnly() bool { return false }

func (s *StreamController) Status() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ToggleCamera flips the local video tracks and the camera flag. It does
// nothing before a stream exists.
func (s *StreamController) ToggleCamera() {
	s.mu.Lock()
	sc, local := s.stream, len(s.local) > 0
	if sc == nil || (!local && s.primary == nil) {
		s.mu.Unlock()
		return
	}
	s.status.CameraOn = !s.status.CameraOn
	s.mu.Unlock()
	if local {
		sc.SetLocalVideoMuted(!sc.LocalVideoMuted())
	}
}

// UpdateStatus replaces the status, toggling the camera first when the
// camera flag changes.
func (s *StreamController) UpdateStatus(st StreamStatus) {
	if st.CameraOn != s.Status().CameraOn {
		s.ToggleCamera()
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SetRemoteAudioMuted mutes or unmutes what the room sends.
func (s *StreamController) SetRemoteAudioMuted(muted bool) error {
	sc := s.Client()
	if sc == nil {
		return ErrNotStarted
	}
	sc.SetRemoteAudioMuted(muted)
	return nil
}

// SetLocalAudioMuted mutes or unmutes the local microphone tracks.
func (s *StreamController) SetLocalAudioMuted(muted bool) error {
	sc := s.Client()
	if sc == nil {
		return ErrNotStarted
	}
	sc.SetLocalAudioMuted(muted)
	return nil
}
