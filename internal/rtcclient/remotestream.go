package rtcclient

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PacketSink receives RTP packets read from a remote track. It runs on the
// track's read goroutine.
type PacketSink func(track *webrtc.TrackRemote, pkt *rtp.Packet)

// RemoteStream accumulates the tracks one remote participant sends and
// forwards their packets to sinks.
type RemoteStream struct {
	id     string
	logger *slog.Logger

	audioMuted atomic.Bool

	mu        sync.Mutex
	tracks    []*webrtc.TrackRemote
	receivers []*webrtc.RTPReceiver
	sinks     map[uint64]PacketSink
	nextSink  uint64
	stopped   bool
	done      chan struct{}
}

func newRemoteStream(id string, audioMuted bool, logger *slog.Logger) *RemoteStream {
	rs := &RemoteStream{
		id:     id,
		logger: logger,
		sinks:  make(map[uint64]PacketSink),
		done:   make(chan struct{}),
	}
	rs.audioMuted.Store(audioMuted)
	return rs
}

// ID is the remote participant id.
func (rs *RemoteStream) ID() string { return rs.id }

func (rs *RemoteStream) Tracks() []*webrtc.TrackRemote {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.Clone(rs.tracks)
}

// HasKind reports whether a track of kind has arrived.
func (rs *RemoteStream) HasKind(kind webrtc.RTPCodecType) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, t := range rs.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// AudioMuted reports whether received audio is being dropped.
func (rs *RemoteStream) AudioMuted() bool { return rs.audioMuted.Load() }

func (rs *RemoteStream) setAudioMuted(muted bool) { rs.audioMuted.Store(muted) }

// Subscribe adds a packet sink and returns a function that removes it.
func (rs *RemoteStream) Subscribe(sink PacketSink) (unsubscribe func()) {
	if sink == nil {
		return func() {}
	}
	rs.mu.Lock()
	id := rs.nextSink
	rs.nextSink++
	rs.sinks[id] = sink
	rs.mu.Unlock()
	return func() {
		rs.mu.Lock()
		delete(rs.sinks, id)
		rs.mu.Unlock()
	}
}

// Done is closed once the stream has been stopped.
func (rs *RemoteStream) Done() <-chan struct{} { return rs.done }

func (rs *RemoteStream) addTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	rs.mu.Lock()
	if rs.stopped {
		rs.mu.Unlock()
		if receiver != nil {
			_ = receiver.Stop()
		}
		return
	}
	rs.tracks = append(rs.tracks, track)
	if receiver != nil {
		rs.receivers = append(rs.receivers, receiver)
	}
	rs.mu.Unlock()

	go rs.read(track)
}

func (rs *RemoteStream) read(track *webrtc.TrackRemote) {
	audio := track.Kind() == webrtc.RTPCodecTypeAudio
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			rs.logger.Debug("remote track ended", "peer", rs.id, "track", track.ID(), "err", err)
			return
		}
		if audio && rs.audioMuted.Load() {
			continue
		}
		rs.mu.Lock()
		sinks := make([]PacketSink, 0, len(rs.sinks))
		for _, s := range rs.sinks {
			sinks = append(sinks, s)
		}
		rs.mu.Unlock()
		for _, s := range sinks {
			s(track, pkt)
		}
	}
}

// Stop stops every receiver, which ends the track readers, and drops the
// sinks. It is safe to call more than once.
func (rs *RemoteStream) Stop() {
	rs.mu.Lock()
	if rs.stopped {
		rs.mu.Unlock()
		return
	}
	rs.stopped = true
	receivers := rs.receivers
	rs.receivers = nil
	clear(rs.sinks)
	rs.mu.Unlock()

	for _, r := range receivers {
		if err := r.Stop(); err != nil {
			rs.logger.Debug("stop receiver", "peer", rs.id, "err", err)
		}
	}
	close(rs.done)
}
