package rtcclient

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/event"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/webrtcpeer"
)

type DataChannelOptions struct {
	Delivery config.DataChannelConfig
	// MessagesPerSecond caps outgoing messages across every channel. Zero
	// disables the cap.
	MessagesPerSecond int
	// Clock drives the send cap. Nil uses the wall clock.
	Clock ratelimit.Clock
}

type DataChannelEvent struct {
	ID      string
	Channel *webrtc.DataChannel
}

type DataChannelMessage struct {
	ID       string
	Data     []byte
	IsString bool
}

type DataChannelError struct {
	ID  string
	Err error
}

// DataChannelClient exchanges messages with the room over one data channel
// per peer. The caller side opens the channel, labelled with the room name.
type DataChannelClient struct {
	*Client

	init    *webrtc.DataChannelInit
	limiter *ratelimit.TokenBucket

	dmu      sync.Mutex
	channels map[string]*webrtc.DataChannel
	// pending holds channels created with a peer connection that is not yet
	// registered.
	pending map[*webrtc.PeerConnection]*webrtc.DataChannel

	addDataChannel *event.Feed[DataChannelEvent]
	channelOpen    *event.Feed[string]
	channelClose   *event.Feed[string]
	channelError   *event.Feed[DataChannelError]
	channelMessage *event.Feed[DataChannelMessage]
}

func NewDataChannelClient(cfg signaling.ServerConfig, do DataChannelOptions, opts Options) (*DataChannelClient, error) {
	init, err := webrtcpeer.DataChannelInit(do.Delivery)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataChannelConfig, err)
	}
	clock := do.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	d := &DataChannelClient{
		init:     init,
		limiter:  ratelimit.PerSecond(clock, do.MessagesPerSecond),
		channels: make(map[string]*webrtc.DataChannel),
		pending:  make(map[*webrtc.PeerConnection]*webrtc.DataChannel),
	}
	d.Client = newClient(cfg, opts, (*dataVariant)(d))
	d.addDataChannel = event.NewFeed[DataChannelEvent](&d.events)
	d.channelOpen = event.NewFeed[string](&d.events)
	d.channelClose = event.NewFeed[string](&d.events)
	d.channelError = event.NewFeed[DataChannelError](&d.events)
	d.channelMessage = event.NewFeed[DataChannelMessage](&d.events)
	return d, nil
}

// OnAddDataChannel fires when a channel to a participant is registered,
// whether this side created it or the remote side offered it.
func (d *DataChannelClient) OnAddDataChannel(fn func(DataChannelEvent)) (unsubscribe func()) {
	return d.addDataChannel.Subscribe(fn)
}

func (d *DataChannelClient) OnDataChannelOpen(fn func(id string)) (unsubscribe func()) {
	return d.channelOpen.Subscribe(fn)
}

func (d *DataChannelClient) OnDataChannelClose(fn func(id string)) (unsubscribe func()) {
	return d.channelClose.Subscribe(fn)
}

func (d *DataChannelClient) OnDataChannelError(fn func(DataChannelError)) (unsubscribe func()) {
	return d.channelError.Subscribe(fn)
}

func (d *DataChannelClient) OnDataChannelMessage(fn func(DataChannelMessage)) (unsubscribe func()) {
	return d.channelMessage.Subscribe(fn)
}

// DataChannel returns the channel registered for id.
func (d *DataChannelClient) DataChannel(id string) *webrtc.DataChannel {
	d.dmu.Lock()
	defer d.dmu.Unlock()
	return d.channels[id]
}

// OpenChannelIDs returns the ids whose channel is open, sorted.
func (d *DataChannelClient) OpenChannelIDs() []string {
	d.dmu.Lock()
	defer d.dmu.Unlock()
	var ids []string
	for id, dc := range d.channels {
		if dc.ReadyState() == webrtc.DataChannelStateOpen {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// SendTo sends data as a binary message to each of ids. Ids without an open
// channel are skipped. It returns the number of messages sent.
func (d *DataChannelClient) SendTo(data []byte, ids ...string) (int, error) {
	return d.send(ids, func(dc *webrtc.DataChannel) error { return dc.Send(data) })
}

// SendTextTo is SendTo for a text message.
func (d *DataChannelClient) SendTextTo(text string, ids ...string) (int, error) {
	return d.send(ids, func(dc *webrtc.DataChannel) error { return dc.SendText(text) })
}

// SendToAll sends data as a binary message on every open channel.
func (d *DataChannelClient) SendToAll(data []byte) (int, error) {
	return d.send(nil, func(dc *webrtc.DataChannel) error { return dc.Send(data) })
}

func (d *DataChannelClient) SendTextToAll(text string) (int, error) {
	return d.send(nil, func(dc *webrtc.DataChannel) error { return dc.SendText(text) })
}

// send delivers on the open channels of ids, or of every peer when ids is
// nil.
func (d *DataChannelClient) send(ids []string, fn func(*webrtc.DataChannel) error) (int, error) {
	if d.State() == StateClosed {
		return 0, ErrClosed
	}
	type target struct {
		id string
		dc *webrtc.DataChannel
	}
	var targets []target
	d.dmu.Lock()
	if ids == nil {
		for id, dc := range d.channels {
			targets = append(targets, target{id, dc})
		}
	} else {
		for _, id := range ids {
			if dc := d.channels[id]; dc != nil {
				targets = append(targets, target{id, dc})
			}
		}
	}
	d.dmu.Unlock()

	sent := 0
	var errs []error
	for _, t := range targets {
		if t.dc.ReadyState() != webrtc.DataChannelStateOpen {
			continue
		}
		if !d.limiter.Allow(1) {
			d.metrics.Inc(metrics.DataChannelDrops)
			d.logger.Debug("data channel send dropped by rate limit", "peer", t.id)
			continue
		}
		if err := fn(t.dc); err != nil {
			errs = append(errs, fmt.Errorf("send to %q: %w", t.id, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// registerChannel stores dc for id when pc is the registered connection and
// wires its events.
func (d *DataChannelClient) registerChannel(id string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	var replaced *webrtc.DataChannel
	ok := d.ifCurrent(id, pc, func() {
		d.dmu.Lock()
		replaced = d.channels[id]
		d.channels[id] = dc
		d.dmu.Unlock()
	})
	if !ok {
		_ = dc.Close()
		return
	}
	if replaced != nil && replaced != dc {
		detachChannel(replaced)
		_ = replaced.Close()
	}
	d.logger.Debug("data channel added", append([]any{"peer", id}, webrtcpeer.DataChannelAttrs(dc)...)...)
	d.addDataChannel.Emit(DataChannelEvent{ID: id, Channel: dc})
	d.connectChannelEvents(id, pc, dc)
}

func (d *DataChannelClient) connectChannelEvents(id string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	current := func() bool {
		d.dmu.Lock()
		defer d.dmu.Unlock()
		return d.channels[id] == dc
	}
	dc.OnOpen(func() {
		d.inbox.Post(func() {
			if !current() {
				return
			}
			d.logger.Info("data channel open", "peer", id)
			d.channelOpen.Emit(id)
			d.UpdateRoomClients()
		})
	})
	dc.OnClose(func() {
		d.inbox.Post(func() {
			if !current() {
				return
			}
			d.logger.Info("data channel closed by peer", "peer", id)
			if d.removeConnection(id, pc) {
				d.UpdateRoomClients()
			}
		})
	})
	dc.OnError(func(err error) {
		d.inbox.Post(func() {
			if !current() {
				return
			}
			d.logger.Error("data channel error", "peer", id, "err", err)
			d.removeConnection(id, pc)
			d.channelError.Emit(DataChannelError{ID: id, Err: err})
			d.UpdateRoomClients()
		})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.metrics.Inc(metrics.DataChannelMessages)
		d.channelMessage.Emit(DataChannelMessage{ID: id, Data: msg.Data, IsString: msg.IsString})
	})
}

func detachChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {})
	dc.OnClose(func() {})
	dc.OnError(func(error) {})
	dc.OnMessage(func(webrtc.DataChannelMessage) {})
}

// release closes and deregisters channels, reporting each as closed.
func (d *DataChannelClient) release(channels map[string]*webrtc.DataChannel) {
	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		dc := channels[id]
		detachChannel(dc)
		if err := dc.Close(); err != nil {
			d.logger.Debug("close data channel", "peer", id, "err", err)
		}
		d.channelClose.Emit(id)
	}
}

// dataVariant is the Variant half of DataChannelClient.
type dataVariant DataChannelClient

func (v *dataVariant) client() *DataChannelClient { return (*DataChannelClient)(v) }

func (v *dataVariant) CreatePeerConnection(_ string, role Role) (*webrtc.PeerConnection, error) {
	d := v.client()
	pc, err := d.factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	if role != RoleCaller {
		return pc, nil
	}
	init := *d.init
	dc, err := pc.CreateDataChannel(d.cfg.Room, &init)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	d.dmu.Lock()
	d.pending[pc] = dc
	d.dmu.Unlock()
	return pc, nil
}

func (v *dataVariant) ConnectPeerConnectionEvents(id string, pc *webrtc.PeerConnection) {
	d := v.client()
	d.dmu.Lock()
	dc := d.pending[pc]
	delete(d.pending, pc)
	d.dmu.Unlock()
	if dc != nil {
		d.registerChannel(id, pc, dc)
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		d.inbox.Post(func() { d.registerChannel(id, pc, dc) })
	})
}

func (v *dataVariant) DisconnectPeerConnectionEvents(_ string, pc *webrtc.PeerConnection) {
	d := v.client()
	pc.OnDataChannel(func(*webrtc.DataChannel) {})
	d.dmu.Lock()
	dc := d.pending[pc]
	delete(d.pending, pc)
	d.dmu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
}

func (v *dataVariant) ReleasePeer(id string) {
	d := v.client()
	d.dmu.Lock()
	dc := d.channels[id]
	delete(d.channels, id)
	d.dmu.Unlock()
	if dc != nil {
		d.release(map[string]*webrtc.DataChannel{id: dc})
	}
}

func (v *dataVariant) ReleaseAll() {
	d := v.client()
	d.dmu.Lock()
	channels := d.channels
	d.channels = make(map[string]*webrtc.DataChannel)
	d.dmu.Unlock()
	d.release(channels)
}

func (v *dataVariant) DecorateParticipant(p *Participant) {
	d := v.client()
	d.dmu.Lock()
	p.DataChannel = d.channels[p.ID]
	d.dmu.Unlock()
}
