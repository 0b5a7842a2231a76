package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

// Teleop message types exchanged over a data room.
const (
	MessageStartTeleop  = "start_teleop"
	MessageStopTeleop   = "stop_teleop"
	MessageRobotStatus  = "robotStatus"
	MessageRobotMessage = "robotMessage"
)

// RobotStatus is the robot state reported over a data room. Fields the robot
// has not reported are nil.
type RobotStatus struct {
	Battery      *float64 `json:"battery,omitempty"`
	CPUUsage     *float64 `json:"cpuUsage,omitempty"`
	MemUsage     *float64 `json:"memUsage,omitempty"`
	DiskUsage    *float64 `json:"diskUsage,omitempty"`
	WifiNetwork  *string  `json:"wifiNetwork,omitempty"`
	WifiStrength *float64 `json:"wifiStrength,omitempty"`
	LocalIP      *string  `json:"localIp,omitempty"`
	MicVolume    *float64 `json:"micVolume,omitempty"`
	CameraOn     bool     `json:"isCameraOn"`
	TeleopOn     bool     `json:"isTeleopOn"`
}

// merge copies the telemetry fields of update, including absent ones.
func (s *RobotStatus) merge(update RobotStatus) {
	s.Battery = update.Battery
	s.CPUUsage = update.CPUUsage
	s.MemUsage = update.MemUsage
	s.DiskUsage = update.DiskUsage
	s.WifiNetwork = update.WifiNetwork
	s.WifiStrength = update.WifiStrength
	s.LocalIP = update.LocalIP
}

type RobotMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type teleopMessage struct {
	Type    string        `json:"type"`
	Status  *RobotStatus  `json:"status,omitempty"`
	Message *RobotMessage `json:"message,omitempty"`
}

type DataOptions struct {
	Channel rtcclient.DataChannelOptions
}

// DataController runs a text or binary room: it drives the teleop protocol
// over the data channels and keeps the robot's last reported state.
type DataController struct {
	*core
	do DataOptions

	// Guarded by core.mu.
	data         *rtcclient.DataChannelClient
	channel      *webrtc.DataChannel
	status       *RobotStatus
	message      *RobotMessage
	messageCount int
}

var _ Controller = (*DataController)(nil)

func NewDataController(do DataOptions, opts Options) *DataController {
	d := &DataController{
		core: newCore("datachannel", opts),
		do:   do,
	}
	d.reset = func() {
		d.data = nil
		d.channel = nil
		d.status = nil
		d.message = nil
		d.messageCount = 0
	}
	return d
}

func (d *DataController) Start(ctx context.Context, cfg signaling.ServerConfig) error {
	return d.start(ctx, cfg, func(_ context.Context, cfg signaling.ServerConfig) (client, []func(), error) {
		dc, err := rtcclient.NewDataChannelClient(cfg, d.do.Channel, d.opts.RTC)
		if err != nil {
			return nil, nil, err
		}
		unsubs := []func(){
			dc.OnAddDataChannel(func(ev rtcclient.DataChannelEvent) { d.setDataChannel(dc, ev) }),
			dc.OnDataChannelOpen(func(string) {
				if !d.current(dc) {
					return
				}
				if err := d.StartTeleop(); err != nil {
					d.logger.Warn("start teleop", "err", err)
				}
			}),
			dc.OnDataChannelClose(func(string) {
				if !d.current(dc) {
					return
				}
				if err := d.StopTeleop(); err != nil {
					d.logger.Warn("stop teleop", "err", err)
				}
			}),
			dc.OnDataChannelMessage(func(m rtcclient.DataChannelMessage) { d.received(dc, m) }),
		}

		d.mu.Lock()
		d.data = dc
		d.mu.Unlock()
		return dc, unsubs, nil
	})
}

func (d *DataController) setDataChannel(dc *rtcclient.DataChannelClient, ev rtcclient.DataChannelEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != dc {
		return
	}
	d.markInCallLocked(ev.ID, placeholderDataChannel)
	d.channel = ev.Channel
}

func (d *DataController) received(dc *rtcclient.DataChannelClient, m rtcclient.DataChannelMessage) {
	var msg teleopMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		d.logger.Warn("undecodable data channel message", "peer", m.ID, "err", err)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data != dc {
		return
	}
	switch {
	case msg.Type == MessageRobotStatus && msg.Status != nil:
		if d.status == nil {
			st := *msg.Status
			d.status = &st
		} else {
			d.status.merge(*msg.Status)
		}
	case msg.Type == MessageRobotMessage && msg.Message != nil:
		d.messageCount++
		rm := *msg.Message
		d.message = &rm
	default:
		d.logger.Debug("ignoring data channel message", "peer", m.ID, "type", msg.Type)
	}
}

// Send broadcasts v on every open channel. A string is sent as is; anything
// else is sent as JSON text.
func (d *DataController) Send(v any) (int, error) {
	d.mu.Lock()
	dc := d.data
	d.mu.Unlock()
	if dc == nil {
		return 0, ErrNotStarted
	}
	text, err := encodeMessage(v)
	if err != nil {
		return 0, err
	}
	return dc.SendTextToAll(text)
}

func encodeMessage(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode data channel message: %w", err)
	}
	return string(b), nil
}

// StartTeleop asks the robot to start teleoperation.
func (d *DataController) StartTeleop() error {
	if _, err := d.Send(map[string]string{"type": MessageStartTeleop}); err != nil {
		return err
	}
	d.mu.Lock()
	if d.status == nil {
		d.status = &RobotStatus{}
	}
	d.status.TeleopOn = true
	d.mu.Unlock()
	return nil
}

func (d *DataController) StopTeleop() error {
	if _, err := d.Send(map[string]string{"type": MessageStopTeleop}); err != nil {
		return err
	}
	d.mu.Lock()
	if d.status != nil {
		d.status.TeleopOn = false
	}
	d.mu.Unlock()
	return nil
}

// Client returns the running data channel client, or nil.
func (d *DataController) Client() *rtcclient.DataChannelClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// RobotStatus returns a copy of the last reported status, or nil.
func (d *DataController) RobotStatus() *RobotStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == nil {
		return nil
	}
	st := *d.status
	return &st
}

// LastMessage returns the last robot message and the number received.
func (d *DataController) LastMessage() (*RobotMessage, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.message == nil {
		return nil, d.messageCount
	}
	m := *d.message
	return &m, d.messageCount
}

// DataChannel is the channel most recently added to the room.
func (d *DataController) DataChannel() *webrtc.DataChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}
