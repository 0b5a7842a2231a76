package webrtcpeer

import (
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
)

// ErrConflictingReliability is returned for a data channel configuration that
// sets both maxRetransmits and maxPacketLifeTime.
var ErrConflictingReliability = errors.New("maxRetransmits and maxPacketLifeTime are mutually exclusive")

// DataChannelInit converts the configured delivery semantics into pion's init
// struct.
func DataChannelInit(cfg config.DataChannelConfig) (*webrtc.DataChannelInit, error) {
	if cfg.MaxRetransmits != nil && cfg.MaxPacketLifeTime != nil {
		return nil, ErrConflictingReliability
	}
	ordered := cfg.Ordered
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if cfg.MaxRetransmits != nil {
		v := *cfg.MaxRetransmits
		init.MaxRetransmits = &v
	}
	if cfg.MaxPacketLifeTime != nil {
		v := *cfg.MaxPacketLifeTime
		init.MaxPacketLifeTime = &v
	}
	return init, nil
}

// DataChannelAttrs returns log attributes describing dc's negotiated
// delivery semantics.
func DataChannelAttrs(dc *webrtc.DataChannel) []any {
	var maxRetransmits any
	if v := dc.MaxRetransmits(); v != nil {
		maxRetransmits = int(*v)
	}
	var maxPacketLifeTime any
	if v := dc.MaxPacketLifeTime(); v != nil {
		maxPacketLifeTime = int(*v)
	}
	return []any{
		slog.String("label", dc.Label()),
		slog.Bool("ordered", dc.Ordered()),
		slog.Any("max_retransmits", maxRetransmits),
		slog.Any("max_packet_life_time", maxPacketLifeTime),
	}
}
