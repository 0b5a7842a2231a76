package signaling

import (
	"github.com/pion/webrtc/v4"
)

// ServerConfig describes one room session on a relay. It is treated as
// immutable once a client has been built from it.
type ServerConfig struct {
	URL        string             `json:"url"`
	Token      string             `json:"token"`
	Name       string             `json:"name,omitempty"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`
	Data       map[string]string  `json:"data,omitempty"`
	RoomID     string             `json:"roomId,omitempty"`
	Room       string             `json:"room"`
	Type       string             `json:"type,omitempty"`
	Role       string             `json:"role,omitempty"`
}

// JoinRequest returns the join-room payload for this configuration.
func (c ServerConfig) JoinRequest() JoinRoomRequest {
	return JoinRoomRequest{
		Name:   c.Name + "." + c.Room,
		Type:   ClientType,
		Room:   c.Room,
		RoomID: c.RoomID,
		Role:   c.Role,
		Data:   c.Data,
	}
}
