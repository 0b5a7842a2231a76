package webrtcpeer

import (
	"github.com/pion/webrtc/v4"
)

// Factory creates peer connections for one room with that room's ICE servers.
type Factory struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
}

// NewPeerConnection constructs a PeerConnection. A nil API falls back to
// pion's defaults.
func (f Factory) NewPeerConnection() (*webrtc.PeerConnection, error) {
	api := f.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.ICEServers,
	})
}
