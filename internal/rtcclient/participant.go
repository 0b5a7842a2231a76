package rtcclient

import "github.com/pion/webrtc/v4"

// Participant is one room member as seen by a client. It is rebuilt from the
// latest membership snapshot on every refresh.
type Participant struct {
	ID   string
	Name string
	Type string
	// Connected is true when a peer connection to ID is registered or ID is
	// the client's own session.
	Connected bool

	// Stream is set by stream clients once a remote track has arrived.
	Stream *RemoteStream
	// DataChannel is set by data channel clients once a channel is
	// registered for ID.
	DataChannel *webrtc.DataChannel
}
