package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Relay event names. These are part of the wire contract.
const (
	EventJoinRoom          = "join-room"
	EventCallAll           = "call-all"
	EventCallIDs           = "call-ids"
	EventSendICECandidate  = "send-ice-candidate"
	EventMakePeerCallReply = "make-peer-call-answer"
	EventCallPeer          = "call-peer"

	EventRoomClients             = "room-clients"
	EventMakePeerCall            = "make-peer-call"
	EventPeerCallReceived        = "peer-call-received"
	EventPeerCallAnswerReceived  = "peer-call-answer-received"
	EventICECandidateReceived    = "ice-candidate-received"
	EventCloseAllPeerConnections = "close-all-peer-connections-request-received"
)

// ClientType is the participant type the console announces on join.
const ClientType = "console"

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	case "pranswer":
		t = webrtc.SDPTypePranswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// RoomClient is one entry of a room-clients membership snapshot.
type RoomClient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// JoinRoomRequest is the join-room payload.
type JoinRoomRequest struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Room   string            `json:"room"`
	RoomID string            `json:"roomId,omitempty"`
	Role   string            `json:"role,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

type PeerCallReceived struct {
	FromID string              `json:"fromId"`
	Offer  *SessionDescription `json:"offer"`
}

// PeerCallAnswerReceived carries no Answer when the remote side declined.
type PeerCallAnswerReceived struct {
	FromID string              `json:"fromId"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

type ICECandidateReceived struct {
	FromID    string     `json:"fromId"`
	Candidate *Candidate `json:"candidate"`
}

type CallPeer struct {
	ToID  string             `json:"toId"`
	Offer SessionDescription `json:"offer"`
}

// PeerCallAnswer declines the call when Answer is nil.
type PeerCallAnswer struct {
	ToID   string              `json:"toId"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

// SendICECandidate with a nil Candidate signals end of gathering.
type SendICECandidate struct {
	ToID      string     `json:"toId"`
	Candidate *Candidate `json:"candidate"`
}
