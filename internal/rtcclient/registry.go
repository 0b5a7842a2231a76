package rtcclient

import (
	"slices"

	"github.com/pion/webrtc/v4"
)

// Role is the side of the offer/answer exchange a peer connection was
// created for.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

type peerEntry struct {
	pc    *webrtc.PeerConnection
	role  Role
	state webrtc.PeerConnectionState
}

// awaitingAnswer reports whether e sent an offer that has not been answered.
func (e *peerEntry) awaitingAnswer() bool {
	return e.role == RoleCaller && e.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer
}

// registry holds the live peer connections of one client keyed by remote
// participant id, plus the ids whose calls are accepted without asking the
// acceptor. It is not safe for concurrent use; Client guards it.
type registry struct {
	entries     map[string]*peerEntry
	preAccepted map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		entries:     make(map[string]*peerEntry),
		preAccepted: make(map[string]struct{}),
	}
}

func (r *registry) get(id string) *peerEntry { return r.entries[id] }

func (r *registry) has(id string) bool {
	_, ok := r.entries[id]
	return ok
}

// current reports whether pc is the registered connection for id.
func (r *registry) current(id string, pc *webrtc.PeerConnection) bool {
	e := r.entries[id]
	return e != nil && e.pc == pc
}

// add registers e under id unless an entry already exists.
func (r *registry) add(id string, e *peerEntry) bool {
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = e
	return true
}

// remove deletes the entry for id and its pre-accepted mark. A non-nil pc
// must match the registered connection.
func (r *registry) remove(id string, pc *webrtc.PeerConnection) *peerEntry {
	e := r.entries[id]
	if e == nil || (pc != nil && e.pc != pc) {
		return nil
	}
	delete(r.entries, id)
	delete(r.preAccepted, id)
	return e
}

// drain empties the registry and the pre-accepted set and returns the
// removed entries.
func (r *registry) drain() map[string]*peerEntry {
	out := r.entries
	r.entries = make(map[string]*peerEntry)
	clear(r.preAccepted)
	return out
}

func (r *registry) ids() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// preAccept replaces the pre-accepted set with ids.
func (r *registry) preAccept(ids []string) {
	clear(r.preAccepted)
	for _, id := range ids {
		r.preAccepted[id] = struct{}{}
	}
}

func (r *registry) isPreAccepted(id string) bool {
	_, ok := r.preAccepted[id]
	return ok
}
