package metrics

import "sync"

// Event counter names. Room-scoped counters are recorded once per room as
// "<name>" and are not labelled by room.
const (
	CallsOffered        = "calls_offered"
	CallsAnswered       = "calls_answered"
	CallsRejected       = "calls_rejected"
	CallsDeclinedByPeer = "calls_declined_by_peer"
	NegotiationErrors   = "negotiation_errors"
	PeerConnects        = "peer_connects"
	PeerDisconnects     = "peer_disconnects"
	RelayConnectErrors  = "relay_connect_errors"
	RelayDisconnects    = "relay_disconnects"
	InCallCounterClamps = "in_call_counter_clamps"
	DataChannelDrops    = "datachannel_send_dropped"
	DataChannelMessages = "datachannel_messages_received"
	RoomsSkipped        = "rooms_skipped_unsupported"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// every update so components can be built without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
