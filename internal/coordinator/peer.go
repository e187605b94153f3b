package coordinator

import (
	"bytes"
	"time"
)

type PeerState uint8

const (
	StateConnecting PeerState = iota
	StateTokenPending
	StateTokenExchanged
	StateRanging
	StateDisconnected
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateTokenPending:
		return "token-pending"
	case StateTokenExchanged:
		return "token-exchanged"
	case StateRanging:
		return "ranging"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Peer is a read-only copy of one directory entry.
type Peer struct {
	ID             string
	State          PeerState
	DiscoveryToken []byte
	Distance       *float64
	LastMessage    string
	HasMessage     bool
	TokenShared    bool
	ConnectedAt    time.Time
}

type record struct {
	id          string
	state       PeerState
	token       []byte
	distance    *float64
	lastMessage string
	hasMessage  bool
	tokenShared bool
	connectedAt time.Time
}

func (r *record) snapshot() Peer {
	p := Peer{
		ID:             r.id,
		State:          r.state,
		DiscoveryToken: bytes.Clone(r.token),
		LastMessage:    r.lastMessage,
		HasMessage:     r.hasMessage,
		TokenShared:    r.tokenShared,
		ConnectedAt:    r.connectedAt,
	}
	if r.distance != nil {
		d := *r.distance
		p.Distance = &d
	}
	return p
}

// directory holds the records in connection order plus the token index used
// to route distance updates back to a peer. Only the event loop touches it.
type directory struct {
	order   []string
	records map[string]*record
	byToken map[string]string
}

func newDirectory() *directory {
	return &directory{
		records: make(map[string]*record),
		byToken: make(map[string]string),
	}
}

func (d *directory) get(id string) (*record, bool) {
	r, ok := d.records[id]
	return r, ok
}

func (d *directory) len() int {
	return len(d.order)
}

// add inserts r unless its id is already present.
func (d *directory) add(r *record) bool {
	if _, exists := d.records[r.id]; exists {
		return false
	}
	d.records[r.id] = r
	d.order = append(d.order, r.id)
	return true
}

func (d *directory) remove(id string) (*record, bool) {
	r, ok := d.records[id]
	if !ok {
		return nil, false
	}
	delete(d.records, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	if r.token != nil && d.byToken[string(r.token)] == id {
		delete(d.byToken, string(r.token))
	}
	r.state = StateDisconnected
	r.token = nil
	r.tokenShared = false
	return r, true
}

// setToken stores the peer's discovery token and indexes it in one step.
func (d *directory) setToken(r *record, token []byte) {
	if r.token != nil && d.byToken[string(r.token)] == r.id {
		delete(d.byToken, string(r.token))
	}
	r.token = bytes.Clone(token)
	d.byToken[string(r.token)] = r.id
}

func (d *directory) peerForToken(token []byte) (*record, bool) {
	id, ok := d.byToken[string(token)]
	if !ok {
		return nil, false
	}
	return d.get(id)
}

func (d *directory) clear() {
	for _, r := range d.records {
		r.state = StateDisconnected
	}
	d.order = nil
	d.records = make(map[string]*record)
	d.byToken = make(map[string]string)
}

func (d *directory) snapshot() []Peer {
	peers := make([]Peer, 0, len(d.order))
	for _, id := range d.order {
		peers = append(peers, d.records[id].snapshot())
	}
	return peers
}
