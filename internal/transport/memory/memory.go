// Package memory is an in-process radio medium. Every Transport attached to
// the same Medium and service can discover and link with the others.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

type Medium struct {
	mu     sync.Mutex
	nodes  map[string]*Transport
	links  map[link]struct{}
	logger *logrus.Entry
}

type link struct {
	a, b string
}

func newLink(x, y string) link {
	if x > y {
		x, y = y, x
	}
	return link{a: x, b: y}
}

func NewMedium(log *logrus.Logger) *Medium {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Medium{
		nodes:  make(map[string]*Transport),
		links:  make(map[link]struct{}),
		logger: log.WithField("component", "medium"),
	}
}

// Attach creates the transport for one device. Identities must be unique
// within the medium; attaching an existing identity replaces it.
func (m *Medium) Attach(cfg transport.Config) *Transport {
	t := &Transport{
		medium: m,
		cfg:    cfg,
		events: queue.New[transport.Event](),
	}

	m.mu.Lock()
	old := m.nodes[cfg.Identity]
	if old != nil {
		old.advertising = false
		m.dropLinks(cfg.Identity)
	}
	m.nodes[cfg.Identity] = t
	m.mu.Unlock()

	if old != nil {
		old.events.Close()
	}
	return t
}

// Detach removes a device from the medium, dropping its links.
func (m *Medium) Detach(t *Transport) {
	m.mu.Lock()
	if m.nodes[t.cfg.Identity] == t {
		t.advertising = false
		m.dropLinks(t.cfg.Identity)
		delete(m.nodes, t.cfg.Identity)
	}
	m.mu.Unlock()

	t.events.Close()
}

// Linked reports whether two identities currently share a link.
func (m *Medium) Linked(x, y string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[newLink(x, y)]
	return ok
}

func (m *Medium) linkCount(id string) int {
	n := 0
	for l := range m.links {
		if l.a == id || l.b == id {
			n++
		}
	}
	return n
}

// scan links t with every advertising node of the same service while both
// sides have room. Caller holds m.mu.
func (m *Medium) scan(t *Transport) {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		other := m.nodes[id]
		if other == t || !other.advertising || other.cfg.ServiceName != t.cfg.ServiceName {
			continue
		}
		l := newLink(t.cfg.Identity, id)
		if _, ok := m.links[l]; ok {
			continue
		}
		if m.full(t) || m.full(other) {
			m.logger.WithField("peer", id).Debug("Skipping peer (full)")
			continue
		}

		m.links[l] = struct{}{}
		m.logger.WithFields(logrus.Fields{"a": l.a, "b": l.b}).Debug("Link established")
		t.events.Push(transport.Event{Kind: transport.EventConnected, PeerID: id})
		other.events.Push(transport.Event{Kind: transport.EventConnected, PeerID: t.cfg.Identity})
	}
}

func (m *Medium) full(t *Transport) bool {
	return t.cfg.MaxPeers > 0 && m.linkCount(t.cfg.Identity) >= t.cfg.MaxPeers
}

// unlink drops a link and notifies both ends. Caller holds m.mu.
func (m *Medium) unlink(x, y string) {
	l := newLink(x, y)
	if _, ok := m.links[l]; !ok {
		return
	}
	delete(m.links, l)

	if n, ok := m.nodes[x]; ok {
		n.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: y})
	}
	if n, ok := m.nodes[y]; ok {
		n.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: x})
	}
}

// dropLinks unlinks every link touching id. Caller holds m.mu.
func (m *Medium) dropLinks(id string) {
	for l := range m.links {
		if l.a == id || l.b == id {
			m.unlink(l.a, l.b)
		}
	}
}

type Transport struct {
	medium      *Medium
	cfg         transport.Config
	events      *queue.Queue[transport.Event]
	advertising bool // guarded by medium.mu
}

var _ transport.Transport = (*Transport)(nil)

// Start advertises and browses. Starting while already advertising is a
// no-op; peers that start later find this node on their own scan.
func (t *Transport) Start() error {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nodes[t.cfg.Identity] != t {
		return transport.ErrInvalidated
	}
	if t.advertising {
		return nil
	}

	t.advertising = true
	m.scan(t)
	return nil
}

func (t *Transport) Rescan() error {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nodes[t.cfg.Identity] != t {
		return transport.ErrInvalidated
	}
	if t.advertising {
		m.scan(t)
	}
	return nil
}

func (t *Transport) Suspend() {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	t.advertising = false
}

func (t *Transport) Invalidate() {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	t.advertising = false
	if m.nodes[t.cfg.Identity] == t {
		m.dropLinks(t.cfg.Identity)
	}
}

func (t *Transport) Disconnect(peerID string) {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlink(t.cfg.Identity, peerID)
}

// Send delivers immediately. The medium never drops, so reliable is ignored.
func (t *Transport) Send(peerID string, data []byte, _ bool) error {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[newLink(t.cfg.Identity, peerID)]; !ok {
		return transport.ErrNotConnected
	}
	peer, ok := m.nodes[peerID]
	if !ok {
		return transport.ErrNotConnected
	}

	peer.events.Push(transport.Event{
		Kind:   transport.EventData,
		PeerID: t.cfg.Identity,
		Data:   bytes.Clone(data),
	})
	return nil
}

func (t *Transport) ConnectedCount() int {
	m := t.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkCount(t.cfg.Identity)
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events.Out()
}

func (t *Transport) Identity() string {
	return t.cfg.Identity
}
