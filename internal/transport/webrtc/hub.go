package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Hub is an in-process rendezvous for peers sharing one service. It stands in
// for a LAN announcement service when every device runs in one process.
type Hub struct {
	mu      sync.Mutex
	members map[string]*hubSignaler
}

func NewHub() *Hub {
	return &Hub{members: make(map[string]*hubSignaler)}
}

// Signaler registers identity with the hub. Registering the same identity
// again replaces the earlier member.
func (h *Hub) Signaler(identity string) transport.Signaler {
	s := &hubSignaler{
		hub:        h,
		identity:   identity,
		discovered: queue.New[string](),
		signals:    queue.New[transport.Signal](),
	}

	h.mu.Lock()
	old := h.members[identity]
	h.members[identity] = s
	h.mu.Unlock()

	if old != nil {
		old.shutdown()
	}
	return s
}

type hubSignaler struct {
	hub         *Hub
	identity    string
	advertising bool
	closed      bool

	discovered *queue.Queue[string]
	signals    *queue.Queue[transport.Signal]
}

// Advertise announces this member to every advertising member and reports
// every advertising member back. Calling it again repeats the announcement.
func (s *hubSignaler) Advertise(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if s.closed || s.hub.members[s.identity] != s {
		return transport.ErrInvalidated
	}
	s.advertising = true

	for id, other := range s.hub.members {
		if other == s || !other.advertising {
			continue
		}
		other.discovered.Push(s.identity)
		s.discovered.Push(id)
	}
	return nil
}

func (s *hubSignaler) Withdraw() {
	s.hub.mu.Lock()
	s.advertising = false
	s.hub.mu.Unlock()
}

func (s *hubSignaler) Discovered() <-chan string {
	return s.discovered.Out()
}

func (s *hubSignaler) SendSignal(ctx context.Context, peerID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	dst, ok := s.hub.members[peerID]
	if !ok || dst.closed {
		return ErrUnknownPeer
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	dst.signals.Push(transport.Signal{PeerID: s.identity, Payload: buf})
	return nil
}

func (s *hubSignaler) RecvSignal() <-chan transport.Signal {
	return s.signals.Out()
}

func (s *hubSignaler) Close() error {
	s.hub.mu.Lock()
	if s.hub.members[s.identity] == s {
		delete(s.hub.members, s.identity)
	}
	s.hub.mu.Unlock()

	s.shutdown()
	return nil
}

func (s *hubSignaler) shutdown() {
	s.hub.mu.Lock()
	if s.closed {
		s.hub.mu.Unlock()
		return
	}
	s.closed = true
	s.advertising = false
	s.hub.mu.Unlock()

	s.discovered.Close()
	s.signals.Close()
}
