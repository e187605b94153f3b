// Package transport defines the connectivity contract used by the
// coordinator: advertise/browse/connect handled by the adapter, a single
// ordered event stream out, fire-and-forget datagrams in.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotConnected = errors.New("peer not connected")
	ErrInvalidated  = errors.New("transport invalidated")
)

type Transport interface {
	// Start begins advertising and browsing. Calling it while already
	// advertising does nothing.
	Start() error
	// Rescan looks again for advertising peers that have no link, such as a
	// peer that dropped or was unblocked. It does nothing while suspended.
	Rescan() error
	// Suspend stops advertising and browsing; existing links stay up.
	Suspend()
	// Invalidate suspends and drops every link. Safe to call repeatedly.
	Invalidate()
	// Disconnect drops the link with one peer.
	Disconnect(peerID string)
	Send(peerID string, data []byte, reliable bool) error
	ConnectedCount() int
	Events() <-chan Event
}

type Config struct {
	ServiceName string
	Identity    string
	MaxPeers    int
}

type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

type Event struct {
	Kind   EventKind
	PeerID string
	Data   []byte
}

// Signaler carries discovery announcements and connection setup payloads for
// transports that need an out-of-band rendezvous.
type Signaler interface {
	Advertise(ctx context.Context) error
	Withdraw()
	Discovered() <-chan string
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
