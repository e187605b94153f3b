// Package ranging defines the contract between the coordinator and a
// distance-ranging engine, plus the discovery-token wire format engines in
// this module share.
package ranging

import "errors"

var (
	ErrInvalidToken       = errors.New("invalid discovery token")
	ErrSessionInvalidated = errors.New("ranging session invalidated")
)

// Engine creates ranging sessions. A device holds at most one live session.
type Engine interface {
	NewSession() (Session, error)
	CheckToken(data []byte) error
}

// Session is one engine handle with its own local discovery token.
//
// Run configures the session against a peer token; calling it again replaces
// the previous configuration and its event stream. Invalidate is idempotent
// and closes Events.
type Session interface {
	LocalToken() []byte
	Run(peerToken []byte) error
	Invalidate()
	Events() <-chan Event
}

type EventKind uint8

const (
	EventDistance EventKind = iota + 1
	EventInvalidated
	EventRemoved
	EventSuspended
	EventResumed
)

func (k EventKind) String() string {
	switch k {
	case EventDistance:
		return "DISTANCE"
	case EventInvalidated:
		return "INVALIDATED"
	case EventRemoved:
		return "REMOVED"
	case EventSuspended:
		return "SUSPENDED"
	case EventResumed:
		return "RESUMED"
	default:
		return "UNKNOWN"
	}
}

type RemovalReason uint8

const (
	ReasonOther RemovalReason = iota
	ReasonPeerEnded
	ReasonTimeout
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonPeerEnded:
		return "peerEnded"
	case ReasonTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Event is emitted by a Session. PeerToken is the token the session was run
// with when the event was produced.
type Event struct {
	Kind      EventKind
	PeerToken []byte
	Distance  float64
	Reason    RemovalReason
	Err       error
}
