// Package sim is a ranging engine for tests and the simulator: devices sit on
// a plane and every Tick reports distances between mutually configured,
// live sessions.
package sim

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/ranging"
)

const DefaultMaxRange = 9.0

type Point struct {
	X, Y float64
}

func (p Point) DistanceTo(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

type Space struct {
	mu        sync.Mutex
	maxRange  float64
	positions map[string]Point
	suspended map[string]bool
	sessions  map[uuid.UUID]*session
	logger    *logrus.Entry
}

type Option func(*Space)

func WithMaxRange(meters float64) Option {
	return func(s *Space) { s.maxRange = meters }
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *Space) { s.logger = log.WithField("component", "ranging-sim") }
}

func NewSpace(opts ...Option) *Space {
	s := &Space{
		maxRange:  DefaultMaxRange,
		positions: make(map[string]Point),
		suspended: make(map[string]bool),
		sessions:  make(map[uuid.UUID]*session),
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Place moves a device. Unplaced devices sit at the origin.
func (s *Space) Place(deviceID string, x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[deviceID] = Point{X: x, Y: y}
}

func (s *Space) Position(deviceID string) Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[deviceID]
}

// Engine returns the ranging engine of one device.
func (s *Space) Engine(deviceID string) *Engine {
	return &Engine{space: s, deviceID: deviceID}
}

// Suspend pauses every live session of a device, like an app moving to the
// background.
func (s *Space) Suspend(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suspended[deviceID] {
		return
	}
	s.suspended[deviceID] = true
	for _, sess := range s.sessions {
		if sess.token.DeviceID == deviceID {
			sess.events.Push(ranging.Event{Kind: ranging.EventSuspended})
		}
	}
}

func (s *Space) Resume(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.suspended[deviceID] {
		return
	}
	delete(s.suspended, deviceID)
	for _, sess := range s.sessions {
		if sess.token.DeviceID == deviceID {
			sess.events.Push(ranging.Event{Kind: ranging.EventResumed})
		}
	}
}

// Fail kills every live session of a device with an engine error. The
// owner still has to Invalidate the handle.
func (s *Space) Fail(deviceID string, err error) {
	s.mu.Lock()
	var failing []*session
	for _, sess := range s.sessions {
		if sess.token.DeviceID == deviceID {
			failing = append(failing, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range failing {
		s.unregister(sess)
		sess.events.Push(ranging.Event{Kind: ranging.EventInvalidated, Err: err})
	}
}

// Tick produces one round of measurements.
func (s *Space) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.peer == nil || s.suspended[sess.token.DeviceID] {
			continue
		}

		peer, ok := s.sessions[sess.peer.SessionID]
		if !ok || peer.peer == nil || peer.peer.SessionID != sess.token.SessionID {
			continue
		}
		if s.suspended[peer.token.DeviceID] {
			continue
		}

		d := s.positions[sess.token.DeviceID].DistanceTo(s.positions[peer.token.DeviceID])
		if d > s.maxRange {
			if !sess.timedOut {
				sess.timedOut = true
				sess.events.Push(ranging.Event{
					Kind:      ranging.EventRemoved,
					PeerToken: bytes.Clone(sess.peerRaw),
					Reason:    ranging.ReasonTimeout,
				})
			}
			continue
		}

		sess.ranged = true
		sess.timedOut = false
		sess.events.Push(ranging.Event{
			Kind:      ranging.EventDistance,
			PeerToken: bytes.Clone(sess.peerRaw),
			Distance:  d,
		})
	}
}

// Run ticks until ctx is done.
func (s *Space) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Space) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.token.SessionID] = sess
}

// unregister removes a session and tells every partner that was actively
// ranging with it that the peer ended.
func (s *Space) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.token.SessionID]; !ok {
		return
	}
	delete(s.sessions, sess.token.SessionID)

	for _, other := range s.sessions {
		if other.peer == nil || other.peer.SessionID != sess.token.SessionID || !other.ranged {
			continue
		}
		s.logger.WithField("device", other.token.DeviceID).Debug("Ranging partner ended its session")
		other.events.Push(ranging.Event{
			Kind:      ranging.EventRemoved,
			PeerToken: bytes.Clone(other.peerRaw),
			Reason:    ranging.ReasonPeerEnded,
		})
		other.peer = nil
		other.peerRaw = nil
		other.ranged = false
	}
}

func (s *Space) configure(sess *session, peer ranging.DiscoveryToken, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.token.SessionID]; !ok {
		return ranging.ErrSessionInvalidated
	}
	sess.peer = &peer
	sess.peerRaw = bytes.Clone(raw)
	sess.ranged = false
	sess.timedOut = false
	return nil
}
