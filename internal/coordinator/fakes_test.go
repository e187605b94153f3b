package coordinator

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/ranging"
	"github.com/rudransh-shrivastava/halozone/internal/store"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

type sentFrame struct {
	peerID string
	data   []byte
}

type fakeTransport struct {
	events *queue.Queue[transport.Event]

	mu          sync.Mutex
	sent        []sentFrame
	disconnects []string
	starts      int
	suspends    int
	invalidates int
	rescans     int
	sendErr     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: queue.New[transport.Event]()}
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeTransport) Rescan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescans++
	return nil
}

func (f *fakeTransport) rescanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rescans
}

func (f *fakeTransport) Suspend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
}

func (f *fakeTransport) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidates++
}

func (f *fakeTransport) Disconnect(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, peerID)
}

func (f *fakeTransport) Send(peerID string, data []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{peerID: peerID, data: bytes.Clone(data)})
	return f.sendErr
}

func (f *fakeTransport) ConnectedCount() int { return 0 }

func (f *fakeTransport) Events() <-chan transport.Event { return f.events.Out() }

func (f *fakeTransport) connect(peerID string) {
	f.events.Push(transport.Event{Kind: transport.EventConnected, PeerID: peerID})
}

func (f *fakeTransport) disconnect(peerID string) {
	f.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: peerID})
}

func (f *fakeTransport) deliver(peerID string, data []byte) {
	f.events.Push(transport.Event{Kind: transport.EventData, PeerID: peerID, Data: data})
}

func (f *fakeTransport) sentTo(peerID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, s := range f.sent {
		if s.peerID == peerID {
			out = append(out, s.data)
		}
	}
	return out
}

func (f *fakeTransport) disconnected(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.disconnects {
		if id == peerID {
			return true
		}
	}
	return false
}

func (f *fakeTransport) counts() (starts, suspends, invalidates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.suspends, f.invalidates
}

var (
	errFakeToken   = errors.New("not a fake token")
	errFakeSession = errors.New("ranging unavailable")
)

// fakeEngine hands out sessions whose local tokens are "tok-<n>". The first
// failures calls to NewSession fail.
type fakeEngine struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
	attempts int
}

func (e *fakeEngine) NewSession() (ranging.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	if e.failures > 0 {
		e.failures--
		return nil, errFakeSession
	}
	s := &fakeSession{
		token:  []byte("tok-" + strconv.Itoa(len(e.sessions))),
		events: queue.New[ranging.Event](),
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) CheckToken(data []byte) error {
	if !bytes.HasPrefix(data, []byte("tok-")) {
		return errFakeToken
	}
	return nil
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *fakeEngine) attemptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

func (e *fakeEngine) latest() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[len(e.sessions)-1]
}

type fakeSession struct {
	token  []byte
	events *queue.Queue[ranging.Event]

	mu          sync.Mutex
	runs        [][]byte
	invalidated bool
}

func (s *fakeSession) LocalToken() []byte { return bytes.Clone(s.token) }

func (s *fakeSession) Run(peerToken []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, bytes.Clone(peerToken))
	return nil
}

func (s *fakeSession) Invalidate() {
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
	s.events.Close()
}

func (s *fakeSession) Events() <-chan ranging.Event { return s.events.Out() }

func (s *fakeSession) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *fakeSession) lastRun() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	return s.runs[len(s.runs)-1]
}

func (s *fakeSession) isInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

func (s *fakeSession) distance(peerToken string, d float64) {
	s.events.Push(ranging.Event{Kind: ranging.EventDistance, PeerToken: []byte(peerToken), Distance: d})
}

func (s *fakeSession) removed(peerToken string, reason ranging.RemovalReason) {
	s.events.Push(ranging.Event{Kind: ranging.EventRemoved, PeerToken: []byte(peerToken), Reason: reason})
}

type loggedMessage struct {
	peerID string
	text   string
	dir    store.Direction
	at     time.Time
}

type fakeStore struct {
	mu       sync.Mutex
	blocked  []string
	messages []loggedMessage
	clears   int
}

func (s *fakeStore) GetBlockedPeers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.blocked...), nil
}

func (s *fakeStore) SetBlockedPeers(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append([]string(nil), ids...)
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, peerID, text string, dir store.Direction, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, loggedMessage{peerID: peerID, text: text, dir: dir, at: at})
	return nil
}

func (s *fakeStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = nil
	s.messages = nil
	s.clears++
	return nil
}

func (s *fakeStore) blockedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.blocked...)
}

func (s *fakeStore) log() []loggedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loggedMessage(nil), s.messages...)
}
