package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

type Config struct {
	transport.Config
	Signaler    transport.Signaler
	STUNServers []string
	Logger      *logrus.Logger
}

// Transport links peers over WebRTC data channels. Peers find each other
// through the Signaler; the peer with the lower identity sends the offer.
type Transport struct {
	cfg     Config
	api     *webrtc.API
	rtcConf webrtc.Configuration
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.Once

	mu          sync.Mutex
	conns       map[string]*connection
	advertising bool
	invalidated bool

	events *queue.Queue[transport.Event]
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("webrtc transport needs a signaler")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("webrtc transport needs an identity")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		rtcConf: ICEConfig(cfg.STUNServers),
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*connection),
		events:  queue.New[transport.Event](),
	}, nil
}

func (t *Transport) Start() error {
	t.mu.Lock()
	if t.invalidated {
		t.mu.Unlock()
		return transport.ErrInvalidated
	}
	if t.advertising {
		t.mu.Unlock()
		return nil
	}
	t.advertising = true
	t.mu.Unlock()

	t.loop.Do(func() { go t.run() })
	return t.cfg.Signaler.Advertise(t.ctx)
}

// Rescan repeats the announcement. Peers that already have a connection
// ignore it; the rest dial again.
func (t *Transport) Rescan() error {
	t.mu.Lock()
	if t.invalidated {
		t.mu.Unlock()
		return transport.ErrInvalidated
	}
	advertising := t.advertising
	t.mu.Unlock()

	if !advertising {
		return nil
	}
	return t.cfg.Signaler.Advertise(t.ctx)
}

func (t *Transport) Suspend() {
	t.mu.Lock()
	t.advertising = false
	t.mu.Unlock()
	t.cfg.Signaler.Withdraw()
}

// Invalidate closes every link. Each open link reports one Disconnected
// event. Start may be called again afterwards.
func (t *Transport) Invalidate() {
	t.Suspend()

	t.mu.Lock()
	conns := make([]*connection, 0, len(t.conns))
	for id, conn := range t.conns {
		delete(t.conns, id)
		if conn.isOpen() {
			t.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: id})
		}
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			t.logger.Debugf("error closing connection to %s: %v", conn.peerID, err)
		}
	}
}

func (t *Transport) Disconnect(peerID string) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	if ok {
		delete(t.conns, peerID)
		if conn.isOpen() {
			t.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: peerID})
		}
	}
	t.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			t.logger.Debugf("error closing connection to %s: %v", peerID, err)
		}
	}
}

func (t *Transport) Send(peerID string, data []byte, reliable bool) error {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	t.mu.Unlock()

	if !ok || !conn.isOpen() {
		return transport.ErrNotConnected
	}
	return conn.send(data, reliable)
}

func (t *Transport) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCount()
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events.Out()
}

// Close tears down every link and the signaler. The transport cannot be
// started again.
func (t *Transport) Close() error {
	t.Invalidate()

	t.mu.Lock()
	t.invalidated = true
	t.mu.Unlock()

	t.cancel()
	err := t.cfg.Signaler.Close()
	t.events.Close()
	return err
}

func (t *Transport) run() {
	discovered := t.cfg.Signaler.Discovered()
	signals := t.cfg.Signaler.RecvSignal()

	for {
		select {
		case <-t.ctx.Done():
			return
		case peerID, ok := <-discovered:
			if !ok {
				return
			}
			t.handleDiscovered(peerID)
		case sig, ok := <-signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *Transport) handleDiscovered(peerID string) {
	// Only the lower identity dials, so two peers never cross offers.
	if peerID == t.cfg.Identity || t.cfg.Identity > peerID {
		return
	}

	t.mu.Lock()
	if !t.advertising || t.full() {
		t.mu.Unlock()
		return
	}
	if _, exists := t.conns[peerID]; exists {
		t.mu.Unlock()
		return
	}
	conn, err := t.newConnection(peerID, true)
	if err != nil {
		t.mu.Unlock()
		t.logger.Errorf("failed to create peer connection for %s: %v", peerID, err)
		return
	}
	t.conns[peerID] = conn
	t.mu.Unlock()

	go func() {
		if err := conn.dial(t.ctx); err != nil {
			t.logger.Warnf("dial %s failed: %v", peerID, err)
			t.drop(conn)
		}
	}()
}

func (t *Transport) handleSignal(sig transport.Signal) {
	t.mu.Lock()
	conn, exists := t.conns[sig.PeerID]
	if !exists {
		if !t.advertising || t.full() {
			t.mu.Unlock()
			t.logger.Debugf("ignoring offer from %s", sig.PeerID)
			return
		}
		var err error
		conn, err = t.newConnection(sig.PeerID, false)
		if err != nil {
			t.mu.Unlock()
			t.logger.Errorf("failed to create peer connection for %s: %v", sig.PeerID, err)
			return
		}
		t.conns[sig.PeerID] = conn
	}
	t.mu.Unlock()

	go func() {
		if err := conn.handleSignal(t.ctx, sig.Payload); err != nil {
			t.logger.Warnf("signal from %s failed: %v", sig.PeerID, err)
			t.drop(conn)
		}
	}()
}

func (t *Transport) newConnection(peerID string, initiator bool) (*connection, error) {
	pc, err := t.api.NewPeerConnection(t.rtcConf)
	if err != nil {
		return nil, err
	}

	conn := newConnection(peerID, pc, t.cfg.Signaler, initiator)
	conn.onOpen = t.opened
	conn.onClose = t.drop
	conn.onMessage = func(c *connection, data []byte) {
		t.mu.Lock()
		current := t.conns[c.peerID] == c
		t.mu.Unlock()
		if !current {
			return
		}
		t.events.Push(transport.Event{Kind: transport.EventData, PeerID: c.peerID, Data: data})
	}
	return conn, nil
}

func (t *Transport) opened(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns[conn.peerID] != conn {
		return
	}
	t.logger.Debugf("data channel open with %s", conn.peerID)
	t.events.Push(transport.Event{Kind: transport.EventConnected, PeerID: conn.peerID})
}

// drop forgets a connection that closed on its own. It reports Disconnected
// only if the link had been reported as connected.
func (t *Transport) drop(conn *connection) {
	t.mu.Lock()
	current := t.conns[conn.peerID] == conn
	if current {
		delete(t.conns, conn.peerID)
		if conn.wasOpen() {
			t.events.Push(transport.Event{Kind: transport.EventDisconnected, PeerID: conn.peerID})
		}
	}
	t.mu.Unlock()

	if current {
		go conn.Close()
	}
}

func (t *Transport) openCount() int {
	n := 0
	for _, conn := range t.conns {
		if conn.isOpen() {
			n++
		}
	}
	return n
}

func (t *Transport) full() bool {
	return t.cfg.MaxPeers > 0 && len(t.conns) >= t.cfg.MaxPeers
}
