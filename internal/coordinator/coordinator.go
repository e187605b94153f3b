// Package coordinator owns the peer directory of one device. It merges
// transport and ranging events into one peer model from a single event loop
// and drives the token exchange, messaging and blocking policy.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/config"
	"github.com/rudransh-shrivastava/halozone/internal/logger"
	"github.com/rudransh-shrivastava/halozone/internal/protocol"
	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/ranging"
	"github.com/rudransh-shrivastava/halozone/internal/store"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

var (
	ErrPeerNotFound         = errors.New("peer not in directory")
	ErrNotRunning           = errors.New("coordinator is not running")
	ErrAlreadyRunning       = errors.New("coordinator is already running")
	ErrPeerCapacityExceeded = errors.New("peer capacity exceeded")
	ErrBlockedPeer          = errors.New("peer is blocked")
)

// Gateway is the persistence the coordinator needs.
type Gateway interface {
	GetBlockedPeers(ctx context.Context) ([]string, error)
	SetBlockedPeers(ctx context.Context, ids []string) error
	AppendMessage(ctx context.Context, peerID, text string, dir store.Direction, at time.Time) error
	ClearAll(ctx context.Context) error
}

type Options struct {
	Identity  string
	Transport transport.Transport
	Engine    ranging.Engine
	Store     Gateway
	Logger    *logrus.Logger

	MaxPeers int
	Ranging  config.RangingConfig
	Exchange config.ExchangeConfig

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

type Coordinator struct {
	id        string
	transport transport.Transport
	engine    ranging.Engine
	store     Gateway
	codec     *protocol.Codec
	logger    *logrus.Entry
	now       func() time.Time

	maxPeers int
	policy   config.RangingConfig
	exchange config.ExchangeConfig

	autoSend  atomic.Bool
	broadcast atomic.Pointer[string]

	// Loop-owned state.
	dir         *directory
	blocked     map[string]struct{}
	slot        *rangingSlot
	pendingAcks map[string]uint64
	ackSeq      uint64

	rangingEvents *queue.Queue[rangingEnvelope]
	requests      chan func()

	started atomic.Bool
	running atomic.Bool
	stopped chan struct{}

	current     atomic.Pointer[snapshot]
	subMu       sync.Mutex
	subscribers map[int]chan []Peer
	nextSub     int
}

func New(opts Options) (*Coordinator, error) {
	if opts.Identity == "" {
		return nil, fmt.Errorf("coordinator needs an identity")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("coordinator needs a transport")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("coordinator needs a ranging engine")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("coordinator needs a store")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	if opts.MaxPeers < 1 {
		opts.MaxPeers = config.DefaultMaxPeers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		id:            opts.Identity,
		transport:     opts.Transport,
		engine:        opts.Engine,
		store:         opts.Store,
		codec:         protocol.NewCodec(opts.Engine),
		logger:        log.WithField("identity", opts.Identity),
		now:           opts.Now,
		maxPeers:      opts.MaxPeers,
		policy:        opts.Ranging,
		exchange:      opts.Exchange,
		dir:           newDirectory(),
		blocked:       make(map[string]struct{}),
		pendingAcks:   make(map[string]uint64),
		rangingEvents: queue.New[rangingEnvelope](),
		requests:      make(chan func()),
		stopped:       make(chan struct{}),
		subscribers:   make(map[int]chan []Peer),
	}
	c.slot = newRangingSlot(opts.Ranging)
	c.autoSend.Store(opts.Exchange.AutoSend)
	msg := opts.Exchange.BroadcastMessage
	c.broadcast.Store(&msg)
	c.current.Store(&snapshot{})
	return c, nil
}

func (c *Coordinator) Identity() string {
	return c.id
}

// Run is the event loop. It loads the blocked set, starts discovery and
// ranging, then serializes every transport event, ranging event and request
// until ctx is done. Both sessions are invalidated on return.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	c.loadBlocked(ctx)
	c.publish()
	c.running.Store(true)
	defer c.shutdown()

	c.logger.Infof("Coordinator starting as %s", c.id)
	c.startup()
	c.publish()

	transportEvents := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator stopping")
			return ctx.Err()
		case ev, ok := <-transportEvents:
			if !ok {
				return fmt.Errorf("transport event stream closed")
			}
			c.handleTransportEvent(ev)
		case env := <-c.rangingEvents.Out():
			c.handleRangingEnvelope(env)
		case fn := <-c.requests:
			fn()
		}
		c.publish()
	}
}

func (c *Coordinator) shutdown() {
	c.running.Store(false)
	close(c.stopped)

	c.slot.stopRetry()
	c.slot.invalidate()
	c.transport.Invalidate()
	c.rangingEvents.Close()

	c.subMu.Lock()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.subMu.Unlock()
}

func (c *Coordinator) loadBlocked(ctx context.Context) {
	ids, err := c.store.GetBlockedPeers(ctx)
	if err != nil {
		c.logger.Warnf("Failed to load blocked peers: %v", err)
		return
	}
	for _, id := range ids {
		c.blocked[id] = struct{}{}
	}
	if len(ids) > 0 {
		c.logger.Infof("Loaded %d blocked peers", len(ids))
	}
}

// startup supersedes every session: the directory is emptied, the ranging
// session is replaced and the transport is invalidated and restarted.
func (c *Coordinator) startup() {
	c.logger.Debug("Starting local session")

	c.dir.clear()
	c.pendingAcks = make(map[string]uint64)

	if err := c.slot.replaceSession(c.engine, c.forward); err != nil {
		c.logger.Warnf("Failed to start ranging session: %v", err)
		c.scheduleSessionRetry(1)
	}

	c.transport.Invalidate()
	if err := c.transport.Start(); err != nil {
		c.logger.Warnf("Failed to start transport: %v", err)
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	if !c.running.Load() {
		return ErrNotRunning
	}

	result := make(chan error, 1)
	req := func() {
		err := fn()
		c.publish()
		result <- err
	}

	select {
	case c.requests <- req:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the event loop without waiting. Used by timers.
func (c *Coordinator) post(fn func()) {
	select {
	case c.requests <- fn:
	case <-c.stopped:
	}
}

// Send encodes message as a text frame for peerID. Delivery failures are
// logged and the message is still recorded as sent.
func (c *Coordinator) Send(ctx context.Context, message, peerID string) error {
	return c.do(ctx, func() error {
		return c.send(message, peerID)
	})
}

// Reset clears the blocked set and the message log, empties the directory
// and restarts both sessions. The identity is kept.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.logger.Info("Resetting all state")
		c.blocked = make(map[string]struct{})
		if err := c.store.ClearAll(context.Background()); err != nil {
			c.logger.Warnf("Failed to clear store: %v", err)
		}
		c.startup()
		return nil
	})
}

func (c *Coordinator) Block(ctx context.Context, peerID string) error {
	return c.do(ctx, func() error {
		c.block(peerID)
		if _, ok := c.dir.get(peerID); ok {
			c.transport.Disconnect(peerID)
			c.removePeer(peerID, "blocked")
		}
		return nil
	})
}

func (c *Coordinator) Unblock(ctx context.Context, peerID string) error {
	return c.do(ctx, func() error {
		if _, ok := c.blocked[peerID]; !ok {
			return nil
		}
		delete(c.blocked, peerID)
		c.persistBlocked()
		c.logger.WithField("peer", peerID).Info("Unblocked peer")
		if c.dir.len() < c.maxPeers {
			c.startTransport()
			c.rediscover()
		}
		return nil
	})
}

func (c *Coordinator) SetAutoSend(enabled bool) {
	c.autoSend.Store(enabled)
}

func (c *Coordinator) SetBroadcastMessage(text string) {
	c.broadcast.Store(&text)
}

func (c *Coordinator) block(peerID string) {
	if _, ok := c.blocked[peerID]; ok {
		return
	}
	c.blocked[peerID] = struct{}{}
	c.persistBlocked()
	c.logger.WithField("peer", peerID).Info("Blocked peer")
}

func (c *Coordinator) isBlocked(peerID string) bool {
	_, ok := c.blocked[peerID]
	return ok
}

func (c *Coordinator) blockedList() []string {
	ids := make([]string, 0, len(c.blocked))
	for id := range c.blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) persistBlocked() {
	if err := c.store.SetBlockedPeers(context.Background(), c.blockedList()); err != nil {
		c.logger.Warnf("Failed to persist blocked peers: %v", err)
	}
}

func (c *Coordinator) startTransport() {
	if err := c.transport.Start(); err != nil {
		c.logger.Warnf("Failed to restart transport: %v", err)
	}
}

// rediscover asks an advertising transport to look for peers it already
// passed over.
func (c *Coordinator) rediscover() {
	if c.dir.len() >= c.maxPeers {
		return
	}
	if err := c.transport.Rescan(); err != nil {
		c.logger.Warnf("Failed to rescan: %v", err)
	}
}
