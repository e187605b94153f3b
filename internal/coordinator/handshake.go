package coordinator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/protocol"
	"github.com/rudransh-shrivastava/halozone/internal/store"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

func (c *Coordinator) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		c.handleConnected(ev.PeerID)
	case transport.EventDisconnected:
		c.handleDisconnected(ev.PeerID)
	case transport.EventData:
		c.handleData(ev.PeerID, ev.Data)
	default:
		c.logger.Debugf("Ignoring transport event %s", ev.Kind)
	}
}

func (c *Coordinator) handleConnected(peerID string) {
	log := c.logger.WithField("peer", peerID)

	if err := c.admit(peerID); err != nil {
		log.Infof("Rejecting connection: %v", err)
		c.transport.Disconnect(peerID)
		return
	}

	r := &record{id: peerID, state: StateConnecting, connectedAt: c.now()}
	if !c.dir.add(r) {
		log.Debug("Peer already in directory")
		return
	}
	log.Info("Peer connected")

	c.shareToken(r)

	if c.dir.len() >= c.maxPeers {
		log.Debugf("Directory full (%d peers), suspending discovery", c.dir.len())
		c.transport.Suspend()
	}

	if msg := *c.broadcast.Load(); c.autoSend.Load() && msg != "" {
		if err := c.send(msg, peerID); err != nil {
			log.Warnf("Auto-send failed: %v", err)
		}
	}
}

// admit decides whether a newly connected peer may enter the directory.
func (c *Coordinator) admit(peerID string) error {
	if c.isBlocked(peerID) {
		return ErrBlockedPeer
	}
	if _, exists := c.dir.get(peerID); exists {
		return nil
	}
	if c.dir.len() >= c.maxPeers {
		return ErrPeerCapacityExceeded
	}
	return nil
}

func (c *Coordinator) handleDisconnected(peerID string) {
	r, ok := c.dir.get(peerID)
	if !ok {
		return
	}
	// A peer that never shared its token may have rejected us, and looking
	// for it again would relink it straight away.
	admitted := r.token != nil
	c.removePeer(peerID, "transport disconnected")
	if admitted {
		c.rediscover()
	}
}

// removePeer deletes the record and resumes discovery when there is room.
func (c *Coordinator) removePeer(peerID, reason string) {
	if _, ok := c.dir.remove(peerID); !ok {
		return
	}
	delete(c.pendingAcks, peerID)
	c.logger.WithFields(logrus.Fields{"peer": peerID, "reason": reason}).Info("Peer removed")

	if c.slot.peerID == peerID {
		c.slot.clearRun()
	}

	if c.dir.len() < c.maxPeers {
		c.startTransport()
	}
}

// shareToken sends the local discovery token once per connection.
func (c *Coordinator) shareToken(r *record) {
	if r.tokenShared {
		return
	}
	local := c.slot.localToken()
	if local == nil {
		return
	}

	if err := c.transport.Send(r.id, protocol.EncodeToken(local), true); err != nil {
		c.logger.WithField("peer", r.id).Warnf("Failed to share token: %v", err)
		return
	}
	r.tokenShared = true
	if r.state == StateConnecting {
		r.state = StateTokenPending
	}
}

func (c *Coordinator) handleData(peerID string, data []byte) {
	log := c.logger.WithField("peer", peerID)

	r, ok := c.dir.get(peerID)
	if !ok {
		log.Debugf("Dropping %d bytes from peer not in directory", len(data))
		return
	}

	frame, err := c.codec.DecodeFromBytes(data)
	if err != nil {
		log.Debugf("Dropping frame: %v", err)
		return
	}

	switch f := frame.(type) {
	case protocol.TokenShare:
		c.handleTokenShare(r, f.Token)
	case protocol.Text:
		c.handleText(r, f.Message)
	case protocol.Ack:
		c.handleAck(r, f.SenderID)
	default:
		log.Debugf("Ignoring frame %s", frame.Kind())
	}
}

func (c *Coordinator) handleTokenShare(r *record, token []byte) {
	log := c.logger.WithField("peer", r.id)
	if r.token != nil {
		log.Debug("Ignoring repeated token share")
		return
	}

	c.dir.setToken(r, token)
	r.state = StateTokenExchanged
	log.Info("Received discovery token")

	c.runRanging(r.id, r.token)
}

func (c *Coordinator) handleText(r *record, message string) {
	log := c.logger.WithField("peer", r.id)
	log.Infof("Received message %q", message)

	r.lastMessage = message
	r.hasMessage = true
	if err := c.store.AppendMessage(context.Background(), r.id, message, store.Inbound, c.now()); err != nil {
		log.Warnf("Failed to persist message: %v", err)
	}

	if c.exchange.BlockOnExchange {
		c.block(r.id)
	}

	if err := c.transport.Send(r.id, protocol.EncodeAck(c.id), true); err != nil {
		log.Warnf("Failed to send ack: %v", err)
	}
}

func (c *Coordinator) handleAck(r *record, senderID string) {
	log := c.logger.WithField("peer", r.id)
	if senderID != r.id {
		log.Debugf("Ack names sender %s", senderID)
	}
	delete(c.pendingAcks, r.id)

	if !c.exchange.BlockOnExchange {
		log.Info("Message acknowledged")
		return
	}

	log.Info("Message acknowledged, pairing complete")
	c.block(r.id)
	c.transport.Disconnect(r.id)
	c.removePeer(r.id, "exchange complete")
}

func (c *Coordinator) send(message, peerID string) error {
	log := c.logger.WithField("peer", peerID)
	if _, ok := c.dir.get(peerID); !ok {
		return ErrPeerNotFound
	}

	if err := c.transport.Send(peerID, protocol.EncodeText(message), true); err != nil {
		log.Warnf("Failed to send message: %v", err)
	}
	if err := c.store.AppendMessage(context.Background(), peerID, message, store.Outbound, c.now()); err != nil {
		log.Warnf("Failed to persist message: %v", err)
	}
	log.Infof("Sent message %q", message)

	c.watchAck(peerID)
	return nil
}

// watchAck logs when no ack arrives in time. It never changes protocol state.
func (c *Coordinator) watchAck(peerID string) {
	timeout := c.exchange.AckTimeout.Duration
	if timeout <= 0 {
		return
	}

	c.ackSeq++
	seq := c.ackSeq
	c.pendingAcks[peerID] = seq

	time.AfterFunc(timeout, func() {
		c.post(func() {
			if c.pendingAcks[peerID] != seq {
				return
			}
			delete(c.pendingAcks, peerID)
			c.logger.WithField("peer", peerID).Warnf("No ack within %s", timeout)
		})
	})
}
