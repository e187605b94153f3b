package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

type connection struct {
	peerID      string
	pc          *webrtc.PeerConnection
	signaler    transport.Signaler
	isInitiator bool

	onOpen    func(*connection)
	onClose   func(*connection)
	onMessage func(*connection, []byte)

	mu       sync.Mutex
	reliable *webrtc.DataChannel
	lossy    *webrtc.DataChannel
	open     bool
	closed   bool
}

func newConnection(peerID string, pc *webrtc.PeerConnection, signaler transport.Signaler, isInitiator bool) *connection {
	conn := &connection{
		peerID:      peerID,
		pc:          pc,
		signaler:    signaler,
		isInitiator: isInitiator,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			conn.fireClose()
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannels() error {
	reliable, err := c.pc.CreateDataChannel(reliableLabel, ReliableChannelConfig())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(reliable)

	lossy, err := c.pc.CreateDataChannel(unreliableLabel, UnreliableChannelConfig())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(lossy)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	isReliable := dc.Label() == reliableLabel

	c.mu.Lock()
	if isReliable {
		c.reliable = dc
	} else {
		c.lossy = dc
	}
	c.mu.Unlock()

	dc.OnOpen(func() {
		if !isReliable {
			return
		}
		c.mu.Lock()
		if c.open || c.closed {
			c.mu.Unlock()
			return
		}
		c.open = true
		c.mu.Unlock()

		if c.onOpen != nil {
			c.onOpen(c)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.onMessage != nil {
			c.onMessage(c, msg.Data)
		}
	})

	dc.OnClose(func() {
		if isReliable {
			c.fireClose()
		}
	})
}

// dial creates the offer and sends it once ICE gathering is complete, so no
// trickle candidates need to be exchanged.
func (c *connection) dial(ctx context.Context) error {
	if err := c.createDataChannels(); err != nil {
		return err
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.signaler.SendSignal(ctx, c.peerID, []byte(c.pc.LocalDescription().SDP)); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}
	return nil
}

func (c *connection) handleSignal(ctx context.Context, payload []byte) error {
	if c.pc.RemoteDescription() != nil {
		return nil
	}

	desc := webrtc.SessionDescription{SDP: string(payload)}
	if c.isInitiator {
		desc.Type = webrtc.SDPTypeAnswer
	} else {
		desc.Type = webrtc.SDPTypeOffer
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if c.isInitiator {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.signaler.SendSignal(ctx, c.peerID, []byte(c.pc.LocalDescription().SDP)); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

func (c *connection) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *connection) wasOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *connection) send(data []byte, reliable bool) error {
	c.mu.Lock()
	dc := c.reliable
	if !reliable && c.lossy != nil && c.lossy.ReadyState() == webrtc.DataChannelStateOpen {
		dc = c.lossy
	}
	c.mu.Unlock()

	if dc == nil {
		return transport.ErrNotConnected
	}
	return dc.Send(data)
}

func (c *connection) fireClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *connection) Close() error {
	c.mu.Lock()
	reliable, lossy := c.reliable, c.lossy
	c.mu.Unlock()

	if lossy != nil {
		_ = lossy.Close()
	}
	if reliable != nil {
		_ = reliable.Close()
	}
	return c.pc.Close()
}
