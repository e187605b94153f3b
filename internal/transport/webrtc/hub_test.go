package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/halozone/internal/logger"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
)

func recvDiscovered(t *testing.T, s transport.Signaler) string {
	t.Helper()
	select {
	case id := <-s.Discovered():
		return id
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for discovery")
	}
	return ""
}

func TestHubAdvertiseAnnouncesBothWays(t *testing.T) {
	hub := NewHub()
	a := hub.Signaler("AAAA")
	b := hub.Signaler("BBBB")
	ctx := context.Background()

	if err := a.Advertise(ctx); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	select {
	case id := <-a.Discovered():
		t.Fatalf("unexpected discovery of %s", id)
	case <-time.After(50 * time.Millisecond):
	}

	if err := b.Advertise(ctx); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if got := recvDiscovered(t, a); got != "BBBB" {
		t.Errorf("expected BBBB, got %s", got)
	}
	if got := recvDiscovered(t, b); got != "AAAA" {
		t.Errorf("expected AAAA, got %s", got)
	}
}

func TestHubWithdrawnMembersAreSkipped(t *testing.T) {
	hub := NewHub()
	a := hub.Signaler("AAAA")
	b := hub.Signaler("BBBB")
	ctx := context.Background()

	_ = a.Advertise(ctx)
	a.Withdraw()
	_ = b.Advertise(ctx)

	select {
	case id := <-b.Discovered():
		t.Fatalf("unexpected discovery of %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSendSignal(t *testing.T) {
	hub := NewHub()
	a := hub.Signaler("AAAA")
	b := hub.Signaler("BBBB")
	ctx := context.Background()

	payload := []byte("v=0")
	if err := a.SendSignal(ctx, "BBBB", payload); err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}
	payload[0] = 'x'

	select {
	case sig := <-b.RecvSignal():
		if sig.PeerID != "AAAA" || string(sig.Payload) != "v=0" {
			t.Errorf("unexpected signal %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for signal")
	}

	if err := a.SendSignal(ctx, "ZZZZ", payload); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestHubCloseAndReplace(t *testing.T) {
	hub := NewHub()
	a := hub.Signaler("AAAA")
	b := hub.Signaler("BBBB")
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.SendSignal(ctx, "BBBB", []byte("x")); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer after close, got %v", err)
	}
	if _, ok := <-b.RecvSignal(); ok {
		t.Error("expected closed signal channel")
	}

	replacement := hub.Signaler("AAAA")
	if err := a.Advertise(ctx); !errors.Is(err, transport.ErrInvalidated) {
		t.Errorf("expected replaced member to be invalidated, got %v", err)
	}
	if err := replacement.Advertise(ctx); err != nil {
		t.Errorf("Advertise on replacement failed: %v", err)
	}
}

func TestRescanRepeatsAnnouncementWhileAdvertising(t *testing.T) {
	hub := NewHub()
	peer := hub.Signaler("BBBB")
	if err := peer.Advertise(context.Background()); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	// CCCC sorts after BBBB, so it waits for an offer and never dials.
	tr, err := New(Config{
		Config:   transport.Config{ServiceName: "halozone", Identity: "CCCC", MaxPeers: 4},
		Signaler: hub.Signaler("CCCC"),
		Logger:   logger.Discard(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := tr.Rescan(); err != nil {
		t.Fatalf("Rescan before Start failed: %v", err)
	}
	select {
	case id := <-peer.Discovered():
		t.Fatalf("unexpected discovery of %s", id)
	case <-time.After(50 * time.Millisecond):
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := recvDiscovered(t, peer); got != "CCCC" {
		t.Errorf("expected CCCC, got %s", got)
	}

	if err := tr.Rescan(); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if got := recvDiscovered(t, peer); got != "CCCC" {
		t.Errorf("expected CCCC again, got %s", got)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Rescan(); !errors.Is(err, transport.ErrInvalidated) {
		t.Errorf("expected ErrInvalidated after Close, got %v", err)
	}
}

func TestNewRequiresSignalerAndIdentity(t *testing.T) {
	if _, err := New(Config{Config: transport.Config{Identity: "AAAA"}}); err == nil {
		t.Error("expected error without signaler")
	}
	if _, err := New(Config{Signaler: NewHub().Signaler("")}); err == nil {
		t.Error("expected error without identity")
	}
}

func TestICEConfig(t *testing.T) {
	conf := ICEConfig([]string{"stun:stun.l.google.com:19302"})
	if len(conf.ICEServers) != 1 || conf.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected ICE servers: %+v", conf.ICEServers)
	}
	if len(ICEConfig(nil).ICEServers) != 0 {
		t.Error("expected no ICE servers")
	}
	if !*ReliableChannelConfig().Ordered {
		t.Error("expected reliable channel to be ordered")
	}
	if *UnreliableChannelConfig().MaxRetransmits != 0 {
		t.Error("expected lossy channel without retransmits")
	}
}
