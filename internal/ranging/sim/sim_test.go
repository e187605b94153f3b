package sim

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/halozone/internal/ranging"
)

func nextEvent(t *testing.T, sess ranging.Session) ranging.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ranging event")
	}
	return ranging.Event{}
}

func expectNoEvent(t *testing.T, sess ranging.Session) {
	t.Helper()
	select {
	case ev := <-sess.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func pair(t *testing.T, space *Space) (ranging.Session, ranging.Session) {
	t.Helper()
	a, err := space.Engine("A").NewSession()
	if err != nil {
		t.Fatalf("NewSession A failed: %v", err)
	}
	b, err := space.Engine("B").NewSession()
	if err != nil {
		t.Fatalf("NewSession B failed: %v", err)
	}
	t.Cleanup(func() {
		a.Invalidate()
		b.Invalidate()
	})
	return a, b
}

func TestTickRequiresMutualConfiguration(t *testing.T) {
	space := NewSpace()
	space.Place("A", 0, 0)
	space.Place("B", 3, 4)
	a, b := pair(t, space)

	if err := a.Run(b.LocalToken()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	space.Tick()
	expectNoEvent(t, a)

	if err := b.Run(a.LocalToken()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	space.Tick()

	ev := nextEvent(t, a)
	if ev.Kind != ranging.EventDistance {
		t.Fatalf("expected distance, got %s", ev.Kind)
	}
	if ev.Distance != 5 {
		t.Errorf("expected 5m, got %v", ev.Distance)
	}
	if !bytes.Equal(ev.PeerToken, b.LocalToken()) {
		t.Error("event token does not match configured peer token")
	}

	if ev := nextEvent(t, b); ev.Kind != ranging.EventDistance {
		t.Errorf("expected distance on B, got %s", ev.Kind)
	}
}

func TestTickTimeoutOutOfRange(t *testing.T) {
	space := NewSpace(WithMaxRange(2))
	space.Place("B", 10, 0)
	a, b := pair(t, space)

	_ = a.Run(b.LocalToken())
	_ = b.Run(a.LocalToken())

	space.Tick()
	ev := nextEvent(t, a)
	if ev.Kind != ranging.EventRemoved || ev.Reason != ranging.ReasonTimeout {
		t.Fatalf("expected timeout removal, got %s/%s", ev.Kind, ev.Reason)
	}

	space.Tick()
	nextEvent(t, b)
	expectNoEvent(t, a)
}

func TestInvalidateEndsMutualPartner(t *testing.T) {
	space := NewSpace()
	a, b := pair(t, space)

	_ = a.Run(b.LocalToken())
	_ = b.Run(a.LocalToken())
	space.Tick()
	nextEvent(t, a)
	nextEvent(t, b)

	b.Invalidate()

	ev := nextEvent(t, a)
	if ev.Kind != ranging.EventRemoved || ev.Reason != ranging.ReasonPeerEnded {
		t.Fatalf("expected peerEnded, got %s/%s", ev.Kind, ev.Reason)
	}

	b.Invalidate()
	if err := b.Run(a.LocalToken()); !errors.Is(err, ranging.ErrSessionInvalidated) {
		t.Errorf("expected ErrSessionInvalidated, got %v", err)
	}
}

func TestRunRejectsBadToken(t *testing.T) {
	space := NewSpace()
	a, _ := pair(t, space)

	if err := a.Run([]byte("xyz")); !errors.Is(err, ranging.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSuspendResume(t *testing.T) {
	space := NewSpace()
	a, b := pair(t, space)
	_ = a.Run(b.LocalToken())
	_ = b.Run(a.LocalToken())

	space.Suspend("A")
	if ev := nextEvent(t, a); ev.Kind != ranging.EventSuspended {
		t.Fatalf("expected suspended, got %s", ev.Kind)
	}

	space.Tick()
	expectNoEvent(t, b)

	space.Resume("A")
	if ev := nextEvent(t, a); ev.Kind != ranging.EventResumed {
		t.Fatalf("expected resumed, got %s", ev.Kind)
	}
}

func TestFailEmitsInvalidated(t *testing.T) {
	space := NewSpace()
	a, _ := pair(t, space)

	space.Fail("A", errors.New("radio off"))

	ev := nextEvent(t, a)
	if ev.Kind != ranging.EventInvalidated || ev.Err == nil {
		t.Fatalf("expected invalidated with error, got %+v", ev)
	}
}
