package store_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/halozone/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlockedPeers_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ids, err := s.GetBlockedPeers(ctx)
	if err != nil {
		t.Fatalf("GetBlockedPeers failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty blocked set, got %v", ids)
	}

	if err := s.SetBlockedPeers(ctx, []string{"BBBB", "AAAA", "BBBB"}); err != nil {
		t.Fatalf("SetBlockedPeers failed: %v", err)
	}
	ids, err = s.GetBlockedPeers(ctx)
	if err != nil {
		t.Fatalf("GetBlockedPeers failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"AAAA", "BBBB"}) {
		t.Errorf("expected [AAAA BBBB], got %v", ids)
	}
}

func TestBlockedPeers_SetReplaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_ = s.SetBlockedPeers(ctx, []string{"AAAA", "BBBB"})
	if err := s.SetBlockedPeers(ctx, []string{"CCCC"}); err != nil {
		t.Fatalf("SetBlockedPeers failed: %v", err)
	}

	ids, _ := s.GetBlockedPeers(ctx)
	if !reflect.DeepEqual(ids, []string{"CCCC"}) {
		t.Errorf("expected [CCCC], got %v", ids)
	}

	if err := s.SetBlockedPeers(ctx, nil); err != nil {
		t.Fatalf("SetBlockedPeers(nil) failed: %v", err)
	}
	ids, _ = s.GetBlockedPeers(ctx)
	if len(ids) != 0 {
		t.Errorf("expected empty set, got %v", ids)
	}
}

func TestMessageLog_InsertionOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.AppendMessage(ctx, "BBBB", "hello", store.Inbound, now); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := s.AppendMessage(ctx, "AAAA", "", store.Outbound, now.Add(-time.Minute)); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := s.GetMessageLog(ctx)
	if err != nil {
		t.Fatalf("GetMessageLog failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].PeerID != "BBBB" || msgs[0].Text != "hello" || msgs[0].Direction != store.Inbound {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].PeerID != "AAAA" || msgs[1].Text != "" || msgs[1].Direction != store.Outbound {
		t.Errorf("unexpected second message %+v", msgs[1])
	}
}

func TestSettings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "device_identity")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if ok {
		t.Error("expected missing setting")
	}

	if err := s.SetSetting(ctx, "device_identity", "K3ZQ"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := s.SetSetting(ctx, "device_identity", "W7PA"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}

	value, ok, err := s.GetSetting(ctx, "device_identity")
	if err != nil || !ok {
		t.Fatalf("GetSetting failed: %v (found=%v)", err, ok)
	}
	if value != "W7PA" {
		t.Errorf("expected W7PA, got %q", value)
	}
}

func TestClearAll_KeepsSettings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_ = s.SetBlockedPeers(ctx, []string{"AAAA"})
	_ = s.AppendMessage(ctx, "AAAA", "hi", store.Inbound, time.Now())
	_ = s.SetSetting(ctx, "device_identity", "K3ZQ")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	ids, _ := s.GetBlockedPeers(ctx)
	msgs, _ := s.GetMessageLog(ctx)
	if len(ids) != 0 || len(msgs) != 0 {
		t.Errorf("expected empty store, got %v / %v", ids, msgs)
	}
	if value, ok, _ := s.GetSetting(ctx, "device_identity"); !ok || value != "K3ZQ" {
		t.Errorf("expected identity to survive, got %q", value)
	}
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	path := t.TempDir() + "/halozone.sqlite3"
	ctx := context.Background()

	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.SetBlockedPeers(ctx, []string{"AAAA"})
	_ = s.Close()

	reopened, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	ids, _ := reopened.GetBlockedPeers(ctx)
	if !reflect.DeepEqual(ids, []string{"AAAA"}) {
		t.Errorf("expected [AAAA] after reopen, got %v", ids)
	}
}
