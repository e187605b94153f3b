// Package store persists the blocked set, the message log and device
// settings in sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rudransh-shrivastava/halozone/internal/db"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = db.MemoryPath

// SettingStore is the slice of the store the identity provider needs.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Store struct {
	DB *gorm.DB
}

var _ SettingStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	gdb, err := db.Open(path, &BlockedPeer{}, &Message{}, &Setting{})
	if err != nil {
		return nil, err
	}
	return New(gdb), nil
}

func New(gdb *gorm.DB) *Store {
	return &Store{DB: gdb}
}

func (s *Store) GetBlockedPeers(ctx context.Context) ([]string, error) {
	var rows []BlockedPeer
	if err := s.DB.WithContext(ctx).Order("peer_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading blocked peers: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.PeerID)
	}
	return ids, nil
}

// SetBlockedPeers replaces the stored blocked set with ids.
func (s *Store) SetBlockedPeers(ctx context.Context, ids []string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&BlockedPeer{}).Error; err != nil {
			return fmt.Errorf("clearing blocked peers: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		seen := make(map[string]struct{}, len(ids))
		rows := make([]BlockedPeer, 0, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			rows = append(rows, BlockedPeer{PeerID: id})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("saving blocked peers: %w", err)
		}
		return nil
	})
}

func (s *Store) AppendMessage(ctx context.Context, peerID, text string, dir Direction, at time.Time) error {
	msg := Message{PeerID: peerID, Text: text, Direction: dir, CreatedAt: at}
	if err := s.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// GetMessageLog returns every logged message in insertion order.
func (s *Store) GetMessageLog(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := s.DB.WithContext(ctx).Order("id").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("loading message log: %w", err)
	}
	return msgs, nil
}

// ClearAll wipes the blocked set and the message log. Settings survive, so
// the device keeps its identity.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&BlockedPeer{}).Error; err != nil {
			return fmt.Errorf("clearing blocked peers: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("clearing message log: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var setting Setting
	err := s.DB.WithContext(ctx).First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading setting %s: %w", key, err)
	}
	return setting.Value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.DB.WithContext(ctx).Save(&Setting{Key: key, Value: value}).Error; err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
