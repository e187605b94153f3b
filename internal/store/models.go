package store

import "time"

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

type BlockedPeer struct {
	PeerID string `gorm:"primaryKey"`
}

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	PeerID    string `gorm:"index"`
	Text      string
	Direction Direction
	CreatedAt time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
