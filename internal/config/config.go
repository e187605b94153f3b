package config

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ServiceName string `toml:"service_name"`
	MaxPeers    int    `toml:"max_peers"`
	DBPath      string `toml:"db_path"`
	LogLevel    string `toml:"log_level"`

	Ranging  RangingConfig  `toml:"ranging"`
	Exchange ExchangeConfig `toml:"exchange"`
}

// RangingConfig controls the distance policy and the ranging retry budget.
type RangingConfig struct {
	// NearThreshold is the distance in meters a peer must first be observed
	// inside before moving away can force a restart.
	NearThreshold float64 `toml:"near_threshold"`
	// Margin is added to NearThreshold to get the far edge of the band.
	Margin       float64  `toml:"margin"`
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// FarThreshold is the distance at or past which an armed peer triggers a restart.
func (r RangingConfig) FarThreshold() float64 {
	return r.NearThreshold + r.Margin
}

type ExchangeConfig struct {
	// BlockOnExchange marks a pairing complete after one message/ack round.
	BlockOnExchange  bool     `toml:"block_on_exchange"`
	AckTimeout       Duration `toml:"ack_timeout"`
	AutoSend         bool     `toml:"auto_send"`
	BroadcastMessage string   `toml:"broadcast_message"`
}

// Duration is a time.Duration written as a Go duration string ("500ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is empty", ErrInvalidConfig)
	}
	if c.MaxPeers < 1 {
		return fmt.Errorf("%w: max_peers must be at least 1, got %d", ErrInvalidConfig, c.MaxPeers)
	}
	if c.Ranging.NearThreshold < 0 {
		return fmt.Errorf("%w: ranging.near_threshold is negative", ErrInvalidConfig)
	}
	if c.Ranging.Margin < 0 {
		return fmt.Errorf("%w: ranging.margin is negative", ErrInvalidConfig)
	}
	if c.Ranging.MaxRetries < 0 {
		return fmt.Errorf("%w: ranging.max_retries is negative", ErrInvalidConfig)
	}
	if c.Ranging.RetryBackoff.Duration < 0 {
		return fmt.Errorf("%w: ranging.retry_backoff is negative", ErrInvalidConfig)
	}
	if c.Exchange.AckTimeout.Duration < 0 {
		return fmt.Errorf("%w: exchange.ack_timeout is negative", ErrInvalidConfig)
	}
	return nil
}
