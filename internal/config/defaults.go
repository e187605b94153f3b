package config

import "time"

const (
	DefaultServiceName   = "halozone"
	DefaultMaxPeers      = 4
	DefaultDBPath        = "halozone.sqlite3"
	DefaultNearThreshold = 2.0
	DefaultMargin        = 0.3
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultAckTimeout    = 5 * time.Second
)

func DefaultConfig() *Config {
	return &Config{
		ServiceName: DefaultServiceName,
		MaxPeers:    DefaultMaxPeers,
		DBPath:      DefaultDBPath,
		LogLevel:    "info",
		Ranging: RangingConfig{
			NearThreshold: DefaultNearThreshold,
			Margin:        DefaultMargin,
			MaxRetries:    DefaultMaxRetries,
			RetryBackoff:  Duration{DefaultRetryBackoff},
		},
		Exchange: ExchangeConfig{
			BlockOnExchange: true,
			AckTimeout:      Duration{DefaultAckTimeout},
		},
	}
}
