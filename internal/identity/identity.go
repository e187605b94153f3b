// Package identity hands out the short device identity peers see each other by.
package identity

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/store"
)

const (
	SettingKey = "device_identity"
	Alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length     = 4
)

type Provider struct {
	settings store.SettingStore
	logger   *logrus.Entry
	random   io.Reader

	mu      sync.Mutex
	current string
}

func New(settings store.SettingStore, log *logrus.Logger) *Provider {
	return &Provider{
		settings: settings,
		logger:   log.WithField("component", "identity"),
		random:   rand.Reader,
	}
}

// Identity returns the persisted identity, generating and persisting one on
// first use. A store failure is logged and the generated value is kept in
// memory for the life of the provider.
func (p *Provider) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != "" {
		return p.current
	}

	ctx := context.Background()
	value, ok, err := p.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		p.logger.Warnf("failed to read identity: %v", err)
	}
	if ok && Valid(value) {
		p.current = value
		return p.current
	}

	p.current = p.generate()
	if err := p.settings.SetSetting(ctx, SettingKey, p.current); err != nil {
		p.logger.Warnf("failed to persist identity: %v", err)
	}
	p.logger.WithField("identity", p.current).Info("generated device identity")
	return p.current
}

// Regenerate replaces the identity with a fresh one.
func (p *Provider) Regenerate() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = p.generate()
	if err := p.settings.SetSetting(context.Background(), SettingKey, p.current); err != nil {
		p.logger.Warnf("failed to persist identity: %v", err)
	}
	return p.current
}

func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !isAlphabet(id[i]) {
			return false
		}
	}
	return true
}

func isAlphabet(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// generate draws from the secure source and falls back to math/rand when it
// fails.
func (p *Provider) generate() string {
	buf := make([]byte, Length)
	limit := big.NewInt(int64(len(Alphabet)))
	for i := range buf {
		n, err := rand.Int(p.random, limit)
		if err != nil {
			p.logger.Warnf("secure random source failed, using fallback: %v", err)
			return fallback()
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf)
}

func fallback() string {
	buf := make([]byte, Length)
	for i := range buf {
		buf[i] = Alphabet[mrand.IntN(len(Alphabet))]
	}
	return string(buf)
}
