// Package sim runs several devices in one process: each device gets its own
// store, identity and coordinator, and all of them share one radio medium and
// one ranging space.
package sim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/config"
	"github.com/rudransh-shrivastava/halozone/internal/coordinator"
	"github.com/rudransh-shrivastava/halozone/internal/identity"
	rangingsim "github.com/rudransh-shrivastava/halozone/internal/ranging/sim"
	"github.com/rudransh-shrivastava/halozone/internal/store"
	"github.com/rudransh-shrivastava/halozone/internal/transport"
	"github.com/rudransh-shrivastava/halozone/internal/transport/memory"
	"github.com/rudransh-shrivastava/halozone/internal/transport/webrtc"
)

const (
	TransportMemory = "memory"
	TransportWebRTC = "webrtc"
)

var ErrUnknownDevice = errors.New("unknown device")

type Options struct {
	// Identities pins device identities. When empty, Count devices get
	// generated identities.
	Identities []string
	Count      int

	Transport string
	Config    *config.Config
	Logger    *logrus.Logger

	// DBDir holds one sqlite file per device. Empty means in-memory stores.
	DBDir string
}

type Device struct {
	ID          string
	Coordinator *coordinator.Coordinator
	Store       *store.Store

	transport transport.Transport
	release   func()
}

type Network struct {
	Space *rangingsim.Space

	cfg     *config.Config
	logger  *logrus.Logger
	medium  *memory.Medium
	hub     *webrtc.Hub
	devices []*Device

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*Network, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	if opts.Transport == "" {
		opts.Transport = TransportMemory
	}
	if opts.Transport != TransportMemory && opts.Transport != TransportWebRTC {
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}

	n := &Network{
		Space:  rangingsim.NewSpace(rangingsim.WithLogger(log)),
		cfg:    cfg,
		logger: log,
		medium: memory.NewMedium(log),
		hub:    webrtc.NewHub(),
	}

	count := len(opts.Identities)
	if count == 0 {
		count = opts.Count
	}
	for i := 0; i < count; i++ {
		pinned := ""
		if i < len(opts.Identities) {
			pinned = opts.Identities[i]
		}
		dev, err := n.addDevice(i, pinned, opts)
		if err != nil {
			_ = n.Close()
			return nil, err
		}
		n.devices = append(n.devices, dev)
	}
	return n, nil
}

func (n *Network) addDevice(index int, pinned string, opts Options) (*Device, error) {
	dbPath := store.MemoryPath
	if opts.DBDir != "" {
		name := pinned
		if name == "" {
			name = fmt.Sprintf("device-%d", index)
		}
		dbPath = filepath.Join(opts.DBDir, name+".sqlite3")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store for device %d: %w", index, err)
	}

	ctx := context.Background()
	if pinned != "" {
		if err := st.SetSetting(ctx, identity.SettingKey, pinned); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	id := identity.New(st, n.logger).Identity()

	tcfg := transport.Config{
		ServiceName: n.cfg.ServiceName,
		Identity:    id,
		MaxPeers:    n.cfg.MaxPeers,
	}

	dev := &Device{ID: id, Store: st}
	switch opts.Transport {
	case TransportWebRTC:
		tr, err := webrtc.New(webrtc.Config{
			Config:   tcfg,
			Signaler: n.hub.Signaler(id),
			Logger:   n.logger,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		dev.transport = tr
		dev.release = func() { _ = tr.Close() }
	default:
		tr := n.medium.Attach(tcfg)
		dev.transport = tr
		dev.release = func() { n.medium.Detach(tr) }
	}

	coord, err := coordinator.New(coordinator.Options{
		Identity:  id,
		Transport: dev.transport,
		Engine:    n.Space.Engine(id),
		Store:     st,
		Logger:    n.logger,
		MaxPeers:  n.cfg.MaxPeers,
		Ranging:   n.cfg.Ranging,
		Exchange:  n.cfg.Exchange,
	})
	if err != nil {
		dev.release()
		_ = st.Close()
		return nil, err
	}
	dev.Coordinator = coord
	return dev, nil
}

// Start runs every coordinator until Close.
func (n *Network) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	for _, dev := range n.devices {
		n.wg.Add(1)
		go func(dev *Device) {
			defer n.wg.Done()
			if err := dev.Coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.WithField("identity", dev.ID).Errorf("Coordinator stopped: %v", err)
			}
		}(dev)
	}
}

func (n *Network) Devices() []*Device {
	return n.devices
}

func (n *Network) Device(id string) (*Device, error) {
	for _, dev := range n.devices {
		if dev.ID == id {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
}

func (n *Network) Place(id string, x, y float64) {
	n.Space.Place(id, x, y)
}

// Tick advances the ranging space by one measurement round.
func (n *Network) Tick() {
	n.Space.Tick()
}

// WaitFor polls cond until it holds or ctx ends.
func (n *Network) WaitFor(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Knows reports whether device a has b in its directory, optionally in one
// of the given states.
func (n *Network) Knows(a, b string, states ...coordinator.PeerState) bool {
	dev, err := n.Device(a)
	if err != nil {
		return false
	}
	for _, p := range dev.Coordinator.Peers() {
		if p.ID != b {
			continue
		}
		if len(states) == 0 {
			return true
		}
		for _, s := range states {
			if p.State == s {
				return true
			}
		}
	}
	return false
}

// Close stops every coordinator, then releases transports and stores.
func (n *Network) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	var errs []error
	for _, dev := range n.devices {
		dev.release()
		if err := dev.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
