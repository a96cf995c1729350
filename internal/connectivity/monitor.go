// Package connectivity observes network reachability and publishes
// transitions on the bus. The retry queue drains on net.online events.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/bus"
	"go.uber.org/zap"
)

// Prober reports whether the network is reachable right now. A nil error
// means online.
type Prober func(ctx context.Context) error

// Transition is the payload of net.online / net.offline events.
type Transition struct {
	Online  bool
	Metered bool // classification hint; the default prober never sets it
}

// DefaultProber dials the given address with a short timeout.
func DefaultProber(addr string) Prober {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Monitor polls the prober and emits transitions when reachability changes.
type Monitor struct {
	probe    Prober
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc

	mu     sync.RWMutex
	online bool
}

// NewMonitor creates a monitor. The initial state is offline until the first
// successful probe.
func NewMonitor(probe Prober, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		probe:    probe,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins probing. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		m.check(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Online returns the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Check probes once, outside the ticker. Used by manual retry actions.
func (m *Monitor) Check(ctx context.Context) bool {
	m.check(ctx)
	return m.Online()
}

func (m *Monitor) check(ctx context.Context) {
	err := m.probe(ctx)
	now := err == nil

	m.mu.Lock()
	changed := now != m.online
	m.online = now
	m.mu.Unlock()

	if !changed {
		return
	}

	kind := "net.offline"
	if now {
		kind = "net.online"
	}
	if m.logger != nil {
		m.logger.Info("connectivity changed", zap.Bool("online", now))
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   Transition{Online: now},
	})
}
