package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/matheus3301/feedsync/internal/bus"
	"go.uber.org/zap"
)

// Prober decides reachability by dialing a TCP address periodically.
// Without an address it reports online and never changes.
type Prober struct {
	*state
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	override *bool
}

var _ Controllable = (*Prober)(nil)

// NewProber creates a prober for address. It starts online so a daemon
// with a reachable remote drains immediately; the first probe corrects it.
func NewProber(address string, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var d net.Dialer
	return &Prober{
		state:    newState(true, b),
		address:  address,
		interval: interval,
		timeout:  min(interval, 3*time.Second),
		dial:     d.DialContext,
		logger:   logger,
	}
}

// Start probes once synchronously, then in the background every interval.
func (p *Prober) Start(ctx context.Context) {
	if p.address == "" {
		p.logger.Info("no probe address configured, assuming online")
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.Probe(ctx)
	go p.loop(ctx)
}

// Stop ends background probing.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// Force pins the reported state regardless of probes, or releases the pin
// when online is nil. Used by the control API to simulate connectivity.
func (p *Prober) Force(online *bool) {
	p.mu.Lock()
	p.override = online
	p.mu.Unlock()
	if online != nil {
		p.set(*online)
	}
}

// SetOnline pins the reported state.
func (p *Prober) SetOnline(online bool) {
	p.Force(&online)
}

// Probe dials once and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	if p.address == "" {
		return true
	}
	p.mu.Lock()
	pinned := p.override
	p.mu.Unlock()
	if pinned != nil {
		return *pinned
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.address)
	if ctx.Err() != nil && err != nil {
		// Shutting down, not a connectivity verdict.
		return p.Online()
	}
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}
	if p.set(online) {
		if online {
			p.logger.Info("remote reachable", zap.String("address", p.address))
		} else {
			p.logger.Warn("remote unreachable", zap.String("address", p.address), zap.Error(err))
		}
	}
	return online
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
