package probe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/rcon"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/rs/zerolog"
)

// BackendLister is the port the prober uses to read a proxy's current
// backend list from disk. pkg/topology's Coordinator satisfies it
// structurally.
type BackendLister interface {
	ListBackends(proxyID string) ([]types.BackendEdge, error)
}

// RconRunner executes a single RCON command and returns its text response.
// rcon.Run satisfies this signature directly.
type RconRunner func(ctx context.Context, addr, password, command string) (string, error)

const probeInterval = 30 * time.Second

type probeLoop struct {
	stop chan struct{}
	done chan struct{}
}

// Prober implements the Proxy Probe (C7).
type Prober struct {
	reg     *registry.Registry
	lister  BackendLister
	bus     *events.Bus
	rconRun RconRunner
	logger  zerolog.Logger

	mu    sync.Mutex
	loops map[string]*probeLoop
	cache map[string][]types.BackendStatus
}

// New constructs a Prober. SetBackendLister must be called once
// pkg/topology exists, since the two packages are built up together by
// main.
func New(reg *registry.Registry, bus *events.Bus) *Prober {
	return &Prober{
		reg:     reg,
		bus:     bus,
		rconRun: rcon.Run,
		logger:  log.WithComponent("probe"),
		loops:   make(map[string]*probeLoop),
		cache:   make(map[string][]types.BackendStatus),
	}
}

// SetBackendLister wires the topology coordinator in after construction.
func (p *Prober) SetBackendLister(lister BackendLister) { p.lister = lister }

// StartProbing begins polling proxyID's backend set. Idempotent.
func (p *Prober) StartProbing(proxyID string) {
	p.mu.Lock()
	if _, ok := p.loops[proxyID]; ok {
		p.mu.Unlock()
		return
	}
	loop := &probeLoop{stop: make(chan struct{}), done: make(chan struct{})}
	p.loops[proxyID] = loop
	p.mu.Unlock()

	go p.run(proxyID, loop)
}

// StopProbing stops polling proxyID's backend set. Idempotent.
func (p *Prober) StopProbing(proxyID string) {
	p.mu.Lock()
	loop, ok := p.loops[proxyID]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(loop.stop)
	<-loop.done

	p.mu.Lock()
	delete(p.loops, proxyID)
	delete(p.cache, proxyID)
	p.mu.Unlock()
}

func (p *Prober) run(proxyID string, loop *probeLoop) {
	defer close(loop.done)

	p.probeOnce(proxyID)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probeOnce(proxyID)
		case <-loop.stop:
			return
		}
	}
}

func (p *Prober) probeOnce(proxyID string) {
	if p.lister == nil {
		return
	}
	edges, err := p.lister.ListBackends(proxyID)
	if err != nil {
		p.logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("list backends for probe failed")
		return
	}

	results := make([]types.BackendStatus, 0, len(edges))
	for _, edge := range edges {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		latency, pingErr := pingServer(ctx, edge.Address)
		cancel()

		results = append(results, types.BackendStatus{
			BackendEdge: edge,
			Online:      pingErr == nil,
			Latency:     latency,
			CheckedAt:   time.Now().UTC(),
		})
	}

	p.mu.Lock()
	p.cache[proxyID] = results
	p.mu.Unlock()

	p.bus.Publish(events.ProxyStatusTopic(proxyID), events.ProxyBackendStatus{ProxyID: proxyID, Backends: results})
}

// CachedStatus returns the most recent probe results for proxyID without
// waiting for the next tick.
func (p *Prober) CachedStatus(proxyID string) []types.BackendStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.BackendStatus, len(p.cache[proxyID]))
	copy(out, p.cache[proxyID])
	return out
}

// PlayerCensus runs RCON glist against proxyID and returns the total player
// count and per-backend player lists, per spec §4.7's on-demand path.
func (p *Prober) PlayerCensus(ctx context.Context, proxyID string) (int, map[string][]string, error) {
	inst, err := p.reg.Get(proxyID)
	if err != nil {
		return 0, nil, err
	}
	addr := net.JoinHostPort(inst.Host, strconv.Itoa(int(inst.RconPort)))
	out, err := p.rconRun(ctx, addr, inst.RconPassword, "glist")
	if err != nil {
		return 0, nil, err
	}
	total, perBackend := parseGlist(out)
	return total, perBackend, nil
}
