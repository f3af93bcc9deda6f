package probe

import (
	"context"
	"testing"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct{ edges []types.BackendEdge }

func (f *fakeLister) ListBackends(proxyID string) ([]types.BackendEdge, error) {
	return f.edges, nil
}

func newTestProber(t *testing.T) (*Prober, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.New(registry.Options{
		DataRoot:    dir + "/data",
		ServersRoot: dir + "/servers",
	}, nil)
	require.NoError(t, err)

	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(reg, bus), reg
}

func TestProbeOnceCachesResults(t *testing.T) {
	p, reg := newTestProber(t)

	addr := fakeMinecraftServer(t)
	proxy, err := reg.Create(types.CreateSpec{
		Name: "edge", Kind: types.KindVelocity, Version: "3.3.0",
		Port: 25577, RconPort: 25575, Memory: "512M",
	}, "owner-1")
	require.NoError(t, err)

	p.SetBackendLister(&fakeLister{edges: []types.BackendEdge{
		{Name: "backend-1", Address: addr},
	}})

	p.probeOnce(proxy.ID)

	cached := p.CachedStatus(proxy.ID)
	require.Len(t, cached, 1)
	assert.True(t, cached[0].Online)
}

func TestStartStopProbingIsIdempotent(t *testing.T) {
	p, reg := newTestProber(t)
	proxy, err := reg.Create(types.CreateSpec{
		Name: "edge", Kind: types.KindVelocity, Version: "3.3.0",
		Port: 25577, RconPort: 25575, Memory: "512M",
	}, "owner-1")
	require.NoError(t, err)

	p.SetBackendLister(&fakeLister{})
	p.StartProbing(proxy.ID)
	p.StartProbing(proxy.ID)
	time.Sleep(50 * time.Millisecond)
	p.StopProbing(proxy.ID)
	p.StopProbing(proxy.ID)
}

func TestPlayerCensusParsesGlist(t *testing.T) {
	p, reg := newTestProber(t)
	proxy, err := reg.Create(types.CreateSpec{
		Name: "edge", Kind: types.KindVelocity, Version: "3.3.0",
		Port: 25577, RconPort: 25575, Memory: "512M",
	}, "owner-1")
	require.NoError(t, err)

	p.rconRun = func(ctx context.Context, addr, password, command string) (string, error) {
		return "Total players online: 3\n[backend-1] (2): Steve, Alex\n[backend-2] (1): Bob", nil
	}

	total, perBackend, err := p.PlayerCensus(context.Background(), proxy.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.ElementsMatch(t, []string{"Steve", "Alex"}, perBackend["backend-1"])
	assert.ElementsMatch(t, []string{"Bob"}, perBackend["backend-2"])
}

func TestParseGlistNoMatch(t *testing.T) {
	total, perBackend := parseGlist("garbage output")
	assert.Equal(t, 0, total)
	assert.Empty(t, perBackend)
}
