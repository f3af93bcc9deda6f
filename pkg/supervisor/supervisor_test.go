package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJavaScript stands in for the real `java` binary: it prints a join
// line, a TPS line, then blocks reading stdin until it sees "stop", at
// which point it exits 0.
const fakeJavaScript = `#!/bin/sh
echo "Steve joined the game"
echo "TPS from last 1m, 5m, 15m: 20.0, 20.0, 20.0"
while read -r line; do
  if [ "$line" = "stop" ]; then
    exit 0
  fi
done
`

func installFakeJava(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake java harness is POSIX-shell only")
	}
	bin := t.TempDir()
	path := filepath.Join(bin, "java")
	require.NoError(t, os.WriteFile(path, []byte(fakeJavaScript), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

type fakeSampler struct {
	mu      sync.Mutex
	started []string
	stopped []string
	tps     map[string]float64
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{tps: make(map[string]float64)}
}

func (f *fakeSampler) StartSampling(id string, pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
}

func (f *fakeSampler) StopSampling(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
}

func (f *fakeSampler) ObserveTPS(id string, tps float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tps[id] = tps
}

func (f *fakeSampler) tpsOf(id string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.tps[id]
	return v, ok
}

func (f *fakeSampler) hasStarted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.started {
		if s == id {
			return true
		}
	}
	return false
}

func (f *fakeSampler) hasStopped(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stopped {
		if s == id {
			return true
		}
	}
	return false
}

func newTestSupervisor(t *testing.T) (*Supervisor, *registry.Registry, *fakeSampler) {
	t.Helper()
	dir := t.TempDir()
	sampler := newFakeSampler()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	reg, err := registry.New(registry.Options{
		DataRoot:    filepath.Join(dir, "data"),
		ServersRoot: filepath.Join(dir, "servers"),
	}, nil)
	require.NoError(t, err)

	sup := New(reg, bus, sampler)
	reg.SetStopper(sup)
	return sup, reg, sampler
}

func TestStartStopLifecycle(t *testing.T) {
	installFakeJava(t)
	sup, reg, sampler := newTestSupervisor(t)

	inst, err := reg.Create(types.CreateSpec{
		Name: "box", Kind: types.KindPaper, Version: "1.20.4",
		Port: 25565, RconPort: 25575, Password: "x", Memory: "1G",
	}, "owner")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inst.WorkspacePath, "server.jar"), []byte{}, 0o644))

	require.NoError(t, sup.Start(inst.ID))
	assert.True(t, sup.IsRunning(inst.ID))

	deadline := time.Now().Add(2 * time.Second)
	var tps float64
	var ok bool
	for time.Now().Before(deadline) {
		if tps, ok = sampler.tpsOf(inst.ID); ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, ok)
	assert.InDelta(t, 20.0, tps, 0.0001)
	assert.True(t, sampler.hasStarted(inst.ID))

	require.NoError(t, sup.Stop(inst.ID))
	assert.False(t, sup.IsRunning(inst.ID))
	assert.True(t, sampler.hasStopped(inst.ID))

	got, err := reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
}

func TestStartRejectsMissingJar(t *testing.T) {
	installFakeJava(t)
	sup, reg, _ := newTestSupervisor(t)

	inst, err := reg.Create(types.CreateSpec{
		Name: "box", Kind: types.KindPaper, Version: "1.20.4",
		Port: 25565, RconPort: 25575, Password: "x", Memory: "1G",
	}, "owner")
	require.NoError(t, err)

	err = sup.Start(inst.ID)
	require.Error(t, err)
}

func TestStopNotRunning(t *testing.T) {
	sup, reg, _ := newTestSupervisor(t)
	inst, err := reg.Create(types.CreateSpec{
		Name: "box", Kind: types.KindPaper, Version: "1.20.4",
		Port: 25565, RconPort: 25575, Password: "x", Memory: "1G",
	}, "owner")
	require.NoError(t, err)

	err = sup.Stop(inst.ID)
	require.Error(t, err)
}
