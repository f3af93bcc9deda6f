package sampler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSamplingPublishesResourceUpdates(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(events.ResourceTopic("inst-1"))
	defer bus.Unsubscribe(sub)

	s := New(bus)
	s.StartSampling("inst-1", os.Getpid())
	defer s.StopSampling("inst-1")

	s.ObserveTPS("inst-1", 19.7)

	select {
	case ev := <-sub.Events():
		update, ok := ev.Payload.(events.ResourceUpdate)
		require.True(t, ok)
		assert.Equal(t, "inst-1", update.InstanceID)
		assert.GreaterOrEqual(t, update.CoreCount, 1)
		assert.InDelta(t, 19.7, update.TPS, 0.0001)
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for a resource update")
	}
}

func TestStopSamplingIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	s := New(bus)
	s.StopSampling("never-started")
	s.StartSampling("inst-2", os.Getpid())
	s.StopSampling("inst-2")
	s.StopSampling("inst-2")
}

func TestSystemStats(t *testing.T) {
	bus := events.NewBus()
	s := New(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stats, err := s.SystemStats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.MemTotal, uint64(0))
}
