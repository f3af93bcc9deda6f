package metrics

import (
	"context"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/sampler"
	"github.com/fleetmc/fleetmc/pkg/scheduler"
)

// collectInterval is much slower than the resource sampler's 2s polling
// cadence, since instance/task counts change far less often than
// per-instance CPU/TPS readings.
const collectInterval = 15 * time.Second

// Collector periodically refreshes the gauge-shaped metrics that aren't
// naturally updated at the moment an event occurs: instance counts by
// status, task counts by kind, and the host-wide system snapshot.
// Counter and histogram metrics (crashes, executions, webhook deliveries)
// are not touched by the Collector, and no other code in this module
// increments or observes them, so they are exported at zero.
type Collector struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	sampler   *sampler.Sampler
	bus       *events.Bus
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector over the core components.
func NewCollector(reg *registry.Registry, sched *scheduler.Scheduler, samp *sampler.Sampler, bus *events.Bus) *Collector {
	return &Collector{
		registry:  reg,
		scheduler: sched,
		sampler:   samp,
		bus:       bus,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInstanceMetrics()
	c.collectTaskMetrics()
	c.collectSystemMetrics()
	c.collectEventBusMetrics()
}

func (c *Collector) collectInstanceMetrics() {
	if c.registry == nil {
		return
	}
	instances := c.registry.List("", registry.RoleAdmin)

	counts := make(map[string]map[string]int)
	for _, inst := range instances {
		kind := string(inst.Kind)
		status := string(inst.Status)
		if counts[kind] == nil {
			counts[kind] = make(map[string]int)
		}
		counts[kind][status]++
	}
	for kind, statuses := range counts {
		for status, count := range statuses {
			InstancesTotal.WithLabelValues(kind, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectTaskMetrics() {
	if c.scheduler == nil {
		return
	}
	tasks := c.scheduler.ListTasks()

	counts := make(map[string]map[bool]int)
	for _, task := range tasks {
		kind := string(task.Kind)
		if counts[kind] == nil {
			counts[kind] = make(map[bool]int)
		}
		counts[kind][task.Enabled]++
	}
	for kind, byEnabled := range counts {
		for enabled, count := range byEnabled {
			TasksTotal.WithLabelValues(kind, boolLabel(enabled)).Set(float64(count))
		}
	}
}

func (c *Collector) collectSystemMetrics() {
	if c.sampler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.sampler.SystemStats(ctx)
	if err != nil {
		return
	}
	SystemCPUPercent.Set(stats.CPUPercent)
	if stats.MemTotal > 0 {
		SystemMemoryPercent.Set(float64(stats.MemUsed) / float64(stats.MemTotal) * 100)
	}
}

func (c *Collector) collectEventBusMetrics() {
	if c.bus == nil {
		return
	}
	EventBusSubscribers.Set(float64(c.bus.SubscriberCount()))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
