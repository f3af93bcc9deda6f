package sampler

import (
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	sampleInterval = 2 * time.Second
	defaultTPS     = 20.0
)

// instanceLoop is the per-instance sampling goroutine's state.
type instanceLoop struct {
	stop chan struct{}
	done chan struct{}

	mu  sync.Mutex
	tps float64
}

// Sampler implements pkg/supervisor.Sampler: per-PID CPU/RSS sampling every
// 2s, combined with the latest TPS value observed from stdout.
type Sampler struct {
	bus       *events.Bus
	logger    zerolog.Logger
	coreCount int

	mu    sync.Mutex
	loops map[string]*instanceLoop
}

// New constructs a Sampler publishing onto bus.
func New(bus *events.Bus) *Sampler {
	coreCount, err := cpu.Counts(true)
	if err != nil || coreCount == 0 {
		coreCount = 1
	}
	return &Sampler{
		bus:       bus,
		logger:    log.WithComponent("sampler"),
		coreCount: coreCount,
		loops:     make(map[string]*instanceLoop),
	}
}

// StartSampling begins the 2s sampling loop for pid, tagged under
// instanceID. A second call for an already-sampling instance is a no-op.
func (s *Sampler) StartSampling(instanceID string, pid int) {
	s.mu.Lock()
	if _, exists := s.loops[instanceID]; exists {
		s.mu.Unlock()
		return
	}
	loop := &instanceLoop{stop: make(chan struct{}), done: make(chan struct{}), tps: defaultTPS}
	s.loops[instanceID] = loop
	s.mu.Unlock()

	go s.run(instanceID, pid, loop)
}

// StopSampling halts and removes the sampling loop for instanceID.
// Idempotent: stopping an instance that isn't being sampled is a no-op.
func (s *Sampler) StopSampling(instanceID string) {
	s.mu.Lock()
	loop, ok := s.loops[instanceID]
	if ok {
		delete(s.loops, instanceID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(loop.stop)
	<-loop.done
}

// ObserveTPS records the latest TPS reading for instanceID, parsed by
// pkg/supervisor from the instance's stdout. A no-op if not sampling.
func (s *Sampler) ObserveTPS(instanceID string, tps float64) {
	s.mu.Lock()
	loop, ok := s.loops[instanceID]
	s.mu.Unlock()
	if !ok {
		return
	}
	loop.mu.Lock()
	loop.tps = tps
	loop.mu.Unlock()
}

func (s *Sampler) run(instanceID string, pid int, loop *instanceLoop) {
	defer close(loop.done)

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		s.logger.Error().Err(err).Str("instance_id", instanceID).Int("pid", pid).Msg("attach to process failed")
		return
	}
	// Prime gopsutil's internal CPU-time baseline; the first real reading
	// needs a prior sample to diff against.
	_, _ = proc.CPUPercent()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce(instanceID, proc, loop)
		case <-loop.stop:
			return
		}
	}
}

func (s *Sampler) sampleOnce(instanceID string, proc *process.Process, loop *instanceLoop) {
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		s.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("cpu sample failed")
		return
	}

	var rss uint64
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		rss = memInfo.RSS
	}

	var rssPercent float64
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		rssPercent = float64(rss) / float64(vm.Total) * 100
	}

	loop.mu.Lock()
	tps := loop.tps
	loop.mu.Unlock()

	s.bus.Publish(events.ResourceTopic(instanceID), events.ResourceUpdate{
		InstanceID: instanceID,
		CPUPercent: cpuPercent,
		CoreCount:  s.coreCount,
		RSSBytes:   rss,
		RSSPercent: rssPercent,
		TPS:        tps,
	})
}
