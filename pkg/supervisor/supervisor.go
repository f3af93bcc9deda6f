package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/events"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/rs/zerolog"
)

// Sampler is the port the supervisor uses to start/stop per-PID resource
// sampling and to feed it TPS values parsed from stdout. pkg/sampler
// implements it.
type Sampler interface {
	StartSampling(instanceID string, pid int)
	StopSampling(instanceID string)
	ObserveTPS(instanceID string, tps float64)
}

// ProxyCoordinator is the port the supervisor uses to hand off proxy-specific
// behavior during start/stop. pkg/topology implements it; the dependency
// runs supervisor -> topology for these calls and topology -> supervisor for
// cascaded child starts/stops, so both sides depend on an interface rather
// than each other's concrete package.
type ProxyCoordinator interface {
	EnsureProxyConfigValid(proxyID string) error
	CascadeStart(proxyID string)
	CascadeStop(proxyID string)
}

// Prober is the port the supervisor uses to start/stop backend-liveness
// polling for a proxy instance. pkg/probe implements it; probing runs only
// for the lifetime of a proxy's running status, per spec §4.7.
type Prober interface {
	StartProbing(proxyID string)
	StopProbing(proxyID string)
}

const (
	stopGrace       = 30 * time.Second
	restartPause    = 2 * time.Second
	tpsPollInterval = 10 * time.Second
)

var worldDirsWithSessionLock = []string{"world", "world_nether", "world_the_end"}

// runtimeEntry is the in-memory-only bookkeeping the supervisor keeps alongside
// the exported types.ProcessHandle, for the lifecycle goroutines.
type runtimeEntry struct {
	handle  *types.ProcessHandle
	stdin   io.Writer
	kind    types.Kind
	done    chan struct{}
	tpsStop chan struct{}
}

// Supervisor is the process lifecycle manager (C3). It owns every spawned
// child process and is the sole writer of an instance's derived status.
type Supervisor struct {
	reg     *registry.Registry
	bus     *events.Bus
	sampler Sampler
	proxy   ProxyCoordinator
	prober  Prober
	logger  zerolog.Logger

	mu       sync.RWMutex
	runtimes map[string]*runtimeEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Supervisor. SetProxyCoordinator must be called before any
// proxy instance is started, since pkg/topology and pkg/supervisor are built
// up together by main and neither can construct the other first.
func New(reg *registry.Registry, bus *events.Bus, sampler Sampler) *Supervisor {
	return &Supervisor{
		reg:      reg,
		bus:      bus,
		sampler:  sampler,
		logger:   log.WithComponent("supervisor"),
		runtimes: make(map[string]*runtimeEntry),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetProxyCoordinator wires the topology coordinator in after construction,
// breaking the supervisor<->topology initialization cycle.
func (s *Supervisor) SetProxyCoordinator(pc ProxyCoordinator) { s.proxy = pc }

// SetProber wires the backend prober in after construction.
func (s *Supervisor) SetProber(p Prober) { s.prober = p }

func (s *Supervisor) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// IsRunning satisfies pkg/registry.ProcessStopper.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runtimes[id]
	return ok
}

func jarFilename(kind types.Kind) string {
	switch kind {
	case types.KindVelocity:
		return "velocity.jar"
	case types.KindBungeecord:
		return "bungeecord.jar"
	case types.KindWaterfall:
		return "waterfall.jar"
	default:
		return "server.jar"
	}
}

// Start spawns the instance's child process. See spec §4.3.
func (s *Supervisor) Start(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if s.IsRunning(id) {
		return apierr.AlreadyRunning("instance %q is already running", id)
	}

	inst, err := s.reg.Get(id)
	if err != nil {
		return err
	}

	jarPath := filepath.Join(inst.WorkspacePath, jarFilename(inst.Kind))
	if _, err := os.Stat(jarPath); err != nil {
		return apierr.JarMissing("%s not found in workspace for instance %q", jarFilename(inst.Kind), id)
	}

	if inst.Kind == types.KindVelocity && s.proxy != nil {
		if err := s.proxy.EnsureProxyConfigValid(id); err != nil {
			return fmt.Errorf("validate velocity config: %w", err)
		}
	}

	if !inst.Kind.IsProxy() {
		removeStaleSessionLocks(inst.WorkspacePath)
	}

	args := []string{
		fmt.Sprintf("-Xmx%s", inst.Memory),
		fmt.Sprintf("-Xms%s", inst.Memory),
		"-jar", jarPath,
		"nogui",
	}
	cmd := exec.Command("java", args...)
	cmd.Dir = inst.WorkspacePath

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return apierr.SpawnError(err, "open stdin pipe for instance %q", id)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return apierr.SpawnError(err, "open stdout pipe for instance %q", id)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return apierr.SpawnError(err, "open stderr pipe for instance %q", id)
	}

	if err := cmd.Start(); err != nil {
		return apierr.SpawnError(err, "spawn java process for instance %q", id)
	}

	handle := &types.ProcessHandle{
		InstanceID: id,
		PID:        cmd.Process.Pid,
		Cmd:        cmd,
		StartedAt:  time.Now().UTC(),
	}
	// handle.Stdin is only set when the pipe is an *os.File, which
	// cmd.StdinPipe does not return; writes in this package go through the
	// StdinPipe writer kept on the runtime entry.
	if f, ok := stdinPipe.(*os.File); ok {
		handle.Stdin = f
	}

	rt := &runtimeEntry{
		handle:  handle,
		stdin:   stdinPipe,
		kind:    inst.Kind,
		done:    make(chan struct{}),
		tpsStop: make(chan struct{}),
	}

	s.mu.Lock()
	s.runtimes[id] = rt
	s.mu.Unlock()

	if err := s.reg.SetStatus(id, types.StatusRunning); err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("persist running status failed")
	}
	s.bus.Publish(events.StatusTopic(id), events.StatusChange{InstanceID: id, Status: string(types.StatusRunning)})
	s.bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{
		InstanceID: id, InstanceName: inst.Name, Kind: string(types.EventStart),
	})

	go s.scanStream(id, "stdout", stdoutPipe, handle)
	go s.scanStream(id, "stderr", stderrPipe, handle)
	go s.pollTPS(id, stdinPipe, rt.tpsStop)
	go s.reap(id, rt)

	if s.sampler != nil {
		s.sampler.StartSampling(id, handle.PID)
	}

	if inst.Kind.IsProxy() {
		if s.proxy != nil {
			go s.proxy.CascadeStart(id)
		}
		if s.prober != nil {
			s.prober.StartProbing(id)
		}
	}

	s.logger.Info().Str("instance_id", id).Int("pid", handle.PID).Msg("instance started")
	return nil
}

// Stop satisfies pkg/registry.ProcessStopper and spec §4.3's default
// stop(id) with skipBackends=false.
func (s *Supervisor) Stop(id string) error { return s.stopInternal(id, false) }

// StopSkippingBackends stops id without cascading to its backends. It is
// used by pkg/topology's cascadeStop to prevent recursion.
func (s *Supervisor) StopSkippingBackends(id string) error { return s.stopInternal(id, true) }

func (s *Supervisor) stopInternal(id string, skipBackends bool) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	rt, ok := s.runtimes[id]
	s.mu.RUnlock()
	if !ok {
		return apierr.NotRunning("instance %q is not running", id)
	}

	if rt.kind.IsProxy() && !skipBackends && s.proxy != nil {
		s.proxy.CascadeStop(id)
	}

	if rt.stdin != nil {
		_, _ = io.WriteString(rt.stdin, "stop\n")
	}

	select {
	case <-rt.done:
		return nil
	case <-time.After(stopGrace):
	}

	if rt.handle.Cmd != nil && rt.handle.Cmd.Process != nil {
		_ = rt.handle.Cmd.Process.Kill()
	}
	<-rt.done
	return nil
}

// Restart stops then, after a short pause, starts id again.
func (s *Supervisor) Restart(id string) error {
	if err := s.stopInternal(id, false); err != nil && !apierr.Is(err, apierr.CodeNotRunning) {
		return err
	}
	time.Sleep(restartPause)
	return s.Start(id)
}

// SendCommand writes line to the running instance's stdin.
func (s *Supervisor) SendCommand(id, line string) error {
	s.mu.RLock()
	rt, ok := s.runtimes[id]
	s.mu.RUnlock()
	if !ok {
		return apierr.NotRunning("instance %q is not running", id)
	}
	if rt.stdin == nil {
		return apierr.NotRunning("instance %q has no stdin handle", id)
	}
	_, err := io.WriteString(rt.stdin, line+"\n")
	if err != nil {
		return apierr.IoError(err, "write command to instance %q", id)
	}
	return nil
}

// StopAll best-effort stops every running instance in parallel, force
// terminating stragglers, and always leaves every status persisted as
// stopped.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.stopInternal(id, true); err != nil {
				s.logger.Warn().Err(err).Str("instance_id", id).Msg("stop during shutdown failed")
			}
		}(id)
	}
	wg.Wait()

	// reap records force-killed instances as crashed; shutdown overrides that.
	for _, id := range ids {
		if err := s.reg.SetStatus(id, types.StatusStopped); err != nil {
			s.logger.Error().Err(err).Str("instance_id", id).Msg("persist stopped status failed")
		}
	}
}

// reap blocks on the child's exit, then retires the runtime entry.
func (s *Supervisor) reap(id string, rt *runtimeEntry) {
	err := rt.handle.Cmd.Wait()
	close(rt.tpsStop)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	crashed := exitCode != 0

	s.mu.Lock()
	delete(s.runtimes, id)
	s.mu.Unlock()

	status := types.StatusStopped
	eventKind := types.EventStop
	if crashed {
		status = types.StatusCrashed
		eventKind = types.EventCrash
	}

	if err := s.reg.SetStatus(id, status); err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("persist exit status failed")
	}
	if s.sampler != nil {
		s.sampler.StopSampling(id)
	}
	if rt.kind.IsProxy() && s.prober != nil {
		s.prober.StopProbing(id)
	}

	ec := exitCode
	s.bus.Publish(events.StatusTopic(id), events.StatusChange{InstanceID: id, Status: string(status), ExitCode: &ec})
	s.bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{InstanceID: id, Kind: string(eventKind)})

	s.logger.Info().Str("instance_id", id).Int("exit_code", exitCode).Bool("crashed", crashed).Msg("instance exited")
	close(rt.done)
}

// scanStream reads lines from stream, forwards them on the console topic,
// and runs the fixed list of matchers (TPS, player join/leave) over each one.
func (s *Supervisor) scanStream(id, stream string, r io.Reader, handle *types.ProcessHandle) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		handle.AppendStdout(line)
		s.bus.Publish(events.ConsoleTopic(id), events.ConsoleLine{InstanceID: id, Stream: stream, Line: line})

		if tps, ok := parseTPS(line); ok && s.sampler != nil {
			s.sampler.ObserveTPS(id, tps)
		}
		if player, ok := matchJoined(line); ok {
			s.bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{
				InstanceID: id, Kind: string(types.EventPlayerJoin), Player: player,
			})
		}
		if player, ok := matchLeft(line); ok {
			s.bus.Publish(events.TopicInstanceEvents, events.InstanceEvent{
				InstanceID: id, Kind: string(types.EventPlayerLeave), Player: player,
			})
		}
	}
}

// pollTPS writes "tps\n" to stdin every 10 seconds while running, so the
// stdout scanner's TPS matcher has fresh output to parse.
func (s *Supervisor) pollTPS(id string, stdin io.Writer, stop <-chan struct{}) {
	ticker := time.NewTicker(tpsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := io.WriteString(stdin, "tps\n"); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func removeStaleSessionLocks(workspacePath string) {
	for _, dir := range worldDirsWithSessionLock {
		lock := filepath.Join(workspacePath, dir, "session.lock")
		_ = os.Remove(lock)
	}
}
