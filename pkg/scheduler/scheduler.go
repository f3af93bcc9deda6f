package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// executionRingSize bounds the in-memory Execution log per spec §4.8.
const executionRingSize = 100

// berlin is the default timezone cron expressions are evaluated in.
var berlin = mustLoadLocation("Europe/Berlin")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProcessRunner is the port the scheduler drives for start/stop/restart/
// command task kinds. pkg/supervisor.Supervisor satisfies it.
type ProcessRunner interface {
	Start(id string) error
	Stop(id string) error
	Restart(id string) error
	SendCommand(id, line string) error
}

// BackupRunner is the port the scheduler drives for backup task kinds.
// pkg/backup.Manager satisfies it.
type BackupRunner interface {
	Snapshot(instanceID string) (string, error)
}

// taskFile is the on-disk shape of tasks.json.
type taskFile struct {
	Version int                    `json:"version"`
	Tasks   []*types.ScheduledTask `json:"tasks"`
}

const currentTaskFileVersion = 1

// entry tracks one scheduled row's cron subscription and in-flight state.
type entry struct {
	task    *types.ScheduledTask
	entryID cron.EntryID
	running bool
}

// Scheduler implements the cron-validated Scheduled Task table (C8).
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	tasks    map[string]*entry
	dataPath string

	runner ProcessRunner
	backup BackupRunner
	logger zerolog.Logger

	execMu sync.Mutex
	execs  []*types.Execution
}

// Options configures a new Scheduler.
type Options struct {
	// DataRoot holds tasks.json.
	DataRoot string
}

// New loads (or initializes) the task table at <DataRoot>/tasks.json and
// schedules every enabled, cron-valid row. runner and backup may be wired
// in later via SetRunner/SetBackup if not yet constructed.
func New(opts Options, runner ProcessRunner, backup BackupRunner) (*Scheduler, error) {
	if err := os.MkdirAll(opts.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(berlin)),
		tasks:    make(map[string]*entry),
		dataPath: filepath.Join(opts.DataRoot, "tasks.json"),
		runner:   runner,
		backup:   backup,
		logger:   log.WithComponent("scheduler"),
	}

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		e := &entry{task: t}
		s.tasks[t.ID] = e
		if t.Enabled {
			if err := s.scheduleLocked(e); err != nil {
				s.logger.Warn().Str("task_id", t.ID).Err(err).Msg("invalid cron expression, task disabled")
				e.task.Enabled = false
			}
		}
	}
	return s, nil
}

// SetRunner wires the process runner in after construction.
func (s *Scheduler) SetRunner(r ProcessRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

// SetBackup wires the backup runner in after construction.
func (s *Scheduler) SetBackup(b BackupRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup = b
}

// Start begins firing scheduled ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// StopAll cancels every cron subscription. The execution ring is retained
// in memory, per spec §4.8; it is never persisted.
func (s *Scheduler) StopAll() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) load() ([]*types.ScheduledTask, error) {
	data, err := os.ReadFile(s.dataPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task table: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("task table is corrupted, refusing to start: %w", err)
	}
	return tf.Tasks, nil
}

// save performs the whole-file, at-least-once task table write.
func (s *Scheduler) save() error {
	tasks := make([]*types.ScheduledTask, 0, len(s.tasks))
	for _, e := range s.tasks {
		tasks = append(tasks, e.task)
	}
	tf := taskFile{Version: currentTaskFileVersion, Tasks: tasks}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task table: %w", err)
	}
	tmp := s.dataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierr.IoError(err, "write task table")
	}
	if err := os.Rename(tmp, s.dataPath); err != nil {
		return apierr.IoError(err, "replace task table")
	}
	return nil
}

// scheduleLocked registers e's cron subscription. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(e *entry) error {
	id, err := s.cron.AddFunc(e.task.Cron, func() { s.fire(e.task.ID) })
	if err != nil {
		return err
	}
	e.entryID = id
	return nil
}

// unscheduleLocked removes e's cron subscription, if any. Caller holds s.mu.
func (s *Scheduler) unscheduleLocked(e *entry) {
	if e.entryID != 0 {
		s.cron.Remove(e.entryID)
		e.entryID = 0
	}
}

// CreateTask validates cron, persists, and schedules (if enabled) a new
// task row.
func (s *Scheduler) CreateTask(name string, kind types.TaskKind, instanceID, cronExpr, command string, enabled bool) (*types.ScheduledTask, error) {
	if kind == types.TaskCommand && command == "" {
		return nil, apierr.InvalidArgument("command is required for kind=command")
	}
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, apierr.InvalidArgument("invalid cron expression %q: %v", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &types.ScheduledTask{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       kind,
		InstanceID: instanceID,
		Cron:       cronExpr,
		Command:    command,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
	}
	e := &entry{task: t}
	if enabled {
		if err := s.scheduleLocked(e); err != nil {
			return nil, apierr.InvalidArgument("invalid cron expression %q: %v", cronExpr, err)
		}
	}
	s.tasks[t.ID] = e
	if err := s.save(); err != nil {
		s.unscheduleLocked(e)
		delete(s.tasks, t.ID)
		return nil, err
	}
	return cloneTask(t), nil
}

// GetTask returns the task with id, or NotFound.
func (s *Scheduler) GetTask(id string) (*types.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, apierr.NotFound("task %q", id)
	}
	return cloneTask(e.task), nil
}

// ListTasks returns every persisted task row.
func (s *Scheduler) ListTasks() []*types.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ScheduledTask, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, cloneTask(e.task))
	}
	return out
}

// UpdateTask atomically cancels and reschedules id's cron subscription
// with the new cron/command, per spec §4.8.
func (s *Scheduler) UpdateTask(id, cronExpr, command string) (*types.ScheduledTask, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, apierr.InvalidArgument("invalid cron expression %q: %v", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, apierr.NotFound("task %q", id)
	}

	s.unscheduleLocked(e)
	e.task.Cron = cronExpr
	e.task.Command = command
	if e.task.Enabled {
		if err := s.scheduleLocked(e); err != nil {
			return nil, apierr.InvalidArgument("invalid cron expression %q: %v", cronExpr, err)
		}
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	return cloneTask(e.task), nil
}

// EnableTask schedules id's cron subscription and persists enabled=true.
func (s *Scheduler) EnableTask(id string) (*types.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, apierr.NotFound("task %q", id)
	}
	if e.task.Enabled {
		return cloneTask(e.task), nil
	}
	if err := s.scheduleLocked(e); err != nil {
		return nil, apierr.InvalidArgument("invalid cron expression %q: %v", e.task.Cron, err)
	}
	e.task.Enabled = true
	if err := s.save(); err != nil {
		s.unscheduleLocked(e)
		e.task.Enabled = false
		return nil, err
	}
	return cloneTask(e.task), nil
}

// DisableTask cancels id's cron subscription and persists enabled=false.
func (s *Scheduler) DisableTask(id string) (*types.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, apierr.NotFound("task %q", id)
	}
	s.unscheduleLocked(e)
	e.task.Enabled = false
	if err := s.save(); err != nil {
		return nil, err
	}
	return cloneTask(e.task), nil
}

// DeleteTask cancels id's cron subscription and removes it from the table.
func (s *Scheduler) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return apierr.NotFound("task %q", id)
	}
	s.unscheduleLocked(e)
	delete(s.tasks, id)
	return s.save()
}

// ListExecutions returns the in-memory Execution ring, newest first.
func (s *Scheduler) ListExecutions() []*types.Execution {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	out := make([]*types.Execution, len(s.execs))
	copy(out, s.execs)
	return out
}

// fire runs taskID's action, enforcing the at-most-one-in-flight overlap
// policy, and appends the resulting Execution to the ring.
func (s *Scheduler) fire(taskID string) {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.running {
		s.mu.Unlock()
		s.logger.Warn().Str("task_id", taskID).Msg("tick skipped, previous execution still in flight")
		return
	}
	e.running = true
	task := *e.task
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if e, ok := s.tasks[taskID]; ok {
			e.running = false
		}
		s.mu.Unlock()
	}()

	exec := &types.Execution{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		TaskName:   task.Name,
		Kind:       task.Kind,
		InstanceID: task.InstanceID,
		StartedAt:  time.Now().UTC(),
	}

	result, err := s.run(task)

	exec.EndedAt = time.Now().UTC()
	exec.Duration = exec.EndedAt.Sub(exec.StartedAt)
	exec.Success = err == nil
	exec.Result = result
	if err != nil {
		exec.Error = err.Error()
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("task execution failed")
	}

	s.mu.Lock()
	if e, ok := s.tasks[taskID]; ok {
		e.task.LastRunAt = exec.StartedAt
		_ = s.save()
	}
	s.mu.Unlock()

	s.appendExecution(exec)
}

// run dispatches task by kind against the wired ports.
func (s *Scheduler) run(task types.ScheduledTask) (string, error) {
	switch task.Kind {
	case types.TaskBackup:
		if s.backup == nil {
			return "", fmt.Errorf("backup port not wired")
		}
		return s.backup.Snapshot(task.InstanceID)
	case types.TaskStart:
		if s.runner == nil {
			return "", fmt.Errorf("process runner not wired")
		}
		return "", s.runner.Start(task.InstanceID)
	case types.TaskStop:
		if s.runner == nil {
			return "", fmt.Errorf("process runner not wired")
		}
		return "", s.runner.Stop(task.InstanceID)
	case types.TaskRestart:
		if s.runner == nil {
			return "", fmt.Errorf("process runner not wired")
		}
		return "", s.runner.Restart(task.InstanceID)
	case types.TaskCommand:
		if s.runner == nil {
			return "", fmt.Errorf("process runner not wired")
		}
		return "", s.runner.SendCommand(task.InstanceID, task.Command)
	default:
		return "", fmt.Errorf("unsupported task kind %q", task.Kind)
	}
}

// appendExecution pushes exec to the front of the ring, evicting the
// oldest record past executionRingSize.
func (s *Scheduler) appendExecution(exec *types.Execution) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.execs = append([]*types.Execution{exec}, s.execs...)
	if len(s.execs) > executionRingSize {
		s.execs = s.execs[:executionRingSize]
	}
}

func cloneTask(t *types.ScheduledTask) *types.ScheduledTask {
	c := *t
	return &c
}
