package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	starts   int32
	stops    int32
	restarts int32
	commands int32
	err      error
}

func (f *fakeRunner) Start(id string) error   { atomic.AddInt32(&f.starts, 1); return f.err }
func (f *fakeRunner) Stop(id string) error    { atomic.AddInt32(&f.stops, 1); return f.err }
func (f *fakeRunner) Restart(id string) error { atomic.AddInt32(&f.restarts, 1); return f.err }
func (f *fakeRunner) SendCommand(id, line string) error {
	atomic.AddInt32(&f.commands, 1)
	return f.err
}

type fakeBackup struct {
	calls int32
	path  string
	err   error
}

func (f *fakeBackup) Snapshot(instanceID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.path, f.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeRunner, *fakeBackup) {
	t.Helper()
	runner := &fakeRunner{}
	backup := &fakeBackup{path: "backup.zip"}
	s, err := New(Options{DataRoot: t.TempDir()}, runner, backup)
	require.NoError(t, err)
	return s, runner, backup
}

func TestCreateTaskRejectsBadCron(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CreateTask("bad", types.TaskRestart, "inst-1", "not a cron", "", true)
	assert.Error(t, err)
}

func TestCreateTaskRejectsCommandWithoutCommandString(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CreateTask("say-hi", types.TaskCommand, "inst-1", "*/1 * * * *", "", true)
	assert.Error(t, err)
}

func TestCreateTaskPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	s, err := New(Options{DataRoot: dir}, runner, nil)
	require.NoError(t, err)

	task, err := s.CreateTask("nightly restart", types.TaskRestart, "inst-1", "0 3 * * *", "", true)
	require.NoError(t, err)

	s2, err := New(Options{DataRoot: dir}, runner, nil)
	require.NoError(t, err)
	got, err := s2.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly restart", got.Name)
	assert.True(t, got.Enabled)
}

func TestLoadDisablesTaskWithInvalidCron(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{DataRoot: dir}, &fakeRunner{}, nil)
	require.NoError(t, err)
	task, err := s.CreateTask("ok task", types.TaskRestart, "inst-1", "0 3 * * *", "", true)
	require.NoError(t, err)

	// Corrupt the persisted cron expression directly, bypassing validation,
	// to simulate a row that became invalid after being written (e.g. a
	// future format change).
	s.mu.Lock()
	s.tasks[task.ID].task.Cron = "garbage"
	_ = s.save()
	s.mu.Unlock()

	s2, err := New(Options{DataRoot: dir}, &fakeRunner{}, nil)
	require.NoError(t, err)
	got, err := s2.GetTask(task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestFireDispatchesByKind(t *testing.T) {
	s, runner, backup := newTestScheduler(t)
	_, err := s.CreateTask("backup now", types.TaskBackup, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)
	_, err = s.CreateTask("restart now", types.TaskRestart, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)

	tasks := s.ListTasks()
	for _, task := range tasks {
		s.fire(task.ID)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&backup.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.restarts))

	execs := s.ListExecutions()
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.True(t, e.Success)
	}
}

func TestFireSkipsOverlappingExecution(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	task, err := s.CreateTask("slow", types.TaskRestart, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)

	s.mu.Lock()
	s.tasks[task.ID].running = true
	s.mu.Unlock()

	s.fire(task.ID)

	assert.Empty(t, s.ListExecutions())
}

func TestEnableDisableTaskReschedules(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	task, err := s.CreateTask("off by default", types.TaskRestart, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)

	enabled, err := s.EnableTask(task.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)

	disabled, err := s.DisableTask(task.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
}

func TestUpdateTaskReplacesCron(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	task, err := s.CreateTask("hourly", types.TaskCommand, "inst-1", "0 * * * *", "say hi", true)
	require.NoError(t, err)

	updated, err := s.UpdateTask(task.ID, "0 */2 * * *", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "0 */2 * * *", updated.Cron)
	assert.Equal(t, "say hello", updated.Command)
}

func TestDeleteTaskRemovesRow(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	task, err := s.CreateTask("throwaway", types.TaskRestart, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(task.ID))
	_, err = s.GetTask(task.ID)
	assert.Error(t, err)
}

func TestExecutionRingEvictsOldest(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	task, err := s.CreateTask("spammy", types.TaskRestart, "inst-1", "*/1 * * * *", "", false)
	require.NoError(t, err)

	for i := 0; i < executionRingSize+5; i++ {
		s.fire(task.ID)
	}

	assert.Len(t, s.ListExecutions(), executionRingSize)
}

func TestStopAllCancelsSubscriptions(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CreateTask("ticking", types.TaskRestart, "inst-1", "* * * * *", "", true)
	require.NoError(t, err)
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.StopAll()
}
