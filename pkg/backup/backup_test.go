package backup

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct{ inst *types.Instance }

func (f *fakeLookup) Get(id string) (*types.Instance, error) { return f.inst, nil }

type fakeStopper struct {
	running bool
	stopped bool
}

func (f *fakeStopper) IsRunning(id string) bool { return f.running }
func (f *fakeStopper) Stop(id string) error     { f.stopped = true; f.running = false; return nil }

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "world"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "server.properties"), []byte("motd=hi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "world", "level.dat"), []byte("world-data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "logs", "latest.log"), []byte("log-data"), 0o644))

	lookup := &fakeLookup{inst: &types.Instance{ID: "inst-1", WorkspacePath: workspace}}
	m, err := New(Options{BackupRoot: filepath.Join(root, "backups")}, lookup, &fakeStopper{})
	require.NoError(t, err)
	return m, workspace
}

func TestSnapshotCreatesArchiveSkippingLogs(t *testing.T) {
	m, _ := newTestManager(t)

	rec, err := m.SnapshotNamed("inst-1", "nightly")
	require.NoError(t, err)
	assert.FileExists(t, rec.Path)
	assert.Contains(t, rec.ID, "nightly-")

	names := zipEntryNames(t, rec.Path)
	assert.Contains(t, names, "server.properties")
	assert.Contains(t, names, "world/level.dat")
	for _, n := range names {
		assert.NotContains(t, n, "logs/")
	}
}

func TestListReturnsSnapshotForInstance(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.SnapshotNamed("inst-1", "first")
	require.NoError(t, err)

	list, err := m.List("inst-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "inst-1", list[0].InstanceID)
}

func TestDeleteRemovesArchive(t *testing.T) {
	m, _ := newTestManager(t)
	rec, err := m.SnapshotNamed("inst-1", "temp")
	require.NoError(t, err)

	require.NoError(t, m.Delete("inst-1", rec.ID))
	_, err = m.PathFor("inst-1", rec.ID)
	assert.Error(t, err)
}

func TestRestoreReplacesWorkspaceContents(t *testing.T) {
	m, workspace := newTestManager(t)
	rec, err := m.SnapshotNamed("inst-1", "before-change")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workspace, "server.properties"), []byte("motd=changed\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(workspace, "world", "level.dat")))

	require.NoError(t, m.Restore("inst-1", rec.ID))

	data, err := os.ReadFile(filepath.Join(workspace, "server.properties"))
	require.NoError(t, err)
	assert.Equal(t, "motd=hi\n", string(data))
	assert.FileExists(t, filepath.Join(workspace, "world", "level.dat"))
}

func TestRestoreStopsRunningInstance(t *testing.T) {
	m, _ := newTestManager(t)
	rec, err := m.SnapshotNamed("inst-1", "snap")
	require.NoError(t, err)

	stopper := &fakeStopper{running: true}
	m.SetStopper(stopper)

	require.NoError(t, m.Restore("inst-1", rec.ID))
	assert.True(t, stopper.stopped)
}

func zipEntryNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}
