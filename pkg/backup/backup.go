package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog"
)

// skippedDirs are workspace subdirectories never included in a snapshot,
// per spec §4.11.
var skippedDirs = map[string]bool{
	"logs":          true,
	"crash-reports": true,
	"debug":         true,
}

// InstanceLookup is the port the backup manager uses to resolve an
// instance's workspace path. pkg/registry.Registry satisfies it.
type InstanceLookup interface {
	Get(id string) (*types.Instance, error)
}

// ProcessStopper is the port the backup manager uses to take a running
// instance offline before a restore. pkg/supervisor.Supervisor satisfies
// it.
type ProcessStopper interface {
	IsRunning(id string) bool
	Stop(id string) error
}

// Manager implements C11 against a flat <backupRoot>/<instanceId>/*.zip
// layout; there is no separate catalog file, archives on disk are the
// source of truth, mirroring Backend Edge's "reconstructed from disk on
// every query" invariant.
type Manager struct {
	mu         sync.Mutex
	backupRoot string
	registry   InstanceLookup
	stopper    ProcessStopper
	logger     zerolog.Logger
}

// Options configures a new Manager.
type Options struct {
	// BackupRoot is the directory under which every instance gets its own
	// subdirectory of archives.
	BackupRoot string
}

// New returns a Manager rooted at opts.BackupRoot.
func New(opts Options, reg InstanceLookup, stopper ProcessStopper) (*Manager, error) {
	if err := os.MkdirAll(opts.BackupRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	return &Manager{
		backupRoot: opts.BackupRoot,
		registry:   reg,
		stopper:    stopper,
		logger:     log.WithComponent("backup"),
	}, nil
}

// SetStopper wires the process stopper in after construction, breaking
// the backup<->supervisor init cycle the same way registry.SetStopper
// does.
func (m *Manager) SetStopper(stopper ProcessStopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopper = stopper
}

func (m *Manager) instanceDir(instanceID string) string {
	return filepath.Join(m.backupRoot, instanceID)
}

// Snapshot archives instanceID's workspace to
// <backupRoot>/<instanceId>/<name-or-timestamp>-<epoch>.zip, skipping
// logs/, crash-reports/, and debug/, at maximum compression.
func (m *Manager) Snapshot(instanceID string) (string, error) {
	rec, err := m.SnapshotNamed(instanceID, "")
	if err != nil {
		return "", err
	}
	return rec.Path, nil
}

// SnapshotNamed is Snapshot with an explicit archive name component; an
// empty name falls back to a timestamp.
func (m *Manager) SnapshotNamed(instanceID, name string) (*types.BackupRecord, error) {
	inst, err := m.registry.Get(instanceID)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = time.Now().UTC().Format("20060102-150405")
	}
	epoch := time.Now().UTC().Unix()
	filename := fmt.Sprintf("%s-%d.zip", sanitizeName(name), epoch)

	dir := m.instanceDir(instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.IoError(err, "create backup directory")
	}
	destPath := filepath.Join(dir, filename)

	if err := writeWorkspaceZip(destPath, inst.WorkspacePath); err != nil {
		_ = os.Remove(destPath)
		return nil, apierr.IoError(err, "write backup archive")
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, apierr.IoError(err, "stat backup archive")
	}

	rec := &types.BackupRecord{
		ID:         strings.TrimSuffix(filename, ".zip"),
		InstanceID: instanceID,
		Name:       name,
		Path:       destPath,
		SizeBytes:  info.Size(),
		CreatedAt:  info.ModTime().UTC(),
	}
	m.logger.Info().Str("instance_id", instanceID).Str("backup_id", rec.ID).Msg("backup created")
	return rec, nil
}

// List returns every archive recorded on disk for instanceID, newest
// first.
func (m *Manager) List(instanceID string) ([]*types.BackupRecord, error) {
	entries, err := os.ReadDir(m.instanceDir(instanceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.IoError(err, "list backups")
	}

	out := make([]*types.BackupRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".zip")
		out = append(out, &types.BackupRecord{
			ID:         id,
			InstanceID: instanceID,
			Name:       nameFromID(id),
			Path:       filepath.Join(m.instanceDir(instanceID), e.Name()),
			SizeBytes:  info.Size(),
			CreatedAt:  info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PathFor returns the on-disk path of backupID for instanceID, or
// NotFound.
func (m *Manager) PathFor(instanceID, backupID string) (string, error) {
	path := filepath.Join(m.instanceDir(instanceID), backupID+".zip")
	if _, err := os.Stat(path); err != nil {
		return "", apierr.NotFound("backup %q", backupID)
	}
	return path, nil
}

// Delete removes backupID's archive.
func (m *Manager) Delete(instanceID, backupID string) error {
	path, err := m.PathFor(instanceID, backupID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return apierr.IoError(err, "delete backup")
	}
	return nil
}

// Restore stops instanceID if running, extracts backupID into a staging
// directory beside the workspace, then atomically swaps it in. On any
// failure the staging directory is removed and the live workspace is
// left untouched.
func (m *Manager) Restore(instanceID, backupID string) error {
	archivePath, err := m.PathFor(instanceID, backupID)
	if err != nil {
		return err
	}
	inst, err := m.registry.Get(instanceID)
	if err != nil {
		return err
	}

	if m.stopper != nil && m.stopper.IsRunning(instanceID) {
		if err := m.stopper.Stop(instanceID); err != nil {
			return apierr.IoError(err, "stop instance before restore")
		}
	}

	workspace := inst.WorkspacePath
	staging := workspace + ".restore-staging"
	_ = os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return apierr.IoError(err, "create restore staging directory")
	}

	if err := extractZip(archivePath, staging); err != nil {
		os.RemoveAll(staging)
		return apierr.IoError(err, "extract backup archive")
	}

	replaced := workspace + ".pre-restore"
	_ = os.RemoveAll(replaced)
	if err := os.Rename(workspace, replaced); err != nil {
		os.RemoveAll(staging)
		return apierr.IoError(err, "stage aside existing workspace")
	}
	if err := os.Rename(staging, workspace); err != nil {
		// roll back: put the original workspace back in place.
		_ = os.Rename(replaced, workspace)
		os.RemoveAll(staging)
		return apierr.IoError(err, "activate restored workspace")
	}
	os.RemoveAll(replaced)

	m.logger.Info().Str("instance_id", instanceID).Str("backup_id", backupID).Msg("workspace restored")
	return nil
}

// writeWorkspaceZip archives workspaceRoot into destPath, registering
// klauspost/compress's flate implementation for BestCompression so large
// world saves compress tighter and faster than compress/flate's stdlib
// deflate.
func writeWorkspaceZip(destPath, workspaceRoot string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	defer zw.Close()

	return filepath.Walk(workspaceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && skippedDirs[info.Name()] {
			return filepath.SkipDir
		}
		if info.IsDir() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}

// extractZip unpacks src into destRoot, rejecting any entry whose path
// would escape destRoot (zip-slip).
func extractZip(src, destRoot string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		destPath := filepath.Join(destRoot, f.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(destRoot)+string(os.PathSeparator)) && destPath != filepath.Clean(destRoot) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "-")
	if name == "" {
		name = "backup"
	}
	return name
}

// nameFromID strips the trailing "-<epoch>" suffix List derives backup
// IDs with, recovering the human-facing name.
func nameFromID(id string) string {
	idx := strings.LastIndex(id, "-")
	if idx < 0 {
		return id
	}
	if _, err := strconv.ParseInt(id[idx+1:], 10, 64); err != nil {
		return id
	}
	return id[:idx]
}
