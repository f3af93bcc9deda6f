package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/configwriter"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Role distinguishes an admin principal (sees every row) from a regular
// user (sees only rows it owns).
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ProcessStopper is the port the registry uses to ensure a running process
// is stopped before its workspace is deleted. pkg/supervisor implements it;
// the dependency runs supervisor -> registry, never the reverse, so this
// interface exists to let delete() reach back in without an import cycle.
type ProcessStopper interface {
	Stop(id string) error
	IsRunning(id string) bool
}

// catalogFile is the on-disk shape of servers.json.
type catalogFile struct {
	Version   int               `json:"version"`
	Instances []*types.Instance `json:"instances"`
}

const currentCatalogVersion = 2

// Registry is the durable catalog of managed instances (C1).
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*types.Instance
	dataRoot    string
	serversRoot string
	catalogPath string
	stopper     ProcessStopper
	logger      zerolog.Logger
}

// Options configures a new Registry.
type Options struct {
	// DataRoot holds servers.json.
	DataRoot string
	// ServersRoot is where each instance's workspace directory is created.
	ServersRoot string
}

// New loads (or initializes) the catalog at <DataRoot>/servers.json. On a
// corrupted catalog it returns an error; callers are expected to treat that
// as fatal to startup, per spec §4.1.
func New(opts Options, stopper ProcessStopper) (*Registry, error) {
	if err := os.MkdirAll(opts.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	if err := os.MkdirAll(opts.ServersRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create servers root: %w", err)
	}

	r := &Registry{
		byID:        make(map[string]*types.Instance),
		dataRoot:    opts.DataRoot,
		serversRoot: opts.ServersRoot,
		catalogPath: filepath.Join(opts.DataRoot, "servers.json"),
		stopper:     stopper,
		logger:      log.WithComponent("registry"),
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetStopper wires the process stopper in after construction. main builds
// the registry before the supervisor exists, then calls this once the
// supervisor is ready, breaking the registry<->supervisor init cycle.
func (r *Registry) SetStopper(stopper ProcessStopper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopper = stopper
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.catalogPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var cf catalogFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("catalog is corrupted, refusing to start: %w", err)
	}

	for _, inst := range cf.Instances {
		// Status is derived, never trusted across a restart.
		inst.Status = types.StatusStopped
		// One-shot migration: older rows may be missing Host.
		if inst.Host == "" {
			inst.Host = "0.0.0.0"
		}
		r.byID[inst.ID] = inst
	}
	return nil
}

// save performs the whole-file, at-least-once catalog write. On failure the
// caller is expected to roll back its in-memory mutation.
func (r *Registry) save() error {
	instances := make([]*types.Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		instances = append(instances, inst)
	}
	cf := catalogFile{Version: currentCatalogVersion, Instances: instances}

	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	tmp := r.catalogPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierr.IoError(err, "write catalog")
	}
	if err := os.Rename(tmp, r.catalogPath); err != nil {
		return apierr.IoError(err, "replace catalog")
	}
	return nil
}

// Create allocates an identifier and workspace, writes the kind-specific
// config, persists, and returns the new Instance. Fails with Conflict if
// the declared game or RCON port collides with another instance's.
func (r *Registry) Create(spec types.CreateSpec, ownerID string) (*types.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if spec.Port < 1024 || spec.RconPort < 1024 {
		return nil, apierr.InvalidArgument("port must be >= 1024")
	}
	if err := r.checkPortFreeLocked("", spec.Port, spec.RconPort); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	host := spec.Host
	if host == "" {
		host = "0.0.0.0"
	}

	inst := &types.Instance{
		ID:            id,
		Name:          spec.Name,
		Kind:          spec.Kind,
		Version:       spec.Version,
		Host:          host,
		Port:          spec.Port,
		RconPort:      spec.RconPort,
		RconPassword:  spec.Password,
		Memory:        spec.Memory,
		WorkspacePath: filepath.Join(r.serversRoot, id),
		OwnerID:       ownerID,
		CreatedAt:     time.Now().UTC(),
		Status:        types.StatusStopped,
	}

	if err := os.MkdirAll(inst.WorkspacePath, 0o755); err != nil {
		return nil, apierr.IoError(err, "create workspace")
	}
	if err := configwriter.WriteInitial(inst); err != nil {
		return nil, apierr.IoError(err, "write initial config")
	}

	r.byID[id] = inst
	if err := r.save(); err != nil {
		delete(r.byID, id)
		return nil, err
	}

	r.logger.Info().Str("instance_id", id).Str("kind", string(inst.Kind)).Msg("instance created")
	return cloneInstance(inst), nil
}

// Get returns the instance with id, or NotFound.
func (r *Registry) Get(id string) (*types.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, apierr.NotFound("instance %q", id)
	}
	return cloneInstance(inst), nil
}

// CanAccess reports whether principal may act on id, per the List rule:
// admins see everything, others only their own rows.
func (r *Registry) CanAccess(id string, ownerID string, role Role) (bool, error) {
	inst, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if role == RoleAdmin {
		return true, nil
	}
	return inst.OwnerID == ownerID, nil
}

// List returns instances visible to principal: every row for an admin, only
// owned rows otherwise.
func (r *Registry) List(ownerID string, role Role) []*types.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		if role == RoleAdmin || inst.OwnerID == ownerID {
			out = append(out, cloneInstance(inst))
		}
	}
	return out
}

// Update applies patch's mutable fields. Kind and Version are never
// accepted, per spec §4.1.
func (r *Registry) Update(id string, patch types.UpdatePatch) (*types.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byID[id]
	if !ok {
		return nil, apierr.NotFound("instance %q", id)
	}

	prev := *inst
	if patch.Memory != nil {
		inst.Memory = *patch.Memory
	}
	if patch.RconPassword != nil {
		inst.RconPassword = *patch.RconPassword
	}
	if patch.Host != nil {
		inst.Host = *patch.Host
	}

	if err := r.save(); err != nil {
		*inst = prev
		return nil, err
	}
	return cloneInstance(inst), nil
}

// SetStatus persists a derived status transition. Called by pkg/supervisor
// on every lifecycle change.
func (r *Registry) SetStatus(id string, status types.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return apierr.NotFound("instance %q", id)
	}
	prev := inst.Status
	inst.Status = status
	if status == types.StatusRunning {
		inst.LastStartedAt = time.Now().UTC()
	}
	if err := r.save(); err != nil {
		inst.Status = prev
		return err
	}
	return nil
}

// Delete stops any running process, removes the workspace recursively, and
// removes the catalog row.
func (r *Registry) Delete(id string) error {
	r.mu.RLock()
	_, ok := r.byID[id]
	stopper := r.stopper
	r.mu.RUnlock()
	if !ok {
		return apierr.NotFound("instance %q", id)
	}

	// The stopper runs without r.mu held: a stopping process persists its
	// exit status through SetStatus, which takes r.mu itself.
	if stopper != nil && stopper.IsRunning(id) {
		if err := stopper.Stop(id); err != nil {
			return fmt.Errorf("stop before delete: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return apierr.NotFound("instance %q", id)
	}

	if err := os.RemoveAll(inst.WorkspacePath); err != nil {
		return apierr.IoError(err, "remove workspace")
	}

	delete(r.byID, id)
	if err := r.save(); err != nil {
		// Workspace is already gone; re-inserting the row would be
		// misleading, so the catalog write failure is surfaced as-is.
		return err
	}
	r.logger.Info().Str("instance_id", id).Msg("instance deleted")
	return nil
}

// checkPortFreeLocked requires r.mu to be held. excludeID lets Update-style
// callers exclude the row being modified (unused by Create).
func (r *Registry) checkPortFreeLocked(excludeID string, port, rconPort uint16) error {
	for _, inst := range r.byID {
		if inst.ID == excludeID {
			continue
		}
		if inst.Port == port || inst.RconPort == port || inst.Port == rconPort || inst.RconPort == rconPort {
			return apierr.Conflict("port %d or %d already in use by instance %s", port, rconPort, inst.ID)
		}
	}
	return nil
}

func cloneInstance(inst *types.Instance) *types.Instance {
	cp := *inst
	return &cp
}
