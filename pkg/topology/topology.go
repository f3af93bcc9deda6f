package topology

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/configwriter"
	"github.com/fleetmc/fleetmc/pkg/log"
	"github.com/fleetmc/fleetmc/pkg/registry"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessController is the narrow slice of pkg/supervisor the coordinator
// calls into to cascade start/stop across a proxy's backends. It is
// satisfied structurally by *supervisor.Supervisor; neither package imports
// the other's concrete type.
type ProcessController interface {
	Start(id string) error
	StopSkippingBackends(id string) error
	Restart(id string) error
	IsRunning(id string) bool
}

// ArtifactDownloader fetches the server/proxy jar for a given kind and
// version into destPath. createAndAdopt calls it for newly created backend
// instances; the other backend-edge operations never touch artifacts.
type ArtifactDownloader interface {
	Download(ctx context.Context, kind types.Kind, version, destPath string) error
}

const (
	cascadeStagger    = 500 * time.Millisecond
	startSettleTime   = 5 * time.Second
	forwardingDelay   = 3 * time.Second
	placeholderSecret = "pending-forwarding-secret"
)

// Coordinator implements the Topology Coordinator (C6): reading and
// rewriting a proxy's backend list, adopting newly created backends, and
// cascading start/stop across a proxy and its backends.
type Coordinator struct {
	reg        *registry.Registry
	proc       ProcessController
	downloader ArtifactDownloader
	logger     zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Coordinator. SetProcessController must be called once
// pkg/supervisor exists, since the two packages are built up together by
// main.
func New(reg *registry.Registry, downloader ArtifactDownloader) *Coordinator {
	return &Coordinator{
		reg:        reg,
		downloader: downloader,
		logger:     log.WithComponent("topology"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetProcessController wires the supervisor in after construction, breaking
// the supervisor<->topology initialization cycle.
func (c *Coordinator) SetProcessController(proc ProcessController) { c.proc = proc }

func (c *Coordinator) lockFor(proxyID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[proxyID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[proxyID] = l
	}
	return l
}

func configPath(inst *types.Instance) string {
	if inst.Kind.IsBungeeFamily() {
		return inst.WorkspacePath + "/config.yml"
	}
	return inst.WorkspacePath + "/velocity.toml"
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

// EnsureProxyConfigValid satisfies pkg/supervisor's ProxyCoordinator port,
// called before a velocity proxy starts. Per spec §4.3, it fails fast on a
// velocity.toml that won't parse; otherwise it reads forwarding.secret if
// present and folds it into velocity.toml, prunes try[] of names no longer
// present in [servers], and prunes forced-hosts the same way.
func (c *Coordinator) EnsureProxyConfigValid(proxyID string) error {
	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return err
	}
	if inst.Kind != types.KindVelocity {
		return nil
	}

	path := configPath(inst)
	cfg, err := configwriter.ReadVelocityConfig(path)
	if err != nil {
		return apierr.InvalidArgument("velocity.toml for instance %q is invalid: %v", proxyID, err)
	}

	changed := foldForwardingSecret(inst, cfg)
	if pruneTry(cfg) {
		changed = true
	}
	if pruneForcedHosts(cfg) {
		changed = true
	}
	if changed {
		if err := configwriter.WriteVelocityConfigStruct(path, cfg); err != nil {
			return apierr.IoError(err, "rewrite velocity.toml for instance %q", proxyID)
		}
	}
	return nil
}

// foldForwardingSecret reads forwarding.secret from the proxy's workspace,
// if present, and caches it on cfg.ForwardingSecret. A missing file is not
// an error: velocity hasn't generated it yet on a first boot.
func foldForwardingSecret(inst *types.Instance, cfg *configwriter.VelocityConfig) bool {
	secret, err := configwriter.ReadForwardingSecret(inst.WorkspacePath)
	if err != nil || secret == "" || secret == cfg.ForwardingSecret {
		return false
	}
	cfg.ForwardingSecret = secret
	return true
}

// pruneTry drops any try[] entry that no longer names a server in
// [servers], which can happen after a backend is removed out from under a
// stopped proxy.
func pruneTry(cfg *configwriter.VelocityConfig) bool {
	pruned := make([]string, 0, len(cfg.Try))
	for _, name := range cfg.Try {
		if _, ok := cfg.Servers[name]; ok {
			pruned = append(pruned, name)
		}
	}
	if len(pruned) == len(cfg.Try) {
		return false
	}
	cfg.Try = pruned
	return true
}

// pruneForcedHosts drops any forced-hosts entry whose target server names
// no longer exist in [servers], and removes the hostname key entirely once
// its target list is empty.
func pruneForcedHosts(cfg *configwriter.VelocityConfig) bool {
	changed := false
	for host, targets := range cfg.ForcedHosts {
		pruned := make([]string, 0, len(targets))
		for _, name := range targets {
			if _, ok := cfg.Servers[name]; ok {
				pruned = append(pruned, name)
			}
		}
		if len(pruned) != len(targets) {
			changed = true
		}
		if len(pruned) == 0 {
			delete(cfg.ForcedHosts, host)
		} else {
			cfg.ForcedHosts[host] = pruned
		}
	}
	return changed
}

// ListBackends reads the proxy's on-disk config and returns the set of
// Backend Edges it currently declares. See spec §4.6.
func (c *Coordinator) ListBackends(proxyID string) ([]types.BackendEdge, error) {
	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return nil, err
	}
	if !inst.Kind.IsProxy() {
		return nil, apierr.InvalidArgument("instance %q is not a proxy", proxyID)
	}

	if inst.Kind.IsBungeeFamily() {
		cfg, err := configwriter.ReadBungeeConfig(configPath(inst))
		if err != nil {
			return nil, apierr.IoError(err, "read config.yml for instance %q", proxyID)
		}
		defaultName := ""
		if len(cfg.Listeners) > 0 && len(cfg.Listeners[0].Priorities) > 0 {
			defaultName = cfg.Listeners[0].Priorities[0]
		}
		edges := make([]types.BackendEdge, 0, len(cfg.Servers))
		for name, srv := range cfg.Servers {
			edges = append(edges, types.BackendEdge{
				Name:       name,
				Address:    srv.Address,
				MOTD:       srv.MOTD,
				Restricted: srv.Restricted,
				Default:    name == defaultName,
			})
		}
		return edges, nil
	}

	cfg, err := configwriter.ReadVelocityConfig(configPath(inst))
	if err != nil {
		return nil, apierr.IoError(err, "read velocity.toml for instance %q", proxyID)
	}
	defaultName := ""
	if len(cfg.Try) > 0 {
		defaultName = cfg.Try[0]
	}
	edges := make([]types.BackendEdge, 0, len(cfg.Servers))
	for name, address := range cfg.Servers {
		edges = append(edges, types.BackendEdge{
			Name:    name,
			Address: address,
			Default: name == defaultName,
		})
	}
	return edges, nil
}

// AddBackend inserts edge into the proxy's backend list. For the bungee
// family it is appended to servers and, if default, prepended to the
// listener's priorities. For velocity, the first real backend atomically
// replaces the seed placeholder; later ones are added without touching try.
func (c *Coordinator) AddBackend(proxyID string, edge types.BackendEdge) error {
	lock := c.lockFor(proxyID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return err
	}
	path := configPath(inst)

	if inst.Kind.IsBungeeFamily() {
		cfg, err := configwriter.ReadBungeeConfig(path)
		if err != nil {
			return apierr.IoError(err, "read config.yml for instance %q", proxyID)
		}
		if cfg.Servers == nil {
			cfg.Servers = make(map[string]configwriter.BungeeServer)
		}
		cfg.Servers[edge.Name] = configwriter.BungeeServer{
			MOTD:       edge.MOTD,
			Address:    edge.Address,
			Restricted: edge.Restricted,
		}
		if edge.Default && len(cfg.Listeners) > 0 {
			cfg.Listeners[0].Priorities = prependUnique(cfg.Listeners[0].Priorities, edge.Name)
		}
		return configwriter.WriteBungeeConfigStruct(path, cfg)
	}

	cfg, err := configwriter.ReadVelocityConfig(path)
	if err != nil {
		return apierr.IoError(err, "read velocity.toml for instance %q", proxyID)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]string)
	}
	_, onlyPlaceholder := cfg.Servers[configwriter.VelocityPlaceholderBackend]
	isFirstReal := onlyPlaceholder && len(cfg.Servers) == 1
	if isFirstReal {
		delete(cfg.Servers, configwriter.VelocityPlaceholderBackend)
		cfg.Servers[edge.Name] = edge.Address
		cfg.Try = []string{edge.Name}
	} else {
		cfg.Servers[edge.Name] = edge.Address
	}
	return configwriter.WriteVelocityConfigStruct(path, cfg)
}

// UpdateBackend rewrites an existing edge's address/motd/restricted fields
// in place, keyed by name.
func (c *Coordinator) UpdateBackend(proxyID string, edge types.BackendEdge) error {
	lock := c.lockFor(proxyID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return err
	}
	path := configPath(inst)

	if inst.Kind.IsBungeeFamily() {
		cfg, err := configwriter.ReadBungeeConfig(path)
		if err != nil {
			return apierr.IoError(err, "read config.yml for instance %q", proxyID)
		}
		srv, ok := cfg.Servers[edge.Name]
		if !ok {
			return apierr.NotFound("backend %q not found on proxy %q", edge.Name, proxyID)
		}
		srv.Address = edge.Address
		srv.MOTD = edge.MOTD
		srv.Restricted = edge.Restricted
		cfg.Servers[edge.Name] = srv
		return configwriter.WriteBungeeConfigStruct(path, cfg)
	}

	cfg, err := configwriter.ReadVelocityConfig(path)
	if err != nil {
		return apierr.IoError(err, "read velocity.toml for instance %q", proxyID)
	}
	if _, ok := cfg.Servers[edge.Name]; !ok {
		return apierr.NotFound("backend %q not found on proxy %q", edge.Name, proxyID)
	}
	cfg.Servers[edge.Name] = edge.Address
	return configwriter.WriteVelocityConfigStruct(path, cfg)
}

// RemoveBackend drops a named backend from the proxy's servers map, and
// from whatever ordering list (priorities or try) references it.
func (c *Coordinator) RemoveBackend(proxyID, name string) error {
	lock := c.lockFor(proxyID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return err
	}
	path := configPath(inst)

	if inst.Kind.IsBungeeFamily() {
		cfg, err := configwriter.ReadBungeeConfig(path)
		if err != nil {
			return apierr.IoError(err, "read config.yml for instance %q", proxyID)
		}
		delete(cfg.Servers, name)
		if len(cfg.Listeners) > 0 {
			cfg.Listeners[0].Priorities = removeName(cfg.Listeners[0].Priorities, name)
		}
		return configwriter.WriteBungeeConfigStruct(path, cfg)
	}

	cfg, err := configwriter.ReadVelocityConfig(path)
	if err != nil {
		return apierr.IoError(err, "read velocity.toml for instance %q", proxyID)
	}
	delete(cfg.Servers, name)
	cfg.Try = removeName(cfg.Try, name)
	return configwriter.WriteVelocityConfigStruct(path, cfg)
}

// SetDefault moves name to the front of the proxy's ordering list
// (priorities for the bungee family, try for velocity).
func (c *Coordinator) SetDefault(proxyID, name string) error {
	lock := c.lockFor(proxyID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := c.reg.Get(proxyID)
	if err != nil {
		return err
	}
	path := configPath(inst)

	if inst.Kind.IsBungeeFamily() {
		cfg, err := configwriter.ReadBungeeConfig(path)
		if err != nil {
			return apierr.IoError(err, "read config.yml for instance %q", proxyID)
		}
		if _, ok := cfg.Servers[name]; !ok {
			return apierr.NotFound("backend %q not found on proxy %q", name, proxyID)
		}
		if len(cfg.Listeners) > 0 {
			cfg.Listeners[0].Priorities = prependUnique(removeName(cfg.Listeners[0].Priorities, name), name)
		}
		return configwriter.WriteBungeeConfigStruct(path, cfg)
	}

	cfg, err := configwriter.ReadVelocityConfig(path)
	if err != nil {
		return apierr.IoError(err, "read velocity.toml for instance %q", proxyID)
	}
	if _, ok := cfg.Servers[name]; !ok {
		return apierr.NotFound("backend %q not found on proxy %q", name, proxyID)
	}
	cfg.Try = prependUnique(removeName(cfg.Try, name), name)
	return configwriter.WriteVelocityConfigStruct(path, cfg)
}

// CreateAndAdopt is the composite operation described in spec §4.6: create
// a new backend instance, fetch its jar, prepare it to sit behind proxyID,
// register it as a backend edge, and if the proxy is live, restart it so
// the new config takes effect.
func (c *Coordinator) CreateAndAdopt(ctx context.Context, proxyID string, name string, kind types.Kind, version string, port uint16) (*types.Instance, error) {
	if port < 1024 || port > 65535 {
		return nil, apierr.InvalidArgument("port %d out of range 1024-65535", port)
	}
	proxy, err := c.reg.Get(proxyID)
	if err != nil {
		return nil, err
	}
	if !proxy.Kind.IsProxy() {
		return nil, apierr.InvalidArgument("instance %q is not a proxy", proxyID)
	}
	for _, edge := range mustListBackends(c, proxyID) {
		if host, p, splitErr := net.SplitHostPort(edge.Address); splitErr == nil {
			if portNum, convErr := strconv.Atoi(p); convErr == nil && uint16(portNum) == port {
				return nil, apierr.Conflict("port %d already used by backend %q at %s", port, edge.Name, host)
			}
		}
	}

	spec := types.CreateSpec{
		Name:     name,
		Kind:     kind,
		Version:  version,
		Host:     "0.0.0.0",
		Port:     port,
		RconPort: port + 10000,
		Password: uuid.NewString(),
		Memory:   "1024M",
	}
	inst, err := c.reg.Create(spec, proxy.OwnerID)
	if err != nil {
		return nil, err
	}

	jarPath := inst.WorkspacePath + "/" + jarFilename(kind)
	if c.downloader != nil {
		if err := c.downloader.Download(ctx, kind, version, jarPath); err != nil {
			return nil, apierr.DownloadError(err, "fetch %s %s jar for instance %q", kind, version, inst.ID)
		}
	}

	if err := configwriter.PatchProperties(inst.WorkspacePath+"/server.properties", map[string]string{
		"online-mode": "false",
	}); err != nil {
		return nil, apierr.IoError(err, "patch server.properties for instance %q", inst.ID)
	}

	if proxy.Kind.IsBungeeFamily() {
		if err := configwriter.WriteSpigotBungeeFlag(inst); err != nil {
			return nil, apierr.IoError(err, "write spigot.yml for instance %q", inst.ID)
		}
	} else {
		if err := configwriter.WritePaperGlobalForwarding(inst, placeholderSecret); err != nil {
			return nil, apierr.IoError(err, "write paper-global.yml for instance %q", inst.ID)
		}
	}

	edge := types.BackendEdge{
		Name:    name,
		Address: net.JoinHostPort(inst.Host, strconv.Itoa(int(inst.Port))),
	}
	if err := c.AddBackend(proxyID, edge); err != nil {
		return nil, fmt.Errorf("add backend edge: %w", err)
	}

	if c.proc != nil && c.proc.IsRunning(proxyID) {
		if err := c.proc.Restart(proxyID); err != nil {
			c.logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("restart proxy after adopt failed")
		}

		if proxy.Kind == types.KindVelocity {
			time.Sleep(forwardingDelay)
			secret, err := configwriter.ReadForwardingSecret(proxy.WorkspacePath)
			if err != nil {
				c.logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("read forwarding secret failed")
			} else {
				if err := configwriter.WritePaperGlobalForwarding(inst, secret); err != nil {
					c.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("rewrite paper-global.yml with real secret failed")
				} else if c.proc.IsRunning(inst.ID) {
					if err := c.proc.Restart(inst.ID); err != nil {
						c.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("restart adopted backend failed")
					}
				}
			}
		}
	}

	return inst, nil
}

func mustListBackends(c *Coordinator, proxyID string) []types.BackendEdge {
	edges, err := c.ListBackends(proxyID)
	if err != nil {
		return nil
	}
	return edges
}

// CascadeStart satisfies pkg/supervisor's ProxyCoordinator port. Every
// backend edge whose port matches a registered instance is started
// sequentially, staggered, skipping any already running; once every start
// has been attempted it sleeps to let the game tick stabilize before
// returning control to the supervisor's own start path.
func (c *Coordinator) CascadeStart(proxyID string) {
	if c.proc == nil {
		return
	}
	for _, id := range c.backendInstanceIDs(proxyID) {
		if c.proc.IsRunning(id) {
			continue
		}
		if err := c.proc.Start(id); err != nil {
			c.logger.Warn().Err(err).Str("instance_id", id).Str("proxy_id", proxyID).Msg("cascade start failed")
		}
		time.Sleep(cascadeStagger)
	}
	time.Sleep(startSettleTime)
}

// CascadeStop satisfies pkg/supervisor's ProxyCoordinator port. Every
// backend edge whose port matches a registered instance is stopped
// sequentially, staggered, with skipBackends=true to prevent recursion back
// into this same cascade.
func (c *Coordinator) CascadeStop(proxyID string) {
	if c.proc == nil {
		return
	}
	for _, id := range c.backendInstanceIDs(proxyID) {
		if !c.proc.IsRunning(id) {
			continue
		}
		if err := c.proc.StopSkippingBackends(id); err != nil {
			c.logger.Warn().Err(err).Str("instance_id", id).Str("proxy_id", proxyID).Msg("cascade stop failed")
		}
		time.Sleep(cascadeStagger)
	}
}

// backendInstanceIDs resolves the proxy's backend edges to registry rows by
// matching edge port against each known instance's Port, since a
// BackendEdge is a weak on-disk reference that may no longer resolve.
func (c *Coordinator) backendInstanceIDs(proxyID string) []string {
	edges, err := c.ListBackends(proxyID)
	if err != nil {
		c.logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("list backends for cascade failed")
		return nil
	}

	all := c.reg.List("", registry.RoleAdmin)
	portIndex := make(map[uint16]string, len(all))
	for _, inst := range all {
		if inst.ID != proxyID {
			portIndex[inst.Port] = inst.ID
		}
	}

	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		_, p, err := net.SplitHostPort(edge.Address)
		if err != nil {
			continue
		}
		portNum, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		if id, ok := portIndex[uint16(portNum)]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func prependUnique(list []string, name string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, name)
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}

func removeName(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}
