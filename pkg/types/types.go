package types

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// Kind is the flavor of server software a managed Instance runs.
type Kind string

const (
	KindVanilla    Kind = "vanilla"
	KindPaper      Kind = "paper"
	KindSpigot     Kind = "spigot"
	KindFabric     Kind = "fabric"
	KindForge      Kind = "forge"
	KindBungeecord Kind = "bungeecord"
	KindWaterfall  Kind = "waterfall"
	KindVelocity   Kind = "velocity"
)

// IsProxy reports whether the kind is a proxy rather than a game backend.
func (k Kind) IsProxy() bool {
	switch k {
	case KindBungeecord, KindWaterfall, KindVelocity:
		return true
	default:
		return false
	}
}

// IsBungeeFamily reports whether the kind shares BungeeCord's config.yml shape.
func (k Kind) IsBungeeFamily() bool {
	return k == KindBungeecord || k == KindWaterfall
}

// Status is the observed lifecycle state of an Instance. It is derived,
// never trusted across a process restart.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

// Instance is a managed game-server or proxy-server row in the registry.
type Instance struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	Version       string    `json:"version"`
	Host          string    `json:"host"`
	Port          uint16    `json:"port"`
	RconPort      uint16    `json:"rconPort"`
	RconPassword  string    `json:"rconPassword"`
	Memory        string    `json:"memory"`
	WorkspacePath string    `json:"workspacePath"`
	OwnerID       string    `json:"ownerId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastStartedAt time.Time `json:"lastStartedAt,omitempty"`
	Status        Status    `json:"status"`
}

// CreateSpec is the input to Registry.Create.
type CreateSpec struct {
	Name     string
	Kind     Kind
	Version  string
	Host     string
	Port     uint16
	RconPort uint16
	Password string
	Memory   string
}

// UpdatePatch is the restricted set of mutable Instance fields.
// Kind and Version are immutable after creation and are intentionally absent.
type UpdatePatch struct {
	Memory       *string
	RconPassword *string
	Host         *string
}

const stdoutTailCap = 200

// ProcessHandle is the in-memory-only runtime record of a spawned child.
// It is owned exclusively by the supervisor and destroyed on exit.
type ProcessHandle struct {
	InstanceID string
	PID        int
	Cmd        *exec.Cmd
	Stdin      *os.File
	StartedAt  time.Time

	mu         sync.Mutex
	stdoutTail []string // rolling window, most recent last
}

// AppendStdout appends a line to the rolling stdout window, trimming to cap.
func (h *ProcessHandle) AppendStdout(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stdoutTail = append(h.stdoutTail, line)
	if len(h.stdoutTail) > stdoutTailCap {
		h.stdoutTail = h.stdoutTail[len(h.stdoutTail)-stdoutTailCap:]
	}
}

// StdoutTail returns a copy of the rolling stdout window.
func (h *ProcessHandle) StdoutTail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.stdoutTail))
	copy(out, h.stdoutTail)
	return out
}

// BackendEdge is a logical reference inside a proxy's on-disk config to
// another instance reachable at Address. It is a weak reference: the
// coordinator must never assume the row still exists in the registry.
type BackendEdge struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	MOTD       string `json:"motd,omitempty"`
	Restricted bool   `json:"restricted,omitempty"`
	Default    bool   `json:"default,omitempty"`
}

// TaskKind is the kind of work a ScheduledTask performs.
type TaskKind string

const (
	TaskBackup  TaskKind = "backup"
	TaskRestart TaskKind = "restart"
	TaskCommand TaskKind = "command"
	TaskStart   TaskKind = "start"
	TaskStop    TaskKind = "stop"
)

// ScheduledTask is a persisted cron-driven maintenance row.
type ScheduledTask struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      TaskKind  `json:"kind"`
	InstanceID string   `json:"instanceId"`
	Cron      string    `json:"cron"`
	Command   string    `json:"command,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	LastRunAt time.Time `json:"lastRunAt,omitempty"`
}

// Execution is one in-memory record of a fired ScheduledTask.
type Execution struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"taskId"`
	TaskName   string        `json:"taskName"`
	Kind       TaskKind      `json:"kind"`
	InstanceID string        `json:"instanceId"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    time.Time     `json:"endedAt"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// WebhookDialect selects the payload shape a Subscription's URL expects.
type WebhookDialect string

const (
	DialectDiscord WebhookDialect = "discord"
	DialectGeneric WebhookDialect = "generic"
)

// WebhookEventKind is one of the observable event kinds a Subscription can
// filter on.
type WebhookEventKind string

const (
	EventCrash          WebhookEventKind = "crash"
	EventStart          WebhookEventKind = "start"
	EventStop           WebhookEventKind = "stop"
	EventPlayerJoin     WebhookEventKind = "player_join"
	EventPlayerLeave    WebhookEventKind = "player_leave"
	EventBackupComplete WebhookEventKind = "backup_complete"
	EventBackupFailed   WebhookEventKind = "backup_failed"
)

// WebhookSubscription is a persisted outbound-notification row.
type WebhookSubscription struct {
	ID         string                    `json:"id"`
	InstanceID string                    `json:"instanceId"`
	URL        string                    `json:"url"`
	Dialect    WebhookDialect            `json:"dialect"`
	Events     map[WebhookEventKind]bool `json:"events"`
	Enabled    bool                      `json:"enabled"`
}

// ResourceSample is a point-in-time reading for a running Instance.
type ResourceSample struct {
	InstanceID string    `json:"instanceId"`
	CPUPercent float64   `json:"cpuPercent"`
	CoreCount  int       `json:"coreCount"`
	RSSBytes   uint64    `json:"rssBytes"`
	RSSPercent float64   `json:"rssPercent"`
	TPS        float64   `json:"tps"`
	SampledAt  time.Time `json:"sampledAt"`
}

// SystemStats is a synchronous, on-demand snapshot of host resource usage.
type SystemStats struct {
	CPUPercent float64     `json:"cpuPercent"`
	MemTotal   uint64      `json:"memTotal"`
	MemUsed    uint64      `json:"memUsed"`
	MemFree    uint64      `json:"memFree"`
	Disks      []DiskUsage `json:"disks"`
	SampledAt  time.Time   `json:"sampledAt"`
}

// DiskUsage is the usage of a single mount point.
type DiskUsage struct {
	Mountpoint string  `json:"mountpoint"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Percent    float64 `json:"percent"`
}

// BackupRecord describes one archived workspace snapshot.
type BackupRecord struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BackendStatus is the cached liveness of one proxy backend edge.
type BackendStatus struct {
	BackendEdge
	Online      bool          `json:"online"`
	Latency     time.Duration `json:"latency"`
	PlayerCount int           `json:"playerCount"`
	CheckedAt   time.Time     `json:"checkedAt"`
}
