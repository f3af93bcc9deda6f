package configwriter

import (
	"os"
	"strings"

	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/pelletier/go-toml/v2"
)

// VelocityConfig mirrors the subset of velocity.toml fleetmc generates and
// later rewrites through pkg/topology's read-modify-write operations.
type VelocityConfig struct {
	ConfigVersion        string              `toml:"config-version"`
	Bind                 string              `toml:"bind"`
	MOTD                 string              `toml:"motd"`
	ShowMaxPlayers       int                 `toml:"show-max-players"`
	OnlineMode           bool                `toml:"online-mode"`
	ForwardingMode       string              `toml:"player-info-forwarding-mode"`
	ForwardingSecretFile string              `toml:"forwarding-secret-file"`
	// ForwardingSecret caches the plaintext content of ForwardingSecretFile
	// once pkg/topology's EnsureProxyConfigValid has read it, so the value travels with
	// the rest of the parsed config instead of requiring a second disk read.
	ForwardingSecret string              `toml:"forwarding-secret,omitempty"`
	Try              []string            `toml:"try"`
	Servers          map[string]string   `toml:"servers"`
	ForcedHosts      map[string][]string `toml:"forced-hosts"`
	Advanced         VelocityAdvanced    `toml:"advanced"`
}

type VelocityAdvanced struct {
	CompressionThreshold int  `toml:"compression-threshold"`
	CompressionLevel     int  `toml:"compression-level"`
	LoginRatelimit       int  `toml:"login-ratelimit"`
	ConnectionTimeout    int  `toml:"connection-timeout"`
	ReadTimeout          int  `toml:"read-timeout"`
	HAProxyProtocol      bool `toml:"haproxy-protocol"`
	TCPFastOpen          bool `toml:"tcp-fast-open"`
}

// VelocityPlaceholderBackend is the seed backend name velocity.toml is
// generated with, replaced atomically on the first real addBackend call.
const VelocityPlaceholderBackend = "lobby"

// WriteVelocityConfig writes velocity.toml for a velocity Instance,
// wholesale, per spec §4.2: config-version 2.7, modern forwarding, an
// initially-empty try list, and a placeholder "lobby" server.
func WriteVelocityConfig(inst *types.Instance) error {
	cfg := &VelocityConfig{
		ConfigVersion:        "2.7",
		Bind:                 addr(inst.Host, inst.Port),
		MOTD:                 inst.Name,
		ShowMaxPlayers:       500,
		OnlineMode:           true,
		ForwardingMode:       "modern",
		ForwardingSecretFile: "forwarding.secret",
		Try:                  []string{},
		Servers: map[string]string{
			VelocityPlaceholderBackend: "127.0.0.1:25566",
		},
		ForcedHosts: map[string][]string{},
		Advanced: VelocityAdvanced{
			CompressionThreshold: 256,
			CompressionLevel:     -1,
			LoginRatelimit:       3000,
			ConnectionTimeout:    5000,
			ReadTimeout:          30000,
		},
	}
	return WriteVelocityConfigStruct(inst.WorkspacePath+"/velocity.toml", cfg)
}

// WriteVelocityConfigStruct persists cfg wholesale at path.
func WriteVelocityConfigStruct(path string, cfg *VelocityConfig) error {
	return writeTOML(path, cfg)
}

// ReadVelocityConfig loads velocity.toml at path for pkg/topology's
// backend-edge inspection and mutation operations.
func ReadVelocityConfig(path string) (*VelocityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg VelocityConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WritePaperGlobalForwarding writes config/paper-global.yml for a backend
// Instance being adopted behind a velocity proxy, enabling modern velocity
// forwarding with the given secret (possibly a placeholder, rewritten later
// once the proxy's real forwarding.secret is known).
func WritePaperGlobalForwarding(inst *types.Instance, secret string) error {
	cfg := map[string]any{
		"proxies": map[string]any{
			"velocity": map[string]any{
				"enabled": true,
				"secret":  secret,
			},
		},
	}
	path := inst.WorkspacePath + "/config/paper-global.yml"
	if err := os.MkdirAll(inst.WorkspacePath+"/config", 0o755); err != nil {
		return err
	}
	return writeYAML(path, cfg)
}

// WriteSpigotBungeeFlag writes spigot.yml for a backend Instance being
// adopted behind a bungee-family proxy, setting bungeecord: true.
func WriteSpigotBungeeFlag(inst *types.Instance) error {
	cfg := map[string]any{
		"settings": map[string]any{
			"bungeecord": true,
		},
	}
	return writeYAML(inst.WorkspacePath+"/spigot.yml", cfg)
}

// ReadForwardingSecret reads the plain-text forwarding.secret file velocity
// generates on first boot, for pkg/topology's createAndAdopt re-sync step:
// once a newly adopted backend's proxy has re-initialized, the backend's
// paper-global.yml is rewritten with the real secret in place of the
// placeholder it was adopted with.
func ReadForwardingSecret(workspacePath string) (string, error) {
	data, err := os.ReadFile(workspacePath + "/forwarding.secret")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeTOML(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
