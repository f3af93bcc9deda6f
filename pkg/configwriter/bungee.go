package configwriter

import (
	"os"
	"strconv"

	"github.com/fleetmc/fleetmc/pkg/types"
	"gopkg.in/yaml.v3"
)

// BungeeConfig mirrors the subset of BungeeCord/Waterfall's config.yml that
// fleetmc generates and later rewrites through pkg/topology's backend-edge
// operations.
type BungeeConfig struct {
	PlayerLimit int                     `yaml:"player_limit"`
	Timeout     int                     `yaml:"timeout"`
	OnlineMode  bool                    `yaml:"online_mode"`
	IPForward   bool                    `yaml:"ip_forward"`
	Listeners   []BungeeListener        `yaml:"listeners"`
	Servers     map[string]BungeeServer `yaml:"servers"`
	Permissions map[string][]string     `yaml:"permissions"`
}

type BungeeListener struct {
	Host       string   `yaml:"host"`
	MaxPlayers int      `yaml:"max_players"`
	Priorities []string `yaml:"priorities"`
}

type BungeeServer struct {
	MOTD       string `yaml:"motd"`
	Address    string `yaml:"address"`
	Restricted bool   `yaml:"restricted"`
}

// PlaceholderBackend is the seed backend name every proxy config is
// generated with, replaced on the first real addBackend call.
const PlaceholderBackend = "lobby"

// WriteBungeeConfig writes config.yml for a bungeecord/waterfall Instance,
// wholesale, per spec §4.2: one listener bound to host:port, a priorities
// list seeded with a placeholder "lobby", a servers map containing the same
// placeholder, and standard permission blocks.
func WriteBungeeConfig(inst *types.Instance) error {
	cfg := &BungeeConfig{
		PlayerLimit: -1,
		Timeout:     30000,
		OnlineMode:  true,
		IPForward:   true,
		Listeners: []BungeeListener{
			{
				Host:       addr(inst.Host, inst.Port),
				MaxPlayers: 1,
				Priorities: []string{PlaceholderBackend},
			},
		},
		Servers: map[string]BungeeServer{
			PlaceholderBackend: {
				MOTD:    "Placeholder",
				Address: "127.0.0.1:25566",
			},
		},
		Permissions: map[string][]string{
			"default": {"bungeecord.command.server", "bungeecord.command.list"},
			"admin":   {"bungeecord.command.alert", "bungeecord.command.end", "bungeecord.command.ip"},
		},
	}
	return WriteBungeeConfigStruct(inst.WorkspacePath+"/config.yml", cfg)
}

// WriteBungeeConfigStruct persists cfg wholesale at path.
func WriteBungeeConfigStruct(path string, cfg *BungeeConfig) error {
	return writeYAML(path, cfg)
}

// ReadBungeeConfig loads config.yml at path for pkg/topology's backend-edge
// inspection and mutation operations.
func ReadBungeeConfig(path string) (*BungeeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg BungeeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func addr(host string, port uint16) string {
	return host + ":" + strconv.Itoa(int(port))
}

func writeYAML(path string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
