package configwriter

import (
	"fmt"

	"github.com/fleetmc/fleetmc/pkg/types"
)

// WriteInitial generates the kind-specific configuration for a freshly
// provisioned Instance: server.properties+eula.txt for game servers,
// config.yml for bungee-family proxies, velocity.toml for velocity.
func WriteInitial(inst *types.Instance) error {
	switch inst.Kind {
	case types.KindVanilla, types.KindPaper, types.KindSpigot, types.KindFabric, types.KindForge:
		if err := WriteServerProperties(inst); err != nil {
			return fmt.Errorf("write server.properties: %w", err)
		}
		if err := WriteEULA(inst); err != nil {
			return fmt.Errorf("write eula.txt: %w", err)
		}
		return nil
	case types.KindBungeecord, types.KindWaterfall:
		if err := WriteBungeeConfig(inst); err != nil {
			return fmt.Errorf("write config.yml: %w", err)
		}
		return nil
	case types.KindVelocity:
		if err := WriteVelocityConfig(inst); err != nil {
			return fmt.Errorf("write velocity.toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("configwriter: unsupported kind %q", inst.Kind)
	}
}
