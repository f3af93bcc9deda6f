package configwriter

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/fleetmc/fleetmc/pkg/types"
)

// serverPropertiesDefaults are sane defaults for fields the spec doesn't
// otherwise pin down.
var serverPropertiesDefaults = map[string]string{
	"difficulty":     "easy",
	"gamemode":       "survival",
	"view-distance":  "10",
	"max-players":    "20",
	"level-name":     "world",
	"spawn-protection": "16",
}

// WriteServerProperties writes server.properties for a vanilla/paper/spigot/
// fabric/forge Instance, wholesale, per spec §4.2.
func WriteServerProperties(inst *types.Instance) error {
	path := inst.WorkspacePath + "/server.properties"
	values := map[string]string{
		"server-ip":     inst.Host,
		"server-port":   strconv.Itoa(int(inst.Port)),
		"rcon.port":     strconv.Itoa(int(inst.RconPort)),
		"rcon.password": inst.RconPassword,
		"enable-rcon":   "true",
		"online-mode":   "true",
		"motd":          inst.Name,
	}
	for k, v := range serverPropertiesDefaults {
		values[k] = v
	}
	return writeProperties(path, orderedPropertyKeys(), values)
}

// orderedPropertyKeys fixes the write order so generated files are stable
// and diffable across re-creates.
func orderedPropertyKeys() []string {
	return []string{
		"server-ip", "server-port", "rcon.port", "rcon.password", "enable-rcon",
		"online-mode", "motd", "difficulty", "gamemode", "view-distance",
		"max-players", "level-name", "spawn-protection",
	}
}

func writeProperties(path string, order []string, values map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, k := range order {
		v, ok := values[k]
		if !ok {
			continue
		}
		if _, err := w.WriteString(k + "=" + v + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// PatchProperties rewrites only the given keys in an existing properties
// file, preserving every other line (including # comments) verbatim. Used
// by pkg/topology's CreateAndAdopt instead of WriteServerProperties,
// which always overwrites wholesale.
func PatchProperties(path string, patch map[string]string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	remaining := make(map[string]string, len(patch))
	for k, v := range patch {
		remaining[k] = v
	}

	lines := strings.Split(string(existing), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.IndexByte(trimmed, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		if v, ok := remaining[key]; ok {
			lines[i] = key + "=" + v
			delete(remaining, key)
		}
	}
	for k, v := range remaining {
		lines = append(lines, k+"="+v)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

// WriteEULA writes eula.txt for non-proxy kinds per spec §4.2.
func WriteEULA(inst *types.Instance) error {
	return os.WriteFile(inst.WorkspacePath+"/eula.txt", []byte("eula=true\n"), 0o644)
}
