package configwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance(t *testing.T, kind types.Kind) *types.Instance {
	t.Helper()
	return &types.Instance{
		Name:          "survival-1",
		Kind:          kind,
		Host:          "0.0.0.0",
		Port:          25565,
		RconPort:      25575,
		RconPassword:  "s3cret",
		WorkspacePath: t.TempDir(),
	}
}

func TestWriteInitialGameServerWritesPropertiesAndEULA(t *testing.T) {
	inst := newTestInstance(t, types.KindPaper)

	require.NoError(t, WriteInitial(inst))

	propsPath := filepath.Join(inst.WorkspacePath, "server.properties")
	raw, err := os.ReadFile(propsPath)
	require.NoError(t, err)
	props := string(raw)

	assert.Contains(t, props, "server-port=25565")
	assert.Contains(t, props, "rcon.port=25575")
	assert.Contains(t, props, "rcon.password=s3cret")
	assert.Contains(t, props, "enable-rcon=true")
	assert.Contains(t, props, "motd=survival-1")
	assert.Contains(t, props, "difficulty=easy")

	eula, err := os.ReadFile(filepath.Join(inst.WorkspacePath, "eula.txt"))
	require.NoError(t, err)
	assert.Equal(t, "eula=true\n", string(eula))
}

func TestWriteServerPropertiesIsOrdered(t *testing.T) {
	inst := newTestInstance(t, types.KindVanilla)
	require.NoError(t, WriteServerProperties(inst))

	raw, err := os.ReadFile(filepath.Join(inst.WorkspacePath, "server.properties"))
	require.NoError(t, err)

	lines := splitNonEmptyLines(string(raw))
	require.NotEmpty(t, lines)
	assert.Equal(t, "server-ip=0.0.0.0", lines[0])
	assert.Equal(t, "server-port=25565", lines[1])
}

func TestPatchPropertiesPreservesUnrelatedLinesAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.properties")
	original := "# a comment\nmotd=old\nmax-players=20\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	require.NoError(t, PatchProperties(path, map[string]string{"motd": "new"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	assert.Contains(t, content, "# a comment")
	assert.Contains(t, content, "motd=new")
	assert.Contains(t, content, "max-players=20")
	assert.NotContains(t, content, "motd=old")
}

func TestPatchPropertiesAppendsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.properties")
	require.NoError(t, os.WriteFile(path, []byte("motd=hi\n"), 0o644))

	require.NoError(t, PatchProperties(path, map[string]string{"view-distance": "12"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "view-distance=12")
}

func TestWriteInitialBungeeWritesConfigYAML(t *testing.T) {
	inst := newTestInstance(t, types.KindBungeecord)
	require.NoError(t, WriteInitial(inst))

	cfg, err := ReadBungeeConfig(filepath.Join(inst.WorkspacePath, "config.yml"))
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.PlayerLimit)
	assert.True(t, cfg.OnlineMode)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, "0.0.0.0:25565", cfg.Listeners[0].Host)
	assert.Contains(t, cfg.Listeners[0].Priorities, PlaceholderBackend)
	_, hasPlaceholder := cfg.Servers[PlaceholderBackend]
	assert.True(t, hasPlaceholder)
}

func TestWriteInitialWaterfallWritesConfigYAML(t *testing.T) {
	inst := newTestInstance(t, types.KindWaterfall)
	require.NoError(t, WriteInitial(inst))

	_, err := os.Stat(filepath.Join(inst.WorkspacePath, "config.yml"))
	assert.NoError(t, err)
}

func TestWriteInitialVelocityWritesTOML(t *testing.T) {
	inst := newTestInstance(t, types.KindVelocity)
	inst.Name = "proxy-1"
	require.NoError(t, WriteInitial(inst))

	cfg, err := ReadVelocityConfig(filepath.Join(inst.WorkspacePath, "velocity.toml"))
	require.NoError(t, err)

	assert.Equal(t, "2.7", cfg.ConfigVersion)
	assert.Equal(t, "modern", cfg.ForwardingMode)
	assert.Equal(t, "proxy-1", cfg.MOTD)
	assert.Empty(t, cfg.Try)
	_, hasPlaceholder := cfg.Servers[VelocityPlaceholderBackend]
	assert.True(t, hasPlaceholder)
}

func TestWriteInitialRejectsUnsupportedKind(t *testing.T) {
	inst := newTestInstance(t, types.Kind("unknown"))
	err := WriteInitial(inst)
	assert.Error(t, err)
}

func TestWritePaperGlobalForwardingCreatesConfigDir(t *testing.T) {
	inst := newTestInstance(t, types.KindPaper)
	require.NoError(t, WritePaperGlobalForwarding(inst, "forwarding-secret-value"))

	raw, err := os.ReadFile(filepath.Join(inst.WorkspacePath, "config", "paper-global.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "forwarding-secret-value")
}

func TestWriteSpigotBungeeFlag(t *testing.T) {
	inst := newTestInstance(t, types.KindSpigot)
	require.NoError(t, WriteSpigotBungeeFlag(inst))

	raw, err := os.ReadFile(filepath.Join(inst.WorkspacePath, "spigot.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bungeecord: true")
}

func TestReadForwardingSecretTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forwarding.secret"), []byte("  abc123  \n"), 0o644))

	secret, err := ReadForwardingSecret(dir)
	require.NoError(t, err)
	assert.Equal(t, "abc123", secret)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if line := s[start:i]; line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}
