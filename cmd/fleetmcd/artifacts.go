package main

import (
	"fmt"

	"github.com/fleetmc/fleetmc/pkg/types"
)

// resolveArtifactURL builds the download URL for a given server/proxy
// kind and version. Each Minecraft-family project publishes build
// artifacts through its own API, so this is a switch rather than a
// single templated URL; unknown kinds fail closed with an error, which
// topology.CreateAndAdopt reports as a DownloadError, rather than
// fetching a guessed URL.
func resolveArtifactURL(kind types.Kind, version string) (string, error) {
	switch kind {
	case types.KindPaper:
		return fmt.Sprintf("https://api.papermc.io/v2/projects/paper/versions/%s/builds", version), nil
	case types.KindVelocity:
		return fmt.Sprintf("https://api.papermc.io/v2/projects/velocity/versions/%s/builds", version), nil
	case types.KindWaterfall:
		return fmt.Sprintf("https://api.papermc.io/v2/projects/waterfall/versions/%s/builds", version), nil
	case types.KindVanilla:
		return "https://launchermeta.mojang.com/mc/game/version_manifest_v2.json", nil
	case types.KindSpigot:
		return fmt.Sprintf("https://hub.spigotmc.org/versions/%s.json", version), nil
	case types.KindFabric:
		return fmt.Sprintf("https://meta.fabricmc.net/v2/versions/loader/%s", version), nil
	case types.KindForge:
		return fmt.Sprintf("https://maven.minecraftforge.net/net/minecraftforge/forge/%s/", version), nil
	case types.KindBungeecord:
		return "https://ci.md-5.net/job/BungeeCord/lastSuccessfulBuild/artifact/bootstrap/target/BungeeCord.jar", nil
	default:
		return "", fmt.Errorf("no artifact source known for kind %q", kind)
	}
}
