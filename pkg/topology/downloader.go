package topology

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fleetmc/fleetmc/pkg/types"
)

// downloadTimeout bounds a single jar fetch. Build artifacts run from a few
// megabytes (vanilla) to a couple hundred (Forge installers), so this is
// generous rather than tight.
const downloadTimeout = 5 * time.Minute

// HTTPDownloader is the default ArtifactDownloader: a plain HTTP GET against
// a URL template, written to destPath. No build-artifact client library
// exists anywhere in the retrieval pack, so this is hand-rolled on
// net/http rather than reached for a dependency; see DESIGN.md.
type HTTPDownloader struct {
	client *http.Client
	// URLFor builds the download URL for a given kind/version. Kept
	// injectable because every Minecraft-family project versions and hosts
	// its builds differently (Mojang's piston-meta, PaperMC's Fill API,
	// Velocity's download API, Forge/Fabric installer jars).
	URLFor func(kind types.Kind, version string) (string, error)
}

// NewHTTPDownloader constructs an HTTPDownloader with urlFor as its URL
// resolution strategy.
func NewHTTPDownloader(urlFor func(kind types.Kind, version string) (string, error)) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{Timeout: downloadTimeout},
		URLFor: urlFor,
	}
}

// Download satisfies ArtifactDownloader.
func (d *HTTPDownloader) Download(ctx context.Context, kind types.Kind, version, destPath string) error {
	if d.URLFor == nil {
		return fmt.Errorf("no URL resolver configured for %s %s", kind, version)
	}
	url, err := d.URLFor(kind, version)
	if err != nil {
		return fmt.Errorf("resolve download url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}
