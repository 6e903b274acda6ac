// Package fetch materializes remote playlist documents and media segments
// into a local content cache. Downloads are idempotent per destination path:
// a file that already exists is never transferred again, which makes engine
// restarts cheap and lets two sources share cached segments.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/tsfeed/internal/metrics"
)

// DefaultMarker is the path marker used to derive cache-relative paths when
// none is configured. URLs containing the marker keep their full suffix from
// the marker onward, so segments referenced by different playlists under the
// same tree land on the same cached file.
const DefaultMarker = "/vba/"

// Fetcher downloads remote resources into a cache rooted at a local
// directory. If log is nil, slog.Default() is used. A nil Metrics disables
// instrumentation.
type Fetcher struct {
	root   string
	marker string
	client *http.Client
	log    *slog.Logger
	stats  *metrics.Metrics
}

// New creates a Fetcher caching under root. An empty marker selects
// DefaultMarker. The HTTP client has no overall timeout: a stalled transfer
// stalls only the preload that requested it, never frame output.
func New(root, marker string, log *slog.Logger, stats *metrics.Metrics) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if marker == "" {
		marker = DefaultMarker
	}
	return &Fetcher{
		root:   root,
		marker: marker,
		client: &http.Client{},
		log:    log.With("component", "fetch"),
		stats:  stats,
	}
}

// CachePath derives the deterministic local cache path for url. If the URL
// contains the configured marker, everything from the marker onward (without
// the leading slash) is appended to the cache root; otherwise the last path
// component is used, or "default" when there is none.
func (f *Fetcher) CachePath(url string) string {
	if i := strings.Index(url, f.marker); i >= 0 {
		return filepath.Join(f.root, url[i+1:])
	}
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return filepath.Join(f.root, url[i+1:])
	}
	return filepath.Join(f.root, "default")
}

// Fetch ensures the resource at url exists in the cache and returns its
// local path. See Download.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	dest := f.CachePath(url)
	if err := f.Download(ctx, url, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Download transfers url to dest unless dest already exists. Intermediate
// directories are created as needed. Concurrent downloads of the same path
// are not deduplicated beyond the existence check; the worst case is a
// benign duplicate transfer.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		f.log.Debug("using cached file", "path", dest)
		f.stats.CacheHit()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fetch: create cache dir: %w", err)
	}

	f.log.Debug("downloading", "url", url, "dest", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: get %s: status %s", url, resp.Status)
	}

	// Write through a temp file so a partial transfer never poisons the
	// cache for the next existence check.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fmt.Errorf("fetch: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("fetch: download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fetch: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("fetch: finalize %s: %w", dest, err)
	}

	f.stats.Downloaded()
	return nil
}
