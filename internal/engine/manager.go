package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zsiec/tsfeed/internal/fetch"
	"github.com/zsiec/tsfeed/internal/media"
	"github.com/zsiec/tsfeed/internal/metrics"
	"github.com/zsiec/tsfeed/internal/mpegts"
	"github.com/zsiec/tsfeed/internal/playlist"
)

// pendingPlaylist is a fully resolved candidate source awaiting switch-over.
// It is either entirely absent (nil) or entirely populated; the send loop
// can never observe a half-built one.
type pendingPlaylist struct {
	source     string
	segments   []string
	isPlaylist bool
}

// Manager owns the active segment sequence and extractor, advances through
// segments on EOF (looping), and supports background preload of a candidate
// source with an atomic swap to it. All exported methods are safe for
// concurrent use; the mutex is held only for in-memory bookkeeping, never
// across fetch or parse I/O.
type Manager struct {
	log     *slog.Logger
	fetcher *fetch.Fetcher
	stats   *metrics.Metrics

	mu         sync.Mutex
	source     string
	segments   []string
	index      int
	isPlaylist bool
	extractor  *mpegts.Extractor
	pending    *pendingPlaylist
}

// NewManager creates a Manager resolving remote sources through fetcher.
// If log is nil, slog.Default() is used. A nil stats disables
// instrumentation.
func NewManager(fetcher *fetch.Fetcher, log *slog.Logger, stats *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "playlist-manager"),
		fetcher: fetcher,
		stats:   stats,
	}
}

func isM3U8(source string) bool {
	return strings.HasSuffix(source, ".m3u8")
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Initialize resolves source into a local segment list and opens an
// extractor on its first segment. A failure here means the engine has no
// valid source and is fatal to the caller.
func (m *Manager) Initialize(ctx context.Context, source string) error {
	segments, playlistSource, err := m.resolve(ctx, source)
	if err != nil {
		return err
	}

	ext, err := mpegts.Open(segments[0], m.log)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.source = source
	m.segments = segments
	m.index = 0
	m.isPlaylist = playlistSource
	m.extractor = ext
	m.mu.Unlock()

	m.log.Info("media source initialized", "source", source, "segments", len(segments))
	return nil
}

// Preload resolves source into a local segment list, doing all network and
// parse work without the manager lock so ongoing frame delivery is never
// stalled, then publishes it as the pending source under one short lock
// acquisition. A failed preload leaves the active state and any previously
// pending source untouched.
func (m *Manager) Preload(ctx context.Context, source string) error {
	segments, playlistSource, err := m.resolve(ctx, source)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.pending = &pendingPlaylist{
		source:     source,
		segments:   segments,
		isPlaylist: playlistSource,
	}
	m.mu.Unlock()

	m.log.Info("new source preloaded and ready", "source", source, "segments", len(segments))
	return nil
}

// SwitchToNew applies a pending preload, atomically replacing the active
// segment list and source and re-initializing the extractor on the new
// first segment. consumed reports whether a pending source was taken:
// a pending source whose first segment fails to open is consumed without
// being applied, and the active source keeps playing. Callers use the
// distinction to stop waiting on a switch that can no longer happen.
func (m *Manager) SwitchToNew() (applied, consumed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return false, false
	}
	p := m.pending
	m.pending = nil

	ext, err := mpegts.Open(p.segments[0], m.log)
	if err != nil {
		m.log.Warn("switch aborted, first segment unusable", "source", p.source, "error", err)
		return false, true
	}

	m.source = p.source
	m.segments = p.segments
	m.index = 0
	m.isPlaylist = p.isPlaylist
	m.extractor = ext

	m.stats.SwitchApplied()
	m.log.Info("switched to new source", "source", p.source)
	return true, true
}

// NextAccessUnit returns the next access unit from the active source, or
// nil when none is available this tick. On EOF a multi-segment playlist
// advances to the next segment (modulo the segment count, so playback
// loops); a single file restarts from the beginning. Either way the read is
// retried once.
func (m *Manager) NextAccessUnit() *media.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.extractor == nil {
		return nil
	}

	if au, err := m.extractor.NextAccessUnit(); err == nil {
		return &media.Frame{IsKeyFrame: au.Key, Data: au.Data}
	}

	// Active segment exhausted.
	if m.isPlaylist && len(m.segments) > 1 {
		m.index = (m.index + 1) % len(m.segments)
		m.log.Debug("advancing to segment", "index", m.index, "path", m.segments[m.index])
		m.stats.SegmentAdvanced()

		ext, err := mpegts.Open(m.segments[m.index], m.log)
		if err != nil {
			m.log.Warn("failed to open next segment", "path", m.segments[m.index], "error", err)
			return nil
		}
		m.extractor = ext
	} else {
		m.extractor.Restart()
	}

	au, err := m.extractor.NextAccessUnit()
	if err != nil {
		return nil
	}
	return &media.Frame{IsKeyFrame: au.Key, Data: au.Data}
}

// CurrentSource returns the identifier of the active source.
func (m *Manager) CurrentSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// resolve turns a source (local path or http(s) URL, .m3u8 playlist or
// single media file) into an ordered list of local segment paths, fetching
// remote resources into the cache as needed. It never touches the manager
// lock.
func (m *Manager) resolve(ctx context.Context, source string) (segments []string, playlistSource bool, err error) {
	if !isM3U8(source) {
		path := source
		if isURL(source) {
			if path, err = m.fetcher.Fetch(ctx, source); err != nil {
				return nil, false, err
			}
		}
		return []string{path}, false, nil
	}

	docPath := source
	baseURL := ""
	if isURL(source) {
		if docPath, err = m.fetcher.Fetch(ctx, source); err != nil {
			return nil, false, err
		}
		baseURL = playlist.BaseURL(source)
	}

	segs, err := playlist.ParseFile(docPath, baseURL)
	if err != nil {
		return nil, false, err
	}
	m.log.Debug("parsed playlist", "source", source, "segments", len(segs))

	paths := make([]string, 0, len(segs))
	for _, seg := range segs {
		var path string
		switch {
		case isURL(seg.URL):
			// Remote segments land next to their playlist document so the
			// whole tree shares one cache subdirectory.
			dest := filepath.Join(filepath.Dir(docPath), lastPathComponent(seg.URL))
			if err := m.fetcher.Download(ctx, seg.URL, dest); err != nil {
				return nil, false, fmt.Errorf("segment %s: %w", seg.URL, err)
			}
			path = dest
		case filepath.IsAbs(seg.URL):
			path = seg.URL
		default:
			// Local playlist, relative segment: resolve against the
			// document's directory.
			path = filepath.Join(filepath.Dir(docPath), seg.URL)
		}
		paths = append(paths, path)
	}

	return paths, true, nil
}

func lastPathComponent(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}
