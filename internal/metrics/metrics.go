// Package metrics exposes Prometheus counters for the media-source engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus counters. A nil *Metrics is valid
// and turns every record call into a no-op, so components never need to
// guard their instrumentation.
type Metrics struct {
	registry        *prometheus.Registry
	framesSent      prometheus.Counter
	keyframesSent   prometheus.Counter
	switches        prometheus.Counter
	segmentAdvances prometheus.Counter
	cacheHits       prometheus.Counter
	downloads       prometheus.Counter
	preloadFailures prometheus.Counter
}

// New creates and registers the engine counters on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_frames_sent_total",
			Help: "Total number of access units handed to the frame sink",
		}),
		keyframesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_keyframes_sent_total",
			Help: "Total number of IDR access units handed to the frame sink",
		}),
		switches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_switches_total",
			Help: "Total number of applied source switches",
		}),
		segmentAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_segment_advances_total",
			Help: "Total number of playlist segment rollovers",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_cache_hits_total",
			Help: "Total number of fetches satisfied from the segment cache",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_downloads_total",
			Help: "Total number of completed remote downloads",
		}),
		preloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsfeed_preload_failures_total",
			Help: "Total number of failed playlist preloads",
		}),
	}

	registry.MustRegister(
		m.framesSent,
		m.keyframesSent,
		m.switches,
		m.segmentAdvances,
		m.cacheHits,
		m.downloads,
		m.preloadFailures,
	)
	return m
}

// Handler returns an http.Handler serving the registry in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FrameSent records one delivered access unit.
func (m *Metrics) FrameSent(keyframe bool) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	if keyframe {
		m.keyframesSent.Inc()
	}
}

// SwitchApplied records one completed source switch.
func (m *Metrics) SwitchApplied() {
	if m == nil {
		return
	}
	m.switches.Inc()
}

// SegmentAdvanced records one segment rollover.
func (m *Metrics) SegmentAdvanced() {
	if m == nil {
		return
	}
	m.segmentAdvances.Inc()
}

// CacheHit records one fetch served from the local cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// Downloaded records one completed remote transfer.
func (m *Metrics) Downloaded() {
	if m == nil {
		return
	}
	m.downloads.Inc()
}

// PreloadFailed records one failed preload attempt.
func (m *Metrics) PreloadFailed() {
	if m == nil {
		return
	}
	m.preloadFailures.Inc()
}
