// Package metrics exposes Prometheus instrumentation for prompt resolution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "promptsync"

// Recorder holds the collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	resolutions   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	refreshes     *prometheus.CounterVec
	evictions     prometheus.Counter
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Prompt resolutions by final source",
			},
			[]string{"source", "stale"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Prompt cache lookups per resolution by result",
			},
			[]string{"result"}, // hit, miss, stale
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_fetches_total",
				Help:      "Raw repository file fetches by outcome",
			},
			[]string{"outcome"}, // ok, not_found, rate_limited, timeout, transport, too_large
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repository_fetch_duration_seconds",
				Help:      "Duration of repository fetches including retries",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_refreshes_total",
				Help:      "Background stale-while-revalidate refreshes by outcome",
			},
			[]string{"outcome"}, // ok, error, empty
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Entries evicted because the cache was full",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(r.resolutions, r.cacheLookups, r.fetches, r.fetchDuration, r.refreshes, r.evictions)
	}
	return r
}

func (r *Recorder) Resolution(source string, stale bool) {
	if r == nil {
		return
	}
	s := "false"
	if stale {
		s = "true"
	}
	r.resolutions.WithLabelValues(source, s).Inc()
}

func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) Fetch(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(outcome).Inc()
	r.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Recorder) Refresh(outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Eviction() {
	if r == nil {
		return
	}
	r.evictions.Inc()
}
