package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Resolution("custom", false)
	r.Resolution("cached", true)
	r.Resolution("cached", true)
	r.CacheLookup("hit")
	r.Fetch("ok", 120*time.Millisecond)
	r.Refresh("error")
	r.Eviction()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.resolutions.WithLabelValues("custom", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.resolutions.WithLabelValues("cached", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refreshes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.evictions))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Resolution("default", false)
		r.CacheLookup("miss")
		r.Fetch("timeout", time.Second)
		r.Refresh("ok")
		r.Eviction()
	})
}
