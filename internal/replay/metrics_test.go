package replay

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/metrics"
)

func liveHandles(t *testing.T, ns string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.LiveHandles.WithLabelValues(ns).Write(&m))
	return m.GetGauge().GetValue()
}

func TestLiveHandlesFollowContexts(t *testing.T) {
	captureWarnings(t)
	buffers, arrays := liveHandles(t, "buffers"), liveHandles(t, "vertex_arrays")

	e, _ := newEngine(t, Options{})
	buildScene(t, e)
	assert.Equal(t, buffers+1, liveHandles(t, "buffers"))
	assert.Equal(t, arrays+2, liveHandles(t, "vertex_arrays"))

	run(t, e, call(0, "glXDestroyContext", 200))
	assert.Equal(t, arrays+1, liveHandles(t, "vertex_arrays"))
	assert.Equal(t, buffers+1, liveHandles(t, "buffers"))

	e.Reset()
	assert.Equal(t, buffers, liveHandles(t, "buffers"))
	assert.Equal(t, arrays, liveHandles(t, "vertex_arrays"))
}
