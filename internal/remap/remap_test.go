package remap

import (
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
)

func captureWarnings(t *testing.T) *test.Hook {
	t.Helper()
	l, hook := test.NewNullLogger()
	prev := log.GetLogger()
	log.SetLogger(log.NewFromLogrus(l))
	t.Cleanup(func() { log.SetLogger(prev) })
	return hook
}

func warnings(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

func TestHandleLifecycle(t *testing.T) {
	hook := captureWarnings(t)
	m := NewHandleMap(entrypoint.Buffers)

	m.Generate(7, 42)
	assert.Equal(t, uint64(42), m.Map(7))
	assert.Equal(t, 0, warnings(hook))

	var issued []uint64
	err := m.Delete([]uint64{7}, func(replay []uint64) error {
		issued = replay
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, issued)

	_, ok := m.Lookup(7)
	assert.False(t, ok)
	assert.Equal(t, uint64(7), m.Map(7))
	assert.Equal(t, 1, warnings(hook))
	assert.Equal(t, "buffers", hook.LastEntry().Data["namespace"])

	m.Generate(7, 99)
	assert.Equal(t, uint64(99), m.Map(7))
}

func TestGenerateCollisionOverwrites(t *testing.T) {
	hook := captureWarnings(t)
	m := NewHandleMap(entrypoint.Textures)

	m.Generate(3, 10)
	m.Generate(3, 10)
	assert.Equal(t, 0, warnings(hook))

	m.Generate(3, 11)
	assert.Equal(t, 1, warnings(hook))
	assert.Equal(t, uint64(11), m.Map(3))
	assert.Equal(t, 1, m.Len())
}

func TestNullSentinel(t *testing.T) {
	hook := captureWarnings(t)
	m := NewHandleMap(entrypoint.Programs)

	m.Generate(0, 5)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint64(0), m.Map(0))

	loc := NewHandleMap(entrypoint.Locations)
	loc.Generate(LocationNull, 3)
	assert.Equal(t, 0, loc.Len())
	assert.Equal(t, LocationNull, loc.Map(LocationNull))

	// location 0 is an ordinary location
	loc.Generate(0, 4)
	assert.Equal(t, uint64(4), loc.Map(0))
	assert.Equal(t, 0, warnings(hook))
}

func TestDeleteBatchesAndErasesOnError(t *testing.T) {
	captureWarnings(t)
	m := NewHandleMap(entrypoint.Buffers)
	m.Generate(1, 101)
	m.Generate(2, 102)

	calls := 0
	boom := errors.New("driver gone")
	err := m.Delete([]uint64{1, 2, 3}, func(replay []uint64) error {
		calls++
		assert.Equal(t, []uint64{101, 102, 3}, replay)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, m.Len())
}

func TestRangeOrdered(t *testing.T) {
	m := NewHandleMap(entrypoint.Shaders)
	for _, h := range []uint64{9, 2, 5} {
		m.Generate(h, h*10)
	}
	var got []uint64
	m.Range(func(trace, replay uint64) bool {
		got = append(got, trace)
		return true
	})
	assert.Equal(t, []uint64{2, 5, 9}, got)

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestTraceToReplay(t *testing.T) {
	hook := captureWarnings(t)
	buffers := NewHandleMap(entrypoint.Buffers)
	r := NewTraceToReplay(func(ns entrypoint.Namespace) *HandleMap {
		if ns == entrypoint.Buffers {
			return buffers
		}
		return nil
	})

	r.Declare(entrypoint.Buffers, 7, 42)
	assert.Equal(t, uint64(42), r.Remap(entrypoint.Buffers, 7))
	assert.True(t, r.IsValid(entrypoint.Buffers, 7))
	assert.True(t, r.IsValid(entrypoint.Buffers, 0))
	assert.False(t, r.IsValid(entrypoint.Buffers, 8))

	// unclassified values pass through untouched
	assert.Equal(t, uint64(0x8892), r.Remap(entrypoint.Unclassified, 0x8892))
	assert.Equal(t, 0, warnings(hook))

	// no table in scope
	assert.Equal(t, uint64(4), r.Remap(entrypoint.Textures, 4))
	assert.Equal(t, 1, warnings(hook))
	assert.False(t, r.IsValid(entrypoint.Textures, 4))

	r.Delete(entrypoint.Buffers, 7)
	assert.False(t, r.IsValid(entrypoint.Buffers, 7))
}

func TestReplayToTrace(t *testing.T) {
	hook := captureWarnings(t)
	buffers := NewHandleMap(entrypoint.Buffers)
	buffers.Generate(7, 42)
	buffers.Generate(8, 43)
	locs := NewHandleMap(entrypoint.Locations)
	locs.Generate(0, 5)

	r := NewReplayToTrace(func(ns entrypoint.Namespace) *HandleMap {
		switch ns {
		case entrypoint.Buffers:
			return buffers
		case entrypoint.Locations:
			return locs
		}
		return nil
	})

	assert.Equal(t, uint64(7), r.Remap(entrypoint.Buffers, 42))
	assert.Equal(t, uint64(8), r.Remap(entrypoint.Buffers, 43))
	assert.Equal(t, uint64(0), r.Remap(entrypoint.Locations, 5))
	assert.Equal(t, LocationNull, r.Remap(entrypoint.Locations, LocationNull))
	assert.Equal(t, 0, warnings(hook))

	assert.Equal(t, uint64(77), r.Remap(entrypoint.Buffers, 77))
	assert.Equal(t, 1, warnings(hook))

	r.Declare(entrypoint.Textures, 500, 1)
	assert.True(t, r.IsValid(entrypoint.Textures, 500))
	r.Delete(entrypoint.Textures, 500)
	assert.False(t, r.IsValid(entrypoint.Textures, 500))
}

func liveHandles(t *testing.T, ns string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.LiveHandles.WithLabelValues(ns).Write(&m))
	return m.GetGauge().GetValue()
}

func TestLiveHandlesAcrossTables(t *testing.T) {
	captureWarnings(t)
	before := liveHandles(t, "textures")

	a := NewHandleMap(entrypoint.Textures)
	b := NewHandleMap(entrypoint.Textures)
	a.Generate(1, 10)
	a.Generate(2, 11)
	b.Generate(1, 20)
	assert.Equal(t, before+3, liveHandles(t, "textures"))

	// overwrite and null handle leave the count alone
	a.Generate(1, 12)
	a.Generate(0, 99)
	assert.Equal(t, before+3, liveHandles(t, "textures"))

	b.Erase(1)
	b.Erase(1)
	assert.Equal(t, before+2, liveHandles(t, "textures"))

	a.Clear()
	assert.Equal(t, before, liveHandles(t, "textures"))
}
