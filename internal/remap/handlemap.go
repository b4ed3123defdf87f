// Package remap translates resource handles between the id space recorded in
// a trace and the id space of the live driver during replay.
package remap

import (
	"sort"

	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
)

// LocationNull is the "no location" value of a uniform location (-1 as a
// 32-bit slot). Location 0 is a valid location.
const LocationNull uint64 = 0xFFFFFFFF

// NullHandle returns the handle value that never gets an entry and always
// maps to itself.
func NullHandle(ns entrypoint.Namespace) uint64 {
	if ns == entrypoint.Locations {
		return LocationNull
	}
	return 0
}

// HandleMap maps trace handles of one namespace to replay handles.
// It is not safe for concurrent use.
type HandleMap struct {
	ns   entrypoint.Namespace
	null uint64
	m    map[uint64]uint64
}

func NewHandleMap(ns entrypoint.Namespace) *HandleMap {
	return &HandleMap{ns: ns, null: NullHandle(ns), m: make(map[uint64]uint64)}
}

func (h *HandleMap) Namespace() entrypoint.Namespace { return h.ns }
func (h *HandleMap) Len() int                        { return len(h.m) }

// Generate records trace -> replay. The null handle is ignored. An existing
// entry is overwritten with a warning.
func (h *HandleMap) Generate(trace, replay uint64) {
	if trace == h.null {
		return
	}
	old, ok := h.m[trace]
	if ok && old != replay {
		log.GetLogger().WithFields(map[string]interface{}{
			"namespace": h.ns.String(),
			"trace_id":  trace,
		}).Warnf("handle already mapped to %d, overwriting with %d", old, replay)
	}
	h.m[trace] = replay
	if !ok {
		metrics.LiveHandles.WithLabelValues(h.ns.String()).Inc()
	}
}

// Lookup returns the replay handle without logging on a miss.
func (h *HandleMap) Lookup(trace uint64) (uint64, bool) {
	if trace == h.null {
		return trace, true
	}
	r, ok := h.m[trace]
	return r, ok
}

// Map returns the replay handle for trace. On a miss it warns and returns
// trace unchanged.
func (h *HandleMap) Map(trace uint64) uint64 {
	return h.MapWith(log.GetLogger(), trace)
}

// MapWith is Map logging misses through l, which usually carries the call
// being replayed.
func (h *HandleMap) MapWith(l log.Logger, trace uint64) uint64 {
	r, ok := h.Lookup(trace)
	if ok {
		return r
	}
	metrics.HandleMissesTotal.WithLabelValues(h.ns.String()).Inc()
	l.WithFields(map[string]interface{}{
		"namespace": h.ns.String(),
		"trace_id":  trace,
	}).Warn("unknown trace handle, using it verbatim")
	return trace
}

// Erase drops the entry for trace, if any.
func (h *HandleMap) Erase(trace uint64) {
	if _, ok := h.m[trace]; !ok {
		return
	}
	delete(h.m, trace)
	metrics.LiveHandles.WithLabelValues(h.ns.String()).Dec()
}

// Delete resolves every trace handle through Map, hands the resolved batch
// to issue once, then erases the entries. Entries are erased even when issue
// fails, since the driver objects are gone or never existed.
func (h *HandleMap) Delete(traces []uint64, issue func(replay []uint64) error) error {
	return h.DeleteWith(log.GetLogger(), traces, issue)
}

// DeleteWith is Delete logging misses through l.
func (h *HandleMap) DeleteWith(l log.Logger, traces []uint64, issue func(replay []uint64) error) error {
	replay := make([]uint64, len(traces))
	for i, t := range traces {
		replay[i] = h.MapWith(l, t)
	}
	var err error
	if issue != nil {
		err = issue(replay)
	}
	for _, t := range traces {
		h.Erase(t)
	}
	return err
}

// Range calls fn for each entry in ascending trace order until fn returns
// false.
func (h *HandleMap) Range(fn func(trace, replay uint64) bool) {
	keys := make([]uint64, 0, len(h.m))
	for k := range h.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if !fn(k, h.m[k]) {
			return
		}
	}
}

// Clear drops all entries.
func (h *HandleMap) Clear() {
	metrics.LiveHandles.WithLabelValues(h.ns.String()).Sub(float64(len(h.m)))
	h.m = make(map[uint64]uint64)
}
