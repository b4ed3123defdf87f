package remap

import (
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
)

// Remapper translates handles in one direction.
type Remapper interface {
	// Remap translates h. Unknown handles are returned unchanged with a
	// warning; unclassified values pass through silently.
	Remap(ns entrypoint.Namespace, h uint64) uint64
	// IsValid reports whether h is the null handle or has a mapping.
	IsValid(ns entrypoint.Namespace, h uint64) bool
	// Declare records from -> to.
	Declare(ns entrypoint.Namespace, from, to uint64)
	// Delete forgets from.
	Delete(ns entrypoint.Namespace, from uint64)
}

// Resolver returns the trace->replay map that owns ns, or nil when there is
// none in the current scope.
type Resolver func(ns entrypoint.Namespace) *HandleMap

// TraceToReplay remaps recorded handles to live ones.
type TraceToReplay struct {
	maps Resolver
}

func NewTraceToReplay(maps Resolver) *TraceToReplay {
	return &TraceToReplay{maps: maps}
}

func (r *TraceToReplay) Remap(ns entrypoint.Namespace, h uint64) uint64 {
	return r.RemapWith(log.GetLogger(), ns, h)
}

// RemapWith is Remap logging misses through l.
func (r *TraceToReplay) RemapWith(l log.Logger, ns entrypoint.Namespace, h uint64) uint64 {
	if !ns.IsHandle() {
		return h
	}
	m := r.maps(ns)
	if m == nil {
		if h != NullHandle(ns) {
			metrics.HandleMissesTotal.WithLabelValues(ns.String()).Inc()
			l.WithField("namespace", ns.String()).
				Warnf("no handle table in scope for %d, using it verbatim", h)
		}
		return h
	}
	return m.MapWith(l, h)
}

func (r *TraceToReplay) IsValid(ns entrypoint.Namespace, h uint64) bool {
	if h == NullHandle(ns) {
		return true
	}
	m := r.maps(ns)
	if m == nil {
		return false
	}
	_, ok := m.Lookup(h)
	return ok
}

func (r *TraceToReplay) Declare(ns entrypoint.Namespace, from, to uint64) {
	if m := r.maps(ns); m != nil {
		m.Generate(from, to)
	}
}

func (r *TraceToReplay) Delete(ns entrypoint.Namespace, from uint64) {
	if m := r.maps(ns); m != nil {
		m.Erase(from)
	}
}

var _ Remapper = (*TraceToReplay)(nil)

// ReplayToTrace maps live handles back to the recorded ones. It is built from
// a snapshot of the trace->replay maps and is not updated by them afterwards.
type ReplayToTrace struct {
	inv [entrypoint.NumNamespaces]map[uint64]uint64
}

// NewReplayToTrace inverts every map the resolver returns. When two trace
// handles share one replay handle the lower trace handle wins.
func NewReplayToTrace(maps Resolver) *ReplayToTrace {
	r := &ReplayToTrace{}
	for ns := entrypoint.Namespace(0); ns < entrypoint.NumNamespaces; ns++ {
		m := maps(ns)
		if m == nil {
			continue
		}
		inv := make(map[uint64]uint64, m.Len())
		m.Range(func(trace, replay uint64) bool {
			if _, ok := inv[replay]; !ok {
				inv[replay] = trace
			}
			return true
		})
		r.inv[ns] = inv
	}
	return r
}

func (r *ReplayToTrace) Remap(ns entrypoint.Namespace, h uint64) uint64 {
	if !ns.IsHandle() || h == NullHandle(ns) {
		return h
	}
	if t, ok := r.inv[ns][h]; ok {
		return t
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"namespace": ns.String(),
		"replay_id": h,
	}).Warn("live handle has no recorded counterpart, using it verbatim")
	return h
}

func (r *ReplayToTrace) IsValid(ns entrypoint.Namespace, h uint64) bool {
	if h == NullHandle(ns) {
		return true
	}
	_, ok := r.inv[ns][h]
	return ok
}

func (r *ReplayToTrace) Declare(ns entrypoint.Namespace, from, to uint64) {
	if ns >= entrypoint.NumNamespaces || from == NullHandle(ns) {
		return
	}
	if r.inv[ns] == nil {
		r.inv[ns] = make(map[uint64]uint64)
	}
	r.inv[ns][from] = to
}

func (r *ReplayToTrace) Delete(ns entrypoint.Namespace, from uint64) {
	if ns < entrypoint.NumNamespaces {
		delete(r.inv[ns], from)
	}
}

var _ Remapper = (*ReplayToTrace)(nil)
