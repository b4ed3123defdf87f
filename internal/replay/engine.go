// Package replay drives a decoded call stream against a live driver.
//
// The Engine is single-threaded: exactly one packet is processed at a time
// and no internal state is locked. Handles are remapped through the tables
// of the active context and its sharing group; every dispatch goes through a
// jump table indexed by call id.
package replay

import (
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/config"
	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/remap"
	"firestige.xyz/gltrace/internal/snapshot"
	"firestige.xyz/gltrace/internal/window"
)

// Options tune an Engine.
type Options struct {
	// Benchmark disables divergence checks.
	Benchmark bool
	// CheckErrors queries the driver error after check-error calls.
	CheckErrors bool

	ResizeMaxAttempts int
	ResizeInterval    time.Duration

	// Blobs resolves snapshot blobs referenced by embedded snapshot packets.
	Blobs blobstore.Store
	// Snapshots receives captures. Snapshots applied with deleteAfter are
	// removed from it.
	Snapshots *snapshot.Store
}

// OptionsFromConfig maps the replay section of the configuration.
func OptionsFromConfig(cfg config.ReplayConfig) Options {
	return Options{
		Benchmark:         cfg.Benchmark,
		CheckErrors:       cfg.CheckErrors,
		ResizeMaxAttempts: cfg.Resize.MaxAttempts,
		ResizeInterval:    cfg.Resize.Interval(),
	}
}

// Divergence is a driver error the capture did not record.
type Divergence struct {
	CallIndex   uint64
	CallCounter uint64
	Call        string
	Code        uint32
	Expected    uint32
}

// Source yields packets in stream order and io.EOF at the end.
type Source interface {
	Next() (*packet.Packet, error)
}

type handler func(e *Engine, pkt *packet.Packet) (Status, error)

type Engine struct {
	calls *entrypoint.Registry
	drv   driver.Driver
	win   window.Window
	opts  Options
	enc   *packet.Encoder
	dec   *packet.Decoder

	table    []handler
	shadows  []shadowFunc
	byAction map[entrypoint.Action]*entrypoint.Descriptor

	contexts *remap.HandleMap
	states   map[uint64]*ContextState
	groups   []*ShareGroup
	current  *ContextState
	remapper *remap.TraceToReplay

	callIndex uint64
	frame     uint64

	resize      resizeState
	pending     *pendingSnapshot
	divergences []Divergence

	sleep func(time.Duration)
}

// NewEngine builds an engine over the call registry, the driver strategy and
// the output window. A nil window is replaced by a headless one.
func NewEngine(calls *entrypoint.Registry, drv driver.Driver, win window.Window, opts Options) *Engine {
	if win == nil {
		win = window.NewHeadless(0, 0)
	}
	if opts.ResizeMaxAttempts < 1 {
		opts.ResizeMaxAttempts = 1
	}
	e := &Engine{
		calls:    calls,
		drv:      drv,
		win:      win,
		opts:     opts,
		enc:      packet.NewEncoder(calls),
		dec:      packet.NewDecoder(calls),
		contexts: remap.NewHandleMap(entrypoint.Contexts),
		states:   make(map[uint64]*ContextState),
		sleep:    time.Sleep,
	}
	e.remapper = remap.NewTraceToReplay(e.resolve)
	e.buildTable()
	return e
}

// Current returns the active context, or nil.
func (e *Engine) Current() *ContextState { return e.current }

// Context returns the state registered for a trace context handle.
func (e *Engine) Context(trace uint64) (*ContextState, bool) {
	s, ok := e.states[trace]
	return s, ok
}

// Remapper returns the trace->replay remapper bound to the active context.
func (e *Engine) Remapper() remap.Remapper { return e.remapper }

// CallIndex is the number of packets consumed so far.
func (e *Engine) CallIndex() uint64 { return e.callIndex }

// Frame is the number of frame boundaries seen so far.
func (e *Engine) Frame() uint64 { return e.frame }

func (e *Engine) Divergences() []Divergence { return e.divergences }

// ProcessNextPacket replays one packet. With StatusResizeWindowPending the
// packet was not consumed and must be submitted again.
func (e *Engine) ProcessNextPacket(pkt *packet.Packet) (Status, error) {
	if pkt == nil {
		return StatusAtEOF, nil
	}
	if pkt.Desc == nil {
		d, err := e.calls.Get(pkt.CallID)
		if err != nil {
			return e.finish(StatusSoftFailure, err)
		}
		pkt.Desc = d
	}

	if e.pending != nil {
		if st, err := e.applyPending(); st != StatusOK {
			return e.finish(st, err)
		}
	}
	if e.resize.pending {
		if st := e.ProcessPendingWindowResize(); st == StatusResizeWindowPending {
			return e.finish(st, nil)
		}
	}
	if e.requestResizeFor(pkt) {
		return e.finish(StatusResizeWindowPending, nil)
	}

	action := pkt.Desc.Action
	if !isContextCall(action) && pkt.Context != 0 && (e.current == nil || e.current.Trace != pkt.Context) {
		if st, err := e.remapContext(pkt.Context); st != StatusOK {
			return e.finish(st, err)
		}
	}
	if e.current == nil && !isContextCall(action) && action != entrypoint.ActionInternal {
		e.callIndex++
		callLogger(pkt).Warn("call issued without a current context, skipped")
		return e.finish(StatusSoftFailure, fmt.Errorf("%s: %w", pkt.Name(), core.ErrNoContext))
	}

	st, err := e.exec(pkt)
	if st == StatusOK && e.opts.CheckErrors && !e.opts.Benchmark && pkt.Desc.Flags.Has(entrypoint.FlagCheckError) {
		st = e.checkDivergence(pkt)
	}
	e.callIndex++
	return e.finish(st, err)
}

// ProcessFrame pumps packets from src until a frame boundary, the end of the
// stream or a hard failure. Packets are resubmitted while a window resize is
// pending; soft failures are logged and skipped.
func (e *Engine) ProcessFrame(src Source) (Status, error) {
	for {
		pkt, err := src.Next()
		if errors.Is(err, io.EOF) {
			if e.pending != nil {
				if st, err := e.applyPending(); st != StatusOK {
					return e.finish(st, err)
				}
			}
			return StatusAtEOF, nil
		}
		if err != nil {
			return StatusSoftFailure, err
		}

		st, err := e.ProcessNextPacket(pkt)
		for st == StatusResizeWindowPending {
			st, err = e.ProcessNextPacket(pkt)
		}
		switch st {
		case StatusNextFrame, StatusHardFailure, StatusAtEOF:
			return st, err
		case StatusSoftFailure:
			callLogger(pkt).WithError(err).Warn("packet skipped")
		}
	}
}

// Reset drops every context and pending operation without calling the
// driver. It runs after hard failures.
func (e *Engine) Reset() {
	for _, s := range e.states {
		s.release()
	}
	for _, g := range e.groups {
		g.release()
	}
	e.states = make(map[uint64]*ContextState)
	e.groups = nil
	e.current = nil
	e.contexts.Clear()
	e.pending = nil
	e.resize = resizeState{}
}

func (e *Engine) finish(st Status, err error) (Status, error) {
	metrics.ReplayPacketsTotal.WithLabelValues(st.String()).Inc()
	if st == StatusHardFailure {
		log.GetLogger().WithError(err).Error("replay hard failure, resetting engine")
		e.Reset()
	}
	return st, err
}

// exec runs the jump table entry for pkt in the active context.
func (e *Engine) exec(pkt *packet.Packet) (Status, error) {
	id := int(pkt.CallID)
	if id <= 0 || id >= len(e.table) {
		return StatusSoftFailure, fmt.Errorf("call id %d: %w", id, core.ErrUnknownCall)
	}
	if s := e.current; s != nil && s.recording != 0 {
		switch pkt.Desc.Action {
		case entrypoint.ActionNewList, entrypoint.ActionEndList:
		default:
			e.record(s, pkt)
		}
	}
	return e.table[id](e, pkt)
}

func (e *Engine) record(s *ContextState, pkt *packet.Packet) {
	b, err := e.enc.Encode(pkt.Clone())
	if err != nil {
		callLogger(pkt).WithError(err).Warn("cannot record call into display list")
		return
	}
	list, ok := s.Group.lists[s.recording]
	if !ok {
		list = &snapshot.DisplayList{}
		s.Group.lists[s.recording] = list
	}
	list.Calls = append(list.Calls, b)
}

func (e *Engine) checkDivergence(pkt *packet.Packet) Status {
	code := e.drv.GetError()
	if code == 0 {
		return StatusOK
	}
	e.diverge(pkt, code, 0)
	return StatusDriverDivergence
}

func (e *Engine) diverge(pkt *packet.Packet, code, expected uint32) {
	e.divergences = append(e.divergences, Divergence{
		CallIndex:   e.callIndex,
		CallCounter: pkt.CallCounter,
		Call:        pkt.Name(),
		Code:        code,
		Expected:    expected,
	})
	metrics.DivergencesTotal.Inc()
	callLogger(pkt).Warnf("driver error 0x%04X, capture saw 0x%04X", code, expected)
}

// resolve picks the handle table for ns in the active context.
func (e *Engine) resolve(ns entrypoint.Namespace) *remap.HandleMap {
	if ns == entrypoint.Contexts {
		return e.contexts
	}
	if e.current == nil {
		return nil
	}
	return e.current.Map(ns)
}

func isContextCall(a entrypoint.Action) bool {
	switch a {
	case entrypoint.ActionCreateContext, entrypoint.ActionMakeCurrent, entrypoint.ActionDestroyContext:
		return true
	}
	return false
}

func callLogger(pkt *packet.Packet) log.Logger {
	return log.GetLogger().WithFields(map[string]interface{}{
		"call":         pkt.Name(),
		"call_counter": pkt.CallCounter,
	})
}
