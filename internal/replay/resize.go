package replay

import (
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/packet"
)

// Key-value entries carrying the drawable size recorded with a packet.
const (
	KeyWindowWidth  = "win_width"
	KeyWindowHeight = "win_height"
)

type resizeState struct {
	pending       bool
	width, height int
	attempts      int
	// last size requested from a packet
	lastW, lastH int
}

// RequestWindowResize asks the window for a new size. Replay is held with
// StatusResizeWindowPending until the size is observed or the attempt budget
// runs out.
func (e *Engine) RequestWindowResize(width, height int) {
	e.resize.width, e.resize.height = width, height
	e.resize.attempts = 0
	if w, h := e.win.Size(); w == width && h == height {
		e.resize.pending = false
		return
	}
	e.win.RequestResize(width, height)
	e.resize.pending = true
}

// ProcessPendingWindowResize polls the window once. It returns StatusOK when
// no resize is pending, the size converged or the attempts are exhausted.
func (e *Engine) ProcessPendingWindowResize() Status {
	r := &e.resize
	if !r.pending {
		return StatusOK
	}
	r.attempts++
	if w, h := e.win.Size(); w == r.width && h == r.height {
		r.pending = false
		metrics.ResizeAttemptsTotal.WithLabelValues("converged").Inc()
		return StatusOK
	}
	if r.attempts >= e.opts.ResizeMaxAttempts {
		r.pending = false
		metrics.ResizeAttemptsTotal.WithLabelValues("exhausted").Inc()
		log.GetLogger().WithFields(map[string]interface{}{
			"width":    r.width,
			"height":   r.height,
			"attempts": r.attempts,
		}).Warn("window did not reach the requested size, continuing")
		return StatusOK
	}
	metrics.ResizeAttemptsTotal.WithLabelValues("retry").Inc()
	if e.opts.ResizeInterval > 0 {
		e.sleep(e.opts.ResizeInterval)
	}
	return StatusResizeWindowPending
}

// requestResizeFor starts a resize when pkt records a drawable size different
// from the last one seen. It reports whether replay must wait.
func (e *Engine) requestResizeFor(pkt *packet.Packet) bool {
	wv, okW := pkt.KV.Get(KeyWindowWidth)
	hv, okH := pkt.KV.Get(KeyWindowHeight)
	if !okW || !okH {
		return false
	}
	w, h := int(wv.AsInt()), int(hv.AsInt())
	if w <= 0 || h <= 0 || (w == e.resize.lastW && h == e.resize.lastH) {
		return false
	}
	e.resize.lastW, e.resize.lastH = w, h
	e.RequestWindowResize(w, h)
	return e.resize.pending
}
