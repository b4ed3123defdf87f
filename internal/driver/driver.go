// Package driver defines the capability interface the replayer drives and the
// strategies used to invoke it.
package driver

import (
	"fmt"
	"time"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
)

// Call is one invocation handed to a driver. Handle arguments are already
// remapped into the driver's id space.
type Call struct {
	Desc   *entrypoint.Descriptor
	Args   []uint64       // parameter slots, without the return slot
	Memory map[int][]byte // client memory by parameter slot
}

func (c *Call) Name() string {
	if c.Desc == nil {
		return "unknown"
	}
	return c.Desc.Name
}

// Int reads slot i as a signed value of the parameter's width.
func (c *Call) Int(i int) int64 {
	if i < 0 || i >= len(c.Args) {
		return 0
	}
	if c.Desc != nil && i < len(c.Desc.Params) {
		return c.Desc.Params[i].Signed(c.Args[i])
	}
	return int64(c.Args[i])
}

// Count reads slot i as an element count. Negative counts read as 0.
func (c *Call) Count(i int) uint64 {
	if n := c.Int(i); n > 0 {
		return uint64(n)
	}
	return 0
}

// Result is what a driver reports back for one call.
type Result struct {
	Return uint64
	// Handles are the ids written through the call's out parameter, for
	// glGen* style calls.
	Handles []uint64
}

// Driver is the capability consumed by the replayer: one operation keyed by
// call id plus the error query hook.
type Driver interface {
	Call(c *Call) (Result, error)
	// GetError returns and clears the driver's pending error code.
	GetError() uint32
}

// Hooks run around every call of an Instrumented driver. Either may be nil.
type Hooks struct {
	Pre  func(c *Call)
	Post func(c *Call, res Result, err error)
}

// Modes accepted by New.
const (
	ModeDirect       = "direct"
	ModeInstrumented = "instrumented"
)

// New wraps d with the strategy named by mode.
func New(mode string, d Driver, hooks Hooks) (Driver, error) {
	switch mode {
	case "", ModeDirect:
		return NewDirect(d), nil
	case ModeInstrumented:
		return NewInstrumented(d, hooks), nil
	default:
		return nil, fmt.Errorf("driver mode %q: %w", mode, core.ErrConfigInvalid)
	}
}

// Direct passes calls straight through.
type Direct struct {
	d Driver
}

func NewDirect(d Driver) *Direct {
	return &Direct{d: d}
}

func (p *Direct) Call(c *Call) (Result, error) { return p.d.Call(c) }
func (p *Direct) GetError() uint32            { return p.d.GetError() }

// Instrumented times every call, logs it at trace level and runs the hooks.
type Instrumented struct {
	d     Driver
	hooks Hooks
}

func NewInstrumented(d Driver, hooks Hooks) *Instrumented {
	return &Instrumented{d: d, hooks: hooks}
}

func (p *Instrumented) Call(c *Call) (Result, error) {
	if p.hooks.Pre != nil {
		p.hooks.Pre(c)
	}

	start := time.Now()
	res, err := p.d.Call(c)
	elapsed := time.Since(start)
	metrics.DriverCallLatencySeconds.WithLabelValues(c.Name()).Observe(elapsed.Seconds())

	if logger := log.GetLogger(); logger.IsTraceEnabled() {
		logger.WithFields(map[string]interface{}{
			"call":    c.Name(),
			"args":    c.Args,
			"return":  res.Return,
			"elapsed": elapsed,
		}).Trace("driver call")
	}

	if p.hooks.Post != nil {
		p.hooks.Post(c, res, err)
	}
	return res, err
}

func (p *Instrumented) GetError() uint32 {
	return p.d.GetError()
}

var (
	_ Driver = (*Direct)(nil)
	_ Driver = (*Instrumented)(nil)
)
