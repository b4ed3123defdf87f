package driver

import (
	"firestige.xyz/gltrace/internal/entrypoint"
)

// maxNullAlloc bounds the ids one call may allocate.
const maxNullAlloc = 1 << 16

// NullBase is the first id the Null driver hands out in each object
// namespace. Uniform locations start at 0.
const NullBase = 1000

// Null is a software driver with no rendering. It allocates ids per
// namespace, records every call and reports errors queued with PushError.
type Null struct {
	next  [entrypoint.NumNamespaces]uint64
	calls []Call
	errs  []uint32
	fail  map[string]error
}

func NewNull() *Null {
	n := &Null{fail: make(map[string]error)}
	for ns := range n.next {
		n.next[ns] = NullBase
	}
	n.next[entrypoint.Locations] = 0
	return n
}

func (n *Null) Call(c *Call) (Result, error) {
	n.calls = append(n.calls, copyCall(c))
	if err, ok := n.fail[c.Name()]; ok {
		return Result{}, err
	}

	var res Result
	d := c.Desc
	switch d.Action {
	case entrypoint.ActionCreateContext:
		res.Return = n.alloc(entrypoint.Contexts, 1)
	case entrypoint.ActionMakeCurrent:
		res.Return = 1
	case entrypoint.ActionGenLists:
		count := uint64(1)
		if len(c.Args) > 0 {
			count = c.Count(0)
		}
		if count == 0 || count > maxNullAlloc {
			break
		}
		res.Return = n.alloc(entrypoint.DisplayLists, count)
	case entrypoint.ActionUniformLocation:
		res.Return = n.alloc(entrypoint.Locations, 1)
	case entrypoint.ActionGetError:
		res.Return = uint64(n.GetError())
	case entrypoint.ActionGenerate:
		if d.HasReturn() {
			res.Return = n.alloc(d.ReturnNamespace, 1)
			break
		}
		for i, p := range d.Params {
			if p.Dir != entrypoint.Out || !p.Namespace.IsHandle() {
				continue
			}
			count, ok := d.ArrayLen(i, c.Args)
			if !ok {
				count = 1
			}
			if mem, ok := c.Memory[i]; ok {
				count = min(count, uint64(len(mem)/4))
			}
			count = min(count, maxNullAlloc)
			if count == 0 {
				continue
			}
			base := n.alloc(p.Namespace, count)
			res.Handles = make([]uint64, count)
			for j := range res.Handles {
				res.Handles[j] = base + uint64(j)
			}
		}
	}
	return res, nil
}

func (n *Null) GetError() uint32 {
	if len(n.errs) == 0 {
		return 0
	}
	code := n.errs[0]
	n.errs = n.errs[1:]
	return code
}

// PushError queues an error code for the next GetError.
func (n *Null) PushError(code uint32) {
	n.errs = append(n.errs, code)
}

// Fail makes every call named name return err.
func (n *Null) Fail(name string, err error) {
	n.fail[name] = err
}

// Calls returns the recorded calls in order.
func (n *Null) Calls() []Call {
	return n.calls
}

// CallsNamed returns the recorded calls of one kind.
func (n *Null) CallsNamed(name string) []Call {
	var out []Call
	for _, c := range n.calls {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls and queued errors. Id counters keep running.
func (n *Null) Reset() {
	n.calls = nil
	n.errs = nil
}

func (n *Null) alloc(ns entrypoint.Namespace, count uint64) uint64 {
	base := n.next[ns]
	n.next[ns] += count
	return base
}

func copyCall(c *Call) Call {
	cp := Call{Desc: c.Desc, Args: append([]uint64(nil), c.Args...)}
	if len(c.Memory) > 0 {
		cp.Memory = make(map[int][]byte, len(c.Memory))
		for k, v := range c.Memory {
			cp.Memory[k] = append([]byte(nil), v...)
		}
	}
	return cp
}

var _ Driver = (*Null)(nil)
