package replay

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/remap"
	"firestige.xyz/gltrace/internal/snapshot"
)

// Keys of the key-value map carried by internal trace commands.
const (
	KeyCommand  = "command"
	KeySnapshot = "snapshot"
	KeyBlobID   = "blob_id"

	// CommandStateSnapshot asks the replayer to apply an embedded snapshot.
	CommandStateSnapshot = "state_snapshot"
)

// maxListRange bounds the display lists one glGenLists/glDeleteLists call
// may touch one by one.
const maxListRange = 1 << 16

var handlers = [...]handler{
	entrypoint.ActionNone:            (*Engine).handleDefault,
	entrypoint.ActionGenerate:        (*Engine).handleGenerate,
	entrypoint.ActionDelete:          (*Engine).handleDelete,
	entrypoint.ActionCreateContext:   (*Engine).handleCreateContext,
	entrypoint.ActionMakeCurrent:     (*Engine).handleMakeCurrent,
	entrypoint.ActionDestroyContext:  (*Engine).handleDestroyContext,
	entrypoint.ActionSwap:            (*Engine).handleSwap,
	entrypoint.ActionGetError:        (*Engine).handleGetError,
	entrypoint.ActionGenLists:        (*Engine).handleGenLists,
	entrypoint.ActionDeleteLists:     (*Engine).handleDeleteLists,
	entrypoint.ActionNewList:         (*Engine).handleNewList,
	entrypoint.ActionEndList:         (*Engine).handleEndList,
	entrypoint.ActionUniformLocation: (*Engine).handleUniformLocation,
	entrypoint.ActionInternal:        (*Engine).handleInternal,
}

// buildTable fills the jump table once; it is never resized afterwards.
func (e *Engine) buildTable() {
	n := e.calls.Len() + 1
	e.table = make([]handler, n)
	e.shadows = make([]shadowFunc, n)
	e.byAction = make(map[entrypoint.Action]*entrypoint.Descriptor)
	for id := 1; id < n; id++ {
		d := e.calls.Lookup(entrypoint.ID(id))
		if _, ok := e.byAction[d.Action]; !ok {
			e.byAction[d.Action] = d
		}
		h := (*Engine).handleDefault
		if int(d.Action) < len(handlers) && handlers[d.Action] != nil {
			h = handlers[d.Action]
		}
		e.table[id] = h
		e.shadows[id] = shadowUpdates[d.Name]
	}
}

// buildCall copies the packet's arguments and remaps handle values and
// input handle arrays. Slot skip is left untouched (-1 remaps everything).
func (e *Engine) buildCall(pkt *packet.Packet, skip int) *driver.Call {
	d := pkt.Desc
	l := callLogger(pkt)
	c := &driver.Call{Desc: d, Args: make([]uint64, len(d.Params))}
	for i := range d.Params {
		p := &d.Params[i]
		v := pkt.Value(i)
		if i != skip && p.Namespace.IsHandle() && !p.WireType().IsPointer {
			v = e.remapper.RemapWith(l.WithField("param", p.Name), p.Namespace, v)
		}
		c.Args[i] = v
	}
	for _, m := range pkt.Memory {
		if m.Slot >= len(d.Params) {
			continue
		}
		p := &d.Params[m.Slot]
		data := m.Data
		if m.Slot != skip && p.Dir == entrypoint.In && p.Namespace.IsHandle() {
			size := e.elemSize(p)
			ids := readHandles(data, size)
			pl := l.WithField("param", p.Name)
			for j, h := range ids {
				ids[j] = e.remapper.RemapWith(pl, p.Namespace, h)
			}
			data = writeHandles(ids, size)
		}
		if c.Memory == nil {
			c.Memory = make(map[int][]byte)
		}
		c.Memory[m.Slot] = data
	}
	return c
}

func (e *Engine) driverFailed(pkt *packet.Packet, err error) (Status, error) {
	callLogger(pkt).WithError(err).Warn("driver call failed")
	return StatusSoftFailure, fmt.Errorf("%s: %w", pkt.Name(), err)
}

func (e *Engine) updateShadow(pkt *packet.Packet, c *driver.Call) {
	s := e.current
	if s == nil || s.recording != 0 {
		return
	}
	if f := e.shadows[pkt.CallID]; f != nil {
		f(s, c)
	}
}

func (e *Engine) handleDefault(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	if _, err := e.drv.Call(c); err != nil {
		return e.driverFailed(pkt, err)
	}
	e.updateShadow(pkt, c)
	return StatusOK, nil
}

// handleGenerate maps the handles a glGen*/glCreate* call produced.
func (e *Engine) handleGenerate(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	res, err := e.drv.Call(c)
	if err != nil {
		return e.driverFailed(pkt, err)
	}

	d := pkt.Desc
	if d.HasReturn() {
		e.declare(pkt, d.ReturnNamespace, pkt.Return(), res.Return, c)
	}
	for i := range d.Params {
		p := &d.Params[i]
		if p.Dir != entrypoint.Out || !p.Namespace.IsHandle() {
			continue
		}
		data, _ := pkt.MemoryFor(i)
		traces := readHandles(data, e.elemSize(p))
		if len(traces) != len(res.Handles) {
			callLogger(pkt).WithField("param", p.Name).
				Warnf("capture recorded %d handles, driver returned %d", len(traces), len(res.Handles))
		}
		for j := 0; j < min(len(traces), len(res.Handles)); j++ {
			e.declare(pkt, p.Namespace, traces[j], res.Handles[j], c)
		}
	}
	e.updateShadow(pkt, c)
	return StatusOK, nil
}

func (e *Engine) declare(pkt *packet.Packet, ns entrypoint.Namespace, trace, replay uint64, c *driver.Call) {
	m := e.resolve(ns)
	if m == nil {
		callLogger(pkt).WithField("namespace", ns.String()).Warn("no handle table in scope, handle not recorded")
		return
	}
	m.Generate(trace, replay)
	if trace != remap.NullHandle(ns) {
		e.createShadow(ns, replay, c)
	}
}

// handleDelete resolves the deleted handles, issues one driver call with the
// resolved batch and then forgets them.
func (e *Engine) handleDelete(pkt *packet.Packet) (Status, error) {
	d := pkt.Desc
	slot := -1
	for i := range d.Params {
		if d.Params[i].Namespace.IsHandle() {
			slot = i
			break
		}
	}
	if slot < 0 {
		return e.handleDefault(pkt)
	}
	p := &d.Params[slot]
	size := e.elemSize(p)
	isArray := p.WireType().IsPointer

	var traces []uint64
	if isArray {
		data, _ := pkt.MemoryFor(slot)
		traces = readHandles(data, size)
	} else {
		traces = []uint64{pkt.Value(slot)}
	}

	c := e.buildCall(pkt, slot)
	issue := func(replay []uint64) error {
		if isArray {
			if c.Memory == nil {
				c.Memory = make(map[int][]byte)
			}
			c.Memory[slot] = writeHandles(replay, size)
		} else if len(replay) > 0 {
			c.Args[slot] = replay[0]
		}
		_, err := e.drv.Call(c)
		return err
	}

	var err error
	l := callLogger(pkt).WithField("param", p.Name)
	if m := e.resolve(p.Namespace); m != nil {
		known := knownHandles(m, traces)
		err = m.DeleteWith(l, traces, issue)
		for _, r := range known {
			e.dropShadow(p.Namespace, r)
		}
	} else {
		l.WithField("namespace", p.Namespace.String()).Warn("no handle table in scope, deleting handles verbatim")
		err = issue(traces)
	}
	if err != nil {
		return e.driverFailed(pkt, err)
	}
	return StatusOK, nil
}

// handleGenLists maps a contiguous range of display lists.
func (e *Engine) handleGenLists(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	res, err := e.drv.Call(c)
	if err != nil {
		return e.driverFailed(pkt, err)
	}
	base := pkt.Return()
	if base == 0 || res.Return == 0 {
		return StatusOK, nil
	}
	n := int64(1)
	if len(c.Args) > 0 {
		n = c.Int(0)
	}
	l := callLogger(pkt).WithField("range", n)
	switch {
	case n <= 0:
		l.Warn("non-positive list range, nothing mapped")
		return StatusOK, nil
	case n > maxListRange:
		l.Warnf("list range clamped to %d", maxListRange)
		n = maxListRange
	}
	for j := uint64(0); j < uint64(n); j++ {
		e.declare(pkt, entrypoint.DisplayLists, base+j, res.Return+j, c)
	}
	return StatusOK, nil
}

// handleDeleteLists deletes list..list+range-1 with one driver call.
func (e *Engine) handleDeleteLists(pkt *packet.Packet) (Status, error) {
	d := pkt.Desc
	if len(d.Params) < 2 {
		return e.handleDefault(pkt)
	}
	base, n := pkt.Value(0), d.Params[1].Signed(pkt.Value(1))
	if n <= 0 {
		callLogger(pkt).WithField("range", n).Warn("non-positive list range, nothing deleted")
		return e.handleDefault(pkt)
	}
	m := e.resolve(entrypoint.DisplayLists)
	traces := listRange(m, base, uint64(n))

	c := e.buildCall(pkt, 0)
	issue := func(replay []uint64) error {
		if len(replay) > 0 {
			c.Args[0] = replay[0]
		}
		_, err := e.drv.Call(c)
		return err
	}
	var err error
	if m != nil {
		known := knownHandles(m, traces)
		err = m.DeleteWith(callLogger(pkt).WithField("param", d.Params[0].Name), traces, issue)
		for _, r := range known {
			e.dropShadow(entrypoint.DisplayLists, r)
		}
	} else {
		err = issue(traces)
	}
	if err != nil {
		return e.driverFailed(pkt, err)
	}
	return StatusOK, nil
}

// listRange returns the trace lists base..base+n-1. Wide ranges list base
// plus the mapped lists that fall inside.
func listRange(m *remap.HandleMap, base, n uint64) []uint64 {
	if n <= maxListRange || m == nil {
		traces := make([]uint64, 0, min(n, maxListRange))
		for j := uint64(0); j < min(n, maxListRange); j++ {
			traces = append(traces, base+j)
		}
		return traces
	}
	traces := []uint64{base}
	m.Range(func(trace, _ uint64) bool {
		if trace > base && trace-base < n {
			traces = append(traces, trace)
		}
		return true
	})
	return traces
}

// knownHandles returns the replay handles of the mapped, non-null traces.
func knownHandles(m *remap.HandleMap, traces []uint64) []uint64 {
	var out []uint64
	null := remap.NullHandle(m.Namespace())
	for _, t := range traces {
		if t == null {
			continue
		}
		if r, ok := m.Lookup(t); ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) handleNewList(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	if _, err := e.drv.Call(c); err != nil {
		return e.driverFailed(pkt, err)
	}
	if len(c.Args) == 0 || c.Args[0] == 0 {
		return StatusOK, nil
	}
	s := e.current
	s.recording = c.Args[0]
	list, ok := s.Group.lists[s.recording]
	if !ok {
		list = &snapshot.DisplayList{}
		s.Group.lists[s.recording] = list
	}
	list.Calls = nil
	return StatusOK, nil
}

func (e *Engine) handleEndList(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	e.current.recording = 0
	if _, err := e.drv.Call(c); err != nil {
		return e.driverFailed(pkt, err)
	}
	return StatusOK, nil
}

// handleUniformLocation maps a location in the table of the queried program.
func (e *Engine) handleUniformLocation(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	res, err := e.drv.Call(c)
	if err != nil {
		return e.driverFailed(pkt, err)
	}

	d := pkt.Desc
	prog := -1
	for i := range d.Params {
		if d.Params[i].Namespace == entrypoint.Programs {
			prog = i
			break
		}
	}
	if prog < 0 || !d.HasReturn() {
		return StatusOK, nil
	}
	program := c.Args[prog]
	g := e.current.Group
	trace := pkt.Return()
	g.Locations(program).Generate(trace, res.Return)

	rec := g.programs[program]
	if rec == nil || trace == remap.LocationNull {
		return StatusOK, nil
	}
	nameSlot := d.ParamIndex("name")
	if nameSlot < 0 {
		return StatusOK, nil
	}
	raw, _ := pkt.MemoryFor(nameSlot)
	name := string(bytes.TrimRight(raw, "\x00"))
	for i := range rec.Uniforms {
		if rec.Uniforms[i].Name == name {
			rec.Uniforms[i].Location = trace
			return StatusOK, nil
		}
	}
	rec.Uniforms = append(rec.Uniforms, snapshot.Uniform{Name: name, Location: trace})
	return StatusOK, nil
}

// handleGetError compares the driver's error with the captured one.
func (e *Engine) handleGetError(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	res, err := e.drv.Call(c)
	if err != nil {
		return e.driverFailed(pkt, err)
	}
	if e.opts.Benchmark {
		return StatusOK, nil
	}
	if got, want := uint32(res.Return), uint32(pkt.Return()); got != want {
		e.diverge(pkt, got, want)
		return StatusDriverDivergence, nil
	}
	return StatusOK, nil
}

func (e *Engine) handleCreateContext(pkt *packet.Packet) (Status, error) {
	trace := pkt.Return()
	if trace == 0 {
		callLogger(pkt).Warn("capture recorded a failed context creation, skipped")
		return StatusOK, nil
	}
	var share uint64
	if slot := contextSlot(pkt.Desc); slot >= 0 {
		share = pkt.Value(slot)
	}
	if _, err := e.createContext(trace, share, e.buildCall(pkt, -1)); err != nil {
		return StatusHardFailure, err
	}
	return StatusOK, nil
}

func (e *Engine) handleMakeCurrent(pkt *packet.Packet) (Status, error) {
	slot := contextSlot(pkt.Desc)
	if slot < 0 {
		return e.handleDefault(pkt)
	}
	trace := pkt.Value(slot)
	c := e.buildCall(pkt, slot)
	if trace == 0 {
		return e.makeCurrent(nil, c)
	}
	s, ok := e.states[trace]
	if !ok {
		callLogger(pkt).WithField("context", trace).Warn("making an unknown context current, creating it")
		var err error
		if s, err = e.createContext(trace, 0, nil); err != nil {
			return StatusHardFailure, err
		}
	}
	c.Args[slot] = s.Replay
	return e.makeCurrent(s, c)
}

func (e *Engine) handleDestroyContext(pkt *packet.Packet) (Status, error) {
	slot := contextSlot(pkt.Desc)
	c := e.buildCall(pkt, -1)
	_, err := e.drv.Call(c)
	if slot >= 0 {
		if s, ok := e.states[pkt.Value(slot)]; ok {
			e.dropContext(s)
		}
	}
	if err != nil {
		return e.driverFailed(pkt, err)
	}
	return StatusOK, nil
}

func (e *Engine) handleSwap(pkt *packet.Packet) (Status, error) {
	c := e.buildCall(pkt, -1)
	if _, err := e.drv.Call(c); err != nil {
		return e.driverFailed(pkt, err)
	}
	e.frame++
	metrics.ReplayFramesTotal.Inc()
	return StatusNextFrame, nil
}

// handleInternal runs trace commands carried in the key-value map.
func (e *Engine) handleInternal(pkt *packet.Packet) (Status, error) {
	cmd, ok := pkt.KV.Get(KeyCommand)
	if !ok || cmd.AsString() != CommandStateSnapshot {
		log.GetLogger().WithField("call_counter", pkt.CallCounter).Debug("ignoring internal trace command")
		return StatusOK, nil
	}

	var data []byte
	if v, ok := pkt.KV.Get(KeySnapshot); ok {
		data = v.AsBlob()
	} else if v, ok := pkt.KV.Get(KeyBlobID); ok {
		if e.opts.Blobs == nil {
			return StatusSoftFailure, fmt.Errorf("snapshot blob %q: no blob store: %w", v.AsString(), core.ErrBlobNotFound)
		}
		var err error
		if data, err = e.opts.Blobs.Get(v.AsString()); err != nil {
			return StatusSoftFailure, err
		}
	} else {
		return StatusSoftFailure, fmt.Errorf("snapshot command without payload: %w", core.ErrBlobNotFound)
	}

	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		callLogger(pkt).WithError(err).Warn("embedded snapshot unreadable")
		return StatusSoftFailure, err
	}
	return e.BeginApplyingSnapshot(snap, false)
}

func (e *Engine) elemSize(p *entrypoint.ParamDescriptor) int {
	if n := e.calls.Ctypes().PointeeSize(p.WireType()); n > 0 {
		return n
	}
	return 4
}

func readHandles(data []byte, size int) []uint64 {
	out := make([]uint64, len(data)/size)
	for i := range out {
		b := data[i*size:]
		switch size {
		case 8:
			out[i] = binary.LittleEndian.Uint64(b)
		case 4:
			out[i] = uint64(binary.LittleEndian.Uint32(b))
		case 2:
			out[i] = uint64(binary.LittleEndian.Uint16(b))
		default:
			out[i] = uint64(b[0])
		}
	}
	return out
}

func writeHandles(ids []uint64, size int) []byte {
	out := make([]byte, len(ids)*size)
	for i, id := range ids {
		b := out[i*size:]
		switch size {
		case 8:
			binary.LittleEndian.PutUint64(b, id)
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(id))
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(id))
		default:
			b[0] = byte(id)
		}
	}
	return out
}
