package replay

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/snapshot"
)

// GL enums used when restoring objects.
const (
	glArrayBuffer      = 0x8892
	glStaticDraw       = 0x88E4
	glTexture2D        = 0x0DE1
	glSyncGPUCommands  = 0x9117
	glFramebuffer      = 0x8D40
	glRenderbuffer     = 0x8D41
	glCompile          = 0x1300
	glVertexProgramARB = 0x8620
)

type pendingSnapshot struct {
	snap        *snapshot.Snapshot
	deleteAfter bool
}

// BeginApplyingSnapshot schedules s to be applied before the next packet.
// With deleteAfter the snapshot is removed from the engine's store once
// applied. Only one snapshot may be pending; a second request is a hard
// failure and resets the engine.
func (e *Engine) BeginApplyingSnapshot(s *snapshot.Snapshot, deleteAfter bool) (Status, error) {
	if s == nil {
		return StatusSoftFailure, fmt.Errorf("nil snapshot: %w", core.ErrBadDocument)
	}
	if e.pending != nil {
		err := fmt.Errorf("snapshot at call %d requested while snapshot at call %d is pending: %w",
			s.CallIndex, e.pending.snap.CallIndex, core.ErrSnapshotPending)
		e.Reset()
		return StatusHardFailure, err
	}
	e.pending = &pendingSnapshot{snap: s, deleteAfter: deleteAfter}
	return StatusOK, nil
}

// SnapshotPending reports whether a snapshot waits to be applied.
func (e *Engine) SnapshotPending() bool { return e.pending != nil }

// ApplyPendingSnapshot applies a pending snapshot now instead of before the
// next packet. A failure resets the engine.
func (e *Engine) ApplyPendingSnapshot() (Status, error) {
	if e.pending == nil {
		return StatusOK, nil
	}
	st, err := e.applyPending()
	if st == StatusHardFailure {
		log.GetLogger().WithError(err).Error("applying snapshot failed, resetting engine")
		e.Reset()
	}
	return st, err
}

func (e *Engine) applyPending() (Status, error) {
	p := e.pending
	e.pending = nil
	if err := e.applySnapshot(p.snap); err != nil {
		return StatusHardFailure, err
	}
	if p.deleteAfter && e.opts.Snapshots != nil {
		e.opts.Snapshots.Remove(p.snap.CallIndex)
	}
	metrics.SnapshotsTotal.WithLabelValues("apply").Inc()
	return StatusOK, nil
}

// applySnapshot destroys every live context and rebuilds the state in snap
// by replaying synthesized calls through the regular handlers.
func (e *Engine) applySnapshot(snap *snapshot.Snapshot) error {
	l := log.GetLogger().WithFields(map[string]interface{}{
		"call_index": snap.CallIndex,
		"frame":      snap.FrameIndex,
	})
	l.Info("applying snapshot")
	e.teardown()

	for gi := range snap.Groups {
		g := &snap.Groups[gi]
		if len(g.Contexts) == 0 {
			continue
		}
		root := g.Contexts[0].Handle
		rs, err := e.createContext(root, 0, nil)
		if err != nil {
			return err
		}
		for _, c := range g.Contexts[1:] {
			if _, err := e.createContext(c.Handle, root, nil); err != nil {
				return err
			}
		}
		if st, err := e.makeCurrent(rs, nil); st != StatusOK {
			return err
		}
		e.restoreShared(g)
		for ci := range g.Contexts {
			c := &g.Contexts[ci]
			s := e.states[c.Handle]
			if st, err := e.makeCurrent(s, nil); st != StatusOK {
				return err
			}
			e.restoreContext(c)
		}
	}

	if s, ok := e.states[snap.Current]; ok {
		if st, err := e.makeCurrent(s, nil); st != StatusOK {
			return err
		}
	} else if e.current != nil {
		if st, err := e.makeCurrent(nil, nil); st != StatusOK {
			return err
		}
	}
	if w, h := snap.Window.Width, snap.Window.Height; w > 0 && h > 0 {
		e.resize.lastW, e.resize.lastH = w, h
		e.RequestWindowResize(w, h)
	}
	e.callIndex, e.frame = snap.CallIndex, snap.FrameIndex
	return nil
}

func (e *Engine) restoreShared(g *snapshot.Group) {
	for _, sh := range g.Shaders {
		e.run("glCreateShader", nil, uint64(sh.Type), sh.Handle)
		if sh.Source != nil {
			e.run("glShaderSource", mem(2, sh.Source), sh.Handle, 1)
		}
		if sh.Compiled {
			e.run("glCompileShader", nil, sh.Handle)
		}
	}
	for _, p := range g.Programs {
		e.run("glCreateProgram", nil, p.Handle)
		for _, sh := range p.Shaders {
			e.run("glAttachShader", nil, p.Handle, sh)
		}
		if p.Linked {
			e.run("glLinkProgram", nil, p.Handle)
		}
		for _, u := range p.Uniforms {
			e.run("glGetUniformLocation", mem(1, append([]byte(u.Name), 0)), p.Handle, 0, u.Location)
		}
	}
	for _, b := range g.Buffers {
		e.run("glGenBuffers", mem(1, handleBytes(b.Handle)), 1)
		target := uint64(b.Target)
		if target == 0 {
			target = glArrayBuffer
		}
		e.run("glBindBuffer", nil, target, b.Handle)
		if b.Data != nil {
			usage := uint64(b.Usage)
			if usage == 0 {
				usage = glStaticDraw
			}
			e.run("glBufferData", mem(2, b.Data), target, uint64(len(b.Data)), 0, usage)
		}
	}
	for _, t := range g.Textures {
		e.run("glGenTextures", mem(1, handleBytes(t.Handle)), 1)
		target := uint64(t.Target)
		if target == 0 {
			target = glTexture2D
		}
		e.run("glBindTexture", nil, target, t.Handle)
		if img := t.Level0; img != nil {
			e.run("glTexImage2D", mem(8, img.Pixels), target, 0, uint64(uint32(img.InternalFormat)),
				uint64(img.Width), uint64(img.Height), 0, uint64(img.Format), uint64(img.Type))
		}
		for _, p := range t.Params {
			e.run("glTexParameteri", nil, target, uint64(p.Name), uint64(uint32(p.Value)))
		}
	}
	for _, h := range g.Samplers {
		e.run("glGenSamplers", mem(1, handleBytes(h)), 1)
	}
	for _, h := range g.SyncObjects {
		e.run("glFenceSync", nil, glSyncGPUCommands, 0, h)
	}
	for _, r := range g.Renderbuffers {
		e.run("glGenRenderbuffers", mem(1, handleBytes(r.Handle)), 1)
		e.run("glBindRenderbuffer", nil, glRenderbuffer, r.Handle)
		if r.InternalFormat != 0 {
			e.run("glRenderbufferStorage", nil, glRenderbuffer, uint64(r.InternalFormat), uint64(r.Width), uint64(r.Height))
		}
	}
	for _, d := range g.DisplayLists {
		e.run("glGenLists", nil, 1, d.Handle)
		e.run("glNewList", nil, d.Handle, glCompile)
		for i, b := range d.Calls {
			pkt, err := e.dec.Decode(b)
			if err != nil {
				log.GetLogger().WithError(err).WithFields(map[string]interface{}{
					"list":  d.Handle,
					"index": i,
				}).Warn("display list call unreadable, skipped")
				continue
			}
			if st, err := e.exec(pkt); st.Failed() || err != nil {
				callLogger(pkt).WithError(err).Warn("display list call failed")
			}
		}
		e.run("glEndList", nil)
	}
	for _, p := range g.ARBPrograms {
		e.run("glGenProgramsARB", mem(1, handleBytes(p.Handle)), 1)
		target := uint64(p.Target)
		if target == 0 {
			target = glVertexProgramARB
		}
		e.run("glBindProgramARB", nil, target, p.Handle)
		if p.Source != nil {
			e.run("glProgramStringARB", mem(3, p.Source), target, uint64(p.Format), uint64(len(p.Source)))
		}
	}
}

func (e *Engine) restoreContext(c *snapshot.Context) {
	for _, h := range c.VertexArrays {
		e.run("glGenVertexArrays", mem(1, handleBytes(h)), 1)
	}
	for _, h := range c.Queries {
		e.run("glGenQueries", mem(1, handleBytes(h)), 1)
	}
	for _, fb := range c.Framebuffers {
		e.run("glGenFramebuffers", mem(1, handleBytes(fb.Handle)), 1)
		e.run("glBindFramebuffer", nil, glFramebuffer, fb.Handle)
		for _, a := range fb.Attachments {
			if a.Renderbuffer != 0 {
				e.run("glFramebufferRenderbuffer", nil, glFramebuffer, uint64(a.Point), glRenderbuffer, a.Renderbuffer)
				continue
			}
			e.run("glFramebufferTexture2D", nil, glFramebuffer, uint64(a.Point), uint64(a.TexTarget),
				a.Texture, uint64(uint32(a.Level)))
		}
	}

	b := &c.Bindings
	cur := e.current.Bindings()
	e.run("glBindVertexArray", nil, b.VertexArray)
	rebind(e, "glBindBuffer", cur.Buffers, b.Buffers)
	rebind(e, "glBindTexture", cur.Textures, b.Textures)
	rebind(e, "glBindSampler", cur.Samplers, b.Samplers)
	rebind(e, "glBindProgramARB", cur.ARBPrograms, b.ARBPrograms)
	e.run("glUseProgram", nil, b.Program)
	e.run("glBindFramebuffer", nil, glFramebuffer, b.Framebuffer)
	e.run("glBindRenderbuffer", nil, glRenderbuffer, b.Renderbuffer)
	e.run("glClearColor", nil, uint64(b.ClearColor[0]), uint64(b.ClearColor[1]),
		uint64(b.ClearColor[2]), uint64(b.ClearColor[3]))
	if v := b.Viewport; v != nil {
		e.run("glViewport", nil, uint64(uint32(v[0])), uint64(uint32(v[1])), uint64(uint32(v[2])), uint64(uint32(v[3])))
	}
}

// rebind binds every target of want and clears targets bound during restore
// that want leaves empty. cur holds replay handles, want trace handles.
func rebind(e *Engine, call string, cur, want map[uint32]uint64) {
	var stale []uint32
	for target := range cur {
		if _, ok := want[target]; !ok {
			stale = append(stale, target)
		}
	}
	for _, target := range stale {
		e.run(call, nil, uint64(target), 0)
	}
	for target, h := range want {
		e.run(call, nil, uint64(target), h)
	}
}

// run replays a synthesized call carrying trace handles. values are the
// parameter slots followed by the return slot.
func (e *Engine) run(name string, memory []packet.ClientMemory, values ...uint64) {
	d := e.calls.ByName(name)
	if d == nil {
		log.GetLogger().WithField("call", name).Debug("call not in registry, state not restored")
		return
	}
	pkt := packet.NewPacket(d, values...)
	for _, m := range memory {
		pkt.SetMemory(m.Slot, m.Data)
	}
	if e.current != nil {
		pkt.Context = e.current.Trace
	}
	if st, err := e.exec(pkt); err != nil || st.Failed() {
		callLogger(pkt).WithError(err).Warn("restoring state failed")
	}
}

func mem(slot int, data []byte) []packet.ClientMemory {
	return []packet.ClientMemory{{Slot: slot, Data: data}}
}

func handleBytes(h uint64) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(h))
}
