package replay

import (
	"sort"

	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/remap"
	"firestige.xyz/gltrace/internal/snapshot"
)

// CaptureSnapshot records the shadow state of every live context at the
// current call index. All handles in the result are trace handles. When the
// engine has a snapshot store the capture is also put there.
func (e *Engine) CaptureSnapshot() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Version:    snapshot.FormatVersion,
		CallIndex:  e.callIndex,
		FrameIndex: e.frame,
	}
	if e.current != nil {
		snap.Current = e.current.Trace
	}
	snap.Window.Width, snap.Window.Height = e.win.Size()

	for _, g := range e.groups {
		snap.Groups = append(snap.Groups, e.captureGroup(g))
	}

	metrics.SnapshotsTotal.WithLabelValues("capture").Inc()
	if e.opts.Snapshots != nil {
		e.opts.Snapshots.Put(snap.CallIndex, snap)
	}
	return snap
}

func (e *Engine) captureGroup(g *ShareGroup) snapshot.Group {
	var out snapshot.Group
	rev := remap.NewReplayToTrace(func(ns entrypoint.Namespace) *remap.HandleMap {
		return g.Map(ns)
	})

	// root first
	members := append([]*ContextState(nil), g.members...)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Trace == g.Root && members[j].Trace != g.Root
	})

	each := func(ns entrypoint.Namespace, fn func(trace, replay uint64)) {
		if m := g.Map(ns); m != nil {
			m.Range(func(trace, replay uint64) bool {
				fn(trace, replay)
				return true
			})
		}
	}

	each(entrypoint.Buffers, func(trace, replay uint64) {
		b := snapshot.Buffer{Handle: trace}
		if rec := g.buffers[replay]; rec != nil {
			b.Target, b.Usage = rec.Target, rec.Usage
			b.Data = clone(rec.Data)
		}
		out.Buffers = append(out.Buffers, b)
	})
	each(entrypoint.Textures, func(trace, replay uint64) {
		t := snapshot.Texture{Handle: trace}
		if rec := g.textures[replay]; rec != nil {
			t.Target = rec.Target
			if img := rec.Level0; img != nil {
				cp := *img
				cp.Pixels = clone(img.Pixels)
				t.Level0 = &cp
			}
			t.Params = append([]snapshot.TexParam(nil), rec.Params...)
		}
		out.Textures = append(out.Textures, t)
	})
	each(entrypoint.Shaders, func(trace, replay uint64) {
		s := snapshot.Shader{Handle: trace}
		if rec := g.shaders[replay]; rec != nil {
			s.Type, s.Compiled = rec.Type, rec.Compiled
			s.Source = clone(rec.Source)
		}
		out.Shaders = append(out.Shaders, s)
	})
	each(entrypoint.Programs, func(trace, replay uint64) {
		p := snapshot.Program{Handle: trace}
		if rec := g.programs[replay]; rec != nil {
			p.Linked = rec.Linked
			for _, sh := range rec.Shaders {
				p.Shaders = append(p.Shaders, rev.Remap(entrypoint.Shaders, sh))
			}
			p.Uniforms = append([]snapshot.Uniform(nil), rec.Uniforms...)
		}
		out.Programs = append(out.Programs, p)
	})
	each(entrypoint.Samplers, func(trace, _ uint64) {
		out.Samplers = append(out.Samplers, trace)
	})
	each(entrypoint.SyncObjects, func(trace, _ uint64) {
		out.SyncObjects = append(out.SyncObjects, trace)
	})
	each(entrypoint.Renderbuffers, func(trace, replay uint64) {
		r := snapshot.Renderbuffer{Handle: trace}
		if rec := g.renderbuffers[replay]; rec != nil {
			r.InternalFormat, r.Width, r.Height = rec.InternalFormat, rec.Width, rec.Height
		}
		out.Renderbuffers = append(out.Renderbuffers, r)
	})
	each(entrypoint.DisplayLists, func(trace, replay uint64) {
		d := snapshot.DisplayList{Handle: trace}
		if rec := g.lists[replay]; rec != nil {
			for _, c := range rec.Calls {
				d.Calls = append(d.Calls, clone(c))
			}
		}
		out.DisplayLists = append(out.DisplayLists, d)
	})
	each(entrypoint.ARBPrograms, func(trace, replay uint64) {
		a := snapshot.ARBProgram{Handle: trace}
		if rec := g.arbPrograms[replay]; rec != nil {
			a.Target, a.Format = rec.Target, rec.Format
			a.Source = clone(rec.Source)
		}
		out.ARBPrograms = append(out.ARBPrograms, a)
	})

	for _, s := range members {
		out.Contexts = append(out.Contexts, captureContext(s, rev))
	}
	return out
}

func captureContext(s *ContextState, shared *remap.ReplayToTrace) snapshot.Context {
	c := snapshot.Context{Handle: s.Trace}
	local := remap.NewReplayToTrace(func(ns entrypoint.Namespace) *remap.HandleMap {
		if ns.Shared() || ns == entrypoint.Locations {
			return nil
		}
		return s.maps[ns]
	})

	s.maps[entrypoint.VertexArrays].Range(func(trace, _ uint64) bool {
		c.VertexArrays = append(c.VertexArrays, trace)
		return true
	})
	s.maps[entrypoint.Queries].Range(func(trace, _ uint64) bool {
		c.Queries = append(c.Queries, trace)
		return true
	})
	s.maps[entrypoint.Framebuffers].Range(func(trace, replay uint64) bool {
		fb := snapshot.Framebuffer{Handle: trace}
		if rec := s.framebuffers[replay]; rec != nil {
			for _, a := range rec.Attachments {
				a.Texture = shared.Remap(entrypoint.Textures, a.Texture)
				a.Renderbuffer = shared.Remap(entrypoint.Renderbuffers, a.Renderbuffer)
				fb.Attachments = append(fb.Attachments, a)
			}
		}
		c.Framebuffers = append(c.Framebuffers, fb)
		return true
	})

	b := s.bindings
	c.Bindings = snapshot.Bindings{
		Program:      shared.Remap(entrypoint.Programs, b.Program),
		Buffers:      remapTargets(shared, entrypoint.Buffers, b.Buffers),
		Textures:     remapTargets(shared, entrypoint.Textures, b.Textures),
		Samplers:     remapTargets(shared, entrypoint.Samplers, b.Samplers),
		ARBPrograms:  remapTargets(shared, entrypoint.ARBPrograms, b.ARBPrograms),
		VertexArray:  local.Remap(entrypoint.VertexArrays, b.VertexArray),
		Framebuffer:  local.Remap(entrypoint.Framebuffers, b.Framebuffer),
		Renderbuffer: shared.Remap(entrypoint.Renderbuffers, b.Renderbuffer),
		ClearColor:   b.ClearColor,
	}
	if b.Viewport != nil {
		v := *b.Viewport
		c.Bindings.Viewport = &v
	}
	return c
}

func remapTargets(r *remap.ReplayToTrace, ns entrypoint.Namespace, m map[uint32]uint64) map[uint32]uint64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint32]uint64, len(m))
	for k, v := range m {
		out[k] = r.Remap(ns, v)
	}
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
