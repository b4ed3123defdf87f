package replay

import (
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/snapshot"
)

// maxShadowData caps the bytes kept per buffer or texture image. Larger
// uploads are tracked without contents.
const maxShadowData = 64 << 20

// shadowFunc mirrors the effect of a replayed call on the context's shadow
// state. Arguments are replay handles.
type shadowFunc func(s *ContextState, c *driver.Call)

var shadowUpdates = map[string]shadowFunc{
	"glBindBuffer": func(s *ContextState, c *driver.Call) {
		target, buf := uint32(c.Args[0]), c.Args[1]
		setBinding(&s.bindings.Buffers, target, buf)
		if rec := s.Group.buffers[buf]; rec != nil && rec.Target == 0 {
			rec.Target = target
		}
	},
	"glBufferData": func(s *ContextState, c *driver.Call) {
		target := uint32(c.Args[0])
		rec := s.Group.buffers[s.bindings.Buffers[target]]
		if rec == nil {
			return
		}
		rec.Target, rec.Usage = target, uint32(c.Args[3])
		size := c.Int(1)
		switch data, ok := c.Memory[2]; {
		case size < 0:
			log.GetLogger().WithFields(map[string]interface{}{
				"call": c.Name(),
				"size": size,
			}).Warn("negative buffer size, contents dropped")
			rec.Data = nil
		case size > maxShadowData:
			log.GetLogger().WithField("size", size).Debug("buffer too large to shadow, contents dropped")
			rec.Data = nil
		case ok:
			rec.Data = append([]byte(nil), data...)
		default:
			rec.Data = make([]byte, size)
		}
	},
	"glBufferSubData": func(s *ContextState, c *driver.Call) {
		rec := s.Group.buffers[s.bindings.Buffers[uint32(c.Args[0])]]
		data, ok := c.Memory[3]
		if rec == nil || !ok {
			return
		}
		off, n := c.Int(1), int64(len(rec.Data))
		if off < 0 || off > n || int64(len(data)) > n-off {
			log.GetLogger().WithFields(map[string]interface{}{
				"call":   c.Name(),
				"offset": off,
				"size":   len(data),
			}).Warn("range outside buffer, shadow not updated")
			return
		}
		copy(rec.Data[off:], data)
	},
	"glBindTexture": func(s *ContextState, c *driver.Call) {
		target, tex := uint32(c.Args[0]), c.Args[1]
		setBinding(&s.bindings.Textures, target, tex)
		if rec := s.Group.textures[tex]; rec != nil && rec.Target == 0 {
			rec.Target = target
		}
	},
	"glTexImage2D": func(s *ContextState, c *driver.Call) {
		if c.Args[1] != 0 {
			return
		}
		rec := s.Group.textures[s.bindings.Textures[uint32(c.Args[0])]]
		if rec == nil {
			return
		}
		img := &snapshot.Image{
			InternalFormat: int32(c.Args[2]),
			Width:          int32(c.Args[3]),
			Height:         int32(c.Args[4]),
			Format:         uint32(c.Args[6]),
			Type:           uint32(c.Args[7]),
		}
		if data := c.Memory[8]; len(data) <= maxShadowData {
			img.Pixels = append([]byte(nil), data...)
		}
		rec.Level0 = img
	},
	"glTexParameteri": func(s *ContextState, c *driver.Call) {
		rec := s.Group.textures[s.bindings.Textures[uint32(c.Args[0])]]
		if rec == nil {
			return
		}
		p := snapshot.TexParam{Name: uint32(c.Args[1]), Value: int32(c.Args[2])}
		for i := range rec.Params {
			if rec.Params[i].Name == p.Name {
				rec.Params[i] = p
				return
			}
		}
		rec.Params = append(rec.Params, p)
	},
	"glShaderSource": func(s *ContextState, c *driver.Call) {
		if rec := s.Group.shaders[c.Args[0]]; rec != nil {
			rec.Source = append([]byte(nil), c.Memory[2]...)
			rec.Compiled = false
		}
	},
	"glCompileShader": func(s *ContextState, c *driver.Call) {
		if rec := s.Group.shaders[c.Args[0]]; rec != nil {
			rec.Compiled = true
		}
	},
	"glAttachShader": func(s *ContextState, c *driver.Call) {
		rec := s.Group.programs[c.Args[0]]
		if rec == nil {
			return
		}
		for _, sh := range rec.Shaders {
			if sh == c.Args[1] {
				return
			}
		}
		rec.Shaders = append(rec.Shaders, c.Args[1])
	},
	"glLinkProgram": func(s *ContextState, c *driver.Call) {
		if rec := s.Group.programs[c.Args[0]]; rec != nil {
			rec.Linked = true
		}
	},
	"glUseProgram": func(s *ContextState, c *driver.Call) {
		s.bindings.Program = c.Args[0]
	},
	"glBindSampler": func(s *ContextState, c *driver.Call) {
		setBinding(&s.bindings.Samplers, uint32(c.Args[0]), c.Args[1])
	},
	"glBindVertexArray": func(s *ContextState, c *driver.Call) {
		s.bindings.VertexArray = c.Args[0]
	},
	"glBindFramebuffer": func(s *ContextState, c *driver.Call) {
		s.bindings.Framebuffer = c.Args[1]
	},
	"glFramebufferTexture2D": func(s *ContextState, c *driver.Call) {
		setAttachment(s, snapshot.Attachment{
			Point:     uint32(c.Args[1]),
			TexTarget: uint32(c.Args[2]),
			Texture:   c.Args[3],
			Level:     int32(c.Args[4]),
		})
	},
	"glBindRenderbuffer": func(s *ContextState, c *driver.Call) {
		s.bindings.Renderbuffer = c.Args[1]
	},
	"glRenderbufferStorage": func(s *ContextState, c *driver.Call) {
		if rec := s.Group.renderbuffers[s.bindings.Renderbuffer]; rec != nil {
			rec.InternalFormat = uint32(c.Args[1])
			rec.Width, rec.Height = int32(c.Args[2]), int32(c.Args[3])
		}
	},
	"glFramebufferRenderbuffer": func(s *ContextState, c *driver.Call) {
		setAttachment(s, snapshot.Attachment{Point: uint32(c.Args[1]), Renderbuffer: c.Args[3]})
	},
	"glBindProgramARB": func(s *ContextState, c *driver.Call) {
		target, prog := uint32(c.Args[0]), c.Args[1]
		setBinding(&s.bindings.ARBPrograms, target, prog)
		if rec := s.Group.arbPrograms[prog]; rec != nil && rec.Target == 0 {
			rec.Target = target
		}
	},
	"glProgramStringARB": func(s *ContextState, c *driver.Call) {
		target := uint32(c.Args[0])
		if rec := s.Group.arbPrograms[s.bindings.ARBPrograms[target]]; rec != nil {
			rec.Target, rec.Format = target, uint32(c.Args[1])
			rec.Source = append([]byte(nil), c.Memory[3]...)
		}
	},
	"glClearColor": func(s *ContextState, c *driver.Call) {
		for i := range s.bindings.ClearColor {
			s.bindings.ClearColor[i] = uint32(c.Args[i])
		}
	},
	"glViewport": func(s *ContextState, c *driver.Call) {
		s.bindings.Viewport = &[4]int32{int32(c.Args[0]), int32(c.Args[1]), int32(c.Args[2]), int32(c.Args[3])}
	},
}

func setBinding(m *map[uint32]uint64, key uint32, v uint64) {
	if v == 0 {
		delete(*m, key)
		return
	}
	if *m == nil {
		*m = make(map[uint32]uint64)
	}
	(*m)[key] = v
}

// setAttachment replaces the attachment point of the bound framebuffer. A
// zero object detaches.
func setAttachment(s *ContextState, a snapshot.Attachment) {
	rec := s.framebuffers[s.bindings.Framebuffer]
	if rec == nil {
		return
	}
	out := rec.Attachments[:0]
	for _, old := range rec.Attachments {
		if old.Point != a.Point {
			out = append(out, old)
		}
	}
	if a.Texture != 0 || a.Renderbuffer != 0 {
		out = append(out, a)
	}
	rec.Attachments = out
}

// createShadow starts tracking a newly generated object.
func (e *Engine) createShadow(ns entrypoint.Namespace, replay uint64, c *driver.Call) {
	s := e.current
	if s == nil {
		return
	}
	g := s.Group
	switch ns {
	case entrypoint.Buffers:
		g.buffers[replay] = &snapshot.Buffer{Handle: replay}
	case entrypoint.Textures:
		g.textures[replay] = &snapshot.Texture{Handle: replay}
	case entrypoint.Shaders:
		rec := &snapshot.Shader{Handle: replay}
		if len(c.Args) > 0 {
			rec.Type = uint32(c.Args[0])
		}
		g.shaders[replay] = rec
	case entrypoint.Programs:
		g.programs[replay] = &snapshot.Program{Handle: replay}
	case entrypoint.Renderbuffers:
		g.renderbuffers[replay] = &snapshot.Renderbuffer{Handle: replay}
	case entrypoint.DisplayLists:
		g.lists[replay] = &snapshot.DisplayList{Handle: replay}
	case entrypoint.ARBPrograms:
		g.arbPrograms[replay] = &snapshot.ARBProgram{Handle: replay}
	case entrypoint.Framebuffers:
		s.framebuffers[replay] = &snapshot.Framebuffer{Handle: replay}
	}
}

// dropShadow forgets a deleted object and unbinds it wherever it is bound.
func (e *Engine) dropShadow(ns entrypoint.Namespace, replay uint64) {
	s := e.current
	if s == nil || replay == 0 {
		return
	}
	g := s.Group
	switch ns {
	case entrypoint.Buffers:
		delete(g.buffers, replay)
		for _, m := range g.members {
			unbind(m.bindings.Buffers, replay)
		}
	case entrypoint.Textures:
		delete(g.textures, replay)
		for _, m := range g.members {
			unbind(m.bindings.Textures, replay)
		}
	case entrypoint.Samplers:
		for _, m := range g.members {
			unbind(m.bindings.Samplers, replay)
		}
	case entrypoint.Shaders:
		delete(g.shaders, replay)
		for _, p := range g.programs {
			out := p.Shaders[:0]
			for _, sh := range p.Shaders {
				if sh != replay {
					out = append(out, sh)
				}
			}
			p.Shaders = out
		}
	case entrypoint.Programs:
		delete(g.programs, replay)
		delete(g.locations, replay)
		for _, m := range g.members {
			if m.bindings.Program == replay {
				m.bindings.Program = 0
			}
		}
	case entrypoint.Renderbuffers:
		delete(g.renderbuffers, replay)
		for _, m := range g.members {
			if m.bindings.Renderbuffer == replay {
				m.bindings.Renderbuffer = 0
			}
		}
	case entrypoint.DisplayLists:
		delete(g.lists, replay)
	case entrypoint.ARBPrograms:
		delete(g.arbPrograms, replay)
		for _, m := range g.members {
			unbind(m.bindings.ARBPrograms, replay)
		}
	case entrypoint.VertexArrays:
		if s.bindings.VertexArray == replay {
			s.bindings.VertexArray = 0
		}
	case entrypoint.Framebuffers:
		delete(s.framebuffers, replay)
		if s.bindings.Framebuffer == replay {
			s.bindings.Framebuffer = 0
		}
	}
}

func unbind(m map[uint32]uint64, replay uint64) {
	for k, v := range m {
		if v == replay {
			delete(m, k)
		}
	}
}
