package replay

import (
	"fmt"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/remap"
	"firestige.xyz/gltrace/internal/snapshot"
)

// ShareGroup holds the object namespaces shared by a set of contexts, plus
// the shadow records of those objects keyed by replay handle.
type ShareGroup struct {
	Root    uint64 // trace handle of the context that created the group
	members []*ContextState

	maps [entrypoint.NumNamespaces]*remap.HandleMap
	// uniform locations per replay program
	locations map[uint64]*remap.HandleMap

	buffers       map[uint64]*snapshot.Buffer
	textures      map[uint64]*snapshot.Texture
	shaders       map[uint64]*snapshot.Shader
	programs      map[uint64]*snapshot.Program
	renderbuffers map[uint64]*snapshot.Renderbuffer
	lists         map[uint64]*snapshot.DisplayList
	arbPrograms   map[uint64]*snapshot.ARBProgram
}

func newShareGroup(root uint64) *ShareGroup {
	g := &ShareGroup{
		Root:          root,
		locations:     make(map[uint64]*remap.HandleMap),
		buffers:       make(map[uint64]*snapshot.Buffer),
		textures:      make(map[uint64]*snapshot.Texture),
		shaders:       make(map[uint64]*snapshot.Shader),
		programs:      make(map[uint64]*snapshot.Program),
		renderbuffers: make(map[uint64]*snapshot.Renderbuffer),
		lists:         make(map[uint64]*snapshot.DisplayList),
		arbPrograms:   make(map[uint64]*snapshot.ARBProgram),
	}
	for ns := entrypoint.Namespace(0); ns < entrypoint.NumNamespaces; ns++ {
		if ns.Shared() {
			g.maps[ns] = remap.NewHandleMap(ns)
		}
	}
	return g
}

// Map returns the group's table for a shared namespace, or nil.
func (g *ShareGroup) Map(ns entrypoint.Namespace) *remap.HandleMap {
	if ns >= entrypoint.NumNamespaces {
		return nil
	}
	return g.maps[ns]
}

// Locations returns the location table of a replay program, creating it.
func (g *ShareGroup) Locations(program uint64) *remap.HandleMap {
	m, ok := g.locations[program]
	if !ok {
		m = remap.NewHandleMap(entrypoint.Locations)
		g.locations[program] = m
	}
	return m
}

// release empties the group's tables.
func (g *ShareGroup) release() {
	for _, m := range g.maps {
		if m != nil {
			m.Clear()
		}
	}
	for _, m := range g.locations {
		m.Clear()
	}
}

func (g *ShareGroup) Members() []*ContextState {
	return g.members
}

func (g *ShareGroup) remove(s *ContextState) {
	for i, m := range g.members {
		if m == s {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}

// ContextState is the replay-side view of one traced context.
type ContextState struct {
	Trace  uint64
	Replay uint64
	Group  *ShareGroup

	maps [entrypoint.NumNamespaces]*remap.HandleMap

	// bindings hold replay handles
	bindings     snapshot.Bindings
	framebuffers map[uint64]*snapshot.Framebuffer

	// display list being compiled, by replay handle; 0 when none
	recording uint64
}

func newContextState(trace, replay uint64, g *ShareGroup) *ContextState {
	s := &ContextState{
		Trace:        trace,
		Replay:       replay,
		Group:        g,
		framebuffers: make(map[uint64]*snapshot.Framebuffer),
	}
	for _, ns := range []entrypoint.Namespace{entrypoint.VertexArrays, entrypoint.Framebuffers, entrypoint.Queries} {
		s.maps[ns] = remap.NewHandleMap(ns)
	}
	g.members = append(g.members, s)
	return s
}

func (s *ContextState) release() {
	for _, m := range s.maps {
		if m != nil {
			m.Clear()
		}
	}
}

// Map returns the table owning ns as seen from this context.
func (s *ContextState) Map(ns entrypoint.Namespace) *remap.HandleMap {
	switch {
	case ns >= entrypoint.NumNamespaces:
		return nil
	case ns == entrypoint.Locations:
		if s.bindings.Program == 0 {
			return nil
		}
		return s.Group.Locations(s.bindings.Program)
	case ns.Shared():
		return s.Group.maps[ns]
	default:
		return s.maps[ns]
	}
}

// Bindings returns the bound objects, as replay handles.
func (s *ContextState) Bindings() snapshot.Bindings {
	return s.bindings
}

// contextSlot returns the first parameter in the Contexts namespace, or -1.
func contextSlot(d *entrypoint.Descriptor) int {
	for i := range d.Params {
		if d.Params[i].Namespace == entrypoint.Contexts {
			return i
		}
	}
	return -1
}

// synthCall builds a call for the first descriptor with action a, with its
// context parameter set to ctx. It returns nil when the registry has none.
func (e *Engine) synthCall(a entrypoint.Action, ctx uint64) *driver.Call {
	d := e.byAction[a]
	if d == nil {
		return nil
	}
	c := &driver.Call{Desc: d, Args: make([]uint64, len(d.Params))}
	if i := contextSlot(d); i >= 0 {
		c.Args[i] = ctx
	}
	return c
}

// createContext asks the driver for a context and registers its state under
// trace. c is the call to issue; nil synthesizes one. The new context joins
// the group of shareTrace when that context is known.
func (e *Engine) createContext(trace, shareTrace uint64, c *driver.Call) (*ContextState, error) {
	var group *ShareGroup
	var shareReplay uint64
	if shareTrace != 0 {
		if ss, ok := e.states[shareTrace]; ok {
			group, shareReplay = ss.Group, ss.Replay
		} else {
			log.GetLogger().WithField("context", trace).
				Warnf("shared context %d unknown, creating an unshared context", shareTrace)
		}
	}
	if c == nil {
		c = e.synthCall(entrypoint.ActionCreateContext, shareReplay)
		if c == nil {
			return nil, fmt.Errorf("context %d: registry has no context creation call: %w", trace, core.ErrContextCreate)
		}
	}

	res, err := e.drv.Call(c)
	if err != nil {
		return nil, fmt.Errorf("context %d: %w: %w", trace, core.ErrContextCreate, err)
	}
	if res.Return == 0 {
		return nil, fmt.Errorf("context %d: driver returned a null context: %w", trace, core.ErrContextCreate)
	}

	if old, ok := e.states[trace]; ok {
		log.GetLogger().WithField("context", trace).Warn("context handle reused, replacing its state")
		e.dropContext(old)
	}
	if group == nil {
		group = newShareGroup(trace)
		e.groups = append(e.groups, group)
	}
	s := newContextState(trace, res.Return, group)
	e.states[trace] = s
	e.contexts.Generate(trace, res.Return)
	return s, nil
}

// makeCurrent binds s (nil releases the current context). c is the call to
// issue; nil synthesizes one.
func (e *Engine) makeCurrent(s *ContextState, c *driver.Call) (Status, error) {
	var replay uint64
	if s != nil {
		replay = s.Replay
	}
	if c == nil {
		c = e.synthCall(entrypoint.ActionMakeCurrent, replay)
	}
	if c != nil {
		if _, err := e.drv.Call(c); err != nil {
			return StatusHardFailure, fmt.Errorf("make current %d: %w: %w", replay, core.ErrContextCreate, err)
		}
	}
	e.current = s
	return StatusOK, nil
}

// remapContext switches to the context recorded as trace, creating it on
// first sight.
func (e *Engine) remapContext(trace uint64) (Status, error) {
	s, ok := e.states[trace]
	if !ok {
		log.GetLogger().WithField("context", trace).Warn("first use of an unknown context, creating it")
		var err error
		if s, err = e.createContext(trace, 0, nil); err != nil {
			return StatusHardFailure, err
		}
	}
	return e.makeCurrent(s, nil)
}

func (e *Engine) dropContext(s *ContextState) {
	delete(e.states, s.Trace)
	e.contexts.Erase(s.Trace)
	s.release()
	g := s.Group
	g.remove(s)
	if len(g.members) == 0 {
		g.release()
		for i, gg := range e.groups {
			if gg == g {
				e.groups = append(e.groups[:i], e.groups[i+1:]...)
				break
			}
		}
	}
	if e.current == s {
		e.current = nil
	}
}

// teardown releases and destroys every live context through the driver.
func (e *Engine) teardown() {
	if e.current != nil {
		if _, err := e.makeCurrent(nil, nil); err != nil {
			log.GetLogger().WithError(err).Warn("release current context")
		}
	}
	for _, g := range append([]*ShareGroup(nil), e.groups...) {
		for _, s := range append([]*ContextState(nil), g.members...) {
			if c := e.synthCall(entrypoint.ActionDestroyContext, s.Replay); c != nil {
				if _, err := e.drv.Call(c); err != nil {
					log.GetLogger().WithError(err).WithField("context", s.Trace).Warn("destroy context")
				}
			}
			e.dropContext(s)
		}
	}
	e.Reset()
}
