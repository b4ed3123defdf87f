package replay

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/snapshot"
	"firestige.xyz/gltrace/internal/window"
)

var calls = entrypoint.Builtin(ctype.Builtin())

func captureWarnings(t *testing.T) *test.Hook {
	t.Helper()
	l, hook := test.NewNullLogger()
	prev := log.GetLogger()
	log.SetLogger(log.NewFromLogrus(l))
	t.Cleanup(func() { log.SetLogger(prev) })
	return hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

// call builds a packet on context ctx. values end with the return slot.
func call(ctx uint64, name string, values ...uint64) *packet.Packet {
	p := packet.NewPacket(calls.ByName(name), values...)
	p.Context = ctx
	return p
}

func withMem(p *packet.Packet, slot int, data []byte) *packet.Packet {
	p.SetMemory(slot, data)
	return p
}

func ids(v ...uint32) []byte {
	var b []byte
	for _, id := range v {
		b = binary.LittleEndian.AppendUint32(b, id)
	}
	return b
}

type sliceSource struct {
	pkts []*packet.Packet
}

func (s *sliceSource) Next() (*packet.Packet, error) {
	if len(s.pkts) == 0 {
		return nil, io.EOF
	}
	p := s.pkts[0]
	s.pkts = s.pkts[1:]
	return p, nil
}

func newEngine(t *testing.T, opts Options) (*Engine, *driver.Null) {
	t.Helper()
	null := driver.NewNull()
	return NewEngine(calls, null, nil, opts), null
}

func run(t *testing.T, e *Engine, pkts ...*packet.Packet) {
	t.Helper()
	for _, p := range pkts {
		st, err := e.ProcessNextPacket(p)
		require.NoError(t, err, p.Name())
		require.Equal(t, StatusOK, st, p.Name())
	}
}

func createContext(trace, share uint64) []*packet.Packet {
	return []*packet.Packet{
		call(0, "glXCreateContextAttribsARB", share, 1, 0, trace),
		call(0, "glXMakeCurrent", trace, 1),
	}
}

func TestReplayMapsGeneratedHandles(t *testing.T) {
	hook := captureWarnings(t)
	e, null := newEngine(t, Options{})

	run(t, e, createContext(100, 0)...)
	run(t, e,
		withMem(call(100, "glGenBuffers", 1), 1, ids(7)),
		call(100, "glBindBuffer", 0x8892, 7),
	)

	s, ok := e.Context(100)
	require.True(t, ok)
	assert.Same(t, s, e.Current())
	assert.Equal(t, uint64(driver.NullBase), s.Replay)

	require.Len(t, null.CallsNamed("glGenBuffers"), 1)
	bind := null.CallsNamed("glBindBuffer")
	require.Len(t, bind, 1)
	assert.Equal(t, uint64(driver.NullBase), bind[0].Args[1])
	assert.Equal(t, map[uint32]uint64{0x8892: driver.NullBase}, s.Bindings().Buffers)
	assert.Empty(t, warnings(hook))
	assert.Equal(t, uint64(4), e.CallIndex())
}

func TestSharedNamespacesFollowShareGroup(t *testing.T) {
	hook := captureWarnings(t)
	e, null := newEngine(t, Options{})

	run(t, e, createContext(100, 0)...)
	run(t, e,
		call(0, "glXCreateContextAttribsARB", 100, 1, 0, 200),
		call(0, "glXCreateContextAttribsARB", 100, 1, 0, 300),
		withMem(call(100, "glGenBuffers", 1), 1, ids(7)),
		withMem(call(100, "glGenVertexArrays", 1), 1, ids(3)),
		call(200, "glBindBuffer", 0x8892, 7),
	)

	a, _ := e.Context(100)
	b, _ := e.Context(200)
	c, _ := e.Context(300)
	assert.Same(t, a.Group, b.Group)
	assert.Same(t, a.Group, c.Group)
	assert.Equal(t, uint64(100), a.Group.Root)
	assert.Same(t, b, e.Current())
	assert.Empty(t, warnings(hook))

	// the share_context argument is remapped like any handle
	creates := null.CallsNamed("glXCreateContextAttribsARB")
	require.Len(t, creates, 3)
	assert.Equal(t, a.Replay, creates[1].Args[0])

	bind := null.CallsNamed("glBindBuffer")
	assert.Equal(t, uint64(driver.NullBase), bind[0].Args[1])

	// vertex arrays are per context
	st, err := e.ProcessNextPacket(call(300, "glBindVertexArray", 3))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	require.Len(t, warnings(hook), 1)
	assert.Equal(t, uint64(3), null.CallsNamed("glBindVertexArray")[0].Args[0])
}

func TestUnknownHandleWarnsWithCall(t *testing.T) {
	hook := captureWarnings(t)
	e, null := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)

	run(t, e, call(100, "glBindBuffer", 0x8892, 55))

	ws := warnings(hook)
	require.Len(t, ws, 1)
	assert.Equal(t, "glBindBuffer", ws[0].Data["call"])
	assert.Equal(t, "buffer", ws[0].Data["param"])
	assert.Equal(t, "buffers", ws[0].Data["namespace"])
	assert.Equal(t, uint64(55), null.CallsNamed("glBindBuffer")[0].Args[1])
}

func TestDeleteIssuesResolvedBatch(t *testing.T) {
	captureWarnings(t)
	e, null := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)
	run(t, e,
		withMem(call(100, "glGenBuffers", 2), 1, ids(7, 8)),
		call(100, "glBindBuffer", 0x8892, 8),
		withMem(call(100, "glDeleteBuffers", 2), 1, ids(8, 7)),
	)

	del := null.CallsNamed("glDeleteBuffers")
	require.Len(t, del, 1)
	assert.Equal(t, ids(driver.NullBase+1, driver.NullBase), del[0].Memory[1])

	s := e.Current()
	_, ok := s.Map(entrypoint.Buffers).Lookup(7)
	assert.False(t, ok)
	assert.Empty(t, s.Bindings().Buffers)
}

func TestUniformLocationsPerProgram(t *testing.T) {
	hook := captureWarnings(t)
	e, null := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)
	run(t, e,
		call(100, "glCreateProgram", 9),
		call(100, "glCreateProgram", 10),
		withMem(call(100, "glGetUniformLocation", 9, 0, 4), 1, []byte("color\x00")),
		withMem(call(100, "glGetUniformLocation", 10, 0, 4), 1, []byte("tint\x00")),
		call(100, "glUseProgram", 10),
		call(100, "glUniform1f", 4, 0),
		call(100, "glUniform1f", 0xFFFFFFFF, 0),
	)

	uni := null.CallsNamed("glUniform1f")
	require.Len(t, uni, 2)
	// second program's location was the second one handed out
	assert.Equal(t, uint64(1), uni[0].Args[0])
	assert.Equal(t, uint64(0xFFFFFFFF), uni[1].Args[0])
	assert.Empty(t, warnings(hook))
}

func TestDisplayListRecording(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)
	run(t, e,
		call(100, "glGenLists", 2, 20),
		call(100, "glNewList", 21, 0x1300),
		call(100, "glClear", 0x4000),
		call(100, "glViewport", 0, 0, 10, 10),
		call(100, "glEndList"),
	)

	s := e.Current()
	replay, ok := s.Map(entrypoint.DisplayLists).Lookup(21)
	require.True(t, ok)
	assert.Equal(t, uint64(driver.NullBase+1), replay)
	assert.Len(t, s.Group.lists[replay].Calls, 2)
	// shadow state is not touched while compiling
	assert.Nil(t, s.Bindings().Viewport)

	run(t, e, call(100, "glDeleteLists", 20, 2))
	_, ok = s.Map(entrypoint.DisplayLists).Lookup(21)
	assert.False(t, ok)
	assert.Empty(t, s.Group.lists)
}

func TestNoCurrentContext(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{})

	st, err := e.ProcessNextPacket(call(0, "glClear", 0x4000))
	assert.Equal(t, StatusSoftFailure, st)
	assert.ErrorIs(t, err, core.ErrNoContext)
	assert.Equal(t, uint64(1), e.CallIndex())
}

func TestImplicitContextCreation(t *testing.T) {
	hook := captureWarnings(t)
	e, _ := newEngine(t, Options{})

	run(t, e, call(100, "glClear", 0x4000))
	_, ok := e.Context(100)
	assert.True(t, ok)
	assert.NotEmpty(t, warnings(hook))
}

func TestContextCreateFailureResets(t *testing.T) {
	captureWarnings(t)
	e, null := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)

	null.Fail("glXCreateContextAttribsARB", errors.New("no display"))
	st, err := e.ProcessNextPacket(call(0, "glXCreateContextAttribsARB", 0, 1, 0, 200))
	assert.Equal(t, StatusHardFailure, st)
	assert.ErrorIs(t, err, core.ErrContextCreate)
	assert.Nil(t, e.Current())
	_, ok := e.Context(100)
	assert.False(t, ok)
}

func TestDestroyContext(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)
	run(t, e, call(0, "glXDestroyContext", 100))

	_, ok := e.Context(100)
	assert.False(t, ok)
	assert.Nil(t, e.Current())
}

func TestDivergence(t *testing.T) {
	captureWarnings(t)

	t.Run("check errors", func(t *testing.T) {
		e, null := newEngine(t, Options{CheckErrors: true})
		run(t, e, createContext(100, 0)...)
		null.PushError(0x0502)

		st, err := e.ProcessNextPacket(call(100, "glClear", 0x4000))
		require.NoError(t, err)
		assert.Equal(t, StatusDriverDivergence, st)
		require.Len(t, e.Divergences(), 1)
		d := e.Divergences()[0]
		assert.Equal(t, "glClear", d.Call)
		assert.Equal(t, uint32(0x0502), d.Code)
		assert.Equal(t, uint64(2), d.CallIndex)
	})

	t.Run("benchmark", func(t *testing.T) {
		e, null := newEngine(t, Options{CheckErrors: true, Benchmark: true})
		run(t, e, createContext(100, 0)...)
		null.PushError(0x0502)
		run(t, e, call(100, "glClear", 0x4000))
		assert.Empty(t, e.Divergences())
	})

	t.Run("get error mismatch", func(t *testing.T) {
		e, null := newEngine(t, Options{})
		run(t, e, createContext(100, 0)...)
		null.PushError(0x0500)

		st, err := e.ProcessNextPacket(call(100, "glGetError", 0))
		require.NoError(t, err)
		assert.Equal(t, StatusDriverDivergence, st)
		assert.Equal(t, uint32(0), e.Divergences()[0].Expected)
	})
}

func TestWindowResize(t *testing.T) {
	captureWarnings(t)

	sized := func(ctx uint64, w, h int64) *packet.Packet {
		p := call(ctx, "glViewport", 0, 0, uint64(w), uint64(h))
		p.KVMap().Set(KeyWindowWidth, packet.Int(w))
		p.KVMap().Set(KeyWindowHeight, packet.Int(h))
		return p
	}

	t.Run("converges", func(t *testing.T) {
		win := window.NewHeadless(640, 480)
		win.SetLag(2)
		e := NewEngine(calls, driver.NewNull(), win, Options{ResizeMaxAttempts: 10, ResizeInterval: time.Millisecond})
		var slept []time.Duration
		e.sleep = func(d time.Duration) { slept = append(slept, d) }
		run(t, e, createContext(100, 0)...)

		p := sized(100, 800, 600)
		var got []Status
		for {
			st, err := e.ProcessNextPacket(p)
			require.NoError(t, err)
			got = append(got, st)
			if st != StatusResizeWindowPending {
				break
			}
		}
		assert.Equal(t, []Status{StatusResizeWindowPending, StatusResizeWindowPending, StatusResizeWindowPending, StatusOK}, got)
		assert.Len(t, slept, 2)
		w, h := win.Size()
		assert.Equal(t, []int{800, 600}, []int{w, h})

		// same size again needs no resize
		st, _ := e.ProcessNextPacket(sized(100, 800, 600))
		assert.Equal(t, StatusOK, st)
	})

	t.Run("gives up", func(t *testing.T) {
		hook := captureWarnings(t)
		win := window.NewHeadless(640, 480)
		win.SetLag(-1)
		e := NewEngine(calls, driver.NewNull(), win, Options{ResizeMaxAttempts: 3})
		run(t, e, createContext(100, 0)...)

		src := &sliceSource{pkts: []*packet.Packet{sized(100, 800, 600), call(100, "glXSwapBuffers")}}
		st, err := e.ProcessFrame(src)
		require.NoError(t, err)
		assert.Equal(t, StatusNextFrame, st)
		assert.Equal(t, uint64(1), e.Frame())
		w, _ := win.Size()
		assert.Equal(t, 640, w)
		require.NotEmpty(t, warnings(hook))
	})
}

func TestProcessFrame(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{})
	pkts := append(createContext(100, 0),
		call(100, "glClear", 0x4000),
		call(100, "glXSwapBuffers"),
		call(100, "glClear", 0x4000),
	)
	src := &sliceSource{pkts: pkts}

	st, err := e.ProcessFrame(src)
	require.NoError(t, err)
	assert.Equal(t, StatusNextFrame, st)
	assert.Equal(t, uint64(1), e.Frame())

	st, err = e.ProcessFrame(src)
	require.NoError(t, err)
	assert.Equal(t, StatusAtEOF, st)
	assert.Equal(t, uint64(5), e.CallIndex())
}

func TestSecondPendingSnapshotFails(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{})
	run(t, e, createContext(100, 0)...)

	st, err := e.BeginApplyingSnapshot(&snapshot.Snapshot{CallIndex: 1}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.True(t, e.SnapshotPending())

	st, err = e.BeginApplyingSnapshot(&snapshot.Snapshot{CallIndex: 2}, false)
	assert.Equal(t, StatusHardFailure, st)
	assert.ErrorIs(t, err, core.ErrSnapshotPending)
	assert.False(t, e.SnapshotPending())
	assert.Nil(t, e.Current())
}

// buildScene replays a small scene touching every tracked object kind.
func buildScene(t *testing.T, e *Engine) {
	t.Helper()
	run(t, e, createContext(100, 0)...)
	run(t, e,
		call(0, "glXCreateContextAttribsARB", 100, 1, 0, 200),
		withMem(call(100, "glGenBuffers", 1), 1, ids(7)),
		call(100, "glBindBuffer", 0x8892, 7),
		withMem(call(100, "glBufferData", 0x8892, 4, 0, 0x88E4), 2, []byte{1, 2, 3, 4}),
		withMem(call(100, "glGenTextures", 1), 1, ids(12)),
		call(100, "glBindTexture", 0x0DE1, 12),
		withMem(call(100, "glTexImage2D", 0x0DE1, 0, 0x8058, 1, 1, 0, 0x1908, 0x1401), 8, []byte{9, 9, 9, 9}),
		call(100, "glTexParameteri", 0x0DE1, 0x2801, 0x2601),
		call(100, "glCreateShader", 0x8B31, 5),
		withMem(call(100, "glShaderSource", 5, 1), 2, []byte("void main(){}")),
		call(100, "glCompileShader", 5),
		call(100, "glCreateProgram", 9),
		call(100, "glAttachShader", 9, 5),
		call(100, "glLinkProgram", 9),
		withMem(call(100, "glGetUniformLocation", 9, 0, 3), 1, []byte("color\x00")),
		call(100, "glUseProgram", 9),
		call(100, "glGenLists", 1, 20),
		call(100, "glNewList", 20, 0x1300),
		call(100, "glClear", 0x4000),
		call(100, "glEndList"),
		withMem(call(100, "glGenVertexArrays", 1), 1, ids(11)),
		call(100, "glBindVertexArray", 11),
		withMem(call(100, "glGenFramebuffers", 1), 1, ids(30)),
		call(100, "glBindFramebuffer", 0x8D40, 30),
		call(100, "glFramebufferTexture2D", 0x8D40, 0x8CE0, 0x0DE1, 12, 0),
		call(100, "glClearColor", 0x3F800000, 0, 0, 0x3F800000),
		call(100, "glViewport", 0, 0, 64, 32),
		withMem(call(200, "glGenVertexArrays", 1), 1, ids(11)),
	)
}

func TestCaptureSnapshot(t *testing.T) {
	hook := captureWarnings(t)
	store := snapshot.NewStore()
	e, _ := newEngine(t, Options{Snapshots: store})
	buildScene(t, e)

	snap := e.CaptureSnapshot()
	assert.Empty(t, warnings(hook))
	assert.Equal(t, e.CallIndex(), snap.CallIndex)
	assert.Equal(t, uint64(200), snap.Current)
	_, ok := store.Get(snap.CallIndex)
	assert.True(t, ok)

	require.Len(t, snap.Groups, 1)
	g := snap.Groups[0]
	assert.Equal(t, []snapshot.Buffer{{Handle: 7, Target: 0x8892, Usage: 0x88E4, Data: []byte{1, 2, 3, 4}}}, g.Buffers)
	require.Len(t, g.Textures, 1)
	assert.Equal(t, uint64(12), g.Textures[0].Handle)
	assert.Equal(t, []byte{9, 9, 9, 9}, g.Textures[0].Level0.Pixels)
	assert.Equal(t, []snapshot.Shader{{Handle: 5, Type: 0x8B31, Source: []byte("void main(){}"), Compiled: true}}, g.Shaders)
	assert.Equal(t, []snapshot.Program{{
		Handle: 9, Shaders: []uint64{5}, Linked: true,
		Uniforms: []snapshot.Uniform{{Name: "color", Location: 3}},
	}}, g.Programs)
	require.Len(t, g.DisplayLists, 1)
	assert.Equal(t, uint64(20), g.DisplayLists[0].Handle)
	assert.Len(t, g.DisplayLists[0].Calls, 1)

	require.Len(t, g.Contexts, 2)
	root := g.Contexts[0]
	assert.Equal(t, uint64(100), root.Handle)
	assert.Equal(t, []uint64{11}, root.VertexArrays)
	assert.Equal(t, uint64(9), root.Bindings.Program)
	assert.Equal(t, map[uint32]uint64{0x8892: 7}, root.Bindings.Buffers)
	assert.Equal(t, map[uint32]uint64{0x0DE1: 12}, root.Bindings.Textures)
	assert.Equal(t, uint64(30), root.Bindings.Framebuffer)
	assert.Equal(t, &[4]int32{0, 0, 64, 32}, root.Bindings.Viewport)
	require.Len(t, root.Framebuffers, 1)
	assert.Equal(t, []snapshot.Attachment{{Point: 0x8CE0, TexTarget: 0x0DE1, Texture: 12}}, root.Framebuffers[0].Attachments)
	assert.Equal(t, uint64(200), g.Contexts[1].Handle)
	assert.Equal(t, []uint64{11}, g.Contexts[1].VertexArrays)
}

func TestApplySnapshotRoundTrip(t *testing.T) {
	hook := captureWarnings(t)
	e, _ := newEngine(t, Options{})
	buildScene(t, e)
	want := e.CaptureSnapshot()
	data, err := snapshot.Marshal(want)
	require.NoError(t, err)

	// a fresh engine over a driver handing out different ids
	null := driver.NewNull()
	for i := 0; i < 5; i++ {
		_, _ = null.Call(&driver.Call{Desc: calls.ByName("glCreateProgram")})
	}
	blobs := blobstore.NewMemory()
	id, err := blobs.Put(data, "snapshot")
	require.NoError(t, err)
	r := NewEngine(calls, null, nil, Options{Blobs: blobs})

	cmd := call(0, "glInternalTraceCommand", 0)
	cmd.KVMap().Set(KeyCommand, packet.String(CommandStateSnapshot))
	cmd.KVMap().Set(KeyBlobID, packet.String(id))
	run(t, r, cmd)
	assert.True(t, r.SnapshotPending())

	run(t, r, call(200, "glClear", 0x4000))
	assert.False(t, r.SnapshotPending())
	assert.Equal(t, want.CallIndex+1, r.CallIndex())
	assert.Empty(t, warnings(hook))

	s, ok := r.Context(100)
	require.True(t, ok)
	prog, ok := s.Map(entrypoint.Programs).Lookup(9)
	require.True(t, ok)
	assert.Equal(t, uint64(driver.NullBase+5), prog)

	got := r.CaptureSnapshot()
	require.Len(t, got.Groups, 1)
	wg, gg := want.Groups[0], got.Groups[0]
	assert.Equal(t, wg.Buffers, gg.Buffers)
	assert.Equal(t, wg.Textures, gg.Textures)
	assert.Equal(t, wg.Shaders, gg.Shaders)
	assert.Equal(t, wg.Programs, gg.Programs)
	assert.Equal(t, wg.Contexts, gg.Contexts)
	assert.Equal(t, uint64(200), got.Current)

	// list bodies are re-encoded, so compare the decoded calls
	require.Len(t, gg.DisplayLists, 1)
	require.Len(t, gg.DisplayLists[0].Calls, 1)
	dec := packet.NewDecoder(calls)
	pkt, err := dec.Decode(gg.DisplayLists[0].Calls[0])
	require.NoError(t, err)
	assert.Equal(t, "glClear", pkt.Name())
	assert.Equal(t, uint64(0x4000), pkt.Value(0))
}

func TestEmbeddedSnapshotMissingBlob(t *testing.T) {
	captureWarnings(t)
	e, _ := newEngine(t, Options{Blobs: blobstore.NewMemory()})

	cmd := call(0, "glInternalTraceCommand", 0)
	cmd.KVMap().Set(KeyCommand, packet.String(CommandStateSnapshot))
	cmd.KVMap().Set(KeyBlobID, packet.String("nope"))
	st, err := e.ProcessNextPacket(cmd)
	assert.Equal(t, StatusSoftFailure, st)
	assert.ErrorIs(t, err, core.ErrBlobNotFound)
}

func TestApplyDeletesFromStore(t *testing.T) {
	captureWarnings(t)
	store := snapshot.NewStore()
	e, _ := newEngine(t, Options{Snapshots: store})
	buildScene(t, e)
	snap := e.CaptureSnapshot()
	require.Equal(t, 1, store.Len())

	_, err := e.BeginApplyingSnapshot(snap, true)
	require.NoError(t, err)
	run(t, e, call(100, "glClear", 0x4000))
	assert.Equal(t, 0, store.Len())
	assert.Same(t, mustContext(t, e, 100), e.Current())
	assert.Equal(t, snap.CallIndex+1, e.CallIndex())
}

func mustContext(t *testing.T, e *Engine, trace uint64) *ContextState {
	t.Helper()
	s, ok := e.Context(trace)
	require.True(t, ok)
	return s
}
