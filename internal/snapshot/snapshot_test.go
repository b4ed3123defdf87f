package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/log"
)

func sample(call uint64) *Snapshot {
	vp := [4]int32{0, 0, 640, 480}
	return &Snapshot{
		CallIndex:  call,
		FrameIndex: 2,
		Current:    100,
		Window:     Size{Width: 640, Height: 480},
		Groups: []Group{{
			Contexts: []Context{
				{
					Handle:       100,
					VertexArrays: []uint64{3},
					Framebuffers: []Framebuffer{{Handle: 4, Attachments: []Attachment{{Point: 0x8CE0, TexTarget: 0x0DE1, Texture: 9}}}},
					Bindings: Bindings{
						Program:    11,
						Buffers:    map[uint32]uint64{0x8892: 7},
						Textures:   map[uint32]uint64{0x0DE1: 9},
						ClearColor: [4]uint32{0x3E800000, 0, 0, 0x3F800000},
						Viewport:   &vp,
					},
				},
				{Handle: 200},
			},
			Buffers:  []Buffer{{Handle: 7, Target: 0x8892, Usage: 0x88E4, Data: []byte{1, 2, 3}}},
			Textures: []Texture{{Handle: 9, Target: 0x0DE1, Level0: &Image{Width: 1, Height: 1, Format: 0x1908, Type: 0x1401, Pixels: []byte{1, 2, 3, 4}}}},
			Shaders:  []Shader{{Handle: 5, Type: 0x8B31, Source: []byte("void main(){}"), Compiled: true}},
			Programs: []Program{{Handle: 11, Shaders: []uint64{5}, Linked: true, Uniforms: []Uniform{{Name: "mvp", Location: 0}}}},
			DisplayLists: []DisplayList{
				{Handle: 1, Calls: [][]byte{{0xde, 0xad}}},
			},
		}},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := sample(42)
	b, err := Marshal(want)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []uint64{100, 200}, got.Contexts())
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal([]byte("not zstd"))
	assert.Error(t, err)

	future := sample(1)
	future.Version = FormatVersion + 1
	b, err := Marshal(future)
	require.NoError(t, err)
	_, err = Unmarshal(b)
	assert.True(t, errors.Is(err, core.ErrVersion), "got %v", err)
}

func TestStoreOrdering(t *testing.T) {
	st := NewStore()
	for _, k := range []uint64{50, 10, 30} {
		st.Put(k, sample(k))
	}
	assert.Equal(t, []uint64{10, 30, 50}, st.Keys())
	assert.Equal(t, 3, st.Len())

	tests := []struct {
		index uint64
		key   uint64
		ok    bool
	}{
		{5, 0, false},
		{10, 10, true},
		{29, 10, true},
		{30, 30, true},
		{1000, 50, true},
	}
	for _, tt := range tests {
		key, s, ok := st.FindAtOrBefore(tt.index)
		assert.Equal(t, tt.ok, ok, "index %d", tt.index)
		if ok {
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.key, s.CallIndex)
		}
	}

	// replacing keeps one key
	st.Put(30, sample(31))
	assert.Equal(t, 3, st.Len())
	s, ok := st.Get(30)
	require.True(t, ok)
	assert.Equal(t, uint64(31), s.CallIndex)

	assert.True(t, st.Remove(30))
	assert.False(t, st.Remove(30))
	assert.Equal(t, []uint64{10, 50}, st.Keys())
	key, _, _ := st.FindAtOrBefore(40)
	assert.Equal(t, uint64(10), key)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Save(20, sample(20)))
	require.NoError(t, fs.Save(3, sample(3)))

	keys, err := fs.Keys()
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 20}, keys)

	got, err := fs.Load(20)
	require.NoError(t, err)
	assert.Equal(t, sample(20).Groups, got.Groups)

	_, err = fs.Load(7)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, fs.Delete(3))
	require.NoError(t, fs.Delete(3))
	keys, err = fs.Keys()
	require.NoError(t, err)
	assert.Equal(t, []uint64{20}, keys)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreLoadIntoSkipsCorrupt(t *testing.T) {
	l, hook := test.NewNullLogger()
	prev := log.GetLogger()
	log.SetLogger(log.NewFromLogrus(l))
	defer log.SetLogger(prev)

	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Save(1, sample(1)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.snap"), []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	st := NewStore()
	require.NoError(t, fs.LoadInto(st))
	assert.Equal(t, []uint64{1}, st.Keys())
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "skipping unreadable file")
}
