package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/log"
)

func captureWarnings(t *testing.T) *test.Hook {
	t.Helper()
	l, hook := test.NewNullLogger()
	prev := log.GetLogger()
	log.SetLogger(log.NewFromLogrus(l))
	t.Cleanup(func() { log.SetLogger(prev) })
	return hook
}

// corrupt overwrites a stored blob without updating its checksum.
func (m *Memory) corrupt(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.data = data
	m.entries[id] = e
}

func TestMakeID(t *testing.T) {
	a := MakeID([]byte("hello"), "glBufferData_data")
	b := MakeID([]byte("hello"), "glBufferData_data")
	c := MakeID([]byte("hellO"), "glBufferData_data")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "glBufferData_data_"))
	assert.Len(t, a, len("glBufferData_data_")+idHashLen)

	assert.True(t, strings.HasPrefix(MakeID(nil, ""), "blob_"))
	assert.True(t, strings.HasPrefix(MakeID(nil, "a/b c"), "a_b_c_"))

	assert.Equal(t, "glBufferData_data", HintOf(a))
	assert.Equal(t, a, MakeID([]byte("hello"), HintOf(a)))
}

func TestMemory(t *testing.T) {
	hook := captureWarnings(t)
	m := NewMemory()

	id, err := m.Put([]byte{1, 2, 3}, "x")
	require.NoError(t, err)
	again, err := m.Put([]byte{1, 2, 3}, "x")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Empty(t, hook.Entries)

	_, err = m.Get("nope")
	assert.True(t, errors.Is(err, core.ErrBlobNotFound))

	m.corrupt(id, []byte{9, 9, 9})
	got, err = m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, got)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, id, hook.LastEntry().Data["blob_id"])
}

func TestDir(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "raw"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s, err := NewDir(dir, 4, compress)
			require.NoError(t, err)

			data := bytes.Repeat([]byte("texel"), 1000)
			id, err := s.Put(data, "glTexImage2D_pixels")
			require.NoError(t, err)

			got, err := s.Get(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			// cached read
			got, err = s.Get(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			// a fresh store over the same directory sees the blob
			s2, err := NewDir(dir, 0, compress)
			require.NoError(t, err)
			got, err = s2.Get(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, id+blobExt, entries[0].Name())

			_, err = s.Get("missing")
			assert.True(t, errors.Is(err, core.ErrBlobNotFound))
		})
	}
}

func TestDirChecksumMismatch(t *testing.T) {
	hook := captureWarnings(t)
	dir := t.TempDir()
	s, err := NewDir(dir, 0, false)
	require.NoError(t, err)

	id, err := s.Put([]byte{1, 2, 3, 4}, "b")
	require.NoError(t, err)

	path := filepath.Join(dir, id+blobExt)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0xFB}, got)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDirConcurrent(t *testing.T) {
	s, err := NewDir(t.TempDir(), 8, true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Put([]byte{byte(i % 4)}, "c")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = id
			if _, err := s.Get(id); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, ids[0], ids[4])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestArchive(t *testing.T) {
	w := NewArchiveWriter()
	a, err := w.Put([]byte("snapshot bytes"), "snapshot")
	require.NoError(t, err)
	b, err := w.Put(bytes.Repeat([]byte{7}, 4096), "pixels")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	ar, err := OpenArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, ar.IDs())

	got, err := ar.Get(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot bytes"), got)

	got, err = ar.Get(b)
	require.NoError(t, err)
	assert.Len(t, got, 4096)

	_, err = ar.Get("missing")
	assert.True(t, errors.Is(err, core.ErrBlobNotFound))

	_, err = ar.Put([]byte{1}, "x")
	assert.True(t, errors.Is(err, core.ErrReadOnly))
}
