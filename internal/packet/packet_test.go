package packet

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/entrypoint"
)

func testRegistry() *entrypoint.Registry {
	return entrypoint.Builtin(ctype.Builtin())
}

func f32(f float32) uint64 { return uint64(math.Float32bits(f)) }

func floats(fs ...float32) []byte {
	b := make([]byte, 0, 4*len(fs))
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// refresh recomputes the CRC after a test edits a packet in place.
func refresh(b []byte) {
	binary.LittleEndian.PutUint32(b[8:12], checksum(b[crcOffset:]))
}

func samplePackets(t *testing.T, reg *entrypoint.Registry) []*Packet {
	t.Helper()

	data := NewPacket(reg.Lookup(entrypoint.GLBufferData), 0x8892, 6, 0x7f001000, 0x88E4)
	data.SetMemory(2, []byte{1, 2, 3, 4, 5, 6})
	data.Context = 100
	data.ThreadID = 7
	data.CallCounter = 42
	data.CallBegin = 1000
	data.CallEnd = 1010

	uni := NewPacket(reg.Lookup(entrypoint.GLUniform4fv), 3, 1, 0x7f002000)
	uni.SetMemory(2, floats(1, 0.5, -2, float32(math.Inf(1))))

	prog := NewPacket(reg.Lookup(entrypoint.GLCreateProgram), 5)

	shader := NewPacket(reg.Lookup(entrypoint.GLShaderSource), 9, 1, 0x7f003000, 0)
	shader.KVMap().Set("0", String("void main() {}"))
	nested := NewKeyValueMap()
	nested.Set("depth", Int(-3))
	shader.KVMap().Set("meta", DocValue(nested))
	shader.KVMap().SetKey(Uint(7), Float(1.25))

	swap := NewPacket(reg.Lookup(entrypoint.GLXSwapBuffers))

	gen := NewPacket(reg.Lookup(entrypoint.GLGenBuffers), 2, 0x7f004000)
	gen.SetMemory(1, []byte{7, 0, 0, 0, 8, 0, 0, 0})

	return []*Packet{data, uni, prog, shader, swap, gen}
}

func TestRoundTrip(t *testing.T) {
	reg := testRegistry()
	enc := NewEncoder(reg)
	dec := NewDecoder(reg)

	for _, want := range samplePackets(t, reg) {
		t.Run(want.Name(), func(t *testing.T) {
			b, err := enc.Encode(want)
			require.NoError(t, err)
			assert.Equal(t, int(want.Size), len(b))

			got, err := dec.Decode(b)
			require.NoError(t, err)

			assert.Equal(t, want.CallID, got.CallID)
			assert.Equal(t, want.Context, got.Context)
			assert.Equal(t, want.ThreadID, got.ThreadID)
			assert.Equal(t, want.CallCounter, got.CallCounter)
			require.Len(t, got.Params, len(want.Params))
			for i := range want.Params {
				assert.Equal(t, want.Params[i].Type, got.Params[i].Type, "slot %d", i)
				assert.Equal(t, want.Params[i].Size(), got.Params[i].Size(), "slot %d", i)
				assert.Equal(t, want.Params[i].Value, got.Params[i].Value, "slot %d", i)
			}
			require.Len(t, got.Memory, len(want.Memory))
			for i := range want.Memory {
				assert.Equal(t, want.Memory[i].Slot, got.Memory[i].Slot)
				assert.Equal(t, want.Memory[i].Data, got.Memory[i].Data)
			}
			assert.True(t, want.KV.Equal(got.KV))
		})
	}
}

func TestRndToken(t *testing.T) {
	reg := testRegistry()
	p := NewPacket(reg.Lookup(entrypoint.GLXSwapBuffers))
	b, err := NewEncoder(reg).Encode(p)
	require.NoError(t, err)

	rnd := binary.LittleEndian.Uint16(b[14:16])
	inv := binary.LittleEndian.Uint16(b[12:14])
	assert.NotZero(t, rnd)
	assert.Equal(t, ^rnd, inv)
}

func TestCorruptionEveryByte(t *testing.T) {
	reg := testRegistry()
	enc := NewEncoder(reg)
	dec := NewDecoder(reg)

	for _, p := range samplePackets(t, reg) {
		b, err := enc.Encode(p)
		require.NoError(t, err)

		for i := range b {
			c := append([]byte(nil), b...)
			c[i] ^= 0xFF
			if _, err := dec.Decode(c); err == nil {
				t.Errorf("%s: flipping byte %d went undetected", p.Name(), i)
			}
		}
	}
}

func TestCRCToggle(t *testing.T) {
	reg := testRegistry()
	p := NewPacket(reg.Lookup(entrypoint.GLBindBuffer), 0x8892, 7)
	b, err := NewEncoder(reg).Encode(p)
	require.NoError(t, err)

	b[50] ^= 0x01 // packet-begin timestamp

	_, err = NewDecoder(reg).Decode(b)
	assert.True(t, errors.Is(err, core.ErrBadCRC), "got %v", err)

	got, err := NewDecoder(reg, WithCRC(false)).Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Value(1))
}

func TestDecodeStructuralFailures(t *testing.T) {
	reg := testRegistry()
	enc := NewEncoder(reg)
	dec := NewDecoder(reg)

	base := func() []byte {
		p := NewPacket(reg.Lookup(entrypoint.GLGenBuffers), 1, 0x1000)
		p.SetMemory(1, []byte{7, 0, 0, 0})
		b, err := enc.Encode(p)
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"param count", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[18:20], 3)
			refresh(b)
			return b
		}, core.ErrParamCount},
		{"call id out of range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[20:24], uint32(reg.Len()+1))
			refresh(b)
			return b
		}, core.ErrUnknownCall},
		{"call id zero", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[20:24], 0)
			refresh(b)
			return b
		}, core.ErrUnknownCall},
		{"zero rnd", func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[14:16], 0)
			binary.LittleEndian.PutUint16(b[12:14], 0xFFFF)
			refresh(b)
			return b
		}, core.ErrBadRnd},
		{"trailing bytes", func(b []byte) []byte {
			b = append(b, 0xAA)
			binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)))
			refresh(b)
			return b
		}, core.ErrTrailingBytes},
		{"truncated", func(b []byte) []byte {
			return b[:HeaderSize-1]
		}, core.ErrTruncated},
		{"size mismatch", func(b []byte) []byte {
			return b[:len(b)-1]
		}, core.ErrBadSize},
		{"bad magic", func(b []byte) []byte {
			b[0] = 0
			return b
		}, core.ErrBadMagic},
		{"memory on scalar", func(b []byte) []byte {
			// descriptor of slot 0 ("n") claims the blob
			d := b[HeaderSize+4+8:]
			binary.LittleEndian.PutUint32(d[4:8], 4)
			binary.LittleEndian.PutUint16(d[10:12], memFlagPresent)
			refresh(b)
			return b
		}, core.ErrMemoryLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.Decode(tt.mutate(base()))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncodeRejectsBadLayout(t *testing.T) {
	reg := testRegistry()
	enc := NewEncoder(reg)

	uni := NewPacket(reg.Lookup(entrypoint.GLUniform4fv), 1, 1, 0x1000)
	uni.SetMemory(2, []byte{1, 2, 3, 4, 5})
	_, err := enc.Encode(uni)
	assert.True(t, errors.Is(err, core.ErrMemoryLayout), "got %v", err)

	bind := NewPacket(reg.Lookup(entrypoint.GLBindBuffer), 0x8892, 7)
	bind.Params = bind.Params[:1]
	_, err = enc.Encode(bind)
	assert.True(t, errors.Is(err, core.ErrParamCount), "got %v", err)

	bad := &Packet{Header: Header{CallID: entrypoint.ID(reg.Len() + 5)}}
	_, err = enc.Encode(bad)
	assert.True(t, errors.Is(err, core.ErrUnknownCall), "got %v", err)
}

func TestOpaqueMemoryAnyLength(t *testing.T) {
	reg := testRegistry()
	p := NewPacket(reg.Lookup(entrypoint.GLBufferData), 0x8892, 3, 0x1000, 0x88E4)
	p.SetMemory(2, []byte{1, 2, 3})

	b, err := NewEncoder(reg).Encode(p)
	require.NoError(t, err)
	got, err := NewDecoder(reg).Decode(b)
	require.NoError(t, err)
	data, ok := got.MemoryFor(2)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestParamSignExtension(t *testing.T) {
	reg := testRegistry()
	p := NewPacket(reg.Lookup(entrypoint.GLUniform1f), uint64(0xFFFFFFFFFFFFFFFF), f32(2.5))

	assert.Equal(t, uint64(0xFFFFFFFF), p.Value(0))
	assert.Equal(t, int64(-1), p.Params[0].Int())
	assert.Equal(t, int32(-1), p.ParamAsInt32(0))
	assert.Equal(t, float32(2.5), p.ParamAsFloat32(1))
	assert.Equal(t, 2.5, p.Params[1].Float())
}

func TestPeekSize(t *testing.T) {
	reg := testRegistry()
	b, err := NewEncoder(reg).Encode(NewPacket(reg.Lookup(entrypoint.GLXSwapBuffers)))
	require.NoError(t, err)

	magic, size, err := PeekSize(b[:8])
	require.NoError(t, err)
	assert.Equal(t, CallMagic, magic)
	assert.Equal(t, uint32(len(b)), size)

	_, _, err = PeekSize([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, core.ErrTruncated))
}

func TestFileStart(t *testing.T) {
	fs := NewFileStart(8)
	fs.ArchiveOffset = 4096
	fs.ArchiveSize = 512

	got, err := UnmarshalFileStart(fs.Marshal())
	require.NoError(t, err)
	assert.Equal(t, fs.UUID, got.UUID)
	assert.Equal(t, FormatVersion, got.Version)
	assert.Equal(t, uint8(8), got.PointerWidth)
	assert.True(t, got.HasArchive())
	assert.Equal(t, uint64(4096), got.ArchiveOffset)

	old := *fs
	old.Version = MinCompatibleVersion - 1
	_, err = UnmarshalFileStart(old.Marshal())
	assert.True(t, errors.Is(err, core.ErrVersion))

	b := fs.Marshal()
	b[20] ^= 1
	_, err = UnmarshalFileStart(b)
	assert.True(t, errors.Is(err, core.ErrBadCRC))
}

func TestCanConvert(t *testing.T) {
	reg := ctype.Builtin()
	gluint := reg.Lookup(ctype.GLuint)
	glint := reg.Lookup(ctype.GLint)
	glshort := reg.Lookup(ctype.GLshort)
	gluint64 := reg.Lookup(ctype.GLuint64)
	glfloat := reg.Lookup(ctype.GLfloat)
	gldouble := reg.Lookup(ctype.GLdouble)

	tests := []struct {
		name     string
		actual   *ctype.WireType
		value    uint64
		size     int
		signed   bool
		integral bool
		want     bool
	}{
		{"uint to uint32", gluint, 0xFFFFFFFF, 4, false, true, true},
		{"uint max to int32", gluint, 0xFFFFFFFF, 4, true, true, false},
		{"uint small to int32", gluint, 7, 4, true, true, true},
		{"negative int to uint32", glint, 0xFFFFFFFF, 4, false, true, false},
		{"negative int to int64", glint, 0xFFFFFFFF, 8, true, true, true},
		{"short to byte", glshort, 0x7F, 1, true, true, true},
		{"short to byte overflow", glshort, 0x80, 1, true, true, false},
		{"negative short to int8", glshort, 0xFF80, 1, true, true, true},
		{"uint64 max to int64", gluint64, math.MaxUint64, 8, true, true, false},
		{"uint64 max to uint64", gluint64, math.MaxUint64, 8, false, true, true},
		{"float to float", glfloat, f32(1.5), 4, true, false, true},
		{"float to double", glfloat, f32(1.5), 8, true, false, false},
		{"double to int", gldouble, 0, 8, true, true, false},
		{"int to float", glint, 1, 4, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanConvert(tt.actual, tt.value, tt.size, tt.signed, tt.integral))
		})
	}
}
