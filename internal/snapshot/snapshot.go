// Package snapshot models the replay-time state captured at one point of a
// trace and keeps an ordered collection of such captures.
//
// All handles inside a Snapshot are trace handles, so a snapshot can be
// re-applied to any replay session of the same trace.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"firestige.xyz/gltrace/internal/core"
)

// FormatVersion is bumped on incompatible model changes.
const FormatVersion = 1

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Snapshot is the full replay state at one call index.
type Snapshot struct {
	Version    int     `json:"version"`
	CallIndex  uint64  `json:"call_index"`
	FrameIndex uint64  `json:"frame_index"`
	Current    uint64  `json:"current_context"`
	Window     Size    `json:"window"`
	Groups     []Group `json:"groups"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Group is one sharing group: contexts sharing object namespaces. The first
// context is the group root.
type Group struct {
	Contexts      []Context      `json:"contexts"`
	Buffers       []Buffer       `json:"buffers,omitempty"`
	Textures      []Texture      `json:"textures,omitempty"`
	Shaders       []Shader       `json:"shaders,omitempty"`
	Programs      []Program      `json:"programs,omitempty"`
	Samplers      []uint64       `json:"samplers,omitempty"`
	SyncObjects   []uint64       `json:"sync_objects,omitempty"`
	Renderbuffers []Renderbuffer `json:"renderbuffers,omitempty"`
	DisplayLists  []DisplayList  `json:"display_lists,omitempty"`
	ARBPrograms   []ARBProgram   `json:"arb_programs,omitempty"`
}

// Context holds per-context containers and bindings.
type Context struct {
	Handle       uint64        `json:"handle"`
	VertexArrays []uint64      `json:"vertex_arrays,omitempty"`
	Framebuffers []Framebuffer `json:"framebuffers,omitempty"`
	Queries      []uint64      `json:"queries,omitempty"`
	Bindings     Bindings      `json:"bindings"`
}

// Bindings is the bound-object state of one context. Maps are keyed by
// binding target (or texture unit for samplers).
type Bindings struct {
	Program      uint64            `json:"program,omitempty"`
	Buffers      map[uint32]uint64 `json:"buffers,omitempty"`
	Textures     map[uint32]uint64 `json:"textures,omitempty"`
	Samplers     map[uint32]uint64 `json:"samplers,omitempty"`
	ARBPrograms  map[uint32]uint64 `json:"arb_programs,omitempty"`
	VertexArray  uint64            `json:"vertex_array,omitempty"`
	Framebuffer  uint64            `json:"framebuffer,omitempty"`
	Renderbuffer uint64            `json:"renderbuffer,omitempty"`
	// ClearColor keeps the raw float bits.
	ClearColor [4]uint32 `json:"clear_color"`
	Viewport   *[4]int32 `json:"viewport,omitempty"`
}

type Buffer struct {
	Handle uint64 `json:"handle"`
	Target uint32 `json:"target,omitempty"`
	Usage  uint32 `json:"usage,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

type Texture struct {
	Handle uint64     `json:"handle"`
	Target uint32     `json:"target,omitempty"`
	Level0 *Image     `json:"level0,omitempty"`
	Params []TexParam `json:"params,omitempty"`
}

type Image struct {
	InternalFormat int32  `json:"internal_format"`
	Width          int32  `json:"width"`
	Height         int32  `json:"height"`
	Format         uint32 `json:"format"`
	Type           uint32 `json:"type"`
	Pixels         []byte `json:"pixels,omitempty"`
}

type TexParam struct {
	Name  uint32 `json:"pname"`
	Value int32  `json:"value"`
}

type Shader struct {
	Handle   uint64 `json:"handle"`
	Type     uint32 `json:"type"`
	Source   []byte `json:"source,omitempty"`
	Compiled bool   `json:"compiled,omitempty"`
}

type Program struct {
	Handle   uint64    `json:"handle"`
	Shaders  []uint64  `json:"shaders,omitempty"`
	Linked   bool      `json:"linked,omitempty"`
	Uniforms []Uniform `json:"uniforms,omitempty"`
}

// Uniform is a location obtained by name from a linked program.
type Uniform struct {
	Name     string `json:"name"`
	Location uint64 `json:"location"`
}

type Renderbuffer struct {
	Handle         uint64 `json:"handle"`
	InternalFormat uint32 `json:"internal_format,omitempty"`
	Width          int32  `json:"width,omitempty"`
	Height         int32  `json:"height,omitempty"`
}

type Framebuffer struct {
	Handle      uint64       `json:"handle"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment binds either a texture level or a renderbuffer.
type Attachment struct {
	Point        uint32 `json:"point"`
	TexTarget    uint32 `json:"tex_target,omitempty"`
	Texture      uint64 `json:"texture,omitempty"`
	Level        int32  `json:"level,omitempty"`
	Renderbuffer uint64 `json:"renderbuffer,omitempty"`
}

// DisplayList keeps the encoded call packets compiled into a list.
type DisplayList struct {
	Handle uint64   `json:"handle"`
	Calls  [][]byte `json:"calls,omitempty"`
}

type ARBProgram struct {
	Handle uint64 `json:"handle"`
	Target uint32 `json:"target,omitempty"`
	Format uint32 `json:"format,omitempty"`
	Source []byte `json:"source,omitempty"`
}

// Contexts returns every context handle in group order.
func (s *Snapshot) Contexts() []uint64 {
	var out []uint64
	for _, g := range s.Groups {
		for _, c := range g.Contexts {
			out = append(out, c.Handle)
		}
	}
	return out
}

// Marshal encodes s as zstd-compressed JSON.
func Marshal(s *Snapshot) ([]byte, error) {
	if s.Version == 0 {
		s.Version = FormatVersion
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(b []byte) (*Snapshot, error) {
	raw, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if s.Version > FormatVersion || s.Version < 1 {
		return nil, fmt.Errorf("snapshot: version %d: %w", s.Version, core.ErrVersion)
	}
	return &s, nil
}
