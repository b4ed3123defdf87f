// Package entrypoint holds the static table of call descriptors: one entry per
// call kind with its parameters, their wire types and handle namespaces.
package entrypoint

import (
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
)

// ID identifies a call kind. 0 is never valid.
type ID uint32

// Dir is the data direction of a parameter.
type Dir uint8

const (
	In Dir = iota
	Out
)

func (d Dir) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Action tells the replayer which bookkeeping a call needs beyond remapping.
type Action uint8

const (
	ActionNone Action = iota
	ActionGenerate
	ActionDelete
	ActionCreateContext
	ActionMakeCurrent
	ActionDestroyContext
	ActionSwap
	ActionGetError
	ActionGenLists
	ActionDeleteLists
	ActionNewList
	ActionEndList
	ActionUniformLocation
	ActionInternal
)

var actionNames = map[string]Action{
	"":                 ActionNone,
	"none":             ActionNone,
	"generate":         ActionGenerate,
	"delete":           ActionDelete,
	"create_context":   ActionCreateContext,
	"make_current":     ActionMakeCurrent,
	"destroy_context":  ActionDestroyContext,
	"swap":             ActionSwap,
	"get_error":        ActionGetError,
	"gen_lists":        ActionGenLists,
	"delete_lists":     ActionDeleteLists,
	"new_list":         ActionNewList,
	"end_list":         ActionEndList,
	"uniform_location": ActionUniformLocation,
	"internal":         ActionInternal,
}

// Flags are per-call hints.
type Flags uint16

const (
	// FlagCheckError marks state-mutating calls followed by a divergence check.
	FlagCheckError Flags = 1 << iota
	// FlagLargePayload marks calls whose blobs are always externalized.
	FlagLargePayload
	// FlagDraw marks draw calls.
	FlagDraw
	// FlagBinds marks calls that change shadow bindings.
	FlagBinds
)

var flagNames = map[string]Flags{
	"check_error":   FlagCheckError,
	"large_payload": FlagLargePayload,
	"draw":          FlagDraw,
	"binds":         FlagBinds,
}

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// ParamDescriptor describes one parameter slot.
type ParamDescriptor struct {
	Name      string
	Type      ctype.ID
	Namespace Namespace
	Dir       Dir
	// ArraySize is the element count of pointer parameters: a constant, a
	// parameter name, or "name*k". Empty means the client memory decides.
	ArraySize string

	wireType *ctype.WireType
}

// WireType returns the resolved wire type.
func (p *ParamDescriptor) WireType() *ctype.WireType {
	return p.wireType
}

// Signed reads v as a signed value of the parameter's slot width. Unsigned
// types come back unchanged.
func (p *ParamDescriptor) Signed(v uint64) int64 {
	t := p.wireType
	if t == nil || !t.IsSigned || t.Size <= 0 || t.Size >= 8 {
		return int64(v)
	}
	shift := uint(64 - 8*t.Size)
	return int64(v<<shift) >> shift
}

// Descriptor is the immutable description of one call kind.
type Descriptor struct {
	ID              ID
	Name            string
	Params          []ParamDescriptor
	Return          ctype.ID
	ReturnNamespace Namespace
	Action          Action
	Flags           Flags

	returnType *ctype.WireType
}

// HasReturn reports whether the call returns a value.
func (d *Descriptor) HasReturn() bool {
	return d.returnType != nil && !d.returnType.IsVoid()
}

// ReturnType returns the resolved return wire type (void when absent).
func (d *Descriptor) ReturnType() *ctype.WireType {
	return d.returnType
}

// ParamCount is the number of parameter slots in a packet, including the
// return slot.
func (d *Descriptor) ParamCount() int {
	n := len(d.Params)
	if d.HasReturn() {
		n++
	}
	return n
}

// SlotType returns the wire type of slot i; the slot after the last
// parameter is the return value.
func (d *Descriptor) SlotType(i int) *ctype.WireType {
	if i < len(d.Params) {
		return d.Params[i].wireType
	}
	if i == len(d.Params) && d.HasReturn() {
		return d.returnType
	}
	return nil
}

// SlotName returns the parameter name for slot i ("return" for the return slot).
func (d *Descriptor) SlotName(i int) string {
	if i < len(d.Params) {
		return d.Params[i].Name
	}
	return "return"
}

// SlotNamespace returns the namespace of slot i.
func (d *Descriptor) SlotNamespace(i int) Namespace {
	if i < len(d.Params) {
		return d.Params[i].Namespace
	}
	return d.ReturnNamespace
}

// ParamIndex returns the index of the named parameter, or -1.
func (d *Descriptor) ParamIndex(name string) int {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return i
		}
	}
	return -1
}

// ArrayLen evaluates the ArraySize expression of parameter i against the
// decoded slot values. ok is false when the size is implicit.
func (d *Descriptor) ArrayLen(i int, values []uint64) (n uint64, ok bool) {
	expr := strings.TrimSpace(d.Params[i].ArraySize)
	if expr == "" {
		return 0, false
	}
	name, mul := expr, uint64(1)
	if star := strings.IndexByte(expr, '*'); star >= 0 {
		name = strings.TrimSpace(expr[:star])
		k, err := strconv.ParseUint(strings.TrimSpace(expr[star+1:]), 10, 32)
		if err != nil {
			return 0, false
		}
		mul = k
	}
	if c, err := strconv.ParseUint(name, 10, 32); err == nil {
		return c * mul, true
	}
	j := d.ParamIndex(name)
	if j < 0 || j >= len(values) {
		return 0, false
	}
	if n := d.Params[j].Signed(values[j]); n < 0 {
		return 0, true
	}
	return values[j] * mul, true
}

// Registry is the read-only table of call descriptors, indexed by ID.
type Registry struct {
	ctypes *ctype.Registry
	calls  []*Descriptor
	byName map[string]*Descriptor
	enums  *EnumTable
}

// NewRegistry validates descs against ctypes and freezes them. IDs must be
// dense starting at 1.
func NewRegistry(ctypes *ctype.Registry, descs []Descriptor, enums *EnumTable) (*Registry, error) {
	r := &Registry{
		ctypes: ctypes,
		calls:  make([]*Descriptor, len(descs)+1),
		byName: make(map[string]*Descriptor, len(descs)),
		enums:  enums,
	}
	if r.enums == nil {
		r.enums = NewEnumTable(nil)
	}
	for i := range descs {
		d := descs[i]
		if int(d.ID) != i+1 {
			return nil, fmt.Errorf("call %q: id %d out of sequence: %w", d.Name, d.ID, core.ErrSchemaInvalid)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("call %q: duplicate name: %w", d.Name, core.ErrSchemaInvalid)
		}
		d.Params = append([]ParamDescriptor(nil), d.Params...)
		for j := range d.Params {
			p := &d.Params[j]
			p.wireType = ctypes.Lookup(p.Type)
			if p.wireType == nil || p.wireType.IsVoid() {
				return nil, fmt.Errorf("call %q param %q: type %d: %w", d.Name, p.Name, p.Type, core.ErrUnknownType)
			}
			if p.Dir == Out && !p.wireType.IsPointer {
				return nil, fmt.Errorf("call %q param %q: out param must be a pointer: %w", d.Name, p.Name, core.ErrSchemaInvalid)
			}
		}
		ret := d.Return
		if ret == ctype.Invalid {
			ret = ctype.Void
		}
		d.returnType = ctypes.Lookup(ret)
		if d.returnType == nil {
			return nil, fmt.Errorf("call %q return: type %d: %w", d.Name, d.Return, core.ErrUnknownType)
		}
		r.calls[d.ID] = &d
		r.byName[d.Name] = &d
	}
	return r, nil
}

// Ctypes returns the wire type registry the descriptors were resolved against.
func (r *Registry) Ctypes() *ctype.Registry {
	return r.ctypes
}

// Enums returns the enum name table.
func (r *Registry) Enums() *EnumTable {
	return r.enums
}

// Lookup returns the descriptor for id or nil when id is out of range.
func (r *Registry) Lookup(id ID) *Descriptor {
	if id == 0 || int(id) >= len(r.calls) {
		return nil
	}
	return r.calls[id]
}

// Get is Lookup with an ErrUnknownCall error on a miss.
func (r *Registry) Get(id ID) (*Descriptor, error) {
	d := r.Lookup(id)
	if d == nil {
		return nil, fmt.Errorf("call id %d (registry has %d): %w", id, r.Len(), core.ErrUnknownCall)
	}
	return d, nil
}

// ByName returns the descriptor with the given name, or nil.
func (r *Registry) ByName(name string) *Descriptor {
	return r.byName[name]
}

// Len returns the number of call kinds.
func (r *Registry) Len() int {
	return len(r.calls) - 1
}
