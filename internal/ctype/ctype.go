// Package ctype describes the primitive wire types a captured call can carry.
//
// A WireType tells the codec how many bytes a parameter slot occupies and how
// to interpret them (pointer, opaque handle, signed or float). The registry is
// built once and never mutated afterwards.
package ctype

import (
	"fmt"

	"firestige.xyz/gltrace/internal/core"
)

// ID identifies a wire type inside a Registry.
type ID uint16

// Invalid is never a valid wire type id.
const Invalid ID = 0

// WireType is an immutable description of one primitive type.
type WireType struct {
	ID        ID
	Name      string
	Size      int  // slot width in bytes, 1..8 (0 only for void)
	IsPointer bool // value is a client address
	Pointee   ID   // element type for pointers
	IsOpaque  bool // handle or untyped memory, contents not interpreted
	IsSigned  bool
	IsFloat   bool
}

// IsIntegral reports whether the type holds an integer value.
func (t *WireType) IsIntegral() bool {
	return !t.IsFloat && !t.IsPointer && !t.IsOpaque && t.Size > 0
}

// IsVoid reports whether the type has no storage.
func (t *WireType) IsVoid() bool {
	return t.Size == 0
}

func (t *WireType) String() string {
	return t.Name
}

// Registry is a read-only lookup table of wire types.
type Registry struct {
	types  []*WireType // indexed by ID
	byName map[string]*WireType
}

// NewRegistry builds a registry from types. IDs must be dense and start at 1.
func NewRegistry(types []WireType) (*Registry, error) {
	r := &Registry{
		types:  make([]*WireType, len(types)+1),
		byName: make(map[string]*WireType, len(types)),
	}
	for i := range types {
		t := types[i]
		if int(t.ID) != i+1 {
			return nil, fmt.Errorf("ctype %q: id %d out of sequence: %w", t.Name, t.ID, core.ErrUnknownType)
		}
		if t.Size < 0 || t.Size > 8 {
			return nil, fmt.Errorf("ctype %q: size %d not in 0..8: %w", t.Name, t.Size, core.ErrUnknownType)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("ctype %q: duplicate name: %w", t.Name, core.ErrUnknownType)
		}
		r.types[t.ID] = &t
		r.byName[t.Name] = &t
	}
	for _, t := range r.types[1:] {
		if t.IsPointer && r.Lookup(t.Pointee) == nil {
			return nil, fmt.Errorf("ctype %q: pointee %d missing: %w", t.Name, t.Pointee, core.ErrUnknownType)
		}
	}
	return r, nil
}

// Lookup returns the wire type with id, or nil when id is out of range.
func (r *Registry) Lookup(id ID) *WireType {
	if id == Invalid || int(id) >= len(r.types) {
		return nil
	}
	return r.types[id]
}

// ByName returns the wire type with the given name, or nil.
func (r *Registry) ByName(name string) *WireType {
	return r.byName[name]
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.types) - 1
}

// PointeeSize returns the element size of a pointer type. Opaque and void
// pointees report 0, meaning any byte length is acceptable.
func (r *Registry) PointeeSize(t *WireType) int {
	if !t.IsPointer {
		return 0
	}
	p := r.Lookup(t.Pointee)
	if p == nil || p.IsOpaque || p.IsVoid() {
		return 0
	}
	return p.Size
}
