package packet

import (
	"math"

	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/entrypoint"
)

// Param is one decoded parameter slot. Value holds the raw slot bits,
// zero-extended to 64 bits.
type Param struct {
	Type  *ctype.WireType
	Value uint64
}

// Size returns the slot width in bytes.
func (p Param) Size() int {
	if p.Type == nil {
		return 0
	}
	return p.Type.Size
}

// Int returns the value sign-extended from the slot width when the type is
// signed.
func (p Param) Int() int64 {
	if p.Type == nil || !p.Type.IsSigned || p.Type.Size >= 8 || p.Type.Size == 0 {
		return int64(p.Value)
	}
	shift := uint(64 - 8*p.Type.Size)
	return int64(p.Value<<shift) >> shift
}

// Float returns the value interpreted as an IEEE float of the slot width.
func (p Param) Float() float64 {
	if p.Size() == 4 {
		return float64(math.Float32frombits(uint32(p.Value)))
	}
	return math.Float64frombits(p.Value)
}

// ClientMemory is out-of-band data referenced by a pointer slot.
type ClientMemory struct {
	Slot    int
	Pointee ctype.ID
	Data    []byte
}

// Packet is one captured call.
type Packet struct {
	Header

	// Desc is resolved from CallID by the decoder, or by NewPacket.
	Desc   *entrypoint.Descriptor
	Params []Param
	// Memory lists present client-memory ranges in blob order.
	Memory []ClientMemory
	KV     *KeyValueMap
}

// NewPacket builds a call packet for desc with the given slot values. Values
// are truncated to their slot widths.
func NewPacket(desc *entrypoint.Descriptor, values ...uint64) *Packet {
	p := &Packet{
		Header: Header{
			Magic:  CallMagic,
			Type:   TypeCall,
			CallID: desc.ID,
		},
		Desc:   desc,
		Params: make([]Param, desc.ParamCount()),
	}
	for i := range p.Params {
		p.Params[i].Type = desc.SlotType(i)
		if i < len(values) {
			p.Params[i].Value = truncate(values[i], p.Params[i].Size())
		}
	}
	return p
}

// Name returns the call name, or "" when the descriptor is unresolved.
func (p *Packet) Name() string {
	if p.Desc == nil {
		return ""
	}
	return p.Desc.Name
}

// Value returns the raw value of slot i.
func (p *Packet) Value(i int) uint64 {
	return p.Params[i].Value
}

// SetValue overwrites slot i, truncated to its width.
func (p *Packet) SetValue(i int, v uint64) {
	p.Params[i].Value = truncate(v, p.Params[i].Size())
}

// Values returns a copy of all slot values.
func (p *Packet) Values() []uint64 {
	out := make([]uint64, len(p.Params))
	for i := range p.Params {
		out[i] = p.Params[i].Value
	}
	return out
}

// HasReturn reports whether the last slot is a return value.
func (p *Packet) HasReturn() bool {
	return p.Desc != nil && p.Desc.HasReturn()
}

// Return returns the captured return value.
func (p *Packet) Return() uint64 {
	if !p.HasReturn() {
		return 0
	}
	return p.Params[len(p.Params)-1].Value
}

// MemoryFor returns the client memory attached to slot i.
func (p *Packet) MemoryFor(slot int) ([]byte, bool) {
	for i := range p.Memory {
		if p.Memory[i].Slot == slot {
			return p.Memory[i].Data, true
		}
	}
	return nil, false
}

// SetMemory attaches data to slot, replacing previous content.
func (p *Packet) SetMemory(slot int, data []byte) {
	var pointee ctype.ID
	if t := p.Desc.SlotType(slot); t != nil {
		pointee = t.Pointee
	}
	for i := range p.Memory {
		if p.Memory[i].Slot == slot {
			p.Memory[i].Data = data
			p.Memory[i].Pointee = pointee
			return
		}
	}
	p.Memory = append(p.Memory, ClientMemory{Slot: slot, Pointee: pointee, Data: data})
}

// KVMap returns the key-value map, allocating it on first use.
func (p *Packet) KVMap() *KeyValueMap {
	if p.KV == nil {
		p.KV = NewKeyValueMap()
	}
	return p.KV
}

// Clone returns a deep copy of p.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Params = append([]Param(nil), p.Params...)
	c.Memory = make([]ClientMemory, len(p.Memory))
	for i, m := range p.Memory {
		c.Memory[i] = ClientMemory{Slot: m.Slot, Pointee: m.Pointee, Data: append([]byte(nil), m.Data...)}
	}
	if p.KV != nil {
		c.KV = p.KV.Clone()
	}
	return &c
}

func truncate(v uint64, size int) uint64 {
	if size <= 0 || size >= 8 {
		return v
	}
	return v & (1<<(8*uint(size)) - 1)
}
