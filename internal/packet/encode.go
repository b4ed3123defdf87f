package packet

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/entrypoint"
)

// Encoder serializes call packets against a call registry.
type Encoder struct {
	calls *entrypoint.Registry
}

// NewEncoder creates an encoder bound to calls.
func NewEncoder(calls *entrypoint.Registry) *Encoder {
	return &Encoder{calls: calls}
}

// Encode serializes p. Slot widths come from the call descriptor, never from
// p.Params types. Header fields that describe layout (size, section sizes,
// slot count, rnd, CRC) are computed and written back into p.
func (e *Encoder) Encode(p *Packet) ([]byte, error) {
	desc, err := e.calls.Get(p.CallID)
	if err != nil {
		return nil, err
	}
	n := desc.ParamCount()
	if len(p.Params) != n {
		return nil, fmt.Errorf("%s: %d params given, descriptor has %d: %w", desc.Name, len(p.Params), n, core.ErrParamCount)
	}

	paramSize := 0
	for i := 0; i < n; i++ {
		paramSize += desc.SlotType(i).Size
	}

	// Client memory: validate against slot types before sizing anything.
	present := make([]int, n) // slot -> index into p.Memory, -1 when absent
	for i := range present {
		present[i] = -1
	}
	blobSize := 0
	for mi, m := range p.Memory {
		if m.Slot < 0 || m.Slot >= n {
			return nil, fmt.Errorf("%s: client memory for slot %d: %w", desc.Name, m.Slot, core.ErrMemoryLayout)
		}
		t := desc.SlotType(m.Slot)
		if !t.IsPointer {
			return nil, fmt.Errorf("%s: client memory for non-pointer %q: %w", desc.Name, desc.SlotName(m.Slot), core.ErrMemoryLayout)
		}
		if present[m.Slot] >= 0 {
			return nil, fmt.Errorf("%s: duplicate client memory for %q: %w", desc.Name, desc.SlotName(m.Slot), core.ErrMemoryLayout)
		}
		if es := e.calls.Ctypes().PointeeSize(t); es > 0 && len(m.Data)%es != 0 {
			return nil, fmt.Errorf("%s: %q carries %d bytes, not a multiple of %d: %w",
				desc.Name, desc.SlotName(m.Slot), len(m.Data), es, core.ErrMemoryLayout)
		}
		present[m.Slot] = mi
		blobSize += len(m.Data)
	}
	memSize := n*memDescSize + blobSize

	kv := p.KV.Marshal()

	total := HeaderSize + paramSize + memSize + len(kv)
	if total > int(^uint32(0)) {
		return nil, fmt.Errorf("%s: packet of %d bytes: %w", desc.Name, total, core.ErrBadSize)
	}

	rnd := uint16(rand.Intn(0xFFFF)) + 1

	h := p.Header
	h.Magic = CallMagic
	h.Size = uint32(total)
	h.CRC = 0
	h.Rnd = rnd
	h.InvRnd = ^rnd
	h.Type = TypeCall
	h.SlotCount = uint16(n)
	h.CallID = desc.ID
	h.ParamSize = uint32(paramSize)
	h.MemorySize = uint32(memSize)
	h.KVSize = uint32(len(kv))

	buf := make([]byte, HeaderSize, total)

	// Parameter section
	var slot [8]byte
	for i := 0; i < n; i++ {
		w := desc.SlotType(i).Size
		binary.LittleEndian.PutUint64(slot[:], p.Params[i].Value)
		buf = append(buf, slot[:w]...)
	}

	// Client-memory descriptors in slot order, blob in arrival order.
	offsets := make([]uint32, len(p.Memory))
	off := uint32(0)
	for mi, m := range p.Memory {
		offsets[mi] = off
		off += uint32(len(m.Data))
	}
	var d [memDescSize]byte
	for i := 0; i < n; i++ {
		clear(d[:])
		if mi := present[i]; mi >= 0 {
			m := p.Memory[mi]
			binary.LittleEndian.PutUint32(d[0:4], offsets[mi])
			binary.LittleEndian.PutUint32(d[4:8], uint32(len(m.Data)))
			binary.LittleEndian.PutUint16(d[8:10], uint16(desc.SlotType(i).Pointee))
			binary.LittleEndian.PutUint16(d[10:12], memFlagPresent)
		}
		buf = append(buf, d[:]...)
	}
	for _, m := range p.Memory {
		buf = append(buf, m.Data...)
	}

	// Key-value section
	buf = append(buf, kv...)

	putHeader(buf, &h)
	h.CRC = checksum(buf[crcOffset:])
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC)

	p.Header = h
	p.Desc = desc
	return buf, nil
}
