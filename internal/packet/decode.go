package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/metrics"
)

// Decoder parses call packets. It keeps no per-packet state.
type Decoder struct {
	calls     *entrypoint.Registry
	verifyCRC bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithCRC toggles full CRC validation. It is on by default.
func WithCRC(verify bool) DecoderOption {
	return func(d *Decoder) { d.verifyCRC = verify }
}

// NewDecoder creates a decoder bound to calls.
func NewDecoder(calls *entrypoint.Registry, opts ...DecoderOption) *Decoder {
	d := &Decoder{calls: calls, verifyCRC: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the call registry the decoder resolves against.
func (d *Decoder) Registry() *entrypoint.Registry {
	return d.calls
}

// Decode parses one complete packet. Nothing is interpreted past the first
// failing check.
func (d *Decoder) Decode(buf []byte) (*Packet, error) {
	p, err := d.decode(buf)
	if err != nil {
		metrics.PacketsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	metrics.PacketsDecodedTotal.Inc()
	return p, nil
}

func (d *Decoder) decode(buf []byte) (*Packet, error) {
	// Cheap header sanity first.
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("packet of %d bytes, header needs %d: %w", len(buf), HeaderSize, core.ErrTruncated)
	}
	h := readHeader(buf)
	if h.Magic != CallMagic {
		return nil, fmt.Errorf("magic 0x%08X: %w", h.Magic, core.ErrBadMagic)
	}
	if int(h.Size) != len(buf) {
		return nil, fmt.Errorf("header size %d, buffer %d: %w", h.Size, len(buf), core.ErrBadSize)
	}
	if h.Rnd == 0 || h.InvRnd != ^h.Rnd {
		return nil, fmt.Errorf("rnd 0x%04X inv 0x%04X: %w", h.Rnd, h.InvRnd, core.ErrBadRnd)
	}
	if h.Type != TypeCall {
		return nil, fmt.Errorf("packet type %d: %w", h.Type, core.ErrBadMagic)
	}
	sections := uint64(HeaderSize) + uint64(h.ParamSize) + uint64(h.MemorySize) + uint64(h.KVSize)
	if sections > uint64(h.Size) {
		return nil, fmt.Errorf("sections need %d bytes, packet has %d: %w", sections, h.Size, core.ErrTruncated)
	}
	if sections < uint64(h.Size) {
		return nil, fmt.Errorf("%d bytes after last section: %w", uint64(h.Size)-sections, core.ErrTrailingBytes)
	}

	// Expensive integrity check.
	if d.verifyCRC {
		if sum := checksum(buf[crcOffset:]); sum != h.CRC {
			return nil, fmt.Errorf("crc 0x%08X, computed 0x%08X: %w", h.CRC, sum, core.ErrBadCRC)
		}
	}

	desc, err := d.calls.Get(h.CallID)
	if err != nil {
		return nil, err
	}
	n := desc.ParamCount()
	if int(h.SlotCount) != n {
		return nil, fmt.Errorf("%s: packet declares %d slots, descriptor has %d: %w", desc.Name, h.SlotCount, n, core.ErrParamCount)
	}

	p := &Packet{Header: h, Desc: desc, Params: make([]Param, n)}

	// Parameter section: exact widths from the descriptor.
	section := buf[HeaderSize : HeaderSize+int(h.ParamSize)]
	var slot [8]byte
	for i := 0; i < n; i++ {
		t := desc.SlotType(i)
		if len(section) < t.Size {
			return nil, fmt.Errorf("%s: param %q: %w", desc.Name, desc.SlotName(i), core.ErrParamCount)
		}
		clear(slot[:])
		copy(slot[:], section[:t.Size])
		p.Params[i] = Param{Type: t, Value: binary.LittleEndian.Uint64(slot[:])}
		section = section[t.Size:]
	}
	if len(section) != 0 {
		return nil, fmt.Errorf("%s: %d extra parameter bytes: %w", desc.Name, len(section), core.ErrParamCount)
	}

	// Client-memory section: descriptor array sized by the slot count.
	memStart := HeaderSize + int(h.ParamSize)
	mem := buf[memStart : memStart+int(h.MemorySize)]
	if len(mem) < n*memDescSize {
		return nil, fmt.Errorf("%s: client memory section of %d bytes: %w", desc.Name, len(mem), core.ErrTruncated)
	}
	blob := mem[n*memDescSize:]
	if err := d.readMemory(p, mem[:n*memDescSize], blob); err != nil {
		return nil, err
	}

	// Key-value section.
	if h.KVSize > 0 {
		kvStart := memStart + int(h.MemorySize)
		kv, err := UnmarshalKeyValueMap(buf[kvStart : kvStart+int(h.KVSize)])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", desc.Name, err)
		}
		p.KV = kv
	}
	return p, nil
}

func (d *Decoder) readMemory(p *Packet, descs, blob []byte) error {
	desc := p.Desc
	type ref struct {
		slot      int
		off, size uint32
		pointee   ctype.ID
	}
	var refs []ref
	used := uint64(0)
	for i := 0; i < len(p.Params); i++ {
		md := descs[i*memDescSize : (i+1)*memDescSize]
		flags := binary.LittleEndian.Uint16(md[10:12])
		if flags&memFlagPresent == 0 {
			continue
		}
		r := ref{
			slot:    i,
			off:     binary.LittleEndian.Uint32(md[0:4]),
			size:    binary.LittleEndian.Uint32(md[4:8]),
			pointee: ctype.ID(binary.LittleEndian.Uint16(md[8:10])),
		}
		t := desc.SlotType(i)
		if !t.IsPointer {
			return fmt.Errorf("%s: client memory on non-pointer %q: %w", desc.Name, desc.SlotName(i), core.ErrMemoryLayout)
		}
		if r.pointee != t.Pointee {
			return fmt.Errorf("%s: %q pointee %d, descriptor says %d: %w", desc.Name, desc.SlotName(i), r.pointee, t.Pointee, core.ErrMemoryLayout)
		}
		if uint64(r.off)+uint64(r.size) > uint64(len(blob)) {
			return fmt.Errorf("%s: %q range [%d,+%d) outside %d-byte blob: %w",
				desc.Name, desc.SlotName(i), r.off, r.size, len(blob), core.ErrMemoryLayout)
		}
		if es := d.calls.Ctypes().PointeeSize(t); es > 0 && int(r.size)%es != 0 {
			return fmt.Errorf("%s: %q carries %d bytes, not a multiple of %d: %w",
				desc.Name, desc.SlotName(i), r.size, es, core.ErrMemoryLayout)
		}
		used += uint64(r.size)
		refs = append(refs, r)
	}
	if used != uint64(len(blob)) {
		return fmt.Errorf("%s: blob has %d bytes, descriptors account for %d: %w", desc.Name, len(blob), used, core.ErrTrailingBytes)
	}

	// Blob ranges must tile the blob in arrival order.
	sort.SliceStable(refs, func(a, b int) bool { return refs[a].off < refs[b].off })
	next := uint32(0)
	for _, r := range refs {
		if r.off != next {
			return fmt.Errorf("%s: %q starts at %d, expected %d: %w", desc.Name, desc.SlotName(r.slot), r.off, next, core.ErrMemoryLayout)
		}
		next += r.size
	}
	p.Memory = make([]ClientMemory, 0, len(refs))
	for _, r := range refs {
		data := make([]byte, r.size)
		copy(data, blob[r.off:r.off+r.size])
		p.Memory = append(p.Memory, ClientMemory{Slot: r.slot, Pointee: r.pointee, Data: data})
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrBadMagic):
		return "magic"
	case errors.Is(err, core.ErrBadSize), errors.Is(err, core.ErrTruncated), errors.Is(err, core.ErrTrailingBytes):
		return "size"
	case errors.Is(err, core.ErrBadRnd):
		return "rnd"
	case errors.Is(err, core.ErrBadCRC):
		return "crc"
	case errors.Is(err, core.ErrUnknownCall):
		return "call_id"
	case errors.Is(err, core.ErrParamCount):
		return "param_count"
	default:
		return "layout"
	}
}
