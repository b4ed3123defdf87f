// Package packet implements the binary and JSON encodings of a captured call.
//
// Call packet layout (little-endian):
//
//	Offset  Size  Description
//	------  ----  -----------
//	0       4     Magic 0xD1C71602
//	4       4     Total packet size
//	8       4     CRC32-C over bytes [12, size)
//	12      2     inv_rnd (^rnd)
//	14      2     rnd (never 0)
//	16      1     Packet type (1 = call)
//	17      1     Flags
//	18      2     Parameter slot count (params + return)
//	20      4     Call id
//	24      8     Context handle
//	32      8     Thread id
//	40      8     Call counter
//	48      8     Packet-begin timestamp
//	56      8     Call-begin timestamp
//	64      8     Call-end timestamp
//	72      8     Packet-end timestamp
//	80      4     Backtrace hash index
//	84      4     Parameter section size
//	88      4     Client-memory section size
//	92      4     Key-value section size
//	96      …     Parameter slots, client-memory descriptors + blob, key-value map
//
// Each client-memory descriptor is 12 bytes:
//
//	0  4  Blob offset
//	4  4  Byte length
//	8  2  Pointee wire type
//	10 2  Flags (bit 0 = present)
package packet

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/entrypoint"
)

// ─── Constants ─────────────────────────────────────────────────────────────

const (
	// CallMagic starts every call packet.
	CallMagic = uint32(0xD1C71602)
	// FileStartMagic starts the file-start packet.
	FileStartMagic = uint32(0xD1C71601)

	// HeaderSize is the fixed call packet header length.
	HeaderSize = 96

	// crcOffset is where CRC coverage begins (the rnd token pair).
	crcOffset = 12

	memDescSize = 12

	memFlagPresent = uint16(1)
)

// Packet types.
const (
	TypeCall = uint8(1)
)

// Header flags.
const (
	FlagHasBacktrace = uint8(1 << iota)
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the CRC32-C used by packets and blob stores.
func checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// Checksum exposes the packet checksum for other formats that share it.
func Checksum(b []byte) uint32 {
	return checksum(b)
}

// ─── Header ────────────────────────────────────────────────────────────────

// Header is the fixed part of a call packet.
type Header struct {
	Magic     uint32
	Size      uint32
	CRC       uint32
	InvRnd    uint16
	Rnd       uint16
	Type      uint8
	Flags     uint8
	SlotCount uint16

	CallID      entrypoint.ID
	Context     uint64
	ThreadID    uint64
	CallCounter uint64

	PacketBegin uint64
	CallBegin   uint64
	CallEnd     uint64
	PacketEnd   uint64

	BacktraceHash uint32

	ParamSize  uint32
	MemorySize uint32
	KVSize     uint32
}

// putHeader writes h into b[:HeaderSize].
func putHeader(b []byte, h *Header) {
	le := binary.LittleEndian
	le.PutUint32(b[0:4], h.Magic)
	le.PutUint32(b[4:8], h.Size)
	le.PutUint32(b[8:12], h.CRC)
	le.PutUint16(b[12:14], h.InvRnd)
	le.PutUint16(b[14:16], h.Rnd)
	b[16] = h.Type
	b[17] = h.Flags
	le.PutUint16(b[18:20], h.SlotCount)
	le.PutUint32(b[20:24], uint32(h.CallID))
	le.PutUint64(b[24:32], h.Context)
	le.PutUint64(b[32:40], h.ThreadID)
	le.PutUint64(b[40:48], h.CallCounter)
	le.PutUint64(b[48:56], h.PacketBegin)
	le.PutUint64(b[56:64], h.CallBegin)
	le.PutUint64(b[64:72], h.CallEnd)
	le.PutUint64(b[72:80], h.PacketEnd)
	le.PutUint32(b[80:84], h.BacktraceHash)
	le.PutUint32(b[84:88], h.ParamSize)
	le.PutUint32(b[88:92], h.MemorySize)
	le.PutUint32(b[92:96], h.KVSize)
}

// readHeader parses b[:HeaderSize]. It does not validate anything.
func readHeader(b []byte) Header {
	le := binary.LittleEndian
	return Header{
		Magic:         le.Uint32(b[0:4]),
		Size:          le.Uint32(b[4:8]),
		CRC:           le.Uint32(b[8:12]),
		InvRnd:        le.Uint16(b[12:14]),
		Rnd:           le.Uint16(b[14:16]),
		Type:          b[16],
		Flags:         b[17],
		SlotCount:     le.Uint16(b[18:20]),
		CallID:        entrypoint.ID(le.Uint32(b[20:24])),
		Context:       le.Uint64(b[24:32]),
		ThreadID:      le.Uint64(b[32:40]),
		CallCounter:   le.Uint64(b[40:48]),
		PacketBegin:   le.Uint64(b[48:56]),
		CallBegin:     le.Uint64(b[56:64]),
		CallEnd:       le.Uint64(b[64:72]),
		PacketEnd:     le.Uint64(b[72:80]),
		BacktraceHash: le.Uint32(b[80:84]),
		ParamSize:     le.Uint32(b[84:88]),
		MemorySize:    le.Uint32(b[88:92]),
		KVSize:        le.Uint32(b[92:96]),
	}
}

// PeekSize reads the magic and total size from the first 8 bytes of a packet
// so stream readers know how much to read next.
func PeekSize(b []byte) (magic, size uint32, err error) {
	if len(b) < 8 {
		return 0, 0, fmt.Errorf("need 8 bytes, have %d: %w", len(b), core.ErrTruncated)
	}
	magic = binary.LittleEndian.Uint32(b[0:4])
	size = binary.LittleEndian.Uint32(b[4:8])
	if magic != CallMagic && magic != FileStartMagic {
		return magic, size, fmt.Errorf("magic 0x%08X: %w", magic, core.ErrBadMagic)
	}
	return magic, size, nil
}
