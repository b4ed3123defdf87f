package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"firestige.xyz/gltrace/internal/core"
)

// File-start packet layout (little-endian):
//
//	0   4   Magic 0xD1C71601
//	4   4   Size (48)
//	8   2   Format version
//	10  1   Pointer width in bytes
//	11  1   Reserved
//	12  16  Capture UUID (4 words)
//	28  8   Trailing archive offset (0 = none)
//	36  8   Trailing archive size
//	44  4   CRC32-C over bytes [8, 44)
const (
	FileStartSize = 48

	// FormatVersion is written by this package.
	FormatVersion = uint16(3)
	// MinCompatibleVersion is the oldest version Decode accepts.
	MinCompatibleVersion = uint16(2)
)

// FileStart opens every binary trace.
type FileStart struct {
	Version       uint16
	PointerWidth  uint8
	UUID          uuid.UUID
	ArchiveOffset uint64
	ArchiveSize   uint64
}

// NewFileStart returns a file-start packet for a fresh capture.
func NewFileStart(pointerWidth uint8) *FileStart {
	return &FileStart{
		Version:      FormatVersion,
		PointerWidth: pointerWidth,
		UUID:         uuid.New(),
	}
}

// HasArchive reports whether a trailing archive is present.
func (f *FileStart) HasArchive() bool {
	return f.ArchiveSize > 0
}

// Marshal encodes f.
func (f *FileStart) Marshal() []byte {
	b := make([]byte, FileStartSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], FileStartMagic)
	le.PutUint32(b[4:8], FileStartSize)
	le.PutUint16(b[8:10], f.Version)
	b[10] = f.PointerWidth
	copy(b[12:28], f.UUID[:])
	le.PutUint64(b[28:36], f.ArchiveOffset)
	le.PutUint64(b[36:44], f.ArchiveSize)
	le.PutUint32(b[44:48], checksum(b[8:44]))
	return b
}

// UnmarshalFileStart decodes and validates a file-start packet.
func UnmarshalFileStart(b []byte) (*FileStart, error) {
	if len(b) < FileStartSize {
		return nil, fmt.Errorf("file start of %d bytes: %w", len(b), core.ErrTruncated)
	}
	le := binary.LittleEndian
	if m := le.Uint32(b[0:4]); m != FileStartMagic {
		return nil, fmt.Errorf("file start magic 0x%08X: %w", m, core.ErrBadMagic)
	}
	if s := le.Uint32(b[4:8]); s != FileStartSize || len(b) != FileStartSize {
		return nil, fmt.Errorf("file start size %d, buffer %d: %w", s, len(b), core.ErrBadSize)
	}
	if sum := checksum(b[8:44]); sum != le.Uint32(b[44:48]) {
		return nil, fmt.Errorf("file start crc 0x%08X: %w", sum, core.ErrBadCRC)
	}
	f := &FileStart{
		Version:       le.Uint16(b[8:10]),
		PointerWidth:  b[10],
		ArchiveOffset: le.Uint64(b[28:36]),
		ArchiveSize:   le.Uint64(b[36:44]),
	}
	copy(f.UUID[:], b[12:28])
	if f.Version < MinCompatibleVersion {
		return nil, fmt.Errorf("trace version %d, need >= %d: %w", f.Version, MinCompatibleVersion, core.ErrVersion)
	}
	return f, nil
}
