package trace

import (
	"fmt"
	"io"
	"os"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/packet"
)

// Reader iterates the call packets of a binary trace.
type Reader struct {
	r     io.ReaderAt
	size  int64
	dec   *packet.Decoder
	start *packet.FileStart

	off int64
	// end of the packet stream: the archive offset, or the file size
	end int64
}

// NewReader validates the file start of the size bytes of r.
func NewReader(r io.ReaderAt, size int64, dec *packet.Decoder) (*Reader, error) {
	b := make([]byte, packet.FileStartSize)
	if _, err := r.ReadAt(b, 0); err != nil {
		return nil, fmt.Errorf("trace: read file start: %w: %w", core.ErrTruncated, err)
	}
	start, err := packet.UnmarshalFileStart(b)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	end := size
	if start.HasArchive() {
		if start.ArchiveOffset < packet.FileStartSize || start.ArchiveOffset+start.ArchiveSize > uint64(size) {
			return nil, fmt.Errorf("trace: archive [%d, +%d) outside file of %d bytes: %w",
				start.ArchiveOffset, start.ArchiveSize, size, core.ErrTruncated)
		}
		end = int64(start.ArchiveOffset)
	}
	return &Reader{r: r, size: size, dec: dec, start: start, off: packet.FileStartSize, end: end}, nil
}

func (r *Reader) FileStart() *packet.FileStart { return r.start }

// Offset is the file offset of the next packet.
func (r *Reader) Offset() int64 { return r.off }

// NextRaw returns the bytes of the next packet, or io.EOF. A framing error
// ends the stream: later calls return io.EOF.
func (r *Reader) NextRaw() ([]byte, error) {
	if r.off >= r.end {
		return nil, io.EOF
	}
	var hdr [8]byte
	if _, err := r.r.ReadAt(hdr[:], r.off); err != nil || r.end-r.off < int64(len(hdr)) {
		return nil, r.broken(fmt.Errorf("packet header: %w", core.ErrTruncated))
	}
	magic, size, err := packet.PeekSize(hdr[:])
	if err != nil {
		return nil, r.broken(err)
	}
	if magic != packet.CallMagic {
		return nil, r.broken(fmt.Errorf("magic 0x%08X inside stream: %w", magic, core.ErrBadMagic))
	}
	if size < packet.HeaderSize {
		return nil, r.broken(fmt.Errorf("packet size %d: %w", size, core.ErrBadSize))
	}
	if r.off+int64(size) > r.end {
		return nil, r.broken(fmt.Errorf("packet of %d bytes, %d left: %w", size, r.end-r.off, core.ErrTruncated))
	}
	b := make([]byte, size)
	if _, err := r.r.ReadAt(b, r.off); err != nil {
		return nil, r.broken(fmt.Errorf("%w: %w", core.ErrTruncated, err))
	}
	r.off += int64(size)
	return b, nil
}

func (r *Reader) broken(err error) error {
	at := r.off
	r.off = r.end
	return fmt.Errorf("trace: offset %d: %w", at, err)
}

// Next decodes the next packet. A packet that fails validation is skipped;
// its error is returned and the following call continues after it.
func (r *Reader) Next() (*packet.Packet, error) {
	b, err := r.NextRaw()
	if err != nil {
		return nil, err
	}
	p, err := r.dec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("trace: offset %d: %w", r.off-int64(len(b)), err)
	}
	return p, nil
}

// Archive opens the trailing archive.
func (r *Reader) Archive() (*blobstore.Archive, error) {
	if !r.start.HasArchive() {
		return nil, fmt.Errorf("trace has no archive: %w", core.ErrBlobNotFound)
	}
	off, n := int64(r.start.ArchiveOffset), int64(r.start.ArchiveSize)
	return blobstore.OpenArchive(io.NewSectionReader(r.r, off, n), n)
}

// Blobs returns the archive, or an empty store when the trace has none.
func (r *Reader) Blobs() (blobstore.Store, error) {
	if !r.start.HasArchive() {
		return blobstore.NewMemory(), nil
	}
	return r.Archive()
}

// File is a Reader over a file it owns.
type File struct {
	*Reader
	f *os.File
}

// Open opens a binary trace.
func Open(path string, dec *packet.Decoder) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: %w", err)
	}
	r, err := NewReader(f, st.Size(), dec)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Reader: r, f: f}, nil
}

func (f *File) Close() error { return f.f.Close() }
