// Package trace reads and writes whole trace files: the binary stream of
// packets with its trailing blob archive, and the JSON-lines projection.
package trace

import (
	"fmt"
	"io"
	"os"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/packet"
)

// Writer writes a binary trace. The file-start packet is written first and
// patched on Close once the trailing archive is placed.
type Writer struct {
	w      io.WriteSeeker
	enc    *packet.Encoder
	start  *packet.FileStart
	blobs  *blobstore.ArchiveWriter
	off    int64
	count  int
	closed bool
}

// NewWriter writes start to w and returns a writer positioned after it.
func NewWriter(w io.WriteSeeker, calls *entrypoint.Registry, start *packet.FileStart) (*Writer, error) {
	b := start.Marshal()
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("trace: write file start: %w", err)
	}
	return &Writer{
		w:     w,
		enc:   packet.NewEncoder(calls),
		start: start,
		blobs: blobstore.NewArchiveWriter(),
		off:   int64(len(b)),
	}, nil
}

// Blobs is the store whose content becomes the trailing archive.
func (w *Writer) Blobs() *blobstore.ArchiveWriter { return w.blobs }

// Count returns the number of packets written.
func (w *Writer) Count() int { return w.count }

// Write encodes and appends p. Layout header fields of p are rewritten.
func (w *Writer) Write(p *packet.Packet) error {
	b, err := w.enc.Encode(p)
	if err != nil {
		return fmt.Errorf("trace: encode %s: %w", p.Name(), err)
	}
	return w.WriteRaw(b)
}

// WriteRaw appends an already encoded call packet.
func (w *Writer) WriteRaw(b []byte) error {
	if _, _, err := packet.PeekSize(b); err != nil {
		return fmt.Errorf("trace: raw packet: %w", err)
	}
	n, err := w.w.Write(b)
	w.off += int64(n)
	if err != nil {
		return fmt.Errorf("trace: write packet %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Close appends the archive when it holds blobs and patches the file start.
// It does not close the underlying writer. Later calls do nothing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.blobs.Len() == 0 {
		return nil
	}
	n, err := w.blobs.WriteTo(w.w)
	if err != nil {
		return fmt.Errorf("trace: write archive: %w", err)
	}
	w.start.ArchiveOffset, w.start.ArchiveSize = uint64(w.off), uint64(n)
	w.off += n

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("trace: seek file start: %w", err)
	}
	if _, err := w.w.Write(w.start.Marshal()); err != nil {
		return fmt.Errorf("trace: patch file start: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("trace: seek end: %w", err)
	}
	return nil
}

// FileWriter is a Writer over a file it owns.
type FileWriter struct {
	*Writer
	f *os.File
}

// Create truncates or creates path and writes the file start.
func Create(path string, calls *entrypoint.Registry, start *packet.FileStart) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	w, err := NewWriter(f, calls, start)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileWriter{Writer: w, f: f}, nil
}

// Close is safe to call more than once.
func (fw *FileWriter) Close() error {
	if fw.f == nil {
		return nil
	}
	err := fw.Writer.Close()
	if cerr := fw.f.Close(); err == nil {
		err = cerr
	}
	fw.f = nil
	return err
}
