package blobstore

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/log"
)

const crcCommentPrefix = "crc32c="

// ArchiveWriter collects blobs in memory and writes them as a zip archive.
// Traces append it after their last packet.
type ArchiveWriter struct {
	*Memory
}

func NewArchiveWriter() *ArchiveWriter {
	return &ArchiveWriter{Memory: NewMemory()}
}

// WriteTo writes every blob as one deflated zip entry named by its id.
func (a *ArchiveWriter) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, id := range a.IDs() {
		a.mu.RLock()
		e := a.entries[id]
		a.mu.RUnlock()

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:    id,
			Method:  zip.Deflate,
			Comment: fmt.Sprintf("%s%08x", crcCommentPrefix, e.crc),
		})
		if err != nil {
			return cw.n, fmt.Errorf("archive: create entry %q: %w", id, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return cw.n, fmt.Errorf("archive: write entry %q: %w", id, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("archive: close: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Archive is a read-only view of a zip archive written by ArchiveWriter.
type Archive struct {
	files map[string]*zip.File
	ids   []string
}

// OpenArchive opens the size bytes of r as an archive.
func OpenArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	a := &Archive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.files[f.Name] = f
		a.ids = append(a.ids, f.Name)
	}
	return a, nil
}

// IDs returns the archived blob ids in archive order.
func (a *Archive) IDs() []string {
	return append([]string(nil), a.ids...)
}

func (a *Archive) Put(data []byte, hint string) (string, error) {
	return "", fmt.Errorf("archive put %q: %w", hint, core.ErrReadOnly)
}

// Get reads one entry. Both the zip CRC and the stored CRC32-C are checked;
// a mismatch is logged and the data returned anyway.
func (a *Archive) Get(id string) ([]byte, error) {
	f, ok := a.files[id]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", id, core.ErrBlobNotFound)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: open entry %q: %w", id, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if errors.Is(err, zip.ErrChecksum) {
		log.GetLogger().WithField("blob_id", id).Warn("archive entry failed zip checksum")
	} else if err != nil {
		return nil, fmt.Errorf("archive: read entry %q: %w", id, err)
	}

	if c, ok := strings.CutPrefix(f.Comment, crcCommentPrefix); ok {
		if want, err := strconv.ParseUint(c, 16, 32); err == nil {
			verify(id, data, uint32(want))
		}
	}
	return data, nil
}
