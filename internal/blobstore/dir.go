package blobstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zstd"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/metrics"
)

// Blob file layout:
//
//	0  4  Magic "GLB1"
//	4  1  Codec (0 = raw, 1 = zstd)
//	5  4  CRC32-C of the uncompressed data
//	9  …  Payload
const (
	blobMagic      = "GLB1"
	blobHeaderSize = 9

	codecRaw  = byte(0)
	codecZstd = byte(1)

	blobExt = ".blob"
)

var (
	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Dir stores one file per blob under a directory. Files are written to a
// temp name and renamed into place, so readers never see partial content.
type Dir struct {
	dir      string
	compress bool

	mu    sync.Mutex // serializes Put for the same id
	cache *lru.Cache // id -> []byte, nil when disabled
}

// NewDir creates a directory store. cacheEntries bounds the read cache; 0
// disables it.
func NewDir(dir string, cacheEntries int, compress bool) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blob store: create directory %q: %w", dir, err)
	}
	d := &Dir{dir: dir, compress: compress}
	if cacheEntries > 0 {
		c, err := lru.New(cacheEntries)
		if err != nil {
			return nil, fmt.Errorf("blob store: cache: %w", err)
		}
		d.cache = c
	}
	return d, nil
}

func (d *Dir) path(id string) string {
	return filepath.Join(d.dir, id+blobExt)
}

func (d *Dir) Put(data []byte, hint string) (string, error) {
	id := MakeID(data, hint)
	final := d.path(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(final); err == nil {
		return id, nil
	}

	codec, payload := codecRaw, data
	if d.compress {
		codec, payload = codecZstd, zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
	}
	var hdr [blobHeaderSize]byte
	copy(hdr[0:4], blobMagic)
	hdr[4] = codec
	binary.LittleEndian.PutUint32(hdr[5:9], Checksum(data))

	tmpFile, err := os.CreateTemp(d.dir, "."+id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("blob store: create temp file for %q: %w", id, err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(hdr[:]); err == nil {
		_, err = tmpFile.Write(payload)
	}
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob store: write temp file for %q: %w", id, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob store: close temp file for %q: %w", id, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob store: rename temp -> %q: %w", final, err)
	}
	return id, nil
}

func (d *Dir) Get(id string) ([]byte, error) {
	if d.cache != nil {
		if v, ok := d.cache.Get(id); ok {
			metrics.BlobCacheTotal.WithLabelValues("hit").Inc()
			return v.([]byte), nil
		}
		metrics.BlobCacheTotal.WithLabelValues("miss").Inc()
	}

	raw, err := os.ReadFile(d.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", id, core.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("blob store: read %q: %w", id, err)
	}
	if len(raw) < blobHeaderSize || string(raw[0:4]) != blobMagic {
		return nil, fmt.Errorf("blob store: %q: %w", id, core.ErrBadMagic)
	}
	want := binary.LittleEndian.Uint32(raw[5:9])
	data := raw[blobHeaderSize:]
	switch raw[4] {
	case codecRaw:
	case codecZstd:
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("blob store: decompress %q: %w", id, err)
		}
	default:
		return nil, fmt.Errorf("blob store: %q codec %d: %w", id, raw[4], core.ErrBadMagic)
	}
	verify(id, data, want)

	if d.cache != nil {
		d.cache.Add(id, data)
	}
	return data, nil
}
