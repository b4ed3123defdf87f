package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
)

const snapExt = ".snap"

// FileStore persists snapshots as one file per key under a directory.
// Writes use temp-file + atomic rename.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("snapshot store: create directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Save atomically writes s under key, overwriting any previous file.
func (fs *FileStore) Save(key uint64, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	name := strconv.FormatUint(key, 10)
	tmpFile, err := os.CreateTemp(fs.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot store: create temp file for %d: %w", key, err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: write temp file for %d: %w", key, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: close temp file for %d: %w", key, err)
	}

	final := fs.path(key)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot store: rename temp -> %q: %w", final, err)
	}

	metrics.SnapshotsTotal.WithLabelValues("save").Inc()
	log.GetLogger().WithField("key", key).Debug("snapshot persisted")
	return nil
}

// Load reads the snapshot stored under key. The error satisfies
// errors.Is(err, os.ErrNotExist) when there is none.
func (fs *FileStore) Load(key uint64) (*Snapshot, error) {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("snapshot store: %d not found: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("snapshot store: read %d: %w", key, err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %d: %w", key, err)
	}
	metrics.SnapshotsTotal.WithLabelValues("load").Inc()
	return s, nil
}

// Delete removes the file for key. Missing files are not an error.
func (fs *FileStore) Delete(key uint64) error {
	err := os.Remove(fs.path(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot store: delete %d: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys in ascending order. Temp files and foreign
// names are ignored.
func (fs *FileStore) Keys() ([]uint64, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot store: read directory %q: %w", fs.dir, err)
	}

	var keys []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapExt) {
			continue
		}
		key, err := strconv.ParseUint(strings.TrimSuffix(name, snapExt), 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// LoadInto reads every stored snapshot into st. Unreadable files are logged
// and skipped.
func (fs *FileStore) LoadInto(st *Store) error {
	keys, err := fs.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		s, err := fs.Load(key)
		if err != nil {
			log.GetLogger().WithError(err).
				WithField("file", fs.path(key)).
				Warn("snapshot store: skipping unreadable file")
			continue
		}
		st.Put(key, s)
	}
	return nil
}

func (fs *FileStore) path(key uint64) string {
	return filepath.Join(fs.dir, strconv.FormatUint(key, 10)+snapExt)
}
