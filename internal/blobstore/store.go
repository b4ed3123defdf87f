// Package blobstore implements the content-addressed stores large client
// memory blobs are externalized to.
//
// A blob is discoverable under its id only after its write completes, and an
// id is never rewritten with different content. Every implementation is safe
// for concurrent use.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
)

// Store is the put/get contract shared by all implementations.
type Store interface {
	// Put stores data and returns its id. Putting identical content with the
	// same hint is a no-op returning the same id.
	Put(data []byte, hint string) (string, error)
	// Get returns the blob stored under id. A checksum mismatch is logged and
	// the data still returned.
	Get(id string) ([]byte, error)
}

var _ packet.BlobStore = Store(nil)

// idHashLen is the number of hex digits of the sha256 kept in an id.
const idHashLen = 32

// MakeID returns the content address of data: "<hint>_<sha256 prefix>".
func MakeID(data []byte, hint string) string {
	sum := sha256.Sum256(data)
	return sanitize(hint) + "_" + hex.EncodeToString(sum[:])[:idHashLen]
}

// HintOf returns the hint part of an id made by MakeID.
func HintOf(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}

// Checksum is the CRC32-C stored alongside every blob.
func Checksum(data []byte) uint32 {
	return packet.Checksum(data)
}

func sanitize(hint string) string {
	if hint == "" {
		return "blob"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, hint)
}

// verify logs a warning when data does not match the recorded checksum.
func verify(id string, data []byte, want uint32) {
	if got := Checksum(data); got != want {
		log.GetLogger().WithField("blob_id", id).
			Warnf("blob checksum 0x%08X, recorded 0x%08X", got, want)
	}
}
