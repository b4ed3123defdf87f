// Package core defines sentinel errors shared by the codec and the replayer.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w") and match
// with errors.Is.
var (
	// Stream integrity errors
	ErrBadMagic      = errors.New("gltrace: bad packet magic")
	ErrBadSize       = errors.New("gltrace: packet size mismatch")
	ErrBadCRC        = errors.New("gltrace: packet crc mismatch")
	ErrBadRnd        = errors.New("gltrace: packet rnd check failed")
	ErrTruncated     = errors.New("gltrace: truncated packet")
	ErrTrailingBytes = errors.New("gltrace: unaccounted bytes in packet")
	ErrVersion       = errors.New("gltrace: incompatible trace version")

	// Registry consistency errors
	ErrUnknownCall   = errors.New("gltrace: unknown call id")
	ErrUnknownType   = errors.New("gltrace: unknown wire type")
	ErrParamCount    = errors.New("gltrace: parameter count mismatch")
	ErrMemoryLayout  = errors.New("gltrace: invalid client memory layout")
	ErrSchemaInvalid = errors.New("gltrace: invalid call schema")
	ErrBadDocument   = errors.New("gltrace: malformed call document")

	// Blob store errors
	ErrBlobNotFound = errors.New("gltrace: blob not found")
	ErrReadOnly     = errors.New("gltrace: blob store is read-only")

	// Replay errors
	ErrSnapshotPending = errors.New("gltrace: snapshot application already pending")
	ErrContextCreate   = errors.New("gltrace: context creation failed")
	ErrNoContext       = errors.New("gltrace: no current context")

	// Configuration errors
	ErrConfigInvalid = errors.New("gltrace: invalid configuration")
)
