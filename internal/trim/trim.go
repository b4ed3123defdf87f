// Package trim cuts a frame range out of a trace. The state the range depends
// on is replayed, captured as a snapshot and embedded at the head of the new
// trace, so the result replays on its own.
package trim

import (
	"errors"
	"fmt"
	"io"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/replay"
	"firestige.xyz/gltrace/internal/snapshot"
	"firestige.xyz/gltrace/internal/trace"
)

// Options configure WriteTrimFile.
type Options struct {
	Calls *entrypoint.Registry
	// Driver replays the skipped prefix. nil uses a null driver.
	Driver    driver.Driver
	VerifyCRC bool
	// Replay carries engine tuning; Blobs is replaced by the source archive.
	Replay replay.Options
}

// Result describes a written trim file.
type Result struct {
	Replayed   uint64
	Copied     uint64
	SnapshotID string
	Snapshot   *snapshot.Snapshot
}

// WriteTrimFile replays packets [0, start) of src, captures the resulting
// state and writes dst: the file start, one snapshot command packet, then
// packets [start, start+length) copied verbatim. length 0 copies to the end.
func WriteTrimFile(src, dst string, start, length uint64, opts Options) (*Result, error) {
	if opts.Calls == nil {
		return nil, errors.New("trim: no call registry")
	}
	dec := packet.NewDecoder(opts.Calls, packet.WithCRC(opts.VerifyCRC))
	in, err := trace.Open(src, dec)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	srcBlobs, err := in.Blobs()
	if err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}
	drv := opts.Driver
	if drv == nil {
		drv = driver.NewNull()
	}
	ropts := opts.Replay
	ropts.Blobs = srcBlobs
	ropts.Benchmark = true
	e := replay.NewEngine(opts.Calls, drv, nil, ropts)

	l := log.GetLogger().WithFields(map[string]interface{}{
		"src":   src,
		"start": start,
	})
	res := &Result{}
	for res.Replayed < start {
		p, err := in.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("trim: trace ends after %d packets, before %d", res.Replayed, start)
		}
		res.Replayed++
		if err != nil {
			l.WithError(err).Warn("skipping unreadable packet")
			continue
		}
		st, err := e.ProcessNextPacket(p)
		for st == replay.StatusResizeWindowPending {
			st, err = e.ProcessNextPacket(p)
		}
		if st.Failed() {
			return nil, fmt.Errorf("trim: replaying packet %d: %w", res.Replayed-1, err)
		}
	}

	if st, err := e.ApplyPendingSnapshot(); st.Failed() {
		return nil, fmt.Errorf("trim: %w", err)
	}
	snap := e.CaptureSnapshot()
	res.Snapshot = snap
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}

	out, err := trace.Create(dst, opts.Calls, packet.NewFileStart(in.FileStart().PointerWidth))
	if err != nil {
		return nil, err
	}
	defer out.Close()

	if res.SnapshotID, err = out.Blobs().Put(data, "snapshot"); err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}
	cmd, err := SnapshotCommand(opts.Calls, res.SnapshotID)
	if err != nil {
		return nil, err
	}
	if err := out.Write(cmd); err != nil {
		return nil, err
	}

	for length == 0 || res.Copied < length {
		b, err := in.NextRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("trim: %w", err)
		}
		if err := copyBlobs(dec, b, srcBlobs, out.Blobs()); err != nil {
			l.WithError(err).Warn("packet references a blob that is not in the source archive")
		}
		if err := out.WriteRaw(b); err != nil {
			return nil, err
		}
		res.Copied++
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	l.WithFields(map[string]interface{}{
		"dst":      dst,
		"replayed": res.Replayed,
		"copied":   res.Copied,
	}).Info("trim file written")
	return res, nil
}

// SnapshotCommand builds the internal command packet that makes a replayer
// apply the snapshot stored under blobID. It carries no context.
func SnapshotCommand(calls *entrypoint.Registry, blobID string) (*packet.Packet, error) {
	var d *entrypoint.Descriptor
	for id := 1; id <= calls.Len(); id++ {
		if dd := calls.Lookup(entrypoint.ID(id)); dd != nil && dd.Action == entrypoint.ActionInternal {
			d = dd
			break
		}
	}
	if d == nil {
		return nil, fmt.Errorf("trim: registry has no internal command call: %w", core.ErrUnknownCall)
	}
	p := packet.NewPacket(d)
	p.KVMap().Set(replay.KeyCommand, packet.String(replay.CommandStateSnapshot))
	p.KVMap().Set(replay.KeyBlobID, packet.String(blobID))
	return p, nil
}

// copyBlobs carries blobs referenced by an embedded snapshot command over to
// the new archive.
func copyBlobs(dec *packet.Decoder, b []byte, from blobstore.Store, to blobstore.Store) error {
	p, err := dec.Decode(b)
	if err != nil {
		// copied as is; the replayer reports it
		return nil
	}
	v, ok := p.KV.Get(replay.KeyBlobID)
	if !ok {
		return nil
	}
	want := v.AsString()
	data, err := from.Get(want)
	if err != nil {
		return err
	}
	id, err := to.Put(data, blobstore.HintOf(want))
	if err != nil {
		return err
	}
	if id != want {
		return fmt.Errorf("blob %q stored as %q", want, id)
	}
	return nil
}
