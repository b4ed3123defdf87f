package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/replay"
	"firestige.xyz/gltrace/internal/trace"
)

var (
	packBlobDir      string
	packFuncs        []string
	packContext      uint64
	packPointerWidth uint8
)

var packCmd = &cobra.Command{
	Use:   "pack <jsonl> <trace>",
	Short: "Convert JSON lines back to a binary trace",
	Long: `
Encode JSON call documents into a binary trace. Blobs referenced by id are
read from the blob directory; blobs named by embedded snapshot commands are
carried into the trace archive.

Examples:
  gltrace pack app.jsonl app.trace --blob-dir ./blobs
  gltrace pack app.jsonl ctx2.trace --context 2   # keep one context
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		calls, err := loadRegistry(c)
		if err != nil {
			return err
		}
		blobs, err := openBlobDir(c, packBlobDir)
		if err != nil {
			return err
		}
		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		var opts []trace.JSONOption
		opts = append(opts, trace.WithFuncs(packFuncs...))
		if cmd.Flags().Changed("context") {
			opts = append(opts, trace.WithContext(packContext))
		}
		r := trace.NewJSONReader(in, packet.NewProjector(calls, blobs, c.Codec.BlobThreshold), opts...)

		out, err := trace.Create(args[1], calls, packet.NewFileStart(packPointerWidth))
		if err != nil {
			return err
		}
		defer out.Close()
		n, err := runPack(r, out.Writer, blobs)
		if err != nil {
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s written: %d calls\n", args[1], n)
		return nil
	},
}

func init() {
	packCmd.Flags().StringVar(&packBlobDir, "blob-dir", "", "blob directory (defaults to blobs.dir)")
	packCmd.Flags().StringSliceVar(&packFuncs, "funcs", nil, "only pack these calls")
	packCmd.Flags().Uint64Var(&packContext, "context", 0, "only pack calls recorded on this context")
	packCmd.Flags().Uint8Var(&packPointerWidth, "pointer-width", 8, "pointer width recorded in the file start")
}

// runPack encodes every document of r into w. The caller closes w.
func runPack(r *trace.JSONReader, w *trace.Writer, blobs packet.BlobStore) (int, error) {
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return w.Count(), nil
		}
		if err != nil {
			return w.Count(), err
		}
		if err := archiveCommandBlob(p, blobs, w.Blobs()); err != nil {
			log.GetLogger().WithError(err).WithField("call_counter", p.CallCounter).
				Warn("snapshot blob not carried into the archive")
		}
		if err := w.Write(p); err != nil {
			return w.Count(), err
		}
	}
}

// archiveCommandBlob copies the blob an internal command names into the
// trace archive.
func archiveCommandBlob(p *packet.Packet, from packet.BlobStore, to blobstore.Store) error {
	if p.Desc == nil || p.Desc.Action != entrypoint.ActionInternal {
		return nil
	}
	v, ok := p.KV.Get(replay.KeyBlobID)
	if !ok {
		return nil
	}
	if from == nil {
		return fmt.Errorf("blob %q: no blob directory", v.AsString())
	}
	id := v.AsString()
	data, err := from.Get(id)
	if err != nil {
		return err
	}
	_, err = to.Put(data, blobstore.HintOf(id))
	return err
}
