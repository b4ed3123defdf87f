package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/blobstore"
	"firestige.xyz/gltrace/internal/config"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/trace"
)

var (
	dumpOutput  string
	dumpBlobDir string
	dumpFuncs   []string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <trace>",
	Short: "Convert a binary trace to JSON lines",
	Long: `
Write one JSON document per call. With a blob directory, large client memory
and the trace's archived blobs are stored there and referenced by id.

Examples:
  gltrace dump app.trace                            # print to stdout
  gltrace dump app.trace -o app.jsonl --blob-dir ./blobs
  gltrace dump app.trace --funcs glDrawArrays,glClear
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		calls, err := loadRegistry(c)
		if err != nil {
			return err
		}
		blobs, err := openBlobDir(c, dumpBlobDir)
		if err != nil {
			return err
		}
		f, err := trace.Open(args[0], newDecoder(c, calls))
		if err != nil {
			return err
		}
		defer f.Close()

		out := cmd.OutOrStdout()
		if dumpOutput != "" && dumpOutput != "-" {
			of, err := os.Create(dumpOutput)
			if err != nil {
				return err
			}
			defer of.Close()
			out = of
		}
		pr := packet.NewProjector(calls, blobs, c.Codec.BlobThreshold)
		n, err := runDump(f.Reader, pr, blobs, dumpFuncs, out)
		if err != nil {
			return err
		}
		log.GetLogger().WithFields(map[string]interface{}{
			"trace": args[0],
			"calls": n,
		}).Info("trace dumped")
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "output file (default stdout)")
	dumpCmd.Flags().StringVar(&dumpBlobDir, "blob-dir", "", "blob directory (defaults to blobs.dir)")
	dumpCmd.Flags().StringSliceVar(&dumpFuncs, "funcs", nil, "only dump these calls")
}

// openBlobDir opens dir, or the configured blob directory. No directory
// yields a nil store and inline blobs.
func openBlobDir(c *config.Config, dir string) (packet.BlobStore, error) {
	if dir == "" {
		dir = c.Blobs.Dir
	}
	if dir == "" {
		return nil, nil
	}
	return blobstore.NewDir(dir, c.Blobs.CacheEntries, c.Blobs.Compress)
}

// runDump writes every readable packet of r as JSON lines and exports the
// trace archive into blobs. It returns the number of documents written.
func runDump(r *trace.Reader, pr *packet.Projector, blobs packet.BlobStore, funcs []string, out io.Writer) (int, error) {
	if blobs != nil {
		if err := exportArchive(r, blobs); err != nil {
			return 0, err
		}
	}
	keep := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		keep[f] = true
	}

	w := trace.NewJSONWriter(out, pr)
	n := 0
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.GetLogger().WithError(err).Warn("skipping unreadable packet")
			continue
		}
		if len(keep) > 0 && !keep[p.Name()] {
			continue
		}
		if err := w.Write(p); err != nil {
			return n, fmt.Errorf("call %d %s: %w", p.CallCounter, p.Name(), err)
		}
		n++
	}
	return n, w.Flush()
}

func exportArchive(r *trace.Reader, blobs packet.BlobStore) error {
	if !r.FileStart().HasArchive() {
		return nil
	}
	a, err := r.Archive()
	if err != nil {
		return err
	}
	for _, id := range a.IDs() {
		data, err := a.Get(id)
		if err != nil {
			return err
		}
		got, err := blobs.Put(data, blobstore.HintOf(id))
		if err != nil {
			return err
		}
		if got != id {
			log.GetLogger().WithFields(map[string]interface{}{
				"archived": id,
				"stored":   got,
			}).Warn("archived blob stored under a different id")
		}
	}
	return nil
}
