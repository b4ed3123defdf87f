package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/replay"
	"firestige.xyz/gltrace/internal/trim"
)

var (
	trimStart  uint64
	trimLength uint64
)

var trimCmd = &cobra.Command{
	Use:   "trim <src> <dst>",
	Short: "Cut a call range out of a trace",
	Long: `
Replay the calls before --start, embed the resulting state as a snapshot and
write the calls from --start onwards into a new trace that replays on its own.

Examples:
  gltrace trim app.trace frame10.trace --start 5120            # from call 5120 to the end
  gltrace trim app.trace short.trace --start 5120 --length 900 # 900 calls from 5120
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		calls, err := loadRegistry(c)
		if err != nil {
			return err
		}
		opts := trim.Options{
			Calls:     calls,
			VerifyCRC: c.Codec.VerifyCRC,
			Replay:    replay.OptionsFromConfig(c.Replay),
		}
		return runTrim(args[0], args[1], trimStart, trimLength, opts, cmd.OutOrStdout())
	},
}

func init() {
	trimCmd.Flags().Uint64Var(&trimStart, "start", 0, "index of the first call to keep")
	trimCmd.Flags().Uint64Var(&trimLength, "length", 0, "number of calls to keep (0 = to the end)")
}

func runTrim(src, dst string, start, length uint64, opts trim.Options, out io.Writer) error {
	res, err := trim.WriteTrimFile(src, dst, start, length, opts)
	if err != nil {
		return fmt.Errorf("failed to trim %s: %w", src, err)
	}
	fmt.Fprintf(out, "✓ %s written: %d calls replayed into snapshot %s, %d calls copied\n",
		dst, res.Replayed, res.SnapshotID, res.Copied)
	return nil
}
