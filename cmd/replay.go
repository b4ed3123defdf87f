package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/driver"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/packet"
	"firestige.xyz/gltrace/internal/replay"
	"firestige.xyz/gltrace/internal/snapshot"
	"firestige.xyz/gltrace/internal/trace"
)

var (
	replayBenchmark    bool
	replayMaxFrames    uint64
	replayCaptureFrame int64
	replaySnapshotDir  string
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace>",
	Short: "Replay a binary trace",
	Long: `
Replay a binary trace against the null driver and report divergences.

Examples:
  gltrace replay app.trace                          # replay the whole trace
  gltrace replay app.trace --frames 10              # stop after 10 frames
  gltrace replay app.trace --capture-frame 5 \
      --snapshot-dir ./snaps                        # save the state at frame 5
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		calls, err := loadRegistry(c)
		if err != nil {
			return err
		}
		opts := replay.OptionsFromConfig(c.Replay)
		if cmd.Flags().Changed("benchmark") {
			opts.Benchmark = replayBenchmark
		}
		dir := replaySnapshotDir
		if dir == "" {
			dir = c.Snapshots.Dir
		}
		r := replayRun{
			calls:        calls,
			dec:          newDecoder(c, calls),
			backend:      driver.NewNull(),
			mode:         c.Replay.DriverMode,
			opts:         opts,
			maxFrames:    replayMaxFrames,
			captureFrame: replayCaptureFrame,
		}
		if dir != "" {
			if r.snapshots, err = snapshot.NewFileStore(dir); err != nil {
				return err
			}
		}
		_, err = runReplay(cmd.Context(), args[0], r, cmd.OutOrStdout())
		return err
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayBenchmark, "benchmark", false, "disable divergence checks")
	replayCmd.Flags().Uint64Var(&replayMaxFrames, "frames", 0, "stop after this many frames (0 = all)")
	replayCmd.Flags().Int64Var(&replayCaptureFrame, "capture-frame", -1, "capture a snapshot after this frame")
	replayCmd.Flags().StringVar(&replaySnapshotDir, "snapshot-dir", "", "snapshot directory (defaults to snapshots.dir)")
}

// replayRun is everything runReplay needs besides the trace path.
type replayRun struct {
	calls     *entrypoint.Registry
	dec       *packet.Decoder
	backend   driver.Driver
	mode      string
	opts      replay.Options
	snapshots *snapshot.FileStore

	maxFrames    uint64
	captureFrame int64
}

type replaySummary struct {
	Frames      uint64
	Packets     uint64
	Divergences []replay.Divergence
	Captured    []uint64
}

func runReplay(ctx context.Context, path string, r replayRun, out io.Writer) (*replaySummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := trace.Open(path, r.dec)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if r.opts.Blobs, err = f.Blobs(); err != nil {
		return nil, err
	}
	store := snapshot.NewStore()
	if r.snapshots != nil {
		if err := r.snapshots.LoadInto(store); err != nil {
			return nil, err
		}
	}
	r.opts.Snapshots = store

	drv, err := driver.New(r.mode, r.backend, driver.Hooks{})
	if err != nil {
		return nil, err
	}
	e := replay.NewEngine(r.calls, drv, nil, r.opts)
	l := log.GetLogger().WithField("trace", path)
	l.Info("replay started")

	sum := &replaySummary{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		st, err := e.ProcessFrame(f)
		switch st {
		case replay.StatusHardFailure:
			return nil, fmt.Errorf("replay %s at call %d: %w", path, e.CallIndex(), err)
		case replay.StatusSoftFailure:
			l.WithError(err).Warn("unreadable packet skipped")
			continue
		}
		if st == replay.StatusAtEOF {
			break
		}

		sum.Frames++
		if r.captureFrame >= 0 && sum.Frames == uint64(r.captureFrame) {
			snap := e.CaptureSnapshot()
			sum.Captured = append(sum.Captured, snap.CallIndex)
			if r.snapshots != nil {
				if err := r.snapshots.Save(snap.CallIndex, snap); err != nil {
					return nil, err
				}
			}
		}
		if r.maxFrames > 0 && sum.Frames >= r.maxFrames {
			break
		}
	}
	sum.Packets = e.CallIndex()
	sum.Divergences = e.Divergences()

	l.WithFields(map[string]interface{}{
		"frames":      sum.Frames,
		"packets":     sum.Packets,
		"divergences": len(sum.Divergences),
	}).Info("replay finished")

	fmt.Fprintf(out, "frames:      %d\n", sum.Frames)
	fmt.Fprintf(out, "packets:     %d\n", sum.Packets)
	fmt.Fprintf(out, "divergences: %d\n", len(sum.Divergences))
	for _, d := range sum.Divergences {
		fmt.Fprintf(out, "  call %d (#%d %s): error 0x%04x, recorded 0x%04x\n",
			d.CallIndex, d.CallCounter, d.Call, d.Code, d.Expected)
	}
	for _, idx := range sum.Captured {
		fmt.Fprintf(out, "snapshot captured at call %d\n", idx)
	}
	return sum, nil
}
