package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/trace"
)

var infoCmd = &cobra.Command{
	Use:   "info <trace>",
	Short: "Print a summary of a binary trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		calls, err := loadRegistry(c)
		if err != nil {
			return err
		}
		f, err := trace.Open(args[0], newDecoder(c, calls))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = runInfo(f.Reader, cmd.OutOrStdout())
		return err
	},
}

type traceInfo struct {
	Calls    int
	Rejected int
	Frames   int
	ByName   map[string]int
	Contexts map[uint64]int
	Blobs    []string
}

func runInfo(r *trace.Reader, out io.Writer) (*traceInfo, error) {
	info := &traceInfo{ByName: make(map[string]int), Contexts: make(map[uint64]int)}
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			info.Rejected++
			continue
		}
		info.Calls++
		info.ByName[p.Name()]++
		if p.Context != 0 {
			info.Contexts[p.Context]++
		}
		if p.Desc.Action == entrypoint.ActionSwap {
			info.Frames++
		}
	}
	if r.FileStart().HasArchive() {
		a, err := r.Archive()
		if err != nil {
			return nil, err
		}
		info.Blobs = a.IDs()
	}

	fs := r.FileStart()
	fmt.Fprintf(out, "version:       %d\n", fs.Version)
	fmt.Fprintf(out, "pointer width: %d\n", fs.PointerWidth)
	fmt.Fprintf(out, "uuid:          %s\n", fs.UUID)
	fmt.Fprintf(out, "calls:         %d (%d rejected)\n", info.Calls, info.Rejected)
	fmt.Fprintf(out, "frames:        %d\n", info.Frames)
	fmt.Fprintf(out, "contexts:      %d\n", len(info.Contexts))

	names := make([]string, 0, len(info.ByName))
	for n := range info.ByName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if info.ByName[names[i]] != info.ByName[names[j]] {
			return info.ByName[names[i]] > info.ByName[names[j]]
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		fmt.Fprintf(out, "  %-32s %d\n", n, info.ByName[n])
	}
	if len(info.Blobs) > 0 {
		fmt.Fprintf(out, "archive:       %d blobs, %d bytes\n", len(info.Blobs), fs.ArchiveSize)
		for _, id := range info.Blobs {
			fmt.Fprintf(out, "  %s\n", id)
		}
	}
	return info, nil
}
