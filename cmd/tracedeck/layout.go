package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"honnef.co/go/tracedeck/track"
)

var layoutCmd = &cobra.Command{
	Use:   "layout [flags] trace_file track_uri",
	Short: "Print the depth layout of a slice track.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := open(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		t, ok := s.Tracks.Get(args[1])
		if !ok {
			return errors.Errorf("no track %s", args[1])
		}
		st, ok := t.Renderer.(*track.SliceTrack)
		if !ok {
			return errors.Errorf("%s isn't a slice track", args[1])
		}
		w := track.Window{Start: getInt64(cmd, "start"), End: getInt64(cmd, "end")}
		rows, err := st.Rows(ctx, w)
		if err != nil {
			return err
		}
		depth, err := st.MaxDepth(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printer.Fprintf(out, "%s: %d slices in %d lanes\n", t.URI, len(rows), depth)
		for _, sl := range rows {
			fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", sl.Depth), formatSlice(sl))
		}

		if width := getFloat64(cmd, "width"); width > 0 {
			// The full default window doesn't fit into an int64 duration.
			if w.Duration() <= 0 {
				return errors.New("--width needs --start and --end")
			}
			x := getFloat64(cmd, "x")
			if x < 0 || x >= width {
				return errors.Errorf("x %g outside of [0, %g)", x, width)
			}
			vp := track.Viewport{Window: w, Width: width}
			ts := vp.TsAt(x)
			printer.Fprintf(out, "at x %g (ts %d):\n", x, ts)
			for d := 0; d < depth; d++ {
				if sl, ok := st.SliceAt(ts, d); ok {
					fmt.Fprintf(out, "  lane %d: %s\n", d, formatSlice(sl))
				}
			}
		}
		return nil
	},
}

func formatSlice(sl track.Slice) string {
	name := sl.Name
	if name == "" {
		name = "<unnamed>"
	}
	return printer.Sprintf("%s #%d @%d +%d", name, sl.ID, sl.Ts, sl.Dur)
}

func init() {
	layoutCmd.Flags().Int64("start", math.MinInt64, "start of the window")
	layoutCmd.Flags().Int64("end", math.MaxInt64, "end of the window")
	layoutCmd.Flags().Float64("width", 0, "width of the track in pixels; with --x, print the slices under that pixel")
	layoutCmd.Flags().Float64("x", 0, "pixel to look up, counted from the left edge of the track")
	rootCmd.AddCommand(layoutCmd)
}
