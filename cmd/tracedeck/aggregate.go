package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/flamegraph"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [flags] trace_file track_uri...",
	Short: "Print the aggregations of an area selection.",
	Long: `Select the given tracks between --start and --end and print the result of every aggregator that applies.
Without track URIs, all tracks are selected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := open(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		sel := aggregation.AreaSelection{Start: getInt64(cmd, "start"), End: getInt64(cmd, "end")}
		if sel.End <= sel.Start {
			return errors.Errorf("empty selection [%d, %d)", sel.Start, sel.End)
		}
		if len(args) == 1 {
			sel.Tracks = s.Tracks.All()
		}
		for _, uri := range args[1:] {
			t, ok := s.Tracks.Get(uri)
			if !ok {
				return errors.Errorf("no track %s", uri)
			}
			sel.Tracks = append(sel.Tracks, t)
		}

		res, err := s.Selection.SelectArea(ctx, sel).Wait(ctx)
		if err != nil {
			return err
		}
		page := aggregation.Page{
			Sort:  getString(cmd, "sort"),
			Desc:  getFlag(cmd, "desc"),
			Limit: int(getInt64(cmd, "limit")),
		}
		out := cmd.OutOrStdout()
		for _, tab := range res.Tabs {
			fmt.Fprintf(out, "== %s (%s)\n", tab.Title, tab.Kind)
			switch {
			case tab.Custom:
				fmt.Fprintln(out, "(custom tab)")
			case tab.Err != nil:
				fmt.Fprintf(out, "error: %s\n", tab.Err)
			case tab.Kind == aggregation.KindFlamegraph:
				fg, err := flamegraph.Build(ctx, s.Engine, tab.Table)
				if err != nil {
					return err
				}
				printFlamegraph(out, fg)
			default:
				v, err := aggregation.Query(ctx, s.Engine, tab.Table, page)
				if err != nil {
					return err
				}
				printTable(out, v)
				if col := getString(cmd, "summarize"); col != "" && slices.Contains(v.Columns, col) {
					stat, err := aggregation.Summarize(ctx, s.Engine, tab.Table, col)
					if err != nil {
						return err
					}
					printSummary(out, col, stat)
				}
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func printTable(w io.Writer, v *aggregation.View) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(v.Columns, "\t"))
	for _, row := range v.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = formatCell(c)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	if int64(len(v.Rows)) < v.Total {
		printer.Fprintf(w, "(%d of %d rows)\n", len(v.Rows), v.Total)
	}
}

func printSummary(w io.Writer, col string, stat aggregation.Summary) {
	printer.Fprintf(w, "%s: %d values, min %d, max %d, total %d, avg %.2f, median %.2f\n",
		col, stat.Count, stat.Min, stat.Max, stat.Total, stat.Average, stat.Median)
}

func formatCell(c any) string {
	switch c := c.(type) {
	case nil:
		return "NULL"
	case int64:
		return printer.Sprintf("%d", c)
	case float64:
		return printer.Sprintf("%.2f", c)
	case []byte:
		return string(c)
	default:
		return fmt.Sprint(c)
	}
}

func printFlamegraph(w io.Writer, fg *flamegraph.FlameGraph) {
	total := fg.Total()
	fg.Walk(func(f *flamegraph.Frame, depth int) {
		pct := 0.0
		if total > 0 {
			pct = float64(f.Total) / float64(total) * 100
		}
		printer.Fprintf(w, "%s%s %d (self %d, %.1f%%)\n", strings.Repeat("  ", depth), f.Name, f.Total, f.Self, pct)
	})
}

func init() {
	aggregateCmd.Flags().Int64("start", 0, "start of the selection")
	aggregateCmd.Flags().Int64("end", 0, "end of the selection")
	aggregateCmd.Flags().String("sort", "", "column to sort tables by")
	aggregateCmd.Flags().Bool("desc", false, "sort in descending order")
	aggregateCmd.Flags().Int64("limit", 20, "maximum number of rows per table, 0 for all")
	aggregateCmd.Flags().String("summarize", "total_dur", "summarize this column of every table that has it")
	rootCmd.AddCommand(aggregateCmd)
}
