package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"honnef.co/go/tracedeck/workspace"
)

var treeCmd = &cobra.Command{
	Use:   "tree [flags] trace_file",
	Short: "Print the workspace of a trace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		nodes := s.Workspace.Flatten()
		if getFlag(cmd, "all") {
			nodes = nodes[:0]
			s.Workspace.Walk(func(n *workspace.Node, _ int) bool {
				nodes = append(nodes, n)
				return true
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, s.Workspace.Title())
		for _, n := range nodes {
			fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", len(n.FullPath())), describe(n))
		}
		if pinned := s.Workspace.PinnedTracks(); len(pinned) > 0 {
			fmt.Fprintln(out, "Pinned")
			for _, n := range pinned {
				fmt.Fprintf(out, "  %s\n", describe(n))
			}
		}
		printer.Fprintf(out, "%d nodes, %d tracks\n", s.Workspace.Len(), s.Tracks.Len())
		return nil
	},
}

func describe(n *workspace.Node) string {
	var b strings.Builder
	b.WriteString(n.Name())
	if n.URI() != "" {
		fmt.Fprintf(&b, " [%s]", n.URI())
	}
	if n.IsSummary() {
		b.WriteString(" (summary)")
	}
	if n.Collapsed() && len(n.Children()) > 0 {
		fmt.Fprintf(&b, " (+%d)", len(n.Children()))
	}
	return b.String()
}

func init() {
	treeCmd.Flags().BoolP("all", "a", false, "expand collapsed groups")
	rootCmd.AddCommand(treeCmd)
}
