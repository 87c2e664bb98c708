// Command tracedeck inspects trace databases from the command line: it loads a trace the way the viewer does and
// prints its workspace, the layout of tracks, and the aggregations of area selections.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"honnef.co/go/tracedeck/config"
	"honnef.co/go/tracedeck/engine/sqlite"
	"honnef.co/go/tracedeck/plugins/counters"
	"honnef.co/go/tracedeck/plugins/powerrails"
	"honnef.co/go/tracedeck/plugins/threadslices"
	"honnef.co/go/tracedeck/trace"
)

var rootCmd = &cobra.Command{
	Use:   "tracedeck",
	Short: "Inspect trace databases.",
	Long:  "Load a trace database with the bundled plugins and inspect its tracks and aggregations.",
	Run: func(cmd *cobra.Command, args []string) {
		if getFlag(cmd, "version") {
			fmt.Print("tracedeck ")
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Print(info.Main.Version)
			} else {
				fmt.Print("(unknown version)")
			}
			fmt.Println()
			return
		}
		cmd.Help()
	},
}

// printer formats numbers for humans.
var printer = message.NewPrinter(language.English)

func init() {
	rootCmd.Flags().Bool("version", false, "report version of this executable")
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "increase logging verbosity")
}

func getFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getInt64(cmd *cobra.Command, name string) int64 {
	v, err := cmd.Flags().GetInt64(name)
	if err != nil {
		panic(err)
	}
	return v
}

func getFloat64(cmd *cobra.Command, name string) float64 {
	v, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(err)
	}
	return v
}

// plugins returns the bundled plugins.
func plugins() []trace.Plugin {
	return []trace.Plugin{
		threadslices.New(),
		counters.New(),
		powerrails.New(),
	}
}

// session is an opened trace database with the bundled plugins loaded.
type session struct {
	*trace.Trace
	eng *sqlite.Engine
}

func (s *session) Close() {
	if err := s.Trace.Close(context.Background()); err != nil {
		log.WithError(err).Warn("closing trace")
	}
	s.eng.Close()
}

func open(ctx context.Context, cmd *cobra.Command, path string) (*session, error) {
	cfg, err := config.Load(getString(cmd, "config"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Level())
	if getFlag(cmd, "verbose") {
		log.SetLevel(log.DebugLevel)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "opening trace")
	}
	eng, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	l := log.WithField("file", path)
	opts := cfg.TraceOptions(l)
	opts.Title = path
	tr, report, err := trace.Load(ctx, eng, plugins(), opts)
	if err != nil {
		eng.Close()
		return nil, err
	}
	for id, err := range report.Failed {
		l.WithError(err).WithField("plugin", id).Warn("plugin failed")
	}
	l.Debugf("plugins: %s", report)
	return &session{Trace: tr, eng: eng}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
