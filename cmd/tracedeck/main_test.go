package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/tracedeck/engine/enginetest"
	"honnef.co/go/tracedeck/engine/sqlite"
	"honnef.co/go/tracedeck/plugins/threadslices"
)

func traceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	eng, err := sqlite.Open(path)
	require.NoError(t, err)
	defer eng.Close()
	enginetest.MustExec(t, eng, enginetest.Schema)
	enginetest.InsertProcess(t, eng, 1, 100, "app")
	enginetest.InsertThread(t, eng, 1, 101, "main", 1)
	enginetest.InsertTrack(t, eng, 1, "", enginetest.ThreadSliceTrack, 1, 0)
	enginetest.InsertTrack(t, eng, 2, "mem.rss", enginetest.CounterTrack, 0, 0)
	enginetest.InsertSlices(t, eng,
		enginetest.Slice{ID: 1, Ts: 0, Dur: 1000, TrackID: 1, Name: "frame"},
		enginetest.Slice{ID: 2, Ts: 100, Dur: 200, TrackID: 1, Name: "draw", Depth: 1, ParentID: 1},
	)
	enginetest.InsertCounters(t, eng,
		enginetest.Counter{ID: 1, Ts: 0, TrackID: 2, Value: 1},
		enginetest.Counter{ID: 2, Ts: 500, TrackID: 2, Value: 3},
	)
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestTree(t *testing.T) {
	out := run(t, "tree", "--all", traceFile(t))
	assert.Contains(t, out, "  app 100 (+1)\n")
	assert.Contains(t, out, "    main 101 [/slice_1]\n")
	assert.Contains(t, out, "  Counters\n")
	assert.Contains(t, out, "    mem.rss [/counter_2]\n")
	assert.Contains(t, out, "4 nodes, 2 tracks\n")
}

func TestLayout(t *testing.T) {
	out := run(t, "layout", traceFile(t), threadslices.ThreadTrackURI(1), "--start", "0", "--end", "2000", "--width", "0")
	assert.Contains(t, out, "/slice_1: 2 slices in 2 lanes\n")
	assert.Contains(t, out, "frame #1 @0 +1,000\n")
	assert.Contains(t, out, "  draw #2 @100 +200\n")
	assert.NotContains(t, out, "at x")
}

func TestLayoutPixelLookup(t *testing.T) {
	out := run(t, "layout", traceFile(t), threadslices.ThreadTrackURI(1), "--start", "0", "--end", "1000",
		"--width", "100", "--x", "20")
	assert.Contains(t, out, "at x 20 (ts 200):\n")
	assert.Contains(t, out, "  lane 0: frame #1 @0 +1,000\n")
	assert.Contains(t, out, "  lane 1: draw #2 @100 +200\n")

	out = run(t, "layout", traceFile(t), threadslices.ThreadTrackURI(1), "--start", "0", "--end", "1000",
		"--width", "100", "--x", "50")
	assert.Contains(t, out, "at x 50 (ts 500):\n")
	assert.Contains(t, out, "  lane 0: frame #1 @0 +1,000\n")
	assert.NotContains(t, out, "lane 1:")
}

func TestLayoutPixelLookupNeedsWindow(t *testing.T) {
	// flag values persist across executions, so reset the window explicitly
	rootCmd.SetArgs([]string{"layout", traceFile(t), threadslices.ThreadTrackURI(1),
		"--start="+strconv.FormatInt(math.MinInt64, 10), "--end="+strconv.FormatInt(math.MaxInt64, 10),
		"--width", "100", "--x", "20"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	assert.Error(t, rootCmd.Execute())
}

func TestAggregate(t *testing.T) {
	out := run(t, "aggregate", traceFile(t), "--start", "0", "--end", "1000", "--limit", "0")
	assert.Contains(t, out, "== Slices (table)\n")
	assert.Contains(t, out, "== Flamegraph (flamegraph)\n")
	assert.Contains(t, out, "frame 1,000 (self 800, 100.0%)\n")
	assert.Contains(t, out, "total_dur: 2 values, min 200, max 1,000, total 1,200, avg 600.00, median 600.00\n")
	assert.Contains(t, out, "== Counters (table)\n")
	assert.NotContains(t, out, "Power Rails")
}

func TestAggregateUnknownTrack(t *testing.T) {
	rootCmd.SetArgs([]string{"aggregate", traceFile(t), "--start", "0", "--end", "10", "/nope"})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	assert.Error(t, rootCmd.Execute())
}
