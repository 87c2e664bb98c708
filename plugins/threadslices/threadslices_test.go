package threadslices_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/engine/enginetest"
	"honnef.co/go/tracedeck/flamegraph"
	"honnef.co/go/tracedeck/plugins/threadslices"
	"honnef.co/go/tracedeck/trace"
	"honnef.co/go/tracedeck/track"
	"honnef.co/go/tracedeck/workspace"
)

func fixture(t *testing.T) (*trace.Trace, engine.Engine) {
	t.Helper()
	eng := enginetest.Open(t)
	enginetest.InsertProcess(t, eng, 1, 100, "app")
	enginetest.InsertThread(t, eng, 1, 101, "main", 1)
	enginetest.InsertThread(t, eng, 2, 102, "worker", 1)
	enginetest.InsertThread(t, eng, 3, 200, "orphan", 0)
	enginetest.InsertTrack(t, eng, 1, "", enginetest.ThreadSliceTrack, 1, 0)
	enginetest.InsertTrack(t, eng, 2, "", enginetest.ThreadSliceTrack, 2, 0)
	enginetest.InsertTrack(t, eng, 3, "", enginetest.ThreadSliceTrack, 3, 0)
	enginetest.InsertTrack(t, eng, 4, "mem", enginetest.CounterTrack, 0, 1)
	enginetest.InsertSlices(t, eng,
		enginetest.Slice{ID: 1, Ts: 0, Dur: 100, TrackID: 1, Name: "frame"},
		enginetest.Slice{ID: 2, Ts: 10, Dur: 30, TrackID: 1, Name: "draw", Depth: 1, ParentID: 1},
		enginetest.Slice{ID: 3, Ts: 50, Dur: 20, TrackID: 1, Name: "draw", Depth: 1, ParentID: 1},
		enginetest.Slice{ID: 4, Ts: 20, Dur: 40, TrackID: 2, Name: "job"},
		enginetest.Slice{ID: 5, Ts: 0, Dur: 5, TrackID: 3, Name: "x"},
	)

	tr, report, err := trace.Load(context.Background(), eng, []trace.Plugin{threadslices.New()}, trace.Options{})
	require.NoError(t, err)
	require.True(t, report.OK(), "%v", report.Failed)
	t.Cleanup(func() { tr.Close(context.Background()) })
	return tr, eng
}

func names(nodes []*workspace.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func TestWorkspace(t *testing.T) {
	tr, _ := fixture(t)

	process := tr.Workspace.GetTrackByID(threadslices.ProcessGroupID(1))
	require.NotNil(t, process)
	assert.Equal(t, "app 100", process.Name())
	assert.True(t, process.Collapsed())
	assert.Equal(t, []string{"Slices", "main 101", "worker 102"}, names(process.Children()))
	assert.True(t, process.Children()[0].IsSummary())

	assert.Equal(t, []string{"app 100", "Threads without process", "orphan 200"}, names(tr.Workspace.Flatten()))

	for _, uri := range []string{
		threadslices.ThreadTrackURI(1),
		threadslices.ThreadTrackURI(2),
		threadslices.ThreadTrackURI(3),
		threadslices.ProcessTrackURI(1),
	} {
		tt, ok := tr.Tracks.Get(uri)
		require.True(t, ok, uri)
		assert.Equal(t, threadslices.ID, tt.Owner)
		assert.NotNil(t, tr.Workspace.GetTrackByURI(uri), uri)
	}
	_, ok := tr.Tracks.Get(threadslices.ThreadTrackURI(4))
	assert.False(t, ok, "counter tracks aren't thread slice tracks")
}

func TestTrackDepths(t *testing.T) {
	ctx := context.Background()
	tr, _ := fixture(t)

	thread, _ := tr.Tracks.Get(threadslices.ThreadTrackURI(1))
	d, err := thread.Renderer.(*track.SliceTrack).MaxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d)

	process, _ := tr.Tracks.Get(threadslices.ProcessTrackURI(1))
	assert.Equal(t, []int64{1, 2}, process.Tags.TrackIDs)
	r := process.Renderer.(*track.SliceTrack)
	d, err = r.MaxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d)

	rows, err := r.Rows(ctx, track.Window{Start: 0, End: 100})
	require.NoError(t, err)
	depths := map[int64]int{}
	for _, s := range rows {
		depths[s.ID] = s.Depth
	}
	assert.Equal(t, map[int64]int{1: 0, 2: 1, 4: 2, 3: 1}, depths)
}

func selectProcess(t *testing.T, tr *trace.Trace) *aggregation.Result {
	t.Helper()
	ctx := context.Background()
	process, ok := tr.Tracks.Get(threadslices.ProcessTrackURI(1))
	require.True(t, ok)
	res, err := tr.Selection.SelectArea(ctx, aggregation.AreaSelection{
		Start:  15,
		End:    60,
		Tracks: []track.Track{process},
	}).Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestSliceByName(t *testing.T) {
	ctx := context.Background()
	tr, eng := fixture(t)
	res := selectProcess(t, tr)

	tab, ok := res.Tab(threadslices.SliceByName{}.ID())
	require.True(t, ok)
	require.NoError(t, tab.Err)
	assert.Equal(t, aggregation.KindTable, tab.Kind)

	it, err := engine.QueryIter(ctx, eng, "SELECT name, occurrences, total_dur FROM "+tab.Table, engine.RowSpec{
		"name":        engine.Str,
		"occurrences": engine.Long,
		"total_dur":   engine.Long,
	})
	require.NoError(t, err)
	var got [][3]any
	for it.Next() {
		got = append(got, [3]any{it.String("name"), it.Int64("occurrences"), it.Int64("total_dur")})
	}
	assert.Equal(t, [][3]any{
		{"frame", int64(1), int64(45)},
		{"job", int64(1), int64(40)},
		{"draw", int64(2), int64(35)},
	}, got)
}

func TestFlamegraph(t *testing.T) {
	ctx := context.Background()
	tr, eng := fixture(t)
	res := selectProcess(t, tr)

	tab, ok := res.Tab(threadslices.Flamegraph{}.ID())
	require.True(t, ok)
	require.NoError(t, tab.Err)
	assert.Equal(t, aggregation.KindFlamegraph, tab.Kind)

	fg, err := flamegraph.Build(ctx, eng, tab.Table)
	require.NoError(t, err)
	require.Len(t, fg.Roots, 2)
	frame := fg.Roots[0]
	assert.Equal(t, "frame", frame.Name)
	assert.Equal(t, int64(45), frame.Total)
	assert.Equal(t, int64(10), frame.Self)
	require.Len(t, frame.Children, 1)
	assert.Equal(t, "draw", frame.Children[0].Name)
	assert.Equal(t, int64(35), frame.Children[0].Total)
	assert.Equal(t, "job", fg.Roots[1].Name)
	assert.Equal(t, int64(40), fg.Roots[1].Total)
	assert.Equal(t, int64(85), fg.Total())
}

func TestAggregatorsOptOut(t *testing.T) {
	ctx := context.Background()
	tr, _ := fixture(t)
	res, err := tr.Selection.SelectArea(ctx, aggregation.AreaSelection{
		Start:  0,
		End:    10,
		Tracks: []track.Track{{URI: "/counter_4", Tags: track.Tags{Kinds: []string{track.CounterKind}, TrackIDs: []int64{4}}}},
	}).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Tabs)
}
