package dataset_test

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/engine/enginetest"
)

var sliceSchema = dataset.Schema{
	{Name: "id", Type: engine.Long},
	{Name: "ts", Type: engine.Long},
	{Name: "dur", Type: engine.Long},
	{Name: "track_id", Type: engine.Long},
	{Name: "name", Type: engine.StrNull},
}

func slices() dataset.Dataset {
	return dataset.NewSource("slice", sliceSchema)
}

// rows returns the rows of ds as sorted strings, for order-independent comparison.
func rows(t *testing.T, eng engine.Engine, ds dataset.Dataset, cols ...string) []string {
	t.Helper()
	res, err := eng.Query(context.Background(), ds.Query(cols...))
	require.NoError(t, err, "query: %s", ds.Query(cols...))
	out := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = fmt.Sprint(row...)
	}
	sort.Strings(out)
	return out
}

func fixture(t *testing.T) engine.Engine {
	eng := enginetest.Open(t)
	var ss []enginetest.Slice
	id := int64(1)
	for track := int64(1); track <= 5; track++ {
		for i := int64(0); i < 4; i++ {
			ss = append(ss, enginetest.Slice{
				ID:      id,
				Ts:      i * 10,
				Dur:     5,
				TrackID: track,
				Name:    fmt.Sprintf("s%d", id%3),
			})
			id++
		}
	}
	enginetest.InsertSlices(t, eng, ss...)
	return eng
}

func TestFilterUnknownColumnPanics(t *testing.T) {
	assert.Panics(t, func() { slices().Filter("value", dataset.Eq(engine.IntValue(1))) })
	assert.Panics(t, func() { slices().Query("id", "value") })
	assert.NotPanics(t, func() { slices().Filter("track_id", dataset.In(engine.IntValues(1, 2)...)) })
}

func TestFilter(t *testing.T) {
	eng := fixture(t)
	ds := slices().Filter("track_id", dataset.In(engine.IntValues(2, 4)...)).Filter("ts", dataset.Eq(engine.IntValue(0)))
	assert.Equal(t, []string{"13", "5"}, rows(t, eng, ds, "id"))

	n, err := dataset.Count(context.Background(), eng, ds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFilterNull(t *testing.T) {
	eng := enginetest.Open(t)
	enginetest.InsertSlices(t, eng,
		enginetest.Slice{ID: 1, TrackID: 1, Name: "root"},
		enginetest.Slice{ID: 2, TrackID: 1, Name: "child", ParentID: 1},
	)
	ds := dataset.NewSource("slice", dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "parent_id", Type: engine.LongNull},
	})
	assert.Equal(t, []string{"1"}, rows(t, eng, ds.Filter("parent_id", dataset.Eq(engine.Null())), "id"))
}

func TestUnionCommonSchema(t *testing.T) {
	counters := dataset.NewSource("counter", dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "ts", Type: engine.Long},
		{Name: "track_id", Type: engine.LongNull},
		{Name: "value", Type: engine.Float},
	})
	u := dataset.Union(slices(), counters)
	assert.Equal(t, dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "ts", Type: engine.Long},
		{Name: "track_id", Type: engine.LongNull},
	}, u.Schema())
	assert.Panics(t, func() { u.Filter("dur", dataset.Eq(engine.IntValue(1))) })

	eng := fixture(t)
	enginetest.InsertCounters(t, eng, enginetest.Counter{ID: 100, Ts: 3, TrackID: 9, Value: 1})
	got := rows(t, eng, u, "id")
	assert.Len(t, got, 21)
}

func TestUnionFlattens(t *testing.T) {
	a := slices().Filter("track_id", dataset.Eq(engine.IntValue(1)))
	b := slices().Filter("track_id", dataset.Eq(engine.IntValue(2)))
	c := slices().Filter("track_id", dataset.Eq(engine.IntValue(3)))
	u := dataset.Union(dataset.Union(a, b), c).(*dataset.UnionDataset)
	assert.Len(t, u.Members(), 3)
	assert.Same(t, a, dataset.Union(a))
	assert.Panics(t, func() { dataset.Union() })
}

func TestOptimizeCollapsesUnion(t *testing.T) {
	eng := fixture(t)
	var members []dataset.Dataset
	for _, track := range []int64{1, 3, 5} {
		members = append(members, slices().Filter("track_id", dataset.Eq(engine.IntValue(track))))
	}
	u := dataset.Union(members...)
	opt := u.Optimize()

	src, ok := opt.(*dataset.Source)
	require.True(t, ok, "expected a single source, got %T", opt)
	require.Len(t, src.Filters(), 1)
	assert.Equal(t, engine.IntValues(1, 3, 5), src.Filters()[0].Cond.Values())
	assert.Equal(t, rows(t, eng, u), rows(t, eng, opt))
}

func TestOptimizeKeepsDuplicates(t *testing.T) {
	eng := fixture(t)
	u := dataset.Union(
		slices().Filter("track_id", dataset.In(engine.IntValues(1, 2)...)),
		slices().Filter("track_id", dataset.Eq(engine.IntValue(2))),
	)
	opt := u.Optimize()
	_, merged := opt.(*dataset.Source)
	assert.False(t, merged, "overlapping filters must not be merged")
	assert.Equal(t, rows(t, eng, u), rows(t, eng, opt))
	assert.Len(t, rows(t, eng, opt), 12)
}

func TestOptimizeKeepsUnionSchema(t *testing.T) {
	eng := fixture(t)
	narrow := dataset.NewSource("slice", dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "track_id", Type: engine.Long},
	})
	u := dataset.Union(
		slices().Filter("track_id", dataset.Eq(engine.IntValue(1))),
		slices().Filter("track_id", dataset.Eq(engine.IntValue(2))),
		narrow.Filter("track_id", dataset.Eq(engine.IntValue(3))),
	)
	opt := u.Optimize()
	assert.Equal(t, u.Schema(), opt.Schema())
	assert.Equal(t, rows(t, eng, u), rows(t, eng, opt))
	assert.Equal(t,
		"SELECT id, track_id FROM slice WHERE track_id IN (1, 2) UNION ALL SELECT id, track_id FROM slice WHERE track_id = 3",
		opt.Query())
}

func TestOptimizeComparesValuesNumerically(t *testing.T) {
	eng := fixture(t)
	u := dataset.Union(
		slices().Filter("track_id", dataset.Eq(engine.IntValue(1))),
		slices().Filter("track_id", dataset.Eq(engine.FloatValue(1))),
	)
	opt := u.Optimize()
	_, merged := opt.(*dataset.Source)
	assert.False(t, merged, "1 and 1.0 select the same rows")
	assert.Len(t, rows(t, eng, opt, "id"), 8)
}

func TestOptimizeSingleValueIn(t *testing.T) {
	ds := slices().Filter("track_id", dataset.In(engine.IntValue(4))).Optimize()
	assert.Equal(t, "SELECT id, ts, dur, track_id, name FROM slice WHERE track_id = 4", ds.Query())
}

func TestOptimizeEquivalenceRandomized(t *testing.T) {
	eng := fixture(t)
	rng := rand.New(rand.NewSource(1))
	other := dataset.NewSource("SELECT id, ts, dur, track_id, name FROM slice WHERE dur > 0", sliceSchema)

	for i := 0; i < 200; i++ {
		var members []dataset.Dataset
		for n := 1 + rng.Intn(5); n > 0; n-- {
			base := slices()
			if rng.Intn(4) == 0 {
				base = other
			}
			col := "track_id"
			if rng.Intn(3) == 0 {
				col = "ts"
			}
			var vals []engine.Value
			for k := rng.Intn(3); k >= 0; k-- {
				if col == "ts" {
					vals = append(vals, engine.IntValue(int64(rng.Intn(4))*10))
				} else {
					vals = append(vals, engine.IntValue(int64(1+rng.Intn(5))))
				}
			}
			var m dataset.Dataset
			if len(vals) == 1 && rng.Intn(2) == 0 {
				m = base.Filter(col, dataset.Eq(vals[0]))
			} else {
				m = base.Filter(col, dataset.In(vals...))
			}
			if rng.Intn(5) == 0 {
				m = m.Filter("name", dataset.Eq(engine.StrValue("s1")))
			}
			members = append(members, m)
		}
		u := dataset.Union(members...)
		if rng.Intn(3) == 0 {
			u = dataset.Union(u, slices().Filter("track_id", dataset.Eq(engine.IntValue(2))))
		}
		require.Equal(t, rows(t, eng, u, "id"), rows(t, eng, u.Optimize(), "id"), "iteration %d: %s", i, u.Query("id"))
	}
}

func TestJoinPrunesUniqueJoins(t *testing.T) {
	eng := fixture(t)
	lanes := dataset.NewSource("SELECT id, id % 2 AS lane FROM slice", dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "lane", Type: engine.Long},
	})
	ds := slices().Join(lanes, []string{"id"}, dataset.JoinOptions{Unique: true})
	assert.True(t, ds.Schema().Has("lane"))
	assert.NotContains(t, ds.Query("id", "ts"), "JOIN")
	assert.Contains(t, ds.Query("id", "lane"), "LEFT JOIN")

	got := rows(t, eng, ds.Filter("id", dataset.In(engine.IntValues(1, 2)...)), "id", "lane")
	assert.Equal(t, []string{"1 1", "2 0"}, got)

	// Filtering on a joined column keeps the join.
	assert.Contains(t, ds.Filter("lane", dataset.Eq(engine.IntValue(0))).Query("id"), "JOIN")
}

func TestJoinKeepsChainedJoins(t *testing.T) {
	eng := fixture(t)
	enginetest.InsertProcess(t, eng, 1, 42, "proc")
	enginetest.InsertThread(t, eng, 7, 100, "main", 1)
	for track := int64(1); track <= 5; track++ {
		enginetest.InsertTrack(t, eng, track, "t", enginetest.ThreadSliceTrack, 7, 1)
	}
	tracks := dataset.NewSource("SELECT id AS track_id, utid FROM track", dataset.Schema{
		{Name: "track_id", Type: engine.Long},
		{Name: "utid", Type: engine.LongNull},
	})
	threads := dataset.NewSource("thread", dataset.Schema{
		{Name: "utid", Type: engine.Long},
		{Name: "tid", Type: engine.Long},
	})
	ds := slices().
		Join(tracks, []string{"track_id"}, dataset.JoinOptions{Unique: true}).
		Join(threads, []string{"utid"}, dataset.JoinOptions{Unique: true})

	q := ds.Query("id", "tid")
	assert.Contains(t, q, "j0")
	assert.Contains(t, q, "j1")
	got := rows(t, eng, ds.Filter("id", dataset.Eq(engine.IntValue(3))), "id", "tid")
	assert.Equal(t, []string{"3 100"}, got)
}

func TestNonUniqueJoinAlwaysEmitted(t *testing.T) {
	eng := fixture(t)
	names := dataset.NewSource("SELECT DISTINCT name FROM slice", dataset.Schema{{Name: "name", Type: engine.StrNull}})
	ds := slices().Join(names, []string{"name"}, dataset.JoinOptions{})
	q := ds.Query("id")
	assert.Contains(t, q, " JOIN ")
	assert.NotContains(t, q, "LEFT JOIN")
	assert.Len(t, rows(t, eng, ds, "id"), 20)
}

func TestImplements(t *testing.T) {
	ds := dataset.NewSource("counter", dataset.Schema{
		{Name: "ts", Type: engine.Long},
		{Name: "value", Type: engine.Float},
	})
	assert.True(t, ds.Implements(dataset.Schema{{Name: "ts", Type: engine.LongNull}}))
	assert.True(t, ds.Implements(dataset.Schema{{Name: "value", Type: engine.Unknown}}))
	assert.False(t, ds.Implements(dataset.Schema{{Name: "value", Type: engine.Str}}))
	assert.False(t, ds.Implements(dataset.Schema{{Name: "dur", Type: engine.Long}}))
	assert.True(t, dataset.Union(ds, ds).Implements(dataset.Schema{{Name: "ts", Type: engine.Long}}))
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	eng := fixture(t)
	require.NoError(t, dataset.Validate(ctx, eng, slices()))

	bogus := dataset.NewSource("slice", dataset.Schema{{Name: "id", Type: engine.Long}, {Name: "bogus", Type: engine.Long}})
	require.Error(t, dataset.Validate(ctx, eng, bogus))
}

func TestProject(t *testing.T) {
	eng := fixture(t)
	p := dataset.Project(slices().Filter("track_id", dataset.Eq(engine.IntValue(1))), "id", "ts")
	assert.Equal(t, []string{"id", "ts"}, dataset.Columns(p))
	assert.Len(t, rows(t, eng, p), 4)
	assert.Panics(t, func() { dataset.MustHave(p, "dur") })

	it, err := dataset.Rows(context.Background(), eng, p, "ts")
	require.NoError(t, err)
	var total int64
	for it.Next() {
		total += it.Int64("ts")
	}
	assert.Equal(t, int64(60), total)
}
