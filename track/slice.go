package track

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/layout"
)

// SliceSchema is the minimum schema of a slice track's dataset.
var SliceSchema = dataset.Schema{
	{Name: "id", Type: engine.Long},
	{Name: "ts", Type: engine.Long},
	{Name: "dur", Type: engine.Long},
	{Name: "name", Type: engine.StrNull},
}

type Slice struct {
	ID    int64
	Ts    int64
	Dur   int64
	Depth int
	Name  string
}

func (s Slice) End() int64 { return s.Ts + max(s.Dur, 0) }

func (s Slice) contains(ts int64) bool {
	if s.Dur <= 0 {
		return ts == s.Ts
	}
	return s.Ts <= ts && ts < s.End()
}

// SliceTrack renders intervals laid out in lanes. A track backed by several source tracks is laid out jointly.
type SliceTrack struct {
	eng      engine.Engine
	layouts  *layout.Engine
	ds       dataset.Dataset
	trackIDs []int64
	// ds restricted to trackIDs
	rows dataset.Dataset

	mu       sync.Mutex
	hits     *container.IntervalTree[int64, Slice]
	maxDepth int
}

var _ Renderer = (*SliceTrack)(nil)

// NewSliceTrack returns a track showing the rows of ds that belong to trackIDs. If trackIDs is empty, ds is shown as
// a whole.
func NewSliceTrack(eng engine.Engine, layouts *layout.Engine, ds dataset.Dataset, trackIDs ...int64) (*SliceTrack, error) {
	if !ds.Implements(SliceSchema) {
		return nil, errors.Wrapf(engine.ErrSchemaMismatch, "slice track needs %s, dataset has %s", SliceSchema, ds.Schema())
	}
	if len(trackIDs) > 0 && !ds.Schema().Has("track_id") {
		return nil, errors.Wrap(engine.ErrSchemaMismatch, "slice track over several tracks needs a track_id column")
	}
	rows := ds
	if len(trackIDs) > 0 {
		rows = ds.Filter("track_id", dataset.In(engine.IntValues(trackIDs...)...)).Optimize()
	}
	return &SliceTrack{
		eng:      eng,
		layouts:  layouts,
		ds:       ds,
		trackIDs: trackIDs,
		rows:     rows,
		hits:     container.NewIntervalTree[int64, Slice](),
	}, nil
}

func (t *SliceTrack) Dataset() dataset.Dataset { return t.rows }
func (t *SliceTrack) TrackIDs() []int64        { return t.trackIDs }

func (t *SliceTrack) layout(ctx context.Context) (*layout.Layout, error) {
	return t.layouts.Layout(ctx, layout.Request{Dataset: t.ds, TrackIDs: t.trackIDs})
}

// Rows returns the laid out slices that intersect w, ordered by timestamp and ID. The result is also used for
// subsequent hit tests.
func (t *SliceTrack) Rows(ctx context.Context, w Window) ([]Slice, error) {
	l, err := t.layout(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()
	// Slices cover [ts, ts+dur). Instants only intersect w if they lie inside it.
	q := fmt.Sprintf(
		"SELECT id, ts, dur, depth, name FROM (%s) WHERE ts < %d AND CASE WHEN dur > 0 THEN ts + dur > %d ELSE ts >= %d END ORDER BY ts, id",
		l.Dataset.Query("id", "ts", "dur", "depth", "name"), w.End, w.Start, w.Start)
	it, err := engine.QueryIter(ctx, t.eng, q, engine.RowSpec{
		"id":    engine.Long,
		"ts":    engine.Long,
		"dur":   engine.Long,
		"depth": engine.LongNull,
		"name":  engine.StrNull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying slices")
	}

	var out []Slice
	hits := container.NewIntervalTree[int64, Slice]()
	for it.Next() {
		s := Slice{
			ID:    it.Int64("id"),
			Ts:    it.Int64("ts"),
			Dur:   it.Int64("dur"),
			Depth: int(it.OptInt64("depth").GetOr(0)),
			Name:  it.OptString("name").GetOr(""),
		}
		out = append(out, s)
		hits.Insert(s.Ts, s.End(), s)
	}

	t.mu.Lock()
	t.hits = hits
	t.maxDepth = l.MaxDepth
	t.mu.Unlock()
	return out, nil
}

// MaxDepth returns the number of lanes of the track.
func (t *SliceTrack) MaxDepth(ctx context.Context) (int, error) {
	l, err := t.layout(ctx)
	if err != nil {
		return 0, err
	}
	defer l.Release()
	return l.MaxDepth, nil
}

// SliceAt returns the slice at ts in lane depth, among the rows returned by the last call to Rows.
func (t *SliceTrack) SliceAt(ts int64, depth int) (Slice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		hit   Slice
		found bool
	)
	t.hits.Stab(ts, func(_ container.Interval[int64], s Slice) bool {
		if s.Depth == depth && s.contains(ts) {
			hit, found = s, true
			return false
		}
		return true
	})
	return hit, found
}

func (t *SliceTrack) SelectionDetails(ctx context.Context, id int64) (Details, error) {
	it, err := dataset.Rows(ctx, t.eng, t.rows.Filter("id", dataset.Eq(engine.IntValue(id))), "ts", "dur", "name")
	if err != nil {
		return Details{}, errors.Wrapf(err, "querying slice %d", id)
	}
	if !it.Next() {
		return Details{}, errors.Errorf("no slice with id %d", id)
	}
	return Details{
		ID: id,
		Fields: map[string]string{
			"name": it.OptString("name").GetOr(""),
			"ts":   strconv.FormatInt(it.Int64("ts"), 10),
			"dur":  strconv.FormatInt(it.Int64("dur"), 10),
		},
	}, nil
}
