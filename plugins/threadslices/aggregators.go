package threadslices

import (
	"context"
	"fmt"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/track"
)

func selectedSlices(sel *aggregation.AreaSelection) (dataset.Dataset, bool) {
	ids := sel.TrackIDs(track.SliceKind)
	if len(ids) == 0 {
		return nil, false
	}
	return Slices.Filter("track_id", dataset.In(engine.IntValues(ids...)...)).Optimize(), true
}

// SliceByName summarises the selected slices by name. Slices are clipped to the selection.
type SliceByName struct{}

func (SliceByName) ID() string    { return "dev.tracedeck.SliceByName" }
func (SliceByName) Title() string { return "Slices" }

func (SliceByName) Probe(sel *aggregation.AreaSelection) aggregation.Aggregation {
	ds, ok := selectedSlices(sel)
	if !ok {
		return nil
	}
	w := sel.Window()
	return aggregation.PrepareFunc(func(ctx context.Context, eng engine.Engine, table string) error {
		clipped, err := aggregation.IntervalIntersect(ctx, eng, table+"_clipped", ds, w)
		if err != nil {
			return err
		}
		defer engine.DropTable(context.Background(), eng, table+"_clipped")
		return engine.CreateOrReplaceTable(ctx, eng, table, fmt.Sprintf(`SELECT
  name,
  COUNT(*) AS occurrences,
  SUM(dur) AS total_dur,
  AVG(dur) AS avg_dur
FROM (%s)
GROUP BY name
ORDER BY total_dur DESC, name`, clipped.Query("name", "dur")))
	})
}

type flamegraphAggregation struct {
	ds dataset.Dataset
	w  track.Window
}

func (flamegraphAggregation) Kind() aggregation.Kind { return aggregation.KindFlamegraph }

// PrepareData writes one row per selected slice, with the part of its duration not covered by its children as self
// time. The table can be read with flamegraph.Build.
func (a flamegraphAggregation) PrepareData(ctx context.Context, eng engine.Engine, table string) error {
	clipped, err := aggregation.IntervalIntersect(ctx, eng, table+"_clipped", a.ds, a.w)
	if err != nil {
		return err
	}
	defer engine.DropTable(context.Background(), eng, table+"_clipped")
	src := clipped.Query("id", "parent_id", "name", "dur")
	return engine.CreateOrReplaceTable(ctx, eng, table, fmt.Sprintf(`SELECT
  s.id AS id,
  s.parent_id AS parent_id,
  s.name AS name,
  MAX(s.dur - COALESCE((SELECT SUM(c.dur) FROM (%s) c WHERE c.parent_id = s.id), 0), 0) AS self
FROM (%s) s`, src, src))
}

// Flamegraph merges the call stacks formed by the selected slices and their ancestors.
type Flamegraph struct{}

func (Flamegraph) ID() string    { return "dev.tracedeck.SliceFlamegraph" }
func (Flamegraph) Title() string { return "Flamegraph" }

func (Flamegraph) Probe(sel *aggregation.AreaSelection) aggregation.Aggregation {
	ds, ok := selectedSlices(sel)
	if !ok {
		return nil
	}
	return flamegraphAggregation{ds: ds, w: sel.Window()}
}
