// Package counters shows counter tracks and summarises selected counters.
package counters

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/trace"
	"honnef.co/go/tracedeck/track"
	"honnef.co/go/tracedeck/workspace"
)

const (
	ID = "dev.tracedeck.Counters"
	// TrackType is the type of source tracks this plugin shows.
	TrackType = "counter"
	// GroupID is the workspace id of the group holding counter tracks.
	GroupID = "counters"
)

// Counters is the counter table.
var Counters = dataset.NewSource("counter", dataset.Schema{
	{Name: "id", Type: engine.Long},
	{Name: "ts", Type: engine.Long},
	{Name: "track_id", Type: engine.Long},
	{Name: "value", Type: engine.Float},
})

func TrackURI(id int64) string { return fmt.Sprintf("/counter_%d", id) }

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) ID() string             { return ID }
func (*Plugin) Dependencies() []string { return nil }

// SourceTrack is a row of the track table.
type SourceTrack struct {
	ID   int64
	Name string
	Type string
}

// SourceTracks returns the source tracks of type typ.
func SourceTracks(ctx context.Context, eng engine.Engine, typ string) ([]SourceTrack, error) {
	it, err := engine.QueryIter(ctx, eng,
		fmt.Sprintf("SELECT id, name FROM track WHERE type = %s ORDER BY id", engine.StrValue(typ).SQL()),
		engine.RowSpec{"id": engine.Long, "name": engine.StrNull})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s tracks", typ)
	}
	var out []SourceTrack
	for it.Next() {
		id := it.Int64("id")
		out = append(out, SourceTrack{
			ID:   id,
			Name: it.OptString("name").GetOr(fmt.Sprintf("Counter %d", id)),
			Type: typ,
		})
	}
	return out, nil
}

// AddTrack registers a counter track for src and shows it below parent. It is used by plugins that present
// specialised counters.
func (*Plugin) AddTrack(tr *trace.Trace, parent *workspace.Node, src SourceTrack) error {
	r, err := track.NewCounterTrack(tr.Engine, Counters.Filter("track_id", dataset.Eq(engine.IntValue(src.ID))))
	if err != nil {
		return err
	}
	uri := TrackURI(src.ID)
	if err := tr.RegisterTrack(track.Track{
		URI:      uri,
		Renderer: r,
		Tags: track.Tags{
			Kinds:    []string{track.CounterKind},
			TrackIDs: []int64{src.ID},
			Type:     src.Type,
		},
	}); err != nil {
		return err
	}
	parent.AddChildInOrder(workspace.NewNode(workspace.NodeArgs{Name: src.Name, URI: uri, ID: uri}))
	return nil
}

func (p *Plugin) OnTraceLoad(ctx context.Context, tr *trace.Trace) error {
	tracks, err := SourceTracks(ctx, tr.Engine, TrackType)
	if err != nil {
		return err
	}
	if len(tracks) > 0 {
		group := tr.Group(nil, workspace.NodeArgs{Name: "Counters", ID: GroupID, SortOrder: 2})
		for _, src := range tracks {
			if err := p.AddTrack(tr, group, src); err != nil {
				return err
			}
		}
	}
	return tr.RegisterAggregator(Aggregator{})
}

// Aggregator summarises every selected counter track.
type Aggregator struct{}

func (Aggregator) ID() string    { return "dev.tracedeck.CounterAggregator" }
func (Aggregator) Title() string { return "Counters" }

func (Aggregator) Probe(sel *aggregation.AreaSelection) aggregation.Aggregation {
	ids := sel.TrackIDs(track.CounterKind)
	if len(ids) == 0 {
		return nil
	}
	return Summary(ids, sel.Window())
}

// Summary returns an aggregation with one row per counter track in ids: the number of samples in w, their minimum,
// maximum and mean, the first and last value, the difference between the two and its rate of change per second.
func Summary(ids []int64, w track.Window) aggregation.Aggregation {
	ds := Counters.Filter("track_id", dataset.In(engine.IntValues(ids...)...)).Optimize()
	return aggregation.PrepareFunc(func(ctx context.Context, eng engine.Engine, table string) error {
		edges := aggregation.WindowEdges(ds, w)
		return engine.CreateOrReplaceTable(ctx, eng, table, fmt.Sprintf(`SELECT
  e.track_id AS track_id,
  t.name AS name,
  e.count AS count,
  s.min_value AS min_value,
  s.max_value AS max_value,
  s.avg_value AS avg_value,
  e.first_value AS first_value,
  e.last_value AS last_value,
  e.last_value - e.first_value AS delta,
  CASE WHEN e.last_ts > e.first_ts
    THEN (e.last_value - e.first_value) * 1e9 / (e.last_ts - e.first_ts)
  END AS rate
FROM (%s) e
JOIN (
  SELECT track_id, MIN(value) AS min_value, MAX(value) AS max_value, AVG(value) AS avg_value
  FROM (%s)
  WHERE ts >= %d AND ts < %d
  GROUP BY track_id
) s ON s.track_id = e.track_id
LEFT JOIN track t ON t.id = e.track_id
ORDER BY e.track_id`, edges.Query(), ds.Query("ts", "track_id", "value"), w.Start, w.End))
	})
}
