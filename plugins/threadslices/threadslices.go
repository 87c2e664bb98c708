// Package threadslices shows the slices of every thread, grouped by process.
package threadslices

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/trace"
	"honnef.co/go/tracedeck/track"
	"honnef.co/go/tracedeck/workspace"
)

const (
	ID = "dev.tracedeck.ThreadSlices"
	// TrackType is the type of source tracks this plugin shows.
	TrackType = "thread_slice"
)

// Slices is the slice table with the columns the plugin relies on.
var Slices = dataset.NewSource("slice", dataset.Schema{
	{Name: "id", Type: engine.Long},
	{Name: "ts", Type: engine.Long},
	{Name: "dur", Type: engine.Long},
	{Name: "track_id", Type: engine.Long},
	{Name: "name", Type: engine.StrNull},
	{Name: "depth", Type: engine.Long},
	{Name: "parent_id", Type: engine.LongNull},
})

// ProcessGroupID returns the workspace id of the group holding the tracks of process upid. Other plugins adding
// per-process tracks use the same id.
func ProcessGroupID(upid int64) string { return fmt.Sprintf("process:%d", upid) }

// ThreadTrackURI returns the URI of the slice track showing source track id.
func ThreadTrackURI(id int64) string { return fmt.Sprintf("/slice_%d", id) }

// ProcessTrackURI returns the URI of the summary track merging all thread slices of process upid.
func ProcessTrackURI(upid int64) string { return fmt.Sprintf("/process_%d_slices", upid) }

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) ID() string             { return ID }
func (*Plugin) Dependencies() []string { return nil }

type threadTrack struct {
	id          int64
	name        string
	tid         int64
	threadName  string
	upid        container.Option[int64]
	pid         int64
	processName string
}

func (t threadTrack) title() string {
	name := t.threadName
	if name == "" {
		name = t.name
	}
	if name == "" {
		name = "Thread"
	}
	return fmt.Sprintf("%s %d", name, t.tid)
}

func (t threadTrack) processTitle() string {
	name := t.processName
	if name == "" {
		name = "Process"
	}
	return fmt.Sprintf("%s %d", name, t.pid)
}

func threadTracks(ctx context.Context, eng engine.Engine) ([]threadTrack, error) {
	it, err := engine.QueryIter(ctx, eng, fmt.Sprintf(`SELECT
  t.id AS id, t.name AS name, th.tid AS tid, th.name AS thread_name,
  p.upid AS upid, p.pid AS pid, p.name AS process_name
FROM track t
JOIN thread th ON th.utid = t.utid
LEFT JOIN process p ON p.upid = th.upid
WHERE t.type = %s
ORDER BY p.upid, th.tid, t.id`, engine.StrValue(TrackType).SQL()), engine.RowSpec{
		"id":           engine.Long,
		"name":         engine.StrNull,
		"tid":          engine.Long,
		"thread_name":  engine.StrNull,
		"upid":         engine.LongNull,
		"pid":          engine.LongNull,
		"process_name": engine.StrNull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing thread tracks")
	}
	var out []threadTrack
	for it.Next() {
		out = append(out, threadTrack{
			id:          it.Int64("id"),
			name:        it.OptString("name").GetOr(""),
			tid:         it.Int64("tid"),
			threadName:  it.OptString("thread_name").GetOr(""),
			upid:        it.OptInt64("upid"),
			pid:         it.OptInt64("pid").GetOr(0),
			processName: it.OptString("process_name").GetOr(""),
		})
	}
	return out, nil
}

func (p *Plugin) OnTraceLoad(ctx context.Context, tr *trace.Trace) error {
	tracks, err := threadTracks(ctx, tr.Engine)
	if err != nil {
		return err
	}

	byProcess := map[int64][]int64{}
	var processes []int64
	for _, tt := range tracks {
		var group *workspace.Node
		if upid, ok := tt.upid.Get(); ok {
			group = tr.Group(nil, workspace.NodeArgs{Name: tt.processTitle(), ID: ProcessGroupID(upid), Collapsed: true})
			if _, ok := byProcess[upid]; !ok {
				processes = append(processes, upid)
			}
			byProcess[upid] = append(byProcess[upid], tt.id)
		} else {
			group = tr.Group(nil, workspace.NodeArgs{Name: "Threads without process", ID: "process:none", SortOrder: 1})
		}

		r, err := track.NewSliceTrack(tr.Engine, tr.Layouts, Slices, tt.id)
		if err != nil {
			return err
		}
		uri := ThreadTrackURI(tt.id)
		if err := tr.RegisterTrack(track.Track{
			URI:      uri,
			Renderer: r,
			Tags: track.Tags{
				Kinds:    []string{track.SliceKind},
				TrackIDs: []int64{tt.id},
				Type:     TrackType,
			},
		}); err != nil {
			return err
		}
		group.AddChildInOrder(workspace.NewNode(workspace.NodeArgs{Name: tt.title(), URI: uri, ID: uri}))
	}

	for _, upid := range processes {
		ids := byProcess[upid]
		if len(ids) < 2 {
			continue
		}
		r, err := track.NewSliceTrack(tr.Engine, tr.Layouts, Slices, ids...)
		if err != nil {
			return err
		}
		uri := ProcessTrackURI(upid)
		if err := tr.RegisterTrack(track.Track{
			URI:      uri,
			Renderer: r,
			Tags: track.Tags{
				Kinds:    []string{track.SliceKind},
				TrackIDs: ids,
				Type:     TrackType,
				Extra:    map[string]string{"upid": fmt.Sprint(upid)},
			},
		}); err != nil {
			return err
		}
		group := tr.Workspace.GetTrackByID(ProcessGroupID(upid))
		group.AddChildFirst(workspace.NewNode(workspace.NodeArgs{Name: "Slices", URI: uri, ID: uri, IsSummary: true}))
	}

	if err := tr.RegisterAggregator(SliceByName{}); err != nil {
		return err
	}
	if err := tr.RegisterAggregator(Flamegraph{}); err != nil {
		return err
	}
	tr.Log.WithField("tracks", len(tracks)).Debug("added thread slice tracks")
	return nil
}

var _ aggregation.Aggregator = SliceByName{}
