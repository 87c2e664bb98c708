// Package powerrails shows the energy counters of power rails below a shared "Power" group.
package powerrails

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/plugins/counters"
	"honnef.co/go/tracedeck/trace"
	"honnef.co/go/tracedeck/track"
	"honnef.co/go/tracedeck/workspace"
)

const (
	ID = "dev.tracedeck.PowerRails"
	// TrackType is the type of source tracks holding power rail counters.
	TrackType = "power_rails"
	// GroupID is the workspace id of the group shared by all power related tracks.
	GroupID = "power"
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) ID() string             { return ID }
func (*Plugin) Dependencies() []string { return []string{counters.ID} }

// railName turns source track names like "power.rails.cpu.big" into "cpu.big".
func railName(name string) string {
	if rest, ok := strings.CutPrefix(name, "power.rails."); ok {
		return rest
	}
	return name
}

func (p *Plugin) OnTraceLoad(ctx context.Context, tr *trace.Trace) error {
	dep, ok := tr.Plugin(counters.ID)
	if !ok {
		return errors.Errorf("%s isn't loaded", counters.ID)
	}
	c := dep.(*counters.Plugin)

	rails, err := counters.SourceTracks(ctx, tr.Engine, TrackType)
	if err != nil {
		return err
	}
	if len(rails) > 0 {
		power := tr.Group(nil, workspace.NodeArgs{Name: "Power", ID: GroupID, SortOrder: 3})
		group := tr.Group(power, workspace.NodeArgs{Name: "Power Rails", ID: "power.rails"})
		for _, rail := range rails {
			rail.Name = railName(rail.Name)
			if err := c.AddTrack(tr, group, rail); err != nil {
				return err
			}
		}
	}
	return tr.RegisterAggregator(Aggregator{})
}

// Aggregator summarises the selected power rails. Only rail tracks contribute rows; the counters are energy, so the
// rate column is the average power over the selection.
type Aggregator struct{}

func (Aggregator) ID() string    { return "dev.tracedeck.PowerRailsAggregator" }
func (Aggregator) Title() string { return "Power Rails" }

func (Aggregator) Probe(sel *aggregation.AreaSelection) aggregation.Aggregation {
	var ids []int64
	for _, t := range sel.Tracks {
		if t.Tags.Type == TrackType && t.Tags.HasKind(track.CounterKind) {
			ids = append(ids, t.Tags.TrackIDs...)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return counters.Summary(ids, sel.Window())
}
