// Package trace holds the state of one loaded trace and hosts the plugins that populate it.
package trace

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"honnef.co/go/tracedeck/aggregation"
	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/layout"
	"honnef.co/go/tracedeck/slices"
	"honnef.co/go/tracedeck/track"
	"honnef.co/go/tracedeck/workspace"
)

// Trace is the context of one loaded trace. Everything hanging off it lives exactly as long as the trace and is torn
// down by Close.
//
// Plugins receive their own copy of the Trace. The copy shares all state with the host's, but attributes tracks,
// groups and aggregators it registers to the plugin, so that they can be rolled back if the plugin fails.
type Trace struct {
	ID        uuid.UUID
	Engine    engine.Engine
	Workspace *workspace.Workspace
	Tracks    *track.Registry
	Selection *aggregation.Manager
	Layouts   *layout.Engine
	Log       *log.Entry

	// The plugin this copy was handed to, empty for the host's.
	plugin string
	s      *session
}

type session struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	// Groups each plugin obtained through Group, in the order it first obtained them.
	groups map[string][]*workspace.Node
	// Plugins that obtained each group.
	users       map[*workspace.Node]container.Set[string]
	aggregators map[string][]string
}

type Options struct {
	// Title of the workspace. Defaults to "Default Workspace".
	Title string
	// LayoutCacheSize is the number of depth layouts kept around. Zero picks layout.DefaultCacheSize.
	LayoutCacheSize int
	// AggregationConcurrency limits concurrent aggregations. Zero means no limit.
	AggregationConcurrency int
	// Disabled lists plugins that must not be loaded, along with everything depending on them.
	Disabled []string
	Log      *log.Entry
}

func newTrace(eng engine.Engine, opts Options) (*Trace, error) {
	id := uuid.New()
	l := opts.Log
	if l == nil {
		l = log.NewEntry(log.StandardLogger())
	}
	l = l.WithField("trace", id.String())
	title := opts.Title
	if title == "" {
		title = "Default Workspace"
	}
	layouts, err := layout.NewEngine(eng, opts.LayoutCacheSize, l)
	if err != nil {
		return nil, err
	}
	return &Trace{
		ID:        id,
		Engine:    eng,
		Workspace: workspace.New(title, l),
		Tracks:    track.NewRegistry(),
		Selection: aggregation.NewManager(eng, aggregation.Options{
			Concurrency: opts.AggregationConcurrency,
			Log:         l,
		}),
		Layouts: layouts,
		Log:     l,
		s: &session{
			plugins:     map[string]Plugin{},
			groups:      map[string][]*workspace.Node{},
			users:       map[*workspace.Node]container.Set[string]{},
			aggregators: map[string][]string{},
		},
	}, nil
}

// forPlugin returns the copy of tr handed to plugin id.
func (tr *Trace) forPlugin(id string) *Trace {
	cp := *tr
	cp.plugin = id
	cp.Log = tr.Log.WithField("plugin", id)
	return &cp
}

// Plugin returns the loaded plugin with the given id. Plugins use it to reach the plugins they depend on.
func (tr *Trace) Plugin(id string) (Plugin, bool) {
	tr.s.mu.Lock()
	defer tr.s.mu.Unlock()
	p, ok := tr.s.plugins[id]
	return p, ok
}

// RegisterTrack registers t as owned by the calling plugin.
func (tr *Trace) RegisterTrack(t track.Track) error {
	t.Owner = tr.plugin
	return tr.Tracks.RegisterTrack(t)
}

// Group returns the group node with the given id below parent, creating it if necessary. Plugins sharing a group use
// the same id. A group outlives the rollback of a failed plugin as long as another plugin obtained it.
func (tr *Trace) Group(parent *workspace.Node, args workspace.NodeArgs) *workspace.Node {
	if tr.plugin == "" {
		n, _ := tr.Workspace.GetOrCreate(parent, args)
		return n
	}
	// Held across the lookup so that a concurrent rollback either sees this plugin as a user or removes the group
	// before it is looked up.
	tr.s.mu.Lock()
	defer tr.s.mu.Unlock()
	n, _ := tr.Workspace.GetOrCreate(parent, args)
	users, ok := tr.s.users[n]
	if !ok {
		users = container.NewSet[string]()
		tr.s.users[n] = users
	}
	if !users.Has(tr.plugin) {
		users.Add(tr.plugin)
		tr.s.groups[tr.plugin] = append(tr.s.groups[tr.plugin], n)
	}
	return n
}

// RegisterAggregator registers agg as owned by the calling plugin.
func (tr *Trace) RegisterAggregator(agg aggregation.Aggregator) error {
	if err := tr.Selection.RegisterAggregator(agg); err != nil {
		return err
	}
	if tr.plugin != "" {
		tr.s.mu.Lock()
		tr.s.aggregators[tr.plugin] = append(tr.s.aggregators[tr.plugin], agg.ID())
		tr.s.mu.Unlock()
	}
	return nil
}

// rollback removes everything plugin id registered: its tracks along with the workspace nodes showing them, its
// aggregators, and the groups it obtained that are empty and not used by any other plugin.
func (tr *Trace) rollback(ctx context.Context, id string) error {
	for _, t := range tr.Tracks.All() {
		if t.Owner != id {
			continue
		}
		tr.Tracks.Unregister(t.URI)
		for n := tr.Workspace.GetTrackByURI(t.URI); n != nil; n = tr.Workspace.GetTrackByURI(t.URI) {
			n.Remove()
		}
	}

	tr.s.mu.Lock()
	aggs := tr.s.aggregators[id]
	delete(tr.s.aggregators, id)
	// Innermost groups were obtained last.
	groups := tr.s.groups[id]
	delete(tr.s.groups, id)
	for g, groups, ok := slices.Pop(groups); ok; g, groups, ok = slices.Pop(groups) {
		users := tr.s.users[g]
		users.Delete(id)
		if len(users) == 0 && len(g.Children()) == 0 {
			delete(tr.s.users, g)
			g.Remove()
		}
	}
	tr.s.mu.Unlock()

	var firstErr error
	for _, agg := range aggs {
		if _, err := tr.Selection.UnregisterAggregator(ctx, agg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the resources of the trace: cached layouts and aggregation tables are dropped from the engine.
func (tr *Trace) Close(ctx context.Context) error {
	tr.Layouts.Purge()
	if err := tr.Selection.Close(ctx); err != nil {
		return errors.Wrap(err, "closing selection")
	}
	return nil
}
