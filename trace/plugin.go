package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/metrics"
)

var (
	ErrUnknownDependency = errors.New("unknown plugin dependency")
	ErrDependencyCycle   = errors.New("plugin dependency cycle")
)

// Plugin populates a trace.
type Plugin interface {
	ID() string
	// Dependencies lists the IDs of the plugins whose OnTraceLoad has to finish before this plugin's may start.
	Dependencies() []string
	OnTraceLoad(ctx context.Context, tr *Trace) error
}

// LoadReport says what happened to each plugin during Load.
type LoadReport struct {
	Loaded []string
	Failed map[string]error
	// Skipped lists disabled plugins and plugins depending on them.
	Skipped []string
}

// OK reports whether every plugin that was attempted loaded successfully.
func (r *LoadReport) OK() bool { return len(r.Failed) == 0 }

func (r *LoadReport) String() string {
	return fmt.Sprintf("%d loaded, %d failed, %d skipped", len(r.Loaded), len(r.Failed), len(r.Skipped))
}

// checkDependencies returns the plugins by id. It fails on duplicate IDs, on dependencies that aren't among plugins and
// on cycles.
func checkDependencies(plugins []Plugin) (map[string]Plugin, error) {
	byID := make(map[string]Plugin, len(plugins))
	for _, p := range plugins {
		if _, ok := byID[p.ID()]; ok {
			return nil, errors.Errorf("plugin %q registered twice", p.ID())
		}
		byID[p.ID()] = p
	}
	for _, p := range plugins {
		for _, dep := range p.Dependencies() {
			if _, ok := byID[dep]; !ok {
				return nil, errors.Wrapf(ErrUnknownDependency, "%s depends on %s", p.ID(), dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := map[string]int{}
	var path []string
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			i := slices.Index(path, id)
			return errors.Wrapf(ErrDependencyCycle, "%v", append(path[i:], id))
		}
		state[id] = visiting
		path = append(path, id)
		for _, dep := range byID[id].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		return nil
	}
	for _, p := range plugins {
		if err := visit(p.ID()); err != nil {
			return nil, err
		}
	}
	return byID, nil
}

// disabled returns the plugins in ids along with every plugin that transitively depends on one of them.
func disabled(plugins []Plugin, ids []string) container.Set[string] {
	out := container.NewSet(ids...)
	for changed := true; changed; {
		changed = false
		for _, p := range plugins {
			if out.Has(p.ID()) {
				continue
			}
			for _, dep := range p.Dependencies() {
				if out.Has(dep) {
					out.Add(p.ID())
					changed = true
					break
				}
			}
		}
	}
	return out
}

func onTraceLoad(ctx context.Context, p Plugin, tr *Trace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("OnTraceLoad panicked: %v", r)
		}
	}()
	return p.OnTraceLoad(ctx, tr)
}

// Load creates the Trace for eng and runs the OnTraceLoad hooks of plugins. Plugins run concurrently, except that a
// plugin only starts once all of its dependencies have finished, successfully or not.
//
// A failing plugin doesn't fail the load. Whatever it registered is rolled back and the failure is recorded in the
// report. Load itself only fails for invalid dependency graphs and when ctx is cancelled.
func Load(ctx context.Context, eng engine.Engine, plugins []Plugin, opts Options) (*Trace, *LoadReport, error) {
	byID, err := checkDependencies(plugins)
	if err != nil {
		return nil, nil, err
	}
	tr, err := newTrace(eng, opts)
	if err != nil {
		return nil, nil, err
	}

	report := &LoadReport{Failed: map[string]error{}}
	skip := disabled(plugins, opts.Disabled)
	for _, p := range plugins {
		if skip.Has(p.ID()) {
			report.Skipped = append(report.Skipped, p.ID())
			delete(byID, p.ID())
			continue
		}
		// Plugins may look up their dependencies while loading.
		tr.s.plugins[p.ID()] = p
	}

	done := make(map[string]chan struct{}, len(byID))
	for id := range byID {
		done[id] = make(chan struct{})
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, p := range plugins {
		if skip.Has(p.ID()) {
			continue
		}
		p := p
		g.Go(func() error {
			defer close(done[p.ID()])
			for _, dep := range p.Dependencies() {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			ptr := tr.forPlugin(p.ID())
			err := onTraceLoad(ctx, p, ptr)
			if err == nil {
				metrics.PluginLoads.WithLabelValues(metrics.OK).Inc()
				ptr.Log.Debug("plugin loaded")
				mu.Lock()
				report.Loaded = append(report.Loaded, p.ID())
				mu.Unlock()
				return nil
			}

			metrics.PluginLoads.WithLabelValues(metrics.Error).Inc()
			ptr.Log.WithError(err).Error("plugin failed to load")
			if rerr := tr.rollback(ctx, p.ID()); rerr != nil {
				ptr.Log.WithError(rerr).Warn("rolling back plugin")
			}
			mu.Lock()
			report.Failed[p.ID()] = err
			mu.Unlock()
			tr.s.mu.Lock()
			delete(tr.s.plugins, p.ID())
			tr.s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tr.Close(context.Background())
		return nil, nil, err
	}

	slices.Sort(report.Loaded)
	tr.Log.WithFields(log.Fields{
		"loaded":  len(report.Loaded),
		"failed":  len(report.Failed),
		"skipped": len(report.Skipped),
	}).Info("trace loaded")
	return tr, report, nil
}
