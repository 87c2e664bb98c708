// Package aggregation turns area selections into derived tables.
//
// Every selection runs in two phases. Each registered aggregator first probes the selection, looking only at the tags
// of the selected tracks, and either opts out or returns an aggregation. The aggregations then prepare their data
// concurrently, each writing to a table named after its aggregator. A failing aggregation only affects its own tab,
// and results of a selection that has been superseded by a newer one are discarded.
package aggregation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/metrics"
	"honnef.co/go/tracedeck/mysync"
	"honnef.co/go/tracedeck/slices"
	"honnef.co/go/tracedeck/track"
)

// ErrStale is returned for selections that were superseded before their results were ready.
var ErrStale = errors.New("selection was superseded")

// AreaSelection is a time range plus a set of tracks.
type AreaSelection struct {
	// ID identifies the selection. It is assigned by Manager.SelectArea and increases with every selection.
	ID     uint64
	Start  int64
	End    int64
	Tracks []track.Track
}

func (sel *AreaSelection) Window() track.Window {
	return track.Window{Start: sel.Start, End: sel.End}
}

// TrackIDs returns the source track IDs of all selected tracks of the given kind, or of all tracks if kind is empty.
func (sel *AreaSelection) TrackIDs(kind string) []int64 {
	var out []int64
	for _, t := range sel.Tracks {
		if kind == "" || t.Tags.HasKind(kind) {
			out = append(out, t.Tags.TrackIDs...)
		}
	}
	// Summary tracks share ids with the tracks they summarize.
	return slices.Dedup(out)
}

// Kind tells the presentation layer how to show a result table.
type Kind uint8

const (
	KindTable Kind = iota
	KindFlamegraph
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindFlamegraph:
		return "flamegraph"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Aggregator decides whether it applies to a selection.
type Aggregator interface {
	ID() string
	Title() string
	// Probe returns nil to opt out of sel. It must only look at the selection and the tags of its tracks and must
	// never query the engine.
	Probe(sel *AreaSelection) Aggregation
}

// Aggregation computes the data of one aggregator for one selection.
type Aggregation interface {
	// PrepareData materialises the result into table, replacing whatever the table held before.
	PrepareData(ctx context.Context, eng engine.Engine, table string) error
}

// PrepareFunc adapts a function to the Aggregation interface.
type PrepareFunc func(ctx context.Context, eng engine.Engine, table string) error

func (fn PrepareFunc) PrepareData(ctx context.Context, eng engine.Engine, table string) error {
	return fn(ctx, eng, table)
}

// Kinded is implemented by aggregations whose result isn't a plain table.
type Kinded interface {
	Kind() Kind
}

// Tab is a custom selection tab that renders itself.
type Tab struct {
	ID    string
	Title string
	// Applies reports whether the tab should be shown for sel. A nil Applies always shows the tab.
	Applies func(sel *AreaSelection) bool
}

// TabState is the outcome of a selection for one aggregator or custom tab.
type TabState struct {
	ID    string
	Title string
	Kind  Kind
	// Table holds the aggregation result. It is empty for custom tabs and failed aggregations.
	Table string
	Err   error
	// Custom is set for tabs registered with RegisterTab.
	Custom bool
}

// Result is the outcome of one selection.
type Result struct {
	Selection *AreaSelection
	Tabs      []TabState
}

// Tab returns the state of the tab with the given id.
func (res *Result) Tab(id string) (TabState, bool) {
	for _, t := range res.Tabs {
		if t.ID == id {
			return t, true
		}
	}
	return TabState{}, false
}

type Options struct {
	// Concurrency limits how many aggregations prepare their data at the same time. Zero means no limit.
	Concurrency int
	Log         *log.Entry
}

type registered struct {
	agg   Aggregator
	table string
	// PrepareData writes here. The data moves to table once the whole selection is ready.
	scratch string
	// serialises PrepareData calls writing to scratch
	mu sync.Mutex
}

// Manager runs selections against the registered aggregators of one trace.
type Manager struct {
	eng  engine.Engine
	log  *log.Entry
	opts Options

	mu          sync.Mutex
	aggregators []*registered
	tabs        []Tab
	seq         uint64
	pending     *mysync.Future[*Result]
	current     *Result
}

func NewManager(eng engine.Engine, opts Options) *Manager {
	l := opts.Log
	if l == nil {
		l = log.NewEntry(log.StandardLogger())
	}
	return &Manager{
		eng:  eng,
		log:  l.WithField("component", "aggregation"),
		opts: opts,
	}
}

func (m *Manager) RegisterAggregator(agg Aggregator) error {
	table, err := TableName(agg.ID())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.aggregators {
		if r.agg.ID() == agg.ID() {
			return errors.Errorf("aggregator %q already registered", agg.ID())
		}
		if r.table == table {
			return errors.Errorf("aggregators %q and %q would share table %s", r.agg.ID(), agg.ID(), table)
		}
	}
	m.aggregators = append(m.aggregators, &registered{
		agg:     agg,
		table:   table,
		scratch: scratchPrefix + strings.TrimPrefix(table, TablePrefix),
	})
	return nil
}

// UnregisterAggregator removes the aggregator with the given id and drops its result table. It reports whether such
// an aggregator was registered.
func (m *Manager) UnregisterAggregator(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	var r *registered
	for i, cand := range m.aggregators {
		if cand.agg.ID() == id {
			r = cand
			m.aggregators = append(m.aggregators[:i:i], m.aggregators[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if r == nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := engine.DropTable(ctx, m.eng, r.scratch); err != nil {
		return true, err
	}
	return true, engine.DropTable(ctx, m.eng, r.table)
}

func (m *Manager) RegisterTab(tab Tab) error {
	if tab.ID == "" {
		return errors.New("tab has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tabs {
		if t.ID == tab.ID {
			return errors.Errorf("tab %q already registered", tab.ID)
		}
	}
	m.tabs = append(m.tabs, tab)
	return nil
}

// Current returns the result of the latest selection that completed without being superseded.
func (m *Manager) Current() (*Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

func (m *Manager) isCurrent(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq == id
}

func probe(agg Aggregator, sel *AreaSelection) (a Aggregation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("probe panicked: %v", r)
		}
	}()
	return agg.Probe(sel), nil
}

func prepare(ctx context.Context, a Aggregation, eng engine.Engine, table string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("PrepareData panicked: %v", r)
		}
	}()
	return a.PrepareData(ctx, eng, table)
}

// SelectArea assigns sel a new ID, probes every aggregator and prepares the data of those that opted in. Any
// selection still in progress is cancelled. The returned future resolves with ErrStale if another selection is made
// before this one completes.
//
// Result tables only change when a selection completes, at the same time as Current starts returning it.
func (m *Manager) SelectArea(ctx context.Context, sel AreaSelection) *mysync.Future[*Result] {
	m.mu.Lock()
	m.seq++
	sel.ID = m.seq
	if m.pending != nil {
		m.pending.Cancel()
	}
	aggs := append([]*registered(nil), m.aggregators...)
	tabs := append([]Tab(nil), m.tabs...)
	m.mu.Unlock()

	res := &Result{Selection: &sel}
	type job struct {
		r   *registered
		a   Aggregation
		tab int
	}
	var jobs []job
	for _, r := range aggs {
		a, err := probe(r.agg, &sel)
		if err == nil && a == nil {
			continue
		}
		state := TabState{ID: r.agg.ID(), Title: r.agg.Title(), Err: err}
		if k, ok := a.(Kinded); ok {
			state.Kind = k.Kind()
		}
		res.Tabs = append(res.Tabs, state)
		if err == nil {
			jobs = append(jobs, job{r: r, a: a, tab: len(res.Tabs) - 1})
		}
	}
	for _, tab := range tabs {
		if tab.Applies == nil || tab.Applies(&sel) {
			res.Tabs = append(res.Tabs, TabState{ID: tab.ID, Title: tab.Title, Custom: true})
		}
	}

	ft := mysync.NewFuture(ctx, func(ctx context.Context) (*Result, error) {
		prepared := make([]bool, len(jobs))
		var g errgroup.Group
		if m.opts.Concurrency > 0 {
			g.SetLimit(m.opts.Concurrency)
		}
		for i, j := range jobs {
			i, j := i, j
			g.Go(func() error {
				j.r.mu.Lock()
				defer j.r.mu.Unlock()
				// A newer selection owns the scratch table now.
				if !m.isCurrent(sel.ID) {
					res.Tabs[j.tab].Err = ErrStale
					return nil
				}
				l := m.log.WithFields(log.Fields{"aggregator": j.r.agg.ID(), "selection": sel.ID})
				if err := prepare(ctx, j.a, m.eng, j.r.scratch); err != nil {
					res.Tabs[j.tab].Err = err
					metrics.Aggregations.WithLabelValues(metrics.Error).Inc()
					l.WithError(err).Warn("aggregation failed")
					return nil
				}
				prepared[i] = true
				metrics.Aggregations.WithLabelValues(metrics.OK).Inc()
				l.Debug("aggregation prepared")
				return nil
			})
		}
		g.Wait()

		// No newer selection can start while m.mu is held, and older jobs stop writing once they see they are
		// stale, so the scratch tables of this selection are stable.
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.seq != sel.ID {
			metrics.Aggregations.WithLabelValues(metrics.Stale).Inc()
			return nil, ErrStale
		}
		for i, j := range jobs {
			if !prepared[i] {
				continue
			}
			if err := engine.RenameTable(ctx, m.eng, j.r.scratch, j.r.table); err != nil {
				res.Tabs[j.tab].Err = errors.Wrap(err, "publishing result")
				continue
			}
			res.Tabs[j.tab].Table = j.r.table
		}
		m.current = res
		return res, nil
	})

	m.mu.Lock()
	if m.seq == sel.ID {
		m.pending = ft
	}
	m.mu.Unlock()
	return ft
}

// Close drops the result tables of all registered aggregators.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	// Selections in flight must not publish into the dropped tables.
	m.seq++
	if m.pending != nil {
		m.pending.Cancel()
	}
	aggs := append([]*registered(nil), m.aggregators...)
	m.current = nil
	m.mu.Unlock()

	var firstErr error
	for _, r := range aggs {
		r.mu.Lock()
		for _, table := range []string{r.scratch, r.table} {
			if err := engine.DropTable(ctx, m.eng, table); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "dropping %s", table)
			}
		}
		r.mu.Unlock()
	}
	return firstErr
}
