package layout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/metrics"
)

// DefaultCacheSize is the number of joint layouts kept alive per trace.
const DefaultCacheSize = 256

// TablePrefix prefixes the auxiliary depth tables created by the layout engine.
const TablePrefix = "__layout_"

const insertBatch = 500

// Columns that layout requests rely on.
var (
	intervalSchema = dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "ts", Type: engine.Long},
	}
	depthSchema = dataset.Schema{
		{Name: "id", Type: engine.Long},
		{Name: "depth", Type: engine.Long},
	}
)

// Request asks for the layout of the rows of Dataset that belong to TrackIDs. When TrackIDs is empty, the dataset is
// laid out as a whole. Otherwise the dataset needs a track_id column and all listed tracks are laid out jointly.
type Request struct {
	Dataset  dataset.Dataset
	TrackIDs []int64
}

func (req Request) trackIDs() []int64 {
	ids := slices.Clone(req.TrackIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// rows returns the dataset restricted to the requested tracks.
func (req Request) rows() dataset.Dataset {
	ids := req.trackIDs()
	if len(ids) == 0 {
		return req.Dataset
	}
	return req.Dataset.Filter("track_id", dataset.In(engine.IntValues(ids...)...)).Optimize()
}

func (req Request) key() string {
	h := xxhash.New()
	h.WriteString(req.Dataset.Query())
	for _, id := range req.trackIDs() {
		h.WriteString(",")
		h.WriteString(strconv.FormatInt(id, 10))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Layout is the result of laying out a request. Layouts returned by Engine.Layout are leased: the auxiliary table
// stays alive until the layout has been evicted from the cache and every lease has been released.
type Layout struct {
	Key string
	// Table is the auxiliary depth table, empty if none was needed.
	Table    string
	MaxDepth int
	// Dataset is the requested rows with a depth column.
	Dataset dataset.Dataset

	e       *Engine
	mu      sync.Mutex
	leases  int
	evicted bool
	dropped bool
}

// acquire takes a lease on l. It fails if l's table has already been dropped.
func (l *Layout) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dropped {
		return false
	}
	l.leases++
	return true
}

// Release gives up a lease obtained from Engine.Layout. l's Dataset must not be queried afterwards.
func (l *Layout) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.leases == 0 {
		panic("Release of unleased layout")
	}
	l.leases--
	l.dropIfUnusedLocked()
}

func (l *Layout) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evicted = true
	l.dropIfUnusedLocked()
}

func (l *Layout) dropIfUnusedLocked() {
	if !l.evicted || l.leases > 0 || l.dropped {
		return
	}
	l.dropped = true
	if l.Table == "" {
		return
	}
	if err := engine.DropTable(context.Background(), l.e.eng, l.Table); err != nil {
		l.e.log.WithError(err).WithField("table", l.Table).Warn("dropping evicted layout table")
	}
}

// Engine computes and caches layouts for one trace. It is safe for concurrent use.
type Engine struct {
	eng   engine.Engine
	log   *log.Entry
	cache *lru.Cache[string, *Layout]
	group singleflight.Group
}

func NewEngine(eng engine.Engine, cacheSize int, l *log.Entry) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if l == nil {
		l = log.NewEntry(log.StandardLogger())
	}
	e := &Engine{
		eng: eng,
		log: l.WithField("component", "layout"),
	}
	cache, err := lru.NewWithEvict[string, *Layout](cacheSize, e.evicted)
	if err != nil {
		return nil, errors.Wrap(err, "creating layout cache")
	}
	e.cache = cache
	return e, nil
}

func (e *Engine) evicted(key string, l *Layout) {
	l.evict()
}

// Purge evicts every cached layout. Auxiliary tables are dropped once their layouts have been released.
func (e *Engine) Purge() {
	e.cache.Purge()
}

// Cached reports whether a layout for req is currently cached.
func (e *Engine) Cached(req Request) bool {
	return e.cache.Contains(req.key())
}

// Layout returns a lease on the layout for req, computing it if necessary. Concurrent requests for the same rows share
// a single computation. The caller must Release the layout when it is done querying its Dataset.
func (e *Engine) Layout(ctx context.Context, req Request) (*Layout, error) {
	dataset.MustHave(req.Dataset, intervalSchema.Names()...)
	if len(req.TrackIDs) > 0 {
		dataset.MustHave(req.Dataset, "track_id")
	}

	key := req.key()
	for {
		if l, ok := e.cache.Get(key); ok {
			metrics.LayoutCache.WithLabelValues(metrics.Hit).Inc()
			if l.acquire() {
				return l, nil
			}
			// Evicted and dropped in the meantime.
			continue
		}
		ch := e.group.DoChan(key, func() (any, error) {
			if l, ok := e.cache.Get(key); ok {
				return l, nil
			}
			metrics.LayoutCache.WithLabelValues(metrics.Miss).Inc()
			// Shared by every waiter, so one of them giving up mustn't fail the others.
			l, err := e.compute(context.WithoutCancel(ctx), key, req)
			if err != nil {
				return nil, err
			}
			e.cache.Add(key, l)
			return l, nil
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			if l := res.Val.(*Layout); l.acquire() {
				return l, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) compute(ctx context.Context, key string, req Request) (*Layout, error) {
	rows := req.rows()
	schema := rows.Schema()
	l := &Layout{Key: key, e: e}

	_, single := req.Dataset.(*dataset.Source)
	switch {
	case single && len(req.trackIDs()) == 1 && schema.Has("depth"):
		// A single track of a single source already knows its nesting depth.
		l.Dataset = rows
		it, err := engine.QueryIter(ctx, e.eng,
			fmt.Sprintf("SELECT COALESCE(MAX(depth) + 1, 0) AS max_depth FROM (%s)", rows.Query("depth")),
			engine.RowSpec{"max_depth": engine.Long})
		if err != nil {
			return nil, errors.Wrap(err, "querying stored depth")
		}
		if it.Next() {
			l.MaxDepth = int(it.Int64("max_depth"))
		}
		e.log.WithField("key", key).Debug("using stored depth")
		return l, nil

	case !schema.Has("dur"):
		// Instants never overlap.
		n, err := dataset.Count(ctx, e.eng, rows)
		if err != nil {
			return nil, errors.Wrap(err, "counting rows")
		}
		if n > 0 {
			l.MaxDepth = 1
		}
		l.Dataset = withZeroDepth(rows)
		return l, nil
	}

	it, err := dataset.Rows(ctx, e.eng, rows, "id", "ts", "dur")
	if err != nil {
		return nil, errors.Wrap(err, "querying intervals")
	}
	var ivs []Interval
	for it.Next() {
		ivs = append(ivs, Interval{ID: it.Int64("id"), Ts: it.Int64("ts"), Dur: it.Int64("dur")})
	}
	metrics.LayoutRows.Observe(float64(len(ivs)))
	if len(ivs) == 0 {
		l.Dataset = withZeroDepth(rows)
		return l, nil
	}

	res := Compute(ivs)
	l.MaxDepth = res.MaxDepth
	l.Table = TablePrefix + key
	if err := e.materialize(ctx, l.Table, res.Rows); err != nil {
		return nil, err
	}
	l.Dataset = withoutDepth(rows).Join(dataset.NewSource(l.Table, depthSchema), []string{"id"},
		dataset.JoinOptions{Unique: true})
	e.log.WithFields(log.Fields{
		"key":       key,
		"rows":      len(ivs),
		"max_depth": res.MaxDepth,
	}).Debug("computed joint layout")
	return l, nil
}

func (e *Engine) materialize(ctx context.Context, table string, rows []Row) error {
	if err := engine.DropTable(ctx, e.eng, table); err != nil {
		return errors.Wrapf(err, "dropping %s", table)
	}
	if err := e.eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s(id INTEGER PRIMARY KEY, depth INTEGER NOT NULL)", table)); err != nil {
		return errors.Wrapf(err, "creating %s", table)
	}
	var b strings.Builder
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		b.Reset()
		fmt.Fprintf(&b, "INSERT OR REPLACE INTO %s(id, depth) VALUES ", table)
		for i, r := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%d, %d)", r.ID, r.Depth)
		}
		if err := e.eng.Exec(ctx, b.String()); err != nil {
			return errors.Wrapf(err, "filling %s", table)
		}
	}
	return nil
}

func withoutDepth(ds dataset.Dataset) dataset.Dataset {
	if !ds.Schema().Has("depth") {
		return ds
	}
	return dataset.Project(ds, ds.Schema().Without("depth").Names()...)
}

func withZeroDepth(ds dataset.Dataset) dataset.Dataset {
	cols := ds.Schema().Without("depth")
	q := fmt.Sprintf("SELECT %s, 0 AS depth FROM (%s)", strings.Join(cols.Names(), ", "), ds.Query(cols.Names()...))
	return dataset.NewSource(q, append(cols, dataset.Column{Name: "depth", Type: engine.Long}))
}
