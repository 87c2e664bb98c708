package track

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
)

// CounterSchema is the minimum schema of a counter track's dataset.
var CounterSchema = dataset.Schema{
	{Name: "ts", Type: engine.Long},
	{Name: "value", Type: engine.Float},
}

type Sample struct {
	Ts    int64
	Value float64
}

// CounterTrack renders a step function of samples. Every sample holds its value until the next one.
type CounterTrack struct {
	eng engine.Engine
	ds  dataset.Dataset
}

var _ Renderer = (*CounterTrack)(nil)

func NewCounterTrack(eng engine.Engine, ds dataset.Dataset) (*CounterTrack, error) {
	if !ds.Implements(CounterSchema) {
		return nil, errors.Wrapf(engine.ErrSchemaMismatch, "counter track needs %s, dataset has %s", CounterSchema, ds.Schema())
	}
	return &CounterTrack{eng: eng, ds: ds}, nil
}

func (t *CounterTrack) Dataset() dataset.Dataset { return t.ds }

func (t *CounterTrack) order(desc bool) string {
	dir := ""
	if desc {
		dir = " DESC"
	}
	if t.ds.Schema().Has("id") {
		return fmt.Sprintf("ts%s, id%s", dir, dir)
	}
	return "ts" + dir
}

func (t *CounterTrack) query() string {
	if t.ds.Schema().Has("id") {
		return t.ds.Query("id", "ts", "value")
	}
	return t.ds.Query("ts", "value")
}

// Rows returns the samples in w, preceded by the last sample before w, which determines the value at w.Start.
func (t *CounterTrack) Rows(ctx context.Context, w Window) ([]Sample, error) {
	src := t.query()
	q := fmt.Sprintf(
		"SELECT ts, value FROM (%[1]s) WHERE ts < %[2]d AND ts >= (SELECT COALESCE(MAX(ts), %[3]d) FROM (%[1]s) WHERE ts <= %[3]d) ORDER BY %[4]s",
		src, w.End, w.Start, t.order(false))
	it, err := engine.QueryIter(ctx, t.eng, q, engine.RowSpec{"ts": engine.Long, "value": engine.Float})
	if err != nil {
		return nil, errors.Wrap(err, "querying samples")
	}
	var out []Sample
	for it.Next() {
		out = append(out, Sample{Ts: it.Int64("ts"), Value: it.Float64("value")})
	}
	return out, nil
}

// ValueAt returns the value of the counter at ts, which is unset before the first sample.
func (t *CounterTrack) ValueAt(ctx context.Context, ts int64) (container.Option[float64], error) {
	q := fmt.Sprintf("SELECT value FROM (%s) WHERE ts <= %d ORDER BY %s LIMIT 1", t.query(), ts, t.order(true))
	it, err := engine.QueryIter(ctx, t.eng, q, engine.RowSpec{"value": engine.FloatNull})
	if err != nil {
		return container.None[float64](), errors.Wrap(err, "querying counter value")
	}
	if !it.Next() {
		return container.None[float64](), nil
	}
	return it.OptFloat64("value"), nil
}

func (t *CounterTrack) SelectionDetails(ctx context.Context, id int64) (Details, error) {
	if !t.ds.Schema().Has("id") {
		return Details{}, errors.New("counter dataset has no id column")
	}
	it, err := dataset.Rows(ctx, t.eng, t.ds.Filter("id", dataset.Eq(engine.IntValue(id))), "ts", "value")
	if err != nil {
		return Details{}, errors.Wrapf(err, "querying sample %d", id)
	}
	if !it.Next() {
		return Details{}, errors.Errorf("no sample with id %d", id)
	}
	return Details{
		ID: id,
		Fields: map[string]string{
			"ts":    strconv.FormatInt(it.Int64("ts"), 10),
			"value": strconv.FormatFloat(it.Float64("value"), 'g', -1, 64),
		},
	}, nil
}
