package aggregation

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/dataset"
	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/track"
)

// TablePrefix prefixes the result tables of aggregators.
const TablePrefix = "__aggregation_"

// scratchPrefix prefixes the tables aggregations prepare their data in before the result is published.
const scratchPrefix = "__pending_aggregation_"

// TableName returns the result table of the aggregator with the given id. Characters that can't appear in an
// identifier are replaced with underscores.
func TableName(aggregatorID string) (string, error) {
	if aggregatorID == "" {
		return "", errors.New("empty aggregator id")
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, aggregatorID)
	return engine.Ident(TablePrefix + name)
}

// IntervalIntersect materialises the rows of ds that intersect w into table, clipping ts and dur to w. Instants are
// kept if they lie within w. ds needs ts and dur columns, all other columns are copied unchanged.
func IntervalIntersect(ctx context.Context, eng engine.Engine, table string, ds dataset.Dataset, w track.Window) (dataset.Dataset, error) {
	dataset.MustHave(ds, "ts", "dur")
	schema := ds.Schema()
	cols := make([]string, len(schema))
	for i, c := range schema {
		switch c.Name {
		case "ts":
			cols[i] = fmt.Sprintf("MAX(ts, %d) AS ts", w.Start)
		case "dur":
			cols[i] = fmt.Sprintf("MIN(ts + dur, %d) - MAX(ts, %d) AS dur", w.End, w.Start)
		default:
			cols[i] = c.Name
		}
	}
	q := fmt.Sprintf("SELECT %s FROM (%s) WHERE ts < %d AND (ts + dur > %d OR (dur <= 0 AND ts >= %d))",
		strings.Join(cols, ", "), ds.Query(), w.End, w.Start, w.Start)
	if err := engine.CreateOrReplaceTable(ctx, eng, table, q); err != nil {
		return nil, err
	}
	return dataset.NewSource(table, schema), nil
}

// EdgesSchema is the schema of WindowEdges.
var EdgesSchema = dataset.Schema{
	{Name: "track_id", Type: engine.Long},
	{Name: "first_ts", Type: engine.Long},
	{Name: "first_value", Type: engine.Float},
	{Name: "last_ts", Type: engine.Long},
	{Name: "last_value", Type: engine.Float},
	{Name: "count", Type: engine.Long},
}

// WindowEdges returns, per track, the first and the last sample of ds within w, plus the number of samples in w.
// Samples sharing a timestamp are ordered by id, so the result is deterministic. ds needs id, ts, track_id and value
// columns.
func WindowEdges(ds dataset.Dataset, w track.Window) dataset.Dataset {
	dataset.MustHave(ds, "id", "ts", "track_id", "value")
	q := fmt.Sprintf(`SELECT
  track_id,
  MAX(CASE WHEN first_rank = 1 THEN ts END) AS first_ts,
  MAX(CASE WHEN first_rank = 1 THEN value END) AS first_value,
  MAX(CASE WHEN last_rank = 1 THEN ts END) AS last_ts,
  MAX(CASE WHEN last_rank = 1 THEN value END) AS last_value,
  COUNT(*) AS count
FROM (
  SELECT
    track_id, ts, value,
    ROW_NUMBER() OVER (PARTITION BY track_id ORDER BY ts, id) AS first_rank,
    ROW_NUMBER() OVER (PARTITION BY track_id ORDER BY ts DESC, id DESC) AS last_rank
  FROM (%s)
  WHERE ts >= %d AND ts < %d
)
GROUP BY track_id`, ds.Query("id", "ts", "track_id", "value"), w.Start, w.End)
	return dataset.NewSource(q, EdgesSchema)
}
