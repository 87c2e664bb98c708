// Package dataset describes queryable row sources. Datasets are immutable and purely descriptive: building, filtering,
// joining, unioning and optimising them never talks to the engine. SQL is produced only when a consumer asks for rows
// via Query.
package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/engine"
)

// Dataset is a schema-typed, composable descriptor of a queryable row source.
type Dataset interface {
	Schema() Schema

	// Query resolves the dataset to an SQL statement producing cols, or the whole schema if cols is empty. Asking for
	// a column that isn't part of the schema panics.
	Query(cols ...string) string

	// Filter restricts the dataset to rows whose col matches cond. It panics if col isn't part of the schema.
	Filter(col string, cond Condition) Dataset

	// Join adds the columns of other, matched on the on columns, which must exist in both schemas.
	Join(other Dataset, on []string, opts JoinOptions) Dataset

	// Implements reports whether the dataset provides at least the columns of want, with compatible types.
	Implements(want Schema) bool

	// Optimize returns an equivalent, possibly cheaper dataset.
	Optimize() Dataset
}

// Condition is either an equality or a set-membership test.
type Condition struct {
	values []engine.Value
	eq     bool
}

func Eq(v engine.Value) Condition { return Condition{values: []engine.Value{v}, eq: true} }

func In(vs ...engine.Value) Condition { return Condition{values: vs} }

func (c Condition) Values() []engine.Value { return c.values }

func (c Condition) sql(col string) string {
	if c.eq {
		if c.values[0].IsNull() {
			return col + " IS NULL"
		}
		return col + " = " + c.values[0].SQL()
	}
	lits := make([]string, len(c.values))
	for i, v := range c.values {
		lits[i] = v.SQL()
	}
	return col + " IN (" + strings.Join(lits, ", ") + ")"
}

type Filter struct {
	Col  string
	Cond Condition
}

type JoinOptions struct {
	// Unique asserts that every left row matches at most one right row. Unique joins preserve the left side's row
	// multiplicity, so they are emitted as LEFT JOINs and dropped entirely when none of their columns are requested.
	// The caller is trusted to have verified uniqueness, e.g. by joining on a primary key.
	Unique bool
}

// Project returns a dataset exposing only cols of ds.
func Project(ds Dataset, cols ...string) Dataset {
	return NewSource(ds.Query(cols...), ds.Schema().Only(cols...))
}

// Validate checks that the engine actually produces every column that ds declares.
func Validate(ctx context.Context, eng engine.Engine, ds Dataset) error {
	res, err := eng.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) LIMIT 0", ds.Query()))
	if err != nil {
		return errors.Wrap(err, "validating dataset")
	}
	_, err = res.Iter(ds.Schema().RowSpec())
	return err
}

// Rows queries cols of ds (or the whole schema) and returns a typed iterator over them.
func Rows(ctx context.Context, eng engine.Engine, ds Dataset, cols ...string) (*engine.Iterator, error) {
	schema := ds.Schema()
	if len(cols) > 0 {
		schema = schema.Only(cols...)
	}
	return engine.QueryIter(ctx, eng, ds.Query(cols...), schema.RowSpec())
}

// Count returns the number of rows in ds.
func Count(ctx context.Context, eng engine.Engine, ds Dataset) (int64, error) {
	it, err := engine.QueryIter(ctx, eng, fmt.Sprintf("SELECT COUNT(*) AS cnt FROM (%s)", ds.Query()),
		engine.RowSpec{"cnt": engine.Long})
	if err != nil {
		return 0, err
	}
	if !it.Next() {
		return 0, nil
	}
	return it.Int64("cnt"), nil
}

func isIdentifier(src string) bool {
	_, err := engine.Ident(src)
	return err == nil
}

// Columns returns the column names of ds in schema order.
func Columns(ds Dataset) []string {
	return ds.Schema().Names()
}

// MustHave panics unless ds declares every one of cols.
func MustHave(ds Dataset, cols ...string) {
	ds.Schema().mustHave(cols...)
}
